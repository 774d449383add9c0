package ws

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// originPolicy decides which browser origins may open a websocket.
// Without configured origins only same-host requests are accepted.
// Requests without an Origin header come from non-browser clients and are accepted.
type originPolicy struct {
	log      *slog.Logger
	allowed  map[string]struct{}
	allowAll bool
}

func newOriginPolicy(log *slog.Logger, origins []string) *originPolicy {
	p := &originPolicy{log: log, allowed: make(map[string]struct{})}
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			p.allowAll = true
			continue
		}
		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			log.Warn("Ignoring invalid origin in configuration", "origin", origin)
			continue
		}
		p.allowed[normalized] = struct{}{}
	}
	return p
}

func (p *originPolicy) check(r *http.Request) bool {
	header := r.Header.Get("Origin")
	if header == "" || p.allowAll {
		return true
	}
	origin, ok := normalizeOrigin(header)
	if !ok {
		p.log.Info("Blocked websocket connection with malformed origin", "origin", header)
		return false
	}
	if len(p.allowed) == 0 {
		u, _ := url.Parse(origin)
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
	} else if _, ok := p.allowed[origin]; ok {
		return true
	}
	p.log.Info("Blocked websocket connection from disallowed origin", "origin", header)
	return false
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}
