package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/kelseyhightower/envconfig"
)

// Exit codes for the client application.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

// Config defines the client-side environment variables.
type Config struct {
	ServerURL string `envconfig:"CHAT_SERVER_URL" default:"ws://localhost:5000/ws"`
	Username  string `envconfig:"CHAT_USERNAME" required:"true"`
	Room      string `envconfig:"CHAT_ROOM" default:"lobby"`
	Colours   bool   `envconfig:"CHAT_COLOURS" default:"true"`
}

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client error: %v\n", err)
	}
	os.Exit(code)
}

// run dials the relay, joins the configured room, then sends every stdin line
// until Ctrl+C, /quit or the server closes the connection.
func run() (int, error) {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	target, err := dialURL(config.ServerURL, config.Username)
	if err != nil {
		return exitConfig, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return exitRuntime, fmt.Errorf("could not connect to server at %s: %w", config.ServerURL, err)
	}
	defer func() { _ = conn.Close() }()

	printer := newPrinter(config.Colours)
	current := &session{username: config.Username}

	if err = send(conn, current.join(config.Room)); err != nil {
		return exitRuntime, err
	}
	printer.info(fmt.Sprintf(">>> Connected to %s as %s! Type /help for commands", config.ServerURL, config.Username))

	received := make(chan error, 1)
	go func() { received <- receive(conn, printer) }()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			closeGracefully(conn)
			return exitOK, nil
		case err := <-received:
			if err != nil {
				return exitRuntime, err
			}
			return exitOK, nil
		case line, ok := <-lines:
			if !ok {
				closeGracefully(conn)
				return exitOK, nil
			}
			frames, quit, err := current.handle(line)
			if err != nil {
				printer.warn(err.Error())
				continue
			}
			if quit {
				closeGracefully(conn)
				return exitOK, nil
			}
			if len(frames) == 0 {
				printer.info(helpText)
				continue
			}
			for _, f := range frames {
				if err := send(conn, f); err != nil {
					return exitRuntime, err
				}
			}
		}
	}
}

func dialURL(serverURL, username string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid CHAT_SERVER_URL %q: %w", serverURL, err)
	}
	q := u.Query()
	q.Set("username", username)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func send(conn *websocket.Conn, f frame) error {
	if err := conn.WriteJSON(f); err != nil {
		return fmt.Errorf("send %s: %w", f.Type, err)
	}
	return nil
}

func receive(conn *websocket.Conn, printer printer) error {
	for {
		var in frame
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				printer.info("Connection closed by server")
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		printer.frame(in)
	}
}

func closeGracefully(conn *websocket.Conn) {
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
}

type printer struct {
	colours bool
}

func newPrinter(colours bool) printer {
	return printer{colours: colours}
}

func (p printer) frame(f frame) {
	line, style := render(f)
	p.print(line, style)
}

func (p printer) info(line string) { p.print(line, color.New(color.FgCyan)) }
func (p printer) warn(line string) { p.print(line, color.New(color.FgYellow)) }

func (p printer) print(line string, style color.Style) {
	if p.colours {
		line = style.Render(line)
	}
	fmt.Println(line)
}

// render turns a server frame into one printable line.
func render(f frame) (string, color.Style) {
	switch f.Type {
	case "new_message":
		var m newMessage
		if json.Unmarshal(f.Data, &m) == nil {
			return fmt.Sprintf("[%s] %s: %s", m.Time, m.Sender, m.Text), color.New(color.FgWhite)
		}
	case "history":
		var h history
		if json.Unmarshal(f.Data, &h) == nil {
			line := fmt.Sprintf("--- %d message(s) in '%s' ---", len(h.Messages), h.Room)
			for _, m := range h.Messages {
				line += fmt.Sprintf("\n[%s] %s: %s", m.Time, m.Sender, m.Text)
			}
			return line, color.New(color.FgGray)
		}
	case "status":
		var s struct {
			Msg string `json:"msg"`
		}
		if json.Unmarshal(f.Data, &s) == nil {
			return "* " + s.Msg, color.New(color.FgGreen)
		}
	case "error":
		var e struct {
			Code string `json:"code"`
			Msg  string `json:"msg"`
		}
		if json.Unmarshal(f.Data, &e) == nil {
			return fmt.Sprintf("! %s (%s)", e.Msg, e.Code), color.New(color.FgRed)
		}
	}
	return fmt.Sprintf("? %s %s", f.Type, string(f.Data)), color.New(color.FgMagenta)
}
