package ws

import (
	"chat-relay/errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateUsername trims the display name and rejects blank or oversized ones.
func ValidateUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	if err := validate.Var(username, "required,max=32"); err != nil {
		return "", fmt.Errorf("%w: username: %w", errors.ErrInvalidPayload, err)
	}
	return username, nil
}

func validateJoin(p *JoinPayload) error {
	p.Username = strings.TrimSpace(p.Username)
	p.Room = strings.TrimSpace(p.Room)
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrInvalidPayload, err)
	}
	return nil
}

func validateMessage(p *MessagePayload, maxTextLength int) error {
	p.Sender = strings.TrimSpace(p.Sender)
	p.Room = strings.TrimSpace(p.Room)
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrInvalidPayload, err)
	}
	if err := validate.Var(p.Text, fmt.Sprintf("max=%d", maxTextLength)); err != nil {
		return fmt.Errorf("%w: text longer than %d characters", errors.ErrInvalidPayload, maxTextLength)
	}
	return nil
}

func validateLeave(p *LeavePayload) error {
	p.Username = strings.TrimSpace(p.Username)
	p.Room = strings.TrimSpace(p.Room)
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrInvalidPayload, err)
	}
	return nil
}
