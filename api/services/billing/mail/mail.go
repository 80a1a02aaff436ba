// Package mail delivers transactional messages (trial activation links).
package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/newsalert/billing-portal/api/config"
)

var (
	ErrInvalidConfig = errors.New("mail: invalid configuration")
	ErrSendFailed    = errors.New("mail: send failed")
)

// Message is one outbound email. At least one of Text or HTML is set.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
	Tag     string
}

func (m Message) validate() error {
	if strings.TrimSpace(m.To) == "" {
		return fmt.Errorf("%w: recipient is required", ErrSendFailed)
	}
	if m.Text == "" && m.HTML == "" {
		return fmt.Errorf("%w: empty body", ErrSendFailed)
	}
	return nil
}

// Sender is the Mail Delivery collaborator. Callers treat failures as non-fatal.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// New builds the driver selected by cfg.Driver.
func New(ctx context.Context, cfg config.MailConfig) (Sender, error) {
	switch cfg.Driver {
	case "", "log":
		return LogSender{}, nil
	case "postmark":
		return NewPostmark(cfg)
	case "ses":
		return NewSES(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: unknown driver %q", ErrInvalidConfig, cfg.Driver)
	}
}

// LogSender writes messages to the structured log instead of sending them.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	slog.InfoContext(ctx, "mail (log driver)", "to", msg.To, "subject", msg.Subject, "text", msg.Text)
	return nil
}
