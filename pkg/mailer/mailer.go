package mailer

import (
	"context"
	"fmt"

	gomail "github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/campuskit/library-api/pkg/config"
)

// Message is a plain-text email to be delivered.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers messages. Implementations must be safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender delivers mail through a configured SMTP relay.
type SMTPSender struct {
	cfg    config.SMTPConfig
	logger *zap.Logger
}

// NewSMTPSender constructs an SMTPSender.
func NewSMTPSender(cfg config.SMTPConfig, logger *zap.Logger) *SMTPSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SMTPSender{cfg: cfg, logger: logger}
}

// Send composes and delivers a single message. A fresh client per send keeps
// the sender safe to call from multiple queue workers.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	m := gomail.NewMsg()
	if err := m.From(s.cfg.From); err != nil {
		return fmt.Errorf("set mail sender: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return fmt.Errorf("set mail recipient: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(gomail.TypeTextPlain, msg.Body)

	opts := []gomail.Option{
		gomail.WithPort(s.cfg.Port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(s.cfg.Username),
		gomail.WithPassword(s.cfg.Password),
	}
	if s.cfg.Username == "" {
		opts = []gomail.Option{gomail.WithPort(s.cfg.Port), gomail.WithTLSPolicy(gomail.NoTLS)}
	}

	client, err := gomail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("send mail to %s: %w", msg.To, err)
	}

	s.logger.Debug("mail delivered", zap.String("to", msg.To), zap.String("subject", msg.Subject))
	return nil
}
