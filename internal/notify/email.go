package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pingtower/pingtower/internal/config"
	"github.com/wneessen/go-mail"
)

// EmailSender delivers multipart status mail over SMTP.
type EmailSender struct {
	cfg    config.EmailConfig
	logger *slog.Logger
}

// NewEmailSender builds a sender. The SMTP connection is dialed per send;
// notification volume is far below the level where pooling would matter.
func NewEmailSender(cfg config.EmailConfig, logger *slog.Logger) *EmailSender {
	return &EmailSender{cfg: cfg, logger: logger}
}

// Send delivers one message to the recipient list. A missing host or empty
// recipient list is a silent no-op so deployments without SMTP just skip
// email fan-out.
func (s *EmailSender) Send(ctx context.Context, recipients []string, subject, plainBody, htmlBody string) error {
	if s.cfg.Host == "" || len(recipients) == 0 {
		return nil
	}

	msg := mail.NewMsg()
	if err := msg.From(s.cfg.FromAddr); err != nil {
		return fmt.Errorf("setting from address: %w", err)
	}
	if err := msg.To(recipients...); err != nil {
		return fmt.Errorf("setting recipients: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, plainBody)
	if htmlBody != "" {
		msg.AddAlternativeString(mail.TypeTextHTML, htmlBody)
	}

	opts := []mail.Option{mail.WithPort(s.cfg.Port)}
	switch {
	case s.cfg.SSL:
		opts = append(opts, mail.WithSSL())
	case s.cfg.TLS:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	if s.cfg.User != "" && s.cfg.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.User),
			mail.WithPassword(s.cfg.Password),
		)
	}
	if s.cfg.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(s.cfg.Timeout))
	}

	client, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("building smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("sending mail: %w", err)
	}
	s.logger.Info("email sent", "recipients", len(recipients), "subject", subject)
	return nil
}
