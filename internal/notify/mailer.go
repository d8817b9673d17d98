// internal/notify/mailer.go
package notify

import (
	"context"
	"errors"
	"time"

	mail "github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/signalnine/haruspex/internal/config"
)

// ErrNotConfigured means SMTP settings are incomplete. Delivery degrades to
// a logged failure; the process keeps running.
var ErrNotConfigured = errors.New("smtp not configured")

// Mailer delivers digest emails over SMTP. Port 465 uses implicit SSL,
// anything else requires STARTTLS.
type Mailer struct {
	cfg        config.SMTPConfig
	configured bool
	logger     *zap.Logger
}

// NewMailer creates a mailer from the SMTP config.
func NewMailer(cfg config.SMTPConfig, configured bool, logger *zap.Logger) *Mailer {
	return &Mailer{cfg: cfg, configured: configured, logger: logger}
}

// Send delivers one email. Deliver-or-fail: no retry here.
func (m *Mailer) Send(ctx context.Context, subject, body string) error {
	if !m.configured {
		return ErrNotConfigured
	}

	msg := mail.NewMsg()
	if err := msg.From(m.cfg.Sender); err != nil {
		return err
	}
	if err := msg.To(m.cfg.Recipient); err != nil {
		return err
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(m.cfg.Username),
		mail.WithPassword(m.cfg.Password),
		mail.WithTimeout(15 * time.Second),
	}
	if m.cfg.Port == 465 {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}

	client, err := mail.NewClient(m.cfg.Server, opts...)
	if err != nil {
		return err
	}

	m.logger.Info("sending notification email",
		zap.String("recipient", m.cfg.Recipient),
		zap.String("server", m.cfg.Server),
		zap.Int("port", m.cfg.Port))

	return client.DialAndSendWithContext(ctx, msg)
}
