package notification

import (
	"context"
	"fmt"

	"github.com/go-gomail/gomail"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// SMTPConfig holds the relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// mailSender is satisfied by *gomail.Dialer.
type mailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPNotifier delivers mail through an SMTP relay behind a circuit breaker.
// While the breaker is open Send returns gobreaker.ErrOpenState without dialing.
type SMTPNotifier struct {
	from    string
	sender  mailSender
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

func NewSMTPNotifier(cfg SMTPConfig, logger zerolog.Logger) *SMTPNotifier {
	return newSMTPNotifier(cfg.From, gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password), logger)
}

func newSMTPNotifier(from string, sender mailSender, logger zerolog.Logger) *SMTPNotifier {
	n := &SMTPNotifier{
		from:   from,
		sender: sender,
		logger: logger.With().Str("component", "smtp_notifier").Logger(),
	}
	n.breaker = newBreaker("smtp")
	return n
}

func (n *SMTPNotifier) Send(ctx context.Context, to, subject, htmlBody string) error {
	if to == "" {
		return ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", htmlBody)

	_, err := n.breaker.Execute(func() (interface{}, error) {
		return nil, n.sender.DialAndSend(m)
	})
	if err != nil {
		n.logger.Debug().Err(err).Str("breaker_state", n.breaker.State().String()).Msg("smtp send failed")
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}
