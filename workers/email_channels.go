// workers/email_channels.go
package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"league-registration-system/config"

	"github.com/google/uuid"
	"github.com/wneessen/go-mail"
)

const (
	ChannelSMTPPrimary  = "smtp_primary"
	ChannelSMTPFallback = "smtp_fallback"
	ChannelNoop         = "noop"
)

// SMTPChannel sends mail through one relay.
type SMTPChannel struct {
	name   string
	from   string
	client *mail.Client
}

// NewSMTPChannel builds a client for cfg. Port 465 uses implicit TLS, other
// ports use STARTTLS when the server offers it.
func NewSMTPChannel(name string, cfg config.SMTP) (*SMTPChannel, error) {
	if !cfg.Configured() {
		return nil, fmt.Errorf("%s: smtp relay is not configured", name)
	}
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
		mail.WithTimeout(cfg.Timeout),
	}
	if cfg.Port == 465 {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create smtp client: %w", name, err)
	}
	return &SMTPChannel{name: name, from: cfg.From, client: client}, nil
}

func (c *SMTPChannel) Name() string { return c.name }

func (c *SMTPChannel) Deliver(ctx context.Context, msg Message) (string, error) {
	if len(msg.To) == 0 {
		return "", errors.New("message has no recipients")
	}

	m := mail.NewMsg()
	if err := m.From(c.from); err != nil {
		return "", fmt.Errorf("invalid from address: %w", err)
	}
	if err := m.To(msg.To...); err != nil {
		return "", fmt.Errorf("invalid recipient: %w", err)
	}
	if len(msg.Bcc) > 0 {
		if err := m.Bcc(msg.Bcc...); err != nil {
			return "", fmt.Errorf("invalid bcc recipient: %w", err)
		}
	}
	m.Subject(msg.Subject)
	m.SetMessageID()
	m.SetBodyString(mail.TypeTextHTML, msg.HTML)
	if msg.Text != "" {
		m.AddAlternativeString(mail.TypeTextPlain, msg.Text)
	}

	if err := c.client.DialAndSendWithContext(ctx, m); err != nil {
		return "", err
	}

	var messageID string
	if ids := m.GetGenHeader(mail.HeaderMessageID); len(ids) > 0 {
		messageID = ids[0]
	}
	return messageID, nil
}

// NoopChannel records a delivery without sending anything. It sits at the end
// of the chain so a broken relay does not cause endless retries.
type NoopChannel struct {
	logger *slog.Logger
}

func NewNoopChannel(logger *slog.Logger) *NoopChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoopChannel{logger: logger}
}

func (c *NoopChannel) Name() string { return ChannelNoop }

func (c *NoopChannel) Deliver(_ context.Context, msg Message) (string, error) {
	id := "noop-" + uuid.NewString()
	c.logger.Warn("notification sunk by no-op channel",
		"registration_id", msg.RegistrationID,
		"to", strings.Join(msg.To, ","),
		"subject", msg.Subject,
		"message_id", id)
	return id, nil
}

// EmailChain builds the channel chain for email jobs: primary relay, then the
// fallback relay, then the no-op sink. Unconfigured relays are skipped.
func EmailChain(primary, fallback config.SMTP, noopSink bool, logger *slog.Logger) ([]Channel, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var chain []Channel
	for _, relay := range []struct {
		name string
		cfg  config.SMTP
	}{
		{ChannelSMTPPrimary, primary},
		{ChannelSMTPFallback, fallback},
	} {
		if !relay.cfg.Configured() {
			logger.Warn("smtp relay not configured, skipping", "channel", relay.name)
			continue
		}
		ch, err := NewSMTPChannel(relay.name, relay.cfg)
		if err != nil {
			return nil, err
		}
		chain = append(chain, ch)
	}
	if noopSink {
		chain = append(chain, NewNoopChannel(logger))
	}
	if len(chain) == 0 {
		return nil, errors.New("no email channel available: configure EMAIL_HOST or enable NOTIFY_NOOP_SINK")
	}
	return chain, nil
}
