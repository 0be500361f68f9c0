package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"github.com/wneessen/go-mail"

	"volunteersync.org/internal/obs"
)

// SMTPConfig configures the relay connection.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// TLS is one of "mandatory", "opportunistic" or "none".
	TLS     string
	Timeout time.Duration
}

// SMTP sends plain text mail through a relay. A connection is dialled per
// message.
type SMTP struct {
	client *mail.Client
	from   string
	logger *slog.Logger
}

func NewSMTP(cfg SMTPConfig, logger *slog.Logger) (*SMTP, error) {
	if cfg.Host == "" {
		return nil, oops.Code("INVALID_SMTP_CONFIG").Errorf("smtp host is required")
	}
	if cfg.From == "" {
		return nil, oops.Code("INVALID_SMTP_CONFIG").Errorf("smtp sender is required")
	}
	policy, err := tlsPolicy(cfg.TLS)
	if err != nil {
		return nil, err
	}
	opts := []mail.Option{mail.WithTLSPolicy(policy)}
	if cfg.Port > 0 {
		opts = append(opts, mail.WithPort(cfg.Port))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(cfg.Timeout))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, oops.Code("INVALID_SMTP_CONFIG").With("host", cfg.Host).Wrap(err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTP{client: client, from: cfg.From, logger: logger.With("component", "notify", "driver", "smtp")}, nil
}

func tlsPolicy(name string) (mail.TLSPolicy, error) {
	switch name {
	case "", "mandatory":
		return mail.TLSMandatory, nil
	case "opportunistic":
		return mail.TLSOpportunistic, nil
	case "none":
		return mail.NoTLS, nil
	default:
		return mail.TLSMandatory, oops.Code("INVALID_SMTP_CONFIG").Errorf("unknown tls policy %q", name)
	}
}

func (s *SMTP) Send(ctx context.Context, to, subject, body string) error {
	msg, err := s.message(to, subject, body)
	if err != nil {
		obs.DeliveryAttempt("smtp", "rejected")
		return err
	}
	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		obs.DeliveryAttempt("smtp", "failed")
		var sendErr *mail.SendError
		if errors.As(err, &sendErr) && !sendErr.IsTemp() && sendErr.ErrorCode() >= 500 {
			return oops.Code("SMTP_SEND_FAILED").With("to", to, "smtp_code", sendErr.ErrorCode()).
				Wrapf(ErrPermanent, "%v", err)
		}
		return oops.Code("SMTP_SEND_FAILED").With("to", to).Wrap(err)
	}
	obs.DeliveryAttempt("smtp", "sent")
	s.logger.DebugContext(ctx, "email sent", "to", to, "subject", subject)
	return nil
}

func (s *SMTP) message(to, subject, body string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return nil, oops.Code("SMTP_MESSAGE_INVALID").With("from", s.from).Wrapf(ErrPermanent, "%v", err)
	}
	if err := msg.To(to); err != nil {
		return nil, oops.Code("SMTP_MESSAGE_INVALID").With("to", to).Wrapf(ErrPermanent, "%v", err)
	}
	msg.Subject(subject)
	msg.SetDate()
	msg.SetMessageID()
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}
