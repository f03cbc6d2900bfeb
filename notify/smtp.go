package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	mail "github.com/go-mail/mail"
	"go.uber.org/zap"
)

// SMTPConfig configures SMTPSender.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	From     string `yaml:"from"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// TLSMode is "auto" (STARTTLS when offered), "ssl" or "none".
	TLSMode            string        `yaml:"tls_mode"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	Timeout            time.Duration `yaml:"timeout"`
	Product            string        `yaml:"product"`
}

// SMTPSender sends codes by email through go-mail.
type SMTPSender struct {
	cfg SMTPConfig
	log *zap.Logger
}

// NewSMTPSender returns a sender for cfg.
func NewSMTPSender(cfg SMTPConfig, log *zap.Logger) *SMTPSender {
	if cfg.TLSMode == "" {
		cfg.TLSMode = "auto"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SMTPSender{cfg: cfg, log: log.Named("smtp")}
}

func (s *SMTPSender) message(to string, msg Message) *mail.Message {
	m := mail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Text)
	if msg.HTML != "" {
		m.AddAlternative("text/html", msg.HTML)
	}
	return m
}

func (s *SMTPSender) dialer() *mail.Dialer {
	d := mail.NewDialer(s.cfg.Host, s.cfg.Port, s.cfg.Username, s.cfg.Password)
	d.Timeout = s.cfg.Timeout
	d.TLSConfig = &tls.Config{
		ServerName:         s.cfg.Host,
		InsecureSkipVerify: s.cfg.InsecureSkipVerify,
	}
	switch s.cfg.TLSMode {
	case "ssl":
		d.SSL = true
	case "none":
		d.StartTLSPolicy = mail.NoStartTLS
	}
	return d
}

func (s *SMTPSender) Send(ctx context.Context, address string, code Code) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := s.message(address, Render(s.cfg.Product, code))

	if err := s.dialer().DialAndSend(m); err != nil {
		s.log.Warn("smtp send failed",
			zap.String("purpose", string(code.Purpose)),
			zap.String("host", s.cfg.Host),
			zap.Error(err),
		)
		return fmt.Errorf("smtp send: %w", err)
	}
	s.log.Debug("code delivered", zap.String("purpose", string(code.Purpose)))
	return nil
}
