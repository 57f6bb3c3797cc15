// Package sender delivers composed messages over SMTP.
package sender

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"time"

	"github.com/nhle/email-mcp/internal/metrics"
)

// DefaultTimeout bounds a whole SMTP exchange when the caller sets none.
const DefaultTimeout = 30 * time.Second

// Config holds the SMTP server settings.
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	// TLS selects implicit TLS; otherwise STARTTLS is used.
	TLS     bool
	Timeout time.Duration
}

// Envelope is the SMTP envelope of one message. It is independent of the
// message headers, so Bcc recipients appear only here.
type Envelope struct {
	From string
	To   []string
}

// Sender sends raw RFC 5322 messages.
type Sender interface {
	Send(ctx context.Context, env Envelope, raw []byte) error
}

// SMTP sends through one SMTP server, opening a connection per message.
type SMTP struct {
	cfg Config
	log *slog.Logger
}

// New creates an SMTP sender.
func New(cfg Config, log *slog.Logger) *SMTP {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &SMTP{cfg: cfg, log: log.With(slog.String("component", "smtp"))}
}

// Send delivers raw to every recipient in env.
func (s *SMTP) Send(
	ctx context.Context, env Envelope, raw []byte,
) error {
	if env.From == "" {
		return errors.New("sender address is required")
	}
	if len(env.To) == 0 {
		return errors.New("at least one recipient is required")
	}

	err := s.send(ctx, env, raw)
	outcome := "sent"
	if err != nil {
		outcome = "failed"
		s.log.Error("sending message failed",
			slog.Int("recipients", len(env.To)),
			slog.Any("error", err),
		)
	} else {
		s.log.Info("message sent", slog.Int("recipients", len(env.To)))
	}
	metrics.MessagesSentTotal.WithLabelValues(outcome).Inc()
	return err
}

func (s *SMTP) send(
	ctx context.Context, env Envelope, raw []byte,
) error {
	addr := net.JoinHostPort(s.cfg.Host, s.cfg.Port)
	tlsConfig := &tls.Config{ServerName: s.cfg.Host}

	conn, err := s.dial(ctx, addr, tlsConfig)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(s.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		_ = conn.Close()
		return fmt.Errorf("setting SMTP deadline: %w", err)
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer client.Close()

	if !s.cfg.TLS {
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("SMTP STARTTLS: %w", err)
		}
	}

	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP auth: %w", err)
		}
	}

	return sendMailViaSMTPClient(client, env, raw)
}

func (s *SMTP) dial(
	ctx context.Context, addr string, tlsConfig *tls.Config,
) (net.Conn, error) {
	nd := &net.Dialer{Timeout: s.cfg.Timeout}
	if s.cfg.TLS {
		td := &tls.Dialer{NetDialer: nd, Config: tlsConfig}
		conn, err := td.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("TLS dial to %s: %w", addr, err)
		}
		return conn, nil
	}
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial to %s: %w", addr, err)
	}
	return conn, nil
}

// sendMailViaSMTPClient sends a message using an already-authenticated
// SMTP client.
func sendMailViaSMTPClient(
	client *smtp.Client, env Envelope, raw []byte,
) error {
	if err := client.Mail(env.From); err != nil {
		return fmt.Errorf("SMTP MAIL FROM: %w", err)
	}

	for _, rcpt := range env.To {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("SMTP RCPT TO %s: %w", rcpt, err)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA: %w", err)
	}

	if _, err := writer.Write(raw); err != nil {
		return fmt.Errorf("writing email body: %w", err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing email body: %w", err)
	}

	return client.Quit()
}
