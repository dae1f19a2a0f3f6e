package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

const defaultDialTimeout = 30 * time.Second

// SMTPConfig holds the submission server settings.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	// TLS selects implicit TLS; otherwise STARTTLS is required.
	TLS         bool
	DialTimeout time.Duration
}

// SMTP delivers messages over authenticated SMTP submission.
type SMTP struct {
	cfg    SMTPConfig
	logger log.Logger
}

var _ Deliverer = (*SMTP)(nil)

// NewSMTP returns an SMTP deliverer for cfg.
func NewSMTP(cfg SMTPConfig, logger log.Logger) *SMTP {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &SMTP{cfg: cfg, logger: logger}
}

func (s *SMTP) addr() string {
	return net.JoinHostPort(s.cfg.Host, s.cfg.Port)
}

// Deliver connects, authenticates and submits msg to every address in to.
func (s *SMTP) Deliver(ctx context.Context, from string, to []string, msg []byte) error {
	addr := s.addr()
	if len(to) == 0 {
		return &DeliveryError{Stage: "envelope", Addr: addr, Err: errors.New("no recipients")}
	}

	client, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := sendViaClient(client, from, to, msg); err != nil {
		var de *DeliveryError
		if errors.As(err, &de) {
			de.Addr = addr
		}
		return err
	}

	level.Info(s.logger).Log("msg", "message delivered", "server", addr, "recipients", len(to))
	return nil
}

// connect dials the server and returns an authenticated client. With
// TLS the connection is encrypted from the start; otherwise STARTTLS is
// issued before authenticating.
func (s *SMTP) connect(ctx context.Context) (*smtp.Client, error) {
	addr := s.addr()
	dialer := &net.Dialer{Timeout: s.cfg.DialTimeout}
	tlsConfig := &tls.Config{ServerName: s.cfg.Host}

	var conn net.Conn
	var err error
	if s.cfg.TLS {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, &DeliveryError{Stage: "dial", Addr: addr, Err: err}
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return nil, &DeliveryError{Stage: "greeting", Addr: addr, Err: err}
	}

	if !s.cfg.TLS {
		if err := client.StartTLS(tlsConfig); err != nil {
			client.Close()
			return nil, &DeliveryError{Stage: "STARTTLS", Addr: addr, Err: err}
		}
	}

	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			client.Close()
			return nil, &DeliveryError{Stage: "AUTH", Addr: addr, Err: &AuthError{
				Service:  "smtp",
				Username: s.cfg.Username,
				Message:  err.Error(),
			}}
		}
	}

	return client, nil
}

// smtpClient is the part of *smtp.Client used to submit a message.
type smtpClient interface {
	Mail(from string) error
	Rcpt(to string) error
	Data() (io.WriteCloser, error)
	Quit() error
}

// sendViaClient submits msg using an already-authenticated client.
func sendViaClient(client smtpClient, from string, to []string, msg []byte) error {
	if err := client.Mail(from); err != nil {
		return &DeliveryError{Stage: "MAIL FROM", Err: err}
	}

	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return &DeliveryError{Stage: "RCPT TO", Err: fmt.Errorf("%s: %w", rcpt, err)}
		}
	}

	writer, err := client.Data()
	if err != nil {
		return &DeliveryError{Stage: "DATA", Err: err}
	}
	if _, err := writer.Write(msg); err != nil {
		return &DeliveryError{Stage: "DATA", Err: fmt.Errorf("writing message: %w", err)}
	}
	if err := writer.Close(); err != nil {
		return &DeliveryError{Stage: "DATA", Err: fmt.Errorf("closing message: %w", err)}
	}

	if err := client.Quit(); err != nil {
		return &DeliveryError{Stage: "QUIT", Err: err}
	}
	return nil
}
