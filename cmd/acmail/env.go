package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nhle/acmail/internal/credential"
	"github.com/nhle/acmail/internal/crypto"
	"github.com/nhle/acmail/internal/inbound"
	"github.com/nhle/acmail/internal/logging"
	"github.com/nhle/acmail/internal/mailer"
	"github.com/nhle/acmail/internal/peerstate"
	"github.com/nhle/acmail/internal/pgpmime"
	"github.com/nhle/acmail/internal/store"
	"github.com/nhle/acmail/internal/transport"
)

// env holds the opened collaborators for one command run.
type env struct {
	store *store.SQLiteStore
	keys  *credential.Keyring
}

func openEnv() (*env, error) {
	if dir := filepath.Dir(cfg.Database.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	keys, err := credential.Open(credential.Config{
		Service: cfg.Keyring.Service,
		FileDir: cfg.Keyring.FileDir,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	return &env{store: s, keys: keys}, nil
}

func (e *env) Close() error {
	return e.store.Close()
}

func (e *env) backend() *crypto.OpenPGP {
	return crypto.NewOpenPGP(e.keys, e.store, nil, logging.Component(logger, "crypto"))
}

func (e *env) manager() *peerstate.Manager {
	return peerstate.NewManager(e.store, logging.Component(logger, "peerstate"))
}

func (e *env) receiver() *inbound.Receiver {
	return inbound.NewReceiver(e.manager(), e.backend(), logging.Component(logger, "inbound"))
}

func (e *env) smtp() (*transport.SMTP, error) {
	if cfg.SMTP.Host == "" {
		return nil, errors.New("smtp.host is not configured")
	}
	password, err := e.password("smtp", cfg.SMTP.Username)
	if err != nil {
		return nil, err
	}
	return transport.NewSMTP(transport.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: password,
		TLS:      cfg.SMTP.TLS,
	}, logging.Component(logger, "smtp")), nil
}

func (e *env) imap() (*inbound.IMAPClient, error) {
	if cfg.IMAP.Host == "" {
		return nil, errors.New("imap.host is not configured")
	}
	password, err := e.password("imap", cfg.IMAP.Username)
	if err != nil {
		return nil, err
	}
	return inbound.NewIMAPClient(inbound.IMAPConfig{
		Host:     cfg.IMAP.Host,
		Port:     cfg.IMAP.Port,
		Username: cfg.IMAP.Username,
		Password: password,
		TLS:      cfg.IMAP.TLS,
	}), nil
}

func (e *env) password(service, username string) (string, error) {
	if username == "" {
		return "", nil
	}
	p, err := e.keys.GetPassword(service, username)
	if credential.IsNotFound(err) {
		return "", fmt.Errorf("no %s password stored for %s; run 'acmail account password %s'", service, username, service)
	}
	return p, err
}

// mailer builds the send pipeline. Delivery is only wired when deliver
// is set, so encrypt-only commands work without SMTP settings.
func (e *env) mailer(deliver bool) (*mailer.Service, error) {
	var d transport.Deliverer = transport.DelivererFunc(
		func(context.Context, string, []string, []byte) error {
			return errors.New("delivery is not configured")
		})
	if deliver {
		s, err := e.smtp()
		if err != nil {
			return nil, err
		}
		d = s
	}

	builder := pgpmime.NewBuilder(pgpmime.Config{
		UseLocalTime: cfg.Mail.UseLocalTime,
		Hostname:     cfg.Mail.Hostname,
	})
	return mailer.NewService(e.store, e.backend(), builder, d,
		mailer.Config{RetainPlaintext: cfg.Mail.RetainPlaintext},
		logging.Component(logger, "mailer")), nil
}
