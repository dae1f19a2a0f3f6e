package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nhle/acmail/internal/autocrypt"
	"github.com/nhle/acmail/internal/model"
)

const accountColumns = `addr, enabled, prefer_encrypt, public_key, created_at, updated_at`

// UpsertAccount inserts an account or updates the existing one with the
// same address. CreatedAt is kept on update.
func (s *SQLiteStore) UpsertAccount(ctx context.Context, a model.Account) error {
	if err := autocrypt.ValidateAddr(a.Addr); err != nil {
		return fmt.Errorf("upserting account: %w", err)
	}
	if a.PreferEncrypt == "" {
		a.PreferEncrypt = autocrypt.NoPreference
	}
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (
			addr_lower, addr, enabled, prefer_encrypt, public_key, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(addr_lower) DO UPDATE SET
			addr = excluded.addr,
			enabled = excluded.enabled,
			prefer_encrypt = excluded.prefer_encrypt,
			public_key = excluded.public_key,
			updated_at = excluded.updated_at`,
		lookupKey(a.Addr), a.Addr, boolToInt(a.Enabled), string(a.PreferEncrypt),
		a.PublicKey, now, now,
	)
	if err != nil {
		return fmt.Errorf("upserting account %s: %w", a.Addr, err)
	}
	return nil
}

// GetAccountByAddr retrieves an account by address, ignoring case.
func (s *SQLiteStore) GetAccountByAddr(ctx context.Context, addr string) (*model.Account, error) {
	row := s.db.QueryRowxContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE addr_lower = ?", lookupKey(addr))

	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", addr, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting account %s: %w", addr, err)
	}
	return &a, nil
}

// GetAccounts retrieves all accounts ordered by address.
func (s *SQLiteStore) GetAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT "+accountColumns+" FROM accounts ORDER BY addr_lower")
	if err != nil {
		return nil, fmt.Errorf("querying accounts: %w", err)
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning account row: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func scanAccount(row rowScanner) (model.Account, error) {
	var (
		a          model.Account
		enabledInt int
		pref       string
	)
	err := row.Scan(&a.Addr, &enabledInt, &pref, &a.PublicKey, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return model.Account{}, err
	}
	a.Enabled = enabledInt != 0
	a.PreferEncrypt = autocrypt.Preference(pref)
	return a, nil
}
