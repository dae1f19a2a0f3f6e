package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/acmail/internal/model"
)

const emailColumns = `id, date, subject, body, sender_addr, recipients, message_id,
	encrypted, status, delivery_error, sent_at, updated_at`

// CreateEmail inserts an outgoing email. A UUID is generated when ID is
// empty and the status defaults to pending.
func (s *SQLiteStore) CreateEmail(ctx context.Context, e model.Email) (*model.Email, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Status == "" {
		e.Status = model.EmailStatusPending
	}
	if e.Date.IsZero() {
		e.Date = time.Now()
	}
	e.UpdatedAt = time.Now().UTC()

	recipients, err := json.Marshal(e.Recipients)
	if err != nil {
		return nil, fmt.Errorf("marshaling recipients for email %s: %w", e.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO emails (`+emailColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Date.UTC(), e.Subject, e.Body, e.SenderAddr, string(recipients),
		e.MessageID, e.Encrypted, e.Status, e.DeliveryError, e.SentAt, e.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("creating email %s: %w", e.ID, err)
	}
	return &e, nil
}

// UpdateEmailStatus records a delivery outcome. SentAt is set when the
// status becomes sent.
func (s *SQLiteStore) UpdateEmailStatus(ctx context.Context, id, status, deliveryErr string) error {
	switch status {
	case model.EmailStatusPending, model.EmailStatusSent, model.EmailStatusFailed:
	default:
		return fmt.Errorf("invalid email status %q", status)
	}

	now := time.Now().UTC()
	var sentAt *time.Time
	if status == model.EmailStatusSent {
		sentAt = &now
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE emails SET
			status = ?, delivery_error = ?, sent_at = COALESCE(?, sent_at), updated_at = ?
		WHERE id = ?`,
		status, deliveryErr, sentAt, now, id,
	)
	if err != nil {
		return fmt.Errorf("updating email %s: %w", id, err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("email %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetEmailByID retrieves a single email by ID.
func (s *SQLiteStore) GetEmailByID(ctx context.Context, id string) (*model.Email, error) {
	row := s.db.QueryRowxContext(ctx,
		"SELECT "+emailColumns+" FROM emails WHERE id = ?", id)

	e, err := scanEmail(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("email %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting email %s: %w", id, err)
	}
	return &e, nil
}

// GetEmails retrieves emails matching the filter, newest first.
func (s *SQLiteStore) GetEmails(ctx context.Context, filter EmailFilter) ([]model.Email, error) {
	var conditions []string
	var args []interface{}

	if filter.SenderAddr != nil {
		conditions = append(conditions, "LOWER(sender_addr) = ?")
		args = append(args, lookupKey(*filter.SenderAddr))
	}
	if filter.Status != nil {
		conditions = append(conditions, "status = ?")
		args = append(args, *filter.Status)
	}

	query := "SELECT " + emailColumns + " FROM emails"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY date DESC, id"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying emails: %w", err)
	}
	defer rows.Close()

	var emails []model.Email
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning email row: %w", err)
		}
		emails = append(emails, e)
	}
	return emails, rows.Err()
}

func scanEmail(row rowScanner) (model.Email, error) {
	var (
		e          model.Email
		recipients string
	)
	err := row.Scan(
		&e.ID, &e.Date, &e.Subject, &e.Body, &e.SenderAddr, &recipients,
		&e.MessageID, &e.Encrypted, &e.Status, &e.DeliveryError, &e.SentAt, &e.UpdatedAt,
	)
	if err != nil {
		return model.Email{}, err
	}
	if recipients != "" {
		if err := json.Unmarshal([]byte(recipients), &e.Recipients); err != nil {
			return model.Email{}, fmt.Errorf("unmarshaling recipients: %w", err)
		}
	}
	return e, nil
}
