package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ignite/compliance-gate/internal/domain"
	"github.com/ignite/compliance-gate/internal/service/gate"
)

// ContactRepo implements gate.ContactRepository against PostgreSQL.
type ContactRepo struct{ db *sql.DB }

// NewContactRepo creates a Postgres-backed contact repository.
func NewContactRepo(db *sql.DB) *ContactRepo { return &ContactRepo{db: db} }

func (r *ContactRepo) GetContact(ctx context.Context, id string) (*domain.Contact, error) {
	var (
		c                  domain.Contact
		email, phone, zone sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, phone, do_not_contact, timezone
		FROM contacts
		WHERE id = $1
	`, id).Scan(&c.ID, &email, &phone, &c.DoNotContact, &zone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, gate.ErrContactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	c.Email, c.Phone, c.Timezone = email.String, phone.String, zone.String
	return &c, nil
}

// ControlRepo implements gate.ControlRepository against PostgreSQL.
type ControlRepo struct{ db *sql.DB }

// NewControlRepo creates a Postgres-backed system control repository.
func NewControlRepo(db *sql.DB) *ControlRepo { return &ControlRepo{db: db} }

// GetControl reads a switch. A missing row reads as inactive.
func (r *ControlRepo) GetControl(ctx context.Context, key string) (*domain.SystemControl, error) {
	var (
		c          domain.SystemControl
		reason, by sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT key, active, reason, updated_by, updated_at
		FROM system_controls
		WHERE key = $1
	`, key).Scan(&c.Key, &c.Active, &reason, &by, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.SystemControl{Key: key}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get control %s: %w", key, err)
	}
	c.Reason, c.UpdatedBy = reason.String, by.String
	return &c, nil
}

func (r *ControlRepo) SetControl(ctx context.Context, c *domain.SystemControl) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO system_controls (key, active, reason, updated_by, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO UPDATE
		SET active = $2, reason = $3, updated_by = $4, updated_at = $5
	`, c.Key, c.Active, nullString(c.Reason), nullString(c.UpdatedBy), c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("set control %s: %w", c.Key, err)
	}
	return nil
}
