package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/compliance-gate/internal/domain"
)

// ConsentRepo implements consent.Repository against PostgreSQL.
type ConsentRepo struct{ db *sql.DB }

// NewConsentRepo creates a Postgres-backed consent repository.
func NewConsentRepo(db *sql.DB) *ConsentRepo { return &ConsentRepo{db: db} }

func (r *ConsentRepo) IsSuppressed(ctx context.Context, contactID string, channel domain.Channel) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM suppression_records
			WHERE contact_id = $1
			  AND (channel = $2 OR channel = 'all')
			  AND reactivated_at IS NULL
		)
	`, contactID, string(channel)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check suppression: %w", err)
	}
	return exists, nil
}

func (r *ConsentRepo) HasValidConsent(ctx context.Context, contactID string, channel domain.Channel, consentType string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM consent_records
			WHERE contact_id = $1
			  AND channel = $2
			  AND ($3 = '' OR consent_type = $3)
			  AND revoked_at IS NULL
		)
	`, contactID, string(channel), consentType).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check consent: %w", err)
	}
	return exists, nil
}

func (r *ConsentRepo) InsertConsent(ctx context.Context, rec *domain.ConsentRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO consent_records (id, contact_id, channel, consent_type, source, granted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.ID, rec.ContactID, string(rec.Channel), rec.ConsentType, nullString(rec.Source), rec.GrantedAt)
	if err != nil {
		return fmt.Errorf("insert consent: %w", err)
	}
	return nil
}

func (r *ConsentRepo) RevokeConsent(ctx context.Context, contactID string, channel domain.Channel, consentType string, at time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE consent_records SET revoked_at = $4
		WHERE contact_id = $1
		  AND channel = $2
		  AND ($3 = '' OR consent_type = $3)
		  AND revoked_at IS NULL
	`, contactID, string(channel), consentType, at)
	if err != nil {
		return 0, fmt.Errorf("revoke consent: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Suppress is a no-op when an active suppression already covers the scope.
func (r *ConsentRepo) Suppress(ctx context.Context, rec *domain.SuppressionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO suppression_records (id, contact_id, channel, reason, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (contact_id, channel) WHERE reactivated_at IS NULL DO NOTHING
	`, rec.ID, rec.ContactID, string(rec.Channel), string(rec.Reason), nullString(rec.Source), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("suppress: %w", err)
	}
	return nil
}

func (r *ConsentRepo) Reactivate(ctx context.Context, contactID string, channel domain.Channel, at time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE suppression_records SET reactivated_at = $3
		WHERE contact_id = $1 AND channel = $2 AND reactivated_at IS NULL
	`, contactID, string(channel), at)
	if err != nil {
		return 0, fmt.Errorf("reactivate: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *ConsentRepo) ListConsent(ctx context.Context, contactID string) ([]domain.ConsentRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, contact_id, channel, consent_type, source, granted_at, revoked_at
		FROM consent_records
		WHERE contact_id = $1
		ORDER BY granted_at DESC
	`, contactID)
	if err != nil {
		return nil, fmt.Errorf("list consent: %w", err)
	}
	defer rows.Close()

	var out []domain.ConsentRecord
	for rows.Next() {
		var (
			c       domain.ConsentRecord
			source  sql.NullString
			revoked sql.NullTime
		)
		if err := rows.Scan(&c.ID, &c.ContactID, &c.Channel, &c.ConsentType, &source, &c.GrantedAt, &revoked); err != nil {
			return nil, fmt.Errorf("scan consent: %w", err)
		}
		c.Source, c.RevokedAt = source.String, timePtr(revoked)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *ConsentRepo) ListSuppressions(ctx context.Context, contactID string) ([]domain.SuppressionRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, contact_id, channel, reason, source, created_at, reactivated_at
		FROM suppression_records
		WHERE contact_id = $1
		ORDER BY created_at DESC
	`, contactID)
	if err != nil {
		return nil, fmt.Errorf("list suppressions: %w", err)
	}
	defer rows.Close()

	var out []domain.SuppressionRecord
	for rows.Next() {
		var (
			s           domain.SuppressionRecord
			source      sql.NullString
			reactivated sql.NullTime
		)
		if err := rows.Scan(&s.ID, &s.ContactID, &s.Channel, &s.Reason, &source, &s.CreatedAt, &reactivated); err != nil {
			return nil, fmt.Errorf("scan suppression: %w", err)
		}
		s.Source, s.ReactivatedAt = source.String, timePtr(reactivated)
		out = append(out, s)
	}
	return out, rows.Err()
}
