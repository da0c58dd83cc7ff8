package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/overturn/internal/application/port"
	"github.com/garyjia/overturn/internal/domain/claim"
	"github.com/garyjia/overturn/internal/domain/workflow"
)

const claimColumns = `
	id, status, patient_name, insurer, denial_date,
	extracted_data, appeal_letter, pdf_url, created_at, updated_at`

// ClaimRepository implements port.ClaimStore on sqlite. Status writes record
// a status_changes row in the same transaction.
type ClaimRepository struct {
	db      *DB
	history *HistoryRepository
	logger  *zap.Logger
	now     func() time.Time
}

// NewClaimRepository creates a new claim repository
func NewClaimRepository(db *DB, history *HistoryRepository, logger *zap.Logger) *ClaimRepository {
	return &ClaimRepository{
		db:      db,
		history: history,
		logger:  logger,
		now:     time.Now,
	}
}

// ListClaims returns all claims, newest first
func (r *ClaimRepository) ListClaims(ctx context.Context) ([]*claim.Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims ORDER BY created_at DESC, id ASC`

	rows, err := r.db.executor(ctx).QueryContext(ctx, query)
	if err != nil {
		r.logger.Error("Failed to list claims", zap.Error(err))
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	defer rows.Close()

	var claims []*claim.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

// GetClaim retrieves a claim by ID
func (r *ClaimRepository) GetClaim(ctx context.Context, id string) (*claim.Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims WHERE id = ?`

	c, err := scanClaim(r.db.executor(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("claim %s: %w", id, port.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("Failed to get claim", zap.String("claim_id", id), zap.Error(err))
		return nil, err
	}
	return c, nil
}

// InsertClaim stores a new claim
func (r *ClaimRepository) InsertClaim(ctx context.Context, c *claim.Claim) error {
	data, err := encodeData(c.ExtractedData)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO claims (` + claimColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.executor(ctx).ExecContext(ctx, query,
		c.ID,
		c.Status.String(),
		nullString(c.PatientName),
		nullString(c.Insurer),
		nullString(c.DenialDate),
		data,
		emptyAsNull(c.AppealLetter),
		emptyAsNull(c.PDFURL),
		c.CreatedAt.UTC(),
		c.UpdatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to insert claim", zap.String("claim_id", c.ID), zap.Error(err))
		return fmt.Errorf("failed to insert claim: %w", err)
	}
	return nil
}

// UpdateClaimStatus sets the status and records the change
func (r *ClaimRepository) UpdateClaimStatus(ctx context.Context, id string, status workflow.Status) error {
	return r.db.WithTransaction(ctx, func(ctx context.Context) error {
		var prev string
		err := r.db.executor(ctx).QueryRowContext(ctx, `SELECT status FROM claims WHERE id = ?`, id).Scan(&prev)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("claim %s: %w", id, port.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to read claim status: %w", err)
		}

		now := r.now().UTC()
		if _, err := r.db.executor(ctx).ExecContext(ctx,
			`UPDATE claims SET status = ?, updated_at = ? WHERE id = ?`,
			status.String(), now, id,
		); err != nil {
			r.logger.Error("Failed to update claim status", zap.String("claim_id", id), zap.Error(err))
			return fmt.Errorf("failed to update claim status: %w", err)
		}

		if prev == status.String() {
			return nil
		}
		return r.history.Create(ctx, &claim.StatusChange{
			ClaimID:   id,
			From:      workflow.Status(prev),
			To:        status,
			Actor:     port.ActorFromContext(ctx),
			CreatedAt: now,
		})
	})
}

// UpdateClaimFields writes the editable fields of c
func (r *ClaimRepository) UpdateClaimFields(ctx context.Context, c *claim.Claim) error {
	query := `
		UPDATE claims
		SET patient_name = ?, insurer = ?, denial_date = ?, appeal_letter = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.executor(ctx).ExecContext(ctx, query,
		nullString(c.PatientName),
		nullString(c.Insurer),
		nullString(c.DenialDate),
		emptyAsNull(c.AppealLetter),
		r.now().UTC(),
		c.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update claim fields", zap.String("claim_id", c.ID), zap.Error(err))
		return fmt.Errorf("failed to update claim fields: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("claim %s: %w", c.ID, port.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanClaim(row rowScanner) (*claim.Claim, error) {
	var (
		c                        claim.Claim
		status                   string
		patient, insurer, denial sql.NullString
		data, letter, pdfURL     sql.NullString
	)
	if err := row.Scan(&c.ID, &status, &patient, &insurer, &denial,
		&data, &letter, &pdfURL, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}

	st, err := workflow.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", c.ID, err)
	}
	c.Status = st
	c.PatientName = stringPtr(patient)
	c.Insurer = stringPtr(insurer)
	c.DenialDate = stringPtr(denial)
	c.AppealLetter = letter.String
	c.PDFURL = pdfURL.String

	if data.Valid && data.String != "" {
		if err := json.Unmarshal([]byte(data.String), &c.ExtractedData); err != nil {
			return nil, fmt.Errorf("claim %s: failed to decode extracted data: %w", c.ID, err)
		}
	}
	return &c, nil
}

func encodeData(m map[string]any) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode extracted data: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func emptyAsNull(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ port.ClaimStore = (*ClaimRepository)(nil)
