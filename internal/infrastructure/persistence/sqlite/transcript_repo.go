package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/overturn/internal/application/port"
	"github.com/garyjia/overturn/internal/domain/claim"
)

// TranscriptRepository implements port.TranscriptStore
type TranscriptRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewTranscriptRepository creates a new transcript repository
func NewTranscriptRepository(db *DB, logger *zap.Logger) *TranscriptRepository {
	return &TranscriptRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends a transcript line. Writing an ID twice is a no-op.
func (r *TranscriptRepository) Create(ctx context.Context, entry *claim.TranscriptEntry) error {
	query := `
		INSERT INTO call_transcripts (id, claim_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := r.db.executor(ctx).ExecContext(ctx, query,
		entry.ID,
		nullString(entry.ClaimID),
		string(entry.Role),
		entry.Content,
		entry.CreatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create transcript entry", zap.String("entry_id", entry.ID), zap.Error(err))
		return fmt.Errorf("failed to create transcript entry: %w", err)
	}
	return nil
}

// ListByClaim returns a claim's transcript in call order. An empty claimID
// selects entries not attached to a claim.
func (r *TranscriptRepository) ListByClaim(ctx context.Context, claimID string) ([]claim.TranscriptEntry, error) {
	query := `
		SELECT id, claim_id, role, content, created_at
		FROM call_transcripts
		WHERE claim_id = ?
		ORDER BY created_at ASC, id ASC
	`
	args := []interface{}{claimID}
	if claimID == "" {
		query = `
			SELECT id, claim_id, role, content, created_at
			FROM call_transcripts
			WHERE claim_id IS NULL
			ORDER BY created_at ASC, id ASC
		`
		args = nil
	}

	rows, err := r.db.executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list transcript", zap.String("claim_id", claimID), zap.Error(err))
		return nil, fmt.Errorf("failed to list transcript: %w", err)
	}
	defer rows.Close()

	var entries []claim.TranscriptEntry
	for rows.Next() {
		var (
			e       claim.TranscriptEntry
			claimFK sql.NullString
			role    string
		)
		if err := rows.Scan(&e.ID, &claimFK, &role, &e.Content, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transcript entry: %w", err)
		}
		if e.Role, err = claim.ParseRole(role); err != nil {
			return nil, err
		}
		e.ClaimID = stringPtr(claimFK)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

var _ port.TranscriptStore = (*TranscriptRepository)(nil)
