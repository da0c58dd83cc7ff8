package sqlite

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/overturn/internal/application/port"
	"github.com/garyjia/overturn/internal/domain/claim"
	"github.com/garyjia/overturn/internal/domain/workflow"
)

// HistoryRepository implements port.HistoryRepository
type HistoryRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *DB, logger *zap.Logger) *HistoryRepository {
	return &HistoryRepository{
		db:     db,
		logger: logger,
	}
}

// Create records a status change
func (r *HistoryRepository) Create(ctx context.Context, change *claim.StatusChange) error {
	query := `
		INSERT INTO status_changes (
			claim_id, previous_status, new_status, actor, created_at
		) VALUES (?, ?, ?, ?, ?)
	`

	result, err := r.db.executor(ctx).ExecContext(ctx, query,
		change.ClaimID,
		change.From.String(),
		change.To.String(),
		change.Actor,
		change.CreatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create status change", zap.String("claim_id", change.ClaimID), zap.Error(err))
		return fmt.Errorf("failed to create status change: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	change.ID = id
	return nil
}

// ListByClaim returns the status changes of a claim, oldest first
func (r *HistoryRepository) ListByClaim(ctx context.Context, claimID string) ([]*claim.StatusChange, error) {
	query := `
		SELECT id, claim_id, previous_status, new_status, actor, created_at
		FROM status_changes
		WHERE claim_id = ?
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.executor(ctx).QueryContext(ctx, query, claimID)
	if err != nil {
		r.logger.Error("Failed to list status changes", zap.String("claim_id", claimID), zap.Error(err))
		return nil, fmt.Errorf("failed to list status changes: %w", err)
	}
	defer rows.Close()

	var changes []*claim.StatusChange
	for rows.Next() {
		var (
			change   claim.StatusChange
			from, to string
		)
		if err := rows.Scan(&change.ID, &change.ClaimID, &from, &to, &change.Actor, &change.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan status change: %w", err)
		}
		change.From = workflow.Status(from)
		change.To = workflow.Status(to)
		changes = append(changes, &change)
	}
	return changes, rows.Err()
}

var _ port.HistoryRepository = (*HistoryRepository)(nil)
