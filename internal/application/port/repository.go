package port

import (
	"context"
	"errors"

	"github.com/garyjia/overturn/internal/domain/claim"
	"github.com/garyjia/overturn/internal/domain/workflow"
)

// ErrNotFound is returned by stores when a row does not exist
var ErrNotFound = errors.New("not found")

// ClaimStore is the remote system of record for claims
type ClaimStore interface {
	ListClaims(ctx context.Context) ([]*claim.Claim, error)
	GetClaim(ctx context.Context, id string) (*claim.Claim, error)
	InsertClaim(ctx context.Context, c *claim.Claim) error
	// UpdateClaimStatus writes a single status change atomically
	UpdateClaimStatus(ctx context.Context, id string, status workflow.Status) error
	// UpdateClaimFields writes the user-editable fields of c
	UpdateClaimFields(ctx context.Context, c *claim.Claim) error
}

// TranscriptStore persists call transcript lines
type TranscriptStore interface {
	Create(ctx context.Context, entry *claim.TranscriptEntry) error
	ListByClaim(ctx context.Context, claimID string) ([]claim.TranscriptEntry, error)
}

// HistoryRepository persists confirmed status changes
type HistoryRepository interface {
	Create(ctx context.Context, change *claim.StatusChange) error
	ListByClaim(ctx context.Context, claimID string) ([]*claim.StatusChange, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	// WithTransaction runs fn in a transaction carried by ctx. Nested calls reuse it.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type actorKey struct{}

// WithActor records who is acting in ctx
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the actor recorded by WithActor, or "system"
func ActorFromContext(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return "system"
}
