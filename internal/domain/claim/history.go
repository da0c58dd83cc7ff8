package claim

import (
	"time"

	"github.com/garyjia/overturn/internal/domain/workflow"
)

// StatusChange records a confirmed status write
type StatusChange struct {
	ID        int64           `json:"id"`
	ClaimID   string          `json:"claim_id"`
	From      workflow.Status `json:"from"`
	To        workflow.Status `json:"to"`
	Actor     string          `json:"actor"`
	CreatedAt time.Time       `json:"created_at"`
}
