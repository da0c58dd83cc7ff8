package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/garyjia/overturn/internal/application/intake"
	"github.com/garyjia/overturn/internal/application/lifecycle"
	"github.com/garyjia/overturn/internal/domain/claim"
	"github.com/garyjia/overturn/internal/domain/workflow"
)

// ClaimService is the lifecycle manager as seen by the handlers
type ClaimService interface {
	List(ctx context.Context) ([]*claim.Claim, error)
	Get(ctx context.Context, id string) (*claim.Claim, error)
	IsPending(ctx context.Context, id string) (bool, error)
	Edit(ctx context.Context, id string, patch claim.Patch) (*claim.Claim, error)
	RequestTransition(ctx context.Context, claimID string, target workflow.Status) (*lifecycle.Pending, error)
	Transcript(ctx context.Context, claimID string) ([]claim.TranscriptEntry, error)
	IngestTranscript(ctx context.Context, te claim.TranscriptEntry) error
	BackfillTranscript(ctx context.Context, entries []claim.TranscriptEntry) (int, error)
}

// TranscriptService persists and lists transcript lines
type TranscriptService interface {
	Create(ctx context.Context, entry *claim.TranscriptEntry) error
	ListByClaim(ctx context.Context, claimID string) ([]claim.TranscriptEntry, error)
}

// HistoryService lists confirmed status changes
type HistoryService interface {
	ListByClaim(ctx context.Context, claimID string) ([]*claim.StatusChange, error)
}

// IntakeService turns denial documents into claims
type IntakeService interface {
	Upload(ctx context.Context, name string, data []byte) (*intake.Uploaded, error)
	Extract(ctx context.Context, data []byte) (*intake.Review, error)
	ExtractText(ctx context.Context, text string) (*intake.Review, error)
	Approve(ctx context.Context, a intake.Approval) (*claim.Claim, error)
}

// BoardWriter renders the board as a spreadsheet
type BoardWriter interface {
	Write(w io.Writer, claims []*claim.Claim) error
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	deps   Deps
	logger Logger
}

func newHandlers(deps Deps, logger Logger) *Handlers {
	return &Handlers{deps: deps, logger: logger}
}

// ClaimResponse is a claim with its pending flag and display values
type ClaimResponse struct {
	*claim.Claim
	Pending bool          `json:"pending"`
	Card    claim.Display `json:"display"`
}

// Column is one board column
type Column struct {
	Status workflow.Status `json:"status"`
	Label  string          `json:"label"`
	Claims []ClaimResponse `json:"claims"`
}

// TransitionRequest is the body of POST /api/claims/:id/transition
type TransitionRequest struct {
	Status string `json:"status" binding:"required"`
	Wait   bool   `json:"wait"`
}

// TransitionResponse reports a pending or settled transition
type TransitionResponse struct {
	ClaimID    string          `json:"claim_id"`
	From       workflow.Status `json:"from"`
	To         workflow.Status `json:"to"`
	Status     workflow.Status `json:"status,omitempty"`
	Resolution string          `json:"resolution"`
	Error      string          `json:"error,omitempty"`
}

// TranscriptRequest is the body of POST /api/claims/:id/transcript
type TranscriptRequest struct {
	ID        string     `json:"id"`
	Role      string     `json:"role" binding:"required"`
	Content   string     `json:"content" binding:"required"`
	CreatedAt *time.Time `json:"created_at"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	body := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.deps.Health == nil {
		respond(c, http.StatusOK, body)
		return
	}

	healthy, details := h.deps.Health()
	body["components"] = details
	if !healthy {
		body["status"] = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, Response{Success: false, Data: body, Error: "unhealthy"})
		return
	}
	respond(c, http.StatusOK, body)
}

// Board handles GET /api/board
func (h *Handlers) Board(c *gin.Context) {
	claims, err := h.claimResponses(c)
	if err != nil {
		h.respondError(c, "failed to load board", err)
		return
	}

	columns := make([]Column, 0, len(workflow.Statuses()))
	index := make(map[workflow.Status]int)
	for _, s := range workflow.Statuses() {
		index[s] = len(columns)
		columns = append(columns, Column{Status: s, Label: s.Label(), Claims: []ClaimResponse{}})
	}
	for _, cr := range claims {
		i, found := index[cr.Status]
		if !found {
			continue
		}
		columns[i].Claims = append(columns[i].Claims, cr)
	}

	respond(c, http.StatusOK, columns)
}

// ListClaims handles GET /api/claims
func (h *Handlers) ListClaims(c *gin.Context) {
	claims, err := h.claimResponses(c)
	if err != nil {
		h.respondError(c, "failed to list claims", err)
		return
	}
	respond(c, http.StatusOK, claims)
}

// GetClaim handles GET /api/claims/:id
func (h *Handlers) GetClaim(c *gin.Context) {
	cl, err := h.deps.Claims.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "failed to get claim", err)
		return
	}
	cr, err := h.toResponse(c, cl)
	if err != nil {
		h.respondError(c, "failed to get claim", err)
		return
	}
	respond(c, http.StatusOK, cr)
}

// EditClaim handles PATCH /api/claims/:id
func (h *Handlers) EditClaim(c *gin.Context) {
	var patch claim.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if patch.IsEmpty() {
		fail(c, http.StatusBadRequest, "no fields to update")
		return
	}

	edited, err := h.deps.Claims.Edit(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		h.respondError(c, "failed to edit claim", err)
		return
	}
	cr, err := h.toResponse(c, edited)
	if err != nil {
		h.respondError(c, "failed to edit claim", err)
		return
	}
	respond(c, http.StatusOK, cr)
}

// Transition handles POST /api/claims/:id/transition. Without wait the
// optimistic result is returned as 202 while the write runs.
func (h *Handlers) Transition(c *gin.Context) {
	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	target, err := workflow.ParseStatus(req.Status)
	if err != nil {
		fail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}

	ctx := c.Request.Context()
	p, err := h.deps.Claims.RequestTransition(ctx, c.Param("id"), target)
	if err != nil {
		h.respondError(c, "failed to request transition", err)
		return
	}

	select {
	case <-p.Done():
	default:
		if !req.Wait {
			respond(c, http.StatusAccepted, TransitionResponse{
				ClaimID:    p.Handle.ClaimID,
				From:       p.Handle.From,
				To:         p.Handle.To,
				Status:     p.Handle.To,
				Resolution: "pending",
			})
			return
		}
	}

	outcome, err := p.Wait(ctx)
	resp := TransitionResponse{
		ClaimID:    outcome.ClaimID,
		From:       outcome.From,
		To:         outcome.To,
		Status:     outcome.Status,
		Resolution: string(outcome.Resolution),
	}
	if err != nil {
		if outcome.ClaimID == "" {
			h.respondError(c, "transition wait failed", err)
			return
		}
		resp.Error = err.Error()
		c.JSON(statusFor(err), Response{Data: resp, Error: err.Error()})
		return
	}
	respond(c, http.StatusOK, resp)
}

// Transcript handles GET /api/claims/:id/transcript. Stored lines the live
// channel has not delivered yet are folded in first.
func (h *Handlers) Transcript(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	if _, err := h.deps.Claims.Get(ctx, id); err != nil {
		h.respondError(c, "failed to load transcript", err)
		return
	}

	if h.deps.Transcripts != nil {
		stored, err := h.deps.Transcripts.ListByClaim(ctx, id)
		if err != nil {
			h.respondError(c, "failed to load transcript", err)
			return
		}
		if _, err := h.deps.Claims.BackfillTranscript(ctx, stored); err != nil {
			h.respondError(c, "failed to load transcript", err)
			return
		}
	}

	entries, err := h.deps.Claims.Transcript(ctx, id)
	if err != nil {
		h.respondError(c, "failed to load transcript", err)
		return
	}
	respond(c, http.StatusOK, entries)
}

// AppendTranscript handles POST /api/claims/:id/transcript
func (h *Handlers) AppendTranscript(c *gin.Context) {
	var req TranscriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	role, err := claim.ParseRole(req.Role)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := h.deps.Claims.Get(ctx, id); err != nil {
		h.respondError(c, "failed to append transcript", err)
		return
	}
	if h.deps.Transcripts == nil {
		fail(c, http.StatusServiceUnavailable, "transcript storage unavailable")
		return
	}

	te := claim.TranscriptEntry{
		ID:        req.ID,
		ClaimID:   &id,
		Role:      role,
		Content:   req.Content,
		CreatedAt: time.Now().UTC(),
	}
	if te.ID == "" {
		te.ID = uuid.NewString()
	}
	if req.CreatedAt != nil {
		te.CreatedAt = req.CreatedAt.UTC()
	}

	if err := h.deps.Transcripts.Create(ctx, &te); err != nil {
		h.respondError(c, "failed to append transcript", err)
		return
	}
	if h.deps.DirectTranscripts {
		if err := h.deps.Claims.IngestTranscript(ctx, te); err != nil {
			h.respondError(c, "failed to append transcript", err)
			return
		}
	}
	respond(c, http.StatusCreated, te)
}

// History handles GET /api/claims/:id/history
func (h *Handlers) History(c *gin.Context) {
	if h.deps.History == nil {
		respond(c, http.StatusOK, []*claim.StatusChange{})
		return
	}
	changes, err := h.deps.History.ListByClaim(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "failed to load history", err)
		return
	}
	if changes == nil {
		changes = []*claim.StatusChange{}
	}
	respond(c, http.StatusOK, changes)
}

// ExportBoard handles GET /api/claims/export.xlsx
func (h *Handlers) ExportBoard(c *gin.Context) {
	if h.deps.Export == nil {
		fail(c, http.StatusNotFound, "export unavailable")
		return
	}
	claims, err := h.deps.Claims.List(c.Request.Context())
	if err != nil {
		h.respondError(c, "failed to export board", err)
		return
	}

	var buf bytes.Buffer
	if err := h.deps.Export.Write(&buf, claims); err != nil {
		h.respondError(c, "failed to export board", err)
		return
	}

	name := fmt.Sprintf("board-%s.xlsx", time.Now().UTC().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

func (h *Handlers) claimResponses(c *gin.Context) ([]ClaimResponse, error) {
	claims, err := h.deps.Claims.List(c.Request.Context())
	if err != nil {
		return nil, err
	}
	out := make([]ClaimResponse, 0, len(claims))
	for _, cl := range claims {
		cr, err := h.toResponse(c, cl)
		if err != nil {
			return nil, err
		}
		out = append(out, cr)
	}
	return out, nil
}

func (h *Handlers) toResponse(c *gin.Context, cl *claim.Claim) (ClaimResponse, error) {
	pending, err := h.deps.Claims.IsPending(c.Request.Context(), cl.ID)
	if err != nil {
		return ClaimResponse{}, err
	}
	return ClaimResponse{Claim: cl, Pending: pending, Card: cl.Display()}, nil
}
