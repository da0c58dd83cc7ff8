package http

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/overturn/internal/domain/claim"
	"github.com/garyjia/overturn/internal/domain/workflow"
)

func TestHealthCheck_NoSessionNeeded(t *testing.T) {
	f := newFixture(t)
	w := httptest.NewRecorder()
	f.router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthCheck_Reporter(t *testing.T) {
	tests := []struct {
		name    string
		healthy bool
		want    int
	}{
		{"healthy", true, http.StatusOK},
		{"unhealthy", false, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.deps.Health = func() (bool, any) {
				return tt.healthy, map[string]string{"database": "ok"}
			}
			w := httptest.NewRecorder()
			f.router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tt.want, w.Code)
			assert.Contains(t, w.Body.String(), `"database":"ok"`)
		})
	}
}

func TestListClaims(t *testing.T) {
	f := newFixture(t)
	c := f.seed(t, "Jane Doe")

	w := do(t, f.router(), http.MethodGet, "/api/claims", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got []ClaimResponse
	resp := decode(t, w, &got)
	assert.True(t, resp.Success)
	require.Len(t, got, 1)
	assert.Equal(t, c.ID, got[0].ID)
	assert.Equal(t, workflow.StatusSubmitted, got[0].Status)
	assert.False(t, got[0].Pending)
	assert.Equal(t, "Jane Doe", got[0].Card.PatientName)
	assert.Equal(t, claim.Placeholder, got[0].Card.Insurer)
}

func TestGetClaim_NotFound(t *testing.T) {
	f := newFixture(t)
	w := do(t, f.router(), http.MethodGet, "/api/claims/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBoard_Columns(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "Jane Doe")

	w := do(t, f.router(), http.MethodGet, "/api/board", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var cols []Column
	decode(t, w, &cols)
	require.Len(t, cols, 4)
	labels := make([]string, len(cols))
	for i, col := range cols {
		labels[i] = col.Label
	}
	assert.Equal(t, []string{"Submitted Claims", "Voice AI", "In review", "Result"}, labels)
	assert.Len(t, cols[0].Claims, 1)
	assert.Empty(t, cols[1].Claims)
}

func TestTransition(t *testing.T) {
	tests := []struct {
		name       string
		body       TransitionRequest
		failWrite  bool
		wantCode   int
		wantRemote workflow.Status
	}{
		{"confirmed", TransitionRequest{Status: "calling", Wait: true}, false, http.StatusOK, workflow.StatusCalling},
		{"legacy name", TransitionRequest{Status: "agent_calling", Wait: true}, false, http.StatusOK, workflow.StatusCalling},
		{"unknown status", TransitionRequest{Status: "archived", Wait: true}, false, http.StatusUnprocessableEntity, workflow.StatusSubmitted},
		{"write fails", TransitionRequest{Status: "in_review", Wait: true}, true, http.StatusServiceUnavailable, workflow.StatusSubmitted},
		{"same status", TransitionRequest{Status: "submitted"}, false, http.StatusOK, workflow.StatusSubmitted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.failWrite {
				f.remote.UpdateStatusFunc = func(ctx context.Context, id string, status workflow.Status) error {
					return errBackend
				}
			}
			c := f.seed(t, "Jane Doe")

			w := do(t, f.router(), http.MethodPost, "/api/claims/"+c.ID+"/transition", tt.body)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
			assert.Equal(t, tt.wantRemote, f.remote.status(c.ID))

			got, err := f.manager.Get(context.Background(), c.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantRemote, got.Status, "local view matches remote after resolution")
		})
	}
}

func TestTransition_RecordsSessionActor(t *testing.T) {
	f := newFixture(t)
	c := f.seed(t, "Jane Doe")

	w := do(t, f.router(), http.MethodPost, "/api/claims/"+c.ID+"/transition", TransitionRequest{Status: "calling", Wait: true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"alice"}, f.remote.actorLog())
}

func TestTransition_BackwardRejected(t *testing.T) {
	f := newFixture(t)
	c := f.seed(t, "Jane Doe")
	router := f.router()

	w := do(t, router, http.MethodPost, "/api/claims/"+c.ID+"/transition", TransitionRequest{Status: "in_review", Wait: true})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, http.MethodPost, "/api/claims/"+c.ID+"/transition", TransitionRequest{Status: "submitted", Wait: true})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, workflow.StatusInReview, f.remote.status(c.ID))
}

func TestTransition_PendingWithoutWait(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	f.remote.UpdateStatusFunc = func(ctx context.Context, id string, status workflow.Status) error {
		<-release
		return nil
	}
	c := f.seed(t, "Jane Doe")
	router := f.router()

	w := do(t, router, http.MethodPost, "/api/claims/"+c.ID+"/transition", TransitionRequest{Status: "calling"})
	require.Equal(t, http.StatusAccepted, w.Code)

	var tr TransitionResponse
	decode(t, w, &tr)
	assert.Equal(t, "pending", tr.Resolution)
	assert.Equal(t, workflow.StatusCalling, tr.Status)

	// the optimistic status is already visible, flagged as pending
	w = do(t, router, http.MethodGet, "/api/claims/"+c.ID, nil)
	var cr ClaimResponse
	decode(t, w, &cr)
	assert.Equal(t, workflow.StatusCalling, cr.Status)
	assert.True(t, cr.Pending)

	close(release)
	assert.Eventually(t, func() bool {
		pending, err := f.manager.IsPending(context.Background(), c.ID)
		return err == nil && !pending
	}, time.Second, 5*time.Millisecond)
}

func TestEditClaim(t *testing.T) {
	f := newFixture(t)
	c := f.seed(t, "Jane Doe")
	router := f.router()

	insurer := "Acme Health"
	w := do(t, router, http.MethodPatch, "/api/claims/"+c.ID, claim.Patch{Insurer: &insurer})
	require.Equal(t, http.StatusOK, w.Code)
	var cr ClaimResponse
	decode(t, w, &cr)
	assert.Equal(t, "Acme Health", cr.Card.Insurer)

	w = do(t, router, http.MethodPatch, "/api/claims/"+c.ID, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, http.MethodPost, "/api/claims/"+c.ID+"/transition", TransitionRequest{Status: "calling", Wait: true})
	require.Equal(t, http.StatusOK, w.Code)

	letter := "New letter"
	w = do(t, router, http.MethodPatch, "/api/claims/"+c.ID, claim.Patch{AppealLetter: &letter})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestTranscript_AppendAndBackfill(t *testing.T) {
	f := newFixture(t)
	c := f.seed(t, "Jane Doe")
	router := f.router()

	earlier := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, f.transcripts.Create(context.Background(), &claim.TranscriptEntry{
		ID: "t-0", ClaimID: &c.ID, Role: claim.RoleAgent, Content: "Calling about claim", CreatedAt: earlier,
	}))

	w := do(t, router, http.MethodPost, "/api/claims/"+c.ID+"/transcript", TranscriptRequest{
		Role: "rep", Content: "Please hold",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created claim.TranscriptEntry
	decode(t, w, &created)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, claim.RoleCounterpart, created.Role)

	w = do(t, router, http.MethodGet, "/api/claims/"+c.ID+"/transcript", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var entries []claim.TranscriptEntry
	decode(t, w, &entries)
	require.Len(t, entries, 2)
	assert.Equal(t, "t-0", entries[0].ID)
	assert.Equal(t, created.ID, entries[1].ID)

	// a second read does not duplicate backfilled lines
	w = do(t, router, http.MethodGet, "/api/claims/"+c.ID+"/transcript", nil)
	decode(t, w, &entries)
	assert.Len(t, entries, 2)
}

func TestTranscript_Validation(t *testing.T) {
	f := newFixture(t)
	c := f.seed(t, "Jane Doe")
	router := f.router()

	w := do(t, router, http.MethodPost, "/api/claims/"+c.ID+"/transcript", TranscriptRequest{Role: "narrator", Content: "hi"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, http.MethodPost, "/api/claims/missing/transcript", TranscriptRequest{Role: "agent", Content: "hi"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	f.deps.History = historyFunc(func(ctx context.Context, claimID string) ([]*claim.StatusChange, error) {
		return []*claim.StatusChange{{ID: 1, ClaimID: claimID, From: workflow.StatusSubmitted, To: workflow.StatusCalling, Actor: "alice"}}, nil
	})

	w := do(t, f.router(), http.MethodGet, "/api/claims/c-1/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var changes []claim.StatusChange
	decode(t, w, &changes)
	require.Len(t, changes, 1)
	assert.Equal(t, "alice", changes[0].Actor)
}

func TestExportBoard(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "Jane Doe")
	var exported int
	f.deps.Export = boardWriterFunc(func(w io.Writer, claims []*claim.Claim) error {
		exported = len(claims)
		_, err := w.Write([]byte("xlsx"))
		return err
	})

	w := do(t, f.router(), http.MethodGet, "/api/claims/export.xlsx", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, exported)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
	assert.True(t, bytes.Equal([]byte("xlsx"), w.Body.Bytes()))
}
