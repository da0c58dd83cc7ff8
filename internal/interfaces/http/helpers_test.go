package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/overturn/internal/application/lifecycle"
	"github.com/garyjia/overturn/internal/application/port"
	"github.com/garyjia/overturn/internal/domain/claim"
	"github.com/garyjia/overturn/internal/domain/workflow"
	"github.com/garyjia/overturn/pkg/utils"
)

const testToken = "tok-alice"

// memRemote is an in-memory system of record
type memRemote struct {
	mu     sync.Mutex
	claims map[string]*claim.Claim
	actors []string

	UpdateStatusFunc func(ctx context.Context, id string, status workflow.Status) error
}

func newMemRemote() *memRemote {
	return &memRemote{claims: make(map[string]*claim.Claim)}
}

func (m *memRemote) ListClaims(ctx context.Context) ([]*claim.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*claim.Claim, 0, len(m.claims))
	for _, c := range m.claims {
		out = append(out, c.Clone())
	}
	return out, nil
}

func (m *memRemote) GetClaim(ctx context.Context, id string) (*claim.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[id]
	if !ok {
		return nil, port.ErrNotFound
	}
	return c.Clone(), nil
}

func (m *memRemote) InsertClaim(ctx context.Context, c *claim.Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claims[c.ID] = c.Clone()
	return nil
}

func (m *memRemote) UpdateClaimStatus(ctx context.Context, id string, status workflow.Status) error {
	if m.UpdateStatusFunc != nil {
		if err := m.UpdateStatusFunc(ctx, id, status); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[id]
	if !ok {
		return port.ErrNotFound
	}
	c.Status = status
	m.actors = append(m.actors, port.ActorFromContext(ctx))
	return nil
}

func (m *memRemote) UpdateClaimFields(ctx context.Context, c *claim.Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.claims[c.ID]; !ok {
		return port.ErrNotFound
	}
	m.claims[c.ID] = c.Clone()
	return nil
}

func (m *memRemote) status(id string) workflow.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.claims[id].Status
}

func (m *memRemote) actorLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.actors...)
}

// memTranscripts stores transcript lines in memory
type memTranscripts struct {
	mu      sync.Mutex
	entries []claim.TranscriptEntry
}

func (m *memTranscripts) Create(ctx context.Context, te *claim.TranscriptEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *te)
	return nil
}

func (m *memTranscripts) ListByClaim(ctx context.Context, claimID string) ([]claim.TranscriptEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []claim.TranscriptEntry
	for _, te := range m.entries {
		if te.ClaimKey() == claimID {
			out = append(out, te)
		}
	}
	return out, nil
}

type historyFunc func(ctx context.Context, claimID string) ([]*claim.StatusChange, error)

func (f historyFunc) ListByClaim(ctx context.Context, claimID string) ([]*claim.StatusChange, error) {
	return f(ctx, claimID)
}

type boardWriterFunc func(w io.Writer, claims []*claim.Claim) error

func (f boardWriterFunc) Write(w io.Writer, claims []*claim.Claim) error {
	return f(w, claims)
}

type fixture struct {
	remote      *memRemote
	transcripts *memTranscripts
	manager     *lifecycle.Manager
	deps        Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	remote := newMemRemote()
	store := lifecycle.NewStore(workflow.NewValidator(workflow.PolicyForwardOnly))
	mgr := lifecycle.NewManager(store, remote)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = mgr.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		mgr.Wait()
	})

	f := &fixture{
		remote:      remote,
		transcripts: &memTranscripts{},
		manager:     mgr,
	}
	f.deps = Deps{
		Claims:            mgr,
		Transcripts:       f.transcripts,
		Sessions:          NewStaticSessions(map[string]string{testToken: "alice"}),
		DirectTranscripts: true,
	}
	return f
}

func (f *fixture) router() *gin.Engine {
	return NewServer(DefaultServerConfig(), f.deps, utils.NewKeyValueLogger(zap.NewNop())).Router()
}

func (f *fixture) seed(t *testing.T, patient string) *claim.Claim {
	t.Helper()
	c, err := f.manager.Create(context.Background(), claim.Draft{PatientName: &patient, AppealLetter: "Dear insurer"})
	require.NoError(t, err)
	return c
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+testToken)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// decode unmarshals the envelope's data into out
func decode(t *testing.T, w *httptest.ResponseRecorder, out any) Response {
	t.Helper()
	var env struct {
		Response
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	if out != nil && len(env.Data) > 0 {
		require.NoError(t, json.Unmarshal(env.Data, out))
	}
	return env.Response
}

var errBackend = errors.New("backend unavailable")

func decodeRaw(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}
