package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/garyjia/overturn/internal/application/port"
	"github.com/garyjia/overturn/internal/domain/claim"
	"github.com/garyjia/overturn/internal/domain/workflow"
)

// statusCall is one UpdateClaimStatus call held until the test replies
type statusCall struct {
	ClaimID string
	Status  workflow.Status
	reply   chan error
}

func (c statusCall) Reply(err error) { c.reply <- err }

// mockRemote is an in-memory ClaimStore. When gated, status writes block
// until the test replies on the call.
type mockRemote struct {
	mu     sync.Mutex
	claims map[string]*claim.Claim

	gated bool
	calls chan statusCall

	// afterList runs once ListClaims has taken its snapshot
	afterList func()

	UpdateStatusFunc func(ctx context.Context, id string, status workflow.Status) error
	UpdateFieldsFunc func(ctx context.Context, c *claim.Claim) error
	InsertFunc       func(ctx context.Context, c *claim.Claim) error
}

func newMockRemote(claims ...*claim.Claim) *mockRemote {
	m := &mockRemote{
		claims: make(map[string]*claim.Claim),
		calls:  make(chan statusCall, 16),
	}
	for _, c := range claims {
		m.claims[c.ID] = c.Clone()
	}
	return m
}

func (m *mockRemote) ListClaims(ctx context.Context) ([]*claim.Claim, error) {
	m.mu.Lock()
	out := make([]*claim.Claim, 0, len(m.claims))
	for _, c := range m.claims {
		out = append(out, c.Clone())
	}
	hook := m.afterList
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	return out, nil
}

func (m *mockRemote) GetClaim(ctx context.Context, id string) (*claim.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[id]
	if !ok {
		return nil, port.ErrNotFound
	}
	return c.Clone(), nil
}

func (m *mockRemote) InsertClaim(ctx context.Context, c *claim.Claim) error {
	if m.InsertFunc != nil {
		if err := m.InsertFunc(ctx, c); err != nil {
			return err
		}
	}
	m.put(c)
	return nil
}

func (m *mockRemote) UpdateClaimStatus(ctx context.Context, id string, status workflow.Status) error {
	if m.gated {
		call := statusCall{ClaimID: id, Status: status, reply: make(chan error, 1)}
		m.calls <- call
		select {
		case err := <-call.reply:
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	} else if m.UpdateStatusFunc != nil {
		if err := m.UpdateStatusFunc(ctx, id, status); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.claims[id]; ok {
		c.Status = status
	}
	return nil
}

func (m *mockRemote) UpdateClaimFields(ctx context.Context, c *claim.Claim) error {
	if m.UpdateFieldsFunc != nil {
		if err := m.UpdateFieldsFunc(ctx, c); err != nil {
			return err
		}
	}
	m.put(c)
	return nil
}

func (m *mockRemote) put(c *claim.Claim) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claims[c.ID] = c.Clone()
}

func (m *mockRemote) status(id string) workflow.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.claims[id].Status
}

// nextCall waits for the next gated status write
func (m *mockRemote) nextCall(timeout time.Duration) (statusCall, bool) {
	select {
	case c := <-m.calls:
		return c, true
	case <-time.After(timeout):
		return statusCall{}, false
	}
}

var _ port.ClaimStore = (*mockRemote)(nil)

// fakeLive is a LiveChannel driven by the test
type fakeLive struct {
	mu         sync.Mutex
	subscribes int
	fail       int
	handler    port.LiveHandler
	ready      chan struct{}
}

func newFakeLive(fail int) *fakeLive {
	return &fakeLive{fail: fail, ready: make(chan struct{})}
}

func (f *fakeLive) Subscribe(ctx context.Context, handler port.LiveHandler) error {
	f.mu.Lock()
	f.subscribes++
	if f.subscribes <= f.fail {
		f.mu.Unlock()
		return errors.New("connection refused")
	}
	f.handler = handler
	if f.subscribes == f.fail+1 {
		close(f.ready)
	}
	f.mu.Unlock()

	<-ctx.Done()
	return nil
}

func (f *fakeLive) Subscribes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes
}

func newClaim(id string, status workflow.Status, created time.Time) *claim.Claim {
	return &claim.Claim{ID: id, Status: status, CreatedAt: created, UpdatedAt: created}
}

// countingMetrics records transcript appends
type countingMetrics struct {
	mu         sync.Mutex
	appended   int
	duplicates int
}

func (c *countingMetrics) ObserveTransition(Resolution, time.Duration) {}

func (c *countingMetrics) SetPending(int) {}

func (c *countingMetrics) TranscriptAppended(duplicate bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if duplicate {
		c.duplicates++
		return
	}
	c.appended++
}

func (c *countingMetrics) counts() (appended, duplicates int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appended, c.duplicates
}

var _ Metrics = (*countingMetrics)(nil)
