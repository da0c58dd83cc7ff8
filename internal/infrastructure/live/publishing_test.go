package live

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/overturn/internal/application/port"
	"github.com/garyjia/overturn/internal/domain/claim"
	"github.com/garyjia/overturn/internal/domain/workflow"
)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []port.LiveMessage
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, msg port.LiveMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return p.err
}

func (p *recordingPublisher) messages() []port.LiveMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]port.LiveMessage(nil), p.msgs...)
}

type memClaimStore struct {
	claims    map[string]*claim.Claim
	updateErr error
}

func (s *memClaimStore) ListClaims(context.Context) ([]*claim.Claim, error) { return nil, nil }

func (s *memClaimStore) GetClaim(_ context.Context, id string) (*claim.Claim, error) {
	c, ok := s.claims[id]
	if !ok {
		return nil, port.ErrNotFound
	}
	return c.Clone(), nil
}

func (s *memClaimStore) InsertClaim(_ context.Context, c *claim.Claim) error {
	s.claims[c.ID] = c.Clone()
	return nil
}

func (s *memClaimStore) UpdateClaimStatus(_ context.Context, id string, status workflow.Status) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.claims[id].Status = status
	return nil
}

func (s *memClaimStore) UpdateClaimFields(_ context.Context, c *claim.Claim) error {
	s.claims[c.ID] = c.Clone()
	return nil
}

func TestPublishingClaimStore(t *testing.T) {
	store := &memClaimStore{claims: map[string]*claim.Claim{}}
	pub := &recordingPublisher{}
	s := NewPublishingClaimStore(store, pub, "claims", zap.NewNop())
	ctx := context.Background()

	c := claim.New(claim.Draft{}, time.Now())
	require.NoError(t, s.InsertClaim(ctx, c))
	require.NoError(t, s.UpdateClaimStatus(ctx, c.ID, workflow.StatusCalling))

	msgs := pub.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, port.OpInsert, msgs[0].Op)
	assert.Equal(t, port.OpUpdate, msgs[1].Op)

	var row map[string]any
	require.NoError(t, json.Unmarshal(msgs[1].Row, &row))
	assert.Equal(t, c.ID, row["id"])
	assert.Equal(t, "calling", row["status"])
}

func TestPublishingClaimStoreSkipsFailedWrites(t *testing.T) {
	c := claim.New(claim.Draft{}, time.Now())
	store := &memClaimStore{claims: map[string]*claim.Claim{c.ID: c}, updateErr: errors.New("offline")}
	pub := &recordingPublisher{}
	s := NewPublishingClaimStore(store, pub, "claims", zap.NewNop())

	err := s.UpdateClaimStatus(context.Background(), c.ID, workflow.StatusCalling)
	assert.Error(t, err)
	assert.Empty(t, pub.messages())
}

func TestPublishFailureKeepsWrite(t *testing.T) {
	store := &memClaimStore{claims: map[string]*claim.Claim{}}
	pub := &recordingPublisher{err: errors.New("broker down")}
	s := NewPublishingClaimStore(store, pub, "claims", zap.NewNop())

	c := claim.New(claim.Draft{}, time.Now())
	require.NoError(t, s.InsertClaim(context.Background(), c))
	assert.Contains(t, store.claims, c.ID)
}

type memTranscriptStore struct {
	entries []claim.TranscriptEntry
}

func (s *memTranscriptStore) Create(_ context.Context, e *claim.TranscriptEntry) error {
	s.entries = append(s.entries, *e)
	return nil
}

func (s *memTranscriptStore) ListByClaim(context.Context, string) ([]claim.TranscriptEntry, error) {
	return s.entries, nil
}

func TestPublishingTranscriptStore(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewPublishingTranscriptStore(&memTranscriptStore{}, pub, "call_transcripts", zap.NewNop())

	claimID := "c1"
	entry := &claim.TranscriptEntry{ID: "t1", ClaimID: &claimID, Role: claim.RoleAgent, Content: "Hello", CreatedAt: time.Now()}
	require.NoError(t, s.Create(context.Background(), entry))

	msgs := pub.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "call_transcripts", msgs[0].Channel)
	assert.Equal(t, port.OpInsert, msgs[0].Op)

	var row map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Row, &row))
	assert.Equal(t, "agent", row["role"])
	assert.Equal(t, "c1", row["claim_id"])
}

func TestFanout(t *testing.T) {
	a := &recordingPublisher{err: errors.New("a failed")}
	b := &recordingPublisher{}

	err := Fanout{a, b}.Publish(context.Background(), port.LiveMessage{Channel: "claims"})
	assert.EqualError(t, err, "a failed")
	assert.Len(t, b.messages(), 1)
}
