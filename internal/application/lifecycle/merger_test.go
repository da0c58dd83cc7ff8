package lifecycle

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/overturn/internal/application/dispatcher"
	"github.com/garyjia/overturn/internal/application/port"
	"github.com/garyjia/overturn/internal/domain/claim"
	"github.com/garyjia/overturn/internal/domain/event"
	"github.com/garyjia/overturn/internal/domain/workflow"
)

type recorded struct {
	mu     sync.Mutex
	events []*event.Event
}

func (r *recorded) handler(ctx context.Context, evt *event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *recorded) all() []*event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*event.Event(nil), r.events...)
}

func newRecordingDispatcher() (dispatcher.Dispatcher, *recorded) {
	d := dispatcher.NewDispatcher()
	r := &recorded{}
	d.Subscribe(event.TypeTranscriptCreated, r.handler)
	d.Subscribe(event.TypeClaimUpdated, r.handler)
	return d, r
}

func TestMerger_HandleTranscriptRow(t *testing.T) {
	d, rec := newRecordingDispatcher()
	m := NewMerger(newFakeLive(0), d)

	row := json.RawMessage(`{"id":"t1","claim_id":"c1","role":"rep","content":"Claims department, how can I help?","created_at":"2025-01-15T09:00:00Z"}`)
	require.NoError(t, m.Handle(context.Background(), port.LiveMessage{Channel: TranscriptChannel, Op: port.OpInsert, Row: row}))

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, event.TypeTranscriptCreated, events[0].Type)
	assert.Equal(t, "c1", events[0].ClaimID)

	te, ok := event.Value[claim.TranscriptEntry](events[0], PayloadEntry)
	require.True(t, ok)
	assert.Equal(t, claim.RoleCounterpart, te.Role)
	assert.Equal(t, t0, te.CreatedAt.UTC())
}

func TestMerger_HandleClaimRow(t *testing.T) {
	d, rec := newRecordingDispatcher()
	m := NewMerger(newFakeLive(0), d)

	row := json.RawMessage(`{"id":"c1","status":"agent_calling","patient_name":null,"insurer":"Acme Health","appeal_letter":null,"created_at":"2025-01-15T09:00:00Z","updated_at":"2025-01-15T09:00:00Z"}`)
	require.NoError(t, m.Handle(context.Background(), port.LiveMessage{Channel: ClaimChannel, Op: port.OpUpdate, Row: row}))

	events := rec.all()
	require.Len(t, events, 1)
	c, ok := event.Value[*claim.Claim](events[0], PayloadClaim)
	require.True(t, ok)
	assert.Equal(t, workflow.StatusCalling, c.Status)
	assert.Nil(t, c.PatientName)
	assert.Equal(t, "Acme Health", *c.Insurer)
	assert.Equal(t, "", c.AppealLetter)
}

func TestMerger_HandleRejectsBadMessages(t *testing.T) {
	tests := []struct {
		name string
		msg  port.LiveMessage
	}{
		{"unknown channel", port.LiveMessage{Channel: "invoices", Row: json.RawMessage(`{}`)}},
		{"malformed json", port.LiveMessage{Channel: TranscriptChannel, Row: json.RawMessage(`{`)}},
		{"missing id", port.LiveMessage{Channel: TranscriptChannel, Row: json.RawMessage(`{"role":"agent"}`)}},
		{"unknown role", port.LiveMessage{Channel: TranscriptChannel, Row: json.RawMessage(`{"id":"t1","role":"caller"}`)}},
		{"unknown status", port.LiveMessage{Channel: ClaimChannel, Row: json.RawMessage(`{"id":"c1","status":"archived","created_at":"2025-01-15T09:00:00Z"}`)}},
		{"partial claim row", port.LiveMessage{Channel: ClaimChannel, Row: json.RawMessage(`{"id":"c1","status":"calling"}`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, rec := newRecordingDispatcher()
			m := NewMerger(newFakeLive(0), d)

			assert.Error(t, m.Handle(context.Background(), tt.msg))
			assert.Empty(t, rec.all())
		})
	}
}

func TestMerger_IgnoresTranscriptUpdates(t *testing.T) {
	d, rec := newRecordingDispatcher()
	m := NewMerger(newFakeLive(0), d)

	row := json.RawMessage(`{"id":"t1","role":"agent","content":"edited"}`)
	require.NoError(t, m.Handle(context.Background(), port.LiveMessage{Channel: TranscriptChannel, Op: port.OpUpdate, Row: row}))
	assert.Empty(t, rec.all())
}

func TestMerger_CustomChannels(t *testing.T) {
	d, rec := newRecordingDispatcher()
	m := NewMerger(newFakeLive(0), d, WithChannels("calls.transcripts", ""))

	row := json.RawMessage(`{"id":"t1","role":"system","content":"call started"}`)
	require.NoError(t, m.Handle(context.Background(), port.LiveMessage{Channel: "calls.transcripts", Row: row}))
	assert.Error(t, m.Handle(context.Background(), port.LiveMessage{Channel: TranscriptChannel, Row: row}))
	assert.Len(t, rec.all(), 1)
}

type reconnectMetrics struct {
	mu         sync.Mutex
	reconnects int
}

func (c *reconnectMetrics) Reconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnects++
}

func (c *reconnectMetrics) MessageReceived(string, error) {}

func (c *reconnectMetrics) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnects
}

func TestMerger_RunReconnects(t *testing.T) {
	live := newFakeLive(3)
	d, rec := newRecordingDispatcher()
	metrics := &reconnectMetrics{}
	m := NewMerger(live, d, WithBackoff(time.Millisecond, 5*time.Millisecond), WithMergerMetrics(metrics))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	select {
	case <-live.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("merger did not reconnect")
	}
	assert.Equal(t, 4, live.Subscribes())
	assert.Equal(t, 3, metrics.count())
	assert.Empty(t, rec.all(), "nothing is published while disconnected")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("merger did not stop")
	}
}
