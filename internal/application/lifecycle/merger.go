package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/garyjia/overturn/internal/application/dispatcher"
	"github.com/garyjia/overturn/internal/application/port"
	"github.com/garyjia/overturn/internal/domain/claim"
	"github.com/garyjia/overturn/internal/domain/event"
	"github.com/garyjia/overturn/internal/domain/workflow"
)

// Default live channel names
const (
	TranscriptChannel = "call_transcripts"
	ClaimChannel      = "claims"
)

// ErrSubscriptionClosed is reported when a live channel ends without an error
var ErrSubscriptionClosed = errors.New("live subscription closed")

// MergerMetrics receives live channel measurements
type MergerMetrics interface {
	Reconnected()
	MessageReceived(channel string, err error)
}

// Merger consumes the live channel and publishes its rows as domain events.
// The Manager folds those events into the store on its loop.
type Merger struct {
	live       port.LiveChannel
	dispatcher dispatcher.Dispatcher
	logger     *zap.Logger
	metrics    MergerMetrics

	transcriptChannel string
	claimChannel      string
	initialBackoff    time.Duration
	maxBackoff        time.Duration

	received atomic.Bool
}

// MergerOption configures a Merger
type MergerOption func(*Merger)

// WithMergerLogger sets the merger logger
func WithMergerLogger(logger *zap.Logger) MergerOption {
	return func(m *Merger) {
		m.logger = logger
	}
}

// WithMergerMetrics records reconnects and message counts
func WithMergerMetrics(metrics MergerMetrics) MergerOption {
	return func(m *Merger) {
		m.metrics = metrics
	}
}

// WithChannels overrides the transcript and claim channel names
func WithChannels(transcripts, claims string) MergerOption {
	return func(m *Merger) {
		if transcripts != "" {
			m.transcriptChannel = transcripts
		}
		if claims != "" {
			m.claimChannel = claims
		}
	}
}

// WithBackoff sets the first and the largest reconnect delay
func WithBackoff(initial, max time.Duration) MergerOption {
	return func(m *Merger) {
		if initial > 0 {
			m.initialBackoff = initial
		}
		if max > 0 {
			m.maxBackoff = max
		}
	}
}

// NewMerger creates a merger reading live and publishing on d
func NewMerger(live port.LiveChannel, d dispatcher.Dispatcher, opts ...MergerOption) *Merger {
	m := &Merger{
		live:              live,
		dispatcher:        d,
		logger:            zap.NewNop(),
		transcriptChannel: TranscriptChannel,
		claimChannel:      ClaimChannel,
		initialBackoff:    500 * time.Millisecond,
		maxBackoff:        30 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run keeps a subscription open until ctx is cancelled, reconnecting with
// exponential backoff. Nothing is published while disconnected.
func (m *Merger) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.initialBackoff
	b.MaxInterval = m.maxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		m.received.Store(false)
		err := m.live.Subscribe(ctx, m.Handle)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = ErrSubscriptionClosed
		}
		if m.received.Load() {
			b.Reset()
		}

		wait := b.NextBackOff()
		m.logger.Error("Live subscription lost, reconnecting",
			zap.Error(err),
			zap.Duration("retry_in", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		if m.metrics != nil {
			m.metrics.Reconnected()
		}
	}
}

// Handle decodes one live message and dispatches the matching event
func (m *Merger) Handle(ctx context.Context, msg port.LiveMessage) error {
	m.received.Store(true)

	evt, err := m.decode(msg)
	if m.metrics != nil {
		m.metrics.MessageReceived(msg.Channel, err)
	}
	if err != nil {
		m.logger.Error("Live message rejected",
			zap.String("channel", msg.Channel),
			zap.String("op", msg.Op),
			zap.Error(err),
		)
		return err
	}
	if evt == nil {
		return nil
	}
	return m.dispatcher.Dispatch(ctx, evt)
}

func (m *Merger) decode(msg port.LiveMessage) (*event.Event, error) {
	switch msg.Channel {
	case m.transcriptChannel:
		if msg.Op != "" && msg.Op != port.OpInsert {
			// transcript rows are append-only
			return nil, nil
		}
		te, err := DecodeTranscriptRow(msg.Row)
		if err != nil {
			return nil, err
		}
		return event.NewEvent(event.TypeTranscriptCreated, te.ClaimKey(), map[string]any{PayloadEntry: te}), nil
	case m.claimChannel:
		c, err := DecodeClaimRow(msg.Row)
		if err != nil {
			return nil, err
		}
		return event.NewEvent(event.TypeClaimUpdated, c.ID, map[string]any{PayloadClaim: c}), nil
	default:
		return nil, fmt.Errorf("unknown channel %q", msg.Channel)
	}
}

type transcriptRow struct {
	ID        string    `json:"id"`
	ClaimID   *string   `json:"claim_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// DecodeTranscriptRow parses a call transcript row
func DecodeTranscriptRow(raw json.RawMessage) (claim.TranscriptEntry, error) {
	var row transcriptRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return claim.TranscriptEntry{}, fmt.Errorf("decode transcript row: %w", err)
	}
	if row.ID == "" {
		return claim.TranscriptEntry{}, errors.New("decode transcript row: missing id")
	}
	role, err := claim.ParseRole(row.Role)
	if err != nil {
		return claim.TranscriptEntry{}, fmt.Errorf("decode transcript row %s: %w", row.ID, err)
	}
	if row.ClaimID != nil && *row.ClaimID == "" {
		row.ClaimID = nil
	}
	return claim.TranscriptEntry{
		ID:        row.ID,
		ClaimID:   row.ClaimID,
		Role:      role,
		Content:   row.Content,
		CreatedAt: row.CreatedAt,
	}, nil
}

type claimRow struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	PatientName   *string        `json:"patient_name"`
	Insurer       *string        `json:"insurer"`
	DenialDate    *string        `json:"denial_date"`
	ExtractedData map[string]any `json:"extracted_data"`
	AppealLetter  *string        `json:"appeal_letter"`
	PDFURL        *string        `json:"pdf_url"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// DecodeClaimRow parses a claim row. Legacy status names are accepted.
func DecodeClaimRow(raw json.RawMessage) (*claim.Claim, error) {
	var row claimRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("decode claim row: %w", err)
	}
	if row.ID == "" {
		return nil, errors.New("decode claim row: missing id")
	}
	status, err := workflow.ParseStatus(row.Status)
	if err != nil {
		return nil, fmt.Errorf("decode claim row %s: %w", row.ID, err)
	}
	// a partial row would blank the claim's metadata when it replaces it
	if row.CreatedAt.IsZero() {
		return nil, fmt.Errorf("decode claim row %s: missing created_at", row.ID)
	}

	c := &claim.Claim{
		ID:            row.ID,
		Status:        status,
		PatientName:   row.PatientName,
		Insurer:       row.Insurer,
		DenialDate:    row.DenialDate,
		ExtractedData: row.ExtractedData,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
	if row.AppealLetter != nil {
		c.AppealLetter = *row.AppealLetter
	}
	if row.PDFURL != nil {
		c.PDFURL = *row.PDFURL
	}
	return c, nil
}
