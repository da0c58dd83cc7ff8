package live

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/garyjia/overturn/internal/application/port"
	"github.com/garyjia/overturn/internal/domain/claim"
	"github.com/garyjia/overturn/internal/domain/workflow"
)

// PublishingClaimStore echoes every committed claim write to the live
// channel as the stored row. Publish failures are logged; the write stands.
type PublishingClaimStore struct {
	port.ClaimStore
	publisher port.LivePublisher
	channel   string
	logger    *zap.Logger
}

// NewPublishingClaimStore wraps store
func NewPublishingClaimStore(store port.ClaimStore, publisher port.LivePublisher, channel string, logger *zap.Logger) *PublishingClaimStore {
	return &PublishingClaimStore{
		ClaimStore: store,
		publisher:  publisher,
		channel:    channel,
		logger:     logger,
	}
}

// InsertClaim stores c and publishes an INSERT
func (s *PublishingClaimStore) InsertClaim(ctx context.Context, c *claim.Claim) error {
	if err := s.ClaimStore.InsertClaim(ctx, c); err != nil {
		return err
	}
	s.publishStored(ctx, port.OpInsert, c.ID)
	return nil
}

// UpdateClaimStatus stores the status and publishes an UPDATE
func (s *PublishingClaimStore) UpdateClaimStatus(ctx context.Context, id string, status workflow.Status) error {
	if err := s.ClaimStore.UpdateClaimStatus(ctx, id, status); err != nil {
		return err
	}
	s.publishStored(ctx, port.OpUpdate, id)
	return nil
}

// UpdateClaimFields stores the fields and publishes an UPDATE
func (s *PublishingClaimStore) UpdateClaimFields(ctx context.Context, c *claim.Claim) error {
	if err := s.ClaimStore.UpdateClaimFields(ctx, c); err != nil {
		return err
	}
	s.publishStored(ctx, port.OpUpdate, c.ID)
	return nil
}

// publishStored re-reads the row so subscribers see server-side timestamps
func (s *PublishingClaimStore) publishStored(ctx context.Context, op, id string) {
	c, err := s.ClaimStore.GetClaim(ctx, id)
	if err != nil {
		s.logger.Error("Failed to read claim for live publish", zap.String("claim_id", id), zap.Error(err))
		return
	}
	publish(ctx, s.publisher, s.logger, s.channel, op, c)
}

// PublishingTranscriptStore echoes every transcript line to the live channel
type PublishingTranscriptStore struct {
	port.TranscriptStore
	publisher port.LivePublisher
	channel   string
	logger    *zap.Logger
}

// NewPublishingTranscriptStore wraps store
func NewPublishingTranscriptStore(store port.TranscriptStore, publisher port.LivePublisher, channel string, logger *zap.Logger) *PublishingTranscriptStore {
	return &PublishingTranscriptStore{
		TranscriptStore: store,
		publisher:       publisher,
		channel:         channel,
		logger:          logger,
	}
}

// Create stores the entry and publishes an INSERT
func (s *PublishingTranscriptStore) Create(ctx context.Context, entry *claim.TranscriptEntry) error {
	if err := s.TranscriptStore.Create(ctx, entry); err != nil {
		return err
	}
	publish(ctx, s.publisher, s.logger, s.channel, port.OpInsert, entry)
	return nil
}

func publish(ctx context.Context, p port.LivePublisher, logger *zap.Logger, channel, op string, row any) {
	data, err := json.Marshal(row)
	if err != nil {
		logger.Error("Failed to encode live row", zap.String("channel", channel), zap.Error(err))
		return
	}
	if err := p.Publish(ctx, port.LiveMessage{Channel: channel, Op: op, Row: data}); err != nil {
		logger.Error("Failed to publish live row",
			zap.String("channel", channel),
			zap.String("op", op),
			zap.Error(err),
		)
	}
}

// Fanout publishes to several publishers, returning the first error
type Fanout []port.LivePublisher

// Publish sends msg to every publisher
func (f Fanout) Publish(ctx context.Context, msg port.LiveMessage) error {
	var first error
	for _, p := range f {
		if err := p.Publish(ctx, msg); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var (
	_ port.ClaimStore      = (*PublishingClaimStore)(nil)
	_ port.TranscriptStore = (*PublishingTranscriptStore)(nil)
	_ port.LivePublisher   = Fanout(nil)
)
