package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/garyjia/overturn/internal/application/port"
)

// DefaultSubjectPrefix is prepended to channel names to form NATS subjects
const DefaultSubjectPrefix = "overturn.live."

// ErrConnectionClosed is returned when the NATS connection closes under a subscription
var ErrConnectionClosed = errors.New("nats connection closed")

// NATSChannel carries live messages over NATS subjects, one per channel
type NATSChannel struct {
	conn     *nats.Conn
	prefix   string
	channels []string
	logger   *zap.Logger
}

// NATSOption configures a NATSChannel
type NATSOption func(*NATSChannel)

// WithSubjectPrefix overrides DefaultSubjectPrefix
func WithSubjectPrefix(prefix string) NATSOption {
	return func(c *NATSChannel) {
		c.prefix = prefix
	}
}

// WithNATSLogger sets the logger
func WithNATSLogger(logger *zap.Logger) NATSOption {
	return func(c *NATSChannel) {
		c.logger = logger
	}
}

// DialNATS connects to the server at url
func DialNATS(url string, channels []string, opts ...NATSOption) (*NATSChannel, error) {
	nc, err := nats.Connect(url,
		nats.Name("overturn"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return NewNATSChannel(nc, channels, opts...), nil
}

// NewNATSChannel wraps an existing connection
func NewNATSChannel(nc *nats.Conn, channels []string, opts ...NATSOption) *NATSChannel {
	c := &NATSChannel{
		conn:     nc,
		prefix:   DefaultSubjectPrefix,
		channels: channels,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subject returns the NATS subject for a channel
func (c *NATSChannel) Subject(channel string) string {
	return c.prefix + channel
}

// Subscribe listens on every configured channel until ctx is done or the
// connection closes. Messages are handled one at a time in arrival order.
func (c *NATSChannel) Subscribe(ctx context.Context, handler port.LiveHandler) error {
	msgs := make(chan *nats.Msg, 256)
	subs := make([]*nats.Subscription, 0, len(c.channels))
	defer func() {
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}
	}()

	for _, ch := range c.channels {
		sub, err := c.conn.ChanSubscribe(c.Subject(ch), msgs)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", c.Subject(ch), err)
		}
		subs = append(subs, sub)
	}
	if err := c.conn.Flush(); err != nil {
		return fmt.Errorf("flush subscriptions: %w", err)
	}

	c.logger.Info("NATS live channel subscribed", zap.Strings("channels", c.channels))

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if c.conn.IsClosed() {
				return ErrConnectionClosed
			}
		case m := <-msgs:
			var msg port.LiveMessage
			if err := json.Unmarshal(m.Data, &msg); err != nil {
				c.logger.Error("Malformed NATS live message",
					zap.String("subject", m.Subject),
					zap.Error(err),
				)
				continue
			}
			if err := handler(ctx, msg); err != nil {
				c.logger.Error("Live message handler failed",
					zap.String("subject", m.Subject),
					zap.Error(err),
				)
			}
		}
	}
}

// Publish sends msg on its channel's subject
func (c *NATSChannel) Publish(ctx context.Context, msg port.LiveMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal live message: %w", err)
	}
	if err := c.conn.Publish(c.Subject(msg.Channel), data); err != nil {
		return fmt.Errorf("publish %s: %w", c.Subject(msg.Channel), err)
	}
	return nil
}

// Close drains the connection
func (c *NATSChannel) Close() error {
	return c.conn.Drain()
}

var (
	_ port.LiveChannel   = (*NATSChannel)(nil)
	_ port.LivePublisher = (*NATSChannel)(nil)
)
