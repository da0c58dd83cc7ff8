package live

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/garyjia/overturn/internal/application/port"
)

// WebSocketChannel subscribes to a remote hub over a websocket
type WebSocketChannel struct {
	url      string
	token    string
	channels []string
	dialer   *websocket.Dialer
	logger   *zap.Logger
}

// WebSocketOption configures a WebSocketChannel
type WebSocketOption func(*WebSocketChannel)

// WithToken sends the token as a bearer Authorization header
func WithToken(token string) WebSocketOption {
	return func(c *WebSocketChannel) {
		c.token = token
	}
}

// WithWebSocketLogger sets the logger
func WithWebSocketLogger(logger *zap.Logger) WebSocketOption {
	return func(c *WebSocketChannel) {
		c.logger = logger
	}
}

// WithHandshakeTimeout bounds the websocket handshake
func WithHandshakeTimeout(d time.Duration) WebSocketOption {
	return func(c *WebSocketChannel) {
		c.dialer.HandshakeTimeout = d
	}
}

// NewWebSocketChannel creates a client for the hub at url
func NewWebSocketChannel(url string, channels []string, opts ...WebSocketOption) *WebSocketChannel {
	c := &WebSocketChannel{
		url:      url,
		channels: channels,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe connects, subscribes to the configured channels, and invokes
// handler for every message until ctx is done or the connection drops.
func (c *WebSocketChannel) Subscribe(ctx context.Context, handler port.LiveHandler) error {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial live channel: %w", err)
	}

	var closeOnce sync.Once
	closeConn := func() {
		closeOnce.Do(func() {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		})
	}
	defer closeConn()

	if err := conn.WriteJSON(controlFrame{Type: "subscribe", Channels: c.channels}); err != nil {
		return fmt.Errorf("subscribe live channel: %w", err)
	}
	c.logger.Info("Live channel subscribed",
		zap.String("url", c.url),
		zap.Strings("channels", c.channels),
	)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	for {
		var msg port.LiveMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read live channel: %w", err)
		}
		if err := handler(ctx, msg); err != nil {
			c.logger.Error("Live message handler failed",
				zap.String("channel", msg.Channel),
				zap.Error(err),
			)
		}
	}
}

var _ port.LiveChannel = (*WebSocketChannel)(nil)
