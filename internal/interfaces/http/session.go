package http

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/overturn/internal/application/port"
)

// SessionProvider resolves the session carried by a request
type SessionProvider = port.SessionProvider

// LoginPath is where clients without a session are sent
const LoginPath = "/login"

const sessionKey = "session"

// RequireSession rejects requests without a valid session and records the
// session user as the actor of everything the request does.
func RequireSession(sessions SessionProvider, cookie string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if sessions == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{Error: port.ErrNoSession.Error(), Redirect: LoginPath})
			return
		}

		sess, err := sessions.CurrentSession(c.Request.Context(), requestToken(c, cookie))
		if err != nil || sess == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{Error: port.ErrNoSession.Error(), Redirect: LoginPath})
			return
		}

		c.Set(sessionKey, sess)
		c.Request = c.Request.WithContext(port.WithActor(c.Request.Context(), sess.UserID))
		c.Next()
	}
}

// requestToken reads the bearer header, then the cookie, then the token
// query parameter. Browsers cannot set headers on websocket upgrades.
func requestToken(c *gin.Context, cookie string) string {
	if auth := c.GetHeader("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookie != "" {
		if v, err := c.Cookie(cookie); err == nil && v != "" {
			return v
		}
	}
	return c.Query("token")
}

// StaticSessions accepts a fixed set of tokens. Tokens can be revoked at runtime.
type StaticSessions struct {
	mu          sync.RWMutex
	tokens      map[string]string
	subscribers []chan port.SessionChange
}

// NewStaticSessions creates a provider from token to user ID
func NewStaticSessions(tokens map[string]string) *StaticSessions {
	cp := make(map[string]string, len(tokens))
	for k, v := range tokens {
		cp[k] = v
	}
	return &StaticSessions{tokens: cp}
}

// CurrentSession implements port.SessionProvider
func (s *StaticSessions) CurrentSession(ctx context.Context, token string) (*port.Session, error) {
	if token == "" {
		return nil, port.ErrNoSession
	}
	s.mu.RLock()
	user, ok := s.tokens[token]
	s.mu.RUnlock()
	if !ok {
		return nil, port.ErrNoSession
	}
	return &port.Session{UserID: user, Token: token}, nil
}

// Subscribe implements port.SessionProvider. The channel is buffered; changes
// are dropped for subscribers that fall behind.
func (s *StaticSessions) Subscribe() <-chan port.SessionChange {
	ch := make(chan port.SessionChange, 16)
	s.mu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.mu.Unlock()
	return ch
}

// Grant adds or replaces a token
func (s *StaticSessions) Grant(token, userID string) {
	s.mu.Lock()
	s.tokens[token] = userID
	s.mu.Unlock()
	s.notify(port.SessionChange{UserID: userID, Active: true})
}

// Revoke removes a token
func (s *StaticSessions) Revoke(token string) {
	s.mu.Lock()
	user, ok := s.tokens[token]
	delete(s.tokens, token)
	s.mu.Unlock()
	if ok {
		s.notify(port.SessionChange{UserID: user, Active: false})
	}
}

func (s *StaticSessions) notify(change port.SessionChange) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- change:
		default:
		}
	}
}

var _ port.SessionProvider = (*StaticSessions)(nil)
