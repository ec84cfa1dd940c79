package auth

import (
	"context"
	"strings"
	"time"

	"github.com/vovakirdan/mindmate-chat/internal/core"
)

// TokenProvider supplies the bearer token for REST and broker calls.
// It returns an auth error when the token must be refreshed by the caller.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenProvider.
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticToken serves a fixed token and refuses it once its exp claim passed,
// mirroring the expiry check the app performs at start-up.
type StaticToken struct {
	token string
	skew  time.Duration
	now   func() time.Time
}

// NewStaticToken wraps token. skew treats tokens expiring within that window as
// already expired so a connect does not race the expiry.
func NewStaticToken(token string, skew time.Duration) *StaticToken {
	return &StaticToken{
		token: strings.TrimSpace(token),
		skew:  skew,
		now:   time.Now,
	}
}

func (s *StaticToken) Token(_ context.Context) (string, error) {
	if s.token == "" {
		return "", core.AuthError("missing token", nil)
	}
	if exp, ok := ExpiresAt(s.token); ok && !s.now().Add(s.skew).Before(exp) {
		return "", core.AuthError("token expired", nil)
	}
	return s.token, nil
}
