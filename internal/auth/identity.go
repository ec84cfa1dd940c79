package auth

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// IdentityProvider supplies the display nickname shown on outgoing messages.
type IdentityProvider interface {
	Nickname(ctx context.Context) (string, error)
}

// Identity resolves the nickname once: an explicit value wins, then the
// token's nickName claim, then a generated UserNNNN name kept for the session.
type Identity struct {
	mu       sync.Mutex
	explicit string
	tokens   TokenProvider
	resolved string
}

// NewIdentity builds an identity provider. tokens may be nil.
func NewIdentity(explicit string, tokens TokenProvider) *Identity {
	return &Identity{explicit: strings.TrimSpace(explicit), tokens: tokens}
}

func (i *Identity) Nickname(ctx context.Context) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.resolved != "" {
		return i.resolved, nil
	}
	if i.explicit != "" {
		i.resolved = i.explicit
		return i.resolved, nil
	}
	if i.tokens != nil {
		if token, err := i.tokens.Token(ctx); err == nil {
			if claims, err := ParseClaims(token); err == nil && strings.TrimSpace(claims.Nickname) != "" {
				i.resolved = strings.TrimSpace(claims.Nickname)
				return i.resolved, nil
			}
		}
	}
	i.resolved = generatedNickname()
	return i.resolved, nil
}

func generatedNickname() string {
	id := uuid.New()
	n := binary.BigEndian.Uint32(id[:4]) % 10000
	return fmt.Sprintf("User%d", n)
}
