package connection

import (
	"context"

	"github.com/vovakirdan/mindmate-chat/internal/core"
	"github.com/vovakirdan/mindmate-chat/internal/proto"
)

// Frame is one inbound MESSAGE delivered on a room subscription.
type Frame struct {
	Room        string
	Destination string
	Body        []byte
}

// Session is a single live broker connection. Frames is closed when the
// session ends; Err then reports why.
type Session interface {
	Subscribe(room string) error
	Unsubscribe(room string) error
	Publish(msg proto.SendMessage) error
	Frames() <-chan Frame
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Dialer opens sessions. ctx bounds the lifetime of the returned session, not
// only the handshake. Authentication failures must wrap core.ErrAuth.
type Dialer interface {
	Dial(ctx context.Context, token string) (Session, error)
}

// DialFunc adapts a function to Dialer.
type DialFunc func(ctx context.Context, token string) (Session, error)

func (f DialFunc) Dial(ctx context.Context, token string) (Session, error) {
	return f(ctx, token)
}

// Router receives inbound frames and re-establishes room subscriptions on a
// fresh session.
type Router interface {
	Subscribe(room string, handler func(core.Message))
	Dispatch(frame Frame)
	Resubscribe()
}

// Poster schedules work on the engine loop.
type Poster interface {
	Post(fn func()) bool
}
