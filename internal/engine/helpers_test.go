package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vovakirdan/mindmate-chat/internal/auth"
	"github.com/vovakirdan/mindmate-chat/internal/bus"
	"github.com/vovakirdan/mindmate-chat/internal/connection"
	"github.com/vovakirdan/mindmate-chat/internal/core"
	"github.com/vovakirdan/mindmate-chat/internal/history"
	"github.com/vovakirdan/mindmate-chat/internal/moderation"
	"github.com/vovakirdan/mindmate-chat/internal/testkit/fakeapi"
	"github.com/vovakirdan/mindmate-chat/internal/testkit/fakebroker"
	transporthttp "github.com/vovakirdan/mindmate-chat/internal/transport/http"
	"github.com/vovakirdan/mindmate-chat/internal/transport/stomp"
)

const nickname = "sam"

type testEnv struct {
	t      *testing.T
	api    *fakeapi.Server
	broker *fakebroker.Broker
	engine *Engine
	events bus.Subscription
	// down makes every dial fail with a network error.
	down atomic.Bool
}

func newTestEnv(t *testing.T, opts ...func(*Deps)) *testEnv {
	t.Helper()

	env := &testEnv{t: t, api: fakeapi.New(t)}
	token := env.api.Token(t, nickname, time.Hour)
	env.broker = fakebroker.New(t, token)

	tokens := auth.NewStaticToken(token, 0)
	rest, err := transporthttp.NewClient(env.api.URL, tokens, 2*time.Second, nil)
	if err != nil {
		t.Fatalf("rest client: %v", err)
	}

	wire := &stomp.Dialer{URL: env.broker.WSURL(), HandshakeTimeout: 2 * time.Second}
	dialer := connection.DialFunc(func(ctx context.Context, token string) (connection.Session, error) {
		if env.down.Load() {
			return nil, core.NetworkError("broker unreachable", nil)
		}
		return wire.Dial(ctx, token)
	})

	deps := Deps{
		Dialer:     dialer,
		Tokens:     tokens,
		Identity:   auth.NewIdentity("", tokens),
		History:    history.NewLoader(rest, nil),
		Moderation: moderation.NewClient(rest, nil, moderation.DefaultCooldown, nil),
		Policy: connection.Policy{
			InitialDelay: 5 * time.Millisecond,
			MaxDelay:     20 * time.Millisecond,
			Multiplier:   2,
			MaxAttempts:  200,
			MaxElapsed:   time.Minute,
		},
		MaxAttempts: 3,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	env.engine = New(deps)
	env.events = env.engine.Events()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		env.engine.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return env
}

func (env *testEnv) ctx() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	env.t.Cleanup(cancel)
	return ctx
}

func (env *testEnv) enter(room string) {
	env.t.Helper()
	if err := env.engine.EnterRoom(env.ctx(), room); err != nil {
		env.t.Fatalf("enter %s: %v", room, err)
	}
}

func (env *testEnv) waitState(want core.ConnectionState) {
	env.t.Helper()
	eventually(env.t, func() bool {
		s, err := env.engine.State(env.ctx())
		return err == nil && s == want
	}, "connection state "+want.String())
}

func (env *testEnv) waitSubscribed(room string) {
	env.t.Helper()
	eventually(env.t, func() bool { return env.broker.Subscribed(room) }, "subscription to "+room)
}

func eventually(t *testing.T, cond func() bool, what string) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func mustEvent(t *testing.T, sub bus.Subscription, kind core.EventKind) core.Event {
	t.Helper()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case v := <-sub:
			if evt, ok := v.(core.Event); ok && evt.Kind == kind {
				return evt
			}
		case <-deadline:
			t.Fatalf("expected event kind %v not received", kind)
			return core.Event{}
		}
	}
}

func ids(msgs []core.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func stateOf(msgs []core.Message, corr string) (core.DeliveryState, bool) {
	for _, m := range msgs {
		if m.CorrelationID == corr {
			return m.State, true
		}
	}
	return 0, false
}
