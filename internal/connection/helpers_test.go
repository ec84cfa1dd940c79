package connection

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/mindmate-chat/internal/auth"
	"github.com/vovakirdan/mindmate-chat/internal/core"
	"github.com/vovakirdan/mindmate-chat/internal/proto"
)

type fakeSession struct {
	mu         sync.Mutex
	ops        []string
	publishErr error

	frames    chan Frame
	done      chan struct{}
	err       error
	closeOnce sync.Once
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		frames: make(chan Frame, 16),
		done:   make(chan struct{}),
	}
}

func (s *fakeSession) record(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, op)
}

func (s *fakeSession) Ops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ops...)
}

func (s *fakeSession) Subscribe(room string) error {
	s.record("sub:" + room)
	return nil
}

func (s *fakeSession) Unsubscribe(room string) error {
	s.record("unsub:" + room)
	return nil
}

func (s *fakeSession) Publish(msg proto.SendMessage) error {
	s.mu.Lock()
	err := s.publishErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.record("pub:" + msg.CorrelationID)
	return nil
}

func (s *fakeSession) Frames() <-chan Frame  { return s.frames }
func (s *fakeSession) Done() <-chan struct{} { return s.done }

func (s *fakeSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeSession) Close() error {
	s.drop(nil)
	return nil
}

func (s *fakeSession) drop(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.frames)
		close(s.done)
	})
}

type dialResult struct {
	sess Session
	err  error
}

// fakeDialer hands out queued results, blocking until one is available.
type fakeDialer struct {
	results chan dialResult
	mu      sync.Mutex
	dials   int
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{results: make(chan dialResult, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context, _ string) (Session, error) {
	d.mu.Lock()
	d.dials++
	d.mu.Unlock()
	select {
	case r := <-d.results:
		return r.sess, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type fakeRouter struct {
	log        func(string)
	dispatched chan Frame
}

func (r *fakeRouter) Subscribe(room string, _ func(core.Message)) { r.log("route:" + room) }
func (r *fakeRouter) Dispatch(frame Frame)                        { r.dispatched <- frame }
func (r *fakeRouter) Resubscribe()                                { r.log("resubscribe") }

type harness struct {
	t       *testing.T
	loop    *core.Loop
	dialer  *fakeDialer
	manager *Manager
	router  *fakeRouter
	changes chan core.StateChange

	mu    sync.Mutex
	trace []string
}

func fastPolicy(maxAttempts int) Policy {
	return Policy{
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
		MaxAttempts:  maxAttempts,
		MaxElapsed:   time.Minute,
	}
}

func newHarness(t *testing.T, tokens auth.TokenProvider, policy Policy) *harness {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	loop := core.NewLoop(64)
	go loop.Run(ctx)

	h := &harness{
		t:       t,
		loop:    loop,
		dialer:  newFakeDialer(),
		changes: make(chan core.StateChange, 32),
	}
	if tokens == nil {
		tokens = auth.TokenFunc(func(context.Context) (string, error) { return "token", nil })
	}
	h.router = &fakeRouter{log: h.record, dispatched: make(chan Frame, 16)}
	h.manager = New(h.dialer, tokens, loop, policy, nil)
	h.do(func() {
		h.manager.AttachRouter(h.router)
		h.manager.OnStateChange(func(c core.StateChange) {
			h.record("state:" + c.To.String())
			h.changes <- c
		})
	})
	return h
}

func (h *harness) record(s string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.trace = append(h.trace, s)
}

func (h *harness) Trace() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.trace...)
}

// do runs fn on the loop and waits for it.
func (h *harness) do(fn func()) {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.loop.Do(ctx, fn); err != nil {
		h.t.Fatalf("loop: %v", err)
	}
}

func (h *harness) state() core.ConnectionState {
	var s core.ConnectionState
	h.do(func() { s = h.manager.State() })
	return s
}

func mustChange(t *testing.T, ch <-chan core.StateChange, to core.ConnectionState) core.StateChange {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case c := <-ch:
			if c.To == to {
				return c
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected transition to %v not received", to)
	return core.StateChange{}
}

func assertNoChange(t *testing.T, ch <-chan core.StateChange) {
	t.Helper()
	select {
	case c := <-ch:
		t.Fatalf("unexpected transition %v -> %v", c.From, c.To)
	case <-time.After(50 * time.Millisecond):
	}
}

func indexOf(items []string, want string) int {
	for i, s := range items {
		if s == want {
			return i
		}
	}
	return -1
}

func lastIndexOf(items []string, want string) int {
	for i := len(items) - 1; i >= 0; i-- {
		if items[i] == want {
			return i
		}
	}
	return -1
}

func errNetwork(n int) error {
	return core.NetworkError(fmt.Sprintf("dial failed %d", n), nil)
}
