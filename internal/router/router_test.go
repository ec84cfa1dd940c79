package router

import (
	"errors"
	"testing"

	"github.com/vovakirdan/mindmate-chat/internal/connection"
	"github.com/vovakirdan/mindmate-chat/internal/core"
)

type fakeWire struct {
	state        core.ConnectionState
	ops          []string
	disconnected int
}

func (w *fakeWire) State() core.ConnectionState { return w.state }

func (w *fakeWire) Subscribe(room string) error {
	if w.state != core.StateConnected {
		return core.ErrNotConnected
	}
	w.ops = append(w.ops, "sub:"+room)
	return nil
}

func (w *fakeWire) Unsubscribe(room string) error {
	w.ops = append(w.ops, "unsub:"+room)
	return nil
}

func (w *fakeWire) Disconnect() {
	w.disconnected++
	w.state = core.StateDisconnected
}

func count(ops []string, op string) int {
	n := 0
	for _, o := range ops {
		if o == op {
			n++
		}
	}
	return n
}

func TestSubscribeIsIdempotent(t *testing.T) {
	w := &fakeWire{state: core.StateConnected}
	r := New(w, nil)

	var first, second int
	r.Subscribe("anxiety", func(core.Message) { first++ })
	r.Subscribe("anxiety", func(core.Message) { second++ })

	if n := count(w.ops, "sub:anxiety"); n != 1 {
		t.Fatalf("expected one wire subscription, got %d (%v)", n, w.ops)
	}

	r.Dispatch(connection.Frame{Room: "anxiety", Body: []byte(`{"id":"1","senderNickname":"kim","content":"hi","timestamp":100}`)})
	if first != 0 || second != 1 {
		t.Fatalf("expected replaced handler to receive frame, got first=%d second=%d", first, second)
	}
}

func TestRoomsSubscribedOfflineAreWiredOnResubscribe(t *testing.T) {
	w := &fakeWire{state: core.StateDisconnected}
	r := New(w, nil)

	r.Subscribe("loneliness", func(core.Message) {})
	r.Subscribe("anxiety", func(core.Message) {})
	if len(w.ops) != 0 {
		t.Fatalf("no wire traffic expected while offline, got %v", w.ops)
	}

	w.state = core.StateConnected
	r.Resubscribe()
	if len(w.ops) != 2 || w.ops[0] != "sub:anxiety" || w.ops[1] != "sub:loneliness" {
		t.Fatalf("unexpected resubscription %v", w.ops)
	}

	// A new session gets a full resubscription again.
	r.Resubscribe()
	if n := count(w.ops, "sub:anxiety"); n != 2 {
		t.Fatalf("expected resubscription per session, got %v", w.ops)
	}
}

func TestUnsubscribeLastRoomDisconnects(t *testing.T) {
	w := &fakeWire{state: core.StateConnected}
	r := New(w, nil)

	r.Subscribe("anxiety", func(core.Message) {})
	r.Subscribe("depression", func(core.Message) {})

	r.Unsubscribe("anxiety")
	if w.disconnected != 0 {
		t.Fatalf("must stay connected while a room is active")
	}
	r.Unsubscribe("anxiety")
	if n := count(w.ops, "unsub:anxiety"); n != 1 {
		t.Fatalf("expected one unsubscribe, got %v", w.ops)
	}

	r.Unsubscribe("depression")
	if w.disconnected != 1 {
		t.Fatalf("expected disconnect after last room, got %d", w.disconnected)
	}
}

func TestDispatchDropsInvalidFrames(t *testing.T) {
	w := &fakeWire{state: core.StateConnected}
	r := New(w, nil)

	var dropped []error
	r.OnError(func(_ string, err error) { dropped = append(dropped, err) })

	delivered := 0
	r.Subscribe("anxiety", func(core.Message) { delivered++ })

	frames := []connection.Frame{
		{Room: "student-life", Body: []byte(`{"id":"1","senderNickname":"kim","content":"hi","timestamp":100}`)},
		{Room: "anxiety", Body: []byte(`{"content":"no id"}`)},
		{Room: "anxiety", Body: []byte(`not json`)},
		{Room: "anxiety", Body: []byte(`{"id":"2","senderNickname":"kim","content":"ok","timestamp":"2024-05-01T10:00:00"}`)},
	}
	for _, f := range frames {
		r.Dispatch(f)
	}

	if delivered != 1 {
		t.Fatalf("expected one delivered frame, got %d", delivered)
	}
	if len(dropped) != 3 {
		t.Fatalf("expected 3 dropped frames, got %d", len(dropped))
	}
	for _, err := range dropped {
		if !errors.Is(err, core.ErrProtocol) {
			t.Fatalf("expected protocol error, got %v", err)
		}
	}
}
