package stomp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vovakirdan/mindmate-chat/internal/connection"
	"github.com/vovakirdan/mindmate-chat/internal/core"
	"github.com/vovakirdan/mindmate-chat/internal/proto"
	"github.com/vovakirdan/mindmate-chat/internal/testkit/fakebroker"
)

func dial(t *testing.T, b *fakebroker.Broker, token string) (connection.Session, error) {
	t.Helper()
	d := &Dialer{URL: b.WSURL(), HandshakeTimeout: 2 * time.Second}
	return d.Dial(context.Background(), token)
}

func mustFrame(t *testing.T, sess connection.Session) connection.Frame {
	t.Helper()
	select {
	case f, ok := <-sess.Frames():
		if !ok {
			t.Fatalf("frames closed: %v", sess.Err())
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("no frame received")
	}
	return connection.Frame{}
}

func waitSubscribed(t *testing.T, b *fakebroker.Broker, room string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if b.Subscribed(room) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("room %s never subscribed", room)
}

func TestPublishIsEchoedToSubscription(t *testing.T) {
	b := fakebroker.New(t, "secret")
	sess, err := dial(t, b, "secret")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer sess.Close()

	if err := sess.Subscribe("anxiety"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := sess.Subscribe("anxiety"); err != nil {
		t.Fatalf("second subscribe must be a no-op: %v", err)
	}
	waitSubscribed(t, b, "anxiety")

	out := proto.SendMessage{Room: "anxiety", SenderNickname: "sam", Content: "hello", CorrelationID: "c-1"}
	if err := sess.Publish(out); err != nil {
		t.Fatalf("publish: %v", err)
	}

	f := mustFrame(t, sess)
	if f.Room != "anxiety" || f.Destination != "/topic/chat.anxiety" {
		t.Fatalf("unexpected frame routing %+v", f)
	}
	msg, err := proto.DecodeChatMessage(f.Body)
	if err != nil {
		t.Fatalf("decode echo: %v", err)
	}
	if msg.CorrelationID != "c-1" || msg.Content != "hello" {
		t.Fatalf("unexpected echo %+v", msg)
	}

	sent := b.Sent()
	if len(sent) != 1 || sent[0] != out {
		t.Fatalf("broker received %+v", sent)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := fakebroker.New(t, "secret")
	sess, err := dial(t, b, "secret")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer sess.Close()

	_ = sess.Subscribe("anxiety")
	waitSubscribed(t, b, "anxiety")
	if err := sess.Unsubscribe("anxiety"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for b.Subscribed("anxiety") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if b.Subscribed("anxiety") {
		t.Fatalf("broker still has the subscription")
	}
}

func TestBadTokenInConnectFrameIsAuthError(t *testing.T) {
	b := fakebroker.New(t, "secret")

	_, err := dial(t, b, "wrong")
	if !errors.Is(err, core.ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestRejectedUpgradeIsAuthError(t *testing.T) {
	b := fakebroker.New(t, "secret")
	b.RejectUpgrades(true)

	_, err := dial(t, b, "wrong")
	if !errors.Is(err, core.ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestUnreachableBrokerIsNetworkError(t *testing.T) {
	d := &Dialer{URL: "ws://127.0.0.1:1/ws-chat/websocket", HandshakeTimeout: time.Second}
	_, err := d.Dial(context.Background(), "secret")
	if !errors.Is(err, core.ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestBrokerDropEndsSession(t *testing.T) {
	b := fakebroker.New(t, "secret")
	sess, err := dial(t, b, "secret")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = sess.Subscribe("anxiety")
	waitSubscribed(t, b, "anxiety")

	b.DropAll()

	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not notice the drop")
	}
	for range sess.Frames() {
	}
	if !errors.Is(sess.Err(), core.ErrNetwork) {
		t.Fatalf("expected network error, got %v", sess.Err())
	}
}

func TestCloseEndsSessionWithoutError(t *testing.T) {
	b := fakebroker.New(t, "secret")
	sess, err := dial(t, b, "secret")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = sess.Subscribe("anxiety")

	if err := sess.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	for range sess.Frames() {
	}
	if sess.Err() != nil {
		t.Fatalf("expected clean close, got %v", sess.Err())
	}
	if err := sess.Subscribe("loneliness"); !errors.Is(err, core.ErrNotConnected) {
		t.Fatalf("expected not connected after close, got %v", err)
	}
}
