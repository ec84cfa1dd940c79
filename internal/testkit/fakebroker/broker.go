// Package fakebroker is an in-process STOMP-over-WebSocket broker that echoes
// /app/chat.send to /topic/chat.{room}, used by package tests.
package fakebroker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-stomp/stomp/v3/frame"

	"github.com/vovakirdan/mindmate-chat/internal/proto"
)

// Broker accepts connections whose CONNECT frame carries the expected bearer
// token and echoes every SEND to the subscribers of the message's room.
type Broker struct {
	*httptest.Server

	mu       sync.Mutex
	token    string
	clients  map[*client]struct{}
	sent     []proto.SendMessage
	ops      []string
	connects int
	nextID   int
	now      func() time.Time
	rejectUp bool
	noEcho   bool
}

type client struct {
	conn   *websocket.Conn
	writer *frame.Writer
	wmu    sync.Mutex
	// subscriptions maps destination to subscription id.
	subscriptions map[string]string
	cancel        context.CancelFunc
}

// New starts a broker requiring token and closes it when the test ends.
func New(t testing.TB, token string) *Broker {
	t.Helper()

	b := &Broker{
		token:   token,
		clients: make(map[*client]struct{}),
		now:     time.Now,
	}
	b.Server = httptest.NewServer(http.HandlerFunc(b.serveWS))
	t.Cleanup(func() {
		b.DropAll()
		b.Server.Close()
	})
	return b
}

// WSURL returns the ws:// endpoint of the broker.
func (b *Broker) WSURL() string {
	return "ws" + strings.TrimPrefix(b.Server.URL, "http")
}

// SetToken changes the accepted token.
func (b *Broker) SetToken(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.token = token
}

// RejectUpgrades makes the HTTP upgrade answer 401 when the bearer header is wrong.
func (b *Broker) RejectUpgrades(reject bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejectUp = reject
}

// SuppressEcho stops the broker from rebroadcasting SENDs.
func (b *Broker) SuppressEcho(suppress bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.noEcho = suppress
}

// Sent returns every SEND body received, in order.
func (b *Broker) Sent() []proto.SendMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]proto.SendMessage(nil), b.sent...)
}

// Ops returns the SUBSCRIBE, UNSUBSCRIBE and SEND frames seen, in order, as
// "SUBSCRIBE <destination>" or "SEND <correlation id>".
func (b *Broker) Ops() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.ops...)
}

// Connects returns how many STOMP sessions were accepted.
func (b *Broker) Connects() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connects
}

// Subscribed reports whether some client is subscribed to room.
func (b *Broker) Subscribed(room string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		if _, ok := c.subscriptions[proto.TopicForRoom(room)]; ok {
			return true
		}
	}
	return false
}

// Broadcast delivers body to every subscriber of room as if another client sent it.
func (b *Broker) Broadcast(room string, body string) {
	b.mu.Lock()
	targets := b.targets(proto.TopicForRoom(room))
	b.mu.Unlock()
	for c, sub := range targets {
		c.message(sub, proto.TopicForRoom(room), []byte(body))
	}
}

// DropAll severs every client connection.
func (b *Broker) DropAll() {
	b.mu.Lock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.clients = make(map[*client]struct{})
	b.mu.Unlock()

	for _, c := range clients {
		c.cancel()
		_ = c.conn.CloseNow()
	}
}

func (b *Broker) serveWS(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	want := "Bearer " + b.token
	rejectUp := b.rejectUp
	b.mu.Unlock()

	if rejectUp && r.Header.Get("Authorization") != want {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{"v12.stomp", "v11.stomp", "v10.stomp"},
	})
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	nc := websocket.NetConn(ctx, conn, websocket.MessageText)
	c := &client{
		conn:          conn,
		writer:        frame.NewWriter(nc),
		subscriptions: make(map[string]string),
		cancel:        cancel,
	}
	defer func() {
		b.mu.Lock()
		delete(b.clients, c)
		b.mu.Unlock()
		_ = conn.CloseNow()
	}()

	reader := frame.NewReader(nc)
	for {
		f, err := reader.Read()
		if err != nil {
			return
		}
		if f == nil {
			continue // heart-beat
		}
		if !b.handle(c, f) {
			return
		}
	}
}

func (b *Broker) handle(c *client, f *frame.Frame) bool {
	switch f.Command {
	case frame.CONNECT, frame.STOMP:
		b.mu.Lock()
		ok := f.Header.Get("Authorization") == "Bearer "+b.token
		if ok {
			b.connects++
			b.clients[c] = struct{}{}
		}
		b.mu.Unlock()
		if !ok {
			c.write(frame.New(frame.ERROR, frame.Message, "Unauthorized: invalid token"))
			return false
		}
		c.write(frame.New(frame.CONNECTED, frame.Version, "1.2", frame.HeartBeat, "0,0"))

	case frame.SUBSCRIBE:
		b.mu.Lock()
		c.subscriptions[f.Header.Get(frame.Destination)] = f.Header.Get(frame.Id)
		b.ops = append(b.ops, "SUBSCRIBE "+f.Header.Get(frame.Destination))
		b.mu.Unlock()

	case frame.UNSUBSCRIBE:
		id := f.Header.Get(frame.Id)
		b.mu.Lock()
		for dest, sub := range c.subscriptions {
			if sub == id {
				delete(c.subscriptions, dest)
				b.ops = append(b.ops, "UNSUBSCRIBE "+dest)
			}
		}
		b.mu.Unlock()

	case frame.SEND:
		b.receive(f)

	case frame.DISCONNECT:
		if receipt := f.Header.Get(frame.Receipt); receipt != "" {
			c.write(frame.New(frame.RECEIPT, frame.ReceiptId, receipt))
		}
		return false
	}
	return true
}

func (b *Broker) receive(f *frame.Frame) {
	var msg proto.SendMessage
	if err := json.Unmarshal(f.Body, &msg); err != nil {
		return
	}

	b.mu.Lock()
	b.sent = append(b.sent, msg)
	b.ops = append(b.ops, "SEND "+msg.CorrelationID)
	if b.noEcho {
		b.mu.Unlock()
		return
	}
	b.nextID++
	echo := proto.ChatMessage{
		ID:             proto.ID(strconv.Itoa(b.nextID)),
		SenderNickname: msg.SenderNickname,
		Content:        msg.Content,
		Timestamp:      proto.Timestamp{Time: b.now().UTC()},
		CorrelationID:  msg.CorrelationID,
	}
	dest := proto.TopicForRoom(msg.Room)
	targets := b.targets(dest)
	b.mu.Unlock()

	body, err := json.Marshal(echo)
	if err != nil {
		return
	}
	for c, sub := range targets {
		c.message(sub, dest, body)
	}
}

// targets must be called with b.mu held.
func (b *Broker) targets(dest string) map[*client]string {
	out := make(map[*client]string)
	for c := range b.clients {
		if sub, ok := c.subscriptions[dest]; ok {
			out[c] = sub
		}
	}
	return out
}

func (c *client) message(sub, dest string, body []byte) {
	f := frame.New(frame.MESSAGE,
		frame.Subscription, sub,
		frame.Destination, dest,
		frame.MessageId, strconv.FormatInt(time.Now().UnixNano(), 10),
		frame.ContentType, proto.ContentTypeJSON,
	)
	f.Body = body
	c.write(f)
}

func (c *client) write(f *frame.Frame) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.writer.Write(f)
}
