package outbox

import (
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/mindmate-chat/internal/core"
	"github.com/vovakirdan/mindmate-chat/internal/log"
	"github.com/vovakirdan/mindmate-chat/internal/proto"
	"github.com/vovakirdan/mindmate-chat/internal/utils"
)

// DefaultMaxAttempts is the publish attempt cap used when none is configured.
const DefaultMaxAttempts = 3

var (
	// ErrAckTimeout marks a published message whose echo never arrived.
	ErrAckTimeout = errors.New("no echo before the acknowledgement deadline")
	// ErrRoomLeft marks messages still queued when their room was left.
	ErrRoomLeft = errors.New("room was left before delivery")
)

// Publisher is the part of the connection manager the outbox publishes through.
type Publisher interface {
	State() core.ConnectionState
	Publish(msg proto.SendMessage) error
}

// Store is where optimistic copies of queued messages live.
type Store interface {
	InsertOptimistic(room string, msg core.Message)
	MarkState(room, correlationID string, state core.DeliveryState) bool
	Discard(room, correlationID string) bool
}

// FailedFunc is called once when an entry becomes Failed.
type FailedFunc func(msg core.Message, err error)

// Scheduler runs fn on the outbox's loop after d. The returned func cancels it.
type Scheduler func(d time.Duration, fn func()) (cancel func())

// Entry is a message the server has not acknowledged yet.
type Entry struct {
	Message  core.Message
	Attempts int

	cancelAck func()
}

// Outbox queues locally composed messages and publishes them in enqueue
// order once the connection is up. It runs on the engine loop.
type Outbox struct {
	pub         Publisher
	store       Store
	maxAttempts int
	logger      *zerolog.Logger
	onFailed    FailedFunc

	NewID utils.IDFunc
	Now   func() time.Time
	// AckTimeout bounds how long a Sent entry waits for its echo. Zero or a
	// nil Schedule disables the deadline.
	AckTimeout time.Duration
	Schedule   Scheduler

	queue  []*Entry
	byCorr map[string]*Entry
}

// New constructs an outbox. maxAttempts <= 0 uses DefaultMaxAttempts.
func New(pub Publisher, store Store, maxAttempts int, logger *zerolog.Logger) *Outbox {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Outbox{
		pub:         pub,
		store:       store,
		maxAttempts: maxAttempts,
		logger:      log.OrNop(logger),
		NewID:       utils.NewCorrelationID,
		Now:         time.Now,
		byCorr:      make(map[string]*Entry),
	}
}

// OnFailed registers the callback for entries that became Failed.
func (o *Outbox) OnFailed(fn FailedFunc) {
	o.onFailed = fn
}

// Enqueue queues content for room and returns its correlation id. When
// connected the room is flushed right away, behind any older queued entry.
func (o *Outbox) Enqueue(room, content, senderNickname string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", core.ValidationError("send message", errors.New("content is empty"))
	}
	if room == "" {
		return "", core.ValidationError("send message", errors.New("room is required"))
	}

	msg := core.Message{
		Room:           room,
		SenderNickname: senderNickname,
		Content:        content,
		Timestamp:      o.Now(),
		State:          core.DeliveryPending,
		CorrelationID:  o.NewID(),
	}
	e := &Entry{Message: msg}
	o.queue = append(o.queue, e)
	o.byCorr[msg.CorrelationID] = e
	o.store.InsertOptimistic(room, msg)

	o.logger.Debug().Str("room", room).Str("correlation_id", msg.CorrelationID).Msg("message queued")

	if o.pub.State() == core.StateConnected {
		o.Flush(room)
	}
	return msg.CorrelationID, nil
}

// Flush publishes the room's queued entries in enqueue order. It stops at the
// first entry that could not be published so later ones cannot overtake it.
func (o *Outbox) Flush(room string) int {
	published := 0
	for _, e := range o.snapshot() {
		if e.Message.Room != room || e.Message.State != core.DeliveryPending {
			continue
		}
		if err := o.publish(e); err != nil {
			if e.Message.State == core.DeliveryFailed {
				continue
			}
			break
		}
		published++
	}
	return published
}

// FlushAll flushes every room with queued entries.
func (o *Outbox) FlushAll() int {
	published := 0
	for _, room := range o.rooms() {
		published += o.Flush(room)
	}
	return published
}

// Acknowledge hands the entry over to the store once its echo arrived.
// A late echo also settles an entry already marked Failed: the server has the
// message, so it must not be offered for retry.
func (o *Outbox) Acknowledge(correlationID string) bool {
	e, ok := o.byCorr[correlationID]
	if !ok {
		return false
	}
	late := e.Message.State == core.DeliveryFailed
	e.Message.State = core.DeliveryAcknowledged
	o.remove(e)
	o.logger.Debug().
		Str("room", e.Message.Room).
		Str("correlation_id", correlationID).
		Bool("late", late).
		Msg("message acknowledged")
	return true
}

// FailRoom marks every undelivered entry of room Failed with cause and
// returns how many were failed.
func (o *Outbox) FailRoom(room string, cause error) int {
	failed := 0
	for _, e := range o.snapshot() {
		if e.Message.Room != room || e.Message.State == core.DeliveryFailed {
			continue
		}
		o.fail(e, core.PublishError("deliver to "+room, cause))
		failed++
	}
	return failed
}

// Lookup returns the entry for correlationID.
func (o *Outbox) Lookup(correlationID string) (Entry, bool) {
	e, ok := o.byCorr[correlationID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Retry discards a Failed entry and queues its content again under a new
// correlation id.
func (o *Outbox) Retry(correlationID string) (string, error) {
	e, ok := o.byCorr[correlationID]
	if !ok {
		return "", core.ValidationError("retry message", errors.New("unknown correlation id"))
	}
	if e.Message.State != core.DeliveryFailed {
		return "", core.ValidationError("retry message", errors.New("message has not failed"))
	}
	o.Discard(correlationID)
	return o.Enqueue(e.Message.Room, e.Message.Content, e.Message.SenderNickname)
}

// Discard drops a Failed entry the user gave up on.
func (o *Outbox) Discard(correlationID string) bool {
	e, ok := o.byCorr[correlationID]
	if !ok || e.Message.State != core.DeliveryFailed {
		return false
	}
	o.remove(e)
	o.store.Discard(e.Message.Room, correlationID)
	return true
}

// Pending lists the room's unacknowledged entries in enqueue order.
// An empty room lists every room.
func (o *Outbox) Pending(room string) []Entry {
	var out []Entry
	for _, e := range o.queue {
		if room == "" || e.Message.Room == room {
			out = append(out, *e)
		}
	}
	return out
}

// Failed lists entries waiting for the user to retry or discard them.
func (o *Outbox) Failed(room string) []Entry {
	var out []Entry
	for _, e := range o.Pending(room) {
		if e.Message.State == core.DeliveryFailed {
			out = append(out, e)
		}
	}
	return out
}

func (o *Outbox) publish(e *Entry) error {
	e.Attempts++
	err := o.pub.Publish(proto.SendMessage{
		Room:           e.Message.Room,
		SenderNickname: e.Message.SenderNickname,
		Content:        e.Message.Content,
		CorrelationID:  e.Message.CorrelationID,
	})
	logger := o.logger.With().
		Str("room", e.Message.Room).
		Str("correlation_id", e.Message.CorrelationID).
		Int("attempt", e.Attempts).
		Logger()

	if err != nil {
		if e.Attempts >= o.maxAttempts {
			o.fail(e, err)
			return err
		}
		logger.Debug().Err(err).Msg("publish failed, keeping message queued")
		return err
	}

	e.Message.State = core.DeliverySent
	o.store.MarkState(e.Message.Room, e.Message.CorrelationID, core.DeliverySent)
	if o.AckTimeout > 0 && o.Schedule != nil {
		e.cancelAck = o.Schedule(o.AckTimeout, func() { o.ackExpired(e) })
	}
	logger.Debug().Msg("message published")
	return nil
}

func (o *Outbox) ackExpired(e *Entry) {
	if o.byCorr[e.Message.CorrelationID] != e || e.Message.State != core.DeliverySent {
		return
	}
	o.fail(e, core.PublishError("await echo", ErrAckTimeout))
}

func (o *Outbox) fail(e *Entry, err error) {
	o.stopAck(e)
	e.Message.State = core.DeliveryFailed
	o.store.MarkState(e.Message.Room, e.Message.CorrelationID, core.DeliveryFailed)
	o.logger.Warn().Err(err).
		Str("room", e.Message.Room).
		Str("correlation_id", e.Message.CorrelationID).
		Int("attempt", e.Attempts).
		Msg("message failed")
	if o.onFailed != nil {
		o.onFailed(e.Message, err)
	}
}

func (o *Outbox) stopAck(e *Entry) {
	if e.cancelAck != nil {
		e.cancelAck()
		e.cancelAck = nil
	}
}

func (o *Outbox) snapshot() []*Entry {
	return append([]*Entry(nil), o.queue...)
}

func (o *Outbox) rooms() []string {
	seen := make(map[string]bool)
	var rooms []string
	for _, e := range o.queue {
		if !seen[e.Message.Room] {
			seen[e.Message.Room] = true
			rooms = append(rooms, e.Message.Room)
		}
	}
	return rooms
}

func (o *Outbox) remove(e *Entry) {
	o.stopAck(e)
	delete(o.byCorr, e.Message.CorrelationID)
	for i, q := range o.queue {
		if q == e {
			o.queue = append(o.queue[:i], o.queue[i+1:]...)
			return
		}
	}
}
