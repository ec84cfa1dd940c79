package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/mindmate-chat/internal/auth"
	"github.com/vovakirdan/mindmate-chat/internal/bus"
	"github.com/vovakirdan/mindmate-chat/internal/connection"
	"github.com/vovakirdan/mindmate-chat/internal/core"
	"github.com/vovakirdan/mindmate-chat/internal/log"
	"github.com/vovakirdan/mindmate-chat/internal/moderation"
	"github.com/vovakirdan/mindmate-chat/internal/outbox"
	"github.com/vovakirdan/mindmate-chat/internal/router"
	"github.com/vovakirdan/mindmate-chat/internal/store"
)

// HistoryFetcher loads a room's persisted messages.
type HistoryFetcher interface {
	Fetch(ctx context.Context, room string) ([]core.Message, error)
}

// Reporter issues report-user actions.
type Reporter interface {
	Report(ctx context.Context, reporter, reported, room string) (moderation.Result, error)
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Dialer     connection.Dialer
	Tokens     auth.TokenProvider
	Identity   auth.IdentityProvider
	History    HistoryFetcher
	Moderation Reporter
	Bus        bus.EventBus
	Policy     connection.Policy
	// MaxAttempts caps publish attempts per message.
	MaxAttempts int
	// AckTimeout fails a published message whose echo does not arrive in
	// time. Zero waits forever.
	AckTimeout time.Duration
	Logger     *zerolog.Logger
}

type roomEntry struct {
	gen    uint64
	cancel context.CancelFunc
}

// Engine is the chat synchronization core. All state changes run on a single
// loop; the exported methods are safe to call from any goroutine.
type Engine struct {
	loop       *core.Loop
	conn       *connection.Manager
	router     *router.Router
	store      *store.MessageStore
	outbox     *outbox.Outbox
	history    HistoryFetcher
	moderation Reporter
	identity   auth.IdentityProvider
	bus        bus.EventBus
	logger     *zerolog.Logger
	now        func() time.Time

	rooms map[string]*roomEntry
	gen   uint64
}

// New wires an engine. Call Run to start processing.
func New(deps Deps) *Engine {
	logger := log.OrNop(deps.Logger)
	eventBus := deps.Bus
	if eventBus == nil {
		eventBus = bus.New(0, logger)
	}

	e := &Engine{
		loop:       core.NewLoop(256),
		store:      store.NewMessageStore(),
		history:    deps.History,
		moderation: deps.Moderation,
		identity:   deps.Identity,
		bus:        eventBus,
		logger:     logger,
		now:        time.Now,
		rooms:      make(map[string]*roomEntry),
	}
	e.conn = connection.New(deps.Dialer, deps.Tokens, e.loop, deps.Policy, logger)
	e.router = router.New(e.conn, logger)
	e.outbox = outbox.New(e.conn, e.store, deps.MaxAttempts, logger)
	e.outbox.AckTimeout = deps.AckTimeout
	e.outbox.Schedule = e.schedule

	e.conn.AttachRouter(e.router)
	e.conn.OnStateChange(e.onStateChange)
	e.router.OnError(e.onProtocolError)
	e.outbox.OnFailed(e.onMessageFailed)
	return e
}

// Run processes work until ctx is cancelled, then tears the connection down.
func (e *Engine) Run(ctx context.Context) {
	go e.forwardChanges(ctx)
	e.loop.Run(ctx)

	// The loop has stopped; nothing else touches engine state now.
	for room, entry := range e.rooms {
		entry.cancel()
		delete(e.rooms, room)
	}
	e.conn.Disconnect()
	e.logger.Debug().Msg("engine stopped")
}

// Events subscribes to engine events. No topics means every event.
func (e *Engine) Events(topics ...string) bus.Subscription {
	return e.bus.Subscribe(topics...)
}

// Unsubscribe releases a subscription returned by Events.
func (e *Engine) Unsubscribe(sub bus.Subscription) {
	e.bus.Unsubscribe(sub)
}

// Connect asks for a live connection. It is how a caller leaves Failed.
func (e *Engine) Connect(ctx context.Context) error {
	return e.loop.Do(ctx, e.conn.Connect)
}

// Disconnect closes the live connection. Joined rooms stay joined and are
// resubscribed on the next Connect.
func (e *Engine) Disconnect(ctx context.Context) error {
	return e.loop.Do(ctx, e.conn.Disconnect)
}

// State returns the connection state.
func (e *Engine) State(ctx context.Context) (core.ConnectionState, error) {
	var state core.ConnectionState
	err := e.loop.Do(ctx, func() { state = e.conn.State() })
	return state, err
}

// EnterRoom joins room: it starts the single history fetch of this entry,
// binds the live subscription and connects if disconnected. Entering a joined
// room is a no-op.
func (e *Engine) EnterRoom(ctx context.Context, room string) error {
	if room == "" {
		return core.ValidationError("enter room", core.ErrUnknownRoom)
	}
	return e.loop.Do(ctx, func() {
		if _, ok := e.rooms[room]; ok {
			return
		}
		e.gen++
		gen := e.gen
		fetchCtx, cancel := context.WithCancel(context.Background())
		e.rooms[room] = &roomEntry{gen: gen, cancel: cancel}

		e.router.Subscribe(room, func(msg core.Message) { e.onMessage(room, msg) })
		if e.conn.State() == core.StateDisconnected {
			e.conn.Connect()
		}
		e.logger.Info().Str("room", room).Msg("entered room")

		go e.fetchHistory(fetchCtx, room, gen)
	})
}

// LeaveRoom cancels the room's history fetch and drops its subscription.
// Messages of the room still waiting for delivery become Failed. The last
// room leaving closes the connection.
func (e *Engine) LeaveRoom(ctx context.Context, room string) error {
	return e.loop.Do(ctx, func() {
		entry, ok := e.rooms[room]
		if !ok {
			return
		}
		entry.cancel()
		delete(e.rooms, room)
		failed := e.outbox.FailRoom(room, outbox.ErrRoomLeft)
		e.router.Unsubscribe(room)
		e.logger.Info().Str("room", room).Int("failed", failed).Msg("left room")
	})
}

// Rooms lists the joined rooms.
func (e *Engine) Rooms(ctx context.Context) ([]string, error) {
	var rooms []string
	err := e.loop.Do(ctx, func() { rooms = e.router.Rooms() })
	return rooms, err
}

// Send queues content for room under the user's nickname and returns its
// correlation id.
func (e *Engine) Send(ctx context.Context, room, content string) (string, error) {
	nickname, err := e.identity.Nickname(ctx)
	if err != nil {
		return "", err
	}

	var (
		corr    string
		sendErr error
	)
	err = e.loop.Do(ctx, func() {
		if _, ok := e.rooms[room]; !ok {
			sendErr = core.ValidationError("send to "+room, core.ErrUnknownRoom)
			return
		}
		corr, sendErr = e.outbox.Enqueue(room, content, nickname)
	})
	if err != nil {
		return "", err
	}
	return corr, sendErr
}

// Retry re-queues a failed message and returns its new correlation id.
// The message's room must be joined.
func (e *Engine) Retry(ctx context.Context, correlationID string) (string, error) {
	var (
		corr     string
		retryErr error
	)
	err := e.loop.Do(ctx, func() {
		if entry, ok := e.outbox.Lookup(correlationID); ok {
			if _, joined := e.rooms[entry.Message.Room]; !joined {
				retryErr = core.ValidationError("retry in "+entry.Message.Room, core.ErrUnknownRoom)
				return
			}
		}
		corr, retryErr = e.outbox.Retry(correlationID)
	})
	if err != nil {
		return "", err
	}
	return corr, retryErr
}

// Discard drops a failed message the user gave up on.
func (e *Engine) Discard(ctx context.Context, correlationID string) (bool, error) {
	var ok bool
	err := e.loop.Do(ctx, func() { ok = e.outbox.Discard(correlationID) })
	return ok, err
}

// Pending lists the room's unacknowledged outgoing messages.
func (e *Engine) Pending(ctx context.Context, room string) ([]outbox.Entry, error) {
	var entries []outbox.Entry
	err := e.loop.Do(ctx, func() { entries = e.outbox.Pending(room) })
	return entries, err
}

// Messages returns a snapshot of the room's ordered log.
func (e *Engine) Messages(room string) []core.Message {
	return e.store.Messages(room)
}

// Report reports another participant of room.
func (e *Engine) Report(ctx context.Context, reported, room string) (moderation.Result, error) {
	reporter, err := e.identity.Nickname(ctx)
	if err != nil {
		return 0, err
	}
	return e.moderation.Report(ctx, reporter, reported, room)
}

func (e *Engine) fetchHistory(ctx context.Context, room string, gen uint64) {
	msgs, err := e.history.Fetch(ctx, room)
	e.loop.Post(func() {
		entry, ok := e.rooms[room]
		if !ok || entry.gen != gen {
			e.logger.Debug().Str("room", room).Msg("discarding history of a left room")
			return
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			e.logger.Warn().Err(err).Str("room", room).Msg("history fetch failed")
			e.publish(core.Event{Kind: core.EventHistoryFailed, Room: room, Err: err})
			if errors.Is(err, core.ErrAuth) {
				e.publish(core.Event{Kind: core.EventAuthError, Room: room, Err: err})
			}
			return
		}
		added := e.store.Seed(room, msgs)
		for _, m := range msgs {
			if m.CorrelationID != "" {
				e.outbox.Acknowledge(m.CorrelationID)
			}
		}
		e.logger.Debug().Str("room", room).Int("added", added).Msg("history seeded")
	})
}

func (e *Engine) onMessage(room string, msg core.Message) {
	result := e.store.Append(room, msg)
	if msg.CorrelationID != "" && (result == store.Reconciled || result == store.Duplicate) {
		e.outbox.Acknowledge(msg.CorrelationID)
	}
	e.logger.Debug().Str("room", room).Str("id", msg.ID).Str("result", result.String()).Msg("frame applied")
}

func (e *Engine) onStateChange(change core.StateChange) {
	e.publish(core.Event{
		Kind:     core.EventConnectionState,
		State:    change.To,
		Previous: change.From,
		Err:      change.Err,
	})

	switch change.To {
	case core.StateConnected:
		if n := e.outbox.FlushAll(); n > 0 {
			e.logger.Info().Int("published", n).Bool("resumed", change.Resumed).Msg("outbox flushed")
		}
	case core.StateFailed:
		kind := core.EventConnectionFailed
		if errors.Is(change.Err, core.ErrAuth) {
			kind = core.EventAuthError
		}
		e.publish(core.Event{Kind: kind, State: change.To, Previous: change.From, Err: change.Err})
	}
}

// schedule runs fn on the loop after d.
func (e *Engine) schedule(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, func() { e.loop.Post(fn) })
	return func() { t.Stop() }
}

func (e *Engine) onProtocolError(room string, err error) {
	e.publish(core.Event{Kind: core.EventProtocolError, Room: room, Err: err})
}

func (e *Engine) onMessageFailed(msg core.Message, err error) {
	m := msg
	e.publish(core.Event{Kind: core.EventMessageFailed, Room: msg.Room, Message: &m, Err: err})
}

// forwardChanges turns store change notifications into RoomUpdated events.
func (e *Engine) forwardChanges(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case room := <-e.store.Changes():
			e.publish(core.Event{Kind: core.EventRoomUpdated, Room: room})
		}
	}
}

func (e *Engine) publish(evt core.Event) {
	if evt.At.IsZero() {
		evt.At = e.now()
	}
	e.bus.Publish(evt)
}
