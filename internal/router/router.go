package router

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/mindmate-chat/internal/connection"
	"github.com/vovakirdan/mindmate-chat/internal/core"
	"github.com/vovakirdan/mindmate-chat/internal/log"
	"github.com/vovakirdan/mindmate-chat/internal/proto"
)

// Wire is the part of the connection manager the router drives.
type Wire interface {
	State() core.ConnectionState
	Subscribe(room string) error
	Unsubscribe(room string) error
	Disconnect()
}

// Handler receives validated messages of one room.
type Handler func(core.Message)

// ErrorHandler is told about frames that were dropped.
type ErrorHandler func(room string, err error)

// Router maps rooms to handlers and keeps at most one wire subscription per
// room on the current connection. It runs on the engine loop.
type Router struct {
	wire    Wire
	logger  *zerolog.Logger
	onError ErrorHandler

	handlers map[string]Handler
	// wired holds the rooms subscribed on the current session.
	wired map[string]bool
}

var _ connection.Router = (*Router)(nil)

// New constructs a router on top of wire.
func New(wire Wire, logger *zerolog.Logger) *Router {
	return &Router{
		wire:     wire,
		logger:   log.OrNop(logger),
		handlers: make(map[string]Handler),
		wired:    make(map[string]bool),
	}
}

// OnError registers the handler told about dropped frames.
func (r *Router) OnError(h ErrorHandler) {
	r.onError = h
}

// Subscribe binds handler to room. Subscribing an active room only swaps the
// handler. While disconnected the room is wired on the next connect.
func (r *Router) Subscribe(room string, handler func(core.Message)) {
	r.handlers[room] = handler
	if r.wired[room] || r.wire.State() != core.StateConnected {
		return
	}
	r.wireRoom(room)
}

// Unsubscribe drops room. Removing the last room disconnects.
func (r *Router) Unsubscribe(room string) {
	if _, ok := r.handlers[room]; !ok {
		return
	}
	delete(r.handlers, room)

	if r.wired[room] {
		delete(r.wired, room)
		if err := r.wire.Unsubscribe(room); err != nil {
			r.logger.Warn().Err(err).Str("room", room).Msg("unsubscribe failed")
		}
	}
	if len(r.handlers) == 0 {
		r.logger.Debug().Msg("last room left, disconnecting")
		r.wire.Disconnect()
	}
}

// Resubscribe wires every active room on a fresh connection.
func (r *Router) Resubscribe() {
	r.wired = make(map[string]bool, len(r.handlers))
	for _, room := range r.Rooms() {
		r.wireRoom(room)
	}
}

// Rooms returns the active rooms in sorted order.
func (r *Router) Rooms() []string {
	rooms := make([]string, 0, len(r.handlers))
	for room := range r.handlers {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// Dispatch validates frame and hands the message to its room's handler.
// Frames for inactive rooms or with a malformed body are dropped.
func (r *Router) Dispatch(frame connection.Frame) {
	handler, ok := r.handlers[frame.Room]
	if !ok {
		r.drop(frame, core.ProtocolError("frame for inactive room "+frame.Room, nil))
		return
	}
	msg, err := proto.DecodeChatMessage(frame.Body)
	if err != nil {
		r.drop(frame, core.ProtocolError("malformed frame", err))
		return
	}
	handler(msg.Message(frame.Room))
}

func (r *Router) wireRoom(room string) {
	if err := r.wire.Subscribe(room); err != nil {
		r.logger.Warn().Err(err).Str("room", room).Msg("subscribe failed")
		return
	}
	r.wired[room] = true
	r.logger.Debug().Str("room", room).Msg("room subscribed")
}

func (r *Router) drop(frame connection.Frame, err error) {
	r.logger.Warn().Err(err).Str("room", frame.Room).Str("destination", frame.Destination).Msg("dropping frame")
	if r.onError != nil {
		r.onError(frame.Room, err)
	}
}
