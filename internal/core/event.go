package core

import "time"

// EventKind is a notification the engine emits to its observers.
type EventKind int

const (
	// EventConnectionState reports a connection state transition.
	EventConnectionState EventKind = iota
	// EventAuthError asks the token provider collaborator to refresh credentials.
	EventAuthError
	// EventConnectionFailed reports that the reconnect policy gave up.
	EventConnectionFailed
	// EventRoomUpdated notifies that a room's message log changed.
	EventRoomUpdated
	// EventMessageFailed reports an outbox entry that exhausted its attempts.
	EventMessageFailed
	// EventProtocolError reports a dropped inbound frame.
	EventProtocolError
	// EventHistoryFailed reports a history fetch that did not complete.
	EventHistoryFailed
)

func (k EventKind) String() string {
	switch k {
	case EventConnectionState:
		return "connection_state"
	case EventAuthError:
		return "auth_error"
	case EventConnectionFailed:
		return "connection_failed"
	case EventRoomUpdated:
		return "room_updated"
	case EventMessageFailed:
		return "message_failed"
	case EventProtocolError:
		return "protocol_error"
	case EventHistoryFailed:
		return "history_failed"
	default:
		return "unknown"
	}
}

// Event describes something the UI may want to render.
type Event struct {
	Kind     EventKind
	Room     string
	State    ConnectionState
	Previous ConnectionState
	Message  *Message // set for EventMessageFailed
	Err      error
	At       time.Time
}

// StateChange is delivered to connection state listeners.
type StateChange struct {
	From ConnectionState
	To   ConnectionState
	// Resumed is true when the connection came back from Reconnecting.
	Resumed bool
	Err     error
}
