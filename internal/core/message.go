package core

import "time"

// DeliveryState tracks a message from local composition to server acknowledgement.
type DeliveryState int

const (
	// DeliveryPending is a locally composed message that has not been published yet.
	DeliveryPending DeliveryState = iota
	// DeliverySent has been handed to the broker but not echoed back.
	DeliverySent
	// DeliveryAcknowledged carries a server id; history and foreign messages start here.
	DeliveryAcknowledged
	// DeliveryFailed was given up on locally. Only a late server echo can still
	// acknowledge it.
	DeliveryFailed
)

func (s DeliveryState) String() string {
	switch s {
	case DeliveryPending:
		return "pending"
	case DeliverySent:
		return "sent"
	case DeliveryAcknowledged:
		return "acknowledged"
	case DeliveryFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CanAdvanceTo reports whether s -> next is a legal delivery transition.
// Pending -> Sent -> Acknowledged, and Pending/Sent -> Failed.
// An echo may acknowledge a message whose publish was still counted as pending.
func (s DeliveryState) CanAdvanceTo(next DeliveryState) bool {
	switch s {
	case DeliveryPending:
		return next == DeliverySent || next == DeliveryAcknowledged || next == DeliveryFailed
	case DeliverySent:
		return next == DeliveryAcknowledged || next == DeliveryFailed
	default:
		return false
	}
}

// Message is the domain model for a chat message.
// ID is empty until the server assigns one; CorrelationID is empty for messages
// that did not originate from this client.
type Message struct {
	ID             string
	Room           string
	SenderNickname string
	Content        string
	Timestamp      time.Time
	State          DeliveryState
	CorrelationID  string
}

// Confirmed reports whether the message carries a server-assigned identity.
func (m Message) Confirmed() bool {
	return m.State == DeliveryAcknowledged && m.ID != ""
}
