package proto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vovakirdan/mindmate-chat/internal/core"
)

const (
	// SendDestination is where outgoing chat messages are published.
	SendDestination = "/app/chat.send"
	// TopicPrefix prefixes the per-room broadcast destination.
	TopicPrefix = "/topic/chat."

	ContentTypeJSON = "application/json"
)

// TopicForRoom returns the broker destination carrying a room's messages.
func TopicForRoom(room string) string {
	return TopicPrefix + room
}

// RoomFromTopic extracts the room slug from a broker destination.
func RoomFromTopic(destination string) (string, bool) {
	room, ok := strings.CutPrefix(destination, TopicPrefix)
	if !ok || room == "" {
		return "", false
	}
	return room, true
}

// SendMessage is the body of a SEND to SendDestination.
type SendMessage struct {
	Room           string `json:"room"`
	SenderNickname string `json:"senderNickname"`
	Content        string `json:"content"`
	CorrelationID  string `json:"correlationId"`
}

// ChatMessage is both a history entry and an inbound frame body.
// CorrelationID is only present on echoes of messages this client sent.
type ChatMessage struct {
	ID             ID        `json:"id"`
	SenderNickname string    `json:"senderNickname"`
	Content        string    `json:"content"`
	Timestamp      Timestamp `json:"timestamp"`
	CorrelationID  string    `json:"correlationId,omitempty"`
}

// Validate checks the fields every message must carry.
func (m ChatMessage) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("missing id")
	}
	if strings.TrimSpace(m.SenderNickname) == "" {
		return fmt.Errorf("missing senderNickname")
	}
	if m.Timestamp.IsZero() {
		return fmt.Errorf("missing timestamp")
	}
	return nil
}

// Message converts a wire message into an acknowledged domain message.
func (m ChatMessage) Message(room string) core.Message {
	return core.Message{
		ID:             string(m.ID),
		Room:           room,
		SenderNickname: m.SenderNickname,
		Content:        m.Content,
		Timestamp:      m.Timestamp.Time,
		State:          core.DeliveryAcknowledged,
		CorrelationID:  m.CorrelationID,
	}
}

// DecodeChatMessage parses and validates an inbound frame body.
func DecodeChatMessage(body []byte) (ChatMessage, error) {
	var m ChatMessage
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&m); err != nil {
		return ChatMessage{}, fmt.Errorf("decode message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return ChatMessage{}, err
	}
	return m, nil
}

// ID accepts both JSON strings and numbers; backends backed by a numeric
// primary key send numbers.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Timestamp accepts epoch milliseconds, RFC 3339 and zone-less ISO local
// date-times. Zone-less values are read as UTC.
type Timestamp struct {
	time.Time
}

var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	if len(data) > 0 && data[0] != '"' {
		ms, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("timestamp: %w", err)
		}
		t.Time = time.UnixMilli(ms).UTC()
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		t.Time = time.UnixMilli(ms).UTC()
		return nil
	}
	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = parsed
		return nil
	}
	for _, layout := range localLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("timestamp: unsupported format %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}
