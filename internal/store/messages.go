package store

import (
	"sort"
	"sync"

	"github.com/vovakirdan/mindmate-chat/internal/core"
)

// AppendResult tells the caller what Append did with a message.
type AppendResult int

const (
	// Inserted means the message was new and added to the log.
	Inserted AppendResult = iota
	// Reconciled means it confirmed an optimistic entry in place.
	Reconciled
	// Duplicate means an acknowledged copy already existed; nothing changed.
	Duplicate
	// Rejected means the message had no server id.
	Rejected
)

func (r AppendResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Reconciled:
		return "reconciled"
	case Duplicate:
		return "duplicate"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

type entry struct {
	msg core.Message
	seq uint64
}

func (e entry) before(other entry) bool {
	if !e.msg.Timestamp.Equal(other.msg.Timestamp) {
		return e.msg.Timestamp.Before(other.msg.Timestamp)
	}
	return e.seq < other.seq
}

type roomLog struct {
	entries []entry
	ids     map[string]struct{}
}

func newRoomLog() *roomLog {
	return &roomLog{ids: make(map[string]struct{})}
}

// MessageStore holds the merged message log of every room, ordered by
// (timestamp, arrival sequence), with at most one acknowledged message per id.
// Mutations are expected to come from the engine loop; snapshots may be read
// from any goroutine.
type MessageStore struct {
	mu      sync.RWMutex
	rooms   map[string]*roomLog
	seq     uint64
	changes chan string
}

// NewMessageStore constructs an empty store.
func NewMessageStore() *MessageStore {
	return &MessageStore{
		rooms:   make(map[string]*roomLog),
		changes: make(chan string, 64),
	}
}

// Seed merges a history page into the room. It goes through the same
// reconciliation as live frames, so seeding after live frames or local sends
// arrived keeps a single copy of every message.
func (s *MessageStore) Seed(room string, messages []core.Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.room(room)
	added := 0
	for _, m := range messages {
		switch s.appendLocked(log, room, m) {
		case Inserted, Reconciled:
			added++
		}
	}
	s.notify(room)
	return added
}

// Append inserts a live message. A message whose correlation id matches a
// local optimistic entry replaces that entry in place.
func (s *MessageStore) Append(room string, msg core.Message) AppendResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := s.appendLocked(s.room(room), room, msg)
	if result == Inserted || result == Reconciled {
		s.notify(room)
	}
	return result
}

func (s *MessageStore) appendLocked(log *roomLog, room string, msg core.Message) AppendResult {
	if msg.ID == "" {
		return Rejected
	}
	msg.Room = room
	msg.State = core.DeliveryAcknowledged

	if msg.CorrelationID != "" {
		if idx := log.findCorrelation(msg.CorrelationID); idx >= 0 {
			existing := log.entries[idx]
			if existing.msg.State == core.DeliveryAcknowledged {
				return Duplicate
			}
			if _, dup := log.ids[msg.ID]; dup {
				// The server copy already arrived through another path.
				log.removeAt(idx)
				return Reconciled
			}

			confirmed := existing.msg
			confirmed.ID = msg.ID
			confirmed.Timestamp = msg.Timestamp
			confirmed.Content = msg.Content
			confirmed.SenderNickname = msg.SenderNickname
			confirmed.State = core.DeliveryAcknowledged

			log.removeAt(idx)
			log.ids[confirmed.ID] = struct{}{}
			log.insertSorted(entry{msg: confirmed, seq: existing.seq})
			return Reconciled
		}
	}

	if _, dup := log.ids[msg.ID]; dup {
		return Duplicate
	}
	s.insert(log, msg)
	return Inserted
}

// InsertOptimistic adds a locally composed message keyed by its correlation id.
func (s *MessageStore) InsertOptimistic(room string, msg core.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.room(room)
	msg.Room = room
	msg.ID = ""
	msg.State = core.DeliveryPending
	s.seq++
	log.insertSorted(entry{msg: msg, seq: s.seq})
	s.notify(room)
}

// MarkState advances an optimistic entry's delivery state. Backward and
// terminal transitions are refused.
func (s *MessageStore) MarkState(room, correlationID string, state core.DeliveryState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.rooms[room]
	if !ok {
		return false
	}
	idx := log.findCorrelation(correlationID)
	if idx < 0 || !log.entries[idx].msg.State.CanAdvanceTo(state) {
		return false
	}
	log.entries[idx].msg.State = state
	s.notify(room)
	return true
}

// Discard removes an unacknowledged optimistic entry.
func (s *MessageStore) Discard(room, correlationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.rooms[room]
	if !ok {
		return false
	}
	idx := log.findCorrelation(correlationID)
	if idx < 0 || log.entries[idx].msg.State == core.DeliveryAcknowledged {
		return false
	}
	log.removeAt(idx)
	s.notify(room)
	return true
}

// Lookup returns the entry carrying correlationID.
func (s *MessageStore) Lookup(room, correlationID string) (core.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log, ok := s.rooms[room]
	if !ok {
		return core.Message{}, false
	}
	idx := log.findCorrelation(correlationID)
	if idx < 0 {
		return core.Message{}, false
	}
	return log.entries[idx].msg, true
}

// Messages returns a copy of the room's ordered log.
func (s *MessageStore) Messages(room string) []core.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log, ok := s.rooms[room]
	if !ok {
		return nil
	}
	out := make([]core.Message, len(log.entries))
	for i, e := range log.entries {
		out[i] = e.msg
	}
	return out
}

// Changes delivers the id of a room whenever its log changed. Notifications
// are coalesced when the reader falls behind.
func (s *MessageStore) Changes() <-chan string {
	return s.changes
}

func (s *MessageStore) room(room string) *roomLog {
	log, ok := s.rooms[room]
	if !ok {
		log = newRoomLog()
		s.rooms[room] = log
	}
	return log
}

func (s *MessageStore) insert(log *roomLog, msg core.Message) {
	s.seq++
	log.ids[msg.ID] = struct{}{}
	log.insertSorted(entry{msg: msg, seq: s.seq})
}

func (s *MessageStore) notify(room string) {
	select {
	case s.changes <- room:
	default:
	}
}

func (l *roomLog) insertSorted(e entry) {
	idx := sort.Search(len(l.entries), func(i int) bool {
		return e.before(l.entries[i])
	})
	l.entries = append(l.entries, entry{})
	copy(l.entries[idx+1:], l.entries[idx:])
	l.entries[idx] = e
}

func (l *roomLog) removeAt(idx int) {
	l.entries = append(l.entries[:idx], l.entries[idx+1:]...)
}

func (l *roomLog) findCorrelation(correlationID string) int {
	if correlationID == "" {
		return -1
	}
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].msg.CorrelationID == correlationID {
			return i
		}
	}
	return -1
}
