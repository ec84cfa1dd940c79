package stomp

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coder/websocket"
	gostomp "github.com/go-stomp/stomp/v3"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/mindmate-chat/internal/connection"
	"github.com/vovakirdan/mindmate-chat/internal/core"
	"github.com/vovakirdan/mindmate-chat/internal/proto"
)

const frameBuffer = 64

// session is one STOMP connection. Each room subscription is pumped by its own
// goroutine, so ordering holds per room.
type session struct {
	conn   *gostomp.Conn
	nc     *watchedConn
	ws     *websocket.Conn
	logger *zerolog.Logger

	mu     sync.Mutex
	subs   map[string]*gostomp.Subscription
	closed bool
	err    error
	pumps  sync.WaitGroup

	frames    chan connection.Frame
	done      chan struct{}
	closeOnce sync.Once
}

var _ connection.Session = (*session)(nil)

func newSession(conn *gostomp.Conn, nc *watchedConn, ws *websocket.Conn, logger *zerolog.Logger) *session {
	s := &session{
		conn:   conn,
		nc:     nc,
		ws:     ws,
		logger: logger,
		subs:   make(map[string]*gostomp.Subscription),
		frames: make(chan connection.Frame, frameBuffer),
		done:   make(chan struct{}),
	}
	go s.monitor()
	return s
}

func (s *session) Subscribe(room string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return core.ErrNotConnected
	}
	if _, ok := s.subs[room]; ok {
		return nil
	}
	sub, err := s.conn.Subscribe(proto.TopicForRoom(room), gostomp.AckAuto)
	if err != nil {
		return core.NetworkError("subscribe "+room, err)
	}
	s.subs[room] = sub
	s.pumps.Add(1)
	go s.pump(room, sub)
	return nil
}

func (s *session) Unsubscribe(room string) error {
	s.mu.Lock()
	sub, ok := s.subs[room]
	delete(s.subs, room)
	closed := s.closed
	s.mu.Unlock()

	if !ok || closed {
		return nil
	}
	if err := sub.Unsubscribe(); err != nil {
		return core.NetworkError("unsubscribe "+room, err)
	}
	return nil
}

func (s *session) Publish(msg proto.SendMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := s.conn.Send(proto.SendDestination, proto.ContentTypeJSON, body); err != nil {
		return core.NetworkError("send", err)
	}
	return nil
}

func (s *session) Frames() <-chan connection.Frame { return s.frames }
func (s *session) Done() <-chan struct{}           { return s.done }

func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the session without reporting an error.
func (s *session) Close() error {
	s.fail(nil)
	return nil
}

func (s *session) pump(room string, sub *gostomp.Subscription) {
	defer s.pumps.Done()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			if msg.Err != nil {
				s.fail(classify("broker error", msg.Err))
				return
			}
			frame := connection.Frame{Room: room, Destination: msg.Destination, Body: msg.Body}
			select {
			case s.frames <- frame:
			case <-s.done:
				return
			}
		}
	}
}

func (s *session) monitor() {
	select {
	case <-s.nc.done:
		s.fail(core.NetworkError("broker connection lost", s.nc.Err()))
	case <-s.done:
	}
}

func (s *session) fail(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.err = err
		s.mu.Unlock()

		close(s.done)
		_ = s.conn.MustDisconnect()
		_ = s.ws.CloseNow()

		go func() {
			s.pumps.Wait()
			close(s.frames)
		}()
		if err != nil {
			s.logger.Debug().Err(err).Msg("broker session closed")
		}
	})
}
