package connection

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/vovakirdan/mindmate-chat/internal/auth"
	"github.com/vovakirdan/mindmate-chat/internal/core"
	"github.com/vovakirdan/mindmate-chat/internal/log"
	"github.com/vovakirdan/mindmate-chat/internal/proto"
)

// StateListener observes connection state transitions.
type StateListener func(core.StateChange)

// Manager owns the broker connection: it dials, watches the session, applies
// the reconnect policy and is the only component that opens or closes the
// transport. Every method except New must be called on the loop passed to New.
type Manager struct {
	dialer Dialer
	tokens auth.TokenProvider
	loop   Poster
	policy Policy
	logger *zerolog.Logger
	now    func() time.Time

	state   core.ConnectionState
	epoch   uint64
	session Session
	cancel  context.CancelFunc
	timer   *time.Timer

	backoff      *backoff.ExponentialBackOff
	attempts     int
	retryStarted time.Time

	router     Router
	listeners  map[int]StateListener
	listenerID int
}

// New constructs a disconnected manager.
func New(dialer Dialer, tokens auth.TokenProvider, loop Poster, policy Policy, logger *zerolog.Logger) *Manager {
	return &Manager{
		dialer:    dialer,
		tokens:    tokens,
		loop:      loop,
		policy:    policy,
		logger:    log.OrNop(logger),
		now:       time.Now,
		state:     core.StateDisconnected,
		backoff:   policy.backOff(),
		listeners: make(map[int]StateListener),
	}
}

// AttachRouter sets the router that receives frames and is asked to
// resubscribe before Connected is announced.
func (m *Manager) AttachRouter(r Router) {
	m.router = r
}

// State returns the current connection state.
func (m *Manager) State() core.ConnectionState {
	return m.state
}

// OnStateChange registers listener and returns a function removing it.
// Listeners run on the loop in registration order.
func (m *Manager) OnStateChange(listener StateListener) func() {
	m.listenerID++
	id := m.listenerID
	m.listeners[id] = listener
	return func() { delete(m.listeners, id) }
}

// OnFrame binds handler to room through the router.
func (m *Manager) OnFrame(room string, handler func(core.Message)) {
	if m.router != nil {
		m.router.Subscribe(room, handler)
	}
}

// Connect starts a connection attempt. It is a no-op unless the manager is
// Disconnected or Failed.
func (m *Manager) Connect() {
	if !m.setState(core.StateConnecting, nil) {
		return
	}
	m.attempts = 0
	m.retryStarted = time.Time{}
	m.backoff.Reset()
	m.dial()
}

// Disconnect tears the connection down and cancels pending retries.
func (m *Manager) Disconnect() {
	if m.state == core.StateDisconnected {
		return
	}
	m.teardown()
	m.setState(core.StateDisconnected, nil)
}

// Subscribe opens the wire subscription for room on the current session.
func (m *Manager) Subscribe(room string) error {
	if m.session == nil {
		return core.ErrNotConnected
	}
	return m.session.Subscribe(room)
}

// Unsubscribe closes the wire subscription for room, if connected.
func (m *Manager) Unsubscribe(room string) error {
	if m.session == nil {
		return core.ErrNotConnected
	}
	return m.session.Unsubscribe(room)
}

// Publish sends msg on the current session.
func (m *Manager) Publish(msg proto.SendMessage) error {
	if m.state != core.StateConnected || m.session == nil {
		return core.PublishError("not connected", core.ErrNotConnected)
	}
	if err := m.session.Publish(msg); err != nil {
		return core.PublishError("publish", err)
	}
	return nil
}

func (m *Manager) dial() {
	m.epoch++
	epoch := m.epoch
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.logger.Debug().Uint64("epoch", epoch).Int("attempt", m.attempts).Msg("dialing broker")

	go func() {
		token, err := m.tokens.Token(ctx)
		var sess Session
		if err == nil {
			sess, err = m.dialer.Dial(ctx, token)
		}
		if !m.loop.Post(func() { m.dialed(epoch, sess, err) }) && sess != nil {
			_ = sess.Close()
		}
	}()
}

func (m *Manager) dialed(epoch uint64, sess Session, err error) {
	if epoch != m.epoch {
		if sess != nil {
			_ = sess.Close()
		}
		return
	}
	if err != nil {
		m.failed(err)
		return
	}

	resumed := m.state == core.StateReconnecting
	from := m.state
	if !core.CanTransition(from, core.StateConnected) {
		_ = sess.Close()
		return
	}
	m.session = sess
	m.state = core.StateConnected
	m.attempts = 0
	m.retryStarted = time.Time{}
	m.backoff.Reset()
	m.watch(epoch, sess)

	// Rooms must be wired before anyone is told the connection is usable.
	if m.router != nil {
		m.router.Resubscribe()
	}
	m.logger.Info().Str("from", from.String()).Bool("resumed", resumed).Msg("broker connected")
	m.notify(core.StateChange{From: from, To: core.StateConnected, Resumed: resumed})
}

// watch forwards frames to the loop in arrival order and reports the drop
// after the last frame.
func (m *Manager) watch(epoch uint64, sess Session) {
	go func() {
		for frame := range sess.Frames() {
			if !m.loop.Post(func() { m.deliver(epoch, frame) }) {
				return
			}
		}
		<-sess.Done()
		err := sess.Err()
		m.loop.Post(func() { m.dropped(epoch, err) })
	}()
}

func (m *Manager) deliver(epoch uint64, frame Frame) {
	if epoch != m.epoch || m.router == nil {
		return
	}
	m.router.Dispatch(frame)
}

func (m *Manager) dropped(epoch uint64, err error) {
	if epoch != m.epoch {
		return
	}
	m.releaseSession()
	if err == nil {
		err = core.NetworkError("connection closed", nil)
	}
	m.logger.Warn().Err(err).Msg("broker connection dropped")
	m.failed(err)
}

func (m *Manager) failed(err error) {
	if errors.Is(err, core.ErrAuth) {
		m.teardown()
		m.setState(core.StateFailed, err)
		return
	}

	switch m.state {
	case core.StateConnecting, core.StateConnected:
		m.retryStarted = m.now()
		m.setState(core.StateReconnecting, err)
	case core.StateReconnecting:
	default:
		return
	}

	if m.policy.exhausted(m.attempts, m.now().Sub(m.retryStarted)) {
		m.teardown()
		m.setState(core.StateFailed, core.NetworkError("reconnect attempts exhausted", err))
		return
	}

	m.attempts++
	delay := m.backoff.NextBackOff()
	epoch := m.epoch
	m.logger.Info().Int("attempt", m.attempts).Dur("delay", delay).Err(err).Msg("scheduling reconnect")
	m.stopTimer()
	m.timer = time.AfterFunc(delay, func() {
		m.loop.Post(func() {
			if epoch == m.epoch && m.state == core.StateReconnecting {
				m.dial()
			}
		})
	})
}

// teardown invalidates every callback of the current attempt and closes the
// session.
func (m *Manager) teardown() {
	m.epoch++
	m.stopTimer()
	m.releaseSession()
}

func (m *Manager) releaseSession() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.session != nil {
		_ = m.session.Close()
		m.session = nil
	}
}

func (m *Manager) stopTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// setState applies a legal transition and notifies listeners. Illegal
// transitions are ignored.
func (m *Manager) setState(to core.ConnectionState, err error) bool {
	from := m.state
	if !core.CanTransition(from, to) {
		m.logger.Debug().Str("from", from.String()).Str("to", to.String()).Msg("ignoring illegal transition")
		return false
	}
	m.state = to

	evt := m.logger.Info()
	if err != nil {
		evt = evt.Err(err)
	}
	evt.Str("from", from.String()).Str("to", to.String()).Msg("connection state changed")

	m.notify(core.StateChange{From: from, To: to, Err: err})
	return true
}

func (m *Manager) notify(change core.StateChange) {
	for id := 1; id <= m.listenerID; id++ {
		if l, ok := m.listeners[id]; ok {
			l(change)
		}
	}
}
