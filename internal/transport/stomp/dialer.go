package stomp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	gostomp "github.com/go-stomp/stomp/v3"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/mindmate-chat/internal/connection"
	"github.com/vovakirdan/mindmate-chat/internal/core"
	"github.com/vovakirdan/mindmate-chat/internal/log"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	readLimit               = 1 << 20
)

// Subprotocols offered during the WebSocket upgrade, newest first.
var Subprotocols = []string{"v12.stomp", "v11.stomp", "v10.stomp"}

// Dialer opens STOMP sessions over a WebSocket connection.
type Dialer struct {
	URL              string
	HeartBeat        time.Duration
	HandshakeTimeout time.Duration
	HTTPClient       *http.Client
	Logger           *zerolog.Logger
}

var _ connection.Dialer = (*Dialer)(nil)

// Dial upgrades to WebSocket and performs the STOMP CONNECT handshake, both
// carrying the bearer token. ctx bounds the session lifetime.
func (d *Dialer) Dial(ctx context.Context, token string) (connection.Session, error) {
	logger := log.OrNop(d.Logger)
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, core.ValidationError("broker url", err)
	}

	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	ws, resp, err := websocket.Dial(hctx, d.URL, &websocket.DialOptions{
		HTTPClient:   d.HTTPClient,
		HTTPHeader:   header,
		Subprotocols: Subprotocols,
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, core.AuthError("broker upgrade rejected", err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, core.NetworkError("dial broker", err)
	}
	ws.SetReadLimit(readLimit)

	nc := newWatchedConn(websocket.NetConn(ctx, ws, websocket.MessageText))
	_ = nc.SetDeadline(time.Now().Add(timeout))
	conn, err := gostomp.Connect(nc,
		gostomp.ConnOpt.Host(u.Hostname()),
		gostomp.ConnOpt.Header("Authorization", "Bearer "+token),
		gostomp.ConnOpt.HeartBeat(d.HeartBeat, d.HeartBeat),
		gostomp.ConnOpt.Logger(newLogAdapter(logger)),
	)
	if err != nil {
		_ = ws.CloseNow()
		return nil, classify("stomp connect", err)
	}
	_ = nc.SetDeadline(time.Time{})

	logger.Debug().Str("url", d.URL).Str("subprotocol", ws.Subprotocol()).Str("version", string(conn.Version())).Msg("broker session established")
	return newSession(conn, nc, ws, logger), nil
}

// classify maps broker errors onto the core taxonomy. Brokers report rejected
// credentials in ERROR frames, so their text is inspected.
func classify(op string, err error) error {
	var stompErr *gostomp.Error
	if errors.As(err, &stompErr) {
		text := stompErr.Message
		if stompErr.Frame != nil {
			text += " " + string(stompErr.Frame.Body)
		}
		text = strings.ToLower(text)
		for _, hint := range []string{"unauthor", "forbidden", "access denied", "auth", "token", "jwt", "401", "403"} {
			if strings.Contains(text, hint) {
				return core.AuthError(op, err)
			}
		}
		return core.NetworkError(op, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return core.NetworkError(op, err)
}

// watchedConn closes done on the first read error so a drop is noticed even
// when no subscription is active.
type watchedConn struct {
	net.Conn

	once sync.Once
	done chan struct{}
	mu   sync.Mutex
	err  error
}

func newWatchedConn(c net.Conn) *watchedConn {
	return &watchedConn{Conn: c, done: make(chan struct{})}
}

func (c *watchedConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if err != nil {
		c.fail(fmt.Errorf("read: %w", err))
	}
	return n, err
}

func (c *watchedConn) Close() error {
	c.fail(net.ErrClosed)
	return c.Conn.Close()
}

func (c *watchedConn) fail(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *watchedConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}
