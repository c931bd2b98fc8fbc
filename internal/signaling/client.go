// Package signaling is the call client's side of the relay: one
// authenticated WebSocket per call session, carrying protocol envelopes.
package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hireme/interview-call/internal/auth"
	"github.com/hireme/interview-call/internal/protocol"
	"github.com/rs/zerolog/log"
)

const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultSendBuffer     = 32
	writeWait             = 5 * time.Second
)

var (
	ErrMissingToken  = errors.New("missing bearer token")
	ErrClosed        = errors.New("signaling client closed")
	ErrNotConnected  = errors.New("signaling not connected")
	ErrBackpressure  = errors.New("signaling send buffer full")
	ErrNoInterviewID = errors.New("missing interview id")
)

// Handler receives every server event plus the local connect,
// connect_error and disconnect events. It runs on the read goroutine.
type Handler func(protocol.Envelope)

// SessionSource yields the current session; *auth.Store satisfies it.
type SessionSource interface {
	Current() (auth.Session, bool)
}

type Options struct {
	URL string
	// Session is used when Sessions is nil.
	Session auth.Session
	// Sessions is consulted on every dial, so a reconnect picks up a
	// changed token.
	Sessions       SessionSource
	InterviewID    string
	ReconnectDelay time.Duration
	SendBuffer     int
	Dialer         *websocket.Dialer
}

type Client struct {
	opts    Options
	handler Handler

	life   context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	conn      *websocket.Conn
	send      chan []byte
	connDone  context.CancelFunc
	closed    bool
	retried   bool
	reconnect *time.Timer
}

func (o Options) session() auth.Session {
	if o.Sessions != nil {
		s, _ := o.Sessions.Current()
		return s
	}
	return o.Session
}

// New validates the session before any network activity: a session
// without a token is rejected with ErrMissingToken.
func New(opts Options, handler Handler) (*Client, error) {
	if _, err := opts.session().Authorization(); err != nil {
		return nil, ErrMissingToken
	}
	if opts.InterviewID == "" {
		return nil, ErrNoInterviewID
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if handler == nil {
		handler = func(protocol.Envelope) {}
	}

	life, cancel := context.WithCancel(context.Background())
	return &Client{
		opts:    opts,
		handler: handler,
		life:    life,
		cancel:  cancel,
	}, nil
}

// Connect dials the relay. A failed dial is reported as connect_error and
// one reconnect is scheduled after the configured delay.
func (c *Client) Connect(ctx context.Context) error {
	return c.dial(ctx)
}

func (c *Client) dial(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	sess := c.opts.session()
	authz, err := sess.Authorization()
	if err != nil {
		return c.dialFailed(ErrMissingToken)
	}
	header := http.Header{}
	header.Set("Authorization", authz)

	conn, resp, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return c.dialFailed(err)
	}

	join, err := protocol.Encode(protocol.EventJoinRoom, protocol.JoinRoom{
		InterviewID: c.opts.InterviewID,
		UserType:    string(sess.User.Role),
		UserName:    sess.User.Name,
	})
	if err != nil {
		conn.Close()
		return err
	}

	connCtx, connDone := context.WithCancel(c.life)
	send := make(chan []byte, c.opts.SendBuffer)
	send <- join

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		connDone()
		conn.Close()
		return ErrClosed
	}
	if c.connDone != nil {
		c.connDone()
	}
	c.conn = conn
	c.send = send
	c.connDone = connDone
	c.mu.Unlock()

	go c.writePump(connCtx, conn, send)
	go c.readPump(connCtx, connDone, conn)

	log.Info().Str("module", "signaling").Str("interview", c.opts.InterviewID).Msg("connected")
	c.deliverLocal(protocol.EventConnect, nil)
	return nil
}

func (c *Client) dialFailed(err error) error {
	log.Error().Err(err).Str("module", "signaling").Str("url", c.opts.URL).Msg("connect failed")
	c.deliverLocal(protocol.EventConnectError, protocol.ErrorEvent{Error: err.Error()})
	c.scheduleReconnect()
	return fmt.Errorf("connect signaling: %w", err)
}

func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.retried {
		return
	}
	c.retried = true
	log.Info().Str("module", "signaling").Dur("delay", c.opts.ReconnectDelay).Msg("reconnect scheduled")
	c.reconnect = time.AfterFunc(c.opts.ReconnectDelay, func() {
		if err := c.dial(c.life); err != nil && !errors.Is(err, ErrClosed) {
			log.Warn().Err(err).Str("module", "signaling").Msg("reconnect failed, giving up")
		}
	})
}

func (c *Client) deliverLocal(event string, data any) {
	frame, err := protocol.Encode(event, data)
	if err != nil {
		return
	}
	env, err := protocol.Decode(frame)
	if err != nil {
		return
	}
	c.handler(env)
}

func (c *Client) writePump(ctx context.Context, conn *websocket.Conn, send <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			flush(conn, send)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			conn.Close()
			return
		case data := <-send:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signaling").Msg("writePump set deadline")
				conn.Close()
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signaling").Msg("writePump write error")
				conn.Close()
				return
			}
		}
	}
}

// flush writes whatever is still queued so a final event emitted right
// before Close reaches the relay.
func flush(conn *websocket.Conn, send <-chan []byte) {
	for {
		select {
		case data := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) readPump(ctx context.Context, done context.CancelFunc, conn *websocket.Conn) {
	defer done()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("module", "signaling").Msg("readPump read error")
			}
			c.dropConn(conn)
			c.deliverLocal(protocol.EventDisconnect, protocol.ErrorEvent{Error: err.Error()})
			c.scheduleReconnect()
			return
		}
		env, err := protocol.Decode(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "signaling").Msg("bad envelope")
			continue
		}
		log.Debug().Str("module", "signaling").Str("event", env.Event).Msg("received")
		c.handler(env)
	}
}

func (c *Client) dropConn(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.conn = nil
		c.send = nil
	}
}

// Emit queues an event for the relay without blocking.
func (c *Client) Emit(event string, payload any) error {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	closed, send := c.closed, c.send
	c.mu.Unlock()

	switch {
	case closed:
		return ErrClosed
	case send == nil:
		return ErrNotConnected
	}
	select {
	case send <- frame:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.closed
}

// Close disconnects and cancels a pending reconnect. Safe to call more
// than once.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.reconnect != nil {
		c.reconnect.Stop()
	}
	c.conn = nil
	c.send = nil
	c.mu.Unlock()

	c.cancel()
	log.Info().Str("module", "signaling").Msg("closed")
}
