package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/tilinna/clock"

	"github.com/atlassian/hasocket"
)

// State is the lifecycle state of a connection.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// frame is an inbound websocket message.
type frame struct {
	messageType int
	data        []byte
}

// conn is a single websocket to one endpoint.  At most one request is outstanding at a time, and
// the most recent reply is held in a single slot until a request picks it up.
type conn struct {
	logger   logrus.FieldLogger
	dialer   *websocket.Dialer
	endpoint string
	binary   bool

	// intercept is offered every inbound frame before it is treated as a reply, and returns true
	// if it consumed the frame.  It runs on the read goroutine and must not block for long.
	intercept func(frame) bool
	// lost is called once per unexpected loss of an open websocket.
	lost func(error)

	connectMu sync.Mutex // serializes dialing
	reqMu     sync.Mutex // one outstanding request
	writeMu   sync.Mutex // one concurrent writer, as required by gorilla/websocket
	readers   sync.WaitGroup

	mu       sync.Mutex // protects the fields below
	state    State
	shutdown bool
	ws       *websocket.Conn
	done     chan struct{} // closed when the read goroutine of ws exits
	clck     clock.Clock
	clockSet bool // clck is taken from the context of the first connect

	result chan frame

	createdAt  int64 // unix nanos
	lastUsedAt int64 // unix nanos
}

func newConn(logger logrus.FieldLogger, dialer *websocket.Dialer, endpoint string, binary bool) *conn {
	return &conn{
		logger:   logger,
		dialer:   dialer,
		endpoint: endpoint,
		binary:   binary,
		state:    StateIdle,
		clck:     clock.Realtime(),
		result:   make(chan frame, 1),
	}
}

// Endpoint returns the uri the connection dials.
func (c *conn) Endpoint() string {
	return c.endpoint
}

// State returns the current lifecycle state.
func (c *conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsOpen reports if the websocket is established.
func (c *conn) IsOpen() bool {
	return c.State() == StateOpen
}

// CreatedAt returns when the connection was last established.
func (c *conn) CreatedAt() time.Time {
	return time.Unix(0, atomic.LoadInt64(&c.createdAt))
}

// LastUsedAt returns when a frame was last written or received as a reply.
func (c *conn) LastUsedAt() time.Time {
	return time.Unix(0, atomic.LoadInt64(&c.lastUsedAt))
}

func (c *conn) now() time.Time {
	c.mu.Lock()
	clck := c.clck
	c.mu.Unlock()
	return clck.Now()
}

func (c *conn) touch() {
	atomic.StoreInt64(&c.lastUsedAt, c.now().UnixNano())
}

// connect dials the endpoint and blocks until the websocket is established or timeout elapses.
// The clock found on the ctx of the first connect is used for every timestamp and timer of the
// connection, later contexts do not replace it.
func (c *conn) connect(ctx context.Context, timeout time.Duration) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return hasocket.ErrConnectionClosed
	}
	if c.state == StateOpen {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	if !c.clockSet {
		c.clck = clock.FromContext(ctx)
		c.clockSet = true
	}
	clck := c.clck
	c.mu.Unlock()

	// The dial is network I/O, so its deadline is wall time whatever clock the connection uses.
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ws, _, err := c.dialer.DialContext(dialCtx, c.endpoint, nil)
	if err != nil {
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		if dialCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return fmt.Errorf("%w: %s after %v", hasocket.ErrConnectTimeout, c.endpoint, timeout)
		}
		return fmt.Errorf("dial %s: %w", c.endpoint, err)
	}

	now := clck.Now().UnixNano()
	atomic.StoreInt64(&c.createdAt, now)
	atomic.StoreInt64(&c.lastUsedAt, now)

	done := make(chan struct{})
	c.mu.Lock()
	if c.shutdown {
		// Closed while dialing.
		c.mu.Unlock()
		_ = ws.Close()
		return hasocket.ErrConnectionClosed
	}
	c.ws = ws
	c.done = done
	c.state = StateOpen
	c.mu.Unlock()

	c.readers.Add(1)
	go c.readLoop(ws, done)

	c.logger.Debug("connection established")
	return nil
}

func (c *conn) readLoop(ws *websocket.Conn, done chan struct{}) {
	defer c.readers.Done()
	defer close(done)
	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			c.closeWebsocket(ws, err)
			return
		}
		f := frame{messageType: messageType, data: data}
		if c.intercept != nil && c.intercept(f) {
			continue
		}
		c.deliver(f)
	}
}

// deliver places f in the result slot, replacing any reply nobody picked up.
func (c *conn) deliver(f frame) {
	for {
		select {
		case c.result <- f:
			return
		default:
		}
		select {
		case <-c.result:
		default:
		}
	}
}

func (c *conn) drain() {
	select {
	case <-c.result:
	default:
	}
}

// closeWebsocket tears down ws if it is still the current websocket.  err is nil for a deliberate close.
func (c *conn) closeWebsocket(ws *websocket.Conn, err error) {
	c.mu.Lock()
	if c.ws != ws {
		c.mu.Unlock()
		return
	}
	c.ws = nil
	c.state = StateClosed
	unexpected := !c.shutdown
	c.mu.Unlock()

	_ = ws.Close()

	if unexpected && err != nil {
		c.logger.WithError(err).Debug("connection lost")
		if c.lost != nil {
			c.lost(err)
		}
	}
}

func (c *conn) current() (*websocket.Conn, chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws, c.done
}

func (c *conn) write(messageType int, payload []byte) (chan struct{}, error) {
	ws, done := c.current()
	if ws == nil {
		return nil, hasocket.ErrNotConnected
	}

	c.writeMu.Lock()
	err := ws.WriteMessage(messageType, payload)
	c.writeMu.Unlock()
	if err != nil {
		c.closeWebsocket(ws, err)
		return nil, fmt.Errorf("write to %s: %w", c.endpoint, err)
	}
	c.touch()
	return done, nil
}

// send writes payload without waiting for a reply.
func (c *conn) send(payload []byte) error {
	_, err := c.write(frameType(c.binary), payload)
	return err
}

// sendWithResult writes a frame of messageType and waits for the next reply.
func (c *conn) sendWithResult(ctx context.Context, messageType int, payload []byte, timeout time.Duration) (frame, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	c.drain()
	done, err := c.write(messageType, payload)
	if err != nil {
		return frame{}, err
	}

	c.mu.Lock()
	clck := c.clck
	c.mu.Unlock()
	timer := clck.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-c.result:
		c.touch()
		return f, nil
	case <-done:
		// A reply may have been delivered just before the websocket closed.
		select {
		case f := <-c.result:
			c.touch()
			return f, nil
		default:
		}
		return frame{}, hasocket.ErrConnectionClosed
	case <-timer.C:
		return frame{}, fmt.Errorf("%w: no reply from %s after %v", hasocket.ErrRequestTimeout, c.endpoint, timeout)
	case <-ctx.Done():
		return frame{}, ctx.Err()
	}
}

// close tears down the websocket and waits for the read goroutine.  It is idempotent, and the
// connection can not be used afterwards.
func (c *conn) close() error {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return nil
	}
	c.shutdown = true
	ws := c.ws
	c.ws = nil
	c.state = StateClosed
	c.mu.Unlock()

	var err error
	if ws != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = ws.Close()
	}
	c.readers.Wait()
	return err
}
