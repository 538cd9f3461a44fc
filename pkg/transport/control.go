package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/tilinna/clock"

	"github.com/atlassian/hasocket"
	"github.com/atlassian/hasocket/pkg/codec"
	"github.com/atlassian/hasocket/pkg/util"
)

const controlEventBufferSize = 64

// ControlOptions configures a ControlConnection.
type ControlOptions struct {
	Binary           bool
	ReconnectTimeout time.Duration
	// ReconnectBackoff provides the waits before each reconnect attempt after the connection drops.
	ReconnectBackoff util.BackoffFactory
}

type controlEvent struct {
	broadcast   *hasocket.Broadcast
	reconnected bool
}

// ControlConnection is the long lived connection to the management endpoint of a node.  It
// registers the client, forwards availability broadcasts to a hasocket.MembershipListener, and
// reconnects by itself when the websocket drops.
type ControlConnection struct {
	*conn
	options  ControlOptions
	listener hasocket.MembershipListener

	available int32
	nodeID    atomic.Value // string

	reconnecting int32
	events       chan controlEvent

	startOnce sync.Once
	bgMu      sync.Mutex
	bgCtx     context.Context
	bgCancel  context.CancelFunc
	wg        sync.WaitGroup
}

// NewControlConnection creates a ControlConnection to endpoint.  listener may be nil.
func NewControlConnection(logger logrus.FieldLogger, dialer *websocket.Dialer, endpoint string, options ControlOptions, listener hasocket.MembershipListener) *ControlConnection {
	if options.ReconnectBackoff == nil {
		options.ReconnectBackoff = util.NewReconnectBackoffFactory(hasocket.DefaultControlReconnectDelay, hasocket.DefaultControlReconnectAttempts)
	}
	if options.ReconnectTimeout <= 0 {
		options.ReconnectTimeout = hasocket.DefaultControlReconnectTimeout
	}
	cc := &ControlConnection{
		conn:      newConn(logger.WithField("endpoint", endpoint), dialer, endpoint, options.Binary),
		options:   options,
		listener:  listener,
		available: 1,
		events:    make(chan controlEvent, controlEventBufferSize),
	}
	cc.nodeID.Store("")
	cc.intercept = cc.interceptBroadcast
	cc.lost = cc.onLost
	return cc
}

// Connect establishes the websocket, failing with hasocket.ErrConnectTimeout if it takes longer
// than timeout.  It is a no-op if the connection is already open.  The clock found on the ctx of
// the first Connect drives the reconnect timers.  A failed Connect is retried in the background
// like a dropped connection, and success is reported through OnNodeReconnected.
func (cc *ControlConnection) Connect(ctx context.Context, timeout time.Duration) error {
	cc.start(ctx)
	err := cc.connect(ctx, timeout)
	if err != nil && !errors.Is(err, hasocket.ErrConnectionClosed) {
		cc.logger.WithError(err).Warn("failed to open management connection")
		cc.scheduleReconnect()
	}
	return err
}

func (cc *ControlConnection) start(ctx context.Context) {
	cc.startOnce.Do(func() {
		cc.bgMu.Lock()
		cc.bgCtx, cc.bgCancel = context.WithCancel(clock.Context(context.Background(), clock.FromContext(ctx)))
		cc.bgMu.Unlock()
		cc.wg.Add(1)
		go cc.dispatch(cc.bgCtx)
	})
}

func (cc *ControlConnection) background() context.Context {
	cc.bgMu.Lock()
	defer cc.bgMu.Unlock()
	return cc.bgCtx
}

// Register sends the register command and waits up to timeout for the registration reply.  On
// success the node id is remembered for reconnect notifications.
func (cc *ControlConnection) Register(ctx context.Context, timeout time.Duration) (hasocket.Registration, error) {
	f, err := cc.sendWithResult(ctx, websocket.TextMessage, []byte(hasocket.RegisterCommand), timeout)
	if err != nil {
		return hasocket.Registration{}, fmt.Errorf("register with %s: %w", cc.endpoint, err)
	}
	var reg hasocket.Registration
	if err := codecFor(f).Unmarshal(f.data, &reg); err != nil {
		return hasocket.Registration{}, fmt.Errorf("register with %s: invalid reply: %w", cc.endpoint, err)
	}
	if reg.ID == "" {
		return hasocket.Registration{}, fmt.Errorf("register with %s: reply has no id", cc.endpoint)
	}
	cc.SetNodeID(reg.ID)
	return reg, nil
}

// SendWithResult writes payload and waits up to timeout for the reply.
func (cc *ControlConnection) SendWithResult(ctx context.Context, payload []byte, timeout time.Duration) ([]byte, error) {
	f, err := cc.sendWithResult(ctx, frameType(cc.binary), payload, timeout)
	if err != nil {
		return nil, err
	}
	return f.data, nil
}

// Send writes payload without waiting for a reply.
func (cc *ControlConnection) Send(payload []byte) error {
	return cc.send(payload)
}

// NodeID returns the id the node registered with, or an empty string.
func (cc *ControlConnection) NodeID() string {
	return cc.nodeID.Load().(string)
}

// SetNodeID sets the id reported on reconnect.
func (cc *ControlConnection) SetNodeID(id string) {
	cc.nodeID.Store(id)
}

// SetAvailable sets the availability flag.
func (cc *ControlConnection) SetAvailable(available bool) {
	var v int32
	if available {
		v = 1
	}
	atomic.StoreInt32(&cc.available, v)
}

// IsAvailable reports if the node is flagged available and the connection is open.
func (cc *ControlConnection) IsAvailable() bool {
	return atomic.LoadInt32(&cc.available) != 0 && cc.IsOpen()
}

// IsUsable reports if the connection is open.  Control connections have no idle limit.
func (cc *ControlConnection) IsUsable() bool {
	return cc.IsOpen()
}

// Close stops reconnecting, tears down the websocket and waits for background work to finish.
func (cc *ControlConnection) Close() error {
	// Cancelled first, so a read goroutine blocked on a full event queue can exit.
	cc.bgMu.Lock()
	if cc.bgCancel != nil {
		cc.bgCancel()
	}
	cc.bgMu.Unlock()
	err := cc.close()
	cc.wg.Wait()
	return err
}

func codecFor(f frame) codec.Codec {
	return codec.New(f.messageType == websocket.BinaryMessage)
}

// interceptBroadcast runs on the read goroutine.  Frames with the shape of a broadcast are queued
// for the dispatcher, anything else is a reply.
func (cc *ControlConnection) interceptBroadcast(f frame) bool {
	var fields map[string]interface{}
	if err := codecFor(f).Unmarshal(f.data, &fields); err != nil {
		return false
	}
	b, ok, err := hasocket.ParseBroadcast(fields)
	if !ok {
		return false
	}
	if err != nil {
		cc.logger.WithError(err).Warn("dropping malformed broadcast")
		return true
	}
	cc.enqueue(controlEvent{broadcast: &b})
	return true
}

func (cc *ControlConnection) enqueue(e controlEvent) {
	ctx := cc.background()
	if ctx == nil {
		return
	}
	select {
	case cc.events <- e:
	case <-ctx.Done():
	}
}

// dispatch delivers events to the listener in the order they were received, away from the
// read goroutine.
func (cc *ControlConnection) dispatch(ctx context.Context) {
	defer cc.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-cc.events:
			if cc.listener == nil {
				continue
			}
			switch {
			case e.reconnected:
				cc.listener.OnNodeReconnected(cc.NodeID(), cc.endpoint)
			case e.broadcast.Available != "":
				cc.listener.OnNodeAvailable(e.broadcast.Available, e.broadcast.Role)
			default:
				cc.listener.OnNodeUnavailable(e.broadcast.Unavailable)
			}
		}
	}
}

func (cc *ControlConnection) onLost(err error) {
	cc.logger.WithError(err).Warn("management connection lost")
	cc.scheduleReconnect()
}

// scheduleReconnect starts the reconnect loop unless it is already running or the connection is closed.
func (cc *ControlConnection) scheduleReconnect() {
	ctx := cc.background()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	if !atomic.CompareAndSwapInt32(&cc.reconnecting, 0, 1) {
		return
	}
	cc.wg.Add(1)
	go cc.reconnect(ctx)
}

// reconnect waits out the backoff before each attempt, and gives up when the backoff stops.
func (cc *ControlConnection) reconnect(ctx context.Context) {
	defer cc.wg.Done()
	defer atomic.StoreInt32(&cc.reconnecting, 0)

	bo := cc.options.ReconnectBackoff()
	for attempt := 1; ; attempt++ {
		next := bo.NextBackOff()
		if next == backoff.Stop {
			cc.logger.WithField("attempts", attempt-1).Error("giving up reconnecting management connection")
			return
		}
		if !interruptableSleep(ctx, next) {
			return
		}
		if err := cc.connect(ctx, cc.options.ReconnectTimeout); err != nil {
			cc.logger.WithError(err).WithField("attempt", attempt).Warn("failed to reconnect management connection")
			continue
		}
		cc.logger.WithField("node", cc.NodeID()).Info("management connection re-established")
		cc.enqueue(controlEvent{reconnected: true})
		return
	}
}
