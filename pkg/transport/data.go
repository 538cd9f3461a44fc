package transport

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/atlassian/hasocket"
)

// DataConnection is a pooled connection to the data endpoint of a node.  It is leased to a single
// caller at a time, which sends one request and waits for its reply.
type DataConnection struct {
	*conn
	id         string
	maxIdleAge time.Duration

	// tainted is set when a request timed out or a frame was sent without waiting for its reply.
	// A late reply may still arrive, so the connection must not be leased again.
	tainted int32
}

// NewDataConnection creates a DataConnection to endpoint.  Connect must be called before use.
func NewDataConnection(logger logrus.FieldLogger, dialer *websocket.Dialer, endpoint string, binary bool, maxIdleAge time.Duration) *DataConnection {
	id := uuid.New().String()
	return &DataConnection{
		conn: newConn(logger.WithFields(logrus.Fields{
			"endpoint":   endpoint,
			"connection": id,
		}), dialer, endpoint, binary),
		id:         id,
		maxIdleAge: maxIdleAge,
	}
}

// ID returns the unique id of the connection.
func (dc *DataConnection) ID() string {
	return dc.id
}

// Connect establishes the websocket, failing with hasocket.ErrConnectTimeout if it takes longer than timeout.
func (dc *DataConnection) Connect(ctx context.Context, timeout time.Duration) error {
	return dc.connect(ctx, timeout)
}

// Send writes payload without waiting for a reply.  The node may still answer, and that reply
// would be taken for the result of the next request, so the connection is not leased again.
func (dc *DataConnection) Send(payload []byte) error {
	atomic.StoreInt32(&dc.tainted, 1)
	return dc.send(payload)
}

// SendWithResult writes payload and waits up to timeout for the reply.
func (dc *DataConnection) SendWithResult(ctx context.Context, payload []byte, timeout time.Duration) ([]byte, error) {
	f, err := dc.sendWithResult(ctx, frameType(dc.binary), payload, timeout)
	if err != nil {
		if errors.Is(err, hasocket.ErrRequestTimeout) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			atomic.StoreInt32(&dc.tainted, 1)
		}
		return nil, err
	}
	return f.data, nil
}

// IsUsable reports if the connection is open, has no outstanding request and has not been idle
// for longer than the maximum idle age.
func (dc *DataConnection) IsUsable() bool {
	if atomic.LoadInt32(&dc.tainted) != 0 || !dc.IsOpen() {
		return false
	}
	return dc.now().Sub(dc.LastUsedAt()) <= dc.maxIdleAge
}

// Touch marks the connection as used now.
func (dc *DataConnection) Touch() {
	dc.touch()
}

// Close tears down the connection.  It is idempotent.
func (dc *DataConnection) Close() error {
	return dc.close()
}
