package cluster

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/atlassian/hasocket"
	"github.com/atlassian/hasocket/pkg/transport"
	"github.com/atlassian/hasocket/pkg/util"
)

// Dialers are the websocket dialers used for the two kinds of connection.
type Dialers struct {
	Data    *websocket.Dialer
	Control *websocket.Dialer
}

// NewDialersFromPool gets the data and control dialers from dp.
func NewDialersFromPool(dp *transport.DialerPool) (Dialers, error) {
	data, err := dp.Get(transport.DialerData)
	if err != nil {
		return Dialers{}, err
	}
	control, err := dp.Get(transport.DialerControl)
	if err != nil {
		return Dialers{}, err
	}
	return Dialers{Data: data, Control: control}, nil
}

// Node is a cluster member.  It owns the management connection of the member and a FIFO pool
// of data connections.
type Node struct {
	logger             logrus.FieldLogger
	settings           hasocket.ClientSettings
	managementEndpoint string
	dataEndpoint       string
	dataDialer         *websocket.Dialer
	control            *transport.ControlConnection

	master  int32
	joining int32 // a background connect and register is running

	mu     sync.Mutex // protects idle, busy and closed
	idle   []*transport.DataConnection
	busy   map[*transport.DataConnection]struct{}
	closed bool
}

// NewNode creates a Node for the server at base.  listener is only wired to the management connection.
func NewNode(logger logrus.FieldLogger, settings hasocket.ClientSettings, base string, dialers Dialers, listener hasocket.MembershipListener) *Node {
	managementEndpoint := settings.ManagementURI(base)
	logger = logger.WithField("endpoint", managementEndpoint)
	return &Node{
		logger:             logger,
		settings:           settings,
		managementEndpoint: managementEndpoint,
		dataEndpoint:       settings.DataURI(base),
		dataDialer:         dialers.Data,
		control: transport.NewControlConnection(logger, dialers.Control, managementEndpoint, transport.ControlOptions{
			Binary:           settings.Binary,
			ReconnectTimeout: settings.ControlReconnectTimeout,
			ReconnectBackoff: util.NewReconnectBackoffFactory(settings.ControlReconnectDelay, settings.ControlReconnectAttempts),
		}, listener),
		busy: map[*transport.DataConnection]struct{}{},
	}
}

// ID returns the id the node registered with, or an empty string if it never registered.
func (n *Node) ID() string {
	return n.control.NodeID()
}

func (n *Node) ManagementEndpoint() string {
	return n.managementEndpoint
}

func (n *Node) DataEndpoint() string {
	return n.dataEndpoint
}

func (n *Node) IsMaster() bool {
	return atomic.LoadInt32(&n.master) != 0
}

func (n *Node) SetMaster(master bool) {
	var v int32
	if master {
		v = 1
	}
	atomic.StoreInt32(&n.master, v)
}

// Role returns the role matching the master flag.
func (n *Node) Role() hasocket.Role {
	return hasocket.RoleFor(n.IsMaster())
}

// IsAvailable reports if the node is flagged available and its management connection is open.
func (n *Node) IsAvailable() bool {
	return n.control.IsAvailable()
}

func (n *Node) SetAvailable(available bool) {
	n.control.SetAvailable(available)
}

// Connect opens the management connection if it is not open.
func (n *Node) Connect(ctx context.Context) error {
	return n.control.Connect(ctx, n.settings.ControlConnectTimeout)
}

// Register asks the node for its id and role over the management connection.
func (n *Node) Register(ctx context.Context) error {
	reg, err := n.control.Register(ctx, n.settings.RegisterTimeout)
	if err != nil {
		return err
	}
	n.SetMaster(reg.IsMaster)
	n.logger.WithFields(logrus.Fields{
		"node": reg.ID,
		"role": hasocket.RoleFor(reg.IsMaster),
	}).Info("node registered")
	return nil
}

// GetConnection leases a data connection.  Idle connections are reused in the order they were
// returned, unusable ones are closed on the way.  A new connection is dialed when none is idle.
func (n *Node) GetConnection(ctx context.Context) (*transport.DataConnection, error) {
	for {
		n.mu.Lock()
		if n.closed {
			n.mu.Unlock()
			return nil, hasocket.ErrConnectionClosed
		}
		if len(n.idle) == 0 {
			n.mu.Unlock()
			break
		}
		dc := n.idle[0]
		n.idle[0] = nil
		n.idle = n.idle[1:]
		if dc.IsUsable() {
			n.busy[dc] = struct{}{}
			n.mu.Unlock()
			return dc, nil
		}
		n.mu.Unlock()
		n.logger.WithField("connection", dc.ID()).Debug("closing unusable data connection")
		_ = dc.Close()
	}

	dc := transport.NewDataConnection(n.logger, n.dataDialer, n.dataEndpoint, n.settings.Binary, n.settings.MaxIdleAge)
	if err := dc.Connect(ctx, n.settings.DataConnectTimeout); err != nil {
		_ = dc.Close()
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		_ = dc.Close()
		return nil, hasocket.ErrConnectionClosed
	}
	n.busy[dc] = struct{}{}
	return dc, nil
}

// ReturnConnection ends the lease of dc.  It goes back to the tail of the idle queue if it is
// still usable, and is closed otherwise.
func (n *Node) ReturnConnection(dc *transport.DataConnection) {
	n.mu.Lock()
	delete(n.busy, dc)
	if !n.closed && dc.IsUsable() {
		dc.Touch()
		n.idle = append(n.idle, dc)
		n.mu.Unlock()
		return
	}
	n.mu.Unlock()
	_ = dc.Close()
}

// PoolSize returns the number of idle and leased data connections.
func (n *Node) PoolSize() (idle, busy int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.idle), len(n.busy)
}

// Close closes the management connection and every pooled data connection.
func (n *Node) Close() error {
	n.mu.Lock()
	n.closed = true
	conns := n.idle
	for dc := range n.busy {
		conns = append(conns, dc)
	}
	n.idle = nil
	n.busy = map[*transport.DataConnection]struct{}{}
	n.mu.Unlock()

	err := n.control.Close()
	for _, dc := range conns {
		err = multierr.Append(err, dc.Close())
	}
	return err
}
