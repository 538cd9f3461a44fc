package cluster

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/ash2k/stager/wait"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/atlassian/hasocket"
	"github.com/atlassian/hasocket/pkg/transport"
	"github.com/atlassian/hasocket/pkg/util"
)

// routes is a point in time view of the routing table.  It is replaced as a whole, never modified.
type routes struct {
	write *Node
	reads []*Node
}

// Manager tracks the members of a cluster, and routes writes to the master and reads round robin
// across the other available members.
type Manager struct {
	logger   logrus.FieldLogger
	settings hasocket.ClientSettings
	metrics  *Metrics

	nodes []*Node // seed order, fixed after construction

	mu        sync.Mutex // serializes membership changes
	writeNode *Node

	routes      atomic.Value // *routes
	readCounter util.Sequence

	bgCtx    context.Context // cancelled by Close
	bgCancel context.CancelFunc
	joins    sync.WaitGroup
}

// NewManager creates a Manager with one Node per configured server.  Start must be called before routing.
// metrics may be nil.
func NewManager(logger logrus.FieldLogger, settings hasocket.ClientSettings, dialers Dialers, metrics *Metrics) (*Manager, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		logger:   logger,
		settings: settings,
		metrics:  metrics,
	}
	m.bgCtx, m.bgCancel = context.WithCancel(context.Background())
	for _, server := range settings.Servers {
		m.nodes = append(m.nodes, NewNode(logger, settings, server, dialers, m))
	}
	m.routes.Store(&routes{})
	if metrics != nil {
		metrics.watch(m)
	}
	return m, nil
}

// Start connects to and registers with every node concurrently.  A node that can not be reached
// is kept, and becomes available when it announces itself.  The first master in seed order
// becomes the write node.
func (m *Manager) Start(ctx context.Context) {
	var wg wait.Group
	for _, node := range m.nodes {
		node := node
		wg.StartWithContext(ctx, func(ctx context.Context) {
			if err := node.Connect(ctx); err != nil {
				m.logger.WithError(err).WithField("endpoint", node.ManagementEndpoint()).Warn("failed to connect to node")
				return
			}
			if err := node.Register(ctx); err != nil {
				m.logger.WithError(err).WithField("endpoint", node.ManagementEndpoint()).Warn("failed to register with node")
				node.SetAvailable(false)
			}
		})
	}
	wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, node := range m.nodes {
		if node.IsAvailable() && node.IsMaster() {
			m.writeNode = node
			break
		}
	}
	m.refresh()
}

// refresh recomputes the routing table.  m.mu must be held.
func (m *Manager) refresh() {
	if m.writeNode == nil || !m.writeNode.IsAvailable() {
		m.writeNode = m.electWriteNode()
	}

	r := &routes{write: m.writeNode}
	if m.writeNode != nil {
		for _, node := range m.nodes {
			if node != m.writeNode && node.IsAvailable() {
				r.reads = append(r.reads, node)
			}
		}
		if len(r.reads) == 0 {
			r.reads = []*Node{m.writeNode}
		}
	}
	m.routes.Store(r)

	if m.metrics != nil {
		m.metrics.refreshes.Inc()
	}
	m.logger.WithFields(logrus.Fields{
		"write": endpointOf(r.write),
		"reads": endpointsOf(r.reads),
	}).Debug("routes refreshed")
}

// electWriteNode picks the available master with the lowest id, or nil.
func (m *Manager) electWriteNode() *Node {
	var candidates []*Node
	for _, node := range m.nodes {
		if node.IsAvailable() && node.IsMaster() {
			candidates = append(candidates, node)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return lessID(candidates[i].ID(), candidates[j].ID())
	})
	return candidates[0]
}

// lessID compares ids numerically when both are integers, and lexicographically otherwise.
func lessID(a, b string) bool {
	ai, errA := strconv.ParseInt(a, 10, 64)
	bi, errB := strconv.ParseInt(b, 10, 64)
	if errA == nil && errB == nil {
		return ai < bi
	}
	return a < b
}

func (m *Manager) nodeByID(id string) *Node {
	if id == "" {
		return nil
	}
	for _, node := range m.nodes {
		if node.ID() == id {
			return node
		}
	}
	return nil
}

func (m *Manager) nodeByEndpoint(endpoint string) *Node {
	for _, node := range m.nodes {
		if node.ManagementEndpoint() == endpoint {
			return node
		}
	}
	return nil
}

// OnNodeAvailable implements hasocket.MembershipListener.  An id no node registered with makes
// every node which never registered try again, as the announced node may be one of them.
func (m *Manager) OnNodeAvailable(id string, role hasocket.Role) {
	m.mu.Lock()
	node := m.nodeByID(id)
	if node == nil {
		m.mu.Unlock()
		m.logger.WithField("node", id).Debug("availability of unknown node, registering with unregistered nodes")
		m.joinUnregistered(id, role)
		return
	}
	if node.IsAvailable() && role.Valid() && node.IsMaster() == (role == hasocket.RoleMaster) {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if role.Valid() {
		// Connecting may block, so it happens outside the lock.
		node.SetAvailable(true)
		if err := node.Connect(context.Background()); err != nil {
			m.logger.WithError(err).WithFields(logrus.Fields{"node": id, "role": role}).Warn("failed to connect to available node")
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.markAvailable(node, role)
	m.refresh()
}

// markAvailable flags node available in role, and makes it the write node if role is master.
// m.mu must be held.
func (m *Manager) markAvailable(node *Node, role hasocket.Role) {
	node.SetAvailable(true)
	isMaster := role == hasocket.RoleMaster
	if role.Valid() {
		node.SetMaster(isMaster)
	}
	if isMaster {
		for _, other := range m.nodes {
			if other != node {
				other.SetMaster(false)
			}
		}
		m.writeNode = node
	}
	m.logger.WithFields(logrus.Fields{"node": node.ID(), "role": role}).Info("node available")
}

// joinUnregistered connects to and registers with every node which never registered, in the
// background.  The node which turns out to be id is marked available in role.
func (m *Manager) joinUnregistered(id string, role hasocket.Role) {
	for _, node := range m.nodes {
		if node.ID() != "" || m.bgCtx.Err() != nil || !atomic.CompareAndSwapInt32(&node.joining, 0, 1) {
			continue
		}
		node := node
		m.joins.Add(1)
		go func() {
			defer m.joins.Done()
			defer atomic.StoreInt32(&node.joining, 0)
			logger := m.logger.WithField("endpoint", node.ManagementEndpoint())
			if err := node.Connect(m.bgCtx); err != nil {
				logger.WithError(err).Debug("unregistered node still unreachable")
				return
			}
			if err := node.Register(m.bgCtx); err != nil {
				logger.WithError(err).Warn("failed to register with node")
				return
			}

			m.mu.Lock()
			defer m.mu.Unlock()
			if node.ID() == id {
				m.markAvailable(node, role)
			} else {
				node.SetAvailable(true)
			}
			m.refresh()
		}()
	}
}

// OnNodeUnavailable implements hasocket.MembershipListener.
func (m *Manager) OnNodeUnavailable(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	node := m.nodeByID(id)
	if node == nil {
		return
	}
	node.SetAvailable(false)
	m.logger.WithField("node", id).Info("node unavailable")
	m.refresh()
}

// OnNodeReconnected implements hasocket.MembershipListener.  A node that never registered is
// registered now.
func (m *Manager) OnNodeReconnected(id, endpoint string) {
	logger := m.logger.WithFields(logrus.Fields{"node": id, "endpoint": endpoint})
	if id == "" {
		node := m.nodeByEndpoint(endpoint)
		if node == nil {
			logger.Warn("reconnect of unknown node ignored")
			return
		}
		if err := node.Register(context.Background()); err != nil {
			logger.WithError(err).Warn("failed to register with reconnected node")
		} else {
			node.SetAvailable(true)
		}
	}
	logger.Info("node reconnected")

	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh()
}

func (m *Manager) currentRoutes() *routes {
	return m.routes.Load().(*routes)
}

// WriteNode returns the node writes are routed to.
func (m *Manager) WriteNode() (*Node, error) {
	r := m.currentRoutes()
	if r.write == nil {
		return nil, hasocket.ErrNoWriteNode
	}
	return r.write, nil
}

// ReadNode returns the next read node in round robin order.
func (m *Manager) ReadNode() (*Node, error) {
	r := m.currentRoutes()
	if len(r.reads) == 0 {
		return nil, hasocket.ErrNoReadNodes
	}
	return r.reads[m.readCounter.Next(len(r.reads))], nil
}

// SendWrite sends payload to the write node and waits for the reply.
func (m *Manager) SendWrite(ctx context.Context, payload []byte) ([]byte, error) {
	node, err := m.WriteNode()
	if err != nil {
		m.observe(routeWrite, err)
		return nil, err
	}
	reply, err := m.send(ctx, node, payload)
	m.observe(routeWrite, err)
	return reply, err
}

// SendRead sends payload to the next read node and waits for the reply.  A failure is not retried
// on another node.
func (m *Manager) SendRead(ctx context.Context, payload []byte) ([]byte, error) {
	node, err := m.ReadNode()
	if err != nil {
		m.observe(routeRead, err)
		return nil, err
	}
	reply, err := m.send(ctx, node, payload)
	m.observe(routeRead, err)
	return reply, err
}

// SendWriteNoReply sends payload to the write node without waiting for a reply.
func (m *Manager) SendWriteNoReply(ctx context.Context, payload []byte) error {
	node, err := m.WriteNode()
	if err != nil {
		m.observe(routeNotify, err)
		return err
	}
	dc, err := m.lease(ctx, node)
	if err != nil {
		m.observe(routeNotify, err)
		return err
	}
	defer node.ReturnConnection(dc)
	err = dc.Send(payload)
	m.observe(routeNotify, err)
	return err
}

func (m *Manager) send(ctx context.Context, node *Node, payload []byte) ([]byte, error) {
	dc, err := m.lease(ctx, node)
	if err != nil {
		return nil, err
	}
	defer node.ReturnConnection(dc)
	return dc.SendWithResult(ctx, payload, m.settings.DataRequestTimeout)
}

func (m *Manager) lease(ctx context.Context, node *Node) (*transport.DataConnection, error) {
	dc, err := node.GetConnection(ctx)
	if err != nil {
		m.logger.WithError(err).WithField("endpoint", node.DataEndpoint()).Debug("no data connection")
		return nil, &hasocket.NodeUnavailableError{Endpoint: node.DataEndpoint(), Err: err}
	}
	return dc, nil
}

func (m *Manager) observe(route string, err error) {
	if m.metrics != nil {
		m.metrics.observe(route, err)
	}
}

// Close stops background registration and closes every connection of every node.
func (m *Manager) Close() error {
	m.bgCancel()
	var err error
	for _, node := range m.nodes {
		err = multierr.Append(err, node.Close())
	}
	m.joins.Wait()
	return err
}

func endpointOf(n *Node) string {
	if n == nil {
		return ""
	}
	return n.ManagementEndpoint()
}

func endpointsOf(nodes []*Node) []string {
	endpoints := make([]string, 0, len(nodes))
	for _, n := range nodes {
		endpoints = append(endpoints, n.ManagementEndpoint())
	}
	return endpoints
}
