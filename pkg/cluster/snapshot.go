package cluster

import (
	"github.com/atlassian/hasocket"
)

// NodeStatus describes one node in a Snapshot.
type NodeStatus struct {
	ID                 string        `json:"id"`
	ManagementEndpoint string        `json:"managementEndpoint"`
	DataEndpoint       string        `json:"dataEndpoint"`
	Role               hasocket.Role `json:"role"`
	Available          bool          `json:"available"`
	Idle               int           `json:"idle"`
	Busy               int           `json:"busy"`
}

// Snapshot is a read only view of the routing table.
type Snapshot struct {
	Write string       `json:"write,omitempty"`
	Reads []string     `json:"reads"`
	Nodes []NodeStatus `json:"nodes"`
}

// Snapshot returns the current routing table, and the state of every node in seed order.
func (m *Manager) Snapshot() Snapshot {
	r := m.currentRoutes()
	s := Snapshot{
		Write: endpointOf(r.write),
		Reads: endpointsOf(r.reads),
		Nodes: make([]NodeStatus, 0, len(m.nodes)),
	}
	for _, node := range m.nodes {
		idle, busy := node.PoolSize()
		s.Nodes = append(s.Nodes, NodeStatus{
			ID:                 node.ID(),
			ManagementEndpoint: node.ManagementEndpoint(),
			DataEndpoint:       node.DataEndpoint(),
			Role:               node.Role(),
			Available:          node.IsAvailable(),
			Idle:               idle,
			Busy:               busy,
		})
	}
	return s
}
