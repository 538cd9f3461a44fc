package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/atlassian/hasocket"
	"github.com/atlassian/hasocket/internal/fixtures"
)

var testDialers = Dialers{
	Data:    websocket.DefaultDialer,
	Control: websocket.DefaultDialer,
}

func testSettings(nodes ...*fixtures.FakeNode) hasocket.ClientSettings {
	s := hasocket.DefaultClientSettings()
	for _, n := range nodes {
		s.Servers = append(s.Servers, n.URL())
	}
	s.Binary = false
	s.DataConnectTimeout = 2 * time.Second
	s.DataRequestTimeout = 2 * time.Second
	s.ControlConnectTimeout = 2 * time.Second
	s.RegisterTimeout = 2 * time.Second
	return s
}

// replyWith makes the data endpoint of fn answer every request with name.
func replyWith(fn *fixtures.FakeNode, name string) {
	fn.SetDataHandler(func(messageType int, _ []byte) (int, []byte) {
		return messageType, []byte(name)
	})
}

func newTestManager(t *testing.T, settings hasocket.ClientSettings, metrics *Metrics) *Manager {
	m, err := NewManager(fixtures.NewTestLogger(t), settings, testDialers, metrics)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = m.Close()
	})
	return m
}

func newStartedManager(t *testing.T, nodes ...*fixtures.FakeNode) *Manager {
	m := newTestManager(t, testSettings(nodes...), nil)
	m.Start(context.Background())
	return m
}

// threeNodes returns A(1, master), B(2, slave), C(3, slave).
func threeNodes(t *testing.T) (a, b, c *fixtures.FakeNode) {
	a = fixtures.NewFakeNode(t, "1", true)
	b = fixtures.NewFakeNode(t, "2", false)
	c = fixtures.NewFakeNode(t, "3", false)
	replyWith(a, "A")
	replyWith(b, "B")
	replyWith(c, "C")
	return a, b, c
}

func endpoints(nodes ...*fixtures.FakeNode) []string {
	result := make([]string, 0, len(nodes))
	for _, n := range nodes {
		result = append(result, n.ManagementURL())
	}
	return result
}
