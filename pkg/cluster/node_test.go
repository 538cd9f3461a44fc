package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tilinna/clock"

	"github.com/atlassian/hasocket"
	"github.com/atlassian/hasocket/internal/fixtures"
	"github.com/atlassian/hasocket/pkg/transport"
)

func newTestNode(t *testing.T, fn *fixtures.FakeNode) *Node {
	n := NewNode(fixtures.NewTestLogger(t), testSettings(fn), fn.URL(), testDialers, nil)
	t.Cleanup(func() {
		_ = n.Close()
	})
	return n
}

func TestNodeEndpoints(t *testing.T) {
	t.Parallel()
	fn := fixtures.NewFakeNode(t, "1", true)
	n := NewNode(fixtures.NewTestLogger(t), testSettings(fn), fn.URL()+"/", testDialers, nil)

	assert.Equal(t, fn.ManagementURL(), n.ManagementEndpoint())
	assert.Equal(t, fn.DataURL(), n.DataEndpoint())
	assert.Empty(t, n.ID())
	assert.False(t, n.IsMaster())
	assert.False(t, n.IsAvailable())
	require.NoError(t, n.Close())
}

func TestNodeRegister(t *testing.T) {
	t.Parallel()
	fn := fixtures.NewFakeNode(t, "42", true)
	n := newTestNode(t, fn)

	require.Error(t, n.Register(context.Background()))
	require.NoError(t, n.Connect(context.Background()))
	require.NoError(t, n.Register(context.Background()))

	assert.Equal(t, "42", n.ID())
	assert.True(t, n.IsMaster())
	assert.Equal(t, hasocket.RoleMaster, n.Role())
	assert.True(t, n.IsAvailable())

	n.SetAvailable(false)
	assert.False(t, n.IsAvailable())
}

func TestNodePoolFIFO(t *testing.T) {
	t.Parallel()
	fn := fixtures.NewFakeNode(t, "1", true)
	n := newTestNode(t, fn)
	ctx := context.Background()

	c1, err := n.GetConnection(ctx)
	require.NoError(t, err)
	c2, err := n.GetConnection(ctx)
	require.NoError(t, err)
	require.NotSame(t, c1, c2)

	idle, busy := n.PoolSize()
	assert.Equal(t, 0, idle)
	assert.Equal(t, 2, busy)

	n.ReturnConnection(c1)
	n.ReturnConnection(c2)
	idle, busy = n.PoolSize()
	assert.Equal(t, 2, idle)
	assert.Equal(t, 0, busy)

	got1, err := n.GetConnection(ctx)
	require.NoError(t, err)
	got2, err := n.GetConnection(ctx)
	require.NoError(t, err)
	assert.Same(t, c1, got1)
	assert.Same(t, c2, got2)
	assert.Equal(t, 2, fn.DataDials())
}

func TestNodeConnectionNeverSharedWhileLeased(t *testing.T) {
	t.Parallel()
	fn := fixtures.NewFakeNode(t, "1", true)
	n := newTestNode(t, fn)
	ctx := context.Background()

	seen := map[*transport.DataConnection]bool{}
	for i := 0; i < 5; i++ {
		dc, err := n.GetConnection(ctx)
		require.NoError(t, err)
		require.False(t, seen[dc])
		seen[dc] = true
	}
}

func TestNodeIdleExpiry(t *testing.T) {
	t.Parallel()
	fn := fixtures.NewFakeNode(t, "1", true)
	n := newTestNode(t, fn)

	mockClock := clock.NewMock(time.Unix(1, 0))
	ctx := clock.Context(context.Background(), mockClock)

	old, err := n.GetConnection(ctx)
	require.NoError(t, err)
	n.ReturnConnection(old)

	mockClock.Add(hasocket.DefaultMaxIdleAge + time.Second)

	fresh, err := n.GetConnection(ctx)
	require.NoError(t, err)
	assert.NotSame(t, old, fresh)
	assert.Equal(t, transport.StateClosed, old.State())
	assert.Equal(t, 2, fn.DataDials())

	idle, busy := n.PoolSize()
	assert.Equal(t, 0, idle)
	assert.Equal(t, 1, busy)
}

func TestNodeReturnClosesUnusable(t *testing.T) {
	t.Parallel()
	fn := fixtures.NewFakeNode(t, "1", true)
	fn.SetDataHandler(func(int, []byte) (int, []byte) {
		return 0, nil
	})
	n := newTestNode(t, fn)

	dc, err := n.GetConnection(context.Background())
	require.NoError(t, err)
	_, err = dc.SendWithResult(context.Background(), []byte("x"), 20*time.Millisecond)
	require.ErrorIs(t, err, hasocket.ErrRequestTimeout)

	n.ReturnConnection(dc)
	idle, busy := n.PoolSize()
	assert.Equal(t, 0, idle)
	assert.Equal(t, 0, busy)
	assert.Equal(t, transport.StateClosed, dc.State())
}

func TestNodeGetConnectionFails(t *testing.T) {
	t.Parallel()
	fn := fixtures.NewFakeNode(t, "1", true)
	settings := testSettings(fn)
	settings.DataPath = "/ws/missing"
	n := NewNode(fixtures.NewTestLogger(t), settings, fn.URL(), testDialers, nil)
	defer n.Close()

	dc, err := n.GetConnection(context.Background())
	require.Error(t, err)
	require.Nil(t, dc)
	idle, busy := n.PoolSize()
	assert.Equal(t, 0, idle)
	assert.Equal(t, 0, busy)
}

func TestNodeClose(t *testing.T) {
	t.Parallel()
	fn := fixtures.NewFakeNode(t, "1", true)
	n := newTestNode(t, fn)
	ctx := context.Background()
	require.NoError(t, n.Connect(ctx))

	leased, err := n.GetConnection(ctx)
	require.NoError(t, err)
	idle, err := n.GetConnection(ctx)
	require.NoError(t, err)
	n.ReturnConnection(idle)

	require.NoError(t, n.Close())
	assert.Equal(t, transport.StateClosed, leased.State())
	assert.Equal(t, transport.StateClosed, idle.State())
	assert.False(t, n.IsAvailable())

	_, err = n.GetConnection(ctx)
	require.ErrorIs(t, err, hasocket.ErrConnectionClosed)
	n.ReturnConnection(leased)
}
