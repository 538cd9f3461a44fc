package hasocket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBroadcastAvailable(t *testing.T) {
	t.Parallel()

	b, ok, err := ParseBroadcast(map[string]interface{}{"available": "2", "role": "slave"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, AvailableBroadcast("2", RoleSlave), b)
}

func TestParseBroadcastUnavailable(t *testing.T) {
	t.Parallel()

	b, ok, err := ParseBroadcast(map[string]interface{}{"unavailable": "3"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, UnavailableBroadcast("3"), b)
}

func TestParseBroadcastReply(t *testing.T) {
	t.Parallel()

	_, ok, err := ParseBroadcast(map[string]interface{}{"id": "1", "isMaster": true})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestParseBroadcastMalformed(t *testing.T) {
	t.Parallel()

	_, ok, err := ParseBroadcast(map[string]interface{}{"available": 12.0})
	require.Error(t, err)
	require.True(t, ok)

	_, ok, err = ParseBroadcast(map[string]interface{}{"unavailable": ""})
	require.Error(t, err)
	require.True(t, ok)
}

func TestRole(t *testing.T) {
	t.Parallel()

	assert.True(t, RoleMaster.Valid())
	assert.True(t, RoleSlave.Valid())
	assert.False(t, Role("arbiter").Valid())
	assert.Equal(t, RoleMaster, RoleFor(true))
	assert.Equal(t, RoleSlave, RoleFor(false))
}
