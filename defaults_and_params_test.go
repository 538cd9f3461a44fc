package hasocket

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddFlags(t *testing.T) {
	require.NotPanics(t, func() {
		fs := &pflag.FlagSet{}
		AddFlags(fs)
	})
}

func TestSettingsFromViperDefaults(t *testing.T) {
	t.Parallel()

	v := viper.New()
	v.Set(ParamServers, []string{"ws://a:7474", "ws://b:7474"})
	cs, err := NewClientSettingsFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, []string{"ws://a:7474", "ws://b:7474"}, cs.Servers)
	assert.Equal(t, 600*time.Second, cs.DataConnectTimeout)
	assert.Equal(t, 15*time.Second, cs.ControlConnectTimeout)
	assert.Equal(t, 45*time.Second, cs.ControlReconnectTimeout)
	assert.Equal(t, 5*time.Second, cs.RegisterTimeout)
	assert.Equal(t, 10*time.Minute, cs.MaxIdleAge)
	assert.True(t, cs.Binary)
}

func TestSettingsFromViperCommaSeparated(t *testing.T) {
	t.Parallel()

	v := viper.New()
	v.Set(ParamServers, "ws://a:7474, ws://b:7474,")
	cs, err := NewClientSettingsFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, []string{"ws://a:7474", "ws://b:7474"}, cs.Servers)
}

func TestSettingsFromViperRequiresServers(t *testing.T) {
	t.Parallel()

	_, err := NewClientSettingsFromViper(viper.New())
	require.Error(t, err)
}

func TestSettingsFromViperRejectsNegative(t *testing.T) {
	t.Parallel()

	v := viper.New()
	v.Set(ParamServers, []string{"ws://a:7474"})
	v.Set(ParamRegisterTimeout, -1*time.Second)
	_, err := NewClientSettingsFromViper(v)
	require.Error(t, err)
}

func TestEndpoints(t *testing.T) {
	t.Parallel()

	cs := DefaultClientSettings()
	cs.ManagementPath = "admin/"
	assert.Equal(t, "ws://a:1/admin", cs.ManagementURI("ws://a:1/"))
	assert.Equal(t, "ws://a:1/ws/data", cs.DataURI("ws://a:1"))
}

func TestSanitizePath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/ws/data", SanitizePath("ws/data"))
	assert.Equal(t, "/ws/data", SanitizePath("/ws/data/"))
	assert.Equal(t, "/", SanitizePath(""))
}
