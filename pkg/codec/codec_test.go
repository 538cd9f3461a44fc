package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlassian/hasocket"
)

func TestNew(t *testing.T) {
	t.Parallel()

	assert.True(t, New(true).Binary())
	assert.False(t, New(false).Binary())
}

func TestRequestEnvelope(t *testing.T) {
	t.Parallel()

	req := hasocket.Request{
		Service:    "kv",
		Method:     "get",
		Language:   "de",
		Parameters: map[string]interface{}{"key": "k1", "limit": 3},
	}
	for _, c := range []Codec{Text, Binary} {
		data, err := c.Marshal(req)
		require.NoError(t, err)

		var decoded hasocket.Request
		require.NoError(t, c.Unmarshal(data, &decoded))
		assert.Equal(t, "kv", decoded.Service)
		assert.Equal(t, "get", decoded.Method)
		assert.Equal(t, "de", decoded.Language)
		// Numbers are not typed on the wire.
		assert.Equal(t, map[string]interface{}{"key": "k1", "limit": 3.0}, decoded.Parameters)
	}
}

func TestTextFieldNames(t *testing.T) {
	t.Parallel()

	data, err := Text.Marshal(hasocket.NewResult("x").Finish())
	require.NoError(t, err)
	assert.JSONEq(t, `{"Ok":true,"Data":["x"]}`, string(data))

	data, err = Text.Marshal(hasocket.Request{Service: "s", Method: "m"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"s":"s","m":"m"}`, string(data))
}

func TestBinaryIntoMap(t *testing.T) {
	t.Parallel()

	data, err := Binary.Marshal(hasocket.AvailableBroadcast("2", hasocket.RoleMaster))
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, Binary.Unmarshal(data, &fields))
	assert.Equal(t, map[string]interface{}{"available": "2", "role": "master"}, fields)
}

func TestBinaryRejectsGarbage(t *testing.T) {
	t.Parallel()

	var fields map[string]interface{}
	require.Error(t, Binary.Unmarshal([]byte{0xff, 0xff, 0xff}, &fields))
}

func TestBinaryScalarIntoMap(t *testing.T) {
	t.Parallel()

	data, err := Binary.Marshal("register")
	require.NoError(t, err)

	var fields map[string]interface{}
	require.Error(t, Binary.Unmarshal(data, &fields))

	var s string
	require.NoError(t, Binary.Unmarshal(data, &s))
	assert.Equal(t, "register", s)
}
