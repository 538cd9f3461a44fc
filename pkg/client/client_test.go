package client

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlassian/hasocket"
	"github.com/atlassian/hasocket/internal/fixtures"
	"github.com/atlassian/hasocket/pkg/codec"
)

type fakeRouter struct {
	codec    codec.Codec
	route    string
	request  hasocket.Request
	reply    []byte
	err      error
	notified bool
}

func (fr *fakeRouter) handle(route string, payload []byte) ([]byte, error) {
	fr.route = route
	fr.request = hasocket.Request{}
	if err := fr.codec.Unmarshal(payload, &fr.request); err != nil {
		return nil, err
	}
	return fr.reply, fr.err
}

func (fr *fakeRouter) SendWrite(_ context.Context, payload []byte) ([]byte, error) {
	return fr.handle("write", payload)
}

func (fr *fakeRouter) SendRead(_ context.Context, payload []byte) ([]byte, error) {
	return fr.handle("read", payload)
}

func (fr *fakeRouter) SendWriteNoReply(_ context.Context, payload []byte) error {
	fr.notified = true
	_, err := fr.handle("notify", payload)
	return err
}

func newRouter(t *testing.T, c codec.Codec, result *hasocket.Result) *fakeRouter {
	reply, err := c.Marshal(result)
	require.NoError(t, err)
	return &fakeRouter{codec: c, reply: reply}
}

func TestClientRoutes(t *testing.T) {
	t.Parallel()
	for _, c := range []codec.Codec{codec.Text, codec.Binary} {
		router := newRouter(t, c, hasocket.NewResult("v"))
		cl := New(fixtures.NewTestLogger(t), router, c, "en")

		result, err := cl.Read(context.Background(), "kv", "get", map[string]interface{}{"key": "k"})
		require.NoError(t, err)
		assert.Equal(t, "read", router.route)
		assert.True(t, result.Ok)
		assert.Equal(t, "v", result.SingleData())
		assert.Equal(t, hasocket.Request{
			Service:    "kv",
			Method:     "get",
			Language:   "en",
			Parameters: map[string]interface{}{"key": "k"},
		}, router.request)

		_, err = cl.Write(context.Background(), "kv", "put", nil, WithLanguage("de"))
		require.NoError(t, err)
		assert.Equal(t, "write", router.route)
		assert.Equal(t, "de", router.request.Language)
		assert.Nil(t, router.request.Parameters)

		require.NoError(t, cl.Notify(context.Background(), "kv", "delete", nil))
		assert.True(t, router.notified)
		assert.Equal(t, "notify", router.route)
	}
}

func TestClientServerErrors(t *testing.T) {
	t.Parallel()
	result := hasocket.NewErrorResult(hasocket.NewError(hasocket.ErrorTypeUnknownService, "no such service"))
	router := newRouter(t, codec.Text, result)
	cl := New(fixtures.NewTestLogger(t), router, codec.Text, "en")

	got, err := cl.Read(context.Background(), "missing", "x", nil)
	require.NoError(t, err)
	assert.False(t, got.Ok)
	assert.Empty(t, got.Data)
	require.Error(t, got.Err())
	assert.Equal(t, "UnknownService: no such service", got.Err().Error())
}

func TestClientRoutingFailure(t *testing.T) {
	t.Parallel()
	router := &fakeRouter{codec: codec.Text, err: &hasocket.NodeUnavailableError{Endpoint: "ws://x/ws/data", Err: hasocket.ErrConnectTimeout}}
	cl := New(fixtures.NewTestLogger(t), router, codec.Text, "en")

	_, err := cl.Write(context.Background(), "kv", "put", nil)
	require.ErrorIs(t, err, hasocket.ErrNodeUnavailable)
	require.ErrorIs(t, err, hasocket.ErrConnectTimeout)
}

func TestClientUndecodableReply(t *testing.T) {
	t.Parallel()
	router := &fakeRouter{codec: codec.Text, reply: []byte("{")}
	cl := New(fixtures.NewTestLogger(t), router, codec.Text, "en")

	_, err := cl.Read(context.Background(), "kv", "get", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), hasocket.ErrorTypeMessageToJSONFailure)
	assert.False(t, errors.Is(err, hasocket.ErrNodeUnavailable))
}
