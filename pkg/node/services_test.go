package node

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlassian/hasocket"
	"github.com/atlassian/hasocket/internal/cluster/nodes"
	"github.com/atlassian/hasocket/internal/fixtures"
)

func newServiceDispatcher(t *testing.T, source hasocket.MembershipSource) (*Dispatcher, *KV) {
	d := NewDispatcher(fixtures.NewTestLogger(t), hasocket.DefaultLanguage)
	kv := NewKV()
	d.Register(ServiceSystem, NewSystemService(source, d))
	d.Register(ServiceKV, kv.Service())
	return d, kv
}

func kvRequest(method, key string, value interface{}) hasocket.Request {
	params := map[string]interface{}{"key": key}
	if value != nil {
		params["value"] = value
	}
	return hasocket.Request{Service: ServiceKV, Method: method, Parameters: params}
}

func TestSystemService(t *testing.T) {
	t.Parallel()

	source := nodes.NewStaticSource(fixtures.NewTestLogger(t), "7", hasocket.RoleMaster)
	d, _ := newServiceDispatcher(t, source)

	r := d.Dispatch(context.Background(), hasocket.Request{Service: ServiceSystem, Method: "ping"})
	require.True(t, r.Ok)
	assert.Equal(t, "pong", r.SingleData())

	r = d.Dispatch(context.Background(), hasocket.Request{Service: ServiceSystem, Method: "info", Language: "fr"})
	require.True(t, r.Ok)
	assert.Equal(t, map[string]interface{}{
		"id":       "7",
		"role":     "master",
		"language": "fr",
		"services": []string{ServiceKV, ServiceSystem},
	}, r.SingleData())
}

func TestKVService(t *testing.T) {
	t.Parallel()

	d, kv := newServiceDispatcher(t, nodes.NewStaticSource(fixtures.NewTestLogger(t), "1", hasocket.RoleMaster))
	ctx := context.Background()

	r := d.Dispatch(ctx, kvRequest("get", "a", nil))
	require.False(t, r.Ok)
	assert.Equal(t, hasocket.ErrorTypeNotFound, r.Errors[0].Type)

	r = d.Dispatch(ctx, kvRequest("put", "a", "1"))
	require.True(t, r.Ok)
	r = d.Dispatch(ctx, kvRequest("get", "a", nil))
	require.True(t, r.Ok)
	assert.Equal(t, "1", r.SingleData())

	r = d.Dispatch(ctx, kvRequest("create", "a", "2"))
	require.False(t, r.Ok)
	assert.Equal(t, hasocket.ErrorTypeUniqueConstraintViolation, r.Errors[0].Type)
	r = d.Dispatch(ctx, kvRequest("create", "b", "2"))
	require.True(t, r.Ok)
	assert.Equal(t, 2, kv.Len())

	r = d.Dispatch(ctx, kvRequest("delete", "a", nil))
	require.True(t, r.Ok)
	r = d.Dispatch(ctx, kvRequest("delete", "a", nil))
	require.False(t, r.Ok)
	assert.Equal(t, hasocket.ErrorTypeNotFound, r.Errors[0].Type)
	assert.Equal(t, 1, kv.Len())

	r = d.Dispatch(ctx, hasocket.Request{Service: ServiceKV, Method: "get"})
	require.False(t, r.Ok)
	assert.Equal(t, hasocket.ErrorTypeException, r.Errors[0].Type)
}

func TestKVConcurrentAccess(t *testing.T) {
	t.Parallel()

	d, kv := newServiceDispatcher(t, nodes.NewStaticSource(fixtures.NewTestLogger(t), "1", hasocket.RoleMaster))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		key := string(rune('a' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				d.Dispatch(context.Background(), kvRequest("put", key, "v"))
				d.Dispatch(context.Background(), kvRequest("get", key, nil))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, kv.Len())
}
