package node

import (
	"context"
	"sync"

	"github.com/atlassian/hasocket"
)

const (
	// ServiceSystem answers ping and info.
	ServiceSystem = "system"
	// ServiceKV is an in-memory key value store.
	ServiceKV = "kv"
)

// NewSystemService returns the system service of a node: ping replies "pong", info reports the
// node id, role and services.
func NewSystemService(source hasocket.MembershipSource, d *Dispatcher) Service {
	return Service{
		"ping": func(ctx context.Context, call *Call) (*hasocket.Result, error) {
			return hasocket.NewResult("pong"), nil
		},
		"info": func(ctx context.Context, call *Call) (*hasocket.Result, error) {
			id, role := source.Self()
			return hasocket.NewResult(map[string]interface{}{
				"id":       id,
				"role":     string(role),
				"language": call.Language,
				"services": d.Services(),
			}), nil
		},
	}
}

// KV is a concurrency safe in-memory key value store.
type KV struct {
	mu     sync.RWMutex
	values map[string]interface{}
}

func NewKV() *KV {
	return &KV{
		values: map[string]interface{}{},
	}
}

// Service returns the methods of the store: get, put, create and delete.  All take a "key"
// parameter, put and create also take a "value".
func (kv *KV) Service() Service {
	return Service{
		"get":    kv.get,
		"put":    kv.put,
		"create": kv.create,
		"delete": kv.delete,
	}
}

func notFound(key string) hasocket.Error {
	return hasocket.Error{
		Type:    hasocket.ErrorTypeNotFound,
		Message: "key not found",
		Details: map[string]interface{}{"key": key},
	}
}

func (kv *KV) get(ctx context.Context, call *Call) (*hasocket.Result, error) {
	key, err := call.StringParam("key")
	if err != nil {
		return nil, err
	}
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	v, ok := kv.values[key]
	if !ok {
		return nil, notFound(key)
	}
	return hasocket.NewResult(v), nil
}

func (kv *KV) put(ctx context.Context, call *Call) (*hasocket.Result, error) {
	key, err := call.StringParam("key")
	if err != nil {
		return nil, err
	}
	v, _ := call.Param("value")
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.values[key] = v
	return hasocket.NewResult(), nil
}

func (kv *KV) create(ctx context.Context, call *Call) (*hasocket.Result, error) {
	key, err := call.StringParam("key")
	if err != nil {
		return nil, err
	}
	v, _ := call.Param("value")
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if _, exists := kv.values[key]; exists {
		return nil, hasocket.Error{
			Type:    hasocket.ErrorTypeUniqueConstraintViolation,
			Message: "key already exists",
			Details: map[string]interface{}{"key": key},
		}
	}
	kv.values[key] = v
	return hasocket.NewResult(), nil
}

func (kv *KV) delete(ctx context.Context, call *Call) (*hasocket.Result, error) {
	key, err := call.StringParam("key")
	if err != nil {
		return nil, err
	}
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if _, ok := kv.values[key]; !ok {
		return nil, notFound(key)
	}
	delete(kv.values, key)
	return hasocket.NewResult(), nil
}

// Len returns the number of stored keys.
func (kv *KV) Len() int {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	return len(kv.values)
}
