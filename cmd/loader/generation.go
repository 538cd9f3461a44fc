package main

import (
	"fmt"
	"math/rand"
	"strings"
	"sync/atomic"
)

type requestKind int

const (
	kindRead requestKind = iota
	kindWrite
	kindNotify
)

func (k requestKind) String() string {
	switch k {
	case kindRead:
		return "read"
	case kindWrite:
		return "write"
	default:
		return "notify"
	}
}

type request struct {
	kind  requestKind
	key   string
	value string
}

// params returns the kv parameters of the request.
func (r request) params() map[string]interface{} {
	p := map[string]interface{}{"key": r.key}
	if r.kind != kindRead {
		p["value"] = r.value
	}
	return p
}

// requestGenerator produces the requests of a single worker.
type requestGenerator struct {
	rnd *rand.Rand

	remaining      uint64 // atomic
	writeRatio     float64
	notifyRatio    float64
	keyFormat      string
	keyCardinality uint
	valueSize      uint
}

// next returns the next request, or false once the worker has sent its share.
func (rg *requestGenerator) next() (request, bool) {
	// Only this worker decrements remaining, the status printer only reads it.
	if atomic.LoadUint64(&rg.remaining) == 0 {
		return request{}, false
	}
	atomic.AddUint64(&rg.remaining, ^uint64(0))

	r := request{
		kind: kindRead,
		key:  fmt.Sprintf(rg.keyFormat, rg.rnd.Intn(int(rg.keyCardinality))),
	}
	if rg.rnd.Float64() < rg.writeRatio {
		r.kind = kindWrite
		if rg.rnd.Float64() < rg.notifyRatio {
			r.kind = kindNotify
		}
		r.value = rg.value()
	}
	return r, true
}

func (rg *requestGenerator) value() string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	var sb strings.Builder
	sb.Grow(int(rg.valueSize))
	for i := uint(0); i < rg.valueSize; i++ {
		sb.WriteByte(alphabet[rg.rnd.Intn(len(alphabet))])
	}
	return sb.String()
}
