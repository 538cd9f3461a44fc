// Package hasocket holds the types shared by the cluster client and the reference node: the
// request/response envelope, the control channel messages, the membership listener contract
// and configuration parameters.
package hasocket

import (
	"context"
)

// Runnable is a long running function intended to be launched in a goroutine.
type Runnable func(context.Context)

// Runner exposes a Runnable through an interface
type Runner interface {
	Run(context.Context)
}

// MaybeAppendRunnable appends the Run method of maybeRunner if it implements Runner.
func MaybeAppendRunnable(runnables []Runnable, maybeRunner interface{}) []Runnable {
	if r, ok := maybeRunner.(Runner); ok {
		runnables = append(runnables, r.Run)
	}
	return runnables
}
