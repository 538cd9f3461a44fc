package transport

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tilinna/clock"
)

// interruptableSleep will sleep for the specified duration, or until the context is
// cancelled, whichever comes first.  Returns true if the sleep completes, false if
// the context is canceled.
func interruptableSleep(ctx context.Context, d time.Duration) bool {
	timer := clock.NewTimer(ctx, d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return false
	case <-timer.C:
		return true
	}
}

// frameType returns the websocket message type used for payloads.
func frameType(binary bool) int {
	if binary {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}
