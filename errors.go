package hasocket

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectTimeout is returned when a websocket handshake does not complete in time.
	ErrConnectTimeout = errors.New("connect timeout")
	// ErrNodeUnavailable is returned when no usable data connection could be obtained for the selected node.
	ErrNodeUnavailable = errors.New("node unavailable")
	// ErrRequestTimeout is returned when no reply arrived before the request timeout.
	ErrRequestTimeout = errors.New("request timeout")
	// ErrConnectionClosed is returned when a connection is closed while a request is waiting.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrNotConnected is returned when sending on a connection that is not open.
	ErrNotConnected = errors.New("not connected")
	// ErrNoWriteNode is returned when the cluster currently has no usable leader.
	ErrNoWriteNode = errors.New("no write node available")
	// ErrNoReadNodes is returned when the cluster currently has no read capacity.
	ErrNoReadNodes = errors.New("no read nodes available")
)

// NodeUnavailableError reports which node could not provide a connection, and why.
type NodeUnavailableError struct {
	Endpoint string
	Err      error
}

func (e *NodeUnavailableError) Error() string {
	return fmt.Sprintf("node %s unavailable: %v", e.Endpoint, e.Err)
}

func (e *NodeUnavailableError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrNodeUnavailable) succeed for any NodeUnavailableError.
func (e *NodeUnavailableError) Is(target error) bool {
	return target == ErrNodeUnavailable
}
