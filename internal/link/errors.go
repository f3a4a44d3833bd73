package link

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by Send when no session is established
var ErrNotConnected = errors.New("link not connected")

// ConnectError is a failed attempt to establish a session with the peer
type ConnectError struct {
	Peer string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to %s: %v", e.Peer, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// SendError is a failed command write
type SendError struct {
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send: %v", e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
