package wsutil

import (
	"net"
	"strconv"

	"github.com/pkg/errors"
)

// Close codes that this package produces on its own.
const (
	// CloseNormal is the code for a normal closure.
	CloseNormal = 1000
	// CloseAbnormal is used when the connection dropped without a close
	// frame, including when it was closed locally.
	CloseAbnormal = 1006
)

// CloseEvent describes how a Websocket connection ended.
type CloseEvent struct {
	Code   int
	Reason string
	// Err is the underlying read error for abnormal closures.
	Err error
}

// Error formats the close event as an error.
func (e *CloseEvent) Error() string {
	s := "websocket closed with code " + strconv.Itoa(e.Code)
	if e.Reason != "" {
		s += ": " + e.Reason
	}
	return s
}

// Unwrap returns the underlying read error, if any.
func (e *CloseEvent) Unwrap() error { return e.Err }

func isClosedConnErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
