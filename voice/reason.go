package voice

import "strconv"

// Reason is why a session was disconnected.
type Reason uint8

const (
	// LeftChannel is a clean disconnect asked for by the application.
	LeftChannel Reason = iota
	// ConnectionClosed is used when the application tears the session down
	// after the voice connection was lost.
	ConnectionClosed
	// StartFailed is used when Start gave up halfway.
	StartFailed
)

func (r Reason) String() string {
	switch r {
	case LeftChannel:
		return "LEFT_CHANNEL"
	case ConnectionClosed:
		return "CONNECTION_CLOSED"
	case StartFailed:
		return "START_FAILED"
	default:
		return "Reason(" + strconv.Itoa(int(r)) + ")"
	}
}
