package discord

import (
	"strconv"
	"time"
)

// Milliseconds is a duration in milliseconds as sent over the wire. Some voice
// servers send it as a float, so the underlying type is float64.
type Milliseconds float64

// DurationToMilliseconds converts the given duration to Milliseconds.
func DurationToMilliseconds(dura time.Duration) Milliseconds {
	return Milliseconds(dura.Seconds() * 1000)
}

func (ms Milliseconds) String() string {
	return strconv.FormatFloat(float64(ms), 'f', -1, 64) + "ms"
}

func (ms Milliseconds) Duration() time.Duration {
	return time.Duration(float64(ms) * float64(time.Millisecond))
}

// UnixMillis returns t as milliseconds since the Unix epoch.
func UnixMillis(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}
