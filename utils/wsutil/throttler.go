package wsutil

import (
	"time"

	"golang.org/x/time/rate"
)

// SendBurst determines the number of payloads that can be sent all at once
// before being throttled. The higher the burst, the slower the rate limiter
// recovers.
var SendBurst = 5

// SendPerMinute is the number of payloads the voice gateway tolerates per
// minute before closing.
const SendPerMinute = 120

// NewSendLimiter returns the limiter used for outgoing payloads.
func NewSendLimiter() *rate.Limiter {
	return rate.NewLimiter(
		// Permit r = minute / (120 - b) payloads per second.
		rate.Every(time.Minute/(SendPerMinute-time.Duration(SendBurst))),
		SendBurst,
	)
}

// NewDialLimiter returns the limiter used for dialing.
func NewDialLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(5*time.Second), 1)
}
