// Package metronome provides a drift-corrected periodic scheduler for real-time
// loops. Every wake target is derived from the previous target, not from the
// time the caller finished its work, so slow ticks do not shift the cadence.
package metronome

import (
	"context"
	"time"
)

// Clock is the time source of a Metronome. Now must be monotonic.
type Clock interface {
	Now() time.Time
	Sleep(time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time          { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// RealClock is the Clock backed by the runtime's monotonic clock.
var RealClock Clock = realClock{}

var (
	// SpinWindow is how much of each period is waited in short steps rather
	// than a single sleep. Most runtimes oversleep by up to a millisecond or
	// two, so the last stretch is approached in FineStep increments.
	SpinWindow = 2 * time.Millisecond
	// FineStep is the sleep used while inside SpinWindow.
	FineStep = 250 * time.Microsecond
)

// MaxLag is the number of periods the metronome may fall behind before it
// gives up catching up and restarts from the current time.
const MaxLag = 5

// Metronome wakes the caller once every period.
type Metronome struct {
	clock  Clock
	period time.Duration
	next   time.Time
}

// New creates a Metronome. The first Wait returns immediately.
func New(clock Clock, period time.Duration) *Metronome {
	if clock == nil {
		clock = RealClock
	}

	return &Metronome{
		clock:  clock,
		period: period,
	}
}

// Period returns the metronome's period.
func (m *Metronome) Period() time.Duration {
	return m.period
}

// Reset makes the next Wait return immediately and restarts the cadence from
// there.
func (m *Metronome) Reset() {
	m.next = time.Time{}
}

// Wait blocks until the next target and returns how late it woke up. The
// context is only checked before sleeping; cancellation latency is therefore
// bounded by one period.
func (m *Metronome) Wait(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	now := m.clock.Now()

	if m.next.IsZero() {
		m.next = now.Add(m.period)
		return 0, nil
	}

	target := m.next

	// We're too far behind, so bursting out every missed tick would just
	// flood the receiver. Start over.
	if lag := now.Sub(target); lag > MaxLag*m.period {
		m.next = now.Add(m.period)
		return lag, nil
	}

	if coarse := target.Sub(now) - SpinWindow; coarse > 0 {
		m.clock.Sleep(coarse)
	}

	for {
		now = m.clock.Now()
		if !now.Before(target) {
			break
		}

		if d := target.Sub(now); d < FineStep {
			m.clock.Sleep(d)
		} else {
			m.clock.Sleep(FineStep)
		}
	}

	m.next = target.Add(m.period)
	return now.Sub(target), nil
}
