// Package heart implements a fixed-interval pacemaker.
package heart

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Debug is the default logger that Pacemaker uses.
var Debug = func(v ...interface{}) {}

// AtomicTime is a thread-safe UnixNano timestamp guarded by atomic.
type AtomicTime struct {
	unixnano atomic.Int64
}

func (t *AtomicTime) Get() int64 {
	return t.unixnano.Load()
}

func (t *AtomicTime) Set(time time.Time) {
	t.unixnano.Store(time.UnixNano())
}

func (t *AtomicTime) Time() time.Time {
	return time.Unix(0, t.Get())
}

// Pacemaker calls Pacer once immediately after Start and then once every
// Heartrate until Stop is called. Replies are not tracked; liveness is left to
// the remote end.
type Pacemaker struct {
	// Heartrate is the duration between heartbeats.
	Heartrate time.Duration

	// SentBeat is the time the last beat was sent.
	SentBeat AtomicTime

	// Pacer is called on every beat. Errors are given to ErrorLog and do not
	// stop the pacemaker.
	Pacer func(context.Context) error
	// ErrorLog is called with errors returned by Pacer.
	ErrorLog func(error)

	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	started atomic.Bool
}

// NewPacemaker creates a new stopped Pacemaker.
func NewPacemaker(heartrate time.Duration, pacer func(context.Context) error) *Pacemaker {
	return &Pacemaker{
		Heartrate: heartrate,
		Pacer:     pacer,
		ErrorLog:  func(error) {},
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start starts the pacemaker in its own goroutine. Calling Start more than once
// does nothing.
func (p *Pacemaker) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}

	go p.loop()
}

// Stop stops the pacemaker. No beat is sent once Stop returns, although a beat
// that is already being sent is not interrupted. It does nothing if the
// pacemaker is already stopped.
func (p *Pacemaker) Stop() {
	p.once.Do(func() { close(p.stop) })
}

// Done returns a channel that's closed once the pacemaker goroutine exits. It
// is never closed if the pacemaker was never started.
func (p *Pacemaker) Done() <-chan struct{} {
	return p.done
}

func (p *Pacemaker) loop() {
	defer close(p.done)
	defer Debug("Pacemaker returned.")

	tick := time.NewTicker(p.Heartrate)
	defer tick.Stop()

	for {
		// Check the stop signal first, so that a ticker and a stop that are
		// ready at the same time never produce a final beat.
		select {
		case <-p.stop:
			return
		default:
		}

		p.pace()

		select {
		case <-p.stop:
			return
		case <-tick.C:
		}
	}
}

func (p *Pacemaker) pace() {
	ctx, cancel := context.WithTimeout(context.Background(), p.Heartrate)
	defer cancel()

	// Cancel the beat in flight if we're stopped.
	go func() {
		select {
		case <-p.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := p.Pacer(ctx); err != nil {
		p.ErrorLog(err)
		return
	}

	p.SentBeat.Set(time.Now())
}
