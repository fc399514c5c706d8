// Package handler dispatches events to callbacks and channels. It is how
// voice sessions hand speaking, close and disconnect notifications to the
// application.
//
// Usage
//
//    rm := handler.Add(session.Handler, func(ev *voice.SpeakingEvent) {
//        log.Println(ev.UserID, "speaking:", ev.Speaking)
//    })
//    defer rm()
//
package handler

import (
	"context"
	"sync"
	"sync/atomic"
)

// Handlers is a container for event handlers. A zero-value instance is a valid
// instance.
type Handlers[T any] struct {
	mutex   sync.RWMutex
	callers slab[caller[T]]
}

// New constructs an empty Handlers.
func New[T any]() *Handlers[T] {
	return &Handlers[T]{}
}

// Dispatch calls all handlers with the given event. Synchronous handlers are
// done by the time Dispatch returns.
func (h *Handlers[T]) Dispatch(ev T) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	h.callers.All(func(c caller[T]) {
		c.Call(ev)
	})
}

// Len returns the number of handlers.
func (h *Handlers[T]) Len() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return h.callers.Len()
}

// HandleCallback adds a callback function that is called in its own goroutine
// on every dispatched event. It returns a function that removes the callback.
func (h *Handlers[T]) HandleCallback(fn func(T)) (rm func()) {
	return h.add(callback[T]{fn: fn, async: true})
}

// HandleSynchronousCallback is like HandleCallback, but the callback is called
// on the goroutine that dispatches. Use this only for non-blocking work.
func (h *Handlers[T]) HandleSynchronousCallback(fn func(T)) (rm func()) {
	return h.add(callback[T]{fn: fn})
}

// HandleChannel adds the given channel to receive dispatched events. Sends
// happen in the background, so a full channel never blocks Dispatch. The
// channel must not be closed; rm cancels all pending sends.
func (h *Handlers[T]) HandleChannel(ch chan<- T) (rm func()) {
	return h.add(channel[T]{ch: ch, close: make(chan struct{})})
}

func (h *Handlers[T]) add(c caller[T]) (rm func()) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	i := h.callers.Put(c)
	var gone atomic.Bool

	return func() {
		if !gone.CompareAndSwap(false, true) {
			return
		}

		h.mutex.Lock()
		c := h.callers.Pop(i)
		h.mutex.Unlock()
		c.Close()
	}
}

// Add adds a callback for events of type EventT only. The callback is
// dispatched synchronously.
func Add[T any, EventT any](h *Handlers[T], fn func(EventT)) (rm func()) {
	return h.HandleSynchronousCallback(func(ev T) {
		if e, ok := any(ev).(EventT); ok {
			fn(e)
		}
	})
}

// Expect returns a function that blocks until an event of type EventT makes fn
// return true, then returns that event. The handler is removed once the
// returned function returns.
func Expect[T any, EventT any](h *Handlers[T], fn func(EventT) bool) func(context.Context) (EventT, error) {
	out := make(chan T, 1)
	rm := h.HandleChannel(out)

	return func(ctx context.Context) (EventT, error) {
		defer rm()

		for {
			select {
			case <-ctx.Done():
				var z EventT
				return z, ctx.Err()
			case ev := <-out:
				v, ok := any(ev).(EventT)
				if ok && fn(v) {
					return v, nil
				}
			}
		}
	}
}

type caller[T any] interface {
	Call(T)
	Close()
}

type callback[T any] struct {
	fn    func(T)
	async bool
}

func (c callback[T]) Call(v T) {
	if c.async {
		go c.fn(v)
	} else {
		c.fn(v)
	}
}

func (c callback[T]) Close() {}

type channel[T any] struct {
	ch    chan<- T
	close chan struct{}
}

func (c channel[T]) Call(v T) {
	select {
	case <-c.close:
		return
	default:
	}

	go func() {
		select {
		case c.ch <- v:
		case <-c.close:
		}
	}()
}

func (c channel[T]) Close() {
	close(c.close)
}
