package llm

import (
	"context"
	"errors"
	"time"
)

// ErrChunkTimeout is returned when a stream stays silent longer than its
// idle timeout.
var ErrChunkTimeout = errors.New("stream chunk timeout: no data received")

// eventStream is the iterator shape of the SDK's SSE stream.
type eventStream[T any] interface {
	Next() bool
	Current() T
	Err() error
	Close() error
}

// watchedStream reads an eventStream on its own goroutine so that a reader
// blocked on a dead connection can give up on cancellation or silence.
type watchedStream[T any] struct {
	ctx    context.Context
	src    eventStream[T]
	idle   time.Duration
	events chan T
	err    error // valid once events is closed
}

func watchStream[T any](ctx context.Context, src eventStream[T], idle time.Duration) *watchedStream[T] {
	if idle <= 0 {
		idle = DefaultChunkTimeout
	}
	w := &watchedStream[T]{ctx: ctx, src: src, idle: idle, events: make(chan T, 1)}
	go w.pump()
	return w
}

func (w *watchedStream[T]) pump() {
	for w.src.Next() {
		select {
		case w.events <- w.src.Current():
		case <-w.ctx.Done():
			return
		}
	}
	w.err = w.src.Err()
	close(w.events)
}

// Next returns the next event. ok is false once the stream has ended; err
// then holds the stream's own failure, if any.
func (w *watchedStream[T]) Next() (ev T, ok bool, err error) {
	timer := time.NewTimer(w.idle)
	defer timer.Stop()

	select {
	case ev, ok = <-w.events:
		if !ok {
			return ev, false, w.err
		}
		return ev, true, nil
	case <-w.ctx.Done():
		return ev, false, w.ctx.Err()
	case <-timer.C:
		return ev, false, ErrChunkTimeout
	}
}

// Close releases the connection, which also unblocks the pump.
func (w *watchedStream[T]) Close() error {
	return w.src.Close()
}
