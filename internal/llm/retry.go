package llm

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// backoff yields capped exponential delays. Each delay is scaled by a random
// factor in [1-jitter, 1] so concurrent clients spread out.
type backoff struct {
	base   time.Duration
	max    time.Duration
	jitter float64
}

// delay returns the wait before retry n, counting from 1.
func (b backoff) delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := b.base
	for i := 1; i < n && d < b.max; i++ {
		d *= 2
	}
	if d > b.max {
		d = b.max
	}
	if b.jitter > 0 {
		d = time.Duration(float64(d) * (1 - b.jitter*rand.Float64()))
	}
	return d
}

// sleep waits for info.Duration, through onWait when one is set.
func sleep(ctx context.Context, onWait WaitCallback, info WaitInfo) error {
	if onWait != nil {
		return onWait(ctx, info)
	}
	t := time.NewTimer(info.Duration)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ErrStreamEnded is reported when a stream closes without a "done" or
// "error" chunk while its context is still live.
var ErrStreamEnded = errors.New("stream closed without a terminal chunk")

// relay copies one attempt's stream to out. An error that arrives before
// any text and satisfies retryable is held back and returned with
// held=true; any other error is forwarded and also returned. A stream that
// closes without a terminal chunk is treated as failing with ctx.Err(), or
// ErrStreamEnded when ctx is live, so out always ends with one.
func relay(ctx context.Context, in <-chan StreamChunk, out chan<- StreamChunk, retryable func(error) bool) (failure error, held bool) {
	textSent, terminal := false, false
	for chunk := range in {
		switch chunk.Type {
		case ChunkText:
			textSent = true
		case ChunkDone:
			terminal = true
		case ChunkError:
			terminal = true
			failure = chunk.Error
			if !textSent && retryable(chunk.Error) {
				held = true
				continue
			}
		}
		out <- chunk
	}
	if terminal {
		return failure, held
	}

	failure = ctx.Err()
	if failure == nil {
		failure = ErrStreamEnded
	}
	if !textSent && retryable(failure) {
		return failure, true
	}
	out <- StreamChunk{Type: ChunkError, Error: failure}
	return failure, false
}
