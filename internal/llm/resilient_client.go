package llm

import (
	"context"
	"time"

	"github.com/abdul-hamid-achik/toolloop/internal/config"
	looperr "github.com/abdul-hamid-achik/toolloop/internal/errors"
	"github.com/abdul-hamid-achik/toolloop/internal/logging"
)

// ResilientClient retries retryable failures with backoff and trips a
// Breaker when the endpoint keeps failing. A failure after the first text
// chunk is never retried, so the caller never sees a response twice.
type ResilientClient struct {
	inner   LLMClient
	breaker *Breaker
	retries int
	backoff backoff
	log     *logging.Logger
}

func NewResilientClient(inner LLMClient, cfg config.RateLimitConfig, log *logging.Logger) *ResilientClient {
	rc := &ResilientClient{
		inner:   inner,
		breaker: NewBreaker(5, 30*time.Second),
		retries: cfg.MaxRetries,
		backoff: backoff{base: cfg.BaseDelay, max: cfg.MaxDelay, jitter: 0.5},
		log:     log.WithPrefix("llm"),
	}
	if rc.retries <= 0 {
		rc.retries = 3
	}
	if rc.backoff.base <= 0 {
		rc.backoff.base = time.Second
	}
	if rc.backoff.max <= 0 {
		rc.backoff.max = 30 * time.Second
	}
	return rc
}

func (rc *ResilientClient) ChatStream(ctx context.Context, messages []Message, systemPrompt string) <-chan StreamChunk {
	out := make(chan StreamChunk, 100)
	go func() {
		defer close(out)
		for attempt := 1; ; attempt++ {
			if err := rc.breaker.Acquire(); err != nil {
				out <- StreamChunk{Type: ChunkError, Error: looperr.LLMUnavailable(err)}
				return
			}

			retryable := func(err error) bool {
				return attempt <= rc.retries && ctx.Err() == nil && looperr.IsRetryable(err)
			}
			failure, held := relay(ctx, rc.inner.ChatStream(ctx, messages, systemPrompt), out, retryable)
			// Rejections and cancellations say nothing about endpoint health.
			if failure != nil && looperr.IsRetryable(failure) {
				rc.breaker.Report(failure)
			} else {
				rc.breaker.Report(nil)
			}
			if !held {
				return
			}

			delay := rc.backoff.delay(attempt)
			rc.log.Warn("retrying request", logging.F("attempt", attempt), logging.Duration(delay), logging.Error(failure))
			if err := sleep(ctx, nil, WaitInfo{Duration: delay}); err != nil {
				out <- StreamChunk{Type: ChunkError, Error: err}
				return
			}
		}
	}()
	return out
}

func (rc *ResilientClient) SetModel(model string) { rc.inner.SetModel(model) }
func (rc *ResilientClient) GetModel() string      { return rc.inner.GetModel() }

// BreakerState reports the breaker position, mainly for tests.
func (rc *ResilientClient) BreakerState() BreakerState { return rc.breaker.State() }
