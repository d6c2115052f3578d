package llm

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/abdul-hamid-achik/toolloop/internal/config"
	"github.com/abdul-hamid-achik/toolloop/internal/logging"
)

// EstimateFunc sizes a request in prompt tokens before it is sent.
type EstimateFunc func(messages []Message, systemPrompt string) int

// WaitInfo describes a pause imposed by rate limiting.
type WaitInfo struct {
	Duration    time.Duration
	Reason      string
	Attempt     int // retry number, 0 for a bucket wait
	MaxAttempts int
}

// WaitCallback performs a rate limit pause, typically while showing progress.
// It must return early with ctx.Err() when ctx is done.
type WaitCallback func(ctx context.Context, info WaitInfo) error

const (
	reasonBucket = "token bucket cooldown"
	reason429    = "API returned 429"
)

// TokenBucket paces requests to a tokens-per-minute budget. The bucket holds
// ten seconds of budget, and at least 1000 tokens.
type TokenBucket struct {
	limiter *rate.Limiter

	mu     sync.Mutex
	onWait WaitCallback
}

func NewTokenBucket(tokensPerMinute int) *TokenBucket {
	burst := max(tokensPerMinute/6, 1000)
	return &TokenBucket{limiter: rate.NewLimiter(rate.Limit(float64(tokensPerMinute)/60), burst)}
}

func (tb *TokenBucket) SetWaitCallback(cb WaitCallback) {
	tb.mu.Lock()
	tb.onWait = cb
	tb.mu.Unlock()
}

// Wait takes tokens from the bucket, blocking until they are available. A
// request larger than the bucket waits for a full bucket.
func (tb *TokenBucket) Wait(ctx context.Context, tokens int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tb.mu.Lock()
	onWait := tb.onWait
	tb.mu.Unlock()

	r := tb.limiter.ReserveN(time.Now(), min(tokens, tb.limiter.Burst()))
	d := r.Delay()
	if d <= 0 {
		return nil
	}
	if err := sleep(ctx, onWait, WaitInfo{Duration: d, Reason: reasonBucket}); err != nil {
		r.Cancel()
		return err
	}
	return nil
}

// RateLimitedClient paces requests through a TokenBucket and retries 429
// responses that arrive before any text.
type RateLimitedClient struct {
	inner    LLMClient
	bucket   *TokenBucket
	estimate EstimateFunc
	cfg      config.RateLimitConfig
	backoff  backoff
	log      *logging.Logger

	onWait WaitCallback
}

// NewRateLimitedClient wraps inner. estimate may be nil, in which case the
// bucket is bypassed and only 429 retries apply.
func NewRateLimitedClient(inner LLMClient, cfg config.RateLimitConfig, estimate EstimateFunc, log *logging.Logger) *RateLimitedClient {
	return &RateLimitedClient{
		inner:    inner,
		bucket:   NewTokenBucket(cfg.TokensPerMinute),
		estimate: estimate,
		cfg:      cfg,
		backoff:  backoff{base: cfg.BaseDelay, max: cfg.MaxDelay, jitter: 0.25},
		log:      log.WithPrefix("ratelimit"),
	}
}

// SetWaitCallback routes both bucket waits and 429 backoffs through cb.
func (c *RateLimitedClient) SetWaitCallback(cb WaitCallback) {
	c.onWait = cb
	c.bucket.SetWaitCallback(cb)
}

func (c *RateLimitedClient) SetModel(model string) { c.inner.SetModel(model) }
func (c *RateLimitedClient) GetModel() string      { return c.inner.GetModel() }

func (c *RateLimitedClient) ChatStream(ctx context.Context, messages []Message, systemPrompt string) <-chan StreamChunk {
	out := make(chan StreamChunk, 100)
	go func() {
		defer close(out)

		if c.cfg.EnableRateLimiting && c.estimate != nil {
			n := c.estimate(messages, systemPrompt)
			c.log.Debug("estimated request size", logging.Tokens(n))
			if err := c.bucket.Wait(ctx, n); err != nil {
				out <- StreamChunk{Type: ChunkError, Error: err}
				return
			}
		}

		for attempt := 0; ; attempt++ {
			retryable := func(err error) bool { return attempt < c.cfg.MaxRetries && isRateLimitError(err) }
			failure, held := relay(ctx, c.inner.ChatStream(ctx, messages, systemPrompt), out, retryable)
			if !held {
				return
			}

			info := WaitInfo{Duration: c.backoff.delay(attempt + 1), Reason: reason429, Attempt: attempt + 1, MaxAttempts: c.cfg.MaxRetries}
			c.log.Warn("rate limit hit", logging.F("attempt", info.Attempt), logging.Duration(info.Duration), logging.Error(failure))
			c.log.Event(logging.EventLLMRateLimit, logging.F("attempt", info.Attempt), logging.Duration(info.Duration))
			if err := sleep(ctx, c.onWait, info); err != nil {
				out <- StreamChunk{Type: ChunkError, Error: err}
				return
			}
		}
	}()
	return out
}

// isRateLimitError matches 429 responses by their rendered message, which
// covers both SDK errors and wrapped LoopErrors.
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"429", "rate limit", "rate_limit", "too many requests"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
