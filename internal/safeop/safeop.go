// Package safeop wraps every remote store call with bounded retry, read caching and
// post-write pacing.
//
// Rate-limit failures back off exponentially (BaseBackoff × 2^attempt); any other
// failure waits a flat FlatBackoff. When the attempt budget is spent the call fails
// with *OperationExhaustedError, which callers treat as fatal to the current item only.
package safeop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/shpitdev/leadsync/internal/cache"
	"github.com/shpitdev/leadsync/internal/clock"
	"github.com/shpitdev/leadsync/pkg/redact"
)

const (
	DefaultMaxAttempts    = 5
	DefaultBaseBackoff    = 2 * time.Second
	DefaultFlatBackoff    = 5 * time.Second
	DefaultPostWriteDelay = time.Second
)

// OperationExhaustedError reports that a store call failed on every attempt.
type OperationExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *OperationExhaustedError) Error() string {
	if e == nil || e.Err == nil {
		return "operation exhausted"
	}
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *OperationExhaustedError) Unwrap() error { return e.Err }

// rateLimited is implemented by store errors that signal a quota/rate-limit response.
type rateLimited interface {
	RateLimited() bool
}

// IsRateLimited reports whether any error in err's chain is a rate-limit signal.
func IsRateLimited(err error) bool {
	var rl rateLimited
	return errors.As(err, &rl) && rl.RateLimited()
}

// Options configures an Executor. Zero values fall back to the package defaults.
type Options struct {
	MaxAttempts    int
	BaseBackoff    time.Duration
	FlatBackoff    time.Duration
	PostWriteDelay time.Duration

	// RequestsPerMinute caps attempts across all operations. 0 disables the limiter.
	// The limiter always runs on wall-clock time, not on Clock: a fake clock does
	// not advance it.
	RequestsPerMinute float64

	Cache  *cache.Cache
	Clock  clock.Clock
	Logger *zap.Logger
}

// Executor runs store operations under the retry policy.
type Executor struct {
	maxAttempts    int
	baseBackoff    time.Duration
	flatBackoff    time.Duration
	postWriteDelay time.Duration

	limiter *rate.Limiter
	cache   *cache.Cache
	clock   clock.Clock
	logger  *zap.Logger
}

func New(opts Options) *Executor {
	e := &Executor{
		maxAttempts:    opts.MaxAttempts,
		baseBackoff:    opts.BaseBackoff,
		flatBackoff:    opts.FlatBackoff,
		postWriteDelay: opts.PostWriteDelay,
		cache:          opts.Cache,
		clock:          opts.Clock,
		logger:         opts.Logger,
	}
	if e.maxAttempts <= 0 {
		e.maxAttempts = DefaultMaxAttempts
	}
	if e.baseBackoff <= 0 {
		e.baseBackoff = DefaultBaseBackoff
	}
	if e.flatBackoff <= 0 {
		e.flatBackoff = DefaultFlatBackoff
	}
	if e.postWriteDelay < 0 {
		e.postWriteDelay = 0
	}
	if opts.RequestsPerMinute > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerMinute/60), 1)
	}
	if e.clock == nil {
		e.clock = clock.Real{}
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// Backoff returns the wait after a failed attempt (0-based).
func (e *Executor) Backoff(err error, attempt int) time.Duration {
	if IsRateLimited(err) {
		return e.baseBackoff * time.Duration(1<<uint(attempt))
	}
	return e.flatBackoff
}

func (e *Executor) retry(ctx context.Context, label string, f func(ctx context.Context) error) error {
	return e.attempt(ctx, label, e.maxAttempts, f)
}

func (e *Executor) attempt(ctx context.Context, label string, maxAttempts int, f func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		err := f(ctx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		lastErr = err
		if attempt == maxAttempts-1 {
			break
		}

		wait := e.Backoff(err, attempt)
		e.logger.Warn("store operation failed, retrying",
			zap.String("op", label),
			zap.Int("attempt", attempt+1),
			zap.Int("maxAttempts", maxAttempts),
			zap.Bool("rateLimited", IsRateLimited(err)),
			zap.Duration("wait", wait),
			zap.String("err", redact.Secrets(err.Error())),
		)
		if err := e.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
	return &OperationExhaustedError{Op: label, Attempts: maxAttempts, Err: lastErr}
}

// Read runs op under the retry policy. When cacheKey is non-empty a fresh cache
// entry short-circuits the call and a successful result is cached.
//
// Duplicate scans must pass an empty cacheKey: they always read fresh.
func Read[T any](ctx context.Context, e *Executor, label, cacheKey string, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	if cacheKey != "" && e.cache != nil {
		if raw, ok := e.cache.Get(cacheKey); ok {
			var cached T
			if err := json.Unmarshal(raw, &cached); err == nil {
				e.logger.Debug("cache hit", zap.String("op", label), zap.String("key", cacheKey))
				return cached, nil
			}
			e.logger.Warn("cache entry undecodable, reading fresh", zap.String("op", label), zap.String("key", cacheKey))
		}
	}

	err := e.retry(ctx, label, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}

	if cacheKey != "" && e.cache != nil {
		if err := e.cache.Set(cacheKey, out); err != nil {
			e.logger.Warn("cache write failed", zap.String("op", label), zap.Error(err))
		}
	}
	return out, nil
}

// Write runs op under the retry policy. On success the whole cache is invalidated and
// the executor waits the post-write delay.
func Write[T any](ctx context.Context, e *Executor, label string, op func(ctx context.Context) (T, error)) (T, error) {
	return write(ctx, e, label, e.maxAttempts, op)
}

// WriteOnce is Write with a single attempt, for writes that are unsafe to repeat
// (a bulk append whose response was lost may already have landed).
func WriteOnce[T any](ctx context.Context, e *Executor, label string, op func(ctx context.Context) (T, error)) (T, error) {
	return write(ctx, e, label, 1, op)
}

func write[T any](ctx context.Context, e *Executor, label string, attempts int, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := e.attempt(ctx, label, attempts, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}

	if e.cache != nil {
		if err := e.cache.InvalidateAll(); err != nil {
			e.logger.Warn("cache invalidation failed", zap.String("op", label), zap.Error(err))
		}
	}
	if e.postWriteDelay > 0 {
		// The write already landed; an interrupted pause is not a failure.
		_ = e.clock.Sleep(ctx, e.postWriteDelay)
	}
	return out, nil
}

// Do is Write for operations without a result.
func (e *Executor) Do(ctx context.Context, label string, op func(ctx context.Context) error) error {
	_, err := Write(ctx, e, label, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
