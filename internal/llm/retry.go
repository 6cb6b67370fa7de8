package llm

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/sethvargo/go-retry"
)

// RetryConfig bounds how hard WithRetry tries.
type RetryConfig struct {
	// Attempts is the total number of calls, including the first. Values
	// below 1 mean a single attempt.
	Attempts int
	// BaseDelay is the first backoff interval; it doubles after each failure.
	BaseDelay time.Duration
}

type retryingProvider struct {
	next   Provider
	cfg    RetryConfig
	logger *slog.Logger
}

// WithRetry wraps p so transient failures (network errors, 408, 409, 429
// and 5xx responses) are retried with exponential backoff. Other errors,
// and cancellation of ctx, end the call immediately.
func WithRetry(p Provider, cfg RetryConfig, logger *slog.Logger) Provider {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	return &retryingProvider{next: p, cfg: cfg, logger: logger}
}

func (r *retryingProvider) Complete(ctx context.Context, messages []Message) (string, error) {
	backoff := retry.NewExponential(r.cfg.BaseDelay)
	backoff = retry.WithJitterPercent(10, backoff)
	backoff = retry.WithMaxRetries(uint64(r.cfg.Attempts-1), backoff)

	var reply string
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		out, err := r.next.Complete(ctx, messages)
		if err == nil {
			reply = out
			return nil
		}
		if IsTransient(err) {
			r.logger.Warn("llm call failed, will retry",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return "", err
	}
	return reply, nil
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch code := apiErr.StatusCode; {
		case code == http.StatusRequestTimeout,
			code == http.StatusConflict,
			code == http.StatusTooManyRequests,
			code >= http.StatusInternalServerError:
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
