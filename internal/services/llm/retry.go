package llm

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// backoff decides whether a failed request is retried and how long to wait.
type backoff struct {
	attempts int
	base     time.Duration
	ceiling  time.Duration
	sleep    func(time.Duration)
}

func defaultBackoff() backoff {
	return backoff{attempts: 4, base: time.Second, ceiling: 10 * time.Second}
}

func (b backoff) max() int {
	if b.attempts < 1 {
		return 1
	}
	return b.attempts
}

// next returns the delay before the attempt after attempt, or false when err is
// final. Rate limits, server errors, timeouts and empty completions retry.
func (b backoff) next(ctx context.Context, err error, attempt int) (time.Duration, bool) {
	if attempt >= b.max() || ctx.Err() != nil {
		return 0, false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}
	var statusErr *StatusError
	switch {
	case errors.As(err, &statusErr):
		if statusErr.Code != http.StatusRequestTimeout &&
			statusErr.Code != http.StatusTooManyRequests &&
			statusErr.Code < http.StatusInternalServerError {
			return 0, false
		}
		if statusErr.RetryAfter > 0 {
			return b.clamp(statusErr.RetryAfter), true
		}
	case errors.Is(err, errEmptyContent):
	default:
		var netErr net.Error
		if !errors.As(err, &netErr) || !netErr.Timeout() {
			return 0, false
		}
	}
	return b.delay(attempt), true
}

// delay doubles base per failed attempt up to the ceiling.
func (b backoff) delay(attempt int) time.Duration {
	if b.base <= 0 {
		return 0
	}
	d := b.base
	for i := 1; i < attempt && (b.ceiling <= 0 || d < b.ceiling); i++ {
		d *= 2
	}
	return b.clamp(d)
}

func (b backoff) clamp(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if b.ceiling > 0 && d > b.ceiling {
		return b.ceiling
	}
	return d
}

func (b backoff) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	if b.sleep != nil {
		b.sleep(d)
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if when, err := http.ParseTime(value); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return 0
}
