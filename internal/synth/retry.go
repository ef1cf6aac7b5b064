package synth

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// doWithRetry runs do up to MaxRetries+1 times.
//   - Transient network errors, 408, 429 and 5xx are retried with full-jitter
//     exponential backoff; Retry-After is honored.
//   - When attempts run out on a retryable status, the last response is
//     returned so the caller can report the backend's detail.
//   - Transport failures that survive all attempts are wrapped in ErrUnreachable.
//   - ctx cancellation ends the loop immediately.
func (c *client) doWithRetry(
	ctx context.Context,
	body []byte,
	do func(ctx context.Context, body []byte) (*http.Response, error),
) (*http.Response, error) {
	var lastErr error
	maxAttempts := c.cfg.MaxRetries + 1

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		start := time.Now()
		resp, err := do(ctx, body)

		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		lastAttempt := attempt == maxAttempts-1

		c.logger.Debug("synth upstream request",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxAttempts),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)

		var retryAfter time.Duration
		switch {
		case err != nil:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
			}
			if !isTransientNetError(err) {
				return nil, unreachable(err)
			}
			lastErr = err

		case !shouldRetryStatus(status) || lastAttempt:
			return resp, nil

		default:
			retryAfter = parseRetryAfter(resp)
			// Close before retrying so the connection can be reused.
			if resp.Body != nil {
				resp.Body.Close()
			}
		}

		if lastAttempt {
			break
		}

		wait := computeBackoff(c.cfg.BaseBackoff, attempt)
		if retryAfter > 0 {
			c.logger.Info("honoring Retry-After header",
				zap.Duration("wait", retryAfter),
				zap.Int("status", status),
			)
			wait = retryAfter
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	c.logger.Warn("synth request exhausted all retries",
		zap.Int("attempts", maxAttempts),
		zap.Error(lastErr),
	)
	if lastErr == nil {
		lastErr = errors.New("unknown upstream error")
	}
	return nil, unreachable(lastErr)
}

// isTransientNetError reports whether a transport error may succeed on retry.
func isTransientNetError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial", "read", "write":
			return true
		}
	}

	// Wrapped errors sometimes lose their type.
	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"temporary failure",
		"eof",
	} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// shouldRetryStatus reports whether an HTTP status is worth retrying.
func shouldRetryStatus(status int) bool {
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return true
	case status >= 500 && status <= 599:
		return true
	default:
		return false
	}
}

// parseRetryAfter reads Retry-After as seconds or an HTTP date, capped at
// five minutes. Returns 0 when absent or invalid.
func parseRetryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	retryAfter := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if retryAfter == "" {
		return 0
	}

	const maxRetryAfter = 5 * time.Minute

	if seconds, err := strconv.Atoi(retryAfter); err == nil {
		if seconds <= 0 {
			return 0
		}
		return min(time.Duration(seconds)*time.Second, maxRetryAfter)
	}

	if t, err := http.ParseTime(retryAfter); err == nil {
		if d := time.Until(t); d > 0 {
			return min(d, maxRetryAfter)
		}
	}
	return 0
}

// computeBackoff returns a random delay in [0, base*2^attempt), capped at 30s.
func computeBackoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	const maxExponent = 10
	attempt = min(attempt, maxExponent)

	ceiling := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	const maxAllowed = 30 * time.Second
	ceiling = min(ceiling, maxAllowed)

	return time.Duration(rand.Float64() * float64(ceiling))
}
