package embed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	crerrors "github.com/Aman-CERP/coderecall/internal/errors"
)

// Limiter enforces a per-minute request and token budget on provider
// calls. It is shared by every caller of a provider; callers block until
// budget frees up, for at most maxWait.
type Limiter struct {
	mu       sync.Mutex
	requests *rate.Limiter
	tokens   *rate.Limiter
	maxWait  time.Duration
}

// NewLimiter creates a limiter. A non-positive rate disables that budget.
func NewLimiter(requestsPerMinute, tokensPerMinute int, maxWait time.Duration) *Limiter {
	return &Limiter{
		requests: perMinute(requestsPerMinute),
		tokens:   perMinute(tokensPerMinute),
		maxWait:  maxWait,
	}
}

func perMinute(n int) *rate.Limiter {
	if n <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := n / 60
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(float64(n)/60), burst)
}

// Wait reserves one request carrying n tokens. It returns a
// RateLimitExceeded error without consuming budget when the required
// wait exceeds the configured maximum.
func (l *Limiter) Wait(ctx context.Context, n int) error {
	if n < 1 {
		n = 1
	}

	l.mu.Lock()
	now := time.Now()
	req := l.requests.ReserveN(now, 1)
	// A batch larger than the bucket is admitted as a full bucket.
	if b := l.tokens.Burst(); b > 0 && n > b {
		n = b
	}
	tok := l.tokens.ReserveN(now, n)

	delay := req.DelayFrom(now)
	if d := tok.DelayFrom(now); d > delay {
		delay = d
	}
	if !req.OK() || !tok.OK() || (l.maxWait >= 0 && delay > l.maxWait) {
		req.CancelAt(now)
		tok.CancelAt(now)
		l.mu.Unlock()
		return crerrors.New(crerrors.ErrCodeRateLimitExceeded,
			fmt.Sprintf("embedding budget exhausted: wait %s exceeds limit %s", delay.Round(time.Millisecond), l.maxWait), nil).
			WithDetail("wait", delay.String())
	}
	l.mu.Unlock()

	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		req.Cancel()
		tok.Cancel()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
