package pipeline

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"launchsched/internal/observability"
	"launchsched/internal/providers/mailchimp"
)

// NewBreaker trips on transient provider failures only; a rejected request
// for one user's bad data must not open the circuit for everybody.
func NewBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Timeout:     20 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 10 },
		IsSuccessful: func(err error) bool {
			return err == nil || !mailchimp.ShouldRetry(err)
		},
	})
}

// call runs one provider operation under the rate limiter, circuit breaker
// and per-call timeout, retrying transient failures with backoff.
func (p *Pipeline) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := p.Backoff
	if backoff == nil {
		backoff = mailchimp.Backoff
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if p.Limiter != nil {
			if err := p.Limiter.Wait(ctx); err != nil {
				return err
			}
		}

		start := time.Now()
		err = p.execute(ctx, fn)
		observe(op, err, start)
		if err == nil {
			return nil
		}
		// fail fast while the breaker protects the provider
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return err
		}
		if ctx.Err() != nil || !mailchimp.ShouldRetry(err) || attempt == attempts-1 {
			return err
		}
		if err := sleep(ctx, backoff(attempt)); err != nil {
			return err
		}
	}
	return err
}

func (p *Pipeline) execute(ctx context.Context, fn func(ctx context.Context) error) error {
	run := func() (any, error) {
		callCtx := ctx
		if p.CallTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, p.CallTimeout)
			defer cancel()
		}
		return nil, fn(callCtx)
	}
	if p.Breaker == nil {
		_, err := run()
		return err
	}
	_, err := p.Breaker.Execute(run)
	return err
}

func observe(op string, err error, start time.Time) {
	observability.ProviderLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	result := "ok"
	if err != nil {
		result = "error"
	}
	observability.ProviderCalls.WithLabelValues(op, result, strconv.Itoa(mailchimp.StatusCode(err))).Inc()
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
