package retry

import (
	"context"
	"log/slog"
	"time"
)

// Policy bounds the attempts and shapes the waits between them.
type Policy struct {
	Attempts int           // total attempts, including the first
	Base     time.Duration // wait before the first retry
	Cap      time.Duration // upper bound on any single wait, 0 for none
}

// Retryable lets callers bail out on failures that waiting will not
// fix. A nil predicate treats every failure as retryable.
type Retryable func(error) bool

// backoff doubles the wait on each call to next, clamped to cap.
type backoff struct {
	wait time.Duration
	cap  time.Duration
}

func (b *backoff) next() time.Duration {
	if b.cap > 0 && b.wait > b.cap {
		b.wait = b.cap
	}
	d := b.wait
	b.wait *= 2
	return d
}

// Do invokes op up to p.Attempts times, sleeping between attempts on a
// doubling schedule starting at p.Base. It returns nil on the first
// success, the last error once the budget is spent, and ctx.Err() if
// the context is cancelled during a wait. Failures rejected by the
// retryable predicate are returned immediately.
func Do(ctx context.Context, p Policy, retryable Retryable, op func(context.Context) error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	b := backoff{wait: p.Base, cap: p.Cap}
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == p.Attempts {
			return err
		}
		wait := b.next()
		slog.Debug("retry: backing off", "attempt", attempt, "wait", wait, "err", err)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
