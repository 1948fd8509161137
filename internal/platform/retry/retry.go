// Package retry provides the single retry policy shared by every component
// that talks to the ledger or the fee relay.
//
// A Policy pairs a fixed delay schedule with a predicate separating
// retryable failures from fatal ones. Call sites never hand-roll their own
// loops; they describe the attempt and let Do drive it.
package retry

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	apperrors "github.com/louisbranch/housedealer/internal/platform/errors"
)

// DefaultDelays is the delay schedule used between attempts when a policy
// does not name one.
var DefaultDelays = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// DefaultMaxAttempts bounds the total number of attempts (first try included).
const DefaultMaxAttempts = 4

// Policy describes how an operation is retried.
type Policy struct {
	// Delays is the wait before attempt n+1 after attempt n failed. When
	// more attempts are allowed than delays are listed, the last delay is
	// doubled for each extra attempt.
	Delays []time.Duration
	// MaxAttempts counts every attempt, including the first one.
	MaxAttempts int
	// Retryable decides whether an error is worth another attempt.
	// Defaults to errors.IsRetryable.
	Retryable func(error) bool
	// Notify is called before each wait with the 1-based attempt that
	// just failed, its error, and the delay about to be slept.
	Notify func(attempt int, err error, delay time.Duration)
}

// Normalized returns a copy with defaults applied to zero fields.
func (p Policy) Normalized() Policy {
	if len(p.Delays) == 0 {
		p.Delays = append([]time.Duration(nil), DefaultDelays...)
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Retryable == nil {
		p.Retryable = apperrors.IsRetryable
	}
	return p
}

// WithRetryable returns a copy of the policy that uses the given predicate.
func (p Policy) WithRetryable(fn func(error) bool) Policy {
	p.Retryable = fn
	return p
}

// WithNotify returns a copy of the policy with an extra notification hook.
// An existing hook keeps running before the new one.
func (p Policy) WithNotify(fn func(attempt int, err error, delay time.Duration)) Policy {
	prev := p.Notify
	if prev == nil {
		p.Notify = fn
		return p
	}
	p.Notify = func(attempt int, err error, delay time.Duration) {
		prev(attempt, err, delay)
		fn(attempt, err, delay)
	}
	return p
}

// Operation is one attempt. attempt is 1-based.
type Operation[T any] func(ctx context.Context, attempt int) (T, error)

// Do runs op until it succeeds, returns a non-retryable error, the attempt
// budget is spent, or ctx is done. The last error is returned unchanged.
func Do[T any](ctx context.Context, p Policy, op Operation[T]) (T, error) {
	p = p.Normalized()
	attempt := 0
	res, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		res, err := op(ctx, attempt)
		if err != nil && !p.Retryable(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	},
		backoff.WithBackOff(NewSchedule(p.Delays)),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, delay time.Duration) {
			if p.Notify != nil {
				p.Notify(attempt, err, delay)
			}
		}),
	)
	// The attempt cap is checked before permanent errors are unwrapped.
	var permanent *backoff.PermanentError
	if stderrors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	return res, err
}

// Schedule is a backoff.BackOff that walks a fixed list of delays.
type Schedule struct {
	delays []time.Duration
	next   int
}

// NewSchedule builds a schedule over delays. An empty list yields zero
// waits.
func NewSchedule(delays []time.Duration) *Schedule {
	return &Schedule{delays: append([]time.Duration(nil), delays...)}
}

// NextBackOff implements backoff.BackOff.
func (s *Schedule) NextBackOff() time.Duration {
	if len(s.delays) == 0 {
		return 0
	}
	idx := s.next
	s.next++
	if idx < len(s.delays) {
		return s.delays[idx]
	}
	d := s.delays[len(s.delays)-1]
	for i := len(s.delays) - 1; i < idx; i++ {
		d *= 2
	}
	return d
}

// Reset implements backoff.BackOff.
func (s *Schedule) Reset() {
	s.next = 0
}

var _ backoff.BackOff = (*Schedule)(nil)
