package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/achievio/badgehunter/internal/clock"
	"github.com/achievio/badgehunter/internal/ratelimit"
)

// Class is the failure taxonomy. Throttled and Transient are absorbed here
// and never reach the workflow runner; the Fatal classes abort only the
// owning workflow.
type Class int

const (
	ClassThrottled Class = iota
	ClassTransient
	ClassAuth
	ClassValidation
	ClassPrecondition
	ClassDeadline
)

func (c Class) String() string {
	switch c {
	case ClassThrottled:
		return "throttled"
	case ClassTransient:
		return "transient"
	case ClassAuth:
		return "auth"
	case ClassValidation:
		return "validation"
	case ClassPrecondition:
		return "precondition"
	case ClassDeadline:
		return "deadline"
	default:
		return "unknown"
	}
}

// Classified is implemented by errors that know their own class; anything
// else that fails is treated as transient (network errors, timeouts).
type Classified interface {
	RetryClass() Class
}

// Error is the terminal outcome of an operation the policy gave up on.
type Error struct {
	Class    Class
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return "remote call failed (" + e.Class.String() + "): " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Resumable reports whether re-running the process can help: environmental
// failures (auth, precondition, exhausted transient retries) are resumable,
// structural ones (missed deadline, validation) are not.
func (e *Error) Resumable() bool {
	switch e.Class {
	case ClassAuth, ClassPrecondition, ClassTransient:
		return true
	default:
		return false
	}
}

// Fatal wraps err so the policy and runner surface it immediately with the
// given class, bypassing retries. Used by workflows for failures that are
// not remote-call failures, e.g. a missed wall-clock deadline.
func Fatal(class Class, err error) *Error {
	return &Error{Class: class, Attempts: 1, Err: err}
}

// Policy wraps single remote calls with classification, bounded exponential
// backoff for transient failures and limiter-delegated waits for throttling.
type Policy struct {
	limiter     *ratelimit.Limiter
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	clk         clock.Clock
	log         *zap.Logger
	jitter      func() float64 // in [0,1)
	onRetry     func(class string)
}

type Option func(*Policy)

func WithClock(c clock.Clock) Option {
	return func(p *Policy) { p.clk = c }
}

func WithMaxAttempts(n int) Option {
	return func(p *Policy) { p.maxAttempts = n }
}

func WithBackoff(base, max time.Duration) Option {
	return func(p *Policy) { p.baseDelay = base; p.maxDelay = max }
}

func WithJitterSource(fn func() float64) Option {
	return func(p *Policy) { p.jitter = fn }
}

// WithRetryHook registers a telemetry callback fired per retried attempt.
func WithRetryHook(fn func(class string)) Option {
	return func(p *Policy) { p.onRetry = fn }
}

func NewPolicy(limiter *ratelimit.Limiter, log *zap.Logger, opts ...Option) *Policy {
	p := &Policy{
		limiter:     limiter,
		maxAttempts: 3,
		baseDelay:   time.Second,
		maxDelay:    5 * time.Minute,
		clk:         clock.System(),
		log:         log,
		jitter:      rand.Float64,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Do executes op under the account's budget. Every attempt, including
// retries, passes back through Reserve. The returned error, when non-nil,
// is always a *Error.
func (p *Policy) Do(ctx context.Context, account ratelimit.Account, name string, op func(context.Context) error) error {
	attempt := 0
	transientFailures := 0
	for {
		attempt++
		if err := p.limiter.Reserve(ctx, account); err != nil {
			return &Error{Class: ClassTransient, Attempts: attempt, Err: err}
		}
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return &Error{Class: ClassTransient, Attempts: attempt, Err: ctx.Err()}
		}

		var terminal *Error
		if errors.As(err, &terminal) {
			terminal.Attempts = attempt
			return terminal
		}

		switch classify(err) {
		case ClassThrottled:
			// Expected race with the limiter's snapshot: the client already
			// fed the reported reset back via Observe, so the next Reserve
			// waits it out. Not counted against the attempt cap.
			p.note(name, account, attempt, ClassThrottled, err)
		case ClassTransient:
			transientFailures++
			if transientFailures >= p.maxAttempts {
				return &Error{Class: ClassTransient, Attempts: attempt, Err: err}
			}
			delay := p.backoff(transientFailures)
			p.note(name, account, attempt, ClassTransient, err)
			if serr := p.clk.Sleep(ctx, delay); serr != nil {
				return &Error{Class: ClassTransient, Attempts: attempt, Err: serr}
			}
		default:
			return &Error{Class: classify(err), Attempts: attempt, Err: err}
		}
	}
}

func (p *Policy) note(name string, account ratelimit.Account, attempt int, class Class, err error) {
	if p.onRetry != nil {
		p.onRetry(class.String())
	}
	p.log.Warn("remote call retried",
		zap.String("op", name),
		zap.String("account", string(account)),
		zap.Int("attempt", attempt),
		zap.String("class", class.String()),
		zap.Error(err))
}

// backoff doubles per failure from the base, is capped, and carries ±20%
// jitter so concurrent workflows do not retry in lockstep.
func (p *Policy) backoff(failures int) time.Duration {
	d := p.baseDelay << (failures - 1)
	if d > p.maxDelay || d <= 0 {
		d = p.maxDelay
	}
	spread := 0.8 + 0.4*p.jitter()
	return time.Duration(float64(d) * spread)
}

func classify(err error) Class {
	var c Classified
	if errors.As(err, &c) {
		return c.RetryClass()
	}
	return ClassTransient
}
