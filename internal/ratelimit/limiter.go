package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/achievio/badgehunter/internal/clock"
)

// Account identifies which credential a budget belongs to. The two accounts
// have fully independent budgets; waiting on one never blocks the other.
type Account string

const (
	AccountPrimary   Account = "primary"
	AccountSecondary Account = "secondary"
)

// Snapshot is the server-reported view of one budget, parsed from response
// headers after every call. RetryAfter carries the secondary (abuse
// detection) signal and is zero when the server did not send one.
type Snapshot struct {
	Remaining  int           `json:"remaining"`
	Limit      int           `json:"limit"`
	Reset      time.Time     `json:"reset"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

type budget struct {
	remaining    int
	limit        int
	reset        time.Time
	penaltyUntil time.Time
	lastIssued   time.Time
}

// Limiter enforces the shared request budget per account. Reserve blocks
// until one call may be issued without driving the predicted remaining count
// below the configured buffer; Observe corrects the prediction with the
// server's authoritative counters.
type Limiter struct {
	mu          sync.Mutex
	buffer      int
	minInterval time.Duration
	budgets     map[Account]*budget
	clk         clock.Clock
	log         *zap.Logger
	waits       func(account string) // telemetry hook, may be nil
}

type Option func(*Limiter)

// WithMinInterval sets a floor on the spacing between calls issued for a
// single account, independent of the window budget.
func WithMinInterval(d time.Duration) Option {
	return func(l *Limiter) { l.minInterval = d }
}

func WithClock(c clock.Clock) Option {
	return func(l *Limiter) { l.clk = c }
}

// WithWaitHook registers a callback fired each time Reserve has to wait.
func WithWaitHook(fn func(account string)) Option {
	return func(l *Limiter) { l.waits = fn }
}

const defaultWindowLimit = 5000

func New(buffer int, log *zap.Logger, opts ...Option) *Limiter {
	l := &Limiter{
		buffer:  buffer,
		budgets: map[Account]*budget{},
		clk:     clock.System(),
		log:     log,
	}
	for _, opt := range opts {
		opt(l)
	}
	for _, acct := range []Account{AccountPrimary, AccountSecondary} {
		l.budgets[acct] = &budget{remaining: defaultWindowLimit, limit: defaultWindowLimit}
	}
	return l
}

// Reserve blocks until issuing one call for the account is safe, then
// consumes one unit of predicted budget. The guarantee on return is that the
// last known remaining count stays above the buffer after the call.
func (l *Limiter) Reserve(ctx context.Context, account Account) error {
	for {
		wait, reason := l.tryReserve(account)
		if wait <= 0 {
			return nil
		}
		if l.waits != nil {
			l.waits(string(account))
		}
		l.log.Warn("rate budget wait",
			zap.String("account", string(account)),
			zap.String("reason", reason),
			zap.Duration("wait", wait))
		if err := l.clk.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// tryReserve either consumes one unit and returns zero, or returns how long
// to wait and why.
func (l *Limiter) tryReserve(account Account) (time.Duration, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.budgets[account]
	now := l.clk.Now()

	if b.penaltyUntil.After(now) {
		return b.penaltyUntil.Sub(now), "secondary limit penalty"
	}
	if b.remaining <= l.buffer {
		if b.reset.After(now) {
			return b.reset.Sub(now) + time.Second, "window exhausted"
		}
		// Window has rolled over; assume a fresh budget until the next
		// Observe corrects it.
		b.remaining = b.limit
	}
	if l.minInterval > 0 && !b.lastIssued.IsZero() {
		if since := now.Sub(b.lastIssued); since < l.minInterval {
			return l.minInterval - since, "pacing"
		}
	}
	b.remaining--
	b.lastIssued = now
	return 0, ""
}

// Observe replaces the predicted budget with the server-reported one. The
// server's counters always win over local prediction.
func (l *Limiter) Observe(account Account, snap Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.budgets[account]
	if snap.Limit > 0 {
		b.limit = snap.Limit
	}
	if snap.Remaining >= 0 {
		b.remaining = snap.Remaining
	}
	if !snap.Reset.IsZero() {
		b.reset = snap.Reset
	}
	if snap.RetryAfter > 0 {
		until := l.clk.Now().Add(snap.RetryAfter)
		if until.After(b.penaltyUntil) {
			b.penaltyUntil = until
		}
	}
}

// Penalize enforces a forced minimum delay before the account's next call,
// used when the server signals abuse-style throttling without headers.
func (l *Limiter) Penalize(account Account, d time.Duration) {
	if d <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	until := l.clk.Now().Add(d)
	b := l.budgets[account]
	if until.After(b.penaltyUntil) {
		b.penaltyUntil = until
	}
}

// Status reports the current view of one budget for the status endpoints.
func (l *Limiter) Status(account Account) Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.budgets[account]
	var retryAfter time.Duration
	if now := l.clk.Now(); b.penaltyUntil.After(now) {
		retryAfter = b.penaltyUntil.Sub(now)
	}
	return Snapshot{
		Remaining:  b.remaining,
		Limit:      b.limit,
		Reset:      b.reset,
		RetryAfter: retryAfter,
	}
}
