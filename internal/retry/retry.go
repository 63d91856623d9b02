// Package retry runs an operation under a bounded exponential backoff,
// modelled as an explicit state machine:
//
//	pending -> retrying(n) -> delivered | abandoned
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type State int

const (
	Pending State = iota
	Retrying
	Delivered
	Abandoned
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Retrying:
		return "retrying"
	case Delivered:
		return "delivered"
	case Abandoned:
		return "abandoned"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further attempt will be made.
func (s State) Terminal() bool {
	return s == Delivered || s == Abandoned
}

// ErrAbandoned is returned by Do once the attempt ceiling is reached. It
// wraps the last attempt's error.
var ErrAbandoned = errors.New("retry abandoned")

// Policy bounds the retry loop. MaxAttempts counts every attempt,
// including the first.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.BaseDelay < 0 || p.MaxDelay < 0 {
		return errors.New("delays cannot be negative")
	}
	if p.MaxDelay > 0 && p.BaseDelay > p.MaxDelay {
		return fmt.Errorf("base delay %v exceeds max delay %v", p.BaseDelay, p.MaxDelay)
	}
	return nil
}

// Delay returns the wait after the given failed attempt (1-based): the base
// delay doubled per attempt and capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Machine tracks one operation's progress through the retry states. It is
// not safe for concurrent use; each operation owns its machine.
type Machine struct {
	policy   Policy
	state    State
	attempts int
	lastErr  error
}

func NewMachine(p Policy) *Machine {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	return &Machine{policy: p}
}

func (m *Machine) State() State   { return m.state }
func (m *Machine) Attempts() int  { return m.attempts }
func (m *Machine) LastErr() error { return m.lastErr }

// Succeed moves the machine to Delivered.
func (m *Machine) Succeed() {
	if m.state.Terminal() {
		return
	}
	m.attempts++
	m.state = Delivered
	m.lastErr = nil
}

// Fail records a failed attempt. It returns how long to wait before the
// next attempt, or ok=false when the machine has been abandoned.
func (m *Machine) Fail(err error) (wait time.Duration, ok bool) {
	if m.state.Terminal() {
		return 0, false
	}
	m.attempts++
	m.lastErr = err
	if m.attempts >= m.policy.MaxAttempts {
		m.state = Abandoned
		return 0, false
	}
	m.state = Retrying
	return m.policy.Delay(m.attempts), true
}

// Abandon stops the machine early, e.g. on a permanent error or shutdown.
func (m *Machine) Abandon(err error) {
	if m.state.Terminal() {
		return
	}
	m.lastErr = err
	m.state = Abandoned
}

// Config tunes Do.
type Config struct {
	// Retryable decides whether an error is worth another attempt. Nil
	// retries every error.
	Retryable func(error) bool
	// OnRetry is called before each wait.
	OnRetry func(attempt int, wait time.Duration, err error)
	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Config)

func WithRetryable(fn func(error) bool) Option {
	return func(c *Config) { c.Retryable = fn }
}

func WithOnRetry(fn func(attempt int, wait time.Duration, err error)) Option {
	return func(c *Config) { c.OnRetry = fn }
}

func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Config) { c.Sleep = fn }
}

// Do runs op until it succeeds, returns a non-retryable error, the policy's
// attempt ceiling is reached, or ctx ends. The returned machine is always
// in a terminal state. On abandonment after exhausting attempts the error
// wraps both ErrAbandoned and the last failure.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error, opts ...Option) (*Machine, error) {
	cfg := Config{Sleep: sleep}
	for _, opt := range opts {
		opt(&cfg)
	}
	m := NewMachine(p)

	for {
		if err := ctx.Err(); err != nil {
			m.Abandon(err)
			return m, err
		}
		err := op(ctx)
		if err == nil {
			m.Succeed()
			return m, nil
		}
		if cfg.Retryable != nil && !cfg.Retryable(err) {
			m.attempts++
			m.Abandon(err)
			return m, err
		}
		wait, ok := m.Fail(err)
		if !ok {
			return m, fmt.Errorf("%w after %d attempts: %w", ErrAbandoned, m.attempts, err)
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(m.attempts, wait, err)
		}
		if err := cfg.Sleep(ctx, wait); err != nil {
			m.Abandon(err)
			return m, err
		}
	}
}

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
