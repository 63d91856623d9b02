package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestPolicyDelay(t *testing.T) {
	p := Policy{MaxAttempts: 10, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 0},
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},  // capped
		{40, 30 * time.Second}, // no overflow
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			if got := p.Delay(tt.attempt); got != tt.expected {
				t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.expected)
			}
		})
	}
}

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name    string
		p       Policy
		wantErr bool
	}{
		{"valid", Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Minute}, false},
		{"single attempt", Policy{MaxAttempts: 1}, false},
		{"zero attempts", Policy{MaxAttempts: 0}, true},
		{"negative delay", Policy{MaxAttempts: 1, BaseDelay: -1}, true},
		{"base above max", Policy{MaxAttempts: 1, BaseDelay: time.Minute, MaxDelay: time.Second}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.p.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMachineTransitions(t *testing.T) {
	m := NewMachine(Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Minute})
	if m.State() != Pending {
		t.Fatalf("initial state = %v, want pending", m.State())
	}

	wait, ok := m.Fail(errors.New("boom"))
	if !ok || wait != time.Second || m.State() != Retrying {
		t.Fatalf("after first failure: wait=%v ok=%v state=%v", wait, ok, m.State())
	}
	wait, ok = m.Fail(errors.New("boom"))
	if !ok || wait != 2*time.Second {
		t.Fatalf("after second failure: wait=%v ok=%v", wait, ok)
	}
	if _, ok = m.Fail(errors.New("last")); ok {
		t.Fatal("third failure should abandon")
	}
	if m.State() != Abandoned || m.Attempts() != 3 || m.LastErr().Error() != "last" {
		t.Errorf("state=%v attempts=%d err=%v", m.State(), m.Attempts(), m.LastErr())
	}

	// Terminal states are sticky.
	m.Succeed()
	if m.State() != Abandoned {
		t.Errorf("Succeed() after abandon changed state to %v", m.State())
	}
}

func noSleep(waits *[]time.Duration) Option {
	return WithSleep(func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return ctx.Err()
	})
}

func TestDoSucceedsAfterRetries(t *testing.T) {
	var waits []time.Duration
	calls := 0
	m, err := Do(context.Background(), Policy{MaxAttempts: 5, BaseDelay: 10 * time.Millisecond, MaxDelay: 25 * time.Millisecond},
		func(context.Context) error {
			calls++
			if calls < 4 {
				return errors.New("transient")
			}
			return nil
		}, noSleep(&waits))
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if m.State() != Delivered || m.Attempts() != 4 {
		t.Errorf("state=%v attempts=%d, want delivered after 4", m.State(), m.Attempts())
	}
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 25 * time.Millisecond}
	if fmt.Sprint(waits) != fmt.Sprint(want) {
		t.Errorf("waits = %v, want %v", waits, want)
	}
}

func TestDoAbandonsAtCeiling(t *testing.T) {
	var waits []time.Duration
	var retried []int
	cause := errors.New("smtp down")
	calls := 0
	m, err := Do(context.Background(), Policy{MaxAttempts: 3, BaseDelay: time.Second},
		func(context.Context) error { calls++; return cause },
		noSleep(&waits),
		WithOnRetry(func(attempt int, _ time.Duration, _ error) { retried = append(retried, attempt) }))

	if !errors.Is(err, ErrAbandoned) || !errors.Is(err, cause) {
		t.Fatalf("Do() error = %v, want ErrAbandoned wrapping cause", err)
	}
	if calls != 3 || m.Attempts() != 3 || m.State() != Abandoned {
		t.Errorf("calls=%d attempts=%d state=%v, want 3/3/abandoned", calls, m.Attempts(), m.State())
	}
	if len(waits) != 2 || len(retried) != 2 {
		t.Errorf("waits=%v retried=%v, want two of each", waits, retried)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("bad recipient")
	calls := 0
	m, err := Do(context.Background(), Policy{MaxAttempts: 5},
		func(context.Context) error { calls++; return permanent },
		WithRetryable(func(err error) bool { return !errors.Is(err, permanent) }))
	if !errors.Is(err, permanent) || errors.Is(err, ErrAbandoned) {
		t.Fatalf("Do() error = %v, want the permanent error only", err)
	}
	if calls != 1 || m.State() != Abandoned {
		t.Errorf("calls=%d state=%v", calls, m.State())
	}
}

func TestDoHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, Policy{MaxAttempts: 10, BaseDelay: time.Hour},
		func(context.Context) error {
			calls++
			cancel()
			return errors.New("fail")
		})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
