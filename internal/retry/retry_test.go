package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(attempts int) Config {
	return Config{MaxAttempts: attempts, InitialWait: time.Millisecond, MaxWait: time.Millisecond, Multiplier: 1}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := Do(context.Background(), fastConfig(5), func() error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoExhaustsAndUnwraps(t *testing.T) {
	calls := 0
	boom := errors.New("AUTH_RESTART")
	err := Do(context.Background(), fastConfig(2), func() error {
		calls++
		return Retryable(boom)
	})
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if err != boom {
		t.Errorf("err = %#v, want the unwrapped error", err)
	}
	if IsRetryable(err) {
		t.Error("final error should not carry the retry marker")
	}
}

func TestDoWithResultSucceedsAfterRetry(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), fastConfig(3), func() (string, error) {
		calls++
		if calls < 2 {
			return "", RetryAfter(errors.New("FLOOD_WAIT"), time.Millisecond)
		}
		return "hash", nil
	})
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if got != "hash" || calls != 2 {
		t.Errorf("got %q after %d calls", got, calls)
	}
}

func TestDoHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 3, InitialWait: time.Hour, MaxWait: time.Hour, Multiplier: 1}

	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, cfg, func() error { return Retryable(errors.New("x")) })
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancel")
	}
}
