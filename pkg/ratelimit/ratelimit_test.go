package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLimiter_SpacesCompletions(t *testing.T) {
	const delay = 30 * time.Millisecond
	l := New(delay)

	var mu sync.Mutex
	var stamps []time.Time

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Do(context.Background(), func() error {
				mu.Lock()
				stamps = append(stamps, time.Now())
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	for i := 1; i < len(stamps); i++ {
		gap := stamps[i].Sub(stamps[i-1])
		// Allow a small scheduling tolerance below the nominal delay.
		if gap < delay-5*time.Millisecond {
			t.Errorf("calls %d and %d only %v apart, want >= %v", i-1, i, gap, delay)
		}
	}
}

func TestLimiter_PreservesSubmissionOrder(t *testing.T) {
	l := New(10 * time.Millisecond)

	var mu sync.Mutex
	var order []int

	var wg sync.WaitGroup
	for i := range 5 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = l.Do(context.Background(), func() error {
				mu.Lock()
				order = append(order, n)
				mu.Unlock()
				return nil
			})
		}(i)
		// Stagger submissions so each caller is queued before the next
		// arrives; the limiter must then serve them in that order.
		time.Sleep(3 * time.Millisecond)
	}
	wg.Wait()

	for i, n := range order {
		if n != i {
			t.Fatalf("order %v, want submission order", order)
		}
	}
}

func TestLimiter_ContextCancelledWhileQueued(t *testing.T) {
	l := New(time.Millisecond)

	block := make(chan struct{})
	go func() {
		_ = l.Do(context.Background(), func() error {
			<-block
			return nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := l.Do(ctx, func() error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if called {
		t.Error("fn must not run after cancellation")
	}
	close(block)
}

func TestLimiter_PropagatesError(t *testing.T) {
	l := New(time.Millisecond)

	wantErr := errors.New("query failed")
	if err := l.Do(context.Background(), func() error { return wantErr }); !errors.Is(err, wantErr) {
		t.Errorf("expected %v, got %v", wantErr, err)
	}

	// The queue must keep moving after a failed call.
	if err := l.Do(context.Background(), func() error { return nil }); err != nil {
		t.Errorf("unexpected error after failure: %v", err)
	}
}

func TestPerMinute(t *testing.T) {
	l := PerMinute(30)
	if l.delay != 2*time.Second {
		t.Errorf("expected 2s spacing for 30/min, got %v", l.delay)
	}

	l = PerMinute(0)
	if l.delay != time.Minute {
		t.Errorf("expected 1m spacing for degenerate budget, got %v", l.delay)
	}
}
