package ratelimit

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestAllow_Unlimited(t *testing.T) {
	l := NewLimiter(Config{})
	for i := 0; i < 100; i++ {
		if err := l.Allow("client"); err != nil {
			t.Fatalf("Allow() = %v in unlimited mode", err)
		}
	}
}

func TestAllow_CeilingRejected(t *testing.T) {
	l := NewLimiter(Config{RequestsPerWindow: 3})

	for i := 0; i < 3; i++ {
		if err := l.Allow("client"); err != nil {
			t.Fatalf("request %d: Allow() = %v, want nil", i+1, err)
		}
	}
	if err := l.Allow("client"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("4th request: Allow() = %v, want ErrRateLimited", err)
	}
}

func TestAllow_WindowElapses(t *testing.T) {
	now := time.Now()
	l := NewLimiter(Config{RequestsPerWindow: 2, Window: time.Minute})
	l.now = func() time.Time { return now }

	l.Allow("client")
	l.Allow("client")
	if err := l.Allow("client"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Allow() = %v, want ErrRateLimited", err)
	}

	// Advance past the window: earlier timestamps must be pruned.
	now = now.Add(61 * time.Second)
	if err := l.Allow("client"); err != nil {
		t.Errorf("Allow() after window = %v, want nil", err)
	}
}

func TestAllow_RejectionNotRecorded(t *testing.T) {
	now := time.Now()
	l := NewLimiter(Config{RequestsPerWindow: 1, Window: time.Minute})
	l.now = func() time.Time { return now }

	l.Allow("client")
	for i := 0; i < 5; i++ {
		now = now.Add(time.Second)
		l.Allow("client")
	}

	// Only the admitted request counts; once it ages out the client is
	// admitted again even though rejected attempts kept arriving.
	now = now.Add(56 * time.Second)
	if err := l.Allow("client"); err != nil {
		t.Errorf("Allow() = %v, want nil (rejections must not extend the window)", err)
	}
}

func TestAllow_IdleClientsSweptFromMap(t *testing.T) {
	now := time.Now()
	l := NewLimiter(Config{RequestsPerWindow: 5, Window: time.Minute})
	l.now = func() time.Time { return now }

	for i := 0; i < 100; i++ {
		l.Allow(fmt.Sprintf("client-%d", i))
	}
	if got := len(l.clients); got != 100 {
		t.Fatalf("len(clients) = %d, want 100", got)
	}

	// One-off identities must not accumulate forever: once their windows
	// empty, the next sweep drops them.
	now = now.Add(2 * time.Minute)
	l.Allow("client-new")

	l.mu.Lock()
	got := len(l.clients)
	l.mu.Unlock()
	if got != 1 {
		t.Errorf("len(clients) after sweep = %d, want 1", got)
	}
}

func TestAllow_PerClientIsolation(t *testing.T) {
	l := NewLimiter(Config{RequestsPerWindow: 1})

	if err := l.Allow("a"); err != nil {
		t.Fatal(err)
	}
	if err := l.Allow("a"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Allow(a) = %v, want ErrRateLimited", err)
	}
	if err := l.Allow("b"); err != nil {
		t.Errorf("Allow(b) = %v — client a exhausted b's quota", err)
	}
}
