package destination

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterRegisterRoundsUp(t *testing.T) {
	l := NewRateLimiter()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	l.Register("webhook:https://hooks.example/a", 1200*time.Millisecond)
	l.mu.Lock()
	deadline := l.deadlines["webhook:https://hooks.example/a"]
	l.mu.Unlock()

	if got := deadline.Sub(base); got != 2*time.Second {
		t.Fatalf("deadline offset = %v, want 2s (ceil of 1.2s)", got)
	}
}

func TestRateLimiterReserveClearsExpired(t *testing.T) {
	l := NewRateLimiter()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.Register("chat:1234", 5*time.Second)
	if !l.Pending("chat:1234") {
		t.Fatal("deadline should be pending")
	}

	now = now.Add(10 * time.Second)
	done := make(chan struct{})
	go func() {
		l.Reserve(context.Background(), "chat:1234")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Reserve blocked on an expired deadline")
	}
	if l.Pending("chat:1234") {
		t.Fatal("entry must be cleared after Reserve")
	}
}

func TestRateLimiterReserveUnknownKey(t *testing.T) {
	l := NewRateLimiter()
	done := make(chan struct{})
	go func() {
		l.Reserve(context.Background(), "webhook:none")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Reserve blocked without a registered deadline")
	}
}

func TestRateLimiterReserveHonorsContext(t *testing.T) {
	l := NewRateLimiter()
	l.Register("chat:slow", time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Reserve(ctx, "chat:slow")
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Reserve ignored context cancellation")
	}
}

func TestKeyQualification(t *testing.T) {
	if Key(KindWebhook, "x") == Key(KindChat, "x") {
		t.Fatal("kind must qualify the limiter key")
	}
}
