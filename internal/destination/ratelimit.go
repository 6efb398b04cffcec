package destination

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/watchtower-cti/watchtower/internal/pkg/logs"
)

// RateLimiter tracks per-endpoint backoff deadlines. Keys are kind-qualified
// so a webhook's retry_after and a chat flood wait never collide. It only
// delays; it never fails.
type RateLimiter struct {
	mu        sync.Mutex
	deadlines map[string]time.Time

	now func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		deadlines: make(map[string]time.Time),
		now:       time.Now,
	}
}

// Key builds the qualified limiter key for a destination.
func Key(kind, endpoint string) string {
	return fmt.Sprintf("%s:%s", kind, endpoint)
}

// Reserve blocks until any registered deadline for key has passed, then
// clears the entry. Returns immediately when no deadline is pending or the
// context is cancelled.
func (l *RateLimiter) Reserve(ctx context.Context, key string) {
	l.mu.Lock()
	deadline, ok := l.deadlines[key]
	if !ok || !deadline.After(l.now()) {
		delete(l.deadlines, key)
		l.mu.Unlock()
		return
	}
	wait := deadline.Sub(l.now())
	l.mu.Unlock()

	logs.Debug("[ratelimit] %s: waiting %s", key, wait)
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}

	l.mu.Lock()
	delete(l.deadlines, key)
	l.mu.Unlock()
}

// Register records a backoff for key. The duration is rounded up to whole
// seconds, matching the coarse values platforms report.
func (l *RateLimiter) Register(key string, d time.Duration) {
	secs := math.Ceil(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	rounded := time.Duration(secs) * time.Second

	l.mu.Lock()
	l.deadlines[key] = l.now().Add(rounded)
	l.mu.Unlock()
	logs.Info("[ratelimit] %s: backing off %s", key, rounded)
}

// Pending reports whether key currently has an unexpired deadline.
func (l *RateLimiter) Pending(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	deadline, ok := l.deadlines[key]
	return ok && deadline.After(l.now())
}
