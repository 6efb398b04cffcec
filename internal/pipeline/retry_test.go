package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/watchtower-cti/watchtower/internal/destination"
	"github.com/watchtower-cti/watchtower/internal/envelope"
)

type sendRecord struct {
	body  string
	media string
	at    time.Time
}

// fakeDest scripts outcomes per send; the last outcome repeats.
type fakeDest struct {
	name     string
	kind     string
	outcomes []destination.Outcome
	sent     []sendRecord
	clock    func() time.Time
}

var _ destination.Destination = (*fakeDest)(nil)

func (f *fakeDest) Name() string     { return f.name }
func (f *fakeDest) Kind() string     { return f.kind }
func (f *fakeDest) Endpoint() string { return "fake://" + f.name }

func (f *fakeDest) Format(env *envelope.Envelope, matched []string, note destination.MediaNote) string {
	body := env.Text
	switch note {
	case destination.NoteFiltered:
		body += "\n[Media filtered]"
	case destination.NoteUndeliverable:
		body += "\n[Media could not be forwarded]"
	}
	return body
}

func (f *fakeDest) Send(ctx context.Context, body, mediaPath string) destination.Outcome {
	at := time.Now()
	if f.clock != nil {
		at = f.clock()
	}
	f.sent = append(f.sent, sendRecord{body: body, media: mediaPath, at: at})

	idx := len(f.sent) - 1
	if idx >= len(f.outcomes) {
		idx = len(f.outcomes) - 1
	}
	if idx < 0 {
		return destination.OK()
	}
	return f.outcomes[idx]
}

func TestRetryBackoffScheduleAndDropout(t *testing.T) {
	metrics := NewMetrics(filepath.Join(t.TempDir(), "metrics.json"))
	q := NewRetryQueue(metrics)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	q.now = func() time.Time { return now }

	dest := &fakeDest{
		name:     "hook",
		kind:     destination.KindWebhook,
		outcomes: []destination.Outcome{destination.Failed(errors.New("500"))},
		clock:    func() time.Time { return now },
	}
	q.Enqueue(dest, "payload", "", "error")

	// Walk a 1s fake clock for a minute; the queue ticks each second.
	for i := 0; i < 60; i++ {
		now = base.Add(time.Duration(i+1) * time.Second)
		q.tick(context.Background())
	}

	if len(dest.sent) != 3 {
		t.Fatalf("expected exactly 3 retry attempts, got %d", len(dest.sent))
	}
	wantOffsets := []time.Duration{5 * time.Second, 15 * time.Second, 35 * time.Second}
	for i, rec := range dest.sent {
		if got := rec.at.Sub(base); got != wantOffsets[i] {
			t.Errorf("attempt %d at +%v, want +%v", i+1, got, wantOffsets[i])
		}
	}

	if q.Len() != 0 {
		t.Fatal("item must be dropped after the final attempt")
	}
	if metrics.Get(MetricRetryFailed) != 1 {
		t.Errorf("retry_failed = %d, want 1", metrics.Get(MetricRetryFailed))
	}
	if metrics.Get(MetricQueuedRetry) != 1 {
		t.Errorf("queued_retry = %d, want 1", metrics.Get(MetricQueuedRetry))
	}
}

func TestRetrySucceedsAndCountsSent(t *testing.T) {
	metrics := NewMetrics(filepath.Join(t.TempDir(), "metrics.json"))
	q := NewRetryQueue(metrics)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	q.now = func() time.Time { return now }

	dest := &fakeDest{name: "chat", kind: destination.KindChat}
	q.Enqueue(dest, "payload", "", "rate_limited")

	now = base.Add(6 * time.Second)
	q.tick(context.Background())

	if len(dest.sent) != 1 || q.Len() != 0 {
		t.Fatalf("expected one successful retry, sent=%d len=%d", len(dest.sent), q.Len())
	}
	if metrics.Get(MetricRetrySucceeded) != 1 {
		t.Errorf("retry_succeeded = %d, want 1", metrics.Get(MetricRetrySucceeded))
	}
	if metrics.Get(MetricSentTelegram) != 1 {
		t.Errorf("messages_sent_telegram = %d, want 1", metrics.Get(MetricSentTelegram))
	}
}

func TestRetryNotBeforeSchedule(t *testing.T) {
	metrics := NewMetrics(filepath.Join(t.TempDir(), "metrics.json"))
	q := NewRetryQueue(metrics)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	q.now = func() time.Time { return now }

	dest := &fakeDest{name: "hook", kind: destination.KindWebhook}
	q.Enqueue(dest, "payload", "", "error")

	now = base.Add(3 * time.Second)
	q.tick(context.Background())
	if len(dest.sent) != 0 {
		t.Fatal("item dispatched before its backoff elapsed")
	}
}
