// Package pipeline wires sources to destinations: per-envelope routing state
// machine, retry queue, session metrics and the media file lifecycle.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"github.com/watchtower-cti/watchtower/internal/pkg/logs"
)

// Session counter names. Snapshots are diagnostic only; losing one is never
// an error.
const (
	MetricReceivedTelegram = "messages_received_telegram"
	MetricReceivedRSS      = "messages_received_rss"
	MetricSentDiscord      = "messages_sent_discord"
	MetricSentTelegram     = "messages_sent_telegram"
	MetricMissedCaught     = "telegram_missed_messages_caught"
	MetricNoDestination    = "total_msgs_no_destination"
	MetricRoutedSuccess    = "total_msgs_routed_success"
	MetricRoutedFailed     = "total_msgs_routed_failed"
	MetricOCRProcessed     = "ocr_processed"
	MetricQueuedRetry      = "messages_queued_retry"
	MetricRetrySucceeded   = "messages_retry_succeeded"
	MetricRetryFailed      = "messages_retry_failed"
	MetricSecondsRan       = "seconds_ran"
)

// Metrics is the in-memory session counter set with periodic JSON snapshots.
type Metrics struct {
	mu       sync.Mutex
	counters map[string]int64
	start    time.Time
	path     string

	now func() time.Time
}

func NewMetrics(path string) *Metrics {
	return &Metrics{
		counters: make(map[string]int64),
		start:    time.Now(),
		path:     path,
		now:      time.Now,
	}
}

func (m *Metrics) Inc(name string) {
	m.mu.Lock()
	m.counters[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

// Snapshot copies the counters, adding the session duration.
func (m *Metrics) Snapshot() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]int64, len(m.counters)+1)
	for k, v := range m.counters {
		out[k] = v
	}
	out[MetricSecondsRan] = int64(m.now().Sub(m.start).Seconds())
	return out
}

// Save writes the snapshot to disk. Best-effort by contract.
func (m *Metrics) Save() error {
	raw, err := sonic.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(m.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(m.path, raw, 0o644)
}

// Run snapshots on every interval tick until ctx ends, then writes the final
// snapshot.
func (m *Metrics) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := m.Save(); err != nil {
				logs.Warn("[metrics] final snapshot: %v", err)
			}
			return
		case <-ticker.C:
			if err := m.Save(); err != nil {
				logs.Warn("[metrics] snapshot: %v", err)
			}
		}
	}
}
