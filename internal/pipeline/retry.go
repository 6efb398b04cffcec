package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/watchtower-cti/watchtower/internal/destination"
	"github.com/watchtower-cti/watchtower/internal/pkg/logs"
)

const (
	retryMaxAttempts = 3
	retryBaseDelay   = 5 * time.Second
	retryTickEvery   = 2 * time.Second
)

type retryItem struct {
	dest      destination.Destination
	payload   string
	mediaPath string
	attempt   int
	nextAt    time.Time
}

// RetryQueue re-dispatches failed sends with bounded exponential backoff
// (5s, 10s, 20s). Items surviving all attempts are dropped; there is no
// dead-letter store.
type RetryQueue struct {
	mu    sync.Mutex
	items []*retryItem

	metrics *Metrics
	now     func() time.Time
}

func NewRetryQueue(metrics *Metrics) *RetryQueue {
	return &RetryQueue{
		metrics: metrics,
		now:     time.Now,
	}
}

// Enqueue schedules a payload for its first retry 5 seconds out.
func (q *RetryQueue) Enqueue(dest destination.Destination, payload, mediaPath, reason string) {
	item := &retryItem{
		dest:      dest,
		payload:   payload,
		mediaPath: mediaPath,
		attempt:   1,
		nextAt:    q.now().Add(retryBaseDelay),
	}

	q.mu.Lock()
	q.items = append(q.items, item)
	depth := len(q.items)
	q.mu.Unlock()

	q.metrics.Inc(MetricQueuedRetry)
	logs.Info("[retry] queued for %s (%s); depth=%d", dest.Name(), reason, depth)
}

func (q *RetryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Run ticks the queue until ctx is cancelled.
func (q *RetryQueue) Run(ctx context.Context) {
	ticker := time.NewTicker(retryTickEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if n := q.Len(); n > 0 {
				logs.Warn("[retry] shutting down with %d undelivered item(s)", n)
			}
			return
		case <-ticker.C:
			q.tick(ctx)
		}
	}
}

// tick processes every due item once. The queue is snapshotted up front so
// concurrent enqueues during dispatch are picked up next tick.
func (q *RetryQueue) tick(ctx context.Context) {
	now := q.now()

	q.mu.Lock()
	snapshot := make([]*retryItem, len(q.items))
	copy(snapshot, q.items)
	q.mu.Unlock()

	for _, item := range snapshot {
		if item.nextAt.After(now) {
			continue
		}

		outcome := item.dest.Send(ctx, item.payload, item.mediaPath)
		if outcome.Status == destination.StatusOK {
			logs.Info("[retry] delivered to %s on attempt %d", item.dest.Name(), item.attempt)
			q.metrics.Inc(MetricRetrySucceeded)
			bumpSentMetric(q.metrics, item.dest)
			q.remove(item)
			continue
		}

		if item.attempt >= retryMaxAttempts {
			logs.Warn("[retry] dropping message for %s after %d attempts", item.dest.Name(), retryMaxAttempts)
			q.metrics.Inc(MetricRetryFailed)
			q.remove(item)
			continue
		}

		delay := retryBaseDelay << item.attempt // 10s, 20s
		logs.Warn("[retry] attempt %d for %s failed (%s); next in %s",
			item.attempt, item.dest.Name(), outcome.Status, delay)
		item.nextAt = q.now().Add(delay)
		item.attempt++
	}
}

func (q *RetryQueue) remove(target *retryItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, item := range q.items {
		if item == target {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return
		}
	}
}

func bumpSentMetric(metrics *Metrics, dest destination.Destination) {
	if dest.Kind() == destination.KindChat {
		metrics.Inc(MetricSentTelegram)
	} else {
		metrics.Inc(MetricSentDiscord)
	}
}
