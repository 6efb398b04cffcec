// Package rss is the feed source: one polling loop per unique feed URL,
// with an age gate and a persistent timestamp cursor so restarts never
// replay old entries.
package rss

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/watchtower-cti/watchtower/internal/consts"
	"github.com/watchtower-cti/watchtower/internal/envelope"
	"github.com/watchtower-cti/watchtower/internal/pkg/logs"
	"github.com/watchtower-cti/watchtower/internal/routing"
	"github.com/watchtower-cti/watchtower/internal/textproc"
)

// maxEntryAge drops entries older than this even when the cursor would
// admit them, so a feed that republishes its archive cannot flood.
const maxEntryAge = 48 * time.Hour

// Handler processes one envelope; the return value reports whether at least
// one destination received it.
type Handler func(ctx context.Context, env *envelope.Envelope) bool

// Fetcher retrieves and parses one feed.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*gofeed.Feed, error)
}

type httpFetcher struct {
	parser *gofeed.Parser
}

func newHTTPFetcher() *httpFetcher {
	p := gofeed.NewParser()
	p.Client = &http.Client{Timeout: 30 * time.Second}
	p.UserAgent = "watchtower/1.0"
	return &httpFetcher{parser: p}
}

func (f *httpFetcher) Fetch(ctx context.Context, url string) (*gofeed.Feed, error) {
	return f.parser.ParseURLWithContext(url, ctx)
}

// Source polls every unique feed and submits fresh entries to the pipeline.
type Source struct {
	fetch     Fetcher
	feeds     []*routing.Feed
	handle    Handler
	cursors   *feedCursor
	pollEvery time.Duration
	now       func() time.Time
}

func NewSource(feeds []*routing.Feed, handle Handler, cursorDir string, pollEvery time.Duration) *Source {
	return &Source{
		fetch:     newHTTPFetcher(),
		feeds:     feeds,
		handle:    handle,
		cursors:   newFeedCursor(cursorDir),
		pollEvery: pollEvery,
		now:       time.Now,
	}
}

// Run starts one poll loop per feed and blocks until ctx ends. Each feed is
// fetched exactly once per interval no matter how many destinations
// subscribe to it.
func (s *Source) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, feed := range s.feeds {
		feed := feed
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.pollLoop(ctx, feed)
		}()
	}
	wg.Wait()
}

func (s *Source) pollLoop(ctx context.Context, feed *routing.Feed) {
	s.pollOnce(ctx, feed)

	ticker := time.NewTicker(s.pollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollOnce(ctx, feed)
		}
	}
}

func (s *Source) pollOnce(ctx context.Context, feed *routing.Feed) {
	parsed, err := s.fetch.Fetch(ctx, feed.URL)
	if err != nil {
		logs.Warn("[source:rss] %s: fetch: %v", s.displayName(feed, nil), err)
		return
	}

	name := s.displayName(feed, parsed)
	now := s.now()

	lastSeen, ok := s.cursors.read(name)
	if !ok {
		// First contact: anchor at now and emit nothing, otherwise a new
		// subscription floods its destinations with the feed's backlog.
		s.cursors.write(name, now)
		logs.Info("[source:rss] %s: cursor initialized; polled; new=0; routed=0; too_old=0", name)
		return
	}

	cutoff := now.Add(-maxEntryAge)
	var fresh []*gofeed.Item
	tooOld := 0
	for _, item := range parsed.Items {
		ts := entryTime(item)
		if ts == nil {
			continue
		}
		if ts.Before(cutoff) {
			tooOld++
			continue
		}
		if !ts.After(lastSeen) {
			continue
		}
		fresh = append(fresh, item)
	}
	sort.Slice(fresh, func(i, j int) bool {
		return entryTime(fresh[i]).Before(*entryTime(fresh[j]))
	})

	routed := 0
	maxTS := lastSeen
	for _, item := range fresh {
		if s.handle(ctx, s.envelopeOf(feed, name, item)) {
			routed++
		}
		if ts := entryTime(item); ts.After(maxTS) {
			maxTS = *ts
		}
	}
	if maxTS.After(lastSeen) {
		s.cursors.write(name, maxTS)
	}

	logs.Info("[source:rss] %s: polled; new=%d; routed=%d; too_old=%d", name, len(fresh), routed, tooOld)
}

// entryTime prefers the update timestamp over the publish timestamp.
func entryTime(item *gofeed.Item) *time.Time {
	if item.UpdatedParsed != nil {
		return item.UpdatedParsed
	}
	return item.PublishedParsed
}

func (s *Source) displayName(feed *routing.Feed, parsed *gofeed.Feed) string {
	if feed.Name != "" {
		return feed.Name
	}
	if parsed != nil && parsed.Title != "" {
		return parsed.Title
	}
	return feed.URL
}

func (s *Source) envelopeOf(feed *routing.Feed, name string, item *gofeed.Item) *envelope.Envelope {
	summary := textproc.StripHTML(item.Description)
	if summary == "" {
		summary = textproc.StripHTML(item.Content)
	}
	summary = truncateRunes(summary, consts.SummaryMax)

	text := textproc.StripHTML(item.Title) + "\n" + item.Link
	if summary != "" {
		text += "\n" + summary
	}

	return &envelope.Envelope{
		Source:      envelope.SourceRSS,
		ChannelID:   feed.URL,
		ChannelName: name,
		Author:      name,
		Timestamp:   entryTime(item).UTC(),
		Text:        text,
		MediaKind:   envelope.MediaNone,
	}
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
