// Package telegram is the chat source: live subscription to configured
// channels plus a periodic gap-recovery poll that replays messages missed
// while the subscription was down.
package telegram

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/watchtower-cti/watchtower/internal/consts"
	"github.com/watchtower-cti/watchtower/internal/envelope"
	"github.com/watchtower-cti/watchtower/internal/pipeline"
	"github.com/watchtower-cti/watchtower/internal/pkg/logs"
	"github.com/watchtower-cti/watchtower/internal/telegramapi"
)

const pollBatchLimit = 100

// Handler processes one envelope; the return value feeds routing metrics
// and is irrelevant to the source.
type Handler func(ctx context.Context, env *envelope.Envelope) bool

// channelState is one monitored channel after resolution.
type channelState struct {
	configID string // id as written in the config
	display  string
	chatID   int64 // platform id, 0 while unresolved
}

// Source wires the MTProto client to the pipeline.
type Source struct {
	api       telegramapi.API
	handle    Handler
	cursors   *cursorLog
	metrics   *pipeline.Metrics
	pollEvery time.Duration

	mu       sync.Mutex
	channels []*channelState
	byChatID map[int64]*channelState
}

func NewSource(api telegramapi.API, channelIDs []string, handle Handler, metrics *pipeline.Metrics, cursorDir string, pollEvery time.Duration) *Source {
	s := &Source{
		api:       api,
		handle:    handle,
		cursors:   newCursorLog(cursorDir),
		metrics:   metrics,
		pollEvery: pollEvery,
		byChatID:  make(map[int64]*channelState),
	}
	for _, id := range channelIDs {
		s.channels = append(s.channels, &channelState{
			configID: id,
			display:  "Unresolved:" + id,
		})
	}
	return s
}

// Bootstrap resolves every configured channel, logs the connection proof and
// seeds the cursor files. Must run after the client is authorized and before
// polling starts. Unresolvable channels stay registered but inert.
func (s *Source) Bootstrap(ctx context.Context) {
	s.api.OnNewMessage(s.onEvent)

	for _, ch := range s.channels {
		chat, err := s.api.Resolve(ctx, ch.configID)
		if err != nil {
			logs.Error("[source:telegram] resolve %s: %v", ch.configID, err)
			continue
		}

		s.mu.Lock()
		ch.chatID = chat.ID
		ch.display = chat.Title
		s.byChatID[chat.ID] = ch
		s.mu.Unlock()

		latestID := 0
		latest, err := s.api.Latest(ctx, ch.configID)
		if err != nil {
			logs.Warn("[source:telegram] latest for %s: %v", ch.configID, err)
		} else if latest != nil {
			latestID = latest.ID
			logs.Info("[source:telegram] CONNECTION ESTABLISHED channel=%s author=%s last_post=%s",
				ch.display, latest.Author, latest.Timestamp.UTC().Format(time.RFC3339))
		} else {
			logs.Info("[source:telegram] CONNECTION ESTABLISHED channel=%s (no messages yet)", ch.display)
		}

		if err := s.cursors.write(ch.configID, ch.display, latestID); err != nil {
			logs.Warn("[source:telegram] %v", err)
		}
	}
}

// RunPolling starts one gap-recovery loop per resolved channel and blocks
// until ctx ends.
func (s *Source) RunPolling(ctx context.Context) {
	var wg sync.WaitGroup
	for _, ch := range s.channels {
		if ch.chatID == 0 {
			continue
		}
		ch := ch
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.pollLoop(ctx, ch)
		}()
	}
	wg.Wait()
}

// Shutdown deletes the cursor files; the next run re-anchors at the latest
// message per channel.
func (s *Source) Shutdown() {
	s.cursors.clear()
}

func (s *Source) pollLoop(ctx context.Context, ch *channelState) {
	ticker := time.NewTicker(s.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollOnce(ctx, ch)
		}
	}
}

// pollOnce replays messages above the cursor in ascending id order so the
// polling path is indistinguishable from the event path downstream.
func (s *Source) pollOnce(ctx context.Context, ch *channelState) {
	cursor, ok := s.cursors.read(ch.configID)
	if !ok {
		return
	}

	msgs, err := s.api.After(ctx, ch.configID, cursor, pollBatchLimit)
	if err != nil {
		if wait, isFlood := telegramapi.FloodWait(err); isFlood {
			logs.Warn("[source:telegram] poll %s: flood wait %s", ch.configID, wait)
		} else {
			logs.Warn("[source:telegram] poll %s: %v", ch.configID, err)
		}
		return
	}
	if len(msgs) == 0 {
		return
	}

	logs.Info("[source:telegram] %s: caught %d missed message(s) above id %d", ch.display, len(msgs), cursor)
	for _, msg := range msgs {
		s.metrics.Inc(pipeline.MetricMissedCaught)
		s.submit(ctx, ch, msg)
	}
}

// onEvent is the live-subscription path.
func (s *Source) onEvent(ctx context.Context, msg *telegramapi.Message) {
	s.mu.Lock()
	ch, ok := s.byChatID[msg.ChannelID]
	s.mu.Unlock()
	if !ok {
		// Not one of ours; the session may be in unrelated chats.
		return
	}
	s.submit(ctx, ch, msg)
}

// submit converts, hands the envelope to the pipeline and advances the
// cursor.
func (s *Source) submit(ctx context.Context, ch *channelState, msg *telegramapi.Message) {
	env := s.envelopeOf(ch, msg)
	s.handle(ctx, env)
	s.cursors.advance(ch.configID, ch.display, msg.ID)
}

func (s *Source) envelopeOf(ch *channelState, msg *telegramapi.Message) *envelope.Envelope {
	env := &envelope.Envelope{
		Source:      envelope.SourceTelegram,
		ChannelID:   ch.configID,
		ChannelName: ch.display,
		Author:      msg.Author,
		Timestamp:   msg.Timestamp,
		Text:        msg.Text,
		MediaKind:   envelope.MediaNone,
		MessageID:   msg.ID,
	}

	if msg.Media != nil {
		env.HasMedia = true
		env.MediaKind = mediaKindOf(msg.Media.Type)
		env.Media = &mediaFetcher{api: s.api, msg: msg}
		if msg.Media.Type == telegramapi.MediaDocument {
			env.SetMeta(envelope.MetaAttachmentName, msg.Media.Filename)
			env.SetMeta(envelope.MetaAttachmentMime, msg.Media.MIME)
		}
	}

	if r := msg.Reply; r != nil {
		reply := &envelope.ReplyContext{
			Author:    r.Author,
			Timestamp: r.Timestamp,
			Text:      truncateRunes(r.Text, consts.ReplyTextMax),
		}
		if r.Media != nil {
			reply.HasMedia = true
			reply.MediaKind = mediaKindOf(r.Media.Type)
		}
		env.Reply = reply
	}
	return env
}

func mediaKindOf(t telegramapi.MediaType) envelope.MediaKind {
	switch t {
	case telegramapi.MediaImage:
		return envelope.MediaImage
	case telegramapi.MediaDocument:
		return envelope.MediaDocument
	default:
		return envelope.MediaOther
	}
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(runes[:limit])) + "..."
}

// mediaFetcher defers the download until the pipeline decides it is needed.
type mediaFetcher struct {
	api telegramapi.API
	msg *telegramapi.Message
}

var _ envelope.MediaFetcher = (*mediaFetcher)(nil)

func (f *mediaFetcher) Fetch(ctx context.Context, dir string) (string, error) {
	return f.api.Download(ctx, f.msg, dir)
}
