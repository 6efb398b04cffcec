package telegram

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/watchtower-cti/watchtower/internal/envelope"
	"github.com/watchtower-cti/watchtower/internal/pipeline"
	"github.com/watchtower-cti/watchtower/internal/telegramapi"
)

type fakeAPI struct {
	chat    *telegramapi.Chat
	latest  *telegramapi.Message
	after   []*telegramapi.Message
	handler func(ctx context.Context, msg *telegramapi.Message)

	afterMinID int
}

var _ telegramapi.API = (*fakeAPI)(nil)

func (f *fakeAPI) Run(ctx context.Context, ready func(context.Context) error) error { return nil }
func (f *fakeAPI) Resolve(ctx context.Context, id string) (*telegramapi.Chat, error) {
	if f.chat == nil {
		return nil, errors.New("not accessible")
	}
	return f.chat, nil
}
func (f *fakeAPI) Latest(ctx context.Context, id string) (*telegramapi.Message, error) {
	return f.latest, nil
}
func (f *fakeAPI) After(ctx context.Context, id string, minID, limit int) ([]*telegramapi.Message, error) {
	f.afterMinID = minID
	var out []*telegramapi.Message
	for _, m := range f.after {
		if m.ID > minID {
			out = append(out, m)
		}
	}
	return out, nil
}
func (f *fakeAPI) Download(ctx context.Context, msg *telegramapi.Message, dir string) (string, error) {
	return "", errors.New("no media")
}
func (f *fakeAPI) OnNewMessage(handler func(context.Context, *telegramapi.Message)) {
	f.handler = handler
}
func (f *fakeAPI) SendMessage(ctx context.Context, chatID, text string) error      { return nil }
func (f *fakeAPI) SendFile(ctx context.Context, chatID, path, caption string) error { return nil }
func (f *fakeAPI) Dialogs(ctx context.Context) ([]*telegramapi.Chat, error)        { return nil, nil }

func msg(id int, text string) *telegramapi.Message {
	return &telegramapi.Message{
		ID:        id,
		ChannelID: 777,
		Author:    "DarkFeed",
		Timestamp: time.Date(2026, 3, 1, 12, 0, id, 0, time.UTC),
		Text:      text,
	}
}

func newTestSource(t *testing.T, api *fakeAPI) (*Source, *[]*envelope.Envelope, *pipeline.Metrics) {
	t.Helper()
	var got []*envelope.Envelope
	metrics := pipeline.NewMetrics(filepath.Join(t.TempDir(), "metrics.json"))
	s := NewSource(api,
		[]string{"@darkfeed"},
		func(ctx context.Context, env *envelope.Envelope) bool {
			got = append(got, env)
			return true
		},
		metrics,
		filepath.Join(t.TempDir(), "telegramlog"),
		time.Minute,
	)
	return s, &got, metrics
}

func TestBootstrapSeedsCursor(t *testing.T) {
	api := &fakeAPI{
		chat:   &telegramapi.Chat{ID: 777, Title: "DarkFeed", Username: "darkfeed"},
		latest: msg(10, "latest post"),
	}
	s, got, _ := newTestSource(t, api)
	s.Bootstrap(context.Background())

	if api.handler == nil {
		t.Fatal("event handler must be registered")
	}
	if cursor, ok := s.cursors.read("@darkfeed"); !ok || cursor != 10 {
		t.Fatalf("cursor = %d ok=%v, want 10", cursor, ok)
	}
	if len(*got) != 0 {
		t.Fatal("the startup proof message must not be delivered")
	}
}

func TestGapRecoveryAscendingOrder(t *testing.T) {
	api := &fakeAPI{
		chat:   &telegramapi.Chat{ID: 777, Title: "DarkFeed"},
		latest: msg(10, "anchor"),
		after:  []*telegramapi.Message{msg(11, "a"), msg(12, "b"), msg(13, "c"), msg(14, "d")},
	}
	s, got, metrics := newTestSource(t, api)
	s.Bootstrap(context.Background())

	s.pollOnce(context.Background(), s.channels[0])

	if api.afterMinID != 10 {
		t.Errorf("poll queried above id %d, want 10", api.afterMinID)
	}
	if len(*got) != 4 {
		t.Fatalf("expected 4 recovered envelopes, got %d", len(*got))
	}
	for i, env := range *got {
		if env.MessageID != 11+i {
			t.Errorf("envelope %d has id %d, want ascending from 11", i, env.MessageID)
		}
	}
	if metrics.Get(pipeline.MetricMissedCaught) != 4 {
		t.Errorf("missed_caught = %d, want 4", metrics.Get(pipeline.MetricMissedCaught))
	}
	if cursor, _ := s.cursors.read("@darkfeed"); cursor != 14 {
		t.Errorf("cursor = %d, want 14", cursor)
	}

	// A second poll with nothing new emits nothing.
	before := len(*got)
	s.pollOnce(context.Background(), s.channels[0])
	if len(*got) != before {
		t.Fatal("second poll must emit nothing")
	}
}

func TestEventPathAdvancesCursor(t *testing.T) {
	api := &fakeAPI{
		chat:   &telegramapi.Chat{ID: 777, Title: "DarkFeed"},
		latest: msg(10, "anchor"),
	}
	s, got, _ := newTestSource(t, api)
	s.Bootstrap(context.Background())

	api.handler(context.Background(), msg(11, "live"))
	if len(*got) != 1 || (*got)[0].Text != "live" {
		t.Fatalf("event not delivered: %+v", *got)
	}
	if cursor, _ := s.cursors.read("@darkfeed"); cursor != 11 {
		t.Errorf("cursor = %d, want 11", cursor)
	}

	// Out-of-order duplicate must not regress the cursor.
	api.handler(context.Background(), msg(5, "old"))
	if cursor, _ := s.cursors.read("@darkfeed"); cursor != 11 {
		t.Errorf("cursor regressed to %d", cursor)
	}
}

func TestEventFromUnmonitoredChannelIgnored(t *testing.T) {
	api := &fakeAPI{
		chat:   &telegramapi.Chat{ID: 777, Title: "DarkFeed"},
		latest: msg(10, "anchor"),
	}
	s, got, _ := newTestSource(t, api)
	s.Bootstrap(context.Background())

	other := msg(50, "noise")
	other.ChannelID = 999
	api.handler(context.Background(), other)
	if len(*got) != 0 {
		t.Fatal("messages from unmonitored channels must be dropped")
	}
}

func TestShutdownClearsCursors(t *testing.T) {
	api := &fakeAPI{
		chat:   &telegramapi.Chat{ID: 777, Title: "DarkFeed"},
		latest: msg(10, "anchor"),
	}
	s, _, _ := newTestSource(t, api)
	s.Bootstrap(context.Background())

	s.Shutdown()
	if _, ok := s.cursors.read("@darkfeed"); ok {
		t.Fatal("cursor files must be removed on shutdown")
	}
}

func TestEnvelopeOfDocumentMetadata(t *testing.T) {
	api := &fakeAPI{chat: &telegramapi.Chat{ID: 777, Title: "DarkFeed"}}
	s, _, _ := newTestSource(t, api)

	m := msg(20, "fresh dump")
	m.Media = &telegramapi.Media{Type: telegramapi.MediaDocument, Filename: "dump.txt", MIME: "text/plain"}
	m.Reply = &telegramapi.Message{
		ID:        19,
		Author:    "user1",
		Timestamp: time.Now(),
		Text:      strings.Repeat("r", 300),
	}

	env := s.envelopeOf(s.channels[0], m)
	if !env.HasMedia || env.MediaKind != envelope.MediaDocument {
		t.Fatalf("media classification wrong: %+v", env)
	}
	if env.Meta(envelope.MetaAttachmentName) != "dump.txt" || env.Meta(envelope.MetaAttachmentMime) != "text/plain" {
		t.Error("attachment metadata missing")
	}
	if env.Reply == nil || len([]rune(env.Reply.Text)) > 203 {
		t.Errorf("reply text not truncated: %d runes", len([]rune(env.Reply.Text)))
	}
}
