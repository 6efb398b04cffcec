package routing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/watchtower-cti/watchtower/internal/config"
	"github.com/watchtower-cti/watchtower/internal/envelope"
)

func boolPtr(b bool) *bool { return &b }

func testTable() *Table {
	cfg := &config.Config{Destinations: []config.DestinationConfig{
		{
			Name: "soc", Type: config.DestinationWebhook,
			Channels: []config.ChannelRule{
				{ID: "@darkfeed", Resolved: []string{"CVE", "lockbit"}, OCR: true},
				{ID: "-1001234567890", RestrictedMode: true, CheckAttachments: boolPtr(false)},
			},
			RSS: []config.FeedRule{
				{URL: "https://feed.example/rss", Name: "vendor-blog", Resolved: []string{"CVE"}},
			},
		},
		{
			Name: "archive", Type: config.DestinationChat,
			RSS: []config.FeedRule{
				{URL: "https://feed.example/rss", Name: "vendor-blog"},
			},
		},
	}}
	return BuildTable(cfg)
}

func TestFeedDeduplication(t *testing.T) {
	table := testTable()
	feeds := table.Feeds()
	if len(feeds) != 1 {
		t.Fatalf("expected 1 deduplicated feed, got %d", len(feeds))
	}
	if len(feeds[0].Rules) != 2 {
		t.Fatalf("expected 2 route bindings on the shared feed, got %d", len(feeds[0].Rules))
	}
}

func TestSharedFeedFanOut(t *testing.T) {
	r := NewRouter(testTable())

	env := &envelope.Envelope{
		Source:    envelope.SourceRSS,
		ChannelID: "https://feed.example/rss",
		Text:      "New CVE-2026-1234 exploited in the wild",
	}
	if got := r.Route(env); len(got) != 2 {
		t.Fatalf("CVE entry should reach both destinations, got %d", len(got))
	}

	env.Text = "foo bar"
	got := r.Route(env)
	if len(got) != 1 {
		t.Fatalf("non-matching entry should reach only the match-all destination, got %d", len(got))
	}
	if got[0].Rule.Destination != "archive" {
		t.Errorf("expected archive, got %s", got[0].Rule.Destination)
	}
}

func TestChannelIDNumericEquivalence(t *testing.T) {
	r := NewRouter(testTable())
	env := &envelope.Envelope{
		Source:    envelope.SourceTelegram,
		ChannelID: "1234567890", // bare id, config has the -100 form
		Text:      "anything",
	}
	if got := r.Route(env); len(got) != 1 {
		t.Fatalf("bare id must match the -100 form, got %d decisions", len(got))
	}
}

func TestKeywordMatchCaseInsensitive(t *testing.T) {
	r := NewRouter(testTable())
	env := &envelope.Envelope{
		Source:    envelope.SourceTelegram,
		ChannelID: "@darkfeed",
		Text:      "LOCKBIT claims another victim",
	}
	got := r.Route(env)
	if len(got) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(got))
	}
	if len(got[0].Matched) != 1 || got[0].Matched[0] != "lockbit" {
		t.Errorf("matched = %v, want [lockbit]", got[0].Matched)
	}
}

func TestOCRTextExtendsSearch(t *testing.T) {
	r := NewRouter(testTable())
	env := &envelope.Envelope{
		Source:    envelope.SourceTelegram,
		ChannelID: "@darkfeed",
		Text:      "see screenshot",
		OCRText:   "leaked lockbit panel",
	}
	if got := r.Route(env); len(got) != 1 {
		t.Fatalf("OCR text must count toward keyword search, got %d", len(got))
	}
}

func TestAttachmentTextExtendsSearch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dump.txt")
	if err := os.WriteFile(path, []byte("contains CVE-2026-0001"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewRouter(testTable())
	env := &envelope.Envelope{
		Source:    envelope.SourceTelegram,
		ChannelID: "@darkfeed",
		Text:      "fresh combo list",
		HasMedia:  true,
		MediaKind: envelope.MediaDocument,
		MediaPath: path,
	}
	env.SetMeta(envelope.MetaAttachmentName, "dump.txt")
	env.SetMeta(envelope.MetaAttachmentMime, "text/plain")

	if got := r.Route(env); len(got) != 1 {
		t.Fatalf("attachment text must count toward keyword search, got %d", len(got))
	}
}

func TestRouteUnknownChannel(t *testing.T) {
	r := NewRouter(testTable())
	env := &envelope.Envelope{
		Source:    envelope.SourceTelegram,
		ChannelID: "@unknown",
		Text:      "CVE",
	}
	if got := r.Route(env); got != nil {
		t.Fatalf("unknown channel must route nowhere, got %v", got)
	}
}

func TestChannelFlagQueries(t *testing.T) {
	r := NewRouter(testTable())
	if !r.NeedsOCR("@darkfeed") || r.NeedsOCR("-1001234567890") {
		t.Error("NeedsOCR wrong")
	}
	if !r.IsRestricted("-1001234567890") || r.IsRestricted("@darkfeed") {
		t.Error("IsRestricted wrong")
	}
	if !r.NeedsAttachmentScan("@darkfeed") || r.NeedsAttachmentScan("-1001234567890") {
		t.Error("NeedsAttachmentScan wrong")
	}
}
