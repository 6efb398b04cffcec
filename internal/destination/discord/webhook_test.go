package discord

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"

	"github.com/watchtower-cti/watchtower/internal/destination"
	"github.com/watchtower-cti/watchtower/internal/envelope"
)

func TestSendChunksLongBody(t *testing.T) {
	var contents []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var payload struct {
			Content string `json:"content"`
		}
		if err := sonic.Unmarshal(raw, &payload); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		contents = append(contents, payload.Content)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := New("soc", srv.URL, destination.NewRateLimiter())
	body := strings.Repeat("a", 1500) + "\n" + strings.Repeat("b", 1500)
	if out := w.Send(context.Background(), body, ""); out.Status != destination.StatusOK {
		t.Fatalf("send failed: %+v", out)
	}
	if len(contents) != 2 {
		t.Fatalf("expected 2 chunk posts, got %d", len(contents))
	}
	if len(contents[0]) > 2000 || len(contents[1]) > 2000 {
		t.Fatal("chunk exceeded the webhook limit")
	}
}

func TestSendAttachesMediaToFirstChunkOnly(t *testing.T) {
	dir := t.TempDir()
	media := filepath.Join(dir, "shot.png")
	if err := os.WriteFile(media, []byte("fake-png"), 0o644); err != nil {
		t.Fatal(err)
	}

	var multiparts int
	var posts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts++
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			multiparts++
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Errorf("parse multipart: %v", err)
			}
			if r.MultipartForm.Value["payload_json"] == nil {
				t.Error("multipart post missing payload_json")
			}
			if r.MultipartForm.File["file"] == nil {
				t.Error("multipart post missing file part")
			}
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := New("soc", srv.URL, destination.NewRateLimiter())
	body := strings.Repeat("x", 4100)
	if out := w.Send(context.Background(), body, media); out.Status != destination.StatusOK {
		t.Fatalf("send failed: %+v", out)
	}
	if posts != 3 {
		t.Fatalf("expected 3 chunk posts, got %d", posts)
	}
	if multiparts != 1 {
		t.Fatalf("media must ride on exactly one chunk, got %d", multiparts)
	}
}

func TestSendMissingMediaFallsBackToText(t *testing.T) {
	var posts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts++
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			t.Error("should not send multipart when media file is gone")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := New("soc", srv.URL, destination.NewRateLimiter())
	out := w.Send(context.Background(), "hello", filepath.Join(t.TempDir(), "gone.png"))
	if out.Status != destination.StatusOK || posts != 1 {
		t.Fatalf("fallback send failed: %+v posts=%d", out, posts)
	}
}

func TestSend429ParsesRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"retry_after": 2.5}`))
	}))
	defer srv.Close()

	limiter := destination.NewRateLimiter()
	w := New("soc", srv.URL, limiter)
	out := w.Send(context.Background(), "hello", "")
	if out.Status != destination.StatusRateLimited {
		t.Fatalf("expected rate_limited, got %+v", out)
	}
	if out.RetryAfter != 2500*time.Millisecond {
		t.Errorf("retry_after = %v, want 2.5s", out.RetryAfter)
	}
	if !limiter.Pending(destination.Key(destination.KindWebhook, srv.URL)) {
		t.Error("429 must register a limiter deadline")
	}
}

func TestSend429FallbackDuration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("nope"))
	}))
	defer srv.Close()

	w := New("soc", srv.URL, destination.NewRateLimiter())
	out := w.Send(context.Background(), "hello", "")
	if out.Status != destination.StatusRateLimited || out.RetryAfter != time.Second {
		t.Fatalf("expected 1s fallback, got %+v", out)
	}
}

func TestSendServerErrorReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := New("soc", srv.URL, destination.NewRateLimiter())
	if out := w.Send(context.Background(), "hello", ""); out.Status != destination.StatusError {
		t.Fatalf("expected error outcome, got %+v", out)
	}
}

func TestFormatIncludesEnvelopeFields(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	env := &envelope.Envelope{
		Source:      envelope.SourceTelegram,
		ChannelName: "DarkFeed",
		Author:      "admin",
		Timestamp:   ts,
		Text:        "LockBit claims victim",
		MediaKind:   envelope.MediaImage,
		HasMedia:    true,
		OCRText:     "panel screenshot text",
		Reply: &envelope.ReplyContext{
			Author:    "user1",
			Timestamp: ts.Add(-time.Hour),
			Text:      "earlier post",
		},
	}
	env.SetMeta(envelope.MetaSourceURL, "hxxps://t[.]me/darkfeed/42")

	w := New("soc", "https://hooks.example", destination.NewRateLimiter())
	got := w.Format(env, []string{"lockbit"}, destination.NoteFiltered)

	for _, want := range []string{
		"**New message from:** DarkFeed",
		"**Posted by:** admin",
		"2026-03-01 12:00:00 UTC",
		"hxxps://t[.]me/darkfeed/42",
		"**Content type:** Photo",
		"`lockbit`",
		"**Replying to** user1",
		"> earlier post",
		"LockBit claims victim",
		"> panel screenshot text",
		"*[Media attachment filtered due to channel restrictions]*",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("formatted output missing %q\n%s", want, got)
		}
	}
}

func TestFormatMediaOnlyReply(t *testing.T) {
	env := &envelope.Envelope{
		ChannelName: "DarkFeed",
		Timestamp:   time.Now(),
		Text:        "fwd",
		Reply: &envelope.ReplyContext{
			Author:   "user1",
			HasMedia: true,
		},
	}
	w := New("soc", "https://hooks.example", destination.NewRateLimiter())
	if got := w.Format(env, nil, destination.NoteNone); !strings.Contains(got, "[Media only, no caption]") {
		t.Errorf("media-only reply placeholder missing:\n%s", got)
	}
}
