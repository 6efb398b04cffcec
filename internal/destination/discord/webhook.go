// Package discord delivers to Discord-compatible webhook endpoints: chunked
// POSTs with the media file attached to the first chunk only.
package discord

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/bytedance/sonic"

	"github.com/watchtower-cti/watchtower/internal/consts"
	"github.com/watchtower-cti/watchtower/internal/destination"
	"github.com/watchtower-cti/watchtower/internal/envelope"
	"github.com/watchtower-cti/watchtower/internal/pkg/logs"
	"github.com/watchtower-cti/watchtower/internal/pkg/utils"
	"github.com/watchtower-cti/watchtower/internal/textproc"
)

const requestTimeout = 30 * time.Second

// Webhook is one configured webhook destination.
type Webhook struct {
	name     string
	endpoint string
	client   *http.Client
	limiter  *destination.RateLimiter
}

var _ destination.Destination = (*Webhook)(nil)

func New(name, endpoint string, limiter *destination.RateLimiter) *Webhook {
	return &Webhook{
		name:     name,
		endpoint: endpoint,
		client:   &http.Client{Timeout: requestTimeout},
		limiter:  limiter,
	}
}

func (w *Webhook) Name() string     { return w.name }
func (w *Webhook) Kind() string     { return destination.KindWebhook }
func (w *Webhook) Endpoint() string { return w.endpoint }

func (w *Webhook) Format(env *envelope.Envelope, matched []string, note destination.MediaNote) string {
	return renderMarkdown(env, matched, note)
}

// Send posts body in 2000-byte chunks; mediaPath (when set and still on
// disk) rides along with the first chunk. The first non-ok chunk outcome
// aborts the remainder so retries re-deliver from a consistent payload.
func (w *Webhook) Send(ctx context.Context, body, mediaPath string) destination.Outcome {
	key := destination.Key(destination.KindWebhook, w.endpoint)
	chunks := textproc.Chunk(body, consts.DiscordMaxLength)

	for i, chunk := range chunks {
		w.limiter.Reserve(ctx, key)
		if err := ctx.Err(); err != nil {
			return destination.Failed(err)
		}

		attach := ""
		if i == 0 {
			attach = mediaPath
		}
		outcome := w.post(ctx, chunk, attach)
		if outcome.Status == destination.StatusRateLimited {
			w.limiter.Register(key, outcome.RetryAfter)
			return outcome
		}
		if outcome.Status != destination.StatusOK {
			return outcome
		}
	}
	return destination.OK()
}

func (w *Webhook) post(ctx context.Context, content, mediaPath string) destination.Outcome {
	var (
		req *http.Request
		err error
	)
	if mediaPath != "" {
		if _, statErr := os.Stat(mediaPath); statErr != nil {
			// Media may have been cleaned up between first send and retry.
			logs.Warn("[discord] %s: media %s no longer on disk; sending text only", w.name, mediaPath)
			mediaPath = ""
		}
	}

	if mediaPath != "" {
		req, err = w.multipartRequest(ctx, content, mediaPath)
	} else {
		req, err = w.jsonRequest(ctx, content)
	}
	if err != nil {
		return destination.Failed(err)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return destination.Failed(fmt.Errorf("post webhook: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return destination.OK()
	case resp.StatusCode == http.StatusTooManyRequests:
		return destination.RateLimited(retryAfter(resp))
	default:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return destination.Failed(fmt.Errorf("webhook returned %d: %s", resp.StatusCode, utils.Truncate(string(raw), 512)))
	}
}

func (w *Webhook) jsonRequest(ctx context.Context, content string) (*http.Request, error) {
	payload, err := sonic.Marshal(map[string]string{"content": content})
	if err != nil {
		return nil, fmt.Errorf("marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (w *Webhook) multipartRequest(ctx context.Context, content, mediaPath string) (*http.Request, error) {
	file, err := os.Open(mediaPath)
	if err != nil {
		return nil, fmt.Errorf("open media: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	payload, err := sonic.Marshal(map[string]string{"content": content})
	if err != nil {
		return nil, fmt.Errorf("marshal webhook payload: %w", err)
	}
	if err := mw.WriteField("payload_json", string(payload)); err != nil {
		return nil, fmt.Errorf("write payload field: %w", err)
	}

	part, err := mw.CreateFormFile("file", filepath.Base(mediaPath))
	if err != nil {
		return nil, fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("copy media into request: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req, nil
}

// retryAfter extracts the 429 backoff: JSON retry_after (seconds, possibly
// fractional), then the Retry-After header, then 1s.
func retryAfter(resp *http.Response) time.Duration {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var body struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if err := sonic.Unmarshal(raw, &body); err == nil && body.RetryAfter > 0 {
		return time.Duration(body.RetryAfter * float64(time.Second))
	}

	if header := resp.Header.Get("Retry-After"); header != "" {
		if secs, err := strconv.ParseFloat(header, 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return time.Second
}
