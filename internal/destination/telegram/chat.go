// Package telegram delivers to chat destinations through the shared MTProto
// client. The caption-overflow branch sends long bodies as captionless media
// followed by chunked text so no content is lost.
package telegram

import (
	"context"
	"fmt"
	"os"

	"github.com/watchtower-cti/watchtower/internal/consts"
	"github.com/watchtower-cti/watchtower/internal/destination"
	"github.com/watchtower-cti/watchtower/internal/envelope"
	"github.com/watchtower-cti/watchtower/internal/pkg/logs"
	"github.com/watchtower-cti/watchtower/internal/telegramapi"
	"github.com/watchtower-cti/watchtower/internal/textproc"
)

// Chat is one configured chat destination.
type Chat struct {
	name    string
	chatID  string
	api     telegramapi.API
	limiter *destination.RateLimiter
}

var _ destination.Destination = (*Chat)(nil)

func New(name, chatID string, api telegramapi.API, limiter *destination.RateLimiter) *Chat {
	return &Chat{name: name, chatID: chatID, api: api, limiter: limiter}
}

func (c *Chat) Name() string     { return c.name }
func (c *Chat) Kind() string     { return destination.KindChat }
func (c *Chat) Endpoint() string { return c.chatID }

func (c *Chat) Format(env *envelope.Envelope, matched []string, note destination.MediaNote) string {
	return renderHTML(env, matched, note)
}

func (c *Chat) Send(ctx context.Context, body, mediaPath string) destination.Outcome {
	if mediaPath != "" {
		if _, err := os.Stat(mediaPath); err != nil {
			logs.Warn("[telegram-dest] %s: media %s no longer on disk; sending text only", c.name, mediaPath)
			mediaPath = ""
		}
	}

	switch {
	case mediaPath == "":
		return c.sendText(ctx, body)
	case len(body) <= consts.TelegramCaptionMax:
		return c.sendCall(ctx, func() error {
			return c.api.SendFile(ctx, c.chatID, mediaPath, body)
		})
	default:
		// Caption would overflow: media first without caption, then the
		// full body as ordinary messages.
		if out := c.sendCall(ctx, func() error {
			return c.api.SendFile(ctx, c.chatID, mediaPath, "")
		}); out.Status != destination.StatusOK {
			return out
		}
		return c.sendText(ctx, body)
	}
}

func (c *Chat) sendText(ctx context.Context, body string) destination.Outcome {
	for _, chunk := range textproc.Chunk(body, consts.TelegramBodyMax) {
		chunk := chunk
		if out := c.sendCall(ctx, func() error {
			return c.api.SendMessage(ctx, c.chatID, chunk)
		}); out.Status != destination.StatusOK {
			return out
		}
	}
	return destination.OK()
}

// sendCall wraps one wire call with the limiter handshake and outcome
// mapping. Flood waits register a deadline so the next reserve blocks.
func (c *Chat) sendCall(ctx context.Context, call func() error) destination.Outcome {
	key := destination.Key(destination.KindChat, c.chatID)
	c.limiter.Reserve(ctx, key)
	if err := ctx.Err(); err != nil {
		return destination.Failed(err)
	}

	err := call()
	if err == nil {
		return destination.OK()
	}
	if wait, ok := telegramapi.FloodWait(err); ok {
		c.limiter.Register(key, wait)
		return destination.RateLimited(wait)
	}
	return destination.Failed(fmt.Errorf("chat send: %w", err))
}
