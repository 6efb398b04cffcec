// Package telegramapi wraps the MTProto client behind a narrow interface
// shared by the chat source, the chat destination and the discover tool.
// Everything above this package works with plain Message/Chat values, so
// tests run against fakes and never touch the wire.
package telegramapi

import (
	"context"
	"time"

	"github.com/gotd/td/tgerr"
)

// MediaType is the coarse classification the pipeline cares about.
type MediaType string

const (
	MediaImage    MediaType = "image"
	MediaDocument MediaType = "document"
	MediaOther    MediaType = "other"
)

// Media describes a message attachment.
type Media struct {
	Type     MediaType
	Filename string // documents only, may be empty
	MIME     string // documents only, may be empty
}

// Chat is an accessible channel or group.
type Chat struct {
	ID       int64
	Title    string
	Username string // without the @, empty for private chats
}

// Message is a platform message reduced to pipeline needs.
type Message struct {
	ID        int
	ChannelID int64
	Author    string
	Timestamp time.Time
	Text      string
	Media     *Media

	// Reply is the replied-to message, resolved best-effort; nil otherwise.
	Reply *Message

	// ref retains the adapter's native handle for media download.
	ref any
}

// API is the client surface the rest of the repo consumes.
type API interface {
	// Run connects the session and blocks until ctx is cancelled. ready is
	// invoked once the client is authorized and usable.
	Run(ctx context.Context, ready func(ctx context.Context) error) error

	// Resolve maps a configured channel id (@handle or signed numeric id)
	// to its chat.
	Resolve(ctx context.Context, channelID string) (*Chat, error)

	// Latest fetches the newest message of a channel, or nil when empty.
	Latest(ctx context.Context, channelID string) (*Message, error)

	// After fetches up to limit messages with id > minID, ascending.
	After(ctx context.Context, channelID string, minID, limit int) ([]*Message, error)

	// Download stores the message's media under dir and returns the path.
	Download(ctx context.Context, msg *Message, dir string) (string, error)

	// OnNewMessage registers the live-event handler. Must be called before Run.
	OnNewMessage(handler func(ctx context.Context, msg *Message))

	// SendMessage / SendFile deliver to a chat destination. Text is an
	// HTML subset; captions may be empty.
	SendMessage(ctx context.Context, chatID, text string) error
	SendFile(ctx context.Context, chatID, path, caption string) error

	// Dialogs enumerates every chat the session can see.
	Dialogs(ctx context.Context) ([]*Chat, error)
}

// FloodWait extracts the platform's typed flood-wait backoff from err.
func FloodWait(err error) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}
	return tgerr.AsFloodWait(err)
}
