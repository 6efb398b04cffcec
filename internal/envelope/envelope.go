package envelope

import (
	"context"
	"time"
)

// SourceKind identifies where an envelope originated.
type SourceKind string

const (
	SourceTelegram SourceKind = "telegram"
	SourceRSS      SourceKind = "rss"
)

// MediaKind is a coarse classification of attached media.
type MediaKind string

const (
	MediaNone     MediaKind = "none"
	MediaImage    MediaKind = "image"
	MediaDocument MediaKind = "document"
	MediaOther    MediaKind = "other"
)

// Label returns the human-readable form used by formatters.
func (k MediaKind) Label() string {
	switch k {
	case MediaImage:
		return "Photo"
	case MediaDocument:
		return "Document"
	case MediaOther:
		return "Other"
	default:
		return ""
	}
}

// MediaFetcher downloads the envelope's native media into dir and returns the
// local path. It stands in for the source-native message object so the
// pipeline never touches platform types.
type MediaFetcher interface {
	Fetch(ctx context.Context, dir string) (string, error)
}

// ReplyContext describes the message an envelope replies to.
type ReplyContext struct {
	Author    string
	Timestamp time.Time
	Text      string // already truncated by the source
	MediaKind MediaKind
	HasMedia  bool
}

// Envelope is the source-agnostic unit of work flowing through the pipeline.
// A source creates it; preprocessing may populate MediaPath, OCRText and
// Metadata; everything else is immutable. Parsers return copies.
type Envelope struct {
	Source      SourceKind
	ChannelID   string // @handle / signed id for telegram, feed URL for rss
	ChannelName string
	Author      string
	Timestamp   time.Time
	Text        string

	HasMedia  bool
	MediaKind MediaKind
	MediaPath string // set at most once; owned by the orchestrator

	OCRText string

	Reply *ReplyContext

	// Media triggers the actual download; nil when HasMedia is false.
	Media MediaFetcher

	// Metadata carries free-form annotations, e.g. "src_url_defanged".
	Metadata map[string]string

	// MessageID is the platform message id for telegram envelopes (cursor
	// updates, source URL construction). Zero for feeds.
	MessageID int
}

// Clone returns a copy sharing the reply context and media fetcher. Parsers
// use it so sibling destinations keep seeing the pre-parse text.
func (e *Envelope) Clone() *Envelope {
	cp := *e
	if e.Metadata != nil {
		cp.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// Meta returns the metadata value for key, or "".
func (e *Envelope) Meta(key string) string {
	if e.Metadata == nil {
		return ""
	}
	return e.Metadata[key]
}

// SetMeta records a metadata annotation, allocating the map on first use.
func (e *Envelope) SetMeta(key, value string) {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string, 4)
	}
	e.Metadata[key] = value
}

// Metadata keys populated by sources and preprocessing.
const (
	// MetaSourceURL holds the defanged source URL of a telegram envelope.
	MetaSourceURL = "src_url_defanged"
	// MetaAttachmentName / MetaAttachmentMime describe document media for
	// the safe-type classifier.
	MetaAttachmentName = "attachment_name"
	MetaAttachmentMime = "attachment_mime"
)
