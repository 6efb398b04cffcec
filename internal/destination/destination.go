// Package destination defines the delivery-side contract: a Destination
// renders an envelope for its platform and pushes it over the wire, reporting
// a typed outcome the pipeline can act on.
package destination

import (
	"context"
	"time"

	"github.com/watchtower-cti/watchtower/internal/envelope"
)

const (
	KindWebhook = "webhook"
	KindChat    = "chat"
)

// MediaNote tells the formatter to append a media disposition annotation.
type MediaNote int

const (
	NoteNone MediaNote = iota
	// NoteFiltered marks media withheld by restricted-mode policy.
	NoteFiltered
	// NoteUndeliverable marks media that could not be downloaded or forwarded.
	NoteUndeliverable
)

// Status is the tri-state send result.
type Status int

const (
	StatusOK Status = iota
	StatusRateLimited
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusRateLimited:
		return "rate_limited"
	default:
		return "error"
	}
}

// Outcome is what a sender reports back to the pipeline.
type Outcome struct {
	Status     Status
	RetryAfter time.Duration // set when Status is StatusRateLimited
	Err        error         // set when Status is StatusError
}

func OK() Outcome                             { return Outcome{Status: StatusOK} }
func RateLimited(after time.Duration) Outcome { return Outcome{Status: StatusRateLimited, RetryAfter: after} }
func Failed(err error) Outcome                { return Outcome{Status: StatusError, Err: err} }

// Destination delivers rendered messages to one configured endpoint.
type Destination interface {
	Name() string
	Kind() string
	Endpoint() string

	// Format renders a (parsed) envelope into the platform's wire text.
	Format(env *envelope.Envelope, matched []string, note MediaNote) string

	// Send delivers body, attaching the file at mediaPath when non-empty.
	// Chunking and caption policy are the sender's concern; body may exceed
	// any platform limit.
	Send(ctx context.Context, body, mediaPath string) Outcome
}
