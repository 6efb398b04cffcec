package discord

import (
	"fmt"
	"strings"

	"github.com/watchtower-cti/watchtower/internal/destination"
	"github.com/watchtower-cti/watchtower/internal/envelope"
)

const timeLayout = "2006-01-02 15:04:05 UTC"

// renderMarkdown builds the webhook message body. Untrusted text (message
// body, reply text, OCR output) is appended as-is on its own lines so it
// cannot hijack the header markup.
func renderMarkdown(env *envelope.Envelope, matched []string, note destination.MediaNote) string {
	var b strings.Builder

	fmt.Fprintf(&b, "**New message from:** %s\n", env.ChannelName)
	if env.Author != "" {
		fmt.Fprintf(&b, "**Posted by:** %s\n", env.Author)
	}
	fmt.Fprintf(&b, "**Posted at:** %s\n", env.Timestamp.UTC().Format(timeLayout))
	if src := env.Meta(envelope.MetaSourceURL); src != "" {
		fmt.Fprintf(&b, "**Source:** %s\n", src)
	}
	if label := env.MediaKind.Label(); label != "" {
		fmt.Fprintf(&b, "**Content type:** %s\n", label)
	}
	if len(matched) > 0 {
		quoted := make([]string, 0, len(matched))
		for _, kw := range matched {
			quoted = append(quoted, "`"+kw+"`")
		}
		fmt.Fprintf(&b, "**Matched keywords:** %s\n", strings.Join(quoted, ", "))
	}

	if r := env.Reply; r != nil {
		fmt.Fprintf(&b, "\n**Replying to** %s (%s):\n", r.Author, r.Timestamp.UTC().Format(timeLayout))
		if label := r.MediaKind.Label(); label != "" {
			fmt.Fprintf(&b, "> %s\n", label)
		}
		if r.Text != "" {
			for _, line := range strings.Split(r.Text, "\n") {
				fmt.Fprintf(&b, "> %s\n", line)
			}
		} else if r.HasMedia {
			b.WriteString("> [Media only, no caption]\n")
		}
	}

	if env.Text != "" {
		b.WriteString("\n")
		b.WriteString(env.Text)
		b.WriteString("\n")
	}

	if env.OCRText != "" {
		b.WriteString("\n**Scanned image text:**\n")
		for _, line := range strings.Split(env.OCRText, "\n") {
			fmt.Fprintf(&b, "> %s\n", line)
		}
	}

	switch note {
	case destination.NoteFiltered:
		b.WriteString("\n*[Media attachment filtered due to channel restrictions]*\n")
	case destination.NoteUndeliverable:
		b.WriteString("\n*[Media attachment could not be forwarded]*\n")
	}

	return strings.TrimRight(b.String(), "\n")
}
