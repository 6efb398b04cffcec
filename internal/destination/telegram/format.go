package telegram

import (
	"fmt"
	"html"
	"strings"

	"github.com/watchtower-cti/watchtower/internal/destination"
	"github.com/watchtower-cti/watchtower/internal/envelope"
)

const timeLayout = "2006-01-02 15:04:05 UTC"

// renderHTML builds the chat message body in the platform's HTML subset.
// Every interpolated envelope field is escaped.
func renderHTML(env *envelope.Envelope, matched []string, note destination.MediaNote) string {
	var b strings.Builder
	esc := html.EscapeString

	fmt.Fprintf(&b, "<b>New message from:</b> %s\n", esc(env.ChannelName))
	if env.Author != "" {
		fmt.Fprintf(&b, "<b>Posted by:</b> %s\n", esc(env.Author))
	}
	fmt.Fprintf(&b, "<b>Posted at:</b> %s\n", env.Timestamp.UTC().Format(timeLayout))
	if src := env.Meta(envelope.MetaSourceURL); src != "" {
		fmt.Fprintf(&b, "<b>Source:</b> %s\n", esc(src))
	}
	if label := env.MediaKind.Label(); label != "" {
		fmt.Fprintf(&b, "<b>Content type:</b> %s\n", label)
	}
	if len(matched) > 0 {
		quoted := make([]string, 0, len(matched))
		for _, kw := range matched {
			quoted = append(quoted, "<code>"+esc(kw)+"</code>")
		}
		fmt.Fprintf(&b, "<b>Matched keywords:</b> %s\n", strings.Join(quoted, ", "))
	}

	if r := env.Reply; r != nil {
		fmt.Fprintf(&b, "\n<b>Replying to</b> %s (%s):\n", esc(r.Author), r.Timestamp.UTC().Format(timeLayout))
		if label := r.MediaKind.Label(); label != "" {
			fmt.Fprintf(&b, "<i>%s</i>\n", label)
		}
		switch {
		case r.Text != "":
			fmt.Fprintf(&b, "<blockquote>%s</blockquote>\n", esc(r.Text))
		case r.HasMedia:
			b.WriteString("<i>[Media only, no caption]</i>\n")
		}
	}

	if env.Text != "" {
		b.WriteString("\n")
		b.WriteString(esc(env.Text))
		b.WriteString("\n")
	}

	if env.OCRText != "" {
		b.WriteString("\n<b>Scanned image text:</b>\n")
		fmt.Fprintf(&b, "<blockquote>%s</blockquote>\n", esc(env.OCRText))
	}

	switch note {
	case destination.NoteFiltered:
		b.WriteString("\n<i>[Media attachment filtered due to channel restrictions]</i>\n")
	case destination.NoteUndeliverable:
		b.WriteString("\n<i>[Media attachment could not be forwarded]</i>\n")
	}

	return strings.TrimRight(b.String(), "\n")
}
