package routing

import (
	"fmt"
	"strings"

	"github.com/watchtower-cti/watchtower/internal/config"
	"github.com/watchtower-cti/watchtower/internal/envelope"
)

const emptyAfterTrimPlaceholder = "[Message trimmed to empty]"

// ApplyParser runs a rule's line transform and returns a new envelope; the
// input is never mutated, so sibling destinations keep the pre-parse text.
// A nil spec returns the input unchanged.
func ApplyParser(env *envelope.Envelope, spec *config.ParserSpec) *envelope.Envelope {
	if spec == nil {
		return env
	}

	out := env.Clone()
	out.Text = parseText(env.Text, spec)
	return out
}

func parseText(text string, spec *config.ParserSpec) string {
	lines := strings.Split(text, "\n")

	if spec.KeepFirst != nil {
		k := *spec.KeepFirst
		if k <= 0 || k >= len(lines) {
			return text
		}
		omitted := len(lines) - k
		kept := append(lines[:k:k], fmt.Sprintf("[... %d more lines omitted]", omitted))
		return strings.Join(kept, "\n")
	}

	front, back := 0, 0
	if spec.TrimFront != nil {
		front = *spec.TrimFront
	}
	if spec.TrimBack != nil {
		back = *spec.TrimBack
	}
	if front+back >= len(lines) {
		return emptyAfterTrimPlaceholder
	}
	return strings.Join(lines[front:len(lines)-back], "\n")
}
