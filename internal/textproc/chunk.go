package textproc

import (
	"strings"
	"unicode/utf8"
)

// Chunk splits text into pieces of at most maxLen bytes, preferring to break
// at the last newline inside the window so message structure survives. When
// no newline fits, it hard-breaks at maxLen (backed off to a rune boundary).
// Leading newlines are stripped from non-first chunks so the pieces
// concatenate back to the original text modulo that stripping.
func Chunk(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for text != "" {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}

		split := strings.LastIndexByte(text[:maxLen], '\n')
		if split <= 0 {
			split = runeSafeIndex(text, maxLen)
		}

		chunks = append(chunks, text[:split])
		text = strings.TrimLeft(text[split:], "\n")
	}
	return chunks
}

// runeSafeIndex backs idx off to the nearest preceding rune boundary.
func runeSafeIndex(s string, idx int) int {
	for idx > 0 && !utf8.RuneStart(s[idx]) {
		idx--
	}
	if idx == 0 {
		// Degenerate: a single rune wider than the window. Split anyway.
		return len(s)
	}
	return idx
}
