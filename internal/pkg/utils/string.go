package utils

import (
	"github.com/bytedance/gopkg/lang/fastrand"
)

const randStrAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandStr generates a random alphanumeric string of length n. Used for
// opaque temporary file names; not suitable for secrets.
func RandStr(n int) string {
	if n <= 0 {
		return ""
	}

	b := make([]byte, n)
	for i := range b {
		b[i] = randStrAlphabet[fastrand.Uint32n(uint32(len(randStrAlphabet)))]
	}
	return string(b)
}

// Truncate cuts content to maxLen bytes and appends an ellipsis marker when
// anything was removed.
func Truncate(content string, maxLen int) string {
	if len(content) <= maxLen {
		return content
	}
	return content[:maxLen] + " ..."
}
