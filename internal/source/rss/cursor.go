package rss

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/watchtower-cti/watchtower/internal/pkg/logs"
)

// feedCursor stores the newest entry timestamp seen per feed, one file of a
// single ISO timestamp line. Unlike the chat cursor these files survive
// restarts: a feed has no "latest message" query to re-anchor against.
type feedCursor struct {
	dir string
}

func newFeedCursor(dir string) *feedCursor {
	return &feedCursor{dir: dir}
}

// sanitizeName turns a feed display name into a safe file name.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func (c *feedCursor) path(name string) string {
	return filepath.Join(c.dir, sanitizeName(name)+".txt")
}

func (c *feedCursor) read(name string) (time.Time, bool) {
	raw, err := os.ReadFile(c.path(name))
	if err != nil {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(raw)))
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func (c *feedCursor) write(name string, ts time.Time) {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		logs.Warn("[source:rss] create cursor dir: %v", err)
		return
	}
	content := ts.UTC().Format(time.RFC3339Nano) + "\n"
	if err := os.WriteFile(c.path(name), []byte(content), 0o644); err != nil {
		logs.Warn("[source:rss] write cursor for %s: %v", name, err)
	}
}
