package telegram

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/watchtower-cti/watchtower/internal/pkg/logs"
)

// cursorLog stores the last-processed message id per channel: one file of
// `display_name\nlast_id`. Files are deleted on clean shutdown so a restart
// re-anchors at the channel's newest message instead of backfilling floods.
// The mutex serializes the event and polling paths, which advance the same
// channel concurrently.
type cursorLog struct {
	mu  sync.Mutex
	dir string
}

func newCursorLog(dir string) *cursorLog {
	return &cursorLog{dir: dir}
}

// sanitizeID turns a channel id into a safe file name.
func sanitizeID(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func (c *cursorLog) path(id string) string {
	return filepath.Join(c.dir, sanitizeID(id)+".txt")
}

func (c *cursorLog) read(id string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readLocked(id)
}

func (c *cursorLog) readLocked(id string) (int, bool) {
	raw, err := os.ReadFile(c.path(id))
	if err != nil {
		return 0, false
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) < 2 {
		return 0, false
	}
	last, err := strconv.Atoi(strings.TrimSpace(lines[len(lines)-1]))
	if err != nil {
		return 0, false
	}
	return last, true
}

func (c *cursorLog) write(id, display string, lastID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLocked(id, display, lastID)
}

func (c *cursorLog) writeLocked(id, display string, lastID int) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create cursor dir: %w", err)
	}
	content := fmt.Sprintf("%s\n%d", display, lastID)
	if err := os.WriteFile(c.path(id), []byte(content), 0o644); err != nil {
		return fmt.Errorf("write cursor for %s: %w", id, err)
	}
	return nil
}

// advance raises the cursor to max(current, lastID). The read-compare-write
// runs under the lock so a slow writer can never regress the cursor.
func (c *cursorLog) advance(id, display string, lastID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if current, ok := c.readLocked(id); ok && current >= lastID {
		return
	}
	if err := c.writeLocked(id, display, lastID); err != nil {
		logs.Warn("[source:telegram] %v", err)
	}
}

// clear removes every cursor file. Called on clean shutdown.
func (c *cursorLog) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			logs.Warn("[source:telegram] clear cursors: %v", err)
		}
		return
	}
	for _, entry := range entries {
		if err := os.Remove(filepath.Join(c.dir, entry.Name())); err != nil {
			logs.Warn("[source:telegram] remove cursor %s: %v", entry.Name(), err)
		}
	}
}
