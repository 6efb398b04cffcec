package consts

import (
	"path/filepath"
)

const (
	ConfigFileName  = "config.json"
	SessionFileName = "watchtower.session"

	TmpDirName         = "tmp"
	AttachmentsDirName = "attachments"
	RSSLogDirName      = "rsslog"
	TelegramLogDirName = "telegramlog"
	MetricsFileName    = "metrics.json"
)

// BaseDir is the working directory everything below lives under. The monitor
// command sets it once at startup (defaults to the config file's directory).
var baseDir = "."

func SetBaseDir(dir string) {
	if dir != "" {
		baseDir = dir
	}
}

func TmpDir() string {
	return filepath.Join(baseDir, TmpDirName)
}

// AttachmentsDir holds transient downloaded media, purged at startup and
// deleted per-envelope during normal operation.
func AttachmentsDir() string {
	return filepath.Join(TmpDir(), AttachmentsDirName)
}

// RSSLogDir holds one persistent cursor file per unique feed URL.
func RSSLogDir() string {
	return filepath.Join(TmpDir(), RSSLogDirName)
}

// TelegramLogDir holds one cursor file per monitored chat channel; the whole
// directory is cleared on clean shutdown.
func TelegramLogDir() string {
	return filepath.Join(TmpDir(), TelegramLogDirName)
}

func MetricsFile() string {
	return filepath.Join(TmpDir(), MetricsFileName)
}

func SessionFile() string {
	return filepath.Join(baseDir, SessionFileName)
}
