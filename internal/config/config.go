// Package config loads and validates the routing document: destinations,
// their channel/feed rules, logging and polling settings. The document is
// JSON, read once at startup; endpoints and credentials come from the
// environment and are never stored in the file.
package config

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/bytedance/sonic"
)

const (
	DestinationWebhook = "webhook"
	DestinationChat    = "chat"
)

// Environment variable names for the chat-platform session.
const (
	EnvTelegramAPIID   = "TELEGRAM_API_ID"
	EnvTelegramAPIHash = "TELEGRAM_API_HASH"
)

type (
	Config struct {
		Logging      LoggingConfig       `json:"logging"`
		Polling      PollingConfig       `json:"polling"`
		Destinations []DestinationConfig `json:"destinations"`

		// baseDir is the config file's directory; keyword file paths
		// resolve relative to it.
		baseDir string
	}

	LoggingConfig struct {
		Level      string `json:"level"`  // debug, info, warn, error
		Format     string `json:"format"` // json, text
		Output     string `json:"output"` // stdout, file, both
		File       string `json:"file"`
		MaxSize    int    `json:"max_size"` // MB
		MaxBackups int    `json:"max_backups"`
		MaxAge     int    `json:"max_age"` // days
	}

	// PollingConfig holds schedule strings: either a Go duration ("5m") or a
	// 5-field cron expression. Zero values fall back to defaults at Validate.
	PollingConfig struct {
		Feeds       string `json:"feeds"`        // feed poll cadence
		GapRecovery string `json:"gap_recovery"` // chat cursor catch-up cadence
		Metrics     string `json:"metrics"`      // metrics snapshot cadence
	}

	DestinationConfig struct {
		Name   string `json:"name"`
		Type   string `json:"type"` // webhook, chat
		EnvKey string `json:"env_key"`

		// Endpoint is resolved from the environment at load: a webhook URL
		// or a chat id. Never serialized.
		Endpoint string `json:"-"`

		Channels []ChannelRule `json:"channels"`
		RSS      []FeedRule    `json:"rss"`
	}

	// KeywordSpec is the on-disk shape: file references plus inline entries.
	// Load merges both into the rule's resolved keyword list.
	KeywordSpec struct {
		Files  []string `json:"files"`
		Inline []string `json:"inline"`
	}

	// ParserSpec describes the line transform for a rule. trim_front/trim_back
	// and keep_first are mutually exclusive shapes.
	ParserSpec struct {
		TrimFront *int `json:"trim_front"`
		TrimBack  *int `json:"trim_back"`
		KeepFirst *int `json:"keep_first"`
	}

	ChannelRule struct {
		ID               string       `json:"id"` // @handle or signed numeric id
		Keywords         *KeywordSpec `json:"keywords"`
		RestrictedMode   bool         `json:"restricted_mode"`
		OCR              bool         `json:"ocr"`
		CheckAttachments *bool        `json:"check_attachments"` // default true
		Parser           *ParserSpec  `json:"parser"`

		// Resolved is the merged keyword list (files + inline), populated by
		// Load. Empty means match-all.
		Resolved []string `json:"-"`
	}

	FeedRule struct {
		URL      string       `json:"url"`
		Name     string       `json:"name"`
		Keywords *KeywordSpec `json:"keywords"`
		Parser   *ParserSpec  `json:"parser"`

		Resolved []string `json:"-"`
	}
)

// ScanAttachments reports the effective check_attachments value.
func (r *ChannelRule) ScanAttachments() bool {
	if r.CheckAttachments == nil {
		return true
	}
	return *r.CheckAttachments
}

// BaseDir returns the directory the config file was loaded from.
func (c *Config) BaseDir() string {
	return c.baseDir
}

// Hash returns a stable digest of the loaded document. Logged at startup so
// a run can be tied back to the exact routing config it was launched with;
// endpoints and resolved keywords are excluded (json:"-"), so the hash never
// leaks secrets and does not change with the environment.
func (c *Config) Hash() string {
	json := sonic.Config{SortMapKeys: true, UseNumber: true}.Froze()
	raw, _ := json.Marshal(c)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
