package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/watchtower-cti/watchtower/internal/consts"
	"github.com/watchtower-cti/watchtower/internal/pkg/logs"
)

// Load reads, resolves and validates the config document at path. Endpoint
// environment variables and keyword files are resolved here so downstream
// code only ever sees fully-populated rules.
func Load(path string) (*Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = consts.ConfigFileName
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := sonic.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config json: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	cfg.baseDir = filepath.Dir(abs)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	cfg.resolveEndpoints()
	cfg.resolveKeywords()
	return &cfg, nil
}

// resolveEndpoints fills each destination's Endpoint from its env_key.
// A missing variable drops the destination with a warning; the rest of the
// document keeps working.
func (c *Config) resolveEndpoints() {
	kept := make([]DestinationConfig, 0, len(c.Destinations))
	for _, dst := range c.Destinations {
		endpoint := strings.TrimSpace(os.Getenv(dst.EnvKey))
		if endpoint == "" {
			logs.Warn("[config] destination %s: env %s is not set; destination skipped", dst.Name, dst.EnvKey)
			continue
		}
		dst.Endpoint = endpoint
		kept = append(kept, dst)
	}
	c.Destinations = kept
}

// resolveKeywords merges each rule's inline keywords with the contents of
// its keyword files. Missing files warn and contribute nothing.
func (c *Config) resolveKeywords() {
	for di := range c.Destinations {
		dst := &c.Destinations[di]
		for ci := range dst.Channels {
			rule := &dst.Channels[ci]
			rule.Resolved = c.mergeKeywords(rule.Keywords, fmt.Sprintf("%s/channels[%s]", dst.Name, rule.ID))
		}
		for fi := range dst.RSS {
			rule := &dst.RSS[fi]
			rule.Resolved = c.mergeKeywords(rule.Keywords, fmt.Sprintf("%s/rss[%s]", dst.Name, rule.Name))
		}
	}
}

func (c *Config) mergeKeywords(spec *KeywordSpec, where string) []string {
	if spec == nil {
		return nil
	}

	var merged []string
	for _, file := range spec.Files {
		file = strings.TrimSpace(file)
		if file == "" {
			continue
		}
		if !filepath.IsAbs(file) {
			file = filepath.Join(c.baseDir, file)
		}
		words, err := readKeywordFile(file)
		if err != nil {
			logs.Warn("[config] %s: keyword file %s: %v", where, file, err)
			continue
		}
		merged = append(merged, words...)
	}
	for _, kw := range spec.Inline {
		kw = strings.TrimSpace(kw)
		if kw != "" {
			merged = append(merged, kw)
		}
	}
	return merged
}

// readKeywordFile parses a newline-separated keyword list. Blank lines and
// lines starting with '#' are skipped.
func readKeywordFile(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var words []string
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words = append(words, line)
	}
	return words, nil
}

// TelegramCredentials holds the chat-platform api pair from the environment.
type TelegramCredentials struct {
	APIID   int
	APIHash string
}

// LoadTelegramCredentials reads the required session env vars. An error here
// is fatal for any mode that touches the chat platform.
func LoadTelegramCredentials() (TelegramCredentials, error) {
	rawID := strings.TrimSpace(os.Getenv(EnvTelegramAPIID))
	hash := strings.TrimSpace(os.Getenv(EnvTelegramAPIHash))
	if rawID == "" || hash == "" {
		return TelegramCredentials{}, fmt.Errorf("%s and %s must be set", EnvTelegramAPIID, EnvTelegramAPIHash)
	}

	id, err := strconv.Atoi(rawID)
	if err != nil {
		return TelegramCredentials{}, fmt.Errorf("parse %s: %w", EnvTelegramAPIID, err)
	}
	return TelegramCredentials{APIID: id, APIHash: hash}, nil
}
