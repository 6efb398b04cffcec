package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadResolvesEnvAndKeywords(t *testing.T) {
	dir := t.TempDir()
	kwFile := filepath.Join(dir, "ransomware.txt")
	if err := os.WriteFile(kwFile, []byte("# groups\nlockbit\n\nblackcat\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	path := writeConfig(t, dir, `{
	  "destinations": [{
	    "name": "soc-feed",
	    "type": "webhook",
	    "env_key": "SOC_FEED_URL",
	    "channels": [{
	      "id": "@darkfeed",
	      "keywords": {"files": ["ransomware.txt"], "inline": ["CVE"]},
	      "ocr": true
	    }]
	  }]
	}`)

	t.Setenv("SOC_FEED_URL", "https://hooks.example/abc")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Destinations) != 1 {
		t.Fatalf("expected 1 destination, got %d", len(cfg.Destinations))
	}

	dst := cfg.Destinations[0]
	if dst.Endpoint != "https://hooks.example/abc" {
		t.Errorf("endpoint not resolved: %q", dst.Endpoint)
	}

	rule := dst.Channels[0]
	want := []string{"lockbit", "blackcat", "CVE"}
	if len(rule.Resolved) != len(want) {
		t.Fatalf("resolved keywords = %v, want %v", rule.Resolved, want)
	}
	for i, kw := range want {
		if rule.Resolved[i] != kw {
			t.Errorf("resolved[%d] = %q, want %q", i, rule.Resolved[i], kw)
		}
	}
	if !rule.OCR || rule.RestrictedMode {
		t.Errorf("flag defaults wrong: ocr=%v restricted=%v", rule.OCR, rule.RestrictedMode)
	}
	if !rule.ScanAttachments() {
		t.Error("check_attachments must default to true")
	}
}

func TestLoadSkipsDestinationWithoutEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{
	  "destinations": [
	    {"name": "a", "type": "webhook", "env_key": "WT_TEST_MISSING_ENV",
	     "rss": [{"url": "https://feed.example/rss"}]},
	    {"name": "b", "type": "webhook", "env_key": "WT_TEST_PRESENT_ENV",
	     "rss": [{"url": "https://feed.example/rss"}]}
	  ]
	}`)

	t.Setenv("WT_TEST_PRESENT_ENV", "https://hooks.example/b")
	os.Unsetenv("WT_TEST_MISSING_ENV")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Destinations) != 1 || cfg.Destinations[0].Name != "b" {
		t.Fatalf("expected only destination b to survive, got %+v", cfg.Destinations)
	}
}

func TestValidateRejectsMixedParserShapes(t *testing.T) {
	one := 1
	cfg := &Config{Destinations: []DestinationConfig{{
		Name: "x", Type: "webhook", EnvKey: "X",
		Channels: []ChannelRule{{
			ID:     "@c",
			Parser: &ParserSpec{TrimFront: &one, KeepFirst: &one},
		}},
	}}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("mixed parser shapes must fail validation")
	}
}

func TestValidateDropsNegativeParser(t *testing.T) {
	neg := -1
	cfg := &Config{Destinations: []DestinationConfig{{
		Name: "x", Type: "webhook", EnvKey: "X",
		Channels: []ChannelRule{{
			ID:     "@c",
			Parser: &ParserSpec{TrimFront: &neg},
		}},
	}}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("negative parser must warn, not fail: %v", err)
	}
	if cfg.Destinations[0].Channels[0].Parser != nil {
		t.Fatal("negative parser must be dropped")
	}
}

func TestValidateRejectsBadType(t *testing.T) {
	cfg := &Config{Destinations: []DestinationConfig{{
		Name: "x", Type: "smtp", EnvKey: "X",
		RSS: []FeedRule{{URL: "https://feed.example/rss"}},
	}}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown destination type must fail validation")
	}
}

func TestValidateDefaultsSchedules(t *testing.T) {
	cfg := &Config{Destinations: []DestinationConfig{{
		Name: "x", Type: "webhook", EnvKey: "X",
		RSS: []FeedRule{{URL: "https://feed.example/rss"}},
	}}}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Polling.Feeds != "5m" || cfg.Polling.GapRecovery != "5m" || cfg.Polling.Metrics != "1m" {
		t.Fatalf("schedule defaults wrong: %+v", cfg.Polling)
	}
}

func TestParseSchedule(t *testing.T) {
	sched, err := ParseSchedule("5m")
	if err != nil {
		t.Fatal(err)
	}
	// ConstantDelaySchedule truncates to whole seconds, so probe from a
	// whole-second instant.
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if next := sched.Next(now); next.Sub(now) != 5*time.Minute {
		t.Errorf("duration schedule next = %v", next.Sub(now))
	}

	if _, err := ParseSchedule("*/5 * * * *"); err != nil {
		t.Errorf("cron schedule rejected: %v", err)
	}
	if _, err := ParseSchedule("not a schedule"); err == nil {
		t.Error("garbage schedule accepted")
	}
	if _, err := ParseSchedule("-5m"); err == nil {
		t.Error("negative duration accepted")
	}
}

func TestLoadTelegramCredentials(t *testing.T) {
	t.Setenv(EnvTelegramAPIID, "12345")
	t.Setenv(EnvTelegramAPIHash, "abcdef")
	creds, err := LoadTelegramCredentials()
	if err != nil {
		t.Fatal(err)
	}
	if creds.APIID != 12345 || creds.APIHash != "abcdef" {
		t.Fatalf("unexpected creds: %+v", creds)
	}

	t.Setenv(EnvTelegramAPIID, "not-a-number")
	if _, err := LoadTelegramCredentials(); err == nil {
		t.Fatal("non-numeric api id must fail")
	}
}

func TestConfigHash(t *testing.T) {
	base := func() *Config {
		return &Config{Destinations: []DestinationConfig{{
			Name: "soc", Type: DestinationWebhook, EnvKey: "SOC_WEBHOOK_URL",
			Channels: []ChannelRule{{ID: "@darkfeed"}},
		}}}
	}

	a, b := base(), base()
	if a.Hash() != b.Hash() {
		t.Fatal("equal documents must hash equal")
	}

	b.Destinations[0].Channels[0].ID = "@otherfeed"
	if a.Hash() == b.Hash() {
		t.Fatal("hash must change with the document")
	}

	// Endpoints are environment-resolved and excluded from serialization;
	// the hash identifies the document, not the deployment.
	c := base()
	c.Destinations[0].Endpoint = "https://hooks.example.com/abc"
	if a.Hash() != c.Hash() {
		t.Fatal("resolved endpoint must not affect the hash")
	}
}
