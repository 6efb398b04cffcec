package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/watchtower-cti/watchtower/internal/pkg/logs"
)

const (
	defaultFeedSchedule        = "5m"
	defaultGapRecoverySchedule = "5m"
	defaultMetricsSchedule     = "1m"
)

// Validate normalizes the document in place and rejects shapes that cannot
// be routed. Duplicate destination names are warning-only.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config cannot be nil")
	}

	if strings.TrimSpace(c.Polling.Feeds) == "" {
		c.Polling.Feeds = defaultFeedSchedule
	}
	if strings.TrimSpace(c.Polling.GapRecovery) == "" {
		c.Polling.GapRecovery = defaultGapRecoverySchedule
	}
	if strings.TrimSpace(c.Polling.Metrics) == "" {
		c.Polling.Metrics = defaultMetricsSchedule
	}
	for _, sched := range []string{c.Polling.Feeds, c.Polling.GapRecovery, c.Polling.Metrics} {
		if _, err := ParseSchedule(sched); err != nil {
			return fmt.Errorf("polling schedule %q: %w", sched, err)
		}
	}

	if len(c.Destinations) == 0 {
		return errors.New("at least one destination is required")
	}

	seen := make(map[string]struct{}, len(c.Destinations))
	for i := range c.Destinations {
		dst := &c.Destinations[i]
		if err := dst.validate(); err != nil {
			return fmt.Errorf("destinations[%d] (%s): %w", i, dst.Name, err)
		}
		if _, dup := seen[dst.Name]; dup {
			logs.Warn("[config] duplicate destination name %q; routing metrics will be ambiguous", dst.Name)
		}
		seen[dst.Name] = struct{}{}
	}
	return nil
}

func (d *DestinationConfig) validate() error {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return errors.New("name is required")
	}

	d.Type = strings.ToLower(strings.TrimSpace(d.Type))
	switch d.Type {
	case DestinationWebhook, DestinationChat:
	default:
		return fmt.Errorf("invalid type: %q (want %s or %s)", d.Type, DestinationWebhook, DestinationChat)
	}

	d.EnvKey = strings.TrimSpace(d.EnvKey)
	if d.EnvKey == "" {
		return errors.New("env_key is required")
	}

	if len(d.Channels) == 0 && len(d.RSS) == 0 {
		return errors.New("destination has neither channels nor rss feeds")
	}

	for i := range d.Channels {
		rule := &d.Channels[i]
		rule.ID = strings.TrimSpace(rule.ID)
		if rule.ID == "" {
			return fmt.Errorf("channels[%d]: id is required", i)
		}
		rule.Parser = normalizeParser(rule.Parser, fmt.Sprintf("%s/channels[%s]", d.Name, rule.ID))
		if err := checkParserShape(rule.Parser); err != nil {
			return fmt.Errorf("channels[%s]: %w", rule.ID, err)
		}
	}

	for i := range d.RSS {
		rule := &d.RSS[i]
		rule.URL = strings.TrimSpace(rule.URL)
		if rule.URL == "" {
			return fmt.Errorf("rss[%d]: url is required", i)
		}
		rule.Name = strings.TrimSpace(rule.Name)
		if rule.Name == "" {
			rule.Name = rule.URL
		}
		rule.Parser = normalizeParser(rule.Parser, fmt.Sprintf("%s/rss[%s]", d.Name, rule.Name))
		if err := checkParserShape(rule.Parser); err != nil {
			return fmt.Errorf("rss[%s]: %w", rule.Name, err)
		}
	}
	return nil
}

// normalizeParser drops parser specs with negative fields (warn, text passes
// through unchanged) and collapses the all-nil spec to nil.
func normalizeParser(p *ParserSpec, where string) *ParserSpec {
	if p == nil {
		return nil
	}
	if p.TrimFront == nil && p.TrimBack == nil && p.KeepFirst == nil {
		return nil
	}

	if (p.TrimFront != nil && *p.TrimFront < 0) ||
		(p.TrimBack != nil && *p.TrimBack < 0) ||
		(p.KeepFirst != nil && *p.KeepFirst < 0) {
		logs.Warn("[config] %s: parser has negative values; text will pass through unchanged", where)
		return nil
	}
	return p
}

// checkParserShape enforces mutual exclusion of the trim and keep shapes.
// Mixing them is a load-time error, never a routing-time surprise.
func checkParserShape(p *ParserSpec) error {
	if p == nil {
		return nil
	}
	hasTrim := p.TrimFront != nil || p.TrimBack != nil
	hasKeep := p.KeepFirst != nil
	if hasTrim && hasKeep {
		return errors.New("parser cannot combine trim_front/trim_back with keep_first")
	}
	if hasKeep && *p.KeepFirst == 0 {
		return errors.New("parser keep_first must be greater than 0")
	}
	return nil
}
