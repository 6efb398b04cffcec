// Package discover enumerates the chats the session can see and compares
// them against the routing document. It is an operator tool: the output
// feeds config authoring, not the pipeline.
package discover

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"go.uber.org/ratelimit"

	"github.com/watchtower-cti/watchtower/internal/config"
	"github.com/watchtower-cti/watchtower/internal/telegramapi"
)

// Discoverer paces its API use at 1 request/second; discovery is the one
// place we hammer entity resolution and flood waits here are pure waste.
type Discoverer struct {
	api telegramapi.API
	rl  ratelimit.Limiter
}

func New(api telegramapi.API) *Discoverer {
	return &Discoverer{
		api: api,
		rl:  ratelimit.New(1),
	}
}

// List returns every accessible dialog, sorted by title.
func (d *Discoverer) List(ctx context.Context) ([]*telegramapi.Chat, error) {
	d.rl.Take()
	dialogs, err := d.api.Dialogs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list dialogs: %w", err)
	}
	sort.Slice(dialogs, func(i, j int) bool { return dialogs[i].Title < dialogs[j].Title })
	return dialogs, nil
}

// Report is the outcome of diffing dialogs against the config.
type Report struct {
	// Unconfigured are accessible chats no destination subscribes to.
	Unconfigured []*telegramapi.Chat
	// Inaccessible are configured channel ids the session cannot see.
	Inaccessible []string
}

// Diff compares the accessible dialogs with the channels the config
// subscribes to.
func (d *Discoverer) Diff(ctx context.Context, cfg *config.Config) (*Report, error) {
	dialogs, err := d.List(ctx)
	if err != nil {
		return nil, err
	}

	configured := configuredChannelIDs(cfg)
	report := &Report{}

	matched := make(map[string]bool, len(configured))
	for _, chat := range dialogs {
		hit := false
		for _, id := range configured {
			if chatMatches(chat, id) {
				matched[id] = true
				hit = true
			}
		}
		if !hit {
			report.Unconfigured = append(report.Unconfigured, chat)
		}
	}
	for _, id := range configured {
		if !matched[id] {
			report.Inaccessible = append(report.Inaccessible, id)
		}
	}
	sort.Strings(report.Inaccessible)
	return report, nil
}

// Generate writes a config skeleton subscribing one webhook destination to
// every accessible dialog. The operator trims it down from there.
func (d *Discoverer) Generate(ctx context.Context, path string) error {
	dialogs, err := d.List(ctx)
	if err != nil {
		return err
	}

	channels := make([]config.ChannelRule, 0, len(dialogs))
	for _, chat := range dialogs {
		id := "-100" + strconv.FormatInt(chat.ID, 10)
		if chat.Username != "" {
			id = "@" + chat.Username
		}
		channels = append(channels, config.ChannelRule{ID: id})
	}

	skeleton := config.Config{
		Polling: config.PollingConfig{Feeds: "5m", GapRecovery: "5m", Metrics: "1m"},
		Destinations: []config.DestinationConfig{{
			Name:     "example",
			Type:     config.DestinationWebhook,
			EnvKey:   "DISCORD_WEBHOOK_URL",
			Channels: channels,
		}},
	}

	raw, err := sonic.ConfigDefault.MarshalIndent(skeleton, "", "  ")
	if err != nil {
		return fmt.Errorf("encode skeleton: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write skeleton: %w", err)
	}
	return nil
}

func configuredChannelIDs(cfg *config.Config) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, dst := range cfg.Destinations {
		for _, ch := range dst.Channels {
			if !seen[ch.ID] {
				seen[ch.ID] = true
				ids = append(ids, ch.ID)
			}
		}
	}
	return ids
}

// chatMatches reports whether a configured id refers to chat, by @handle
// (case-insensitive) or by numeric id with the supergroup "-100" prefix
// stripped.
func chatMatches(chat *telegramapi.Chat, configuredID string) bool {
	if handle, ok := strings.CutPrefix(configuredID, "@"); ok {
		return chat.Username != "" && strings.EqualFold(chat.Username, handle)
	}
	id := strings.TrimPrefix(configuredID, "-100")
	return id == strconv.FormatInt(chat.ID, 10)
}
