// Package routing decides, per envelope, which destinations receive it.
// The route table is derived from the config document once at startup and
// immutable afterwards.
package routing

import (
	"github.com/bytedance/gg/gmap"

	"github.com/watchtower-cti/watchtower/internal/config"
	"github.com/watchtower-cti/watchtower/internal/envelope"
)

// Rule is a fully-defaulted routing rule bound to one destination. Feed rules
// leave the chat-only flags at their zero values.
type Rule struct {
	Destination string
	Keywords    []string // empty means match-all
	Parser      *config.ParserSpec
	Restricted  bool
	OCR         bool
	ScanAttach  bool
}

// Feed is one deduplicated poller target with its route bindings.
type Feed struct {
	URL   string
	Name  string
	Rules []Rule
}

// Channel is one chat subscription target with its route bindings.
type Channel struct {
	ID    string
	Rules []Rule
}

// Table holds every (source, destination) binding. Feeds sharing a URL are
// collapsed to a single entry carrying all their rules.
type Table struct {
	chats map[string]*Channel // key: configured channel id
	feeds map[string]*Feed    // key: feed URL
}

// BuildTable derives the immutable route table from a loaded config.
func BuildTable(cfg *config.Config) *Table {
	t := &Table{
		chats: make(map[string]*Channel),
		feeds: make(map[string]*Feed),
	}

	for _, dst := range cfg.Destinations {
		for _, cr := range dst.Channels {
			ch, ok := t.chats[cr.ID]
			if !ok {
				ch = &Channel{ID: cr.ID}
				t.chats[cr.ID] = ch
			}
			ch.Rules = append(ch.Rules, Rule{
				Destination: dst.Name,
				Keywords:    cr.Resolved,
				Parser:      cr.Parser,
				Restricted:  cr.RestrictedMode,
				OCR:         cr.OCR,
				ScanAttach:  cr.ScanAttachments(),
			})
		}

		for _, fr := range dst.RSS {
			feed, ok := t.feeds[fr.URL]
			if !ok {
				feed = &Feed{URL: fr.URL, Name: fr.Name}
				t.feeds[fr.URL] = feed
			}
			feed.Rules = append(feed.Rules, Rule{
				Destination: dst.Name,
				Keywords:    fr.Resolved,
				Parser:      fr.Parser,
			})
		}
	}
	return t
}

// Channels returns every configured chat subscription.
func (t *Table) Channels() []*Channel {
	return gmap.ToSlice(t.chats, func(k string, v *Channel) *Channel { return v })
}

// Feeds returns one entry per unique feed URL.
func (t *Table) Feeds() []*Feed {
	return gmap.ToSlice(t.feeds, func(k string, v *Feed) *Feed { return v })
}

// lookup finds the rule set for an envelope's channel id. Chat ids compare
// exactly or numerically with the supergroup "-100" prefix stripped from
// either side; feed ids are the URL.
func (t *Table) lookup(source envelope.SourceKind, channelID string) []Rule {
	if source == envelope.SourceRSS {
		if feed, ok := t.feeds[channelID]; ok {
			return feed.Rules
		}
		return nil
	}

	if ch, ok := t.chats[channelID]; ok {
		return ch.Rules
	}
	for id, ch := range t.chats {
		if channelEqual(id, channelID) {
			return ch.Rules
		}
	}
	return nil
}

func channelEqual(a, b string) bool {
	if a == b {
		return true
	}
	na, aok := numericID(a)
	nb, bok := numericID(b)
	return aok && bok && na == nb
}

// numericID strips a leading "-100" and reports whether the rest is a bare
// positive integer id.
func numericID(s string) (string, bool) {
	if len(s) > 4 && s[:4] == "-100" {
		s = s[4:]
	}
	if s == "" {
		return "", false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return s, true
}
