package routing

import (
	"strings"

	"github.com/watchtower-cti/watchtower/internal/envelope"
	"github.com/watchtower-cti/watchtower/internal/pkg/logs"
	"github.com/watchtower-cti/watchtower/internal/textproc"
)

// Decision is one selected destination with the rule that selected it and
// the keywords that actually matched (empty for match-all rules).
type Decision struct {
	Rule    Rule
	Matched []string
}

// Router evaluates envelopes against the route table.
type Router struct {
	table *Table
}

func NewRouter(table *Table) *Router {
	return &Router{table: table}
}

// Route returns the destinations an envelope should be delivered to.
// Search text is the envelope text, plus OCR text for rules that enabled
// ocr, plus attachment text for rules that scan attachments. The attachment
// file is read at most once regardless of how many rules need it.
func (r *Router) Route(env *envelope.Envelope) []Decision {
	rules := r.table.lookup(env.Source, env.ChannelID)
	if len(rules) == 0 {
		return nil
	}

	attachText := r.attachmentTextOnce(env)

	var decisions []Decision
	for _, rule := range rules {
		search := env.Text
		if rule.OCR && env.OCRText != "" {
			search += "\n" + env.OCRText
		}
		if rule.ScanAttach && len(rule.Keywords) > 0 {
			if extra := attachText(); extra != "" {
				search += "\n" + extra
			}
		}

		matched, ok := matchKeywords(search, rule.Keywords)
		if !ok {
			continue
		}
		decisions = append(decisions, Decision{Rule: rule, Matched: matched})
	}
	return decisions
}

// attachmentTextOnce returns a memoized reader for the envelope's document
// attachment. Non-document media, missing metadata or unsafe types yield "".
func (r *Router) attachmentTextOnce(env *envelope.Envelope) func() string {
	done := false
	cached := ""
	return func() string {
		if done {
			return cached
		}
		done = true

		if env.MediaKind != envelope.MediaDocument || env.MediaPath == "" {
			return ""
		}
		name := env.Meta(envelope.MetaAttachmentName)
		mime := env.Meta(envelope.MetaAttachmentMime)
		text, ok := textproc.ReadAttachmentText(env.MediaPath, name, mime)
		if ok {
			logs.Debug("[router] scanned attachment %s (%d bytes of text)", name, len(text))
			cached = text
		}
		return cached
	}
}

// matchKeywords reports whether search text passes the keyword list and
// which keywords hit. An empty list passes everything.
func matchKeywords(search string, keywords []string) ([]string, bool) {
	if len(keywords) == 0 {
		return nil, true
	}

	lower := strings.ToLower(search)
	var matched []string
	seen := make(map[string]struct{}, 4)
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			if _, dup := seen[kw]; dup {
				continue
			}
			seen[kw] = struct{}{}
			matched = append(matched, kw)
		}
	}
	return matched, len(matched) > 0
}

// NeedsOCR reports whether any rule for the channel enables OCR.
func (r *Router) NeedsOCR(channelID string) bool {
	for _, rule := range r.table.lookup(envelope.SourceTelegram, channelID) {
		if rule.OCR {
			return true
		}
	}
	return false
}

// NeedsAttachmentScan reports whether any rule for the channel scans
// document attachments for keywords.
func (r *Router) NeedsAttachmentScan(channelID string) bool {
	for _, rule := range r.table.lookup(envelope.SourceTelegram, channelID) {
		if rule.ScanAttach {
			return true
		}
	}
	return false
}

// IsRestricted reports whether any rule for the channel is restricted-mode.
func (r *Router) IsRestricted(channelID string) bool {
	for _, rule := range r.table.lookup(envelope.SourceTelegram, channelID) {
		if rule.Restricted {
			return true
		}
	}
	return false
}
