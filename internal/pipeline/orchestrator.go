package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"github.com/watchtower-cti/watchtower/internal/destination"
	"github.com/watchtower-cti/watchtower/internal/envelope"
	"github.com/watchtower-cti/watchtower/internal/ocr"
	"github.com/watchtower-cti/watchtower/internal/pkg/logs"
	"github.com/watchtower-cti/watchtower/internal/routing"
	"github.com/watchtower-cti/watchtower/internal/textproc"
)

// Orchestrator runs the per-envelope state machine: preprocess, route,
// apply media policy, deliver per destination, clean up. It owns the
// downloaded media file for the whole envelope lifetime.
type Orchestrator struct {
	router  *routing.Router
	dests   map[string]destination.Destination
	retry   *RetryQueue
	metrics *Metrics
	engine  ocr.Engine

	// attachDir receives downloaded media; purged at startup.
	attachDir string
}

func NewOrchestrator(
	router *routing.Router,
	dests map[string]destination.Destination,
	retry *RetryQueue,
	metrics *Metrics,
	engine ocr.Engine,
	attachDir string,
) *Orchestrator {
	return &Orchestrator{
		router:    router,
		dests:     dests,
		retry:     retry,
		metrics:   metrics,
		engine:    engine,
		attachDir: attachDir,
	}
}

// PurgeAttachments clears straggler media left by a previous crash.
func (o *Orchestrator) PurgeAttachments() {
	entries, err := os.ReadDir(o.attachDir)
	if err != nil {
		if !os.IsNotExist(err) {
			logs.Warn("[pipeline] purge attachments: %v", err)
		}
		return
	}
	for _, entry := range entries {
		path := filepath.Join(o.attachDir, entry.Name())
		if err := os.Remove(path); err != nil {
			logs.Warn("[pipeline] purge %s: %v", path, err)
		}
	}
	if len(entries) > 0 {
		logs.Info("[pipeline] purged %d straggler attachment(s)", len(entries))
	}
}

// Handle processes one envelope end to end and reports whether at least one
// destination accepted it. It never returns an error: partial failures are
// logged, counted and (where transient) queued for retry.
func (o *Orchestrator) Handle(ctx context.Context, env *envelope.Envelope) bool {
	ctx = logs.SetLogID(ctx, logs.NewLogID())
	defer o.cleanup(env)

	if env.Source == envelope.SourceTelegram {
		o.metrics.Inc(MetricReceivedTelegram)
	} else {
		o.metrics.Inc(MetricReceivedRSS)
	}

	o.preprocess(ctx, env)

	decisions := o.router.Route(env)
	if len(decisions) == 0 {
		o.metrics.Inc(MetricNoDestination)
		logs.CtxDebug(ctx, "[pipeline] %s/%s: no destination", env.Source, env.ChannelID)
		return false
	}

	mediaSafe := o.mediaPolicySafe(env, decisions)
	o.ensureMedia(ctx, env, decisions, mediaSafe)

	succeeded := 0
	for _, decision := range decisions {
		dest, ok := o.dests[decision.Rule.Destination]
		if !ok {
			logs.CtxWarn(ctx, "[pipeline] destination %s not configured; skipping", decision.Rule.Destination)
			continue
		}

		note := destination.NoteNone
		mediaPath := env.MediaPath
		if env.HasMedia {
			switch {
			case decision.Rule.Restricted && !mediaSafe:
				mediaPath = ""
				note = destination.NoteFiltered
			case env.MediaPath == "":
				note = destination.NoteUndeliverable
			}
		}

		parsed := routing.ApplyParser(env, decision.Rule.Parser)
		body := dest.Format(parsed, decision.Matched, note)

		outcome := dest.Send(ctx, body, mediaPath)
		if outcome.Status == destination.StatusOK {
			succeeded++
			bumpSentMetric(o.metrics, dest)
			logs.CtxInfo(ctx, "[pipeline] delivered %s/%s to %s", env.Source, env.ChannelID, dest.Name())
			continue
		}
		o.retry.Enqueue(dest, body, mediaPath, outcome.Status.String())
	}

	if succeeded > 0 {
		o.metrics.Inc(MetricRoutedSuccess)
	} else {
		o.metrics.Inc(MetricRoutedFailed)
	}
	return succeeded > 0
}

// preprocess computes the defanged source URL and OCR text. Failures leave
// the envelope partially enriched and never block routing.
func (o *Orchestrator) preprocess(ctx context.Context, env *envelope.Envelope) {
	if env.Source != envelope.SourceTelegram {
		return
	}

	if env.MessageID != 0 {
		url := textproc.MessageURL(env.ChannelID, env.MessageID)
		env.SetMeta(envelope.MetaSourceURL, textproc.Defang(url))
	}

	needsOCR := env.HasMedia && env.MediaKind == envelope.MediaImage && o.router.NeedsOCR(env.ChannelID)
	needsScan := env.HasMedia && env.MediaKind == envelope.MediaDocument && o.router.NeedsAttachmentScan(env.ChannelID)
	if !needsOCR && !needsScan {
		return
	}

	o.download(ctx, env)
	if env.MediaPath == "" {
		return
	}

	if needsOCR && o.engine.Available() {
		text, err := o.engine.Extract(ctx, env.MediaPath)
		if err != nil {
			logs.CtxWarn(ctx, "[pipeline] ocr %s: %v", env.MediaPath, err)
			return
		}
		o.metrics.Inc(MetricOCRProcessed)
		env.OCRText = text
	}
}

// mediaPolicySafe evaluates the restricted-mode classifier once per
// envelope: only allow-listed documents survive; images, videos and
// anything else are unconditionally dropped for restricted destinations.
func (o *Orchestrator) mediaPolicySafe(env *envelope.Envelope, decisions []routing.Decision) bool {
	if !env.HasMedia {
		return true
	}

	anyRestricted := false
	for _, d := range decisions {
		if d.Rule.Restricted {
			anyRestricted = true
			break
		}
	}
	if !anyRestricted {
		return true
	}

	if env.MediaKind != envelope.MediaDocument {
		return false
	}
	return textproc.IsSafeAttachment(
		env.Meta(envelope.MetaAttachmentName),
		env.Meta(envelope.MetaAttachmentMime),
	)
}

// ensureMedia downloads the file when any selected destination will
// actually forward it.
func (o *Orchestrator) ensureMedia(ctx context.Context, env *envelope.Envelope, decisions []routing.Decision, mediaSafe bool) {
	if !env.HasMedia || env.MediaPath != "" {
		return
	}
	for _, d := range decisions {
		if !d.Rule.Restricted || mediaSafe {
			o.download(ctx, env)
			return
		}
	}
}

// download populates env.MediaPath at most once.
func (o *Orchestrator) download(ctx context.Context, env *envelope.Envelope) {
	if env.MediaPath != "" || env.Media == nil {
		return
	}
	if err := os.MkdirAll(o.attachDir, 0o755); err != nil {
		logs.CtxWarn(ctx, "[pipeline] create attachment dir: %v", err)
		return
	}
	path, err := env.Media.Fetch(ctx, o.attachDir)
	if err != nil {
		logs.CtxWarn(ctx, "[pipeline] download media for %s/%d: %v", env.ChannelID, env.MessageID, err)
		return
	}
	env.MediaPath = path
}

// cleanup deletes the envelope's downloaded media. Errors are swallowed.
func (o *Orchestrator) cleanup(env *envelope.Envelope) {
	if env.MediaPath == "" {
		return
	}
	if err := os.Remove(env.MediaPath); err != nil && !os.IsNotExist(err) {
		logs.Warn("[pipeline] cleanup %s: %v", env.MediaPath, err)
	}
}
