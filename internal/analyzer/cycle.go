// internal/analyzer/cycle.go
package analyzer

import (
	"context"

	"go.uber.org/zap"

	"github.com/signalnine/haruspex/internal/classifier"
	"github.com/signalnine/haruspex/internal/notify"
	"github.com/signalnine/haruspex/internal/protocol"
)

// State is where a cycle is, or where it ended.
type State string

const (
	StateInit              State = "init"
	StateAuthenticated     State = "authenticated"
	StateFetched           State = "fetched"
	StateFiltered          State = "filtered"
	StateNoNewWork         State = "no_new_work"
	StateClassified        State = "classified"
	StateReconciled        State = "reconciled"
	StateNotified          State = "notified"
	StateWatermarkAdvanced State = "watermark_advanced"
	StateDone              State = "done"
	StateAborted           State = "aborted"
)

// LogSource is the DNS-log appliance: session login, a bounded recent query
// window, best-effort logout.
type LogSource interface {
	Login(ctx context.Context) (string, error)
	FetchRecent(ctx context.Context, sid string) ([]protocol.RawQueryRecord, error)
	Logout(ctx context.Context, sid string)
}

// Classifier turns a batch of queries into per-domain category findings.
type Classifier interface {
	Classify(ctx context.Context, queries []protocol.Query) ([]protocol.ClassificationResult, error)
}

// Notifier delivers a rendered digest, or fails.
type Notifier interface {
	Send(ctx context.Context, subject, body string) error
}

// WatermarkStore persists the last-processed timestamp across cycles.
type WatermarkStore interface {
	Load() (float64, error)
	Save(ts float64) error
}

// CycleReport is what one cycle did, for logs and tests.
type CycleReport struct {
	State         State
	Fetched       int
	Skipped       int // records dropped at normalization
	New           int // queries above the watermark
	UniqueDomains int
	Unclassified  int // indexed domains the classifier said nothing about
	Stored        int
	Alerts        int
	Notified      bool
	Watermark     float64 // value after the cycle
}

// Controller runs the analysis cycle: fetch, filter by watermark, dedupe,
// classify, reconcile, notify, advance the watermark. Only authentication
// and fetch failures abort; every later failure is isolated so the rest of
// the batch still lands and the watermark still moves.
type Controller struct {
	source     LogSource
	classifier Classifier
	notifier   Notifier
	watermark  WatermarkStore
	reconciler *Reconciler
	logger     *zap.Logger
}

// NewController wires a cycle controller.
func NewController(source LogSource, cls Classifier, store FindingStore, notifier Notifier,
	watermark WatermarkStore, alertCategories []string, separator string, logger *zap.Logger) *Controller {
	return &Controller{
		source:     source,
		classifier: cls,
		notifier:   notifier,
		watermark:  watermark,
		reconciler: NewReconciler(store, alertCategories, separator, logger),
		logger:     logger,
	}
}

// RunCycle performs one full cycle. The report's State is the terminal
// state; StateAborted means auth or fetch failed and nothing was touched.
func (c *Controller) RunCycle(ctx context.Context) *CycleReport {
	report := &CycleReport{State: StateInit}
	c.logger.Info("starting analysis cycle")

	watermark, err := c.watermark.Load()
	if err != nil {
		// Unreadable state is recoverable: worst case we reprocess a window
		c.logger.Warn("failed to read watermark, starting from epoch", zap.Error(err))
		watermark = 0
	}
	report.Watermark = watermark

	sid, err := c.source.Login(ctx)
	if err != nil {
		c.logger.Error("log source authentication failed", zap.Error(err))
		report.State = StateAborted
		return report
	}
	report.State = StateAuthenticated
	defer c.source.Logout(ctx, sid)

	raw, err := c.source.FetchRecent(ctx, sid)
	if err != nil {
		c.logger.Error("failed to fetch queries", zap.Error(err))
		report.State = StateAborted
		return report
	}
	report.State = StateFetched
	report.Fetched = len(raw)

	if len(raw) == 0 {
		// Valid terminal path: nothing observed, nothing to advance past
		c.logger.Info("no recent queries returned")
		report.State = StateDone
		return report
	}

	queries, skipped := Normalize(raw, c.logger)
	report.Skipped = skipped

	fresh, latestSeen := SplitByWatermark(queries, watermark)
	report.State = StateFiltered
	report.New = len(fresh)

	if len(fresh) == 0 {
		report.State = StateNoNewWork
		// Pull the watermark forward to the latest timestamp actually
		// observed so a future cycle doesn't rescan the same window. Never
		// backwards: the stored value is max(watermark, latest seen).
		next := watermark
		if latestSeen > next {
			next = latestSeen
		}
		if err := c.watermark.Save(next); err != nil {
			c.logger.Error("failed to save watermark", zap.Error(err))
		} else {
			report.Watermark = next
		}
		c.logger.Info("no new queries since last check",
			zap.Float64("watermark", report.Watermark))
		report.State = StateDone
		return report
	}

	idx := BuildDomainIndex(fresh)
	report.UniqueDomains = len(idx.Domains)
	c.logger.Info("processing new queries",
		zap.Int("new_queries", len(fresh)),
		zap.Int("unique_domains", len(idx.Domains)),
		zap.Int("skipped_records", skipped))

	results, err := c.classifier.Classify(ctx, fresh)
	if err != nil {
		// Zero findings this cycle; the queries were still legitimately
		// observed, so the watermark advance below is unaffected
		switch {
		case classifier.IsUnavailable(err):
			c.logger.Error("classifier unavailable, no findings this cycle", zap.Error(err))
		case classifier.IsMalformed(err):
			c.logger.Error("classifier reply malformed, no findings this cycle", zap.Error(err))
		default:
			c.logger.Error("classifier failed, no findings this cycle", zap.Error(err))
		}
		results = nil
	}
	report.State = StateClassified

	stats := c.reconciler.Reconcile(idx, results)
	report.State = StateReconciled
	report.Stored = stats.Stored
	report.Unclassified = stats.Unmatched
	report.Alerts = len(stats.Candidates)
	if stats.Unmatched > 0 {
		// These domains fell below the watermark unclassified; they come
		// back only if they are queried again
		c.logger.Warn("domains left unclassified this cycle", zap.Int("count", stats.Unmatched))
	}

	if len(stats.Candidates) > 0 {
		subject, body := notify.RenderDigest(stats.Candidates)
		if err := c.notifier.Send(ctx, subject, body); err != nil {
			c.logger.Error("notification delivery failed", zap.Error(err))
		} else {
			report.Notified = true
			c.logger.Info("notification sent", zap.Int("findings", len(stats.Candidates)))
		}
	}
	report.State = StateNotified

	// Advance to the latest timestamp among the new queries considered for
	// classification, whether or not classification succeeded
	if idx.Latest > watermark {
		if err := c.watermark.Save(idx.Latest); err != nil {
			c.logger.Error("failed to save watermark", zap.Error(err))
		} else {
			report.Watermark = idx.Latest
		}
	}
	report.State = StateWatermarkAdvanced

	c.logger.Info("analysis cycle finished",
		zap.Int("stored", report.Stored),
		zap.Int("alerts", report.Alerts),
		zap.Float64("watermark", report.Watermark))
	report.State = StateDone
	return report
}
