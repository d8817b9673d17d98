// internal/analyzer/reconcile.go
package analyzer

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/signalnine/haruspex/internal/protocol"
)

// FindingStore is the persistence contract the reconciler needs. A failed
// save leaves the finding uncommitted; the reconciler moves on.
type FindingStore interface {
	SaveFinding(f *protocol.Finding) error
}

// Reconciler joins classifier output back onto the domain index and drives
// the storage side effects.
type Reconciler struct {
	store     FindingStore
	alertSet  map[string]bool
	separator string
	logger    *zap.Logger
}

// NewReconciler creates a reconciler. alertCategories is the set of labels
// that make a finding notification-worthy; separator joins labels into the
// stored category string.
func NewReconciler(store FindingStore, alertCategories []string, separator string, logger *zap.Logger) *Reconciler {
	alertSet := make(map[string]bool, len(alertCategories))
	for _, cat := range alertCategories {
		alertSet[cat] = true
	}
	return &Reconciler{
		store:     store,
		alertSet:  alertSet,
		separator: separator,
		logger:    logger,
	}
}

// ReconcileStats summarizes one reconciliation pass.
type ReconcileStats struct {
	Stored     int // findings committed to the ledger
	Unmatched  int // indexed domains the classifier said nothing about
	Candidates []protocol.NotificationCandidate
}

// Reconcile walks the index in first-seen order and, for every domain the
// classifier answered for, stores at most one representative finding.
// Rules:
//   - results for domains not in the index are ignored (the classifier is
//     untrusted and may invent entries)
//   - an empty category set means benign: no finding at all
//   - the representative context is the earliest-inserted (timestamp, client)
//   - only a confirmed save can produce a notification candidate
func (r *Reconciler) Reconcile(idx *DomainIndex, results []protocol.ClassificationResult) ReconcileStats {
	byDomain := make(map[string]protocol.ClassificationResult, len(results))
	for _, res := range results {
		if res.Domain == "" {
			continue
		}
		byDomain[res.Domain] = res
	}

	var stats ReconcileStats
	processed := make(map[string]bool)

	for _, domain := range idx.Domains {
		res, ok := byDomain[domain]
		if !ok {
			// Dropped by the classifier or classifier failed entirely.
			// Eligible again only if the domain reappears in a later batch.
			stats.Unmatched++
			continue
		}
		if processed[domain] {
			continue
		}
		if len(res.Categories) == 0 {
			continue
		}

		first := idx.Contexts[domain][0]
		finding := protocol.Finding{
			QueryTimestamp:     first.Timestamp,
			DetectionTimestamp: float64(time.Now().UnixNano()) / 1e9,
			ClientIP:           nullable(first.ClientIP),
			Domain:             domain,
			Category:           strings.Join(res.Categories, r.separator),
			Reason:             nullable(res.Reason),
			Source:             protocol.SourceAI,
		}

		if err := r.store.SaveFinding(&finding); err != nil {
			r.logger.Error("failed to store finding",
				zap.String("domain", domain),
				zap.String("category", finding.Category),
				zap.Error(err))
			continue
		}
		stats.Stored++
		processed[domain] = true

		if r.alertWorthy(res.Categories) {
			stats.Candidates = append(stats.Candidates, protocol.NotificationCandidate{
				Finding: finding,
				Alert:   true,
			})
		}
	}

	return stats
}

func (r *Reconciler) alertWorthy(categories []string) bool {
	for _, cat := range categories {
		if r.alertSet[cat] {
			return true
		}
	}
	return false
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
