// internal/analyzer/index.go
package analyzer

import "github.com/signalnine/haruspex/internal/protocol"

// DomainIndex groups a batch of new queries by domain. Domains holds the
// keys in first-seen order; every context list is non-empty and ordered by
// first appearance within the batch.
type DomainIndex struct {
	Domains  []string
	Contexts map[string][]protocol.QueryContext
	Latest   float64 // latest timestamp among the indexed queries
}

// SplitByWatermark returns the queries newer than the watermark, plus the
// latest timestamp over the WHOLE batch. The latter is what the watermark
// advances to when nothing is new, so the same window isn't rescanned.
func SplitByWatermark(queries []protocol.Query, watermark float64) (fresh []protocol.Query, latestSeen float64) {
	for _, q := range queries {
		if q.Timestamp > latestSeen {
			latestSeen = q.Timestamp
		}
		if q.Timestamp > watermark {
			fresh = append(fresh, q)
		}
	}
	return fresh, latestSeen
}

// BuildDomainIndex builds the domain -> query context mapping for a batch.
func BuildDomainIndex(fresh []protocol.Query) *DomainIndex {
	idx := &DomainIndex{
		Contexts: make(map[string][]protocol.QueryContext),
	}

	for _, q := range fresh {
		if _, seen := idx.Contexts[q.Domain]; !seen {
			idx.Domains = append(idx.Domains, q.Domain)
		}
		idx.Contexts[q.Domain] = append(idx.Contexts[q.Domain], protocol.QueryContext{
			Timestamp: q.Timestamp,
			ClientIP:  q.ClientIP,
		})
		if q.Timestamp > idx.Latest {
			idx.Latest = q.Timestamp
		}
	}

	return idx
}
