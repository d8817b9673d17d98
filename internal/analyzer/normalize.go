// internal/analyzer/normalize.go
package analyzer

import (
	"go.uber.org/zap"

	"github.com/signalnine/haruspex/internal/protocol"
)

// Normalize converts raw appliance records into Queries, preserving input
// order. Records lacking a domain or a timestamp are skipped with a warning
// and counted; a bad record never fails the batch. list_id is kept only for
// blocklist hits.
func Normalize(raw []protocol.RawQueryRecord, logger *zap.Logger) ([]protocol.Query, int) {
	queries := make([]protocol.Query, 0, len(raw))
	skipped := 0

	for _, r := range raw {
		if r.Domain == "" || r.Time == 0 {
			skipped++
			logger.Warn("skipping query record with missing domain or timestamp",
				zap.Int64("id", r.ID),
				zap.String("domain", r.Domain))
			continue
		}

		q := protocol.Query{
			ID:         r.ID,
			Timestamp:  r.Time,
			Type:       r.Type,
			Status:     r.Status,
			Domain:     r.Domain,
			ClientIP:   r.Client.IP,
			ClientName: r.Client.Name,
			Upstream:   r.Upstream,
		}
		if r.Status == protocol.StatusGravity {
			q.ListID = r.ListID
		}
		queries = append(queries, q)
	}

	return queries, skipped
}
