// internal/notify/digest.go
package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/signalnine/haruspex/internal/protocol"
)

// RenderDigest produces the email subject and plain-text body for a cycle's
// notification candidates.
func RenderDigest(candidates []protocol.NotificationCandidate) (subject, body string) {
	subject = fmt.Sprintf("%d Noteworthy DNS Queries Detected", len(candidates))

	lines := []string{"The DNS analyzer detected the following noteworthy queries:\n"}
	for _, cand := range candidates {
		f := cand.Finding
		ts := time.Unix(int64(f.QueryTimestamp), 0).Format("2006-01-02 15:04:05")

		client := "Unknown"
		if f.ClientIP != nil && *f.ClientIP != "" {
			client = *f.ClientIP
		}
		reason := "N/A"
		if f.Reason != nil && *f.Reason != "" {
			reason = *f.Reason
		}

		lines = append(lines, fmt.Sprintf(
			"- Time: %s\n  Client: %s\n  Domain: %s\n  Category: %s\n  Source: %s\n  Reason: %s\n",
			ts, client, f.Domain, f.Category, f.Source, reason))
	}

	return subject, strings.Join(lines, "\n")
}
