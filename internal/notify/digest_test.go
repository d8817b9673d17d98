// internal/notify/digest_test.go
package notify

import (
	"strings"
	"testing"
	"time"

	"github.com/signalnine/haruspex/internal/protocol"
)

func strptr(s string) *string { return &s }

func TestRenderDigest(t *testing.T) {
	candidates := []protocol.NotificationCandidate{
		{
			Finding: protocol.Finding{
				QueryTimestamp: 1756400100,
				ClientIP:       strptr("192.168.1.10"),
				Domain:         "casino.bet",
				Category:       "Gambling",
				Reason:         strptr("Likely online gambling site."),
				Source:         protocol.SourceAI,
			},
			Alert: true,
		},
		{
			Finding: protocol.Finding{
				QueryTimestamp: 1756400200,
				Domain:         "phish.example",
				Category:       "Malicious",
				Source:         protocol.SourceAI,
			},
			Alert: true,
		},
	}

	subject, body := RenderDigest(candidates)

	if subject != "2 Noteworthy DNS Queries Detected" {
		t.Errorf("subject = %q", subject)
	}

	wantTime := time.Unix(1756400100, 0).Format("2006-01-02 15:04:05")
	for _, want := range []string{
		wantTime,
		"Client: 192.168.1.10",
		"Domain: casino.bet",
		"Category: Gambling",
		"Source: AI",
		"Reason: Likely online gambling site.",
		// Nullable fields render placeholders
		"Client: Unknown",
		"Reason: N/A",
		"Domain: phish.example",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
}

func TestRenderDigestSingular(t *testing.T) {
	subject, _ := RenderDigest([]protocol.NotificationCandidate{
		{Finding: protocol.Finding{QueryTimestamp: 100, Domain: "a.com", Category: "Malicious", Source: protocol.SourceAI}},
	})
	if subject != "1 Noteworthy DNS Queries Detected" {
		t.Errorf("subject = %q", subject)
	}
}
