// internal/storage/store_test.go
package storage

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/signalnine/haruspex/internal/protocol"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func strptr(s string) *string { return &s }

func TestStoreSaveAndQuery(t *testing.T) {
	store := openTestStore(t)

	f := &protocol.Finding{
		QueryTimestamp:     1756400100.5,
		DetectionTimestamp: 1756400200.25,
		ClientIP:           strptr("192.168.1.10"),
		Domain:             "casino.bet",
		Category:           "Gambling, Suspicious",
		Reason:             strptr("Likely online gambling site."),
		Source:             protocol.SourceAI,
	}
	if err := store.SaveFinding(f); err != nil {
		t.Fatalf("SaveFinding error: %v", err)
	}

	findings, err := store.RecentFindings(10)
	if err != nil {
		t.Fatalf("RecentFindings error: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("findings = %d, want 1", len(findings))
	}

	got := findings[0]
	if got.Domain != "casino.bet" || got.Category != "Gambling, Suspicious" {
		t.Errorf("unexpected finding: %+v", got)
	}
	if got.QueryTimestamp != 1756400100.5 {
		t.Errorf("QueryTimestamp = %v, fractional seconds lost", got.QueryTimestamp)
	}
	if got.ClientIP == nil || *got.ClientIP != "192.168.1.10" {
		t.Errorf("ClientIP = %v", got.ClientIP)
	}
	if got.Reason == nil || *got.Reason != "Likely online gambling site." {
		t.Errorf("Reason = %v", got.Reason)
	}
}

func TestStoreNullableFields(t *testing.T) {
	store := openTestStore(t)

	f := &protocol.Finding{
		QueryTimestamp:     1756400100,
		DetectionTimestamp: 1756400200,
		Domain:             "a.com",
		Category:           "Suspicious",
		Source:             protocol.SourceAI,
	}
	if err := store.SaveFinding(f); err != nil {
		t.Fatalf("SaveFinding error: %v", err)
	}

	findings, err := store.RecentFindings(1)
	if err != nil {
		t.Fatalf("RecentFindings error: %v", err)
	}
	if findings[0].ClientIP != nil || findings[0].Reason != nil {
		t.Errorf("nullable fields not null: %+v", findings[0])
	}
}

func TestStoreRejectsInvalidFindings(t *testing.T) {
	store := openTestStore(t)

	tests := []struct {
		name    string
		finding protocol.Finding
	}{
		{"empty category", protocol.Finding{QueryTimestamp: 1, DetectionTimestamp: 1, Domain: "a.com", Source: protocol.SourceAI}},
		{"empty domain", protocol.Finding{QueryTimestamp: 1, DetectionTimestamp: 1, Category: "Malicious", Source: protocol.SourceAI}},
		{"unknown source", protocol.Finding{QueryTimestamp: 1, DetectionTimestamp: 1, Domain: "a.com", Category: "Malicious", Source: "Oracle"}},
		{"missing query timestamp", protocol.Finding{DetectionTimestamp: 1, Domain: "a.com", Category: "Malicious", Source: protocol.SourceAI}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := store.SaveFinding(&tt.finding); err == nil {
				t.Error("SaveFinding succeeded, want error")
			}
		})
	}

	findings, err := store.RecentFindings(10)
	if err != nil {
		t.Fatalf("RecentFindings error: %v", err)
	}
	if len(findings) != 0 {
		t.Errorf("invalid findings were stored: %+v", findings)
	}
}

func TestStoreFindingsByDomain(t *testing.T) {
	store := openTestStore(t)

	for i, domain := range []string{"a.com", "b.com", "a.com"} {
		f := &protocol.Finding{
			QueryTimestamp:     float64(100 + i),
			DetectionTimestamp: float64(200 + i),
			Domain:             domain,
			Category:           "Suspicious",
			Source:             protocol.SourceAI,
		}
		if err := store.SaveFinding(f); err != nil {
			t.Fatalf("SaveFinding error: %v", err)
		}
	}

	findings, err := store.FindingsByDomain("a.com", 10)
	if err != nil {
		t.Fatalf("FindingsByDomain error: %v", err)
	}
	if len(findings) != 2 {
		t.Errorf("findings for a.com = %d, want 2", len(findings))
	}
}

func TestStoreCountByCategory(t *testing.T) {
	store := openTestStore(t)

	for _, category := range []string{"Malicious", "Malicious", "Gambling"} {
		f := &protocol.Finding{
			QueryTimestamp:     100,
			DetectionTimestamp: 200,
			Domain:             "a.com",
			Category:           category,
			Source:             protocol.SourceAI,
		}
		if err := store.SaveFinding(f); err != nil {
			t.Fatalf("SaveFinding error: %v", err)
		}
	}

	counts, err := store.CountByCategory()
	if err != nil {
		t.Fatalf("CountByCategory error: %v", err)
	}
	if counts["Malicious"] != 2 || counts["Gambling"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestStoreSchemaIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	store, err := Open(path, zap.NewNop())
	if err != nil {
		t.Fatalf("first Open error: %v", err)
	}
	f := &protocol.Finding{
		QueryTimestamp:     100,
		DetectionTimestamp: 200,
		Domain:             "a.com",
		Category:           "Suspicious",
		Source:             protocol.SourceAI,
	}
	if err := store.SaveFinding(f); err != nil {
		t.Fatalf("SaveFinding error: %v", err)
	}
	store.Close()

	// Reopening must not lose the ledger
	store, err = Open(path, zap.NewNop())
	if err != nil {
		t.Fatalf("second Open error: %v", err)
	}
	defer store.Close()

	findings, err := store.RecentFindings(10)
	if err != nil {
		t.Fatalf("RecentFindings error: %v", err)
	}
	if len(findings) != 1 {
		t.Errorf("findings after reopen = %d, want 1", len(findings))
	}
}
