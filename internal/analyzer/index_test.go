// internal/analyzer/index_test.go
package analyzer

import (
	"testing"

	"github.com/signalnine/haruspex/internal/protocol"
)

func query(ts float64, domain, clientIP string) protocol.Query {
	return protocol.Query{Timestamp: ts, Domain: domain, ClientIP: clientIP}
}

func TestSplitByWatermark(t *testing.T) {
	queries := []protocol.Query{
		query(100, "a.com", "10.0.0.1"),
		query(100, "a.com", "10.0.0.2"),
		query(50, "b.com", "10.0.0.3"),
	}

	fresh, latest := SplitByWatermark(queries, 60)
	if len(fresh) != 2 {
		t.Fatalf("fresh = %d, want 2", len(fresh))
	}
	for _, q := range fresh {
		if q.Domain != "a.com" {
			t.Errorf("fresh query domain = %q, want a.com", q.Domain)
		}
	}
	if latest != 100 {
		t.Errorf("latest = %v, want 100 (over the whole batch)", latest)
	}
}

func TestSplitByWatermarkAllOld(t *testing.T) {
	queries := []protocol.Query{
		query(40, "a.com", ""),
		query(50, "b.com", ""),
	}

	fresh, latest := SplitByWatermark(queries, 60)
	if len(fresh) != 0 {
		t.Errorf("fresh = %d, want 0", len(fresh))
	}
	if latest != 50 {
		t.Errorf("latest = %v, want 50", latest)
	}
}

func TestBuildDomainIndexDedup(t *testing.T) {
	// N=5 queries over D=3 domains: D keys, union of contexts = N
	queries := []protocol.Query{
		query(101, "a.com", "10.0.0.1"),
		query(102, "b.com", "10.0.0.2"),
		query(103, "a.com", "10.0.0.3"),
		query(104, "c.com", "10.0.0.1"),
		query(105, "b.com", "10.0.0.4"),
	}

	idx := BuildDomainIndex(queries)
	if len(idx.Domains) != 3 {
		t.Fatalf("Domains = %d, want 3", len(idx.Domains))
	}

	// First-seen order
	for i, want := range []string{"a.com", "b.com", "c.com"} {
		if idx.Domains[i] != want {
			t.Errorf("Domains[%d] = %q, want %q", i, idx.Domains[i], want)
		}
	}

	total := 0
	for _, domain := range idx.Domains {
		contexts := idx.Contexts[domain]
		if len(contexts) == 0 {
			t.Errorf("empty context list for %q", domain)
		}
		total += len(contexts)
	}
	if total != len(queries) {
		t.Errorf("context union = %d, want %d", total, len(queries))
	}

	// Insertion order within a domain
	a := idx.Contexts["a.com"]
	if a[0].Timestamp != 101 || a[1].Timestamp != 103 {
		t.Errorf("a.com contexts out of order: %+v", a)
	}

	if idx.Latest != 105 {
		t.Errorf("Latest = %v, want 105", idx.Latest)
	}
}
