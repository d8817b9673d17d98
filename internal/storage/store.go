// internal/storage/store.go
package storage

import (
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/signalnine/haruspex/internal/protocol"
)

// schema is idempotent; Open runs it on every start. REAL timestamps keep
// the fractional seconds the appliance reports. The CHECK constraint is the
// closed source enum.
const schema = `
CREATE TABLE IF NOT EXISTS findings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	query_timestamp REAL NOT NULL,
	detection_timestamp REAL NOT NULL,
	client_ip TEXT,
	domain TEXT NOT NULL,
	category TEXT NOT NULL,
	reason TEXT,
	source TEXT NOT NULL CHECK(source IN ('AI', 'SafeBrowsing'))
);
CREATE INDEX IF NOT EXISTS idx_findings_domain ON findings(domain);
CREATE INDEX IF NOT EXISTS idx_findings_detection ON findings(detection_timestamp);
CREATE INDEX IF NOT EXISTS idx_findings_category ON findings(category);
`

// Store wraps the SQLite findings ledger. Findings are append-only: written
// once, never mutated or deleted.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Open opens or creates the findings database.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, err
	}

	// WAL plus a busy timeout so a concurrent reader holding the file only
	// delays a write instead of failing it outright
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout=10000"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveFinding appends one finding to the ledger. The error covers both
// validation and the write itself; a failed save simply leaves the finding
// uncommitted.
func (s *Store) SaveFinding(f *protocol.Finding) error {
	if f.Domain == "" || f.Category == "" || f.QueryTimestamp == 0 {
		return errors.New("finding is missing domain, category or query timestamp")
	}
	if f.Source != protocol.SourceAI && f.Source != protocol.SourceSafeBrowsing {
		return fmt.Errorf("invalid finding source %q", f.Source)
	}

	_, err := s.db.NamedExec(`
		INSERT INTO findings (
			query_timestamp, detection_timestamp, client_ip, domain,
			category, reason, source
		) VALUES (
			:query_timestamp, :detection_timestamp, :client_ip, :domain,
			:category, :reason, :source
		)
	`, f)
	return err
}

// RecentFindings returns the latest findings by detection time.
func (s *Store) RecentFindings(limit int) ([]protocol.Finding, error) {
	var findings []protocol.Finding
	err := s.db.Select(&findings, `
		SELECT id, query_timestamp, detection_timestamp, client_ip, domain,
		       category, reason, source
		FROM findings
		ORDER BY detection_timestamp DESC
		LIMIT ?
	`, limit)
	return findings, err
}

// FindingsByDomain returns the ledger entries for one domain.
func (s *Store) FindingsByDomain(domain string, limit int) ([]protocol.Finding, error) {
	var findings []protocol.Finding
	err := s.db.Select(&findings, `
		SELECT id, query_timestamp, detection_timestamp, client_ip, domain,
		       category, reason, source
		FROM findings
		WHERE domain = ?
		ORDER BY detection_timestamp DESC
		LIMIT ?
	`, domain, limit)
	return findings, err
}

// CountByCategory returns how many findings carry each rendered category
// string.
func (s *Store) CountByCategory() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT category, COUNT(*) FROM findings GROUP BY category`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var category string
		var count int
		if err := rows.Scan(&category, &count); err != nil {
			return nil, err
		}
		counts[category] = count
	}
	return counts, rows.Err()
}
