// internal/protocol/types.go
package protocol

// StatusGravity is the appliance status for a blocklist hit. Only these
// queries carry a meaningful list_id.
const StatusGravity = "GRAVITY"

// RawQueryRecord is one entry of the appliance's /api/queries payload,
// decoded as-is. Fields the appliance omits decode to zero values; the
// normalizer decides what is usable.
type RawQueryRecord struct {
	ID     int64   `json:"id"`
	Time   float64 `json:"time"`
	Type   string  `json:"type"`
	Status string  `json:"status"`
	Domain string  `json:"domain"`
	Client struct {
		IP   string `json:"ip"`
		Name string `json:"name"`
	} `json:"client"`
	Upstream string `json:"upstream"`
	ListID   *int64 `json:"list_id"`
}

// Query is one normalized DNS lookup event. A Query always has a domain
// and a timestamp; records lacking either never become a Query.
type Query struct {
	ID         int64
	Timestamp  float64 // unix seconds, fractional
	Type       string  // A, AAAA, CNAME, ...
	Status     string  // GRAVITY, FORWARDED, CACHE, ...
	Domain     string
	ClientIP   string
	ClientName string
	Upstream   string
	ListID     *int64 // set only on blocklist hits
}

// QueryContext is the (timestamp, client) pair kept per query when queries
// are grouped by domain.
type QueryContext struct {
	Timestamp float64
	ClientIP  string
}

// Category labels the classifier is instructed to use. The vocabulary is
// extensible; these are the ones the prompt names.
const (
	CategoryMalicious    = "Malicious"
	CategoryAdultContent = "AdultContent"
	CategoryGambling     = "Gambling"
	CategoryDating       = "Dating"
	CategoryIllegal      = "Illegal"
	CategorySuspicious   = "Suspicious"
)

// Finding sources. The findings table enforces this set with a CHECK
// constraint.
const (
	SourceAI           = "AI"
	SourceSafeBrowsing = "SafeBrowsing"
)

// ClassificationResult is the classifier's verdict for one domain. An empty
// Categories slice means the domain is considered benign.
type ClassificationResult struct {
	Domain     string   `json:"domain"`
	Categories []string `json:"categories"`
	Reason     string   `json:"reason"`
}

// Finding is one row of the append-only findings ledger.
type Finding struct {
	ID                 int64   `db:"id"`
	QueryTimestamp     float64 `db:"query_timestamp"` // representative originating query
	DetectionTimestamp float64 `db:"detection_timestamp"`
	ClientIP           *string `db:"client_ip"`
	Domain             string  `db:"domain"`
	Category           string  `db:"category"` // joined labels, never empty
	Reason             *string `db:"reason"`
	Source             string  `db:"source"`
}

// NotificationCandidate is a stored Finding plus whether its categories
// intersect the configured alert set.
type NotificationCandidate struct {
	Finding Finding
	Alert   bool
}
