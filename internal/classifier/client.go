// internal/classifier/client.go
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/signalnine/haruspex/internal/protocol"
)

const systemPrompt = `You are a network security analyst reviewing DNS domain names queried on a local network. For each domain, determine if it falls into any of these categories:

- Malicious: known malware, phishing, command & control, or other direct security threats.
- AdultContent: pornography, explicit content unsuitable for minors.
- Gambling: online betting, casinos, lottery sites.
- Dating: online dating apps or services.
- Illegal: sites promoting illegal activities (illegal streaming, illicit goods or services - use best judgment).
- Suspicious: aggressive advertising/tracking, potentially unwanted programs, unusual TLDs associated with spam or malware, or anything else that warrants caution without being overtly malicious.

Focus on the domain name itself and common knowledge about the services hosted there.

Respond STRICTLY with a JSON list, one object per domain:
- "domain": the domain name analyzed
- "categories": list of matched category strings, [] if none match
- "reason": brief explanation for the categorization

Example:
[
  {"domain": "google.com", "categories": [], "reason": "Benign search engine and services."},
  {"domain": "casino-online.bet", "categories": ["Gambling"], "reason": "Likely online gambling site."}
]

Return ONLY the JSON list, without any text before or after it.`

// excerptLen caps how much of an unparseable reply ends up in logs.
const excerptLen = 500

// ErrUnavailable indicates the classifier could not be reached at all:
// every endpoint down, or none configured.
var ErrUnavailable = errors.New("all classifier endpoints unavailable")

// MalformedError means the classifier answered but the reply was not the
// JSON list the prompt demands. Carries a truncated excerpt for diagnosis.
type MalformedError struct {
	Excerpt string
	Cause   error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed classifier reply: %v: %q", e.Cause, e.Excerpt)
}

func (e *MalformedError) Unwrap() error { return e.Cause }

// IsUnavailable checks if the error means no endpoint answered.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsMalformed checks if the error means the reply could not be parsed.
func IsMalformed(err error) bool {
	var m *MalformedError
	return errors.As(err, &m)
}

// Endpoint represents a single LLM provider (OpenAI-compatible format).
type Endpoint struct {
	URL    string
	Model  string
	APIKey string
}

// Client classifies domains through a chain of LLM endpoints, falling back
// to the next endpoint when one is unavailable. One call per cycle; the
// caller decides whether a later cycle retries.
type Client struct {
	endpoints []Endpoint
	batchSize int
	client    *http.Client
	logger    *zap.Logger
}

// NewClient creates a classifier client with a fallback chain. batchSize
// caps how many unique domains go into one request.
func NewClient(endpoints []Endpoint, batchSize int, logger *zap.Logger) *Client {
	return &Client{
		endpoints: endpoints,
		batchSize: batchSize,
		client: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 5 * time.Second,
				}).DialContext,
			},
		},
		logger: logger,
	}
}

// Classify sends the unique domains of the given queries to the classifier
// and returns one result per domain the model answered for. Empty input
// returns an empty result without touching the network. Items the model
// returns without a domain are dropped.
func (c *Client) Classify(ctx context.Context, queries []protocol.Query) ([]protocol.ClassificationResult, error) {
	domains := uniqueDomains(queries)
	if len(domains) == 0 {
		return []protocol.ClassificationResult{}, nil
	}
	if len(c.endpoints) == 0 {
		return nil, fmt.Errorf("%w: no endpoints configured", ErrUnavailable)
	}

	var all []protocol.ClassificationResult
	for _, batch := range splitBatches(domains, c.batchSize) {
		results, err := c.classifyBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		all = append(all, results...)
	}
	return all, nil
}

func (c *Client) classifyBatch(ctx context.Context, domains []string) ([]protocol.ClassificationResult, error) {
	var lastErr error

	for i, ep := range c.endpoints {
		results, err := c.tryEndpoint(ctx, ep, domains)
		if err == nil {
			if i > 0 {
				c.logger.Info("classifier fallback succeeded",
					zap.Int("endpoint", i+1),
					zap.String("model", ep.Model),
					zap.Int("failures", i))
			}
			return results, nil
		}

		lastErr = err
		if isTransientErr(err) {
			c.logger.Warn("classifier endpoint unavailable, trying next",
				zap.Int("endpoint", i+1),
				zap.String("model", ep.Model),
				zap.Error(err))
			continue
		}

		// Non-availability error (e.g. malformed reply) - don't try fallback
		return nil, err
	}

	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (c *Client) tryEndpoint(ctx context.Context, ep Endpoint, domains []string) ([]protocol.ClassificationResult, error) {
	domainsJSON, err := json.MarshalIndent(domains, "", "  ")
	if err != nil {
		return nil, err
	}

	// OpenAI Chat Completions format
	reqBody := map[string]interface{}{
		"model": ep.Model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": "Analyze the following domains:\n" + string(domainsJSON)},
		},
		"max_tokens": 4096,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	url := strings.TrimSuffix(ep.URL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+ep.APIKey)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("connection failed: %w", err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	// Service unavailable / bad gateway / gateway timeout - try next endpoint
	if resp.StatusCode == http.StatusBadGateway ||
		resp.StatusCode == http.StatusServiceUnavailable ||
		resp.StatusCode == http.StatusGatewayTimeout {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	var apiResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, err
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("empty response from API")
	}

	c.logger.Info("classifier call complete",
		zap.String("model", ep.Model),
		zap.Int("domains", len(domains)),
		zap.Int64("latency_ms", time.Since(start).Milliseconds()))

	return parseReply(apiResp.Choices[0].Message.Content)
}

// parseReply turns the model's free-text answer into structured results.
// The model often wraps its JSON in a fenced code block; strip that before
// parsing. Anything that is not a JSON list is a malformed reply.
func parseReply(text string) ([]protocol.ClassificationResult, error) {
	cleaned := stripFences(strings.TrimSpace(text))

	var results []protocol.ClassificationResult
	if err := json.Unmarshal([]byte(cleaned), &results); err != nil {
		return nil, &MalformedError{Excerpt: excerpt(cleaned), Cause: err}
	}

	// Items without a domain can't be joined back to any query context
	kept := results[:0]
	for _, r := range results {
		if r.Domain == "" {
			continue
		}
		kept = append(kept, r)
	}
	return kept, nil
}

// stripFences removes a leading code-fence line (three backticks, optional
// language tag) and a trailing closing fence.
func stripFences(s string) string {
	lines := strings.Split(s, "\n")
	if len(lines) > 0 && strings.HasPrefix(lines[0], "```") {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func excerpt(s string) string {
	if len(s) > excerptLen {
		return s[:excerptLen] + "..."
	}
	return s
}

// uniqueDomains extracts the sorted unique domain set from a query batch.
// Sorted so identical batches produce identical prompts.
func uniqueDomains(queries []protocol.Query) []string {
	seen := make(map[string]bool)
	var domains []string
	for _, q := range queries {
		if q.Domain == "" || seen[q.Domain] {
			continue
		}
		seen[q.Domain] = true
		domains = append(domains, q.Domain)
	}
	sort.Strings(domains)
	return domains
}

// splitBatches cuts the domain list into request-sized chunks. A batch size
// of zero or less means a single batch.
func splitBatches(domains []string, size int) [][]string {
	if size <= 0 || len(domains) <= size {
		return [][]string{domains}
	}
	var batches [][]string
	for start := 0; start < len(domains); start += size {
		end := start + size
		if end > len(domains) {
			end = len(domains)
		}
		batches = append(batches, domains[start:end])
	}
	return batches
}

func isTransientErr(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "connection") ||
		strings.Contains(s, "HTTP 502") ||
		strings.Contains(s, "HTTP 503") ||
		strings.Contains(s, "HTTP 504")
}
