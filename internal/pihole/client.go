// internal/pihole/client.go
package pihole

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/signalnine/haruspex/internal/config"
	"github.com/signalnine/haruspex/internal/protocol"
)

// authTimeout is shorter than the fetch timeout: a slow login is not worth
// waiting a whole fetch window for.
const authTimeout = 10 * time.Second

// ErrAuthFailed means the appliance rejected the configured password or
// returned no usable session.
var ErrAuthFailed = errors.New("pihole authentication failed")

// Client talks to the Pi-hole v6 API: login for a session id, fetch the
// recent query window, delete the session when done.
type Client struct {
	baseURL  string
	password string
	client   *http.Client
	logger   *zap.Logger
}

// NewClient creates a Pi-hole API client.
func NewClient(cfg config.PiholeConfig, logger *zap.Logger) *Client {
	transport := &http.Transport{}
	if cfg.TLSSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Client{
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		password: cfg.Password,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		logger: logger,
	}
}

// Login authenticates and returns the session id.
func (c *Client) Login(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{"password": c.password})
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/auth", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("pihole auth request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%w: HTTP %d: %s", ErrAuthFailed, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var auth struct {
		Session struct {
			Valid bool   `json:"valid"`
			SID   string `json:"sid"`
		} `json:"session"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return "", fmt.Errorf("decode auth response: %w", err)
	}

	if !auth.Session.Valid || auth.Session.SID == "" {
		return "", fmt.Errorf("%w: no valid session returned", ErrAuthFailed)
	}

	return auth.Session.SID, nil
}

// FetchRecent returns the appliance's most-recent query window. The API has
// no time-range parameter; filtering against the watermark happens locally.
// A nil slice with an error means the fetch failed; an empty slice with no
// error means the appliance genuinely had nothing.
func (c *Client) FetchRecent(ctx context.Context, sid string) ([]protocol.RawQueryRecord, error) {
	if sid == "" {
		return nil, errors.New("missing session id")
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/queries", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("sid", sid)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pihole queries request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("pihole queries: HTTP %d, session expired or invalid", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("pihole queries: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var payload struct {
		Queries []protocol.RawQueryRecord `json:"queries"`
		Error   string                    `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode queries response: %w", err)
	}
	if payload.Error != "" {
		return nil, fmt.Errorf("pihole API error: %s", payload.Error)
	}

	if payload.Queries == nil {
		return []protocol.RawQueryRecord{}, nil
	}
	return payload.Queries, nil
}

// Logout deletes the session. Best-effort: Pi-hole has a limited session
// seat count, so leaking sessions eventually locks the script out, but a
// failed delete is only worth a log line.
func (c *Client) Logout(ctx context.Context, sid string) {
	if sid == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "DELETE", c.baseURL+"/api/auth", nil)
	if err != nil {
		c.logger.Warn("build session delete request", zap.Error(err))
		return
	}
	req.Header.Set("sid", sid)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("delete pihole session", zap.Error(err))
		return
	}
	resp.Body.Close()

	if resp.StatusCode >= 300 {
		c.logger.Warn("delete pihole session", zap.Int("status", resp.StatusCode))
	}
}
