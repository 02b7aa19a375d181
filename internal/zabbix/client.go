// Package zabbix is a minimal JSON-RPC client for the alert source API,
// used to pull current problems into the alert store and to fetch
// supplementary detail on demand.
package zabbix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/deskbridge/deskbridge/internal/alerts"
	"github.com/deskbridge/deskbridge/internal/config"
)

// Session tokens obtained via user.login are reused for this long
const authTokenTTL = 30 * time.Minute

// JSONRPCRequest represents a Zabbix JSON-RPC request
type JSONRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	Auth    string      `json:"auth,omitempty"`
	ID      uint64      `json:"id"`
}

// JSONRPCResponse represents a Zabbix JSON-RPC response
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *APIError       `json:"error,omitempty"`
	ID      uint64          `json:"id"`
}

// APIError represents a Zabbix API error
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Zabbix API error: %s (code: %d, data: %s)", e.Message, e.Code, e.Data)
}

// Client is an authenticated Zabbix API client
type Client struct {
	cfg        config.ZabbixConfig
	httpClient *http.Client
	requestID  uint64

	authMu      sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient creates a Zabbix API client
func NewClient(cfg config.ZabbixConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether a source API endpoint is configured
func (c *Client) Enabled() bool {
	return c.cfg.URL != ""
}

// Problem mirrors the problem.get response fields the sync consumes
type Problem struct {
	EventID  string `json:"eventid"`
	ObjectID string `json:"objectid"` // trigger id
	Name     string `json:"name"`
	Severity string `json:"severity"`
	Clock    string `json:"clock"`
	Tags     []struct {
		Tag   string `json:"tag"`
		Value string `json:"value"`
	} `json:"tags"`
}

// triggerHost mirrors the host subset of trigger.get with selectHosts
type triggerHost struct {
	TriggerID string `json:"triggerid"`
	Hosts     []struct {
		Name string `json:"name"`
		Host string `json:"host"`
	} `json:"hosts"`
}

// FetchProblems pulls the currently active problems and maps them to
// canonical alerts. Host names are resolved through trigger.get since
// problem.get does not carry them.
func (c *Client) FetchProblems(ctx context.Context) ([]alerts.CanonicalAlert, error) {
	result, err := c.request(ctx, "problem.get", map[string]interface{}{
		"output":     "extend",
		"selectTags": "extend",
		"sortfield":  "eventid",
		"sortorder":  "DESC",
	})
	if err != nil {
		return nil, fmt.Errorf("problem.get failed: %w", err)
	}

	var problems []Problem
	if err := json.Unmarshal(result, &problems); err != nil {
		return nil, fmt.Errorf("failed to parse problem.get result: %w", err)
	}
	if len(problems) == 0 {
		return nil, nil
	}

	hostsByTrigger, err := c.fetchTriggerHosts(ctx, problems)
	if err != nil {
		return nil, err
	}

	canonical := make([]alerts.CanonicalAlert, 0, len(problems))
	for _, p := range problems {
		tags := make([]alerts.Tag, 0, len(p.Tags))
		for _, t := range p.Tags {
			tags = append(tags, alerts.Tag{Tag: t.Tag, Value: t.Value})
		}

		canonical = append(canonical, alerts.CanonicalAlert{
			EventID:     p.EventID,
			TriggerID:   p.ObjectID,
			TriggerName: p.Name,
			HostName:    hostsByTrigger[p.ObjectID],
			State:       alerts.StateProblem,
			Severity:    alerts.SeverityLabel(p.Severity),
			OccurredAt:  parseClock(p.Clock),
			Tags:        tags,
		})
	}
	return canonical, nil
}

// fetchTriggerHosts resolves trigger ids to their first host name
func (c *Client) fetchTriggerHosts(ctx context.Context, problems []Problem) (map[string]string, error) {
	triggerIDs := make([]string, 0, len(problems))
	seen := make(map[string]bool, len(problems))
	for _, p := range problems {
		if p.ObjectID != "" && !seen[p.ObjectID] {
			seen[p.ObjectID] = true
			triggerIDs = append(triggerIDs, p.ObjectID)
		}
	}
	if len(triggerIDs) == 0 {
		return map[string]string{}, nil
	}

	result, err := c.request(ctx, "trigger.get", map[string]interface{}{
		"triggerids":  triggerIDs,
		"output":      []string{"triggerid"},
		"selectHosts": "extend",
	})
	if err != nil {
		return nil, fmt.Errorf("trigger.get failed: %w", err)
	}

	var triggers []triggerHost
	if err := json.Unmarshal(result, &triggers); err != nil {
		return nil, fmt.Errorf("failed to parse trigger.get result: %w", err)
	}

	hosts := make(map[string]string, len(triggers))
	for _, t := range triggers {
		if len(t.Hosts) > 0 {
			name := t.Hosts[0].Name
			if name == "" {
				name = t.Hosts[0].Host
			}
			hosts[t.TriggerID] = name
		}
	}
	return hosts, nil
}

// request performs an authenticated API call
func (c *Client) request(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	auth, err := c.getAuth(ctx)
	if err != nil {
		return nil, err
	}
	return c.doRequest(ctx, method, params, auth)
}

// getAuth returns the API token or a cached user.login session token
func (c *Client) getAuth(ctx context.Context) (string, error) {
	if c.cfg.Token != "" {
		return c.cfg.Token, nil
	}
	if c.cfg.Username == "" || c.cfg.Password == "" {
		return "", fmt.Errorf("no authentication method configured")
	}

	c.authMu.Lock()
	defer c.authMu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	result, err := c.doRequest(ctx, "user.login", map[string]string{
		"username": c.cfg.Username,
		"password": c.cfg.Password,
	}, "")
	if err != nil {
		return "", fmt.Errorf("user.login failed: %w", err)
	}

	var token string
	if err := json.Unmarshal(result, &token); err != nil {
		return "", fmt.Errorf("failed to parse auth token: %w", err)
	}

	c.token = token
	c.tokenExpiry = time.Now().Add(authTokenTTL)
	return token, nil
}

// doRequest performs one JSON-RPC exchange
func (c *Client) doRequest(ctx context.Context, method string, params interface{}, auth string) (json.RawMessage, error) {
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		Auth:    auth,
		ID:      atomic.AddUint64(&c.requestID, 1),
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	// Ensure URL ends with /api_jsonrpc.php
	apiURL := c.cfg.URL
	if !strings.HasSuffix(apiURL, "/api_jsonrpc.php") {
		apiURL = strings.TrimSuffix(apiURL, "/") + "/api_jsonrpc.php"
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json-rpc")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(respBody))
	}

	var rpcResp JSONRPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}

	return rpcResp.Result, nil
}

// parseClock converts a unix-seconds string to a timestamp, defaulting to now
func parseClock(clock string) time.Time {
	if clock == "" {
		return time.Now()
	}
	seconds, err := strconv.ParseInt(clock, 10, 64)
	if err != nil {
		return time.Now()
	}
	return time.Unix(seconds, 0)
}
