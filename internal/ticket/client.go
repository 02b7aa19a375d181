package ticket

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/deskbridge/deskbridge/internal/alerts"
	"github.com/deskbridge/deskbridge/internal/config"
)

// Action is the outcome the gateway took for one delivery
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionSkipped Action = "skipped"
)

// Result describes one completed gateway pass
type Result struct {
	Action       Action
	TicketID     string
	TicketNumber string
	TriggerID    string
	Method       string // HTTP verb that ultimately succeeded
	StatusCode   int
	Response     map[string]interface{}
}

// Gateway is the pipeline's view of the external ticket system
type Gateway interface {
	Process(ctx context.Context, intent Intent) (*Result, error)
}

// Client talks to the OTRS-style ticket gateway. The gateway is a legacy
// endpoint: credentials travel in every request body and transport uses
// client-certificate TLS with optional legacy renegotiation.
type Client struct {
	cfg        config.OTRSConfig
	httpClient *http.Client

	// Ticket states considered "active" when searching for an open ticket
	searchStates []string
}

// NewClient creates a gateway client from the configured TLS material
func NewClient(cfg config.OTRSConfig) (*Client, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	if cfg.LegacyRenegotiation {
		tlsConfig.Renegotiation = tls.RenegotiateFreelyAsClient
	}

	if cfg.ClientCertPath != "" && cfg.ClientKeyPath != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCertPath, cfg.ClientKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load gateway client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if cfg.CAPath != "" {
		caPEM, err := os.ReadFile(cfg.CAPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read gateway CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CAPath)
		}
		tlsConfig.RootCAs = pool
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: tlsConfig,
				Proxy:           http.ProxyFromEnvironment,
			},
		},
		searchStates: []string{"new", "open"},
	}, nil
}

// ========== Wire structs ==========

type credentials struct {
	UserLogin string `json:"UserLogin"`
	Password  string `json:"Password"`
}

type searchFilter struct {
	Equals string `json:"Equals"`
}

type searchRequest struct {
	credentials
	States       []string     `json:"States"`
	QueueIDs     []string     `json:"QueueIDs,omitempty"`
	Queues       []string     `json:"Queues,omitempty"`
	TriggerField searchFilter `json:"DynamicField_ZabbixTrigger"`
}

type wireArticle struct {
	Subject     string `json:"Subject"`
	Body        string `json:"Body"`
	ContentType string `json:"ContentType"`
}

type updateTicketBody struct {
	Status string `json:"Status"`
}

type updateRequest struct {
	credentials
	Ticket       updateTicketBody `json:"Ticket"`
	DynamicField []Field          `json:"DynamicField"`
	Article      wireArticle      `json:"Article"`
}

type createTicketBody struct {
	Title        string `json:"Title"`
	QueueID      string `json:"QueueID,omitempty"`
	Queue        string `json:"Queue,omitempty"`
	Priority     string `json:"Priority"`
	State        string `json:"State"`
	CustomerUser string `json:"CustomerUser"`
	Type         string `json:"Type"`
	Service      string `json:"Service"`
}

type createRequest struct {
	credentials
	Ticket       createTicketBody `json:"Ticket"`
	DynamicField []Field          `json:"DynamicField"`
	Article      wireArticle      `json:"Article"`
}

// ========== Pipeline entry point ==========

// Process runs the per-delivery gateway state machine: search for an open
// ticket matching the trigger, update it if found, otherwise create one,
// unless the alert already recovered and there is nothing to close.
func (c *Client) Process(ctx context.Context, intent Intent) (*Result, error) {
	ticketID, err := c.searchOpenTicket(ctx, intent)
	if err != nil {
		return nil, err
	}

	if ticketID != "" {
		return c.updateTicket(ctx, ticketID, intent)
	}

	if intent.State == alerts.StateRecovered {
		// A recovery for a problem that never had an open ticket is not
		// actionable; report a skipped result instead of creating one.
		log.Printf("TicketGateway: no open ticket for trigger %s, recovery skipped", intent.DynamicFields.Trigger)
		return &Result{
			Action:     ActionSkipped,
			TriggerID:  intent.DynamicFields.Trigger,
			StatusCode: http.StatusNotFound,
		}, nil
	}

	if missing := intent.missingCreateFields(); len(missing) > 0 {
		return nil, &alerts.ValidationError{
			Message: "ticket is missing required fields",
			Missing: missing,
		}
	}

	return c.createTicket(ctx, intent)
}

// missingCreateFields validates the mandatory ticket fields before a create
// call is issued. Every absent field is reported, not just the first.
func (i Intent) missingCreateFields() []string {
	var missing []string
	if i.Subject == "" {
		missing = append(missing, "Title")
	}
	if i.Service == "" {
		missing = append(missing, "Service")
	}
	if i.Status == "" {
		missing = append(missing, "State")
	}
	if i.Priority == "" {
		missing = append(missing, "Priority")
	}
	if i.CustomerUser == "" {
		missing = append(missing, "CustomerUser")
	}
	if i.TicketType == "" {
		missing = append(missing, "Type")
	}
	if i.QueueID == "" && i.Queue == "" {
		missing = append(missing, "QueueID")
	}
	return missing
}

// ========== Gateway operations ==========

// searchOpenTicket returns the first ticket id in an active state matching
// the trigger identity and queue, or "" when none exists.
func (c *Client) searchOpenTicket(ctx context.Context, intent Intent) (string, error) {
	payload := searchRequest{
		credentials:  c.credentials(),
		States:       c.searchStates,
		TriggerField: searchFilter{Equals: intent.DynamicFields.Trigger},
	}
	if intent.QueueID != "" {
		payload.QueueIDs = []string{intent.QueueID}
	} else if intent.Queue != "" {
		payload.Queues = []string{intent.Queue}
	}

	var resp *gatewayResponse
	err := c.doWithRetry(ctx, "search", func() error {
		var callErr error
		resp, callErr = c.call(ctx, http.MethodPost, c.endpoint("TicketSearch"), payload)
		return callErr
	})
	if err != nil {
		return "", err
	}

	ids, _ := resp.data["TicketID"].([]interface{})
	if len(ids) == 0 {
		return "", nil
	}
	return fmt.Sprint(ids[0]), nil
}

// updateTicket sends the new status, dynamic fields and a fresh article to
// an existing ticket. Primary verb is PATCH; endpoints that reject the verb
// get a single PUT fallback to the same URL.
func (c *Client) updateTicket(ctx context.Context, ticketID string, intent Intent) (*Result, error) {
	payload := updateRequest{
		credentials:  c.credentials(),
		Ticket:       updateTicketBody{Status: intent.Status},
		DynamicField: intent.DynamicFields.List(),
		Article: wireArticle{
			Subject:     intent.Subject,
			Body:        intent.Body,
			ContentType: "text/plain; charset=utf8",
		},
	}
	url := c.endpoint("Ticket/" + ticketID)

	var resp *gatewayResponse
	var method string
	err := c.doWithRetry(ctx, "update", func() error {
		var callErr error
		resp, method, callErr = c.writeWithFallback(ctx, url, payload)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	return &Result{
		Action:     ActionUpdated,
		TicketID:   ticketID,
		TriggerID:  intent.DynamicFields.Trigger,
		Method:     method,
		StatusCode: resp.status,
		Response:   resp.data,
	}, nil
}

// createTicket issues the ticket create call. New tickets always enter the
// gateway in state "new".
func (c *Client) createTicket(ctx context.Context, intent Intent) (*Result, error) {
	payload := createRequest{
		credentials: c.credentials(),
		Ticket: createTicketBody{
			Title:        intent.Subject,
			QueueID:      intent.QueueID,
			Queue:        intent.Queue,
			Priority:     intent.Priority,
			State:        StateNew,
			CustomerUser: intent.CustomerUser,
			Type:         intent.TicketType,
			Service:      intent.Service,
		},
		DynamicField: intent.DynamicFields.List(),
		Article: wireArticle{
			Subject:     intent.Subject,
			Body:        intent.Body,
			ContentType: "text/plain; charset=utf8",
		},
	}

	var resp *gatewayResponse
	err := c.doWithRetry(ctx, "create", func() error {
		var callErr error
		resp, callErr = c.call(ctx, http.MethodPost, c.endpoint("Ticket"), payload)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	result := &Result{
		Action:     ActionCreated,
		TriggerID:  intent.DynamicFields.Trigger,
		Method:     http.MethodPost,
		StatusCode: resp.status,
		Response:   resp.data,
	}
	if id, ok := resp.data["TicketID"]; ok {
		result.TicketID = fmt.Sprint(id)
	}
	if number, ok := resp.data["TicketNumber"]; ok {
		result.TicketNumber = fmt.Sprint(number)
	}
	return result, nil
}

// writeWithFallback attempts the primary write verb and retries exactly once
// with the alternate verb when the endpoint reports the method unsupported.
func (c *Client) writeWithFallback(ctx context.Context, url string, payload interface{}) (*gatewayResponse, string, error) {
	resp, err := c.call(ctx, http.MethodPatch, url, payload)
	if err == nil {
		return resp, http.MethodPatch, nil
	}

	var ge *GatewayError
	if errors.As(err, &ge) && methodUnsupported(ge.StatusCode) {
		log.Printf("TicketGateway: %s rejected PATCH (status %d), falling back to PUT", url, ge.StatusCode)
		resp, err = c.call(ctx, http.MethodPut, url, payload)
		if err == nil {
			return resp, http.MethodPut, nil
		}
		return nil, http.MethodPut, err
	}

	return nil, http.MethodPatch, err
}

// ========== Transport ==========

type gatewayResponse struct {
	status int
	body   []byte
	data   map[string]interface{}
}

// call performs one HTTP exchange with the gateway. Gateway-reported errors
// (an Error object in a 2xx body) are treated as final.
func (c *Client) call(ctx context.Context, method, url string, payload interface{}) (*gatewayResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &GatewayError{Op: "encode request", Err: err, Permanent: true}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, &GatewayError{Op: "build request", Err: err, Permanent: true}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &GatewayError{Op: method + " " + url, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &GatewayError{Op: "read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &GatewayError{
			Op:         method + " " + url,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
			Permanent:  !retryableStatus(resp.StatusCode),
		}
	}

	data := make(map[string]interface{})
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &data); err != nil {
			return nil, &GatewayError{Op: "decode response", StatusCode: resp.StatusCode, Body: string(respBody), Err: err}
		}
	}

	if errObj, ok := data["Error"]; ok {
		return nil, &GatewayError{
			Op:         method + " " + url,
			StatusCode: resp.StatusCode,
			Body:       fmt.Sprint(errObj),
			Permanent:  true,
		}
	}

	return &gatewayResponse{status: resp.StatusCode, body: respBody, data: data}, nil
}

// doWithRetry runs one gateway operation under the bounded retry policy:
// up to the configured attempt ceiling, exponential backoff with jitter,
// retrying only errors classified as transient.
func (c *Client) doWithRetry(ctx context.Context, op string, fn func() error) error {
	attempts := c.cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 5
	}
	wait := c.cfg.RetryBaseWait
	if wait <= 0 {
		wait = 500 * time.Millisecond
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		var ge *GatewayError
		if errors.As(err, &ge) && !ge.Retryable() {
			return err
		}
		if attempt == attempts {
			break
		}

		sleep := wait + time.Duration(rand.Int63n(int64(wait/2)+1))
		log.Printf("TicketGateway: %s attempt %d/%d failed (%v), retrying in %v", op, attempt, attempts, err, sleep)
		select {
		case <-ctx.Done():
			return fmt.Errorf("gateway %s cancelled: %w", op, ctx.Err())
		case <-time.After(sleep):
		}
		wait *= 2
	}

	return fmt.Errorf("gateway %s failed after %d attempts: %w", op, attempts, lastErr)
}

func (c *Client) credentials() credentials {
	return credentials{UserLogin: c.cfg.Login, Password: c.cfg.Password}
}

func (c *Client) endpoint(path string) string {
	return strings.TrimSuffix(c.cfg.BaseURL, "/") + "/" + path
}
