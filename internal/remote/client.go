// Package remote is the HTTP/JSON client for the remote scheduling service.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"calendar-ledger-sync/internal/config"
)

// Item statuses returned per entry.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Item is one ledger entry sent to the scheduling service.
type Item struct {
	EntryID   uint      `json:"entry_id"`
	LogicalID string    `json:"logical_id"`
	RemoteID  string    `json:"remote_id,omitempty"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
}

// ItemResult is the per-entry outcome of a batch call.
type ItemResult struct {
	EntryID    uint   `json:"entry_id"`
	Status     string `json:"status"`
	AssignedID string `json:"assigned_id,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
	Message    string `json:"message,omitempty"`
}

// OK reports whether the item was accepted.
func (r ItemResult) OK() bool {
	return r.Status == StatusSuccess
}

// Event is an appointment as known by the scheduling service.
type Event struct {
	RemoteID  string    `json:"remote_id"`
	Mailbox   string    `json:"mailbox"`
	LogicalID string    `json:"logical_id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
}

// HTTPError is returned when the service answers with a non-2xx status.
type HTTPError struct {
	Code int
	Body string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("scheduling service returned %d: %s", e.Code, e.Body)
}

type batchRequest struct {
	Mailbox string `json:"mailbox"`
	Items   []Item `json:"items"`
}

type batchResponse struct {
	Results []ItemResult `json:"results"`
}

type eventsResponse struct {
	Events []Event `json:"events"`
}

// Client talks to the scheduling service
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        logrus.FieldLogger
}

// NewClient creates a client for cfg.BaseURL
func NewClient(cfg *config.RemoteConfig, log logrus.FieldLogger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return NewClientWithHTTP(cfg.BaseURL, &http.Client{Timeout: timeout}, log)
}

// NewClientWithHTTP creates a client with a custom HTTP client (for testing).
func NewClientWithHTTP(baseURL string, httpClient *http.Client, log logrus.FieldLogger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		log:        log,
	}
}

func (c *Client) Create(ctx context.Context, mailbox string, items []Item) ([]ItemResult, error) {
	return c.batch(ctx, "create", mailbox, items)
}

func (c *Client) Update(ctx context.Context, mailbox string, items []Item) ([]ItemResult, error) {
	return c.batch(ctx, "update", mailbox, items)
}

func (c *Client) Delete(ctx context.Context, mailbox string, items []Item) ([]ItemResult, error) {
	return c.batch(ctx, "delete", mailbox, items)
}

// GetAll lists the remote appointments of mailboxes overlapping [start, end).
func (c *Client) GetAll(ctx context.Context, mailboxes []string, start, end time.Time) ([]Event, error) {
	params := url.Values{}
	for _, m := range mailboxes {
		params.Add("mailbox", m)
	}
	params.Set("start", start.UTC().Format(time.RFC3339))
	params.Set("end", end.UTC().Format(time.RFC3339))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/events?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var out eventsResponse
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("list remote events: %w", err)
	}
	return out.Events, nil
}

func (c *Client) batch(ctx context.Context, action, mailbox string, items []Item) ([]ItemResult, error) {
	body, err := json.Marshal(batchRequest{Mailbox: mailbox, Items: items})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/events/"+action, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out batchResponse
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("%s batch: %w", action, err)
	}

	c.log.WithFields(logrus.Fields{
		"mailbox": mailbox,
		"action":  action,
		"items":   len(items),
		"results": len(out.Results),
	}).Debug("Batch sent to scheduling service")
	return out.Results, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &HTTPError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
