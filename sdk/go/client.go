package mastersyncsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Mastersync HTTP API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Master represents the API master model (partial). Raw carries the full
// document for callers that need fields beyond the summary ones.
type Master struct {
	UUID       string          `json:"uuid"`
	Discipline string          `json:"discipline"`
	Semester   string          `json:"semester"`
	Status     string          `json:"status"`
	Cards      json.RawMessage `json:"cards"`
}

// MasterPage wraps paginated master listings.
type MasterPage struct {
	TotalItems  int      `json:"totalItems"`
	Result      []Master `json:"result"`
	TotalPages  int      `json:"totalPages"`
	CurrentPage int      `json:"currentPage"`
	Limit       int      `json:"limit"`
}

// Notification is one rendered notification as delivered by webhooks.
type Notification struct {
	UUID     string            `json:"uuid"`
	Code     string            `json:"code"`
	Messages map[string]string `json:"messages"`
}

// ReconcileResult is the outcome of a reconcile call.
type ReconcileResult struct {
	Master        json.RawMessage `json:"master"`
	Notifications []Notification  `json:"notifications"`
}

// ListMastersQuery narrows and pages a master listing. Zero values are
// omitted from the query string.
type ListMastersQuery struct {
	Limit      int
	Start      int
	SortBy     string
	Order      string
	Discipline string
	Semester   string
	Status     string
	Project    string
	Agent      string
}

// APIError wraps non-2xx responses carrying the API error envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
}

// UpsertMaster creates or replaces a master. The body is any JSON-marshalable
// master document.
func (c *Client) UpsertMaster(ctx context.Context, master any) (Master, error) {
	var resp Master
	err := c.do(ctx, http.MethodPut, "v0/masters", master, &resp)
	return resp, err
}

// GetMaster fetches one master by uuid.
func (c *Client) GetMaster(ctx context.Context, uuid string) (json.RawMessage, error) {
	var resp json.RawMessage
	err := c.do(ctx, http.MethodGet, "v0/masters/"+url.PathEscape(uuid), nil, &resp)
	return resp, err
}

// ListMasters returns a filtered page of masters.
func (c *Client) ListMasters(ctx context.Context, q ListMastersQuery) (MasterPage, error) {
	vals := url.Values{}
	if q.Limit > 0 {
		vals.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Start > 0 {
		vals.Set("start", strconv.Itoa(q.Start))
	}
	set := func(k, v string) {
		if v != "" {
			vals.Set(k, v)
		}
	}
	set("sort_by", q.SortBy)
	set("order", q.Order)
	set("discipline", q.Discipline)
	set("semester", q.Semester)
	set("status", q.Status)
	set("project", q.Project)
	set("agent", q.Agent)
	endpoint := "v0/masters"
	if len(vals) > 0 {
		endpoint += "?" + vals.Encode()
	}
	var resp MasterPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// DeleteMaster removes a master.
func (c *Client) DeleteMaster(ctx context.Context, uuid string) error {
	return c.do(ctx, http.MethodDelete, "v0/masters/"+url.PathEscape(uuid), nil, nil)
}

// ReconcileMaster triggers one reconciliation pass and returns the updated
// master plus the generated notifications.
func (c *Client) ReconcileMaster(ctx context.Context, uuid string) (ReconcileResult, error) {
	var resp ReconcileResult
	err := c.do(ctx, http.MethodPost, "v0/masters/"+url.PathEscape(uuid)+"/reconcile", nil, &resp)
	return resp, err
}

// UpsertAgent creates or replaces an agent.
func (c *Client) UpsertAgent(ctx context.Context, agent any) (json.RawMessage, error) {
	var resp json.RawMessage
	err := c.do(ctx, http.MethodPut, "v0/agents", agent, &resp)
	return resp, err
}

// UpsertPlanner creates or replaces a planner.
func (c *Client) UpsertPlanner(ctx context.Context, planner any) (json.RawMessage, error) {
	var resp json.RawMessage
	err := c.do(ctx, http.MethodPut, "v0/planners", planner, &resp)
	return resp, err
}

// Health probes the server.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "v0/health", nil, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil && envelope.Error.Code != "" {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(b))
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
