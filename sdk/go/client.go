// Package tutellivsdk is a small typed client for the TutelLiv HTTP API.
package tutellivsdk

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
)

// Client talks to one TutelLiv server.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// User is a demo account as returned by the API.
type User struct {
	ID    int    `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
	Name  string `json:"name"`
}

// LoginResult carries the session token and its owner.
type LoginResult struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	User        User   `json:"user"`
}

type Beneficiary struct {
	ID         int    `json:"id"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Address    string `json:"address"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Phone      string `json:"phone,omitempty"`
	IsActive   bool   `json:"is_active"`
}

type Mission struct {
	ID             string   `json:"id"`
	BeneficiaryID  int      `json:"beneficiary_id"`
	Categories     []string `json:"categories"`
	GeneralComment string   `json:"general_comment,omitempty"`
	Status         string   `json:"status"`
	CreatedAt      string   `json:"created_at"`
	CalendarStart  string   `json:"calendar_start,omitempty"`
	CalendarEnd    string   `json:"calendar_end,omitempty"`
	DeliveredAt    *string  `json:"delivered_at,omitempty"`
}

type Invoice struct {
	ID        string  `json:"id"`
	MissionID string  `json:"mission_id"`
	Amount    float64 `json:"amount"`
	Status    string  `json:"status"`
	CreatedAt string  `json:"created_at"`
	Note      string  `json:"note,omitempty"`
}

type Stats struct {
	MissionsInProgress  int    `json:"missions_in_progress"`
	BeneficiariesActive int    `json:"beneficiaries_active"`
	InvoicesPending     int    `json:"invoices_pending"`
	GeneratedAt         string `json:"generated_at"`
}

// Event is a persisted journal entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id,omitempty"`
	Payload    string `json:"payload_json"`
}

type eventsPage struct {
	Events []Event `json:"events"`
	NextID int64   `json:"next_id"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Login exchanges credentials for a bearer token and stores it on the client.
func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	var out LoginResult
	err := c.do(ctx, http.MethodPost, "auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &out)
	if err == nil {
		c.BearerToken = out.AccessToken
	}
	return out, err
}

// Me returns the account behind the current token.
func (c *Client) Me(ctx context.Context) (User, error) {
	var out User
	err := c.do(ctx, http.MethodGet, "auth/me", nil, &out)
	return out, err
}

func (c *Client) ListBeneficiaries(ctx context.Context) ([]Beneficiary, error) {
	var out []Beneficiary
	err := c.do(ctx, http.MethodGet, "beneficiaries", nil, &out)
	return out, err
}

func (c *Client) ListMissions(ctx context.Context) ([]Mission, error) {
	var out []Mission
	err := c.do(ctx, http.MethodGet, "missions", nil, &out)
	return out, err
}

func (c *Client) ListInvoices(ctx context.Context) ([]Invoice, error) {
	var out []Invoice
	err := c.do(ctx, http.MethodGet, "invoices", nil, &out)
	return out, err
}

func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	err := c.do(ctx, http.MethodGet, "stats", nil, &out)
	return out, err
}

// Events lists journal entries, oldest first, resuming after the given id.
func (c *Client) Events(ctx context.Context, limit int, after int64) ([]Event, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if after > 0 {
		q.Set("after", fmt.Sprintf("%d", after))
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var out eventsPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &out)
	return out.Events, err
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
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
