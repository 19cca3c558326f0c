package sunlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a minimal Sunline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
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

// Project represents the API project model.
type Project struct {
	ID            int64  `json:"id"`
	FirmID        int64  `json:"firm_id"`
	Name          string `json:"name"`
	Status        string `json:"status"`
	StatusLabel   string `json:"status_label"`
	CrewID        *int64 `json:"crew_id,omitempty"`
	InvoiceNumber string `json:"invoice_number,omitempty"`
}

// HistoryEntry represents an audit log row.
type HistoryEntry struct {
	ID          int64  `json:"id"`
	ProjectID   int64  `json:"project_id"`
	ActorID     string `json:"actor_id"`
	ActorName   string `json:"actor_name,omitempty"`
	ChangeType  string `json:"change_type"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at"`
}

// Reclamation represents a defect claim.
type Reclamation struct {
	ID            int64  `json:"id"`
	ProjectID     int64  `json:"project_id"`
	Status        string `json:"status"`
	Description   string `json:"description"`
	Deadline      string `json:"deadline"`
	CurrentCrewID int64  `json:"current_crew_id"`
}

// Invoice represents an issued invoice.
type Invoice struct {
	ID          int64   `json:"id"`
	ProjectID   int64   `json:"project_id"`
	Number      string  `json:"number"`
	TotalAmount float64 `json:"total_amount"`
	IsPaid      bool    `json:"is_paid"`
	Status      string  `json:"status"`
}

// CrewWork groups a crew's actionable reclamations.
type CrewWork struct {
	Assigned  []Reclamation `json:"assigned"`
	Available []Reclamation `json:"available"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateProject creates a project.
func (c *Client) CreateProject(ctx context.Context, firmID int64, name string) (Project, error) {
	body := map[string]any{"firm_id": firmID, "name": name}
	var resp Project
	err := c.do(ctx, http.MethodPost, "projects", body, &resp)
	return resp, err
}

// GetProject fetches a project by id.
func (c *Client) GetProject(ctx context.Context, id int64) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("projects/%d", id), nil, &resp)
	return resp, err
}

// UpdateProject patches project fields. Keys follow the API schema,
// e.g. "status", "crew_id", "work_start_date".
func (c *Client) UpdateProject(ctx context.Context, id int64, fields map[string]any) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("projects/%d", id), fields, &resp)
	return resp, err
}

// ProjectHistory returns the audit log, newest first.
func (c *Client) ProjectHistory(ctx context.Context, id int64) ([]HistoryEntry, error) {
	var resp []HistoryEntry
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("projects/%d/history", id), nil, &resp)
	return resp, err
}

// AddNote attaches a note to a project.
func (c *Client) AddNote(ctx context.Context, projectID int64, body, priority string) error {
	payload := map[string]any{"body": body}
	if priority != "" {
		payload["priority"] = priority
	}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("projects/%d/notes", projectID), payload, nil)
}

// CreateReclamation opens a claim against a completed project.
func (c *Client) CreateReclamation(ctx context.Context, projectID, crewID int64, description, deadline string) (Reclamation, error) {
	body := map[string]any{
		"project_id":  projectID,
		"crew_id":     crewID,
		"description": description,
		"deadline":    deadline,
	}
	var resp Reclamation
	err := c.do(ctx, http.MethodPost, "reclamations", body, &resp)
	return resp, err
}

// AcceptReclamation accepts a claim for the caller's crew.
func (c *Client) AcceptReclamation(ctx context.Context, id int64) (Reclamation, error) {
	var resp Reclamation
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("reclamations/%d/accept", id), map[string]any{}, &resp)
	return resp, err
}

// RejectReclamation declines a claim with a reason.
func (c *Client) RejectReclamation(ctx context.Context, id int64, reason string) (Reclamation, error) {
	var resp Reclamation
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("reclamations/%d/reject", id), map[string]any{"reason": reason}, &resp)
	return resp, err
}

// CompleteReclamation closes a claim.
func (c *Client) CompleteReclamation(ctx context.Context, id int64, notes string) (Reclamation, error) {
	var resp Reclamation
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("reclamations/%d/complete", id), map[string]any{"notes": notes}, &resp)
	return resp, err
}

// CrewReclamations lists assigned and available claims for a crew.
func (c *Client) CrewReclamations(ctx context.Context, crewID int64) (CrewWork, error) {
	var resp CrewWork
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("crews/%d/reclamations", crewID), nil, &resp)
	return resp, err
}

// CreateInvoice issues an invoice for a project.
func (c *Client) CreateInvoice(ctx context.Context, projectID int64, amount float64, dueDate string) (Invoice, error) {
	body := map[string]any{"amount": amount}
	if dueDate != "" {
		body["due_date"] = dueDate
	}
	var resp Invoice
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("projects/%d/invoice", projectID), body, &resp)
	return resp, err
}

// ReconcileInvoice syncs an invoice with the payment provider.
func (c *Client) ReconcileInvoice(ctx context.Context, id int64) (bool, error) {
	var resp struct {
		Updated bool `json:"updated"`
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("invoices/%d/reconcile", id), map[string]any{}, &resp)
	return resp.Updated, err
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
	} else if c.APIKey != "" {
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return &APIError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if !strings.HasSuffix(base, "/v0") {
		base += "/v0"
	}
	return base
}
