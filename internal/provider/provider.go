// Package provider talks to the external invoicing system. The remote
// side is authoritative for payment state; everything local is a cache.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// PaymentProvider is the narrow contract the engine needs. Calls are
// individually retriable and never transactional with the local store.
type PaymentProvider interface {
	CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (CreatedInvoice, error)
	CheckPaymentStatus(ctx context.Context, externalID string) (PaymentStatus, error)
	MarkPaid(ctx context.Context, externalID string) error
}

type CreateInvoiceRequest struct {
	ProjectRef  string  `json:"project_ref"`
	CustomerRef string  `json:"customer_ref,omitempty"`
	Amount      float64 `json:"amount"`
	DueDate     string  `json:"due_date,omitempty"`
}

type CreatedInvoice struct {
	ID     string  `json:"id"`
	Number string  `json:"number"`
	Amount float64 `json:"amount"`
}

type PaymentStatus struct {
	IsPaid bool   `json:"is_paid"`
	Status string `json:"status"`
}

// Client is the HTTP implementation.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (CreatedInvoice, error) {
	var out CreatedInvoice
	err := c.do(ctx, http.MethodPost, "/invoices", req, &out)
	return out, err
}

func (c *Client) CheckPaymentStatus(ctx context.Context, externalID string) (PaymentStatus, error) {
	var out PaymentStatus
	err := c.do(ctx, http.MethodGet, "/invoices/"+externalID+"/payment", nil, &out)
	return out, err
}

func (c *Client) MarkPaid(ctx context.Context, externalID string) error {
	return c.do(ctx, http.MethodPost, "/invoices/"+externalID+"/payments", map[string]any{}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	res, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("provider %s %s: status %d: %s", method, path, res.StatusCode, truncate(string(data), 200))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("provider %s %s: unexpected response shape: %w", method, path, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
