package cloudflare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultBaseURL = "https://api.cloudflare.com/client/v4"

// Client is a minimal DNS gateway for the zones and dns_records
// endpoints. BaseURL is overridable for tests.
type Client struct {
	BaseURL string
	token   string
	http    *http.Client
}

func NewClient(token string) *Client {
	return &Client{
		BaseURL: defaultBaseURL,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Record is a DNS record in a zone. Relay records are plain A records,
// never proxied, so clients resolve the relay host directly.
type Record struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	Proxied bool   `json:"proxied"`
}

type envelope struct {
	Success bool `json:"success"`
	Errors  []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
	Result json.RawMessage `json:"result"`
}

// ZoneID looks up the zone id for a zone name.
func (c *Client) ZoneID(ctx context.Context, name string) (string, error) {
	var zones []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := c.do(ctx, http.MethodGet, "/zones?name="+url.QueryEscape(name), nil, &zones); err != nil {
		return "", fmt.Errorf("zone lookup: %w", err)
	}
	if len(zones) == 0 {
		return "", fmt.Errorf("zone %s not found", name)
	}
	return zones[0].ID, nil
}

// CreateRecord adds an A record pointing the relay domain at its IP.
func (c *Client) CreateRecord(ctx context.Context, zoneID string, rec Record) error {
	if rec.Type == "" {
		rec.Type = "A"
	}
	if err := c.do(ctx, http.MethodPost, "/zones/"+zoneID+"/dns_records", rec, nil); err != nil {
		return fmt.Errorf("create record %s: %w", rec.Name, err)
	}
	return nil
}

// ListRecords returns records in the zone matching a name.
func (c *Client) ListRecords(ctx context.Context, zoneID, name string) ([]Record, error) {
	var recs []Record
	path := "/zones/" + zoneID + "/dns_records?name=" + url.QueryEscape(name)
	if err := c.do(ctx, http.MethodGet, path, nil, &recs); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return recs, nil
}

// DeleteRecord removes a record by id.
func (c *Client) DeleteRecord(ctx context.Context, zoneID, recordID string) error {
	if err := c.do(ctx, http.MethodDelete, "/zones/"+zoneID+"/dns_records/"+recordID, nil, nil); err != nil {
		return fmt.Errorf("delete record %s: %w", recordID, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !env.Success {
		if len(env.Errors) > 0 {
			return fmt.Errorf("api error %d: %s", env.Errors[0].Code, env.Errors[0].Message)
		}
		return fmt.Errorf("api error: status %d", resp.StatusCode)
	}
	if out != nil {
		return json.Unmarshal(env.Result, out)
	}
	return nil
}
