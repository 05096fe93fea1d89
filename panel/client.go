package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Client talks to the traffic-management panel. A static token can be
// supplied directly; with admin credentials the client logs in and
// refreshes the token when its exp claim is near.
type Client struct {
	baseURL  string
	username string
	password string

	mu    sync.Mutex
	token string

	http *http.Client
}

func NewClient(baseURL, token, username, password string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		username: username,
		password: password,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Node is a relay registration as the panel sees it.
type Node struct {
	ID               int     `json:"id"`
	Name             string  `json:"name"`
	Address          string  `json:"address"`
	Port             int     `json:"port"`
	APIPort          int     `json:"api_port"`
	UsageCoefficient float64 `json:"usage_coefficient"`
}

// Fixed internal ports every relay exposes to the panel.
const (
	nodePort    = 62050
	nodeAPIPort = 62051
)

// ListNodes returns all relays registered with the panel.
func (c *Client) ListNodes(ctx context.Context) ([]Node, error) {
	var nodes []Node
	if err := c.do(ctx, http.MethodGet, "/api/nodes", nil, &nodes); err != nil {
		return nil, fmt.Errorf("list panel nodes: %w", err)
	}
	return nodes, nil
}

// RegisterNode registers a relay under its public domain.
func (c *Client) RegisterNode(ctx context.Context, name, address string) error {
	body := map[string]interface{}{
		"name":              name,
		"address":           address,
		"port":              nodePort,
		"api_port":          nodeAPIPort,
		"usage_coefficient": 1.0,
	}
	if err := c.do(ctx, http.MethodPost, "/api/node", body, nil); err != nil {
		return fmt.Errorf("register node: %w", err)
	}
	return nil
}

// DeleteNode removes a relay registration by panel id.
func (c *Client) DeleteNode(ctx context.Context, id int) error {
	if err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/node/%d", id), nil, nil); err != nil {
		return fmt.Errorf("delete node %d: %w", id, err)
	}
	return nil
}

// MaskingParams reads the panel core config and returns the SNI and
// port of the first reality inbound. These are the values relay
// traffic is disguised with.
func (c *Client) MaskingParams(ctx context.Context) (string, int, error) {
	var doc map[string]interface{}
	if err := c.do(ctx, http.MethodGet, "/api/core/config", nil, &doc); err != nil {
		return "", 0, fmt.Errorf("core config: %w", err)
	}

	var skipped []string
	inbounds, _ := doc["inbounds"].([]interface{})
	for _, raw := range inbounds {
		in, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		stream, _ := in["streamSettings"].(map[string]interface{})
		if stream == nil {
			continue
		}
		if sec, _ := stream["security"].(string); sec != "reality" {
			continue
		}
		reality, _ := stream["realitySettings"].(map[string]interface{})
		if reality == nil {
			continue
		}

		sni := ""
		if names, _ := reality["serverNames"].([]interface{}); len(names) > 0 {
			sni, _ = names[0].(string)
		}
		if sni == "" {
			if dest, _ := reality["dest"].(string); dest != "" {
				sni = strings.SplitN(dest, ":", 2)[0]
			}
		}
		if sni == "" {
			tag, _ := in["tag"].(string)
			if tag == "" {
				tag = "untagged"
			}
			skipped = append(skipped, tag)
			continue
		}

		port := 443
		if p, ok := in["port"].(float64); ok && p > 0 {
			port = int(p)
		}
		return sni, port, nil
	}
	if len(skipped) > 0 {
		return "", 0, fmt.Errorf("core config has no usable reality inbound: %s missing serverNames and dest",
			strings.Join(skipped, ", "))
	}
	return "", 0, fmt.Errorf("core config has no reality inbound")
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return err
	}

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("panel %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// ensureToken returns a bearer token, logging in when none is held or
// the current one expires within a minute.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && !tokenExpiring(c.token) {
		return c.token, nil
	}
	if c.username == "" {
		if c.token != "" {
			return c.token, nil // static token, nothing to refresh with
		}
		return "", fmt.Errorf("panel: no token and no admin credentials")
	}

	form := url.Values{}
	form.Set("username", c.username)
	form.Set("password", c.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/admin/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("panel login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("panel login: status %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("panel login: %w", err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("panel login: empty token")
	}
	c.token = body.AccessToken
	return c.token, nil
}

// tokenExpiring reports whether a JWT expires within the next minute.
// The signature is the panel's concern; only the exp claim is read.
// Opaque non-JWT tokens are treated as non-expiring.
func tokenExpiring(token string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return time.Until(exp.Time) < time.Minute
}
