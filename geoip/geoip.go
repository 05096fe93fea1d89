package geoip

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client resolves where an IP lives and what our own outbound IP is.
// Both upstream services are best-effort; callers fall back to
// sentinels when they are unreachable.
type Client struct {
	GeoBase string // geolocation endpoint, {GeoBase}/{ip}
	EchoURL string // plaintext own-IP endpoint

	http *http.Client
}

func NewClient() *Client {
	return &Client{
		GeoBase: "http://ip-api.com/json",
		EchoURL: "https://api.ipify.org",
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Lookup resolves an IP to its country code and city.
func (c *Client) Lookup(ctx context.Context, ip string) (country, city string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.GeoBase+"/"+ip, nil)
	if err != nil {
		return "", "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("geoip: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("geoip: status %d", resp.StatusCode)
	}

	var body struct {
		CountryCode string `json:"countryCode"`
		City        string `json:"city"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", "", fmt.Errorf("geoip: %w", err)
	}
	if body.CountryCode == "" {
		return "", "", fmt.Errorf("geoip: empty country for %s", ip)
	}
	return body.CountryCode, body.City, nil
}

// PublicIP discovers this process's external IP.
func (c *Client) PublicIP(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.EchoURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("public ip: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("public ip: status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return "", fmt.Errorf("public ip: %w", err)
	}
	ip := strings.TrimSpace(string(raw))
	if ip == "" {
		return "", fmt.Errorf("public ip: empty response")
	}
	return ip, nil
}
