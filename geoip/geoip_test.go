package geoip

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/198.51.100.4" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"countryCode": "US", "city": "San Francisco"}`))
	}))
	defer srv.Close()

	c := NewClient()
	c.GeoBase = srv.URL

	country, city, err := c.Lookup(context.Background(), "198.51.100.4")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if country != "US" || city != "San Francisco" {
		t.Errorf("got %q/%q", country, city)
	}
}

func TestLookup_EmptyCountry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "fail"}`))
	}))
	defer srv.Close()

	c := NewClient()
	c.GeoBase = srv.URL

	if _, _, err := c.Lookup(context.Background(), "10.0.0.1"); err == nil {
		t.Error("expected error for failed lookup")
	}
}

func TestPublicIP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("203.0.113.9\n"))
	}))
	defer srv.Close()

	c := NewClient()
	c.EchoURL = srv.URL

	ip, err := c.PublicIP(context.Background())
	if err != nil {
		t.Fatalf("PublicIP: %v", err)
	}
	if ip != "203.0.113.9" {
		t.Errorf("ip = %q", ip)
	}
}

func TestPublicIP_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient()
	c.EchoURL = srv.URL

	if _, err := c.PublicIP(context.Background()); err == nil {
		t.Error("expected error for 503")
	}
}
