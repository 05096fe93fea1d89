package cloudflare

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient("cf-token")
	c.BaseURL = srv.URL
	return c
}

func TestZoneID(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/zones" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("name"); got != "example.com" {
			t.Errorf("name = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer cf-token" {
			t.Errorf("auth = %q", got)
		}
		w.Write([]byte(`{"success": true, "result": [{"id": "zone-1", "name": "example.com"}]}`))
	})

	id, err := c.ZoneID(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("ZoneID: %v", err)
	}
	if id != "zone-1" {
		t.Errorf("id = %q", id)
	}
}

func TestZoneID_NotFound(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": true, "result": []}`))
	})

	if _, err := c.ZoneID(context.Background(), "missing.com"); err == nil {
		t.Error("expected error for missing zone")
	}
}

func TestCreateRecord(t *testing.T) {
	var got Record
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/zones/zone-1/dns_records" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"success": true, "result": {"id": "rec-1"}}`))
	})

	err := c.CreateRecord(context.Background(), "zone-1", Record{Name: "us-01.example.com", Content: "198.51.100.4"})
	if err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	if got.Type != "A" {
		t.Errorf("type = %q, want A", got.Type)
	}
	if got.Proxied {
		t.Error("relay records must not be proxied")
	}
	if got.Content != "198.51.100.4" {
		t.Errorf("content = %q", got.Content)
	}
}

func TestListAndDeleteRecords(t *testing.T) {
	deleted := []string{}
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			w.Write([]byte(`{"success": true, "result": [
				{"id": "rec-1", "type": "A", "name": "us-01.example.com", "content": "198.51.100.4"},
				{"id": "rec-2", "type": "A", "name": "us-01.example.com", "content": "198.51.100.5"}
			]}`))
		case r.Method == http.MethodDelete:
			deleted = append(deleted, r.URL.Path)
			w.Write([]byte(`{"success": true, "result": null}`))
		}
	})

	ctx := context.Background()
	recs, err := c.ListRecords(ctx, "zone-1", "us-01.example.com")
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}

	for _, rec := range recs {
		if err := c.DeleteRecord(ctx, "zone-1", rec.ID); err != nil {
			t.Fatalf("DeleteRecord: %v", err)
		}
	}
	if len(deleted) != 2 {
		t.Errorf("deleted = %v", deleted)
	}
}

func TestAPIError(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"success": false, "errors": [{"code": 81057, "message": "record already exists"}]}`))
	})

	err := c.CreateRecord(context.Background(), "zone-1", Record{Name: "dup.example.com", Content: "198.51.100.4"})
	if err == nil {
		t.Fatal("expected error")
	}
	if want := "record already exists"; !strings.Contains(err.Error(), want) {
		t.Errorf("error %q does not mention %q", err, want)
	}
}
