package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"relayforge/model"
)

func TestDeployRejectsBadBody(t *testing.T) {
	h := &Handler{}

	cases := []struct {
		name string
		body string
	}{
		{"not json", "{{{"},
		{"missing ip", `{"rootPassword":"pw"}`},
		{"bad ip", `{"ip":"not-an-ip","rootPassword":"pw"}`},
		{"missing password", `{"ip":"198.51.100.7"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/nodes/deploy", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			h.Deploy(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestValidateNodeName(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/nodes/{name}", func(r chi.Router) {
		r.Use(ValidateNodeName)
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	})

	cases := []struct {
		name string
		code int
	}{
		{"US-SAN-01", http.StatusNoContent},
		{"UN-UNK-03", http.StatusNoContent},
		{"DE-B-12", http.StatusNoContent},
		{"BR-SÃO-01", http.StatusNoContent},
		{"PL-ŁÓD-02", http.StatusNoContent},
		{"us-san-01", http.StatusBadRequest},
		{"US-SAN-1", http.StatusBadRequest},
		{"USA-SAN-01", http.StatusBadRequest},
		{"US-SAN-01;DROP", http.StatusBadRequest},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/nodes/"+tc.name+"/", nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != tc.code {
			t.Errorf("%s: status = %d, want %d", tc.name, rec.Code, tc.code)
		}
	}
}

func TestValidateNodeNameAcceptsDerivedNames(t *testing.T) {
	// Every name the provisioner can derive must be routable through
	// the middleware, including cities that keep non-ASCII letters.
	cases := []struct {
		cc   string
		city string
	}{
		{"US", "San Diego"},
		{"BR", "São Paulo"},
		{"CH", "Zürich"},
		{"PL", "Łódź"},
		{"UN", ""},
	}
	for _, tc := range cases {
		name := model.NodeName(tc.cc, model.CityCode(tc.city), 1)
		if !validNodeNameRe.MatchString(name) {
			t.Errorf("derived name %q rejected by the node name pattern", name)
		}
	}
}

func TestEventEndpointsWithoutStore(t *testing.T) {
	h := &Handler{}

	rec := httptest.NewRecorder()
	h.GetRunEvents(rec, httptest.NewRequest(http.MethodGet, "/api/runs/abc/events", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("run events status = %d, want 503", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ListRecentEvents(rec, httptest.NewRequest(http.MethodGet, "/api/events", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("recent events status = %d, want 503", rec.Code)
	}
}
