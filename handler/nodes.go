package handler

import (
	"context"
	"encoding/json"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"relayforge/hub"
)

type DeployRequest struct {
	IP           string `json:"ip"`
	RootPassword string `json:"rootPassword"`
}

type DeployResponse struct {
	Success bool   `json:"success"`
	Report  string `json:"report"`
}

// Deploy provisions a fresh host. The call blocks until the run
// finishes and always answers with a transcript; progress streams over
// the websocket in the meantime.
func (h *Handler) Deploy(w http.ResponseWriter, r *http.Request) {
	var req DeployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if net.ParseIP(req.IP) == nil {
		http.Error(w, "invalid ip address", http.StatusBadRequest)
		return
	}
	if req.RootPassword == "" {
		http.Error(w, "rootPassword is required", http.StatusBadRequest)
		return
	}

	ok, report := h.pipe.Provision(r.Context(), req.IP, req.RootPassword)
	writeJSON(w, DeployResponse{Success: ok, Report: report})
}

// Teardown withdraws a node. Cleanup is best effort and runs in the
// background; the request is acknowledged immediately.
func (h *Handler) Teardown(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	node, err := h.db.GetNodeByName(r.Context(), name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if node == nil {
		http.Error(w, "node not found", http.StatusNotFound)
		return
	}

	h.ws.Broadcast(hub.Event{Type: "teardown.queued", Node: name})
	go h.pipe.Deprovision(context.Background(), node.Name, node.Domain)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "tearing_down", "node": name})
}

// ListNodes returns the active fleet. Credentials never appear in the
// serialized rows.
func (h *Handler) ListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.db.ActiveNodes(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, nodes)
}

func (h *Handler) GetNode(w http.ResponseWriter, r *http.Request) {
	node, err := h.db.GetNodeByName(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if node == nil {
		http.Error(w, "node not found", http.StatusNotFound)
		return
	}
	writeJSON(w, node)
}

// GetRunEvents returns the persisted event trail of one provisioning
// or teardown run.
func (h *Handler) GetRunEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		http.Error(w, "event store not configured", http.StatusServiceUnavailable)
		return
	}
	events, err := h.events.ListByRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, events)
}

func (h *Handler) ListRecentEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		http.Error(w, "event store not configured", http.StatusServiceUnavailable)
		return
	}
	events, err := h.events.ListRecent(r.Context(), 100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, events)
}
