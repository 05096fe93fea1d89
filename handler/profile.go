package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"relayforge/profile"
)

// NodeLink returns the single connection URI for one active node,
// bound to the subscriber uuid in the path.
func (h *Handler) NodeLink(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	node, err := h.db.GetNodeByName(r.Context(), name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if node == nil || !node.IsActive {
		http.Error(w, "node not found", http.StatusNotFound)
		return
	}

	remark := r.URL.Query().Get("remark")
	if remark == "" {
		remark = node.Name
	}
	link := profile.VlessLink(*node, chi.URLParam(r, "uuid"), remark, h.reality)
	writeJSON(w, map[string]string{"link": link})
}

// Profile synthesizes the full smart-client document over the active
// fleet for one subscriber.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.db.ActiveNodes(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	doc, err := profile.Singbox(nodes, chi.URLParam(r, "uuid"), h.reality)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(doc)
}
