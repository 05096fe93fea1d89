package handler

import (
	"encoding/json"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"

	"relayforge/config"
	"relayforge/hub"
	"relayforge/profile"
	"relayforge/provision"
	"relayforge/saga"
	"relayforge/storage"
	"relayforge/store"
)

// City codes keep their original letters (SÃO, ZÜR, ŁÓD), so the city
// segment matches any uppercase letter, not just ASCII.
var validNodeNameRe = regexp.MustCompile(`^[A-Z]{2}-[\p{Lu}\p{N}]{1,3}-[0-9]{2}$`)

type Handler struct {
	db       *store.DB
	pipe     *provision.Pipeline
	ws       *hub.Hub
	cfg      *config.Config
	events   saga.Store
	s3Client *storage.Client
	reality  profile.Reality
}

func New(db *store.DB, pipe *provision.Pipeline, ws *hub.Hub, cfg *config.Config, events saga.Store, s3Client *storage.Client) *Handler {
	return &Handler{
		db:       db,
		pipe:     pipe,
		ws:       ws,
		cfg:      cfg,
		events:   events,
		s3Client: s3Client,
		reality: profile.Reality{
			PublicKey: cfg.RealityPublicKey,
			ShortID:   cfg.RealityShortID,
		},
	}
}

// ValidateNodeName is middleware that rejects requests with malformed
// node names before they reach a handler.
func ValidateNodeName(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if name != "" && !validNodeNameRe.MatchString(name) {
			http.Error(w, "invalid node name", http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
