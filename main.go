package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"relayforge/cloudflare"
	"relayforge/config"
	"relayforge/geoip"
	"relayforge/handler"
	"relayforge/hub"
	"relayforge/panel"
	"relayforge/provision"
	"relayforge/remote"
	"relayforge/saga"
	"relayforge/secrets"
	"relayforge/storage"
	"relayforge/store"
)

func main() {
	cfg := config.Load()

	box, err := secrets.NewBox(cfg.CredentialKey)
	if err != nil {
		log.Fatalf("credential key: %v", err)
	}

	db, err := store.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	if err := store.Migrate(db); err != nil {
		log.Fatalf("migration: %v", err)
	}

	var s3Client *storage.Client
	if cfg.S3Endpoint != "" {
		s3Client, err = storage.NewClient(storage.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			log.Printf("WARNING: S3 storage unavailable (%v)", err)
			s3Client = nil
		} else if err := s3Client.EnsureBucket(context.Background(), cfg.S3Bucket); err != nil {
			log.Printf("WARNING: S3 bucket %s: %v", cfg.S3Bucket, err)
		} else {
			log.Println("S3 report archive connected at " + cfg.S3Endpoint)
		}
	}

	// Parse allowed origins: always include localhost, plus configured extras.
	allowedOrigins := []string{"http://localhost:5173", "http://localhost:3000"}
	if cfg.AllowedOrigins != "" {
		for _, o := range strings.Split(cfg.AllowedOrigins, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				allowedOrigins = append(allowedOrigins, o)
			}
		}
	}

	ws := hub.New(allowedOrigins)
	go ws.Run()

	events := saga.NewPostgresStore(db.Pool)

	pipe := &provision.Pipeline{
		Store:         db,
		Panel:         panel.NewClient(cfg.PanelURL, cfg.PanelToken, cfg.PanelUsername, cfg.PanelPassword),
		DNS:           cloudflare.NewClient(cfg.CloudflareToken),
		Geo:           geoip.NewClient(),
		Remote:        remote.NewApplier(),
		Secrets:       box,
		SagaStore:     events,
		WS:            ws,
		Archive:       s3Client,
		Bucket:        cfg.S3Bucket,
		MainDomain:    cfg.MainDomain,
		TestEnv:       cfg.TestEnv,
		SetupTemplate: cfg.SetupTemplate,
		CertPath:      cfg.CertPath,
		RunDir:        cfg.RunDir,
	}

	h := handler.New(db, pipe, ws, cfg, events, s3Client)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	// Optional bearer token auth when FORGE_API_TOKEN is set
	if cfg.APIToken != "" {
		r.Use(bearerAuth(cfg.APIToken))
		log.Println("API token auth enabled")
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"version": Version})
		})
		r.Get("/nodes", h.ListNodes)
		r.Post("/nodes/deploy", h.Deploy)
		r.Route("/nodes/{name}", func(r chi.Router) {
			r.Use(handler.ValidateNodeName)
			r.Get("/", h.GetNode)
			r.Post("/teardown", h.Teardown)
		})
		r.Get("/events", h.ListRecentEvents)
		r.Get("/runs/{id}/events", h.GetRunEvents)
		r.Route("/sub/{uuid}", func(r chi.Router) {
			r.Get("/profile", h.Profile)
			r.Route("/nodes/{name}", func(r chi.Router) {
				r.Use(handler.ValidateNodeName)
				r.Get("/link", h.NodeLink)
			})
		})
	})

	r.Get("/ws", ws.HandleConnect)

	srv := &http.Server{
		Addr:    cfg.BindAddr + ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		log.Printf("relayforge %s listening on %s:%s", Version, cfg.BindAddr, cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip auth for WebSocket upgrade, health check and subscriptions
			if r.URL.Path == "/ws" || r.URL.Path == "/api/health" || r.URL.Path == "/api/version" ||
				strings.HasPrefix(r.URL.Path, "/api/sub/") {
				next.ServeHTTP(w, r)
				return
			}
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if subtle.ConstantTimeCompare([]byte(auth[7:]), []byte(token)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
