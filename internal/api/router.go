// Package api exposes boxes, items, placements and edit sessions over a JSON
// HTTP API.
package api

import (
	"net/http"
	"time"

	"github.com/erazemk/boxanizer/internal/db"
	"github.com/erazemk/boxanizer/internal/imaging"
	"github.com/erazemk/boxanizer/internal/metrics"
	"github.com/erazemk/boxanizer/internal/store"
)

// Config wires the router to its collaborators. Boxes and Items default to
// the SQL adapters over DB; Metrics is optional.
type Config struct {
	DB        *db.DB
	JWTSecret string
	TokenTTL  time.Duration
	Boxes     store.BoxRepository
	Items     store.ItemRepository
	Metrics   *metrics.Metrics
	Imaging   imaging.Options
}

// Router is the API handler plus the session registry it owns.
type Router struct {
	http.Handler
	Sessions *SessionsHandler
}

// NewRouter creates the API router with all endpoints registered.
func NewRouter(cfg Config) *Router {
	if cfg.Boxes == nil {
		cfg.Boxes = &store.Boxes{DB: cfg.DB}
	}
	if cfg.Items == nil {
		cfg.Items = &store.Items{DB: cfg.DB}
	}

	mux := http.NewServeMux()

	authHandler := &AuthHandler{DB: cfg.DB, JWTSecret: cfg.JWTSecret, TokenTTL: cfg.TokenTTL}
	boxesHandler := &BoxesHandler{DB: cfg.DB, Boxes: cfg.Boxes}
	itemsHandler := &ItemsHandler{DB: cfg.DB, Items: cfg.Items}
	sessionsHandler := &SessionsHandler{
		Boxes:   cfg.Boxes,
		Items:   cfg.Items,
		Metrics: cfg.Metrics,
		Imaging: cfg.Imaging,
	}

	authMW := AuthMiddleware(cfg.JWTSecret, cfg.DB)
	protect := func(h http.HandlerFunc) http.Handler { return authMW(h) }

	// Public.
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics.Handler())
	}

	mux.Handle("PUT /api/auth/password", protect(authHandler.ChangePassword))
	mux.Handle("POST /api/auth/logout", protect(authHandler.Logout))

	mux.Handle("GET /api/boxes", protect(boxesHandler.List))
	mux.Handle("GET /api/boxes/{id}", protect(boxesHandler.Get))
	mux.Handle("DELETE /api/boxes/{id}", protect(boxesHandler.Delete))
	mux.Handle("GET /api/boxes/{id}/image", protect(boxesHandler.GetImage))
	mux.Handle("GET /api/boxes/{id}/items", protect(boxesHandler.Contents))
	mux.Handle("POST /api/boxes/{id}/items", protect(boxesHandler.Place))
	mux.Handle("DELETE /api/boxes/{id}/items/{itemID}", protect(boxesHandler.Remove))

	mux.Handle("GET /api/items", protect(itemsHandler.List))
	mux.Handle("GET /api/items/{id}", protect(itemsHandler.Get))
	mux.Handle("DELETE /api/items/{id}", protect(itemsHandler.Delete))
	mux.Handle("GET /api/items/{id}/image", protect(itemsHandler.GetImage))

	mux.Handle("POST /api/sessions", protect(sessionsHandler.Open))
	mux.Handle("GET /api/sessions/{sid}", protect(sessionsHandler.Get))
	mux.Handle("PUT /api/sessions/{sid}", protect(sessionsHandler.Edit))
	mux.Handle("PUT /api/sessions/{sid}/image", protect(sessionsHandler.SetImage))
	mux.Handle("POST /api/sessions/{sid}/save", protect(sessionsHandler.Save))
	mux.Handle("DELETE /api/sessions/{sid}", protect(sessionsHandler.Close))

	return &Router{
		Handler:  LoggingMiddleware(cfg.Metrics)(mux),
		Sessions: sessionsHandler,
	}
}
