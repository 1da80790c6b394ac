// Package gateway is the HTTP surface of the server: routing, auth
// middleware, request logging, and translation of domain errors into
// status codes.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sermonforge/server/internal/ai"
	"github.com/sermonforge/server/internal/auth"
	"github.com/sermonforge/server/internal/billing"
	"github.com/sermonforge/server/internal/notes"
	"github.com/sermonforge/server/internal/quota"
	"github.com/sermonforge/server/internal/transcribe"
	"github.com/sermonforge/server/pkg/cache"
	"github.com/sermonforge/server/pkg/database"
	"github.com/sermonforge/server/pkg/metrics"
)

type contextKey string

const userIDKey contextKey = "user_id"

// Gateway handles API requests.
type Gateway struct {
	db          *database.Database
	cache       *cache.Cache
	logger      *zap.Logger
	router      *chi.Mux
	auth        *auth.Service
	notes       notes.Store
	ai          *ai.Gateway
	gate        *quota.Gate
	transcriber transcribe.Provider
	webhooks    *billing.WebhookHandler
	metricsPath string
}

// NewGateway creates the API gateway and wires its routes.
func NewGateway(db *database.Database, c *cache.Cache, logger *zap.Logger, authSvc *auth.Service, noteStore notes.Store, aiGateway *ai.Gateway, gate *quota.Gate, transcriber transcribe.Provider, webhooks *billing.WebhookHandler, metricsPath string) *Gateway {
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	g := &Gateway{
		db:          db,
		cache:       c,
		logger:      logger,
		router:      chi.NewRouter(),
		auth:        authSvc,
		notes:       noteStore,
		ai:          aiGateway,
		gate:        gate,
		transcriber: transcriber,
		webhooks:    webhooks,
		metricsPath: metricsPath,
	}

	g.setupRoutes()
	return g
}

func (g *Gateway) setupRoutes() {
	g.router.Use(middleware.RequestID)
	g.router.Use(middleware.RealIP)
	g.router.Use(g.loggerMiddleware)
	g.router.Use(g.metricsMiddleware)
	g.router.Use(middleware.Recoverer)
	g.router.Use(middleware.Timeout(90 * time.Second))

	g.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "https://*.sermonforge.app"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	g.router.Handle(g.metricsPath, promhttp.Handler())

	g.router.Get("/health", g.handleHealth)
	g.router.Get("/ready", g.handleReady)

	// Payment webhooks authenticate by signature, not by bearer token.
	g.router.Post("/api/webhooks/payments", g.webhooks.HandleWebhook)

	g.router.Post("/api/auth/register", g.handleRegister)
	g.router.Post("/api/auth/login", g.handleLogin)

	g.router.Group(func(r chi.Router) {
		r.Use(g.authMiddleware)

		r.Post("/api/generate/{capability}", g.handleGenerate)
		r.Post("/api/transcribe", g.handleTranscribe)
		r.Get("/api/usage", g.handleUsage)

		r.Get("/api/notes", g.handleListNotes)
		r.Post("/api/notes", g.handleCreateNote)
		r.Get("/api/notes/{note_id}", g.handleGetNote)
		r.Put("/api/notes/{note_id}", g.handleUpdateNote)
		r.Delete("/api/notes/{note_id}", g.handleDeleteNote)
	})
}

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.router.ServeHTTP(w, r)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := g.db.Health(ctx); err != nil {
		g.writeError(w, http.StatusServiceUnavailable, "database not ready")
		return
	}

	if err := g.cache.Health(ctx); err != nil {
		g.writeError(w, http.StatusServiceUnavailable, "cache not ready")
		return
	}

	g.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Middleware

func (g *Gateway) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		g.logger.Info("request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr),
		)
	})
}

func (g *Gateway) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// The chi route pattern keeps cardinality bounded; raw paths
		// would mint a label per note ID.
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}

		metrics.HTTPRequestDuration.WithLabelValues(
			r.Method, route, strconv.Itoa(ww.Status()),
		).Observe(time.Since(start).Seconds())
	})
}

func (g *Gateway) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			g.writeError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

		userID, err := g.auth.ValidateToken(token)
		if err != nil {
			g.logger.Warn("authentication failed", zap.Error(err))
			g.writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// userID returns the authenticated user from the request context. It is only
// meaningful below authMiddleware.
func userID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

// Response helpers

func (g *Gateway) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (g *Gateway) writeError(w http.ResponseWriter, statusCode int, message string) {
	g.writeJSON(w, statusCode, map[string]interface{}{
		"error": map[string]string{
			"message": message,
		},
	})
}
