package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/propel-crm/email-events/internal/tracking"
)

// Server hosts the webhook ingest endpoints, the tracking endpoints and
// the read-side API.
type Server struct {
	router *chi.Mux
	server *http.Server
}

// NewServer assembles the router. trackingHandler may be nil when
// first-party tracking is disabled.
func NewServer(webhooks *WebhookHandler, reads *ReadHandlers, trackingHandler *tracking.Handler, allowedOrigins []string) *Server {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", reads.HandleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/webhooks/{provider}", webhooks.Handle)

	if trackingHandler != nil {
		r.Mount("/track", trackingHandler.Routes())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/system/stats", reads.HandleStats)
		r.Get("/campaigns/{campaignID}/counters", reads.HandleCampaignCounters)
		r.Get("/subscribers/{subscriberID}/engagement", reads.HandleEngagement)
		r.Get("/suppressions", reads.HandleSuppressionList)
		r.Delete("/suppressions", reads.HandleSuppressionRemove)
		r.Get("/dead-letters", reads.HandleDeadLetters)
	})

	return &Server{router: r}
}

// ListenAndServe starts the HTTP server. Webhook bodies are small and
// providers time out fast, so the timeouts stay tight.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler { return s.router }
