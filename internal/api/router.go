// Package api exposes the outreach services over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ignite/outreach/internal/auth"
	"github.com/ignite/outreach/internal/pkg/logger"
	"github.com/ignite/outreach/internal/pkg/metrics"
	"github.com/ignite/outreach/internal/service/campaign"
	"github.com/ignite/outreach/internal/service/delivery"
	"github.com/ignite/outreach/internal/service/oauth"
	"github.com/ignite/outreach/internal/service/social"
	"github.com/ignite/outreach/internal/service/wallet"
	"github.com/ignite/outreach/internal/tracking"
)

// Deps are the services the router dispatches to.
type Deps struct {
	Auth       *auth.Manager
	Campaigns  *campaign.Service
	Wallet     *wallet.Service
	Tracking   *tracking.Handler
	Reconciler *delivery.Reconciler
	Parsers    []delivery.Parser
	OAuth      *oauth.Service
	Social     *social.Service
	Health     *HealthChecker

	AllowedOrigins []string
	// AppRedirectURL is the front-end base the OAuth callback returns to.
	AppRedirectURL string
}

// Server holds the handlers.
type Server struct {
	d       Deps
	parsers map[string]delivery.Parser
}

// NewServer indexes the webhook parsers by provider name.
func NewServer(d Deps) *Server {
	s := &Server{d: d, parsers: make(map[string]delivery.Parser, len(d.Parsers))}
	for _, p := range d.Parsers {
		s.parsers[p.Provider()] = p
	}
	return s
}

// Routes builds the full API router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.d.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if s.d.Health != nil {
		r.Get("/health", s.d.Health.HandleHealth)
		r.Get("/health/live", s.d.Health.HandleLiveness)
		r.Get("/health/ready", s.d.Health.HandleReadiness)
	}
	r.Handle("/metrics", promhttp.Handler())

	if s.d.Tracking != nil {
		s.d.Tracking.Mount(r)
	}
	r.Post("/email/webhooks/{provider}", s.handleDeliveryWebhook)
	r.Get("/{provider}/oauth/callback", s.handleOAuthCallback)

	r.Group(func(r chi.Router) {
		r.Use(s.d.Auth.RequireUser)

		r.Post("/campaigns", s.handleCreateCampaign)
		r.Get("/campaigns/{id}", s.handleGetCampaign)
		r.Get("/campaigns/{id}/stats", s.handleCampaignStats)
		r.Post("/campaigns/{id}/recipients", s.handleAddRecipients)
		r.Post("/campaigns/{id}/send", s.handleSendCampaign)

		r.Get("/wallet", s.handleWallet)
		r.Get("/wallet/ledger", s.handleLedger)

		r.Get("/{provider}/oauth/start", s.handleOAuthStart)
		r.Post("/{provider}/disconnect", s.handleDisconnect)
		r.Get("/{provider}/status", s.handleConnectionStatus)
		r.Get("/facebook/pages", s.handlePages)
		r.Post("/facebook/pages/select", s.handleSelectPage)

		r.Post("/social/{provider}/publish", s.handlePublish)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.d.Auth.RequireAdmin)
		r.Post("/wallet/credits", s.handleAddCredits)
	})
	return r
}

// accessLog writes one structured line per request.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
