package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Maco21496/remindandpay-live/internal/auth"
)

// RouterDeps collects everything the router mounts. Auth may be nil, which
// leaves the admin group open (local development); webhook handlers carry
// their own provider auth and never sit behind the session gate.
type RouterDeps struct {
	Handlers       *Handlers
	Auth           *auth.Manager
	Postmark       *PostmarkWebhook
	Twilio         *TwilioWebhook
	AllowedOrigins []string
}

// NewRouter assembles the full HTTP surface.
func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Unauthenticated operational endpoints.
	r.Get("/health", deps.Handlers.HealthCheck)
	r.Method("GET", "/metrics", promhttp.Handler())

	if deps.Auth != nil {
		r.Get("/auth/login", deps.Auth.HandleLogin)
		r.Get("/auth/callback", deps.Auth.HandleCallback)
		r.Get("/auth/logout", deps.Auth.HandleLogout)
		r.Get("/auth/user", deps.Auth.HandleUserInfo)
	}

	r.Route("/api", func(r chi.Router) {
		// Provider webhooks: Basic auth (Postmark) or request signatures
		// (Twilio), never the operator session.
		if deps.Postmark != nil {
			r.Post("/postmark/webhook", deps.Postmark.Handle)
		}
		if deps.Twilio != nil {
			r.Route("/sms/webhooks", func(r chi.Router) {
				r.Post("/status", deps.Twilio.HandleStatus)
				r.Post("/inbound", deps.Twilio.HandleInbound)
			})
		}

		// Admin group behind the operator session.
		r.Group(func(r chi.Router) {
			if deps.Auth != nil {
				r.Use(deps.Auth.RequireAuth)
			}

			r.Route("/outbox", func(r chi.Router) {
				r.Get("/", deps.Handlers.ListOutbox)
				r.Get("/{id}", deps.Handlers.GetOutboxJob)
				r.Post("/{id}/cancel", deps.Handlers.CancelJob)
				r.Post("/{id}/retry", deps.Handlers.RetryJob)
			})

			r.Route("/runs", func(r chi.Router) {
				r.Get("/", deps.Handlers.ListRuns)
				r.Get("/{id}", deps.Handlers.GetRun)
			})

			r.Route("/statement-reminders", func(r chi.Router) {
				r.Post("/enqueue-one", deps.Handlers.EnqueueOne)
				r.Post("/enqueue-due", deps.Handlers.EnqueueDue)
			})
		})
	})

	return r
}
