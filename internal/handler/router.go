package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	authhandler "github.com/zhouzirui/nova/internal/handler/auth"
	cataloghandler "github.com/zhouzirui/nova/internal/handler/catalog"
	"github.com/zhouzirui/nova/internal/handler/chat"
	feedbackhandler "github.com/zhouzirui/nova/internal/handler/feedback"
	"github.com/zhouzirui/nova/internal/handler/stream"
	uploadhandler "github.com/zhouzirui/nova/internal/handler/upload"
	"github.com/zhouzirui/nova/internal/metrics"
	"github.com/zhouzirui/nova/internal/middleware"
	"github.com/zhouzirui/nova/internal/model/catalog"
	authsvc "github.com/zhouzirui/nova/internal/service/auth"
	taskservice "github.com/zhouzirui/nova/internal/service/task"
	feedbackstore "github.com/zhouzirui/nova/internal/storage/feedback"
	"github.com/zhouzirui/nova/pkg/utils"
)

// Deps are the services the HTTP layer is wired to.
type Deps struct {
	Auth     *authsvc.Service
	Services catalog.Store
	Tasks    *taskservice.Runner
	Feedback feedbackstore.Repository
	Uploads  *uploadhandler.Handler
	Metrics  *metrics.Metrics
	Limiter  *middleware.RateLimiter
	Log      zerolog.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS)
	if d.Metrics != nil {
		r.Use(middleware.Metrics(d.Metrics))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondSuccess(w, http.StatusOK, map[string]string{"state": "ok"})
	})
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}
	d.Uploads.RegisterFileRoutes(r)

	limited := func(r chi.Router) chi.Router {
		if d.Limiter == nil {
			return r
		}
		return r.With(d.Limiter.Middleware)
	}

	var feedbackCounter feedbackhandler.Counter
	if d.Metrics != nil {
		feedbackCounter = d.Metrics
	}

	r.Route("/api", func(api chi.Router) {
		authhandler.New(d.Auth, d.Log.With().Str("component", "auth").Logger()).
			RegisterRoutes(limited(api))

		api.Group(func(authed chi.Router) {
			authed.Use(middleware.Auth(d.Auth, d.Log))

			cataloghandler.New(d.Services).RegisterRoutes(authed)
			feedbackhandler.New(d.Feedback, feedbackCounter, d.Log.With().Str("component", "feedback").Logger()).
				RegisterRoutes(authed)
			d.Uploads.RegisterRoutes(authed)
			stream.New(d.Tasks, d.Log.With().Str("component", "progress").Logger()).
				RegisterRoutes(authed)
			chat.New(d.Tasks, d.Log.With().Str("component", "tasks").Logger()).
				RegisterRoutes(limited(authed))
		})
	})

	return r
}
