package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/zhouzirui/moodtune/backend/internal/handler/chat"
	"github.com/zhouzirui/moodtune/backend/internal/handler/ws"
	middlewarePkg "github.com/zhouzirui/moodtune/backend/internal/middleware"
	chatService "github.com/zhouzirui/moodtune/backend/internal/service/chat"
	"github.com/zhouzirui/moodtune/backend/internal/service/jobs"
	"github.com/zhouzirui/moodtune/backend/pkg/utils"
)

// Dependencies groups the services the HTTP surface is wired to.
type Dependencies struct {
	Sessions *chatService.Service
	Jobs     *jobs.Supervisor
	Turns    ws.Turns
	Conns    *ws.ConnectionManager
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	chatHandler := chat.New(deps.Sessions)
	wsHandler := ws.New(deps.Sessions, deps.Jobs, deps.Turns, deps.Conns, logger)

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
	})
	wsHandler.RegisterRoutes(r)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"sessions": deps.Sessions.Count(),
			"jobs":     deps.Jobs.Active(),
		})
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondError(w, http.StatusNotFound, "not found")
	})

	return r
}
