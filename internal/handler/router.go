package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/zhouzirui/emochat/backend/internal/handler/chat"
	relayhandler "github.com/zhouzirui/emochat/backend/internal/handler/relay"
	middlewarePkg "github.com/zhouzirui/emochat/backend/internal/middleware"
	"github.com/zhouzirui/emochat/backend/internal/relay"
	"github.com/zhouzirui/emochat/backend/internal/storage"
	"github.com/zhouzirui/emochat/backend/pkg/utils"
)

// Services are the collaborators the HTTP layer exposes.
type Services struct {
	Hub      *relay.Hub
	Pipeline relayhandler.Pipeline
	Store    storage.Store
	Accounts chat.Accounts
	Avatars  chat.AvatarResolver
}

// Options carries what the router needs beyond the core services.
type Options struct {
	AllowedOrigins []string
	StaticDir      string
	Logger         *zap.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(svcs Services, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		if err := svcs.Store.Ping(r.Context()); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		utils.RespondJSON(w, code, map[string]any{
			"status":   status,
			"sessions": svcs.Hub.Len(),
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	if opts.StaticDir != "" {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir))))
	}

	r.Route("/api", func(api chi.Router) {
		chat.New(svcs.Accounts, svcs.Store, svcs.Avatars, opts.StaticDir, opts.Logger).RegisterRoutes(api)
	})

	relayhandler.New(svcs.Hub, svcs.Pipeline, opts.AllowedOrigins, opts.Logger).RegisterRoutes(r)

	return r
}
