package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiredm-server/internal/auth"
	"github.com/vovakirdan/wiredm-server/internal/config"
	"github.com/vovakirdan/wiredm-server/internal/core"
	"github.com/vovakirdan/wiredm-server/internal/metrics"
	"github.com/vovakirdan/wiredm-server/internal/store"
)

// Deps are the services the HTTP layer routes to.
type Deps struct {
	Auth      *auth.Service
	Users     store.UserStore
	Directory *core.Directory
	Messenger *core.Messenger
	Presence  *core.Presence
	Limiter   Limiter // optional
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer // serves /metrics when set
}

// NewServer builds an HTTP server with REST, WebSocket and operational routes.
func NewServer(deps Deps, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewHandler(deps, cfg, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewHandler mounts the WebSocket endpoint next to the gin router. /ws must
// stay off gin: the upgrade hijacks the connection after writing 101.
func NewHandler(deps Deps, cfg *config.Config, logger *zerolog.Logger) stdhttp.Handler {
	mux := stdhttp.NewServeMux()
	mux.Handle("/ws", NewWSHandler(deps.Auth, deps.Messenger, deps.Presence, deps.Metrics, cfg.WS, logger))
	mux.Handle("/", NewRouter(deps, cfg, logger))
	return mux
}

// NewRouter wires the REST and operational routes onto a gin engine.
func NewRouter(deps Deps, cfg *config.Config, logger *zerolog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger, deps.Metrics))

	router.GET("/health", healthHandler)
	if cfg.Metrics.Enabled && deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	apiHandlers := NewAPIHandlers(deps.Auth, logger)
	userHandlers := NewUserHandlers(deps.Users, logger)
	messageHandlers := NewMessageHandlers(deps.Directory, deps.Messenger, logger)

	api := router.Group("/api")
	{
		public := api.Group("")
		if deps.Limiter != nil {
			public.Use(RateLimitMiddleware(deps.Limiter, deps.Metrics, logger))
		}
		public.POST("/register", apiHandlers.Register)
		public.POST("/login", apiHandlers.Login)

		protected := api.Group("")
		protected.Use(AuthMiddleware(deps.Auth, logger))
		if deps.Limiter != nil {
			protected.Use(RateLimitMiddleware(deps.Limiter, deps.Metrics, logger))
		}
		{
			protected.GET("/me", userHandlers.Me)
			protected.GET("/users/search", userHandlers.SearchUsers)
			protected.GET("/conversations", messageHandlers.ListConversations)

			messages := protected.Group("/messages")
			{
				messages.GET("/:userId", messageHandlers.ListMessages)
				messages.POST("/:userId", messageHandlers.SendMessage)
				messages.GET("/item/:messageId", messageHandlers.GetMessage)
				messages.DELETE("/item/:messageId", messageHandlers.DeleteMessage)
				messages.POST("/item/:messageId/reactions", messageHandlers.React)
			}
		}
	}

	return router
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
