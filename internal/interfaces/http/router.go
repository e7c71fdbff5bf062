// Package http wires the gin engine, routes, and server lifecycle.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Largonarco/RateX/internal/config"
	"github.com/Largonarco/RateX/internal/infrastructure/monitoring"
	"github.com/Largonarco/RateX/internal/interfaces/http/handlers"
	"github.com/Largonarco/RateX/internal/interfaces/http/middleware"
	"github.com/Largonarco/RateX/pkg/logger"
)

// Router owns the gin engine and the HTTP server.
type Router struct {
	engine *gin.Engine
	config *config.Config
	logger logger.Logger
	server *http.Server
}

// Dependencies bundles what the router needs to build its routes.
type Dependencies struct {
	Config        *config.Config
	Logger        logger.Logger
	Tracing       *monitoring.TracingManager
	ProxyHandler  *handlers.ProxyHandler
	StatusHandler *handlers.StatusHandler
	HealthHandler *handlers.HealthHandler
}

// NewRouter builds the engine and registers all routes.
func NewRouter(deps Dependencies) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	r := &Router{
		engine: engine,
		config: deps.Config,
		logger: deps.Logger,
	}
	r.setupRoutes(deps)
	return r
}

func (r *Router) setupRoutes(deps Dependencies) {
	r.engine.Use(gin.Recovery())
	r.engine.Use(middleware.RequestID())
	r.engine.Use(middleware.Logging(deps.Logger))
	if deps.Tracing != nil {
		r.engine.Use(middleware.Tracing(deps.Tracing))
	}

	corsConfig := cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID", "X-RateLimit-Strategy"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	r.engine.Use(cors.New(corsConfig))

	r.engine.GET("/health/live", deps.HealthHandler.LivenessCheck)
	r.engine.GET("/health/ready", deps.HealthHandler.ReadinessCheck)
	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if r.config.Server.PprofEnabled {
		pprof.Register(r.engine)
	}

	apis := r.engine.Group("/apis")
	apis.Use(middleware.Auth(r.config.Auth.JWTSecret, deps.Logger))
	{
		apis.GET("/status/:ticketId", deps.StatusHandler.Handle)
		apis.Any("/:appId/*path", deps.ProxyHandler.Handle)
	}

	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":             "not_found",
			"error_description": "The requested resource was not found",
		})
	})
}

// Engine exposes the gin engine for tests.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// Start runs the HTTP server. It blocks until the server stops.
func (r *Router) Start() error {
	r.server = &http.Server{
		Addr:           r.config.Server.Addr(),
		Handler:        r.engine,
		ReadTimeout:    r.config.Server.ReadTimeout,
		WriteTimeout:   r.config.Server.WriteTimeout,
		IdleTimeout:    r.config.Server.IdleTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	r.logger.Info(context.Background(), "starting HTTP server",
		logger.String("address", r.server.Addr),
	)

	if err := r.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully.
func (r *Router) Stop(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	r.logger.Info(ctx, "stopping HTTP server")
	return r.server.Shutdown(ctx)
}
