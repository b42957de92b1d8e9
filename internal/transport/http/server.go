package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/doctordirect/consult-relay/internal/auth"
	"github.com/doctordirect/consult-relay/internal/config"
	"github.com/doctordirect/consult-relay/internal/core"
	"github.com/doctordirect/consult-relay/internal/metrics"
	"github.com/doctordirect/consult-relay/internal/store"
	"github.com/doctordirect/consult-relay/internal/video"
)

// Deps are the collaborators the HTTP layer serves.
type Deps struct {
	Relay    *core.Relay
	Store    store.Store
	Resolver *auth.Resolver
	Video    video.Engine
	Metrics  *metrics.HTTPMetrics
	// Gatherer backs /metrics. Defaults to the prometheus default gatherer.
	Gatherer prometheus.Gatherer
}

// NewServer builds the HTTP server. /ws is served from a plain mux; health,
// metrics and the REST API go through the gin router.
func NewServer(deps Deps, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)

	if deps.Video == nil {
		deps.Video = video.Disabled{}
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))
	router.Use(MetricsMiddleware(deps.Metrics))

	router.GET("/health", healthHandler)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))

	consultations := NewConsultationHandlers(deps.Relay, deps.Store, deps.Video, logger)

	api := router.Group("/api")
	api.Use(AuthMiddleware(deps.Resolver, logger))
	{
		api.GET("/me", meHandler)
		api.GET("/consultations/:id/messages", consultations.ListMessages)
		api.GET("/consultations/:id/status", consultations.GetStatus)
		api.GET("/consultations/:id/participants", consultations.ListParticipants)
		api.POST("/consultations/:id/video", consultations.JoinVideo)
	}

	// /ws hijacks the connection and must not go through gin's response writer.
	mux := stdhttp.NewServeMux()
	mux.Handle("/ws", NewWSHandler(deps.Relay, deps.Resolver, WSOptions{
		MessageRate:     cfg.WS.MessageRate,
		MessageBurst:    cfg.WS.MessageBurst,
		MaxMessageBytes: cfg.WS.MaxMessageBytes,
		AllowedOrigins:  cfg.WS.AllowedOrigins,
	}, logger))
	mux.Handle("/", router)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}

func meHandler(c *gin.Context) {
	id := identityFrom(c)
	c.JSON(stdhttp.StatusOK, userFromIdentity(id))
}
