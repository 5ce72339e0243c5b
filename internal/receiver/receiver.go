// Package receiver exposes the adapters over HTTP.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	"github.com/fraser-isbester/cdfwd/internal/config"
	"github.com/fraser-isbester/cdfwd/internal/ingest"
	"github.com/fraser-isbester/cdfwd/internal/logger"
)

type Option func(*Receiver)

// WithTracing wraps every request in a server span named after service.
func WithTracing(service string) Option {
	return func(r *Receiver) { r.tracingService = service }
}

// WithVersion sets the version reported by GET /.
func WithVersion(version string) Option {
	return func(r *Receiver) { r.version = version }
}

// Receiver serves webhook deliveries to the ingest service.
type Receiver struct {
	config         config.ServerConfig
	service        *ingest.Service
	version        string
	tracingService string
	log            zerolog.Logger

	engine *gin.Engine
	server *http.Server
}

func New(cfg config.ServerConfig, service *ingest.Service, opts ...Option) *Receiver {
	r := &Receiver{
		config:  cfg,
		service: service,
		version: "dev",
		log:     logger.GetLogger("receiver"),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.engine = r.routes()
	return r
}

// Handler returns the router, mainly for tests.
func (r *Receiver) Handler() http.Handler {
	return r.engine
}

func (r *Receiver) routes() *gin.Engine {
	engine := gin.New()
	engine.HandleMethodNotAllowed = true

	if r.tracingService != "" {
		engine.Use(otelgin.Middleware(r.tracingService))
	}
	engine.Use(Recovery(r.log), RequestID(), AccessLog(r.log))
	if rl := r.config.RateLimit; rl.Enabled {
		engine.Use(RateLimit(rate.NewLimiter(rate.Limit(rl.RPS), rl.Burst)))
	}
	engine.Use(BodyLimit(r.config.MaxBodyBytes))

	engine.GET("/healthz", r.health)
	engine.GET("/", r.index)

	adapters := engine.Group("/adapters")
	adapters.GET("", r.listAdapters)
	adapters.GET("/:provider", r.adapterInfo)
	adapters.GET("/:provider/schemas/:eventType", r.webhookSchema)
	adapters.POST("/:provider/webhook", r.webhook)
	adapters.POST("/:provider/events/:eventType", r.event)

	validate := engine.Group("/validate")
	validate.POST("/event", r.validateEvent)
	validate.POST("/:subject/:verb", r.validateTyped)

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, failure("Not found", c.Request.URL.Path))
	})
	engine.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, failure("Method not allowed", c.Request.Method))
	})
	return engine
}

// Start binds the listen address and serves in the background.
func (r *Receiver) Start(ctx context.Context) error {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", r.config.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", r.config.Addr(), err)
	}

	r.server = &http.Server{
		Handler:      r.engine,
		ReadTimeout:  r.config.ReadTimeout,
		WriteTimeout: r.config.WriteTimeout,
	}

	go func() {
		r.log.Info().Str("addr", ln.Addr().String()).Msg("starting webhook receiver")
		if err := r.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.log.Error().Err(err).Msg("webhook server error")
		}
	}()
	return nil
}

// Stop gracefully shuts down the receiver.
func (r *Receiver) Stop(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	if r.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.ShutdownTimeout)
		defer cancel()
	}
	return r.server.Shutdown(ctx)
}

func (r *Receiver) Name() string {
	return "webhook"
}
