// Package adminapi exposes broadcast operations to the CRM admin over HTTP.
package adminapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	"tg-crm/internal/broadcast"
	"tg-crm/internal/database/models"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	glog "github.com/labstack/gommon/log"
	"github.com/nrednav/cuid2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Service is the broadcast engine as seen by the API. *broadcast.Engine implements it.
type Service interface {
	Create(ctx context.Context, b *models.Broadcast) error
	Send(ctx context.Context, id primitive.ObjectID) (*broadcast.Summary, error)
	Enqueue(ctx context.Context, id primitive.ObjectID) error
	Stats(ctx context.Context, id primitive.ObjectID) (models.StatusCounts, error)
	Deliveries(ctx context.Context, id primitive.ObjectID) ([]models.Delivery, error)
}

// Submitter hands queued broadcasts to the dispatcher. *dispatch.Dispatcher implements it.
type Submitter interface {
	Submit(id primitive.ObjectID) bool
}

// Config configures the server.
type Config struct {
	Addr       string
	Token      string // Bearer token required on /api; empty disables auth
	Language   string // Fallback language of response messages
	Debug      bool
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// Server is the admin HTTP server.
type Server struct {
	echo      *echo.Echo
	cfg       Config
	svc       Service
	submitter Submitter
	runCtx    context.Context
}

// New builds the server. Inline sends run under runCtx rather than the request
// context, so a dropped HTTP client does not interrupt a broadcast.
func New(runCtx context.Context, cfg Config, svc Service, submitter Submitter) *Server {
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.DefaultRegisterer
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	if cfg.Debug {
		e.Logger.SetLevel(glog.DEBUG)
	} else {
		e.Logger.SetLevel(glog.INFO)
	}

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string {
			return cuid2.Generate()
		},
	}))
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "admin",
		Registerer: cfg.Registerer,
	}))
	e.Use(middleware.Recover())

	s := &Server{
		echo:      e,
		cfg:       cfg,
		svc:       svc,
		submitter: submitter,
		runCtx:    runCtx,
	}

	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: cfg.Gatherer}))
	e.GET("/healthz", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})

	api := e.Group("/api")
	if cfg.Token != "" {
		api.Use(middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
			Validator: func(key string, c echo.Context) (bool, error) {
				return subtle.ConstantTimeCompare([]byte(key), []byte(cfg.Token)) == 1, nil
			},
		}))
	}
	api.POST("/broadcasts", s.handleCreate)
	api.POST("/broadcasts/:id/send", s.handleSend)
	api.POST("/broadcasts/:id/queue", s.handleQueue)
	api.GET("/broadcasts/:id/stats", s.handleStats)
	api.GET("/broadcasts/:id/deliveries", s.handleDeliveries)
	api.GET("/broadcasts/:id/deliveries.csv", s.handleDeliveriesCSV)

	return s
}

// ServeHTTP makes the server usable as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start listens on the configured address until Shutdown is called.
func (s *Server) Start() error {
	log.Info().Str("addr", s.cfg.Addr).Msg("[AdminAPI] Listening")
	if err := s.echo.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
