package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/user/pagejson-service/internal/config"
	"github.com/user/pagejson-service/internal/domain"
	"github.com/user/pagejson-service/internal/monitoring"
	"github.com/user/pagejson-service/internal/pipeline"
	"github.com/user/pagejson-service/internal/storage"
	"go.uber.org/zap"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HistoryReader serves the extraction history endpoint.
type HistoryReader interface {
	Pinger
	GetHistory(ctx context.Context, path string) (*storage.PageHistory, error)
}

// FailureReader serves the failure counter endpoint.
type FailureReader interface {
	Pinger
	FailureCount(ctx context.Context, path string) (int64, error)
}

// Deps holds the optional collaborators of a Server. Leave History or
// Failures nil when the corresponding store is not configured.
type Deps struct {
	History  HistoryReader
	Failures FailureReader
	Metrics  *monitoring.Metrics
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	config     *config.Config
	pipeline   *pipeline.Pipeline
	history    HistoryReader
	failures   FailureReader
	metrics    *monitoring.Metrics
	gatherer   prometheus.Gatherer
	logger     *zap.Logger
	origin     *url.URL
	router     http.Handler
	httpServer *http.Server
	now        func() time.Time
}

func NewServer(cfg *config.Config, p *pipeline.Pipeline, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		config:   cfg,
		pipeline: p,
		history:  deps.History,
		failures: deps.Failures,
		metrics:  deps.Metrics,
		gatherer: deps.Gatherer,
		logger:   deps.Logger,
		origin:   cfg.OriginURL(),
		now:      time.Now,
	}
	if s.origin == nil {
		s.logger.Warn("server.origin is not set: pages are fetched from the inbound Host header, " +
			"which clients control; run behind a trusted proxy that sets Host")
	}
	s.router = s.setupRouter()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%s", s.config.Server.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) errorBody(kind domain.ErrorKind, message string, status int) domain.ErrorBody {
	return pipeline.NewErrorBody(domain.NewError(kind, message, status, nil), s.now())
}
