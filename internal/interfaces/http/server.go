package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/perfguard/internal/interfaces/http/handlers"
)

// ServerConfig holds server configuration
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// DefaultServerConfig listens on localhost:8080, or HTTP_PORT when set
func DefaultServerConfig() ServerConfig {
	port := 8080
	if p, err := strconv.Atoi(os.Getenv("HTTP_PORT")); err == nil {
		port = p
	}

	return ServerConfig{
		Host:           "127.0.0.1",
		Port:           port,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    60 * time.Second,
		RequestTimeout: 5 * time.Second,
		AllowedOrigins: []string{"http://localhost:3000", "http://127.0.0.1:3000"},
	}
}

// Server is the read-only threshold API
type Server struct {
	router *mux.Router
	server *http.Server
}

// NewServer routes h; gatherer backs /metrics and may be nil. The port is
// probed up front so a busy port fails here rather than in Start.
func NewServer(config ServerConfig, h *handlers.Handlers, gatherer prometheus.Gatherer) (*Server, error) {
	addr := net.JoinHostPort(config.Host, strconv.Itoa(config.Port))
	probe, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("port %d is busy or unavailable: %w", config.Port, err)
	}
	probe.Close()

	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultServerConfig().RequestTimeout
	}

	router := mux.NewRouter()
	router.Use(
		mux.MiddlewareFunc(withRequestID),
		mux.MiddlewareFunc(withAccessLog),
		mux.MiddlewareFunc(withRecover),
		mux.MiddlewareFunc(withTimeout(config.RequestTimeout)),
		mux.MiddlewareFunc(withCORS(config.AllowedOrigins)),
	)

	if gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/").Subrouter()
	api.Use(withJSON)
	api.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	api.HandleFunc("/thresholds", h.Thresholds).Methods(http.MethodGet)
	api.HandleFunc("/thresholds/{time_control}/{bin}", h.Threshold).Methods(http.MethodGet)

	// mux skips middlewares for unmatched routes
	router.NotFoundHandler = chain(http.HandlerFunc(h.NotFound), withRequestID, withJSON)

	return &Server{
		router: router,
		server: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
	}, nil
}

// Handler exposes the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown; it returns nil after a graceful shutdown
func (s *Server) Start() error {
	log.Info().Str("addr", s.GetAddress()).Msg("starting HTTP server (read-only)")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// GetAddress returns the server address
func (s *Server) GetAddress() string {
	return s.server.Addr
}
