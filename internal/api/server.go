package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/plc-monitor/internal/bridges/s7"
	"github.com/nerrad567/plc-monitor/internal/infrastructure/config"
	"github.com/nerrad567/plc-monitor/internal/infrastructure/database"
	"github.com/nerrad567/plc-monitor/internal/infrastructure/influxdb"
	"github.com/nerrad567/plc-monitor/internal/infrastructure/logging"
	"github.com/nerrad567/plc-monitor/internal/infrastructure/mqtt"
	"github.com/nerrad567/plc-monitor/internal/journal"
	"github.com/nerrad567/plc-monitor/internal/poller"
	"github.com/nerrad567/plc-monitor/internal/query"
	"github.com/nerrad567/plc-monitor/internal/series"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// ManagerStatsSource is the metrics view of a connection manager.
type ManagerStatsSource interface {
	Name() string
	State() s7.ConnectionState
	Stats() s7.ManagerStats
}

// PollerStatsSource is the metrics view of a polling loop.
type PollerStatsSource interface {
	Device() string
	State() poller.State
	Cycles() uint64
	Panics() uint64
}

// StoreStatsSource reports history store occupancy.
type StoreStatsSource interface {
	Stats() series.StoreStats
}

// Deps holds the dependencies required by the API server.
// Journal, DB, MQTT, Publisher and InfluxDB are optional.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Logger    *logging.Logger
	Query     *query.Service
	Store     StoreStatsSource
	Managers  []ManagerStatsSource
	Pollers   []PollerStatsSource
	Journal   journal.Repository
	DB        *database.DB
	MQTT      *mqtt.Client
	Publisher *mqtt.Publisher
	InfluxDB  *influxdb.Client
	Hub       *Hub // If set, the server uses this hub instead of creating its own
	Title     string
	Version   string
}

// Server is the HTTP server of the monitor.
//
// It manages the HTTP listener, routes, middleware and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	query     *query.Service
	store     StoreStatsSource
	managers  []ManagerStatsSource
	pollers   []PollerStatsSource
	journal   journal.Repository
	db        *database.DB
	mqtt      *mqtt.Client
	publisher *mqtt.Publisher
	influx    *influxdb.Client
	title     string
	version   string
	startTime time.Time

	hub      *Hub
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc // stops the hub on Close()
	mu       sync.Mutex
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Query == nil {
		return nil, fmt.Errorf("query service is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		query:     deps.Query,
		store:     deps.Store,
		managers:  deps.Managers,
		pollers:   deps.Pollers,
		journal:   deps.Journal,
		db:        deps.DB,
		mqtt:      deps.MQTT,
		publisher: deps.Publisher,
		influx:    deps.InfluxDB,
		title:     deps.Title,
		version:   deps.Version,
		hub:       deps.Hub,
		startTime: time.Now(),
	}
	if s.hub == nil {
		s.hub = NewHub(deps.WS, deps.Logger)
	}

	return s, nil
}

// Hub returns the WebSocket hub. It implements poller.Sink.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start binds the listener and serves requests in a background goroutine.
// A bind failure (port in use, etc.) is returned directly.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
