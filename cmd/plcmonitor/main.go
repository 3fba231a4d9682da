// PLC Monitor - live S7 signal monitor
//
// plcmonitor polls data blocks from one or more Siemens S7 PLCs at a fixed
// interval, keeps a bounded history of every signal in memory, and serves a
// browser dashboard plus a JSON and WebSocket API over that history.
//
// Optional integrations:
//   - SQLite connection journal
//   - MQTT state and health publishing
//   - InfluxDB export
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/plc-monitor/internal/api"
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
	"github.com/nerrad567/plc-monitor/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// startupHealthTimeout bounds the startup health check.
	startupHealthTimeout = 5 * time.Second

	// sinkCloseTimeout bounds draining the journal and MQTT queues.
	sinkCloseTimeout = 5 * time.Second

	// sinkQueueSize is the buffer of the journal and MQTT sinks.
	sinkQueueSize = 256
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run loads configuration, wires every component and blocks until ctx is
// cancelled. It returns nil on clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting PLC monitor",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := config.PathFromEnv()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"config_path", configPath,
		"site_id", cfg.Site.ID,
		"api_addr", cfg.Addr(),
	)

	devices, err := s7.LoadConfig(cfg.Protocols.S7.ConfigFile, s7.DefaultDecoders())
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	dialer := s7.GoS7Dialer{
		ConnectTimeout: cfg.Protocols.S7.ConnectTimeout,
		IdleTimeout:    cfg.Protocols.S7.IdleTimeout,
	}

	a, err := newApp(ctx, cfg, devices, dialer, log)
	if err != nil {
		return err
	}
	defer a.shutdown()

	if err := a.start(ctx); err != nil {
		return err
	}
	log.Info("PLC monitor started", "devices", len(devices), "addr", a.server.Addr())

	<-ctx.Done()
	log.Info("shutdown signal received")
	return nil
}

// app holds every running component. Components that are disabled in
// configuration are nil.
type app struct {
	cfg *config.Config
	log *logging.Logger

	store    *series.Store
	managers []*s7.Manager
	group    *poller.Group
	server   *api.Server

	db        *database.DB
	recorder  *journal.Recorder
	mqtt      *mqtt.Client
	publisher *mqtt.Publisher
	influx    *influxdb.Client

	started bool
}

// newApp connects the optional integrations and builds the managers,
// pollers and API server. Nothing polls until start is called. On error
// everything already opened is closed.
func newApp(ctx context.Context, cfg *config.Config, devices []s7.Device, dialer s7.Dialer, log *logging.Logger) (*app, error) {
	a := &app{
		cfg:   cfg,
		log:   log,
		store: series.NewStore(cfg.History.Capacity),
	}
	built := false
	defer func() {
		if !built {
			a.shutdown()
		}
	}()

	var err error

	var repo journal.Repository
	if cfg.Database.Enabled {
		a.db, err = database.Open(database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		if err = a.db.Migrate(ctx, migrations.FS, migrations.Dir); err != nil {
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		sqliteRepo := journal.NewSQLiteRepository(a.db.DB)
		repo = sqliteRepo
		a.recorder = journal.NewRecorder(sqliteRepo, sinkQueueSize, log.With("component", "journal"))
		log.Info("connection journal enabled", "path", cfg.Database.Path)
	}

	if cfg.MQTT.Enabled {
		a.mqtt, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return nil, fmt.Errorf("connecting to MQTT: %w", err)
		}
		a.mqtt.SetLogger(log)
		a.publisher = mqtt.NewPublisher(a.mqtt, a.mqtt.QoS(), sinkQueueSize, log)
		a.mqtt.SetOnConnect(a.publisher.RepublishHealth)
		a.mqtt.SetOnDisconnect(func(err error) {
			log.Warn("MQTT connection lost", "error", err)
		})
		log.Info("MQTT publishing enabled", "broker", cfg.MQTT.Broker.Host)
	}

	var exporter *influxdb.Exporter
	if cfg.InfluxDB.Enabled {
		a.influx, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		a.influx.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		exporter = influxdb.NewExporter(a.influx)
		log.Info("InfluxDB export enabled", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	queryDevices := make([]query.Device, 0, len(devices))
	apiManagers := make([]api.ManagerStatsSource, 0, len(devices))
	for _, dev := range devices {
		m, mErr := s7.NewManager(dev, dialer)
		if mErr != nil {
			return nil, fmt.Errorf("creating manager %s: %w", dev.Name, mErr)
		}
		m.SetLogger(log.With("device", dev.Name))
		m.SetOnStateChange(a.observeTransition)
		a.managers = append(a.managers, m)
		queryDevices = append(queryDevices, m)
		apiManagers = append(apiManagers, m)
	}

	svc := query.NewService(a.store, queryDevices...)

	deps := api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Logger:    log,
		Query:     svc,
		Store:     a.store,
		Managers:  apiManagers,
		Journal:   repo,
		DB:        a.db,
		MQTT:      a.mqtt,
		Publisher: a.publisher,
		InfluxDB:  a.influx,
		Title:     cfg.Site.Name,
		Version:   version,
	}

	// Sinks in delivery order.
	var sinks []poller.Sink
	if a.publisher != nil {
		sinks = append(sinks, a.publisher)
	}
	if exporter != nil {
		sinks = append(sinks, exporter)
	}

	a.group = poller.NewGroup()
	hub := api.NewHub(cfg.WebSocket, log)
	sinks = append(sinks, hub)
	for _, m := range a.managers {
		interval := m.PollInterval()
		if interval <= 0 {
			interval = cfg.Polling.Interval
		}
		s, sErr := poller.New(m, a.store, poller.Config{
			Interval: interval,
			Sinks:    sinks,
			Logger:   log.With("device", m.Name()),
		})
		if sErr != nil {
			return nil, fmt.Errorf("creating poller %s: %w", m.Name(), sErr)
		}
		a.group.Add(s)
		deps.Pollers = append(deps.Pollers, s)
	}

	deps.Hub = hub
	a.server, err = api.New(deps)
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}

	built = true
	return a, nil
}

// observeTransition fans a manager transition out to the journal, MQTT and
// the log. It runs on the polling goroutine and never blocks.
func (a *app) observeTransition(tr s7.Transition) {
	if a.recorder != nil {
		a.recorder.Observe(tr)
	}
	if a.publisher != nil {
		a.publisher.ObserveTransition(tr)
	}

	switch {
	case tr.Connected:
		a.log.Info("device connected", "device", tr.Device)
	case tr.Message != "":
		a.log.Warn("device error", "device", tr.Device, "message", tr.Message)
	default:
		a.log.Info("device disconnected", "device", tr.Device)
	}
}

// start checks the integrations, binds the API listener and starts every
// polling loop.
func (a *app) start(ctx context.Context) error {
	healthCtx, cancel := context.WithTimeout(ctx, startupHealthTimeout)
	err := healthCheck(healthCtx, a.db, a.mqtt, a.influx)
	cancel()
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	if err := a.server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}

	a.started = true
	if err := a.group.StartAll(ctx); err != nil {
		return fmt.Errorf("starting pollers: %w", err)
	}
	return nil
}

// shutdown stops the components in dependency order: pollers first so no
// new samples arrive, then managers so their final transitions still reach
// the sinks, then the server and the sinks. Safe on a partially built app.
func (a *app) shutdown() {
	if a.group != nil && a.started {
		if stuck := a.group.StopAll(a.cfg.Polling.StopTimeout); len(stuck) > 0 {
			a.log.Warn("polling loops did not stop in time", "devices", stuck)
		}
	}

	for _, m := range a.managers {
		if err := m.Close(); err != nil {
			a.log.Error("error closing manager", "device", m.Name(), "error", err)
		}
	}

	if a.server != nil {
		a.log.Info("stopping API server")
		if err := a.server.Close(); err != nil {
			a.log.Error("error closing API server", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), sinkCloseTimeout)
	defer cancel()

	if a.publisher != nil {
		if err := a.publisher.Close(ctx); err != nil {
			a.log.Error("error draining MQTT publisher", "error", err)
		}
	}
	if a.mqtt != nil {
		a.log.Info("closing MQTT connection")
		if err := a.mqtt.Close(); err != nil {
			a.log.Error("error closing MQTT", "error", err)
		}
	}
	if a.influx != nil {
		a.log.Info("closing InfluxDB connection")
		if err := a.influx.Close(); err != nil {
			a.log.Error("error closing InfluxDB", "error", err)
		}
	}
	if a.recorder != nil {
		if err := a.recorder.Close(ctx); err != nil {
			a.log.Error("error draining journal", "error", err)
		}
	}
	if a.db != nil {
		a.log.Info("closing database")
		if err := a.db.Close(); err != nil {
			a.log.Error("error closing database", "error", err)
		}
	}

	// Every component is closed at most once.
	a.group, a.managers, a.server = nil, nil, nil
	a.publisher, a.mqtt, a.influx, a.recorder, a.db = nil, nil, nil, nil, nil
}

// healthCheck verifies the enabled integrations are reachable. nil
// components are skipped.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
