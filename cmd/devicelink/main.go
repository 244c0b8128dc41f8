// DeviceLink - MQTT device session manager
//
// DeviceLink keeps one MQTT session to a broker, subscribes to the topics
// of registered devices and persists the latest telemetry each device
// reports. A REST and WebSocket API exposes the session and the devices.
//
// Usage:
//
//	devicelink              run the service
//	devicelink token ...    mint an API bearer token
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/devicelink/migrations"

	"github.com/nerrad567/devicelink/internal/api"
	"github.com/nerrad567/devicelink/internal/audit"
	"github.com/nerrad567/devicelink/internal/device"
	"github.com/nerrad567/devicelink/internal/infrastructure/config"
	"github.com/nerrad567/devicelink/internal/infrastructure/database"
	"github.com/nerrad567/devicelink/internal/infrastructure/influxdb"
	"github.com/nerrad567/devicelink/internal/infrastructure/logging"
	"github.com/nerrad567/devicelink/internal/infrastructure/mqtt"
	"github.com/nerrad567/devicelink/internal/monitor"
	"github.com/nerrad567/devicelink/internal/session"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// shutdownTimeout bounds the session disconnect during shutdown.
const shutdownTimeout = 5 * time.Second

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := runToken(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component, blocks until ctx is cancelled and then shuts
// down in reverse order: message stream, session, API server, InfluxDB,
// database.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting DeviceLink",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}

	log = logging.New(cfg.Logging, version)
	logging.SetDefault(log)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	repo := device.NewSQLiteRepository(db.DB)
	history := device.NewSQLiteHistoryRepository(db.DB)

	checks := map[string]api.HealthChecker{"database": db}

	// InfluxDB (optional)
	var sink monitor.TelemetrySink
	influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB, influxdb.Options{
		SiteID: cfg.Site.ID,
		OnWriteError: func(err error) {
			log.Error("InfluxDB write error", "error", err)
		},
	})
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("flushing and closing InfluxDB")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
			stats := influxClient.Stats()
			log.Info("InfluxDB closed", "written", stats.Written, "failed", stats.Failed)
		}()
		sink = influxClient
		checks["influxdb"] = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	// WebSocket hub, shared by the monitor service and the API server
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(hubCtx)

	// MQTT transport and session
	mqttClient := mqtt.New(cfg.MQTT)
	mqttClient.SetLogger(log)
	defer func() {
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT client", "error", closeErr)
		}
	}()
	log.Info("MQTT client created",
		"broker", mqttClient.BrokerURI(),
		"client_id", mqttClient.ClientID(),
	)

	manager := session.NewManager(mqttClient, session.Options{
		OperationTimeout: cfg.GetOperationTimeout(),
		StreamBuffer:     cfg.Session.StreamBuffer,
		Logger:           log,
	})

	svc, err := monitor.NewService(monitor.ServiceOptions{
		Session:          manager,
		Repository:       repo,
		History:          history,
		HistoryRetention: cfg.GetHistoryRetention(),
		Sink:             sink,
		Broadcaster:      hub,
		QoS:              byte(cfg.MQTT.QoS), //nolint:gosec // validated 0-2
		Username:         cfg.MQTT.Auth.Username,
		Password:         cfg.MQTT.Auth.Password,
		Logger:           log,
	})
	if err != nil {
		return fmt.Errorf("creating monitor service: %w", err)
	}

	// API server
	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		Service:  svc,
		Audit:    audit.NewSQLiteRepository(db.DB),
		Checks:   checks,
		Hub:      hub,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	defer func() {
		if manager.State() == session.StateDisconnected {
			return
		}
		log.Info("disconnecting session")
		dctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := svc.Disconnect(dctx); err != nil {
			log.Warn("session disconnect failed", "error", err)
		}
	}()

	// Monitor loop
	runCtx, stopRun := context.WithCancel(ctx)
	runDone := make(chan error, 1)
	go func() { runDone <- svc.Run(runCtx) }()
	defer func() {
		log.Info("closing message stream")
		stopRun()
		if runErr := <-runDone; runErr != nil {
			log.Error("monitor loop error", "error", runErr)
		}
	}()

	select {
	case <-svc.Ready():
	case <-ctx.Done():
		return nil
	}

	if cfg.Session.AutoConnect {
		if err := svc.Connect(ctx); err != nil {
			log.Warn("auto connect failed; connect through the API", "error", err)
		} else {
			subscribeAll(ctx, svc, log)
		}
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// subscribeAll subscribes every stored device after an automatic connect.
func subscribeAll(ctx context.Context, svc *monitor.Service, log *logging.Logger) {
	devices, err := svc.Devices(ctx)
	if err != nil {
		log.Error("listing devices for auto subscribe", "error", err)
		return
	}
	for _, d := range devices {
		ok, err := svc.SubscribeDevice(ctx, d.ID)
		if err != nil || !ok {
			log.Warn("auto subscribe failed", "device_id", d.ID, "topic", d.TopicID, "error", err)
		}
	}
}

// loadConfig reads the config file. A missing file at the default path
// falls back to built-in defaults; an explicit DEVICELINK_CONFIG must exist.
func loadConfig(log *logging.Logger) (*config.Config, error) {
	path, explicit := getConfigPath()
	cfg, err := config.Load(path)
	if err == nil {
		log.Info("configuration loaded", "path", path)
		return cfg, nil
	}
	if !explicit && errors.Is(err, os.ErrNotExist) {
		log.Warn("config file not found, using defaults", "path", path)
		cfg = config.Default()
		if vErr := cfg.Validate(); vErr != nil {
			return nil, fmt.Errorf("validating default config: %w", vErr)
		}
		return cfg, nil
	}
	return nil, fmt.Errorf("loading config: %w", err)
}

// getConfigPath returns the config path and whether it was set explicitly.
func getConfigPath() (string, bool) {
	if path := os.Getenv("DEVICELINK_CONFIG"); path != "" {
		return path, true
	}
	return defaultConfigPath, false
}
