// CrewLink Core - real-time coordination server for event staff.
//
// This is the main entry point for the CrewLink server. It hosts two
// listeners: the websocket hub that staff devices and web dashboards
// hold open for real-time traffic, and the REST API used by tooling
// and dashboards for collection CRUD and identity administration.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "crewlink/migrations"

	"crewlink/internal/api"
	"crewlink/internal/backup"
	"crewlink/internal/collection"
	"crewlink/internal/hub"
	"crewlink/internal/identity"
	"crewlink/internal/infrastructure/config"
	"crewlink/internal/infrastructure/database"
	"crewlink/internal/infrastructure/logging"
	"crewlink/internal/infrastructure/mqtt"
	"crewlink/internal/infrastructure/telemetry"
	"crewlink/internal/presence"
	"crewlink/internal/registration"
	"crewlink/internal/version"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.buildVersion=1.0.0 -X main.commit=abc123"
var (
	buildVersion = "dev"     // Semantic version (e.g., "1.0.0")
	commit       = "unknown" // Git commit hash
	date         = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for
// testability. Returning an error allows main to handle exit codes
// consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting CrewLink Core",
		"version", buildVersion,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, buildVersion)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
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

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Identity store
	identityRepo := identity.NewSQLiteRepository(db.DB)
	identities := identity.NewStore(identityRepo)
	identities.SetLogger(log)
	if refreshErr := identities.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading identity store: %w", refreshErr)
	}
	log.Info("identity store initialised", "identities", identities.Count())

	// Version ledger
	versionRepo := version.NewSQLiteRepository(db.DB)
	ledger := version.NewLedger(versionRepo)
	ledger.SetLogger(log)
	if refreshErr := ledger.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading version ledger: %w", refreshErr)
	}

	// Document store
	documents := collection.NewStore(db.DB)

	// Presence tracker
	tracker := presence.NewTracker(identities)

	// Registration broker with periodic token sweep
	broker := registration.NewBroker(identities, cfg.Registration.TokenTTLDuration())
	broker.SetLogger(log)
	go broker.Run(ctx)

	// Backup runner
	runner := backup.NewRunner(cfg.Backup.DataDir, cfg.Backup.ArchiveDir, documents)
	runner.SetLogger(log)

	// Websocket hub
	h := hub.New(cfg.Socket, cfg.Security, identities, broker, tracker, ledger, log)
	h.SetBackup(runner)

	// Connect to MQTT broker (optional mirror)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		h.SetMirror(mqttClient)
	} else {
		log.Info("MQTT mirror disabled")
	}

	// Connect to InfluxDB (optional telemetry)
	var telemetryClient *telemetry.Client
	if cfg.Telemetry.Enabled {
		telemetryClient, err = telemetry.Connect(cfg.Telemetry)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := telemetryClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.Telemetry.URL,
			"org", cfg.Telemetry.Org,
			"bucket", cfg.Telemetry.Bucket,
		)

		telemetryClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		h.SetStats(telemetryClient)
	} else {
		log.Info("telemetry disabled")
	}

	// Start the websocket hub
	if err := h.Start(ctx); err != nil {
		return fmt.Errorf("starting websocket hub: %w", err)
	}
	defer func() {
		log.Info("closing websocket hub")
		if closeErr := h.Close(); closeErr != nil {
			log.Error("error closing websocket hub", "error", closeErr)
		}
	}()
	log.Info("websocket hub started",
		"address", fmt.Sprintf("%s:%d", cfg.Socket.Host, cfg.Socket.Port),
		"ping_interval", cfg.Socket.PingInterval,
	)

	// Start the REST API
	apiServer, err := api.New(api.Deps{
		Config:     cfg.Server,
		Security:   cfg.Security,
		Logger:     log,
		Identities: identities,
		Presence:   tracker,
		Ledger:     ledger,
		Documents:  documents,
		Notifier:   h,
		Backup:     runner,
		Version:    buildVersion,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("closing API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, telemetryClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// API server, hub, InfluxDB (if enabled), MQTT (if enabled), database.

	log.Info("CrewLink Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses CREWLINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("CREWLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// The MQTT and telemetry clients may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, telemetryClient *telemetry.Client) error {
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.HealthCheck(checkCtx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(checkCtx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if telemetryClient != nil {
		if err := telemetryClient.HealthCheck(checkCtx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
