package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-x10/internal/bridge"
	"github.com/nerrad567/gray-logic-x10/internal/cm11"
	"github.com/nerrad567/gray-logic-x10/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-x10/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-x10/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-x10/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-x10/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-x10/migrations"
)

func newServeCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath())
		},
	}
}

// run is the daemon: it wires every component and blocks until ctx is done.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: Path to config.yaml
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting x10bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"port", cfg.Gateway.Port,
		"devices", len(cfg.Bridge.Devices),
	)

	// Database and address recorder
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database ready", "path", cfg.Database.Path)

	recorder := bridge.NewAddressRecorder(db.DB)
	recorder.SetLogger(log.Component("recorder"))
	if startErr := recorder.Start(); startErr != nil {
		return fmt.Errorf("starting address recorder: %w", startErr)
	}
	defer recorder.Stop()

	// MQTT, with the bridge health topic as status/LWT topic
	mqttClient, err := mqtt.Connect(cfg.MQTT, bridge.HealthTopic())
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT connected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Gateway
	gw, err := cm11.New(cm11.Config{
		PortName:       cfg.Gateway.Port,
		MonitoredHouse: cfg.MonitoredHouseCode(),
	})
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	gw.SetLogger(log.Component("cm11"))
	defer func() {
		log.Info("stopping gateway")
		gw.Disconnect()
	}()

	// Bridge
	opts := bridge.Options{
		Config:     cfg.Bridge,
		PortName:   cfg.Gateway.Port,
		Version:    version,
		MQTTClient: mqttClient,
		Gateway:    gw,
		Recorder:   recorder,
		Logger:     log.Component("bridge"),
	}
	if influxClient != nil {
		opts.Telemetry = influxClient
	}
	x10Bridge, err := bridge.New(opts)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if err := x10Bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		x10Bridge.Stop()
	}()

	// The gateway starts last so the first connection reaches the health reporter.
	gw.Start(ctx)

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	// Deferred calls run in reverse: bridge, gateway, InfluxDB, MQTT,
	// recorder, database.
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// openDatabase opens the SQLite database and applies pending migrations.
func openDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// healthCheck verifies the infrastructure connections.
// The gateway is not checked: it reconnects on its own and reports through health.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
