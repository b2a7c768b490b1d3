// devicelink - MQTT device agent
//
// This is the entry point for the device agent. It publishes the device's
// capabilities and status on an MQTT broker and lets exactly one remote
// controller hold exclusive control at a time:
//   - controllers claim the device on <type>/<id>/control/claim
//   - the holder keeps its lease alive with pings or actions
//   - a silent holder is released after the lease timeout
//
// For the topic layout, see internal/infrastructure/mqtt/doc.go.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/nerrad567/devicelink/internal/agent"
	"github.com/nerrad567/devicelink/internal/api"
	"github.com/nerrad567/devicelink/internal/arbitration"
	"github.com/nerrad567/devicelink/internal/device"
	"github.com/nerrad567/devicelink/internal/discovery"
	"github.com/nerrad567/devicelink/internal/heartbeat"
	"github.com/nerrad567/devicelink/internal/history"
	"github.com/nerrad567/devicelink/internal/infrastructure/config"
	"github.com/nerrad567/devicelink/internal/infrastructure/database"
	"github.com/nerrad567/devicelink/internal/infrastructure/influxdb"
	"github.com/nerrad567/devicelink/internal/infrastructure/logging"
	"github.com/nerrad567/devicelink/internal/infrastructure/mqtt"
	"github.com/nerrad567/devicelink/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	// defaultConfigPath is used when neither --config nor DEVICELINK_CONFIG is set.
	defaultConfigPath = "configs/config.yaml"

	configEnv = "DEVICELINK_CONFIG"
)

// options holds the parsed command line.
type options struct {
	configPath  string
	showVersion bool
	migrateDown bool
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if opts.showVersion {
		fmt.Printf("devicelink %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	// Cancel on Ctrl+C and SIGTERM so the agent can release its lease.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if opts.migrateDown {
		if err := rollbackMigration(ctx, resolveConfigPath(opts.configPath)); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(ctx, resolveConfigPath(opts.configPath)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags parses the command line. It returns pflag.ErrHelp for --help.
func parseFlags(args []string) (options, error) {
	var opts options

	flagSet := pflag.NewFlagSet("devicelink", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "path to config.yaml (default: $"+configEnv+" or "+defaultConfigPath+")")
	flagSet.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	flagSet.BoolVar(&opts.migrateDown, "migrate-down", false, "roll back the latest lease history migration and exit")

	if err := flagSet.Parse(args); err != nil {
		return options{}, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return options{}, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return opts, nil
}

// resolveConfigPath applies the precedence --config > DEVICELINK_CONFIG > default.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv(configEnv); path != "" {
		return path
	}
	return defaultConfigPath
}

// rollbackMigration undoes the most recently applied schema migration of
// the lease history database. The agent must not be running.
func rollbackMigration(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log := logging.New(cfg.Logging, version)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck // nothing left to flush

	if err := db.MigrateDown(ctx, migrations.FS); err != nil {
		return fmt.Errorf("rolling back migration: %w", err)
	}

	applied, pending, err := db.MigrationStatus(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}
	log.Info("migration rolled back",
		"path", db.Path(),
		"applied", len(applied),
		"pending", len(pending),
	)
	return nil
}

// run is the actual application logic, separated from main for testability.
//
// Deferred cleanup runs in reverse order of startup:
//  1. mDNS advertisement withdrawn
//  2. Status API closed
//  3. Agent stopped (lease released, offline status published)
//  4. InfluxDB flushed and closed
//  5. MQTT disconnected
//  6. Lease history drained
//  7. Database closed
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting devicelink",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	identity, err := resolveIdentity(cfg.Device, log)
	if err != nil {
		return err
	}
	log = log.With("device_id", identity.ID)

	// Lease history
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", db.Path())

	historyRepo := history.NewSQLiteRepository(db.DB)
	recorder := history.NewRecorder(historyRepo, history.RecorderConfig{
		DeviceID:  identity.ID,
		Retention: cfg.Database.HistoryRetention,
	})
	recorder.SetLogger(log.Component("history"))
	recorder.Start(ctx)
	defer func() {
		recorder.Stop()
		log.Info("lease history stopped",
			"written", recorder.Written(),
			"dropped", recorder.Dropped(),
		)
	}()

	// Broker
	ns := mqtt.NewNamespace(identity.Type, identity.ID)
	mqttClient, err := mqtt.ConnectWithRetry(ctx, cfg.MQTT, cfg.ClientID(identity.ID), ns, log.Component("mqtt"))
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
		"client_id", cfg.ClientID(identity.ID),
		"prefix", ns.Prefix(),
	)

	// Telemetry (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB, identity.ID)
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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Lease and status observers
	leaseSinks := []func(arbitration.Event){recorder.Record}
	var statusSinks []func(heartbeat.Status)
	if influxClient != nil {
		leaseSinks = append(leaseSinks, influxClient.WriteLeaseEvent)
		statusSinks = append(statusSinks, influxClient.WriteStatus)
	}

	var hub *api.Hub
	if cfg.API.Enabled {
		hub = api.NewHub(cfg.API.WebSocket, log.Component("websocket"))
		go hub.Run(ctx)
		leaseSinks = append(leaseSinks, hub.BroadcastLease)
		statusSinks = append(statusSinks, hub.BroadcastStatus)
	}

	dev, err := agent.New(agent.Options{
		Identity:          identity,
		Transport:         newMQTTTransport(mqttClient),
		LeaseTimeout:      cfg.Arbitration.LeaseTimeout,
		HeartbeatInterval: cfg.Arbitration.HeartbeatInterval,
		TickInterval:      cfg.Arbitration.TickInterval,
		InboxSize:         cfg.Arbitration.InboxSize,
		Logger:            log,
		OnLeaseEvent:      fanOut(leaseSinks...),
		OnStatus:          fanOut(statusSinks...),
	})
	if err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}
	registerActionLoggers(dev, identity, log)

	if startErr := dev.Start(ctx); startErr != nil {
		return fmt.Errorf("starting agent: %w", startErr)
	}
	defer dev.Stop()

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected", "subscriptions", mqttClient.SubscriptionCount())
		dev.Reconnected()
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	if cfg.API.Enabled {
		checks := map[string]api.HealthChecker{
			"database": db,
			"mqtt":     mqttClient,
		}
		if influxClient != nil {
			checks["influxdb"] = influxClient
		}

		apiServer, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			Logger:   log,
			Identity: identity,
			Lease:    dev,
			History:  historyRepo,
			Checks:   checks,
			Hub:      hub,
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	// Discovery is best effort; the device works without it.
	if cfg.Discovery.Enabled {
		advertiser := discovery.NewAdvertiser(cfg.Discovery)
		advertiser.SetLogger(log.Component("discovery"))
		if advErr := advertiser.Start(identity, cfg.DiscoveryPort()); advErr != nil {
			log.Warn("mDNS advertisement failed", "error", advErr)
		} else {
			defer advertiser.Stop()
		}
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up",
		"dropped_messages", dev.Dropped(),
	)
	return nil
}

// resolveIdentity builds the device identity from the device section.
func resolveIdentity(cfg config.DeviceConfig, log *logging.Logger) (device.Identity, error) {
	id, source, err := device.ResolveID(cfg)
	if err != nil {
		return device.Identity{}, fmt.Errorf("resolving device ID: %w", err)
	}

	identity, dropped, err := device.NewIdentity(cfg.Type, id, cfg.Actions, cfg.Sensors)
	if err != nil {
		return device.Identity{}, fmt.Errorf("building device identity: %w", err)
	}
	if len(dropped) > 0 {
		log.Warn("too many actions, extra actions dropped",
			"max", device.MaxActions,
			"dropped", dropped,
		)
	}

	log.Info("device identity resolved",
		"type", identity.Type,
		"id", identity.ID,
		"id_source", string(source),
		"actions", identity.Actions,
	)
	return identity, nil
}

// registerActionLoggers logs every authorised action. Hardware drivers
// register their own handlers in place of these.
func registerActionLoggers(dev *agent.Agent, identity device.Identity, log *logging.Logger) {
	actionLog := log.Component("action")
	for _, name := range identity.Actions {
		dev.HandleFunc(name, func(_ context.Context, act agent.Action) error {
			actionLog.Info("action received",
				"action", act.Name,
				"controller_id", act.Sender,
				"content", act.Content,
			)
			return nil
		})
	}
}

// fanOut returns a callback that calls each sink in order, or nil when
// there are no sinks.
func fanOut[T any](sinks ...func(T)) func(T) {
	switch len(sinks) {
	case 0:
		return nil
	case 1:
		return sinks[0]
	}
	return func(v T) {
		for _, sink := range sinks {
			sink(v)
		}
	}
}

// healthCheck verifies all infrastructure connections are healthy.
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
