// SprayCell Core - process cell control infrastructure.
//
// This is the main entry point for SprayCell Core. The core hosts the
// in-process message broker, polls field hardware into the tag registry,
// and runs the state coordinator that gates the cell's operating modes.
// Around that it carries the plant-facing edges: MQTT mirror and
// commands, InfluxDB and SQLite history, Prometheus metrics and a
// read-only status API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/nerrad567/spraycell-core/internal/api"
	"github.com/nerrad567/spraycell-core/internal/bridges/mqttbus"
	"github.com/nerrad567/spraycell-core/internal/broker"
	"github.com/nerrad567/spraycell-core/internal/hardware/mqttio"
	"github.com/nerrad567/spraycell-core/internal/hardware/simulated"
	"github.com/nerrad567/spraycell-core/internal/historian"
	"github.com/nerrad567/spraycell-core/internal/infrastructure/config"
	"github.com/nerrad567/spraycell-core/internal/infrastructure/database"
	"github.com/nerrad567/spraycell-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/spraycell-core/internal/infrastructure/logging"
	"github.com/nerrad567/spraycell-core/internal/infrastructure/metrics"
	"github.com/nerrad567/spraycell-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/spraycell-core/internal/state"
	"github.com/nerrad567/spraycell-core/internal/tag"
	"github.com/nerrad567/spraycell-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on Ctrl+C and SIGTERM; the defer chain in run does the cleanup.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. The root command runs the core.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "spraycell",
		Short: "SprayCell Core process cell controller",
		Long: `SprayCell Core polls cell hardware into named tags, gates operating
modes through a guarded state machine, and publishes every change on
its message broker.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), resolveConfigPath(configPath))
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"configuration file (default $SPRAYCELL_CONFIG or "+defaultConfigPath+")")

	root.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the configuration, tag definitions and transition table, then exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			summary, err := validateFiles(resolveConfigPath(configPath))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), summary)
			return nil
		},
	})

	return root
}

// resolveConfigPath returns the --config flag, then SPRAYCELL_CONFIG,
// then the default path.
func resolveConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if path := os.Getenv("SPRAYCELL_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// validateFiles loads everything run would load from disk and checks it
// without connecting to anything.
func validateFiles(configPath string) (string, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", fmt.Errorf("loading config: %w", err)
	}
	defs, err := tag.LoadDefinitions(cfg.Tags.File)
	if err != nil {
		return "", fmt.Errorf("loading tag definitions: %w", err)
	}
	adapters := make(map[string]bool, len(cfg.Hardware.Adapters))
	for _, a := range cfg.Hardware.Adapters {
		adapters[a.Name] = true
	}
	var errs []error
	for _, d := range defs {
		if d.Adapter != "" && !adapters[d.Adapter] {
			errs = append(errs, fmt.Errorf("tag %s: adapter %q is not configured", d.Name, d.Adapter))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return "", err
	}
	table, err := state.LoadTable(cfg.State.File)
	if err != nil {
		return "", fmt.Errorf("loading transition table: %w", err)
	}
	if err := table.Validate(state.StandardComparators()); err != nil {
		return "", fmt.Errorf("loading transition table: %w", err)
	}
	return fmt.Sprintf("%s: ok (%d tags, %d adapters, %d states, initial %s)",
		configPath, len(defs), len(adapters), len(table.States), table.InitialState), nil
}

// run is the actual application logic, separated from main for testability.
// It returns nil on a clean shutdown. Deferred cleanups run in reverse
// order of construction.
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting SprayCell Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version).WithSite(cfg.Site.ID)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	// Metrics
	var collectors *metrics.Collectors
	if cfg.Metrics.Enabled {
		collectors = metrics.New(prometheus.NewRegistry(), cfg.Metrics.Namespace)
	}

	// Message broker
	bus := broker.New(broker.Config{
		QueueSize:      cfg.Broker.QueueSize,
		RequestTimeout: cfg.Broker.RequestTimeout,
	})
	bus.SetLogger(log.Component("broker"))
	if collectors != nil {
		bus.SetMetrics(collectors)
	}
	defer func() {
		log.Info("closing message broker")
		bus.Close()
	}()

	// MQTT (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = connectMQTT(cfg, log, collectors)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	} else {
		log.Info("MQTT disabled")
	}

	// Hardware adapters
	adapters, stopAdapters, err := buildAdapters(cfg.Hardware, mqttClient, log)
	if err != nil {
		return err
	}
	defer stopAdapters()

	// Tag registry
	defs, err := tag.LoadDefinitions(cfg.Tags.File)
	if err != nil {
		return fmt.Errorf("loading tag definitions: %w", err)
	}
	registry, err := tag.New(defs, adapters, tag.Options{
		Publisher:      bus,
		PollInterval:   cfg.Tags.PollInterval,
		ReadTimeout:    cfg.Tags.ReadTimeout,
		StaleThreshold: cfg.Tags.StaleThreshold,
		FloatTolerance: cfg.Tags.FloatTolerance,
		ConnectionTag:  cfg.Tags.ConnectionTag,
	})
	if err != nil {
		return fmt.Errorf("creating tag registry: %w", err)
	}
	registry.SetLogger(log.Component("tags"))
	if collectors != nil {
		registry.SetMetrics(collectors)
	}
	if _, err := registry.Serve(bus); err != nil {
		return fmt.Errorf("serving tag requests: %w", err)
	}
	log.Info("tag registry initialised", "tags", len(registry.Names()), "adapters", len(adapters))

	// State coordinator
	table, err := state.LoadTable(cfg.State.File)
	if err != nil {
		return fmt.Errorf("loading transition table: %w", err)
	}
	coord, err := state.New(table, registry, state.Options{
		Publisher:   bus,
		HistorySize: cfg.State.HistorySize,
		ForcePolicy: state.ForcePolicy(cfg.State.ForcePolicy),
		Comparators: state.StandardComparators(),
	})
	if err != nil {
		return fmt.Errorf("creating state coordinator: %w", err)
	}
	coord.SetLogger(log.Component("state"))
	if collectors != nil {
		coord.SetMetrics(collectors)
	}
	if _, err := coord.Serve(bus); err != nil {
		return fmt.Errorf("serving state requests: %w", err)
	}
	log.Info("state coordinator initialised", "state", coord.Current(), "states", len(table.States))

	if cfg.State.Watch {
		watcher, watchErr := state.NewWatcher(cfg.State.File, coord, 0)
		if watchErr != nil {
			return fmt.Errorf("creating transition table watcher: %w", watchErr)
		}
		watcher.SetLogger(log.Component("state"))
		if startErr := watcher.Start(ctx); startErr != nil {
			return fmt.Errorf("watching transition table: %w", startErr)
		}
		defer watcher.Stop()
	}

	// Transition audit log (optional)
	var auditLog *state.SQLiteAuditLog
	if cfg.Database.Enabled {
		db, dbErr := database.Open(database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if dbErr != nil {
			return fmt.Errorf("opening database: %w", dbErr)
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
		auditLog = state.NewSQLiteAuditLog(db.DB)
		log.Info("audit database ready", "path", cfg.Database.Path)
	} else {
		log.Info("audit database disabled")
	}

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB, cfg.Site.ID)
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

	// Historian
	hist := newHistorian(cfg, influxClient, auditLog)
	if hist != nil {
		hist.SetLogger(log.Component("historian"))
		if err := hist.Start(ctx, bus); err != nil {
			return fmt.Errorf("starting historian: %w", err)
		}
		defer hist.Stop()
		if initial := coord.History(1); len(initial) == 1 {
			if err := hist.RecordTransition(ctx, initial[0]); err != nil {
				log.Warn("recording initial state failed", "error", err)
			}
		}
	}

	// MQTT bridge
	if mqttClient != nil && cfg.MQTT.Mirror {
		bridge, bridgeErr := mqttbus.New(mqttbus.Options{
			MQTT:     mqttClient,
			Bus:      bus,
			Mirror:   true,
			Commands: true,
		})
		if bridgeErr != nil {
			return fmt.Errorf("creating MQTT bridge: %w", bridgeErr)
		}
		bridge.SetLogger(log.Component("mqttbus"))
		if startErr := bridge.Start(); startErr != nil {
			return fmt.Errorf("starting MQTT bridge: %w", startErr)
		}
		defer bridge.Stop()
		log.Info("MQTT bridge started", "prefix", mqttClient.Topics().Prefix)
	}

	// Poll cycle. Started after every subscriber is in place so the first
	// values reach the historian and the coordinator's auto transitions.
	if err := registry.Start(ctx); err != nil {
		return fmt.Errorf("starting tag poller: %w", err)
	}
	defer registry.Stop()

	// Status API
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:  cfg.API,
			WS:      cfg.WebSocket,
			Logger:  log.Component("api"),
			Bus:     bus,
			Tags:    registry,
			State:   coord,
			SiteID:  cfg.Site.ID,
			Version: version,
		}
		if auditLog != nil {
			deps.Audit = auditLog
		}
		if collectors != nil {
			deps.Metrics = collectors.Handler()
		}
		if mqttClient != nil {
			deps.MQTT = mqttClient
		}
		server, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return nil
}

// connectMQTT connects the MQTT client and keeps the connection gauge current.
func connectMQTT(cfg *config.Config, log *logging.Logger, collectors *metrics.Collectors) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log.Component("mqtt"))
	log.Info("MQTT connected",
		"broker", net.JoinHostPort(cfg.MQTT.Broker.Host, strconv.Itoa(cfg.MQTT.Broker.Port)),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	client.OnConnect(func() {
		log.Info("MQTT reconnected")
		if collectors != nil {
			collectors.SetMQTTConnected(true)
		}
	})
	client.OnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
		if collectors != nil {
			collectors.SetMQTTConnected(false)
		}
	})
	if collectors != nil {
		collectors.SetMQTTConnected(client.IsConnected())
	}
	return client, nil
}

// buildAdapters creates the configured hardware adapters. The returned
// stop function releases MQTT subscriptions.
func buildAdapters(cfg config.HardwareConfig, mqttClient *mqtt.Client, log *logging.Logger) (map[string]tag.Adapter, func(), error) {
	adapters := make(map[string]tag.Adapter, len(cfg.Adapters))
	var mqttAdapters []*mqttio.Adapter
	stop := func() {
		for _, a := range mqttAdapters {
			if err := a.Stop(); err != nil {
				log.Warn("stopping mqtt adapter", "error", err)
			}
		}
	}

	for _, ac := range cfg.Adapters {
		switch ac.Type {
		case "simulated":
			adapters[ac.Name] = simulated.New(simulated.Options{
				Delay:     ac.Simulated.Delay,
				ErrorRate: ac.Simulated.ErrorRate,
				Seed:      ac.Simulated.Seed,
				Values:    ac.Simulated.Values,
			})
		case "mqtt":
			if mqttClient == nil {
				stop()
				return nil, nil, fmt.Errorf("adapter %s: mqtt is disabled", ac.Name)
			}
			a, err := mqttio.New(mqttClient, ac.Name, mqttio.Options{QoS: mqttClient.QoS()})
			if err != nil {
				stop()
				return nil, nil, fmt.Errorf("creating adapter %s: %w", ac.Name, err)
			}
			a.SetLogger(log.Component("mqttio").With("adapter", ac.Name))
			if err := a.Start(); err != nil {
				stop()
				return nil, nil, fmt.Errorf("starting adapter %s: %w", ac.Name, err)
			}
			mqttAdapters = append(mqttAdapters, a)
			adapters[ac.Name] = a
		default:
			stop()
			return nil, nil, fmt.Errorf("adapter %s: unknown type %q", ac.Name, ac.Type)
		}
		log.Info("hardware adapter ready", "adapter", ac.Name, "type", ac.Type)
	}
	return adapters, stop, nil
}

// newHistorian wires whichever history sinks are enabled. It returns nil
// when there are none.
func newHistorian(cfg *config.Config, influxClient *influxdb.Client, auditLog *state.SQLiteAuditLog) *historian.Historian {
	opts := historian.Options{}
	if influxClient != nil {
		opts.Tags = influxClient
		opts.Transitions = influxClient
	}
	if auditLog != nil {
		opts.Audit = auditLog
		opts.Retention = cfg.Database.AuditRetention
	}
	if opts.Tags == nil && opts.Transitions == nil && opts.Audit == nil {
		return nil
	}
	return historian.New(opts)
}
