// Playout Core - live rundown control engine
//
// This is the main entry point for Playout Core. It loads configuration,
// opens the rundown store, starts one supervised dispatch loop per studio
// and serves the operator API.
//
// Usage:
//
//	playout                      run the engine
//	playout mint-token [flags]   print an operator bearer token
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nerrad567/playout-core/internal/api"
	"github.com/nerrad567/playout-core/internal/audit"
	"github.com/nerrad567/playout-core/internal/auth"
	"github.com/nerrad567/playout-core/internal/events"
	"github.com/nerrad567/playout-core/internal/infrastructure/config"
	"github.com/nerrad567/playout-core/internal/infrastructure/database"
	"github.com/nerrad567/playout-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/playout-core/internal/infrastructure/logging"
	"github.com/nerrad567/playout-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/playout-core/internal/infrastructure/redisbus"
	"github.com/nerrad567/playout-core/internal/jobs"
	"github.com/nerrad567/playout-core/internal/lock"
	"github.com/nerrad567/playout-core/internal/playout"
	"github.com/nerrad567/playout-core/internal/playout/actions"
	"github.com/nerrad567/playout-core/internal/rundown"
	"github.com/nerrad567/playout-core/internal/showstyle"
	"github.com/nerrad567/playout-core/internal/worker"
	"github.com/nerrad567/playout-core/migrations"
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

func main() {
	if len(os.Args) > 1 && os.Args[1] == "mint-token" {
		if err := mintToken(os.Args[2:], os.Stdout); err != nil {
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

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Playout Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath, "studios", len(cfg.Studios))

	log = logging.New(cfg.Logging, version)

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
	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// Optional infrastructure. Each is nil when disabled.
	mqttClient, err := connectMQTT(cfg, log)
	if err != nil {
		return err
	}
	if mqttClient != nil {
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	}

	bus, err := redisbus.Connect(ctx, cfg.Redis)
	switch {
	case errors.Is(err, redisbus.ErrDisabled):
		log.Info("redis event bus disabled")
	case err != nil:
		return fmt.Errorf("connecting to redis: %w", err)
	default:
		defer func() {
			if closeErr := bus.Close(); closeErr != nil {
				log.Error("error closing redis", "error", closeErr)
			}
		}()
		log.Info("redis event bus connected", "addr", cfg.Redis.Addr, "channel", bus.Channel())
	}

	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
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
	}

	// The WebSocket hub is a sink of the event fan-out, so it exists
	// before the API server that serves it.
	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	fanout := events.NewFanout(hub)
	fanout.SetLogger(log.Component("events"))
	if mqttClient != nil {
		fanout.Add(events.NewMQTTSink(mqttClient))
	}
	if bus != nil {
		fanout.Add(events.NewRedisSink(bus))
	}

	store := rundown.NewSQLiteStore(db)
	locks := lock.NewManager()
	locks.SetLogger(log.Component("lock"))
	scheduler := jobs.NewScheduler(jobs.WithLogger(log.Component("jobs")))
	defer scheduler.Close()

	styles := make(map[string]playout.ShowStyleSource, len(cfg.Studios))
	for _, st := range cfg.Studios {
		styles[st.ID] = showstyle.NewLoader(st.ShowStyleDir)
	}

	svc := playout.New(playout.Config{
		Store:      store,
		Locks:      locks,
		Studios:    cfg.Studios,
		ShowStyles: styles,
		Scheduler:  scheduler,
		Events:     fanout,
		Metrics:    influxClient,
	})
	svc.SetLogger(log.Component("playout"))

	executor := actions.NewExecutor(svc)
	executor.SetLogger(log.Component("actions"))

	handlers := worker.NewRegistry()
	svc.RegisterHandlers(handlers)
	executor.RegisterHandlers(handlers)

	sups := make([]*worker.Supervisor, 0, len(cfg.Studios))
	loops := make([]api.LoopStatus, 0, len(cfg.Studios))
	for _, st := range cfg.Studios {
		sup := newSupervisor(cfg.Jobs, playout.QueueName(st.ID), scheduler, locks, handlers, influxClient, log)
		sups = append(sups, sup)
		loops = append(loops, sup)
	}

	apiDeps := api.Deps{
		Config:        cfg.API,
		WS:            cfg.WebSocket,
		Security:      cfg.Security,
		Studios:       cfg.Studios,
		Logger:        log.Component("api"),
		Scheduler:     scheduler,
		Store:         store,
		Events:        fanout,
		Loops:         loops,
		Audit:         audit.NewSQLiteRepository(db.DB),
		ExternalHub:   hub,
		ResultTimeout: cfg.Jobs.ResultTimeout,
		Version:       version,
	}
	if mqttClient != nil {
		apiDeps.MQTT = mqttClient
	}
	apiServer, err := api.New(apiDeps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete", "handlers", handlers.Names())

	runErr := worker.RunAll(ctx, sups...)

	log.Info("shutdown signal received, cleaning up")
	// Deferred Close() calls run in reverse order: API, scheduler,
	// InfluxDB, Redis, MQTT, database.
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("dispatch loops: %w", runErr)
	}

	log.Info("Playout Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses PLAYOUT_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("PLAYOUT_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func connectMQTT(cfg *config.Config, log *logging.Logger) (*mqtt.Client, error) {
	if !cfg.MQTT.Enabled {
		log.Info("MQTT disabled")
		return nil, nil
	}
	c, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	c.SetLogger(log.Component("mqtt"))
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	return c, nil
}

// newSupervisor builds the supervised dispatch loop of one studio queue.
func newSupervisor(jc config.JobsConfig, queue string, scheduler *jobs.Scheduler, locks *lock.Manager,
	handlers *worker.Registry, metrics *influxdb.Client, log *logging.Logger) *worker.Supervisor {
	sup := worker.NewSupervisor(worker.Config{
		Queue:               queue,
		Source:              scheduler,
		Rejecter:            scheduler,
		Locks:               locks,
		Handlers:            handlers,
		Metrics:             metrics,
		RestartDelay:        jc.RestartDelay,
		MaxRestartAttempts:  jc.MaxRestartAttempts,
		FreezeTimeout:       jc.FreezeTimeout,
		HealthCheckInterval: jc.HealthCheckInterval,
	})
	sup.SetLogger(log.Component("worker").With("queue", queue))
	return sup
}

// healthCheck verifies all infrastructure connections are healthy.
// mqttClient and influxClient may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
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

// mintToken prints an operator token signed with the configured secret.
func mintToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("mint-token", flag.ContinueOnError)
	fs.SetOutput(out)
	subject := fs.String("subject", "", "operator name recorded in the token")
	role := fs.String("role", string(auth.RoleOperator), "viewer, operator or director")
	studios := fs.String("studios", "", "comma-separated studio IDs; empty grants every studio")
	ttl := fs.Duration("ttl", auth.DefaultTokenTTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return errors.New("-subject is required")
	}
	if !auth.IsValidRole(auth.Role(*role)) {
		return fmt.Errorf("unknown role %q", *role)
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	p := auth.Principal{Subject: *subject, Role: auth.Role(*role)}
	if *studios != "" {
		for id := range strings.SplitSeq(*studios, ",") {
			id = strings.TrimSpace(id)
			if _, ok := cfg.Studio(id); !ok {
				return fmt.Errorf("unknown studio %q", id)
			}
			p.Studios = append(p.Studios, id)
		}
	}

	token, err := auth.GenerateAccessToken(p, cfg.Security.JWT.Secret, cfg.Security.JWT.Issuer, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}
