// Package main is the crewgated daemon.
//
// crewgated wires the store, the pattern table, the skill vetter, the
// reply scanner, the anomaly scanner, the autonomy gate and the heartbeat
// behind the crewgate HTTP API.
//
// Usage:
//
//	crewgated [--config path]
//	crewgated version
//
// Configuration is read from ~/.config/crewgate/config.yaml (or --config)
// with CREWGATE_ environment overrides, e.g. CREWGATE_SERVER_HTTP_PORT.
package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/crewgate/internal/anomaly"
	"github.com/fyrsmithlabs/crewgate/internal/config"
	"github.com/fyrsmithlabs/crewgate/internal/gate"
	"github.com/fyrsmithlabs/crewgate/internal/heartbeat"
	crewhttp "github.com/fyrsmithlabs/crewgate/internal/http"
	"github.com/fyrsmithlabs/crewgate/internal/logging"
	"github.com/fyrsmithlabs/crewgate/internal/patterns"
	"github.com/fyrsmithlabs/crewgate/internal/replyscan"
	"github.com/fyrsmithlabs/crewgate/internal/store"
	"github.com/fyrsmithlabs/crewgate/internal/store/redisstate"
	"github.com/fyrsmithlabs/crewgate/internal/store/sqlstore"
	"github.com/fyrsmithlabs/crewgate/internal/telemetry"
	"github.com/fyrsmithlabs/crewgate/internal/vetting"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config file")
	pflag.Parse()

	if pflag.Arg(0) == "version" {
		printVersion()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("crewgated %s\n", version)
	fmt.Printf("  commit: %s\n", gitCommit)
	fmt.Printf("  built:  %s\n", buildDate)
}

// run starts the daemon and blocks until ctx is cancelled, then shuts the
// HTTP server down within the configured timeout.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	tel, err := initTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	logger, err := initLogger(cfg, tel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Underlying().Sync() }()

	logger.Info(ctx, "Starting crewgated",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Addr()),
		zap.String("store", cfg.Store.Driver))

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	svc, err := initServices(ctx, cfg, deps, tel, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer svc.Stop()

	srv, err := crewhttp.NewServer(crewhttp.Services{
		Store:    deps.store,
		Patterns: deps.patterns,
		Vetter:   svc.vetter,
		Replies:  svc.replies,
		Anomaly:  svc.anomaly,
		Gate:     svc.gate,
	}, logger.Underlying(), &crewhttp.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		RateLimit:      cfg.Server.RateLimit,
		RateBurst:      cfg.Server.RateBurst,
		OperatorSecret: []byte(cfg.Auth.OperatorSecret.Value()),
		Issuer:         cfg.Auth.Issuer,
		Version:        version,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	if svc.heartbeat != nil {
		if err := svc.heartbeat.Start(ctx); err != nil {
			return fmt.Errorf("failed to start heartbeat: %w", err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info(ctx, "Server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://%s/health", cfg.Server.Addr())),
		zap.String("metrics_endpoint", "/metrics"),
		zap.Bool("operator_routes", cfg.Auth.OperatorSecret.IsSet()),
		zap.Bool("heartbeat", svc.heartbeat != nil))

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info(context.Background(), "crewgated stopped")
	return nil
}

// initTelemetry starts the OTLP providers when telemetry is enabled. The
// returned value is usable either way.
func initTelemetry(ctx context.Context, cfg *config.Config) (*telemetry.Telemetry, error) {
	tcfg := telemetry.FromSettings(cfg.Observability, version)
	tel, err := telemetry.New(ctx, tcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	return tel, nil
}

// initLogger builds the structured logger, bridged to OpenTelemetry logs
// when telemetry is enabled.
func initLogger(cfg *config.Config, tel *telemetry.Telemetry) (*logging.Logger, error) {
	lcfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, err
	}
	if !cfg.Observability.EnableTelemetry {
		return logging.NewLogger(lcfg, nil)
	}
	lcfg.Output.OTEL = true
	return logging.NewLogger(lcfg, tel.LoggerProvider())
}

// backend is the durable store plus the seeding surface.
type backend interface {
	store.Store
	store.Seeder
}

// dependencies holds all infrastructure dependencies.
type dependencies struct {
	store    backend
	patterns *patterns.Source
	redis    interface{ Close() error }
	sql      *sqlstore.Store
	state    store.Config
	events   store.EventPublisher
	seeded   *store.SeedResult
	logger   *logging.Logger
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	ctx := context.Background()
	if d.patterns != nil {
		d.patterns.Stop()
	}
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			d.logger.Warn(ctx, "closing redis", zap.Error(err))
		}
	}
	if d.sql != nil {
		if err := d.sql.Close(); err != nil {
			d.logger.Warn(ctx, "closing mysql", zap.Error(err))
		}
	}
}

// initDependencies initializes all infrastructure dependencies.
//
// This function:
//  1. Opens the store (in-memory or MySQL with migrations)
//  2. Seeds the configured hierarchy, or the bundled crew into memory
//  3. Connects to Redis for heartbeat state and the event stream
//  4. Loads the pattern table and starts the file watcher
func initDependencies(ctx context.Context, cfg *config.Config, logger *logging.Logger) (deps *dependencies, err error) {
	deps = &dependencies{logger: logger}
	defer func() {
		if err != nil {
			deps.Close()
		}
	}()

	switch cfg.Store.Driver {
	case "mysql":
		sql, err := sqlstore.Open(cfg.Store.DSN.Value(), sqlstore.WithLogger(logger.Named("sqlstore")))
		if err != nil {
			return deps, err
		}
		deps.sql = sql
		if err := sql.Ping(ctx); err != nil {
			return deps, err
		}
		if err := sql.Migrate(ctx); err != nil {
			return deps, fmt.Errorf("migrating schema: %w", err)
		}
		deps.store = sql
	default:
		deps.store = store.NewMemory()
	}
	logger.Info(ctx, "Store initialized", zap.String("driver", cfg.Store.Driver))

	// A fresh in-memory store has no crew; fall back to the bundled one.
	var h *store.Hierarchy
	switch {
	case cfg.Store.HierarchyFile != "":
		if h, err = store.LoadHierarchyFile(cfg.Store.HierarchyFile); err != nil {
			return deps, err
		}
	case deps.sql == nil:
		h = store.DefaultHierarchy()
	}
	if h != nil {
		res, err := store.Seed(ctx, deps.store, h)
		if err != nil {
			return deps, fmt.Errorf("seeding hierarchy: %w", err)
		}
		deps.seeded = res
		logger.Info(ctx, "Hierarchy seeded",
			zap.String("file", cmp.Or(cfg.Store.HierarchyFile, "bundled")),
			zap.Int("agents", len(res.Agents)),
			zap.Int64("human_id", res.HumanID))
	}

	if cfg.Redis.Enabled {
		rdb, err := redisstate.Connect(ctx, cfg.Redis.URL.Value())
		if err != nil {
			return deps, err
		}
		deps.redis = rdb
		deps.state = redisstate.NewConfigStore(rdb, "")
		deps.events = redisstate.NewPublisher(rdb, redisstate.WithStream(cfg.Redis.Stream))
		logger.Info(ctx, "Connected to redis",
			logging.Secret("url", cfg.Redis.URL),
			zap.String("stream", cfg.Redis.Stream))
	}

	src, err := patterns.NewSource(cfg.Patterns.File, logger.Named("patterns"))
	if err != nil {
		return deps, fmt.Errorf("loading pattern table: %w", err)
	}
	deps.patterns = src
	if cfg.Patterns.Watch {
		if err := src.Start(ctx); err != nil {
			return deps, err
		}
	}
	m := src.Matcher()
	logger.Info(ctx, "Pattern table loaded",
		zap.String("file", cfg.Patterns.File),
		zap.String("version", m.Version()),
		zap.String("fingerprint", m.Fingerprint()),
		zap.Bool("watch", cfg.Patterns.Watch))

	return deps, nil
}

// services holds the crewgate components.
type services struct {
	gate      *gate.Gate
	anomaly   *anomaly.Scanner
	vetter    *vetting.Vetter
	replies   *replyscan.Scanner
	heartbeat *heartbeat.Scheduler
}

// Stop halts background work.
func (s *services) Stop() {
	if s.heartbeat != nil {
		s.heartbeat.Stop()
	}
}

// initServices builds the gate, the scanners, the vetter and the heartbeat
// over the initialized dependencies.
func initServices(ctx context.Context, cfg *config.Config, deps *dependencies, tel *telemetry.Telemetry, logger *logging.Logger) (*services, error) {
	gateID, humanID, scannerID := cfg.Gate.AgentID, cfg.Gate.HumanID, cfg.Scanner.AgentID
	if deps.seeded != nil {
		gateID, humanID, scannerID = deps.seeded.RightHandID, deps.seeded.HumanID, deps.seeded.SecurityID
	}

	g, err := gate.New(ctx, deps.store, gate.Config{GateID: gateID, HumanID: humanID}, deps.patterns,
		logger.Named("gate"),
		gate.WithTracer(tel.Tracer("crewgate/gate")),
		gate.WithMeter(tel.Meter("crewgate/gate")))
	if err != nil {
		return nil, fmt.Errorf("creating gate: %w", err)
	}

	anomalyOpts := []anomaly.Option{
		anomaly.WithMetrics(anomaly.NewMetrics(prometheus.DefaultRegisterer)),
		anomaly.WithTracer(tel.Tracer("crewgate/anomaly")),
	}
	if deps.events != nil {
		anomalyOpts = append(anomalyOpts, anomaly.WithPublisher(deps.events))
	}
	sec, err := anomaly.New(ctx, deps.store, anomaly.Config{ScannerID: scannerID, GateID: gateID},
		logger.Named("anomaly"), anomalyOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating anomaly scanner: %w", err)
	}

	vetter := vetting.NewVetter(vetting.NewScanner(deps.patterns), deps.store, logger.Named("vetting"),
		vetting.WithMeter(tel.Meter("crewgate/vetting")),
		vetting.WithMaxContentBytes(cfg.Vetting.MaxContentBytes))
	replies := replyscan.New(deps.patterns)

	svc := &services{gate: g, anomaly: sec, vetter: vetter, replies: replies}

	if cfg.Heartbeat.Enabled {
		opts := []heartbeat.Option{
			heartbeat.WithInterval(cfg.Heartbeat.Interval),
			heartbeat.WithNotifyLimit(rate.Limit(cfg.Heartbeat.NotifyRate), cfg.Heartbeat.NotifyBurst),
			heartbeat.WithMetrics(heartbeat.NewMetrics(prometheus.DefaultRegisterer)),
			heartbeat.WithSecurity(sec),
			heartbeat.WithReplyScanner(replies),
		}
		if deps.state != nil {
			opts = append(opts, heartbeat.WithStateStore(deps.state))
		}
		hb, err := heartbeat.New(g, deps.store, heartbeat.Config{GateID: gateID, HumanID: humanID},
			logger.Named("heartbeat").Underlying(), opts...)
		if err != nil {
			return nil, fmt.Errorf("creating heartbeat: %w", err)
		}
		svc.heartbeat = hb
	}

	return svc, nil
}
