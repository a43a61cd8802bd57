package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/gatekeeper/pkg/api"
	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/config"
	"github.com/platinummonkey/gatekeeper/pkg/guard"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/plans"
	"github.com/platinummonkey/gatekeeper/pkg/quota"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
	"github.com/platinummonkey/gatekeeper/pkg/subscription"
	"github.com/platinummonkey/gatekeeper/pkg/transitions"
)

func main() {
	validateOnly := flag.Bool("validate-catalog", false, "Load the plan catalog, print it and exit")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout)

	if *validateOnly {
		catalog, err := loadCatalog(cfg.Entitlements.CatalogPath)
		if err != nil {
			logger.WithError(err).Fatal("Invalid plan catalog")
		}
		for _, p := range catalog.Plans() {
			logger.WithFields(logrus.Fields{
				"plan":                   p.Name,
				"default":                p.Default,
				"max_metered_units":      p.MaxMeteredUnits.String(),
				"max_secondary_resource": p.MaxSecondaryResource.String(),
				"price_cents":            p.PriceCents,
			}).Info("Plan")
		}
		return
	}

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("Gatekeeper exited with error")
	}
}

// backends holds the connections opened for the configured stores
type backends struct {
	db    *sql.DB
	redis *redis.Client
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx := context.Background()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	var metrics *observability.Metrics
	var metricsHandler http.Handler
	if cfg.Observability.MetricsEnabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = observability.NewMetrics(registry)
		metricsHandler = observability.MetricsHandler(registry)
	}

	catalog, err := loadCatalog(cfg.Entitlements.CatalogPath)
	if err != nil {
		return err
	}

	conns, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}

	subs, err := subscriptionStore(cfg, conns)
	if err != nil {
		return err
	}
	subs = subscription.Instrument(subs, cfg.Store.Timeout, observerOrNil(metrics))

	actors, counter := actorStore(cfg, conns)
	model := rbac.NewModel(cfg.Entitlements.PlatformTenantID)
	members := rbac.NewService(actors, model, logger)

	manager := transitions.NewManager(subs, catalog, logger, transitions.Config{
		MaxAttempts: cfg.Entitlements.MaxAttempts,
		Timeout:     cfg.Server.WriteTimeout,
		Observer:    transitionObserver(metrics),
	})
	enforcer := quota.NewEnforcer(subs, catalog, logger,
		quota.WithMaxAttempts(cfg.Entitlements.MaxAttempts),
		quota.WithCounter(counter),
		quota.WithRenewer(manager),
		quota.WithObserver(quotaObserver(metrics)),
	)
	g := guard.New(guard.Config{
		Model:    model,
		Enforcer: enforcer,
		Store:    subs,
		Catalog:  catalog,
		Counter:  counter,
		Observer: guardObserver(metrics),
		Logger:   logger,
	})

	if err := bootstrap(ctx, cfg, manager, actors, logger); err != nil {
		return err
	}

	auditLog, auditSearch, err := auditLoggers(conns, logger)
	if err != nil {
		return err
	}

	// A nil *redis.Client must not reach the checker as a non-nil interface
	health := observability.NewHealthChecker(conns.db, nil)
	if conns.redis != nil {
		health = observability.NewHealthChecker(conns.db, conns.redis)
	}

	server := api.NewServer(api.Config{
		Guard:          g,
		Transitions:    manager,
		Members:        members,
		Audit:          auditLog,
		AuditSearch:    auditSearch,
		Health:         health,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
		LandingPath:    cfg.Entitlements.LandingPath,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		Logger:         logger,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      otelhttp.NewHandler(server, "gatekeeper"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})
	shutdown.RegisterShutdownFunc("audit", func(context.Context) error {
		return auditLog.Close()
	})
	if conns.db != nil {
		shutdown.RegisterShutdownFunc("postgres", func(context.Context) error {
			return conns.db.Close()
		})
	}
	if conns.redis != nil {
		shutdown.RegisterShutdownFunc("redis", func(context.Context) error {
			return conns.redis.Close()
		})
	}

	if cfg.Entitlements.RenewalEnabled {
		scheduler := transitions.NewScheduler(manager, subs, logger, transitions.SchedulerConfig{
			Schedule:    cfg.Entitlements.RenewalSchedule,
			Concurrency: cfg.Entitlements.RenewalConcurrency,
			BatchSize:   cfg.Entitlements.RenewalBatchSize,
		})
		if err := scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start renewal scheduler: %w", err)
		}
		shutdown.RegisterShutdownFunc("renewals", scheduler.Stop)
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"addr":  httpServer.Addr,
			"store": cfg.Store.Type,
		}).Info("Starting Gatekeeper server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err, ok := <-serverErr; ok {
			logger.WithError(err).Error("HTTP server failed")
			cancel()
		}
	}()

	return shutdown.WaitForShutdown(waitCtx)
}

func loadCatalog(path string) (*plans.Catalog, error) {
	if path == "" {
		return plans.DefaultCatalog()
	}
	catalog, err := plans.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load plan catalog %s: %w", path, err)
	}
	return catalog, nil
}

// openBackends connects to every backend the configuration names and
// applies migrations
func openBackends(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*backends, error) {
	conns := &backends{}

	if cfg.Storage.PostgresURL != "" {
		db, err := storage.OpenPostgres(ctx, cfg.Storage)
		if err != nil {
			return nil, err
		}
		conns.db = db
		if cfg.Store.RunMigrations {
			if err := subscription.RunMigrations(ctx, db, logger); err != nil {
				return nil, err
			}
			if err := rbac.RunMigrations(ctx, db, logger); err != nil {
				return nil, err
			}
			if err := audit.RunMigrations(ctx, db, logger); err != nil {
				return nil, err
			}
		}
		logger.Info("Connected to PostgreSQL")
	}

	if cfg.Store.Type == config.StoreRedis {
		client, err := storage.OpenRedis(ctx, cfg.Storage)
		if err != nil {
			return nil, err
		}
		conns.redis = client
		logger.Info("Connected to Redis")
	}

	return conns, nil
}

func subscriptionStore(cfg *config.Config, conns *backends) (subscription.Store, error) {
	switch cfg.Store.Type {
	case config.StoreMemory:
		return subscription.NewMemoryStore(), nil
	case config.StoreRedis:
		return subscription.NewRedisStore(conns.redis, cfg.Store.KeyPrefix), nil
	case config.StorePostgres:
		return subscription.NewPostgresStore(conns.db), nil
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Store.Type)
	}
}

// actorStore picks the membership store and the matching staff counter
func actorStore(cfg *config.Config, conns *backends) (rbac.ActorStore, quota.Counter) {
	if conns.db != nil {
		store := rbac.NewCachedActorStore(rbac.NewPostgresActorStore(conns.db), cfg.Store.ActorCacheSize, cfg.Store.ActorCacheTTL)
		return store, quota.NewPostgresCounter(conns.db)
	}

	memory := rbac.NewMemoryActorStore()
	counter := quota.CounterFunc(func(ctx context.Context, tenantID string, _ quota.Resource) (int64, error) {
		return memory.CountStaff(ctx, tenantID)
	})
	return memory, counter
}

// auditLoggers sends audit events to the log stream and to a searchable
// store: PostgreSQL when configured, otherwise a bounded in-memory log
func auditLoggers(conns *backends, logger *logrus.Logger) (audit.Logger, audit.Searcher, error) {
	if conns.db != nil {
		db, err := audit.NewDBLogger(conns.db)
		if err != nil {
			return nil, nil, err
		}
		return audit.NewMultiLogger(audit.NewLogrusLogger(logger), db), db, nil
	}
	memory := audit.NewMemoryLogger(audit.DefaultMemoryCapacity)
	return audit.NewMultiLogger(audit.NewLogrusLogger(logger), memory), memory, nil
}

// bootstrap onboards the platform tenant and gives it an owner so that a
// fresh deployment has someone able to manage operators
func bootstrap(ctx context.Context, cfg *config.Config, manager *transitions.Manager, actors rbac.ActorStore, logger *logrus.Logger) error {
	tenantID := cfg.Entitlements.PlatformTenantID
	if tenantID == "" {
		return nil
	}
	if _, err := manager.Onboard(ctx, tenantID); err != nil {
		return fmt.Errorf("failed to onboard platform tenant: %w", err)
	}

	owner := cfg.Entitlements.BootstrapOwner
	if owner == "" {
		return nil
	}
	_, err := actors.LoadActor(ctx, owner)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, rbac.ErrActorNotFound):
		return fmt.Errorf("failed to look up bootstrap owner: %w", err)
	}

	if err := actors.GrantMembership(ctx, &rbac.Actor{
		UserID:      owner,
		TenantID:    tenantID,
		Role:        rbac.RoleOwner,
		Permissions: rbac.DefaultPermissions(rbac.RoleOwner),
	}); err != nil {
		return fmt.Errorf("failed to create bootstrap owner: %w", err)
	}
	logger.WithFields(logrus.Fields{"tenant_id": tenantID, "user_id": owner}).Info("Bootstrapped platform owner")
	return nil
}

// The observers below keep a nil *Metrics from becoming a non-nil interface.

func observerOrNil(m *observability.Metrics) subscription.Observer {
	if m == nil {
		return nil
	}
	return m
}

func transitionObserver(m *observability.Metrics) transitions.Observer {
	if m == nil {
		return nil
	}
	return m
}

func quotaObserver(m *observability.Metrics) quota.Observer {
	if m == nil {
		return nil
	}
	return m
}

func guardObserver(m *observability.Metrics) guard.Observer {
	if m == nil {
		return nil
	}
	return m
}
