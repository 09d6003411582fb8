package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/urfave/cli/v2"

	"github.com/OldStager01/fleet-autoscaler/api"
	"github.com/OldStager01/fleet-autoscaler/internal/events"
	"github.com/OldStager01/fleet-autoscaler/internal/logger"
	"github.com/OldStager01/fleet-autoscaler/internal/metrics"
	"github.com/OldStager01/fleet-autoscaler/internal/provider"
	"github.com/OldStager01/fleet-autoscaler/internal/provider/container"
	"github.com/OldStager01/fleet-autoscaler/internal/provider/simulation"
	"github.com/OldStager01/fleet-autoscaler/internal/scaler"
	"github.com/OldStager01/fleet-autoscaler/pkg/config"
	"github.com/OldStager01/fleet-autoscaler/pkg/database"
	"github.com/OldStager01/fleet-autoscaler/pkg/database/queries"
	"github.com/OldStager01/fleet-autoscaler/pkg/models"
)

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger.Setup(cfg.App.LogLevel, cfg.App.Mode)
	return cfg, nil
}

func loadGroups(dir string, cfg *config.Config) ([]*models.GroupConfig, error) {
	groups, err := config.LoadGroups(dir, cfg.Scaling.DefaultCooldown)
	if err != nil {
		return nil, err
	}
	if err := config.ValidateGroups(groups); err != nil {
		return nil, err
	}
	return groups, nil
}

func connectDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := database.New(ctx, cfg.Database.ToDBConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	logger.Info("Database connection established")

	timeout := cfg.Database.MigrationTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	mctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	applied, err := database.NewMigrator(db).Run(mctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	logger.Debugf("Database schema up to date, %d migrations applied", applied)
	return db, nil
}

func newProvider(ctx context.Context, cfg *config.Config) (provider.ServiceProvider, error) {
	switch cfg.Provider.Type {
	case config.ProviderDocker:
		d := cfg.Provider.Docker
		p, err := container.New(ctx, container.Config{
			Endpoint:                 d.Endpoint,
			Network:                  d.Network,
			AutoCreateNetwork:        d.AutoCreateNetwork,
			ServersDir:               d.ServersDir,
			TemplatesDir:             d.TemplatesDir,
			CleanupDynamicOnShutdown: d.CleanupDynamicOnShutdown,
			StopTimeout:              d.StopTimeout,
			RemovePollAttempts:       d.RemovePollAttempts,
			RemovePollInterval:       d.RemovePollInterval,
			LogWait:                  d.LogWait,
			LogReconnectDelay:        d.LogReconnectDelay,
			MonitorInterval:          d.MonitorInterval,
			MonitorHeartbeats:        d.MonitorHeartbeats,
			ShutdownGrace:            d.ShutdownGrace,
		}, nil)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return newSimulation(cfg.Provider.Simulation), nil
	}
}

func newSimulation(s config.SimulationConfig) *simulation.Provider {
	return simulation.New(simulation.Config{
		StartupDelay:         s.StartupDelay,
		StopDelay:            s.StopDelay,
		HeartbeatInterval:    s.HeartbeatInterval,
		PlayerActivityChance: s.PlayerActivityChance,
		LogActivityChance:    s.LogActivityChance,
		MaxLogLines:          s.MaxLogLines,
		Pattern:              s.Pattern,
		ServersDir:           s.ServersDir,
		Seed:                 s.Seed,
	})
}

func serveCmd(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger.Infof("Starting %s in %s mode", cfg.App.Name, cfg.App.Mode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var db *database.DB
	if cfg.Database.Enabled {
		if db, err = connectDatabase(ctx, cfg); err != nil {
			return err
		}
		defer db.Close()
	} else {
		logger.Warn("Database disabled, scaling history is kept in memory only")
	}

	groups, err := loadGroups(cfg.Scaling.GroupsDir, cfg)
	if err != nil {
		return fmt.Errorf("failed to load groups: %w", err)
	}

	p, err := newProvider(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to start %s provider: %w", cfg.Provider.Type, err)
	}

	bus := events.NewEventBus(cfg.Events.BufferSize)
	var store events.ScalingEventStore
	if db != nil {
		store = queries.NewScalingEventRepository(db.DB)
	}
	eventLogger := events.NewEventLogger(store, bus.SubscribeAll(), cfg.Events.HistorySize)
	eventLogger.Start()

	registry := scaler.NewRegistry(scaler.Config{
		HeartbeatTimeout:         cfg.Scaling.HeartbeatTimeout,
		StartupTimeout:           cfg.Scaling.StartupTimeout,
		StartingScaleUpThreshold: cfg.Scaling.StartingScaleUpThreshold,
		OperationTimeout:         cfg.Scaling.OperationTimeout,
	}, p, events.NewPublisher(bus))

	if err := registry.Load(ctx, groups); err != nil {
		eventLogger.Stop()
		p.Shutdown(context.Background())
		return fmt.Errorf("failed to load groups: %w", err)
	}

	scheduler := scaler.NewScheduler(registry, cfg.Scaling.CheckInterval, cfg.Scaling.CronJobTimeout)
	if err := scheduler.Start(); err != nil {
		logger.WithError(err).Warn("Some cron jobs could not be scheduled")
	}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.StartServer(cfg.Metrics.Port)
	}

	reload := func(ctx context.Context) ([]*models.GroupConfig, error) {
		groups, err := loadGroups(cfg.Scaling.GroupsDir, cfg)
		if err != nil {
			return nil, err
		}
		if err := registry.Reload(ctx, groups); err != nil {
			return nil, err
		}
		if err := scheduler.SyncJobs(); err != nil {
			logger.WithError(err).Warn("Some cron jobs could not be scheduled")
		}
		return groups, nil
	}

	server, err := api.NewServer(cfg, api.Dependencies{
		Fleet:        registry,
		ProviderName: p.Name(),
		DB:           db,
		Events:       bus.SubscribeAll(),
		History:      eventLogger,
		Reload:       reload,
	})
	if err != nil {
		return err
	}

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	var result *multierror.Error
	select {
	case err := <-errChan:
		result = multierror.Append(result, fmt.Errorf("server error: %w", err))
	case <-ctx.Done():
		logger.Info("Received shutdown signal, shutting down")
	}

	timeout := cfg.App.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	scheduler.Stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		result = multierror.Append(result, fmt.Errorf("api shutdown: %w", err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			result = multierror.Append(result, fmt.Errorf("metrics shutdown: %w", err))
		}
	}
	if err := registry.Shutdown(shutdownCtx); err != nil {
		result = multierror.Append(result, err)
	}
	eventLogger.Stop()
	bus.Close()

	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	logger.Info("Autoscaler stopped gracefully")
	return nil
}

func migrateCmd(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if !cfg.Database.Enabled {
		return errors.New("database is disabled in the configuration")
	}

	logger.Info("Running database migrations")
	db, err := connectDatabase(c.Context, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	logger.Info("Migrations completed successfully")
	return nil
}
