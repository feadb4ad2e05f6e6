package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/boosty-org/assignment-engine/internal/api/http/handlers"
	"github.com/boosty-org/assignment-engine/internal/clock"
	"github.com/boosty-org/assignment-engine/internal/config"
	"github.com/boosty-org/assignment-engine/internal/engine"
	"github.com/boosty-org/assignment-engine/internal/events"
	"github.com/boosty-org/assignment-engine/internal/observability"
	"github.com/boosty-org/assignment-engine/internal/persistence"
	"github.com/boosty-org/assignment-engine/internal/repository"
	"github.com/boosty-org/assignment-engine/internal/sla"
	"github.com/boosty-org/assignment-engine/internal/threads"
	"github.com/boosty-org/assignment-engine/internal/worker"
	"github.com/boosty-org/assignment-engine/internal/workload"

	httptransport "github.com/boosty-org/assignment-engine/internal/api/http"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "assignmentd",
		Short: "assignmentd routes customer-facing work to agents and enforces SLA deadlines",
	}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app bundles everything the commands share.
type app struct {
	cfg         *config.Config
	logger      *zap.Logger
	metrics     *observability.Metrics
	postgres    *persistence.Postgres
	redis       *persistence.Redis
	amqp        *events.AMQPPublisher
	engine      *engine.Engine
	coordinator *engine.ThreadCoordinator
	tracker     *workload.Tracker
	sweeper     *worker.SLASweeper
	clk         clock.Clock
}

func bootstrap(ctx context.Context, runMigrations bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if pg.PoolHandle() == nil {
		return nil, fmt.Errorf("POSTGRES_DSN must be set")
	}
	if runMigrations && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)

	policy, err := sla.LoadPolicyFile(cfg.SLA.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("load sla policy: %w", err)
	}

	clk := clock.System()
	metrics := observability.NewMetrics()

	pool := pg.PoolHandle()
	assignmentRepo := repository.NewAssignmentRepository(pool)
	historyRepo := repository.NewAssignmentHistoryRepository(pool)

	var cache workload.SnapshotCache
	if snapshotCache := workload.NewRedisSnapshotCache(redis.Client); snapshotCache != nil {
		cache = snapshotCache
	}
	tracker := workload.NewTracker(cfg.Workload, clk, cache, logger)
	counts, err := assignmentRepo.CountOpenByAgent(ctx)
	if err != nil {
		return nil, fmt.Errorf("rebuild workload counters: %w", err)
	}
	tracker.Rebuild(ctx, counts)

	dispatcher := events.NewInMemoryDispatcher()
	notifier := worker.NewNotifier(dispatcher, logger)
	notifier.RegisterHandlers()

	var amqpPublisher *events.AMQPPublisher
	if cfg.AMQP.URL != "" {
		amqpPublisher, err = events.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
		if err != nil {
			return nil, fmt.Errorf("connect amqp: %w", err)
		}
		for _, eventType := range events.AllTypes() {
			dispatcher.Subscribe(eventType, amqpPublisher.Handler())
		}
	}

	var agents engine.AgentDirectory
	if len(cfg.Agents.Roster) > 0 {
		agents = engine.NewStaticAgentDirectory(cfg.Agents.Roster)
	}

	slaClock := sla.NewClock(policy, cfg.SLA.AtRiskFraction, assignmentRepo)
	eng := engine.New(engine.Dependencies{
		Assignments: assignmentRepo,
		History:     historyRepo,
		Tracker:     tracker,
		SLA:         slaClock,
		Agents:      agents,
		Dispatcher:  dispatcher,
		Clock:       clk,
		Logger:      logger,
		Metrics:     metrics,
	}, engine.NewEscalationChain(cfg.SLA.MaxEscalationLevel))

	coordinator := engine.NewThreadCoordinator(eng, threads.NewClient(cfg.Threads.ServiceURL, logger), tracker, logger)
	sweeper := worker.NewSLASweeper(eng, cfg.Sweep, logger, metrics)

	return &app{
		cfg:         cfg,
		logger:      logger,
		metrics:     metrics,
		postgres:    pg,
		redis:       redis,
		amqp:        amqpPublisher,
		engine:      eng,
		coordinator: coordinator,
		tracker:     tracker,
		sweeper:     sweeper,
		clk:         clk,
	}, nil
}

func (a *app) close() {
	if a.amqp != nil {
		_ = a.amqp.Close()
	}
	a.redis.Close()
	a.postgres.Close()
	_ = a.logger.Sync()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP boundary and the periodic SLA sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			application, err := bootstrap(ctx, true)
			if err != nil {
				return err
			}
			defer application.close()
			logger := application.logger

			if application.cfg.Sweep.Enabled {
				if err := application.sweeper.Start(); err != nil {
					logger.Fatal("start sla sweeper", zap.Error(err))
				}
				defer application.sweeper.Stop()
			}

			fiberApp := fiber.New(fiber.Config{DisableStartupMessage: true})
			httptransport.RegisterMiddlewares(fiberApp, logger, application.metrics, application.cfg.App.RequestTimeout())

			httptransport.RegisterRoutes(fiberApp, httptransport.RouteConfig{
				Health:      handlers.NewHealthHandler(application.cfg.App.Name, application.cfg.App.Version, application.postgres, application.redis),
				Assignments: handlers.NewAssignmentsHandler(application.engine, application.clk),
				Agents:      handlers.NewAgentsHandler(application.tracker),
				Threads:     handlers.NewThreadsHandler(application.coordinator, application.engine, application.clk),
			})

			go func() {
				if err := fiberApp.Listen(application.cfg.App.Addr()); err != nil {
					logger.Fatal("fiber listen", zap.Error(err))
				}
			}()

			waitForShutdown(logger)
			return fiberApp.Shutdown()
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run a single overdue sweep pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			application, err := bootstrap(ctx, false)
			if err != nil {
				return err
			}
			defer application.close()

			escalated, err := application.sweeper.RunOnce(ctx)
			if err != nil {
				return err
			}
			application.logger.Info("sweep finished", zap.Int("escalated", escalated))
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply SQL migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := observability.NewLogger(cfg.Logger)
			if err != nil {
				return err
			}
			pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
			if err != nil {
				return err
			}
			defer pg.Close()
			return persistence.RunMigrations(ctx, pg.PoolHandle(), logger)
		},
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
