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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm/logger"

	"github.com/akmatori/incidentflow/internal/alerts/adapters"
	"github.com/akmatori/incidentflow/internal/api"
	"github.com/akmatori/incidentflow/internal/config"
	"github.com/akmatori/incidentflow/internal/database"
	"github.com/akmatori/incidentflow/internal/escalation"
	"github.com/akmatori/incidentflow/internal/executor"
	"github.com/akmatori/incidentflow/internal/handlers"
	"github.com/akmatori/incidentflow/internal/incidents"
	"github.com/akmatori/incidentflow/internal/jobs"
	"github.com/akmatori/incidentflow/internal/logging"
	"github.com/akmatori/incidentflow/internal/metrics"
	"github.com/akmatori/incidentflow/internal/middleware"
	"github.com/akmatori/incidentflow/internal/notify"
	"github.com/akmatori/incidentflow/internal/remediation"
	slackutil "github.com/akmatori/incidentflow/internal/slack"
	"github.com/akmatori/incidentflow/internal/storage"
)

func main() {
	// Load .env file if it exists (ignore error if file doesn't exist)
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.LogEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("incidentflow stopped", zap.Error(err))
	}
	if envErr != nil {
		log.Debug("no .env file loaded", zap.Error(envErr))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	api.SetLogger(log)
	log.Info("starting incidentflow",
		zap.Int("port", cfg.HTTPPort),
		zap.String("storage", cfg.StorageBackend),
		zap.String("jwt_secret_source", cfg.JWTSecretSource))

	if cfg.AdminPassword == "" {
		return errors.New("ADMIN_PASSWORD is not set")
	}

	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return err
	}

	repo, closeRepo, err := openRepository(cfg, log)
	if err != nil {
		return err
	}
	defer closeRepo()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.Register(registry); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	store := incidents.NewStore(repo,
		incidents.WithEvaluator(escalation.NewPolicy(policy.EscalationOverrides())),
		incidents.WithLogger(log.Named("store")))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Notifications
	slackManager := slackutil.NewManager(log.Named("slack"))
	if err := slackManager.Start(slackSettings(cfg)); err != nil {
		log.Warn("failed to start slack", zap.Error(err))
	}
	go slackManager.WatchForReloads(ctx)

	notifiers := notify.Multi{notify.NewSlackNotifier(slackManager)}
	if cfg.RabbitMQURL != "" {
		amqpNotifier, err := notify.DialAMQP(cfg.RabbitMQURL)
		if err != nil {
			log.Warn("rabbitmq notifications disabled", zap.Error(err))
		} else {
			defer amqpNotifier.Close()
			notifiers = append(notifiers, amqpNotifier)
			log.Info("rabbitmq notifications enabled")
		}
	}

	// Remediation
	agentHub := executor.NewAgentHub(log.Named("executor"))
	coordinator := remediation.NewCoordinator(store, agentHub, notifiers,
		remediation.WithPolicy(policy.RemediationPolicy()),
		remediation.WithLogger(log.Named("remediation")))

	// Background jobs
	stopJobs := make(chan struct{})
	monitor := jobs.NewEscalationMonitor(store, notifiers, log.Named("escalation"))
	go monitor.Start(cfg.EscalationInterval, stopJobs)

	// HTTP routes
	passwordHash, err := middleware.HashPassword(cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}
	jwtAuth := middleware.NewJWTAuthMiddleware(&middleware.JWTAuthConfig{
		Enabled:           true,
		AdminUsername:     cfg.AdminUsername,
		AdminPasswordHash: passwordHash,
		JWTSecret:         cfg.JWTSecret,
		JWTExpiryHours:    cfg.JWTExpiryHours,
		SkipPaths: []string{
			"/health",
			"/metrics",
			"/auth/login",
			"/webhook/*",
			"/ws/agent",
		},
	}, log.Named("auth"))

	mux := http.NewServeMux()
	handlers.NewHTTPHandler(agentHub).SetupRoutes(mux)
	handlers.NewAuthHandler(jwtAuth, cfg.JWTExpiryHours, log.Named("auth")).SetupRoutes(mux)
	handlers.NewAPIHandler(store, coordinator, log.Named("api")).SetupRoutes(mux)

	alertHandler := handlers.NewAlertHandler(store, cfg.WebhookSecret, log.Named("alerts"))
	alertHandler.RegisterAdapter(adapters.NewAlertmanagerAdapter())
	alertHandler.SetupRoutes(mux)

	agentHub.SetupRoutes(mux)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	var handler http.Handler = mux
	handler = jwtAuth.Wrap(handler)
	handler = middleware.NewCORSMiddleware(cfg.CORSAllowedOrigins...).Wrap(handler)
	handler = middleware.RequestLogger(log.Named("http"))(handler)
	handler = middleware.RequestIDMiddleware(handler)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for {
		select {
		case err := <-serverErr:
			close(stopJobs)
			return fmt.Errorf("HTTP server error: %w", err)
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				reloadSlack(slackManager, log)
				continue
			}
			log.Info("received shutdown signal, cleaning up", zap.String("signal", sig.String()))
			close(stopJobs)

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer shutdownCancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				log.Warn("error shutting down HTTP server", zap.Error(err))
			}
			slackManager.Stop()
			log.Info("shutdown complete")
			return nil
		}
	}
}

// openRepository picks the incident persistence backend. The returned func releases it.
func openRepository(cfg *config.Config, log *zap.Logger) (incidents.Repository, func(), error) {
	switch cfg.StorageBackend {
	case config.StoragePostgres, config.StorageSQLite:
		var err error
		if cfg.StorageBackend == config.StoragePostgres {
			err = database.Connect(cfg.DatabaseURL, logger.Warn)
		} else {
			err = database.ConnectSQLite(cfg.SQLitePath, logger.Warn)
		}
		if err != nil {
			return nil, nil, err
		}
		if err := database.AutoMigrate(); err != nil {
			database.Close()
			return nil, nil, err
		}
		log.Info("database connected", zap.String("backend", cfg.StorageBackend))
		return database.NewRepository(database.GetDB()), func() {
			if err := database.Close(); err != nil {
				log.Warn("error closing database", zap.Error(err))
			}
		}, nil

	case config.StorageRedis:
		repo, err := storage.NewRedisRepository(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		log.Info("redis connected")
		return repo, func() {
			if err := repo.Close(); err != nil {
				log.Warn("error closing redis", zap.Error(err))
			}
		}, nil

	default:
		log.Warn("using in-memory storage; incidents are lost on restart")
		return incidents.NewMemoryRepository(), func() {}, nil
	}
}

func slackSettings(cfg *config.Config) slackutil.Settings {
	return slackutil.Settings{
		BotToken: cfg.SlackBotToken,
		Channel:  cfg.SlackChannel,
		ProxyURL: cfg.ProxyURL,
	}
}

// reloadSlack re-reads the environment and hot-swaps the Slack client
func reloadSlack(manager *slackutil.Manager, log *zap.Logger) {
	cfg, err := config.Load()
	if err != nil {
		log.Warn("config reload failed", zap.Error(err))
		return
	}
	log.Info("reloading slack settings")
	manager.TriggerReload(slackSettings(cfg))
}
