package main

import (
	"context"
	"os/signal"
	"syscall"

	"crisis-monitor/pkg/archive"
	"crisis-monitor/pkg/circuitbreaker"
	"crisis-monitor/pkg/config"
	"crisis-monitor/pkg/errors"
	httpserver "crisis-monitor/pkg/http"
	"crisis-monitor/pkg/messaging"
	"crisis-monitor/pkg/metrics"
	"crisis-monitor/pkg/ratelimit"
	"crisis-monitor/pkg/risk"
	"crisis-monitor/pkg/session"
	"crisis-monitor/pkg/util"
	"crisis-monitor/pkg/version"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the monitoring service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	cfg, err := config.Load(logger)
	if err != nil {
		return err
	}
	if err := cfg.ApplyLogging(logger); err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"version":         version.Version,
		"address":         cfg.HTTP.Address(),
		"max_sessions":    cfg.Session.MaxSessions,
		"archive_backend": cfg.Archive.Backend,
		"amqp_enabled":    cfg.Messaging.AMQPEnabled,
	}).Info("Starting crisis monitor")

	metrics.SetMetricsPath(cfg.Metrics.Path)
	metrics.StartMetrics(logger, cfg.Metrics.Enabled)

	store, err := archive.New(archiveConfig(cfg.Archive), logger)
	if err != nil {
		return errors.Wrap(err, "failed to open session archive")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close session archive")
		}
	}()

	manager := session.NewManager(
		risk.NewEngine(logger),
		session.NewMemoryStore(cfg.Session.ShardCount),
		store,
		session.Config{
			MaxSessions:        cfg.Session.MaxSessions,
			HistoryWindow:      cfg.Session.HistoryWindow,
			AllowImplicitStart: cfg.Session.AllowImplicitStart,
		},
		logger,
	)

	panics := util.NewPanicHandler(logger)

	var hub *httpserver.Hub
	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	if cfg.HTTP.EnableWebSocket {
		hub = httpserver.NewHub(logger)
		manager.AddListener(hub)
		panics.SafeGo("websocket_hub", func() { hub.Run(hubCtx) })
	}

	server := httpserver.NewServer(logger, cfg.HTTP, manager, hub)
	server.SetArchive(store)
	if guarded, ok := store.(*archive.GuardedStore); ok {
		server.AddReadinessCheck("archive", guarded.Ready)
	}
	if cfg.RateLimit.Enabled {
		limiter := ratelimit.NewHTTPMiddleware(rateLimitConfig(cfg.RateLimit), logger)
		server.SetRateLimiter(limiter)
		panics.SafeGo("rate_limiter", func() { limiter.Limiter().Run(hubCtx) })
	}

	var (
		amqpClient *messaging.AMQPClient
		publisher  *messaging.EventPublisher
	)
	if cfg.Messaging.AMQPEnabled {
		amqpClient = messaging.NewAMQPClient(logger, messaging.AMQPConfig{
			URL:          cfg.Messaging.AMQPUrl,
			ExchangeName: cfg.Messaging.Exchange,
			QueueName:    cfg.Messaging.QueueName,
			MessageTTL:   cfg.Messaging.MessageTTL,
		})
		if err := amqpClient.Connect(); err != nil {
			// Events are dropped and readiness fails while the broker is unreachable.
			logger.WithError(err).Warn("Failed to connect to AMQP broker")
		}

		publisher = messaging.NewEventPublisher(amqpClient, cfg.Messaging.QueueSize, logger)
		publisher.PublishAssessments = cfg.Messaging.PublishAssessments
		publisher.Start()
		manager.AddListener(publisher)

		server.AddReadinessCheck("amqp", func() error {
			if !amqpClient.IsConnected() {
				return errors.New("not connected to AMQP broker")
			}
			return nil
		})
	}

	sweeper := session.NewSweeper(manager, session.SweeperConfig{
		Interval: cfg.Session.SweepInterval,
		Timeout:  cfg.Session.Timeout,
	}, logger)
	sweeper.Start()

	serverErr := server.Start()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal, cleaning up...")
	case runErr = <-serverErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Error shutting down HTTP server")
	}

	sweeper.Stop(cfg.HTTP.ShutdownTimeout)
	manager.Shutdown(shutdownCtx)

	if publisher != nil {
		publisher.Stop()
	}
	if amqpClient != nil {
		amqpClient.Disconnect()
	}
	hubCancel()

	if runErr != nil {
		return errors.Wrap(runErr, "HTTP server stopped unexpectedly")
	}
	logger.Info("Application shut down gracefully")
	return nil
}

func archiveConfig(c config.ArchiveConfig) archive.Config {
	return archive.Config{
		Backend:    c.Backend,
		MaxEntries: c.MaxEntries,
		SQLitePath: c.SQLitePath,
		Redis: archive.RedisConfig{
			Address:  c.RedisAddress,
			Password: c.RedisPassword,
			Database: c.RedisDB,
			TTL:      c.RedisTTL,
		},
		Breaker: breakerConfig(c),
	}
}

func breakerConfig(c config.ArchiveConfig) circuitbreaker.Config {
	b := circuitbreaker.DefaultConfig()
	b.FailureThreshold = c.BreakerThreshold
	b.Timeout = c.BreakerTimeout
	return b
}

func rateLimitConfig(c config.RateLimitConfig) ratelimit.Config {
	rl := ratelimit.DefaultConfig()
	rl.Enabled = c.Enabled
	rl.RequestsPerSecond = c.RequestsPerSecond
	rl.BurstSize = c.Burst
	rl.ClientTTL = c.ClientTTL
	rl.ExemptIPs = c.ExemptIPs
	return rl
}
