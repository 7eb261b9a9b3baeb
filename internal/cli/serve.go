package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/slack-go/slack/socketmode"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/helpdesk/internal/api/http"
	"github.com/spec-kit/helpdesk/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk/internal/api/slackapi"
	"github.com/spec-kit/helpdesk/internal/auth"
	"github.com/spec-kit/helpdesk/internal/persistence"
	"github.com/spec-kit/helpdesk/internal/scheduler"
	"github.com/spec-kit/helpdesk/internal/worker"
)

var shutdownTimeout time.Duration

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot, the reporting API and the scheduled jobs",
		RunE:  runServe,
	}
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "grace period for in-flight work")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger
	cfg := a.cfg

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, a.postgres.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			return err
		}
	}
	if err := a.wire(ctx); err != nil {
		return err
	}

	router := slackapi.NewRouter(slackapi.Dependencies{
		Tickets:    a.tickets,
		Tags:       a.tags,
		Gateway:    a.gateway,
		Deduper:    a.redis,
		DedupeTTL:  cfg.Redis.EventDedupeTTL,
		Transcript: a.transcript,
		Metrics:    a.metrics,
		Logger:     logger,
	})

	var tokens *auth.TokenManager
	if cfg.Auth.JWTSecret != "" {
		tokens = auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTLMinutes)
	} else {
		logger.Warn("API_JWT_SECRET not set; reporting API is open")
	}

	var slackHandler *handlers.SlackHandler
	if !cfg.Slack.SocketMode() {
		slackHandler = handlers.NewSlackHandler(router, cfg.Slack.SigningSecret, logger)
	}

	httpApp := fiber.New(fiber.Config{AppName: cfg.App.Name, DisableStartupMessage: true})
	httptransport.RegisterMiddlewares(httpApp, logger, a.metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(httpApp, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version,
			handlers.Check{Name: "postgres", Pinger: a.postgres},
			handlers.Check{Name: "redis", Pinger: a.redis},
			handlers.Check{Name: "slack", Pinger: handlers.PingFunc(func(ctx context.Context) error {
				_, err := a.gateway.BotUserID(ctx)
				return err
			})},
		),
		Reports:        handlers.NewReportsHandler(a.stats),
		Slack:          slackHandler,
		Metrics:        a.metrics,
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
	})

	cleaner := worker.NewThreadCleaner(a.redis, a.gateway, a.metrics, logger)
	sched, err := scheduler.New(cfg.Schedule, scheduler.Jobs{
		StaleSweep: func(ctx context.Context) error {
			_, err := a.tickets.CloseStale(ctx)
			return err
		},
		DailyDigest: a.stats.SendDailyDigest,
		ThreadCleanup: func(ctx context.Context) error {
			_, err := cleaner.RunOnce(ctx)
			return err
		},
	}, logger)
	if err != nil {
		return err
	}
	sched.Start()

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.App.Addr()))
		errCh <- httpApp.Listen(cfg.App.Addr())
	}()
	if cfg.Slack.SocketMode() {
		client := socketmode.New(a.gateway.Client())
		go func() {
			errCh <- router.RunSocketMode(ctx, client)
		}()
	}
	a.notifier.Heartbeat(ctx, "Bot started")

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("listener stopped", zap.Error(err))
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	sched.Stop(shutdownCtx)
	if err := httpApp.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	router.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
