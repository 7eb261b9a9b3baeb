package cli

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/chat"
	"github.com/spec-kit/helpdesk/internal/config"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/macros"
	"github.com/spec-kit/helpdesk/internal/observability"
	"github.com/spec-kit/helpdesk/internal/persistence"
	"github.com/spec-kit/helpdesk/internal/repository"
	"github.com/spec-kit/helpdesk/internal/repository/memory"
	"github.com/spec-kit/helpdesk/internal/service"
	"github.com/spec-kit/helpdesk/internal/titlegen"
	"github.com/spec-kit/helpdesk/internal/transcript"
	"github.com/spec-kit/helpdesk/internal/worker"
)

// repositories groups the storage the services run on.
type repositories struct {
	tickets     repository.TicketRepository
	users       repository.UserRepository
	botMessages repository.BotMessageRepository
	tags        repository.TagRepository
}

// app holds the collaborators shared by the commands.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *observability.Metrics
	postgres *persistence.Postgres
	redis    *persistence.Redis
	repos    repositories

	// Set by wire.
	gateway    *chat.SlackGateway
	dispatcher events.Dispatcher
	notifier   *service.NotificationService
	transcript *transcript.Transcript
	tickets    *service.TicketService
	tags       *service.TagService
	stats      *service.StatsService
	users      *service.UserService
}

// bootstrap loads configuration and opens storage. Postgres backs the
// repositories when a DSN is configured, the in-memory store otherwise.
func bootstrap(ctx context.Context) (*app, error) {
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

	a := &app{
		cfg:      cfg,
		logger:   logger,
		metrics:  observability.NewMetrics(),
		postgres: pg,
		redis:    persistence.NewRedis(cfg.Redis, logger),
	}

	if pg.Enabled() {
		pool := pg.PoolHandle()
		a.repos = repositories{
			tickets:     repository.NewTicketRepository(pool),
			users:       repository.NewUserRepository(pool),
			botMessages: repository.NewBotMessageRepository(pool),
			tags:        repository.NewTagRepository(pool),
		}
	} else {
		store := memory.New()
		a.repos = repositories{
			tickets:     store.Tickets(),
			users:       store.Users(),
			botMessages: store.BotMessages(),
			tags:        store.Tags(),
		}
	}

	a.users = service.NewUserService(a.repos.users, logger)
	a.tags = service.NewTagService(service.TagDependencies{
		TagRepo:    a.repos.tags,
		TicketRepo: a.repos.tickets,
		UserRepo:   a.repos.users,
		Slack:      cfg.Slack,
		Logger:     logger,
	})
	return a, nil
}

// wire builds the chat facing services. It requires the Slack settings.
func (a *app) wire(ctx context.Context) error {
	if err := a.cfg.Validate(); err != nil {
		return err
	}
	cfg := a.cfg
	logger := a.logger

	tr, err := transcript.Load(cfg.Transcript.Program, cfg.Transcript.OverrideFile)
	if err != nil {
		return fmt.Errorf("load transcript: %w", err)
	}
	a.transcript = tr

	a.gateway = chat.NewSlackGateway(cfg.Slack, logger)
	a.dispatcher = events.NewInMemoryDispatcher(logger)
	a.notifier = service.NewNotificationService(a.gateway, a.dispatcher, logger, cfg.Slack)
	worker.StartEventSubscribers(a.dispatcher, a.notifier, a.metrics)

	titles := titlegen.New(cfg.AI, titlegen.Dependencies{
		Logger:   logger,
		Metrics:  a.metrics,
		Reporter: a.notifier,
	})

	a.tickets = service.NewTicketService(service.TicketDependencies{
		TicketRepo:     a.repos.tickets,
		UserRepo:       a.repos.users,
		BotMessageRepo: a.repos.botMessages,
		TagRepo:        a.repos.tags,
		Gateway:        a.gateway,
		Titles:         titles,
		Notifier:       a.notifier,
		Queue:          a.redis,
		Dispatcher:     a.dispatcher,
		Transcript:     tr,
		Capabilities:   service.ResolveCapabilities(ctx, a.gateway, logger),
		Slack:          cfg.Slack,
		Policy:         cfg.Policy,
		Logger:         logger,
	})
	a.tickets.SetMacroRunner(macros.NewDispatcher(macros.Dependencies{
		Lifecycle:  a.tickets,
		UserRepo:   a.repos.users,
		Gateway:    a.gateway,
		Notifier:   a.notifier,
		Dispatcher: a.dispatcher,
		Slack:      cfg.Slack,
		Logger:     logger,
	}))

	a.tags = service.NewTagService(service.TagDependencies{
		TagRepo:    a.repos.tags,
		TicketRepo: a.repos.tickets,
		UserRepo:   a.repos.users,
		Gateway:    a.gateway,
		Slack:      cfg.Slack,
		Logger:     logger,
	})
	a.stats = service.NewStatsService(service.StatsDependencies{
		TicketRepo: a.repos.tickets,
		UserRepo:   a.repos.users,
		TagRepo:    a.repos.tags,
		Gateway:    a.gateway,
		Notifier:   a.notifier,
		Slack:      cfg.Slack,
		Location:   cfg.Schedule.Location(),
		Logger:     logger,
	})
	return nil
}

// Close releases storage connections and flushes the logger.
func (a *app) Close() {
	a.redis.Close()
	a.postgres.Close()
	_ = a.logger.Sync()
}
