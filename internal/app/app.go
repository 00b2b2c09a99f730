package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"market-watcher/internal/alerting"
	"market-watcher/internal/archive"
	"market-watcher/internal/config"
	"market-watcher/internal/extract"
	"market-watcher/internal/marketplace"
	"market-watcher/internal/ratelimit"
	"market-watcher/internal/rules"
	"market-watcher/internal/scheduler"
	"market-watcher/internal/service"
	"market-watcher/internal/status"
	"market-watcher/internal/storage"
	"market-watcher/internal/storage/memory"
	"market-watcher/internal/verify"
	"market-watcher/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) fees() rules.Fees {
	return rules.Fees{Rate: a.Config.Fees.Rate, MinCents: a.Config.Fees.MinCents}
}

func (a *App) userAgent(configured string) string {
	if configured != "" {
		return configured
	}
	return version.UserAgent()
}

func (a *App) newNotifier() alerting.Notifier {
	var notifiers []alerting.Notifier
	if a.Config.Alerting.Enabled {
		if cfg := a.Config.Alerting.Telegram; cfg.Enabled {
			notifiers = append(notifiers, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger))
		}
		if cfg := a.Config.Alerting.Discord; cfg.Enabled {
			notifiers = append(notifiers, alerting.NewDiscordNotifier(cfg.WebhookURL, cfg.Username, 10*time.Second, a.Logger))
		}
	}

	switch len(notifiers) {
	case 0:
		a.Logger.Warn().Msg("no alert channel enabled; alerts are written to the log only")
		return alerting.NewLogNotifier(a.Logger)
	case 1:
		return notifiers[0]
	default:
		return alerting.NewMultiNotifier(a.Logger, notifiers...)
	}
}

// openStore returns the PostgreSQL store, or the in-memory store when no DSN
// is configured.
func (a *App) openStore(ctx context.Context) (storage.Repository, error) {
	if a.Config.Database.DSN == "" {
		a.Logger.Warn().Msg("database.dsn not configured; using in-memory store")
		return memory.New(), nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, err
	}

	store := storage.NewStore(pool)
	if a.Config.Database.AutoMigrate {
		applied, err := store.RunMigrations(ctx)
		if err != nil {
			store.Close()
			return nil, err
		}
		if len(applied) > 0 {
			a.Logger.Info().Strs("migrations", applied).Msg("schema migrated")
		}
	}
	return store, nil
}

// openDatabase is openStore for commands whose effect must outlive the process.
func (a *App) openDatabase(ctx context.Context) (storage.Repository, error) {
	if a.Config.Database.DSN == "" {
		return nil, errors.New("database not configured; set database.dsn")
	}
	return a.openStore(ctx)
}

// newLimiter returns the verification budget. With Redis configured the
// budget is shared by every worker using the same key.
func (a *App) newLimiter(ctx context.Context) (ratelimit.Limiter, func(), error) {
	rate := a.Config.Verification.RatePerSecond
	if a.Config.Redis.Addr == "" {
		return ratelimit.NewTokenBucket(rate), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     a.Config.Redis.Addr,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis: ping: %w", err)
	}
	return ratelimit.NewRedisBucket(rdb, a.Config.Redis.Key, rate, a.Logger), func() { _ = rdb.Close() }, nil
}

func (a *App) newArchiver(ctx context.Context) (archive.Archiver, error) {
	switch a.Config.Archive.Driver {
	case "dir":
		return archive.NewDirArchiver(a.Config.Archive.Dir)
	case "s3":
		return archive.NewS3Archiver(ctx, a.Config.Archive.S3)
	default:
		return archive.Nop{}, nil
	}
}

func (a *App) newMarketClient() *marketplace.Client {
	mc := a.Config.Marketplace
	breaker := marketplace.NewBreaker(marketplace.BreakerOptions{
		Threshold:   a.Config.Breaker.Threshold,
		Step:        a.Config.Breaker.Step,
		MaxCooldown: a.Config.Breaker.MaxCooldown,
	})
	return marketplace.NewClient(marketplace.Options{
		BaseURL:           mc.BaseURL,
		Count:             mc.Count,
		Timeout:           mc.RequestTimeout,
		UserAgent:         a.userAgent(mc.UserAgent),
		MaxAttempts:       mc.MaxAttempts,
		BaseDelay:         mc.BaseDelay,
		RequestsPerSecond: mc.RequestsPerSecond,
	}, breaker, a.Logger)
}

type pipeline struct {
	service *service.Service
	market  *marketplace.Client
	close   func()
}

func (a *App) newPipeline(ctx context.Context, store storage.Repository, sched *scheduler.Scheduler) (*pipeline, error) {
	limiter, closeLimiter, err := a.newLimiter(ctx)
	if err != nil {
		return nil, err
	}
	archiver, err := a.newArchiver(ctx)
	if err != nil {
		closeLimiter()
		return nil, err
	}

	vc := a.Config.Verification
	inspector := verify.NewClient(verify.Options{
		BaseURL:     vc.BaseURL,
		Timeout:     vc.RequestTimeout,
		UserAgent:   version.UserAgent(),
		MaxAttempts: vc.MaxAttempts,
		BaseDelay:   vc.BaseDelay,
	}, a.Logger)

	market := a.newMarketClient()
	svc := service.New(service.Deps{
		Fetcher:    market,
		Archiver:   archiver,
		Parser:     extract.NewParser(a.Logger),
		Snapshots:  store,
		Watches:    store,
		Control:    store,
		Locker:     store,
		Resolver:   verify.NewResolver(store, inspector, limiter, vc.AcquireTimeout, a.Logger),
		Dispatcher: alerting.NewDispatcher(store, a.newNotifier(), a.fees(), a.Logger),
		Scheduler:  sched,
	}, service.Options{
		LockKey:       a.Config.Scheduler.AdvisoryLockKey,
		WatchDelayMin: a.Config.Scheduler.WatchDelayMin,
		WatchDelayMax: a.Config.Scheduler.WatchDelayMax,
	}, a.Logger)

	return &pipeline{service: svc, market: market, close: closeLimiter}, nil
}

// Run executes the long-running watcher, plus the status endpoint when enabled.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		Jitter:       a.Config.Scheduler.Jitter,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	p, err := a.newPipeline(ctx, store, sched)
	if err != nil {
		return err
	}
	defer p.close()

	g, gctx := errgroup.WithContext(ctx)
	if a.Config.Status.Enabled {
		router := status.NewRouter(status.Sources{
			Reports: p.service,
			Breaker: p.market.Breaker(),
			Control: store,
		}, a.Logger)
		g.Go(func() error {
			return status.Serve(gctx, a.Config.Status.Addr, router, a.Logger)
		})
	}
	g.Go(func() error {
		return p.service.Run(gctx)
	})

	a.Logger.Info().Str("version", version.Version).Msg("starting market watcher")
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("watcher terminated with error")
		return err
	}

	a.Logger.Info().Msg("market watcher stopped")
	return nil
}

// ExportOptions hold parameters for exporting a watch's price history.
type ExportOptions struct {
	WatchID   int64
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit   int
	WatchID int64
	Alerts  bool
}
