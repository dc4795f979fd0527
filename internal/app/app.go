package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ohio-rate-watch/internal/alert"
	"ohio-rate-watch/internal/config"
	"ohio-rate-watch/internal/diff"
	"ohio-rate-watch/internal/fetch"
	"ohio-rate-watch/internal/model"
	"ohio-rate-watch/internal/normalize"
	"ohio-rate-watch/internal/notify"
	"ohio-rate-watch/internal/scheduler"
	"ohio-rate-watch/internal/service"
	"ohio-rate-watch/internal/storage"
	"ohio-rate-watch/internal/territory"
	"ohio-rate-watch/internal/validate"
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

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newNotifier() notify.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return notify.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return notify.NewLogNotifier(a.Logger)
}

func (a *App) newPipeline(store *storage.Store, notifier notify.Notifier) (*service.Pipeline, error) {
	resolver, err := territory.NewResolver()
	if err != nil {
		return nil, err
	}

	gate := validate.New(validate.Config{
		MinOfferFloor: a.Config.Validation.MinOfferFloor,
		MinRatioPct:   a.Config.Validation.MinRatioPct,
		MinHistory:    a.Config.Validation.MinHistory,
	}, a.Logger)

	detector := diff.New(diff.Config{
		MinPctChange: decimal.NewFromFloat(a.Config.Diff.MinPctChange),
		MinAbsChange: decimal.NewFromFloat(a.Config.Diff.MinAbsChange),
	}, nil, a.Logger)

	fetcher := fetch.New(fetch.Options{
		BaseURL:   a.Config.Fetch.BaseURL,
		Timeout:   a.Config.Fetch.RequestTimeout,
		UserAgent: a.Config.Fetch.UserAgent,
		MinDelay:  a.Config.Fetch.MinDelay,
	}, a.Logger)

	deps := service.Collaborators{
		Fetcher:     fetcher,
		Normalizer:  normalize.New(a.Logger),
		Gate:        gate,
		Detector:    detector,
		Notifier:    notifier,
		Territories: resolver,
	}
	if store != nil {
		deps.Runs = store
		deps.Snapshots = store
	}

	if a.Config.Alerting.Enabled {
		var subs alert.SubscriberStore
		if store != nil {
			subs = store
		}
		if subs != nil {
			engine := alert.New(alert.Config{
				DefaultThresholdPct: decimal.NewFromFloat(a.Config.Alerting.DefaultThresholdPct),
				Cooldown:            a.Config.Alerting.Cooldown,
				RealertDeltaPct:     decimal.NewFromFloat(a.Config.Alerting.RealertDeltaPct),
				PriceSanityFloor:    decimal.NewFromFloat(a.Config.Alerting.PriceSanityFloor),
				MonthlyUsageCcf:     decimal.NewFromFloat(a.Config.Alerting.MonthlyUsageCcf),
				RateClass:           model.RateClass(a.Config.Alerting.RateClass),
			}, subs, notifier, resolver, a.Logger)
			deps.AlertEngine = engine
		}
	}

	rateClasses := make([]model.RateClass, 0, len(a.Config.Fetch.RateClasses))
	for _, rc := range a.Config.Fetch.RateClasses {
		rateClasses = append(rateClasses, model.RateClass(rc))
	}

	return service.New(deps, service.Options{
		RateClasses:  rateClasses,
		BaselineDays: a.Config.Validation.BaselineDays,
	}, a.Logger), nil
}

// RunOnceOptions configure a single manual pipeline run.
type RunOnceOptions struct {
	DryRun     bool
	ForceAlert bool
}

// RunOnce executes the pipeline a single time. A validation reject returns
// nil: the process exits 0 because the reject was handled, not swallowed.
func (a *App) RunOnce(ctx context.Context, opts RunOnceOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}
	if store == nil && !opts.DryRun {
		return errors.New("database.dsn not configured; use --dry-run to run without persistence")
	}

	if store != nil && a.Config.Database.AdvisoryLockKey != 0 {
		unlock, acquired, err := store.TryAdvisoryLock(ctx, a.Config.Database.AdvisoryLockKey)
		if err != nil {
			return err
		}
		if !acquired {
			return errors.New("another run holds the pipeline lock")
		}
		defer unlock()
	}

	notifier := a.newNotifier()
	if opts.DryRun {
		notifier = notify.NewLogNotifier(a.Logger)
	}

	pipeline, err := a.newPipeline(store, notifier)
	if err != nil {
		return err
	}

	summary, err := pipeline.Execute(ctx, service.RunOptions{DryRun: opts.DryRun, ForceAlert: opts.ForceAlert})
	if err != nil {
		return err
	}

	a.Logger.Info().
		Str("run_id", summary.RunID.String()).
		Str("status", string(summary.Status)).
		Int("offers", summary.TotalOffers).
		Int("events", summary.Events).
		Msg("run finished")
	return nil
}

// Serve runs the pipeline on the configured daily schedule until signalled.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.New(a.Config.Schedule.Spec, a.Logger)

	a.Logger.Info().Msg("starting scheduled pipeline")
	err := sched.Run(ctx, func(runCtx context.Context) error {
		return a.RunOnce(runCtx, RunOnceOptions{})
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("scheduler terminated with error")
		return err
	}

	a.Logger.Info().Msg("scheduled pipeline stopped")
	return nil
}

// ExportOptions hold parameters for exporting the event history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Runs   int
	Events int
}

func (a *App) requireStore(ctx context.Context) (*storage.Store, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, fmt.Errorf("database.dsn not configured")
	}
	return store, closeStore, nil
}
