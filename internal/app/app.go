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
	"golang.org/x/sync/errgroup"

	"catalyst-catcher/internal/alerting"
	"catalyst-catcher/internal/analysis"
	"catalyst-catcher/internal/api"
	"catalyst-catcher/internal/baseprice"
	"catalyst-catcher/internal/calibration"
	"catalyst-catcher/internal/config"
	"catalyst-catcher/internal/discovery"
	"catalyst-catcher/internal/dispatch"
	"catalyst-catcher/internal/marketclock"
	"catalyst-catcher/internal/news"
	"catalyst-catcher/internal/quotes"
	"catalyst-catcher/internal/scheduler"
	"catalyst-catcher/internal/service"
	"catalyst-catcher/internal/storage"
	"catalyst-catcher/internal/tracker"
	"catalyst-catcher/internal/verification"
	"catalyst-catcher/internal/version"
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

// migrator is implemented by the SQL-backed stores.
type migrator interface {
	Migrate(ctx context.Context) error
}

func (a *App) openStore(ctx context.Context) (storage.Repository, func(), error) {
	switch driver := a.Config.StoreDriver(); driver {
	case "postgres":
		pool, err := storage.NewPool(ctx, a.Config.Database)
		if err != nil {
			return nil, nil, err
		}
		store := storage.NewStore(pool)
		return store, store.Close, nil
	case "sqlite":
		store, err := storage.OpenSQLite(a.Config.Database.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
		return store, store.Close, nil
	case "memory":
		a.Logger.Warn().Msg("database not configured; using in-memory store, nothing will persist")
		store := storage.NewMemory()
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("database.driver %q is not supported", driver)
	}
}

func (a *App) newSymbols() *quotes.Symbols {
	return quotes.NewSymbols(a.Config.Quotes.Corrections, a.Config.Quotes.Suffixes)
}

func (a *App) newQuotes() quotes.Provider {
	cfg := a.Config.Quotes
	return quotes.NewYahoo(quotes.YahooOptions{
		BaseURL:       cfg.BaseURL,
		Timeout:       cfg.RequestTimeout,
		RatePerSecond: cfg.RatePerSecond,
		UserAgent:     version.UserAgent(),
	}, a.Logger)
}

func (a *App) newIngestor(ledger storage.ArticleStore) *news.Ingestor {
	cfg := a.Config.News
	provider := news.NewGoogleNews(news.GoogleNewsOptions{
		BaseURL:       cfg.BaseURL,
		Locale:        cfg.Locale,
		Region:        cfg.Region,
		Timeout:       cfg.RequestTimeout,
		RatePerMinute: cfg.RatePerMinute,
		UserAgent:     version.UserAgent(),
	}, a.Logger)

	var enricher news.TextEnricher
	if cfg.Enrich {
		enricher = news.NewEnricher(cfg.RequestTimeout, cfg.EnrichMaxBytes, version.UserAgent(), a.Logger)
	}
	return news.NewIngestor(provider, ledger, enricher, news.IngestorOptions{
		Lookback:       cfg.Lookback,
		BroadQueries:   cfg.BroadQueries,
		SourcePriority: cfg.SourcePriority,
	}, a.Logger)
}

func (a *App) newNotifier(hub *alerting.Hub) alerting.Notifier {
	var multi alerting.Multi
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		multi = append(multi, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger))
	}
	if hub != nil {
		multi = append(multi, hub)
	}
	if len(multi) == 0 {
		return nil
	}
	return multi
}

func (a *App) newCalibrationLog() *calibration.Log {
	return calibration.NewLog(a.Config.Dispatch.CalibrationLog)
}

func (a *App) newDispatcher(store storage.SignalStore, notifier alerting.Notifier, mode string) (*dispatch.Dispatcher, error) {
	var log *calibration.Log
	if mode == dispatch.ModePaper {
		log = a.newCalibrationLog()
	}
	return dispatch.New(store, log, notifier, dispatch.Options{
		Mode:      mode,
		SignalTTL: a.Config.Dispatch.SignalTTL,
	}, a.Logger)
}

func (a *App) newVerifier(clock *marketclock.Clock, provider quotes.Provider, symbols *quotes.Symbols) *verification.Verifier {
	cfg := a.Config.Verification
	return verification.New(a.newCalibrationLog(), provider, symbols, clock, verification.Options{
		NoiseBandPct:     decimal.NewFromFloat(cfg.NoiseBandPct),
		NextSessionDelay: cfg.NextSessionDelay,
		AbandonAfter:     cfg.AbandonAfter,
	}, a.Logger)
}

// pipeline is every stage of a cycle wired to one store.
type pipeline struct {
	store storage.Repository
	clock *marketclock.Clock
	hub   *alerting.Hub
	parts service.Parts
	close func()
}

type pipelineOptions struct {
	analysis bool
	verify   bool
	hub      bool
}

func (a *App) buildPipeline(ctx context.Context, opts pipelineOptions) (*pipeline, error) {
	clock, err := marketclock.FromConfig(a.Config.Market)
	if err != nil {
		return nil, err
	}

	// Missing analysis credentials abort before any store or network work.
	var analyzer analysis.Analyzer
	if opts.analysis {
		llm, err := analysis.NewFromConfig(ctx, a.Config.Analysis, a.Config.Discovery, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("analysis service: %w", err)
		}
		analyzer = llm
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	symbols := a.newSymbols()
	provider := a.newQuotes()
	p := &pipeline{store: store, clock: clock, close: closeStore}
	if opts.hub {
		p.hub = alerting.NewHub(a.Logger)
	}

	dispatcher, err := a.newDispatcher(store, a.newNotifier(p.hub), a.Config.Dispatch.Mode)
	if err != nil {
		closeStore()
		return nil, err
	}
	capturer := baseprice.NewCapturer(store, provider, symbols, clock, baseprice.Options{}, a.Logger)

	if analyzer != nil {
		p.parts.Collector = a.newIngestor(store)
		p.parts.Discoverer = discovery.NewEngine(store, analyzer, capturer, symbols, clock, discovery.Options{
			ContextWindow:     a.Config.Discovery.ContextWindow,
			MaxAge:            a.Config.Discovery.MaxAge,
			FallbackChunkSize: a.Config.Discovery.FallbackChunkSize,
		}, a.Logger)
	}
	p.parts.Tracker = tracker.New(store, provider, symbols, clock, capturer, dispatcher, tracker.Options{
		VolumeSpikeRatio: decimal.NewFromFloat(a.Config.Tracker.VolumeSpikeRatio),
	}, a.Logger)
	if opts.verify {
		p.parts.Verifier = a.newVerifier(clock, provider, symbols)
	}
	return p, nil
}

// Run executes the long-running pipeline daemon.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	p, err := a.buildPipeline(ctx, pipelineOptions{
		analysis: true,
		verify:   a.Config.Dispatch.Mode == dispatch.ModePaper,
		hub:      a.Config.API.Enabled,
	})
	if err != nil {
		return err
	}
	defer p.close()

	sched, err := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		Cron:         a.Config.Scheduler.Cron,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)
	if err != nil {
		return err
	}
	svc := service.New(sched, p.store, p.parts, a.Config.Scheduler.AdvisoryLockKey, a.Logger)

	group, ctx := errgroup.WithContext(ctx)
	if a.Config.API.Enabled {
		srv := api.New(p.store, p.hub, api.Options{Addr: a.Config.API.Addr}, a.Logger)
		group.Go(func() error { return srv.Run(ctx) })
	}
	group.Go(func() error {
		a.Logger.Info().Str("mode", a.Config.Dispatch.Mode).Msg("starting catalyst pipeline")
		return svc.Run(ctx)
	})

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("catalyst pipeline stopped")
	return nil
}

// RunSteps runs one pass of the named cycle steps and prints the report.
func (a *App) RunSteps(ctx context.Context, steps ...service.Step) (service.CycleReport, error) {
	opts := pipelineOptions{}
	for _, s := range steps {
		switch s {
		case service.StepScan:
			opts.analysis = true
		case service.StepVerify:
			opts.verify = true
		}
	}
	p, err := a.buildPipeline(ctx, opts)
	if err != nil {
		return service.CycleReport{}, err
	}
	defer p.close()

	svc := service.New(nil, p.store, p.parts, a.Config.Scheduler.AdvisoryLockKey, a.Logger)
	report, err := svc.RunCycle(ctx, steps...)
	if err != nil {
		return report, err
	}
	printCycleReport(report)
	return report, nil
}

// Serve runs only the downstream API.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	srv := api.New(store, alerting.NewHub(a.Logger), api.Options{Addr: a.Config.API.Addr}, a.Logger)
	return srv.Run(ctx)
}

// Migrate applies the schema of the configured SQL store.
func (a *App) Migrate(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	m, ok := store.(migrator)
	if !ok {
		return errors.New("configured store has no schema to migrate")
	}
	if err := m.Migrate(ctx); err != nil {
		return err
	}
	a.Logger.Info().Str("driver", a.Config.StoreDriver()).Msg("schema applied")
	return nil
}

// ExportOptions hold parameters for the export command.
type ExportOptions struct {
	CatalystID  string
	Calibration bool
	PNGPath     string
	CSVPath     string
	MaxPoints   int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Kind   string
	Status string
	Limit  int
}

// SimulateOptions describe a synthetic signal.
type SimulateOptions struct {
	Ticker    string
	Direction string
	Price     decimal.Decimal
	ChangePct decimal.Decimal
	Volume    decimal.Decimal
	Headline  string
	Mode      string
}
