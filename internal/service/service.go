package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"catalyst-catcher/internal/discovery"
	"catalyst-catcher/internal/news"
	"catalyst-catcher/internal/scheduler"
	"catalyst-catcher/internal/storage"
	"catalyst-catcher/internal/tracker"
	"catalyst-catcher/internal/verification"
)

// Step names one stage of a scan cycle.
type Step string

const (
	StepScan   Step = "scan"
	StepTrack  Step = "track"
	StepVerify Step = "verify"
)

// AllSteps is the order a full cycle runs in.
var AllSteps = []Step{StepScan, StepTrack, StepVerify}

// Collector gathers unseen articles for the watchlist keywords.
type Collector interface {
	Collect(ctx context.Context, keywords []string) (news.Batch, error)
}

// Discoverer turns a batch of articles into hypotheses.
type Discoverer interface {
	Run(ctx context.Context, articles []news.Article) (discovery.Report, error)
}

// Tracker checks open hypotheses against the market.
type Tracker interface {
	Run(ctx context.Context) (tracker.Report, error)
}

// Verifier grades paper-mode entries whose checkpoints are due.
type Verifier interface {
	RunDue(ctx context.Context) (verification.Report, error)
}

// Parts are the pipeline stages. Any of them may be nil.
type Parts struct {
	Collector  Collector
	Discoverer Discoverer
	Tracker    Tracker
	Verifier   Verifier
}

// CycleReport summarises one cycle for the operator.
type CycleReport struct {
	StartedAt         time.Time
	Duration          time.Duration
	Skipped           bool
	ArticlesFetched   int
	ArticlesProcessed int
	HypothesesCreated int
	HypothesesUpdated int
	Consolidated      int
	Expired           int
	Checked           int
	Confirmed         int
	Signals           []string
	Graded            int
	Errors            []string
}

// Service orchestrates ingestion, discovery, tracking and verification.
type Service struct {
	scheduler *scheduler.Scheduler
	assets    storage.WatchlistStore
	parts     Parts
	locker    storage.AdvisoryLocker
	lockKey   int64
	now       func() time.Time
	logger    zerolog.Logger
}

// New constructs the pipeline service. sched may be nil for one-shot commands.
func New(sched *scheduler.Scheduler, assets storage.WatchlistStore, parts Parts, lockKey int64, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := assets.(storage.AdvisoryLocker); ok {
		locker = l
	}
	return &Service{
		scheduler: sched,
		assets:    assets,
		parts:     parts,
		locker:    locker,
		lockKey:   lockKey,
		now:       time.Now,
		logger:    logger.With().Str("component", "service").Logger(),
	}
}

// Run begins the scheduled cycle loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessTick)
}

// ProcessTick runs one full cycle for a scheduler tick.
func (s *Service) ProcessTick(ctx context.Context, tick time.Time) error {
	report, err := s.RunCycle(ctx)
	if err != nil {
		return err
	}
	if len(report.Errors) > 0 {
		s.logger.Warn().Time("tick", tick).Int("errors", len(report.Errors)).Msg("cycle finished with errors")
	}
	return nil
}

// RunCycle executes the given steps, or all of them when none are named. Per-step
// failures are collected in the report; only failures before any work begins are returned.
func (s *Service) RunCycle(ctx context.Context, steps ...Step) (CycleReport, error) {
	if len(steps) == 0 {
		steps = AllSteps
	}
	report := CycleReport{StartedAt: s.now().UTC()}

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return report, err
	}
	if !proceed {
		s.logger.Info().Msg("skip cycle because advisory lock held elsewhere")
		report.Skipped = true
		return report, nil
	}
	if unlock != nil {
		defer unlock()
	}

	for _, step := range steps {
		if ctx.Err() != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("cycle: %v", ctx.Err()))
			break
		}
		var err error
		switch step {
		case StepScan:
			err = s.scan(ctx, &report)
		case StepTrack:
			s.track(ctx, &report)
		case StepVerify:
			s.verify(ctx, &report)
		default:
			err = fmt.Errorf("unknown step %q", step)
		}
		if err != nil {
			return report, err
		}
	}

	report.Duration = s.now().UTC().Sub(report.StartedAt)
	s.logger.Info().
		Int("articles_processed", report.ArticlesProcessed).
		Int("hypotheses_created", report.HypothesesCreated).
		Int("hypotheses_updated", report.HypothesesUpdated).
		Int("confirmed", report.Confirmed).
		Int("signals", len(report.Signals)).
		Int("graded", report.Graded).
		Int("errors", len(report.Errors)).
		Dur("duration", report.Duration).
		Msg("cycle complete")
	return report, nil
}

func (s *Service) scan(ctx context.Context, report *CycleReport) error {
	if s.parts.Collector == nil || s.parts.Discoverer == nil {
		return nil
	}
	assets, err := s.assets.ListAssets(ctx, true)
	if err != nil {
		return fmt.Errorf("load watchlist: %w", err)
	}
	keywords := make([]string, 0, len(assets))
	for _, a := range assets {
		keywords = append(keywords, a.Keyword)
	}

	batch, err := s.parts.Collector.Collect(ctx, keywords)
	report.ArticlesFetched = batch.Fetched
	report.Errors = append(report.Errors, batch.Errors...)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("ingest: %v", err))
		return nil
	}

	res, err := s.parts.Discoverer.Run(ctx, batch.Articles)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("discovery: %v", err))
		return nil
	}
	report.ArticlesProcessed = res.ArticlesProcessed
	report.HypothesesCreated = res.Created
	report.HypothesesUpdated = res.Updated
	report.Consolidated = res.Deleted
	report.Expired += int(res.Expired)
	report.Errors = append(report.Errors, res.Errors...)
	return nil
}

func (s *Service) track(ctx context.Context, report *CycleReport) {
	if s.parts.Tracker == nil {
		return
	}
	res, err := s.parts.Tracker.Run(ctx)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("tracker: %v", err))
		return
	}
	report.Checked = res.Checked
	report.Confirmed = res.Confirmed
	report.Expired += res.Expired
	report.Signals = append(report.Signals, res.Signals...)
	report.Errors = append(report.Errors, res.Errors...)
}

func (s *Service) verify(ctx context.Context, report *CycleReport) {
	if s.parts.Verifier == nil {
		return
	}
	res, err := s.parts.Verifier.RunDue(ctx)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("verification: %v", err))
		return
	}
	report.Graded = res.Graded
	report.Errors = append(report.Errors, res.Errors...)
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
