package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"jobsite-crawler/internal/config"
	"jobsite-crawler/internal/observability"
)

// Runner: то, что планировщик запускает по расписанию.
type Runner interface {
	ScrapeAllSites(ctx context.Context) *ScrapeRun
}

// Scheduler запускает ScrapeAllSites: один раз, с интервалом или по cron.
type Scheduler struct {
	mode     string
	interval time.Duration
	cronExpr string
	runner   Runner
	logger   *observability.Logger
	report   func(*ScrapeRun)
}

func NewScheduler(cfg *config.Config, runner Runner, logger *observability.Logger, report func(*ScrapeRun)) *Scheduler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if report == nil {
		report = func(*ScrapeRun) {}
	}
	return &Scheduler{
		mode:     cfg.Scheduler.Mode,
		interval: cfg.GetSchedulerInterval(),
		cronExpr: cfg.Scheduler.CronExpr,
		runner:   runner,
		logger:   logger,
		report:   report,
	}
}

// Run блокирует до отмены ctx (для oneshot до конца первого прогона).
func (s *Scheduler) Run(ctx context.Context) error {
	switch s.mode {
	case "oneshot", "":
		s.runOnce(ctx)
		return nil
	case "interval":
		return s.runInterval(ctx)
	case "cron":
		return s.runCron(ctx)
	default:
		return fmt.Errorf("unknown scheduler mode %q", s.mode)
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	s.report(s.runner.ScrapeAllSites(ctx))
}

func (s *Scheduler) runInterval(ctx context.Context) error {
	s.logger.Info("Scheduler started", "mode", "interval", "interval", s.interval.String())

	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return nil
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runCron(ctx context.Context) error {
	logger := cronLogger{s.logger}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.SkipIfStillRunning(logger)))

	if _, err := c.AddFunc(s.cronExpr, func() { s.runOnce(ctx) }); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", s.cronExpr, err)
	}

	s.logger.Info("Scheduler started", "mode", "cron", "cron_expr", s.cronExpr)
	c.Start()

	<-ctx.Done()

	// ждём текущий прогон
	<-c.Stop().Done()
	s.logger.Info("Scheduler stopped")
	return nil
}

// cronLogger адаптирует наш логгер к cron.Logger.
type cronLogger struct {
	*observability.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.Logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.Logger.Error(msg, append(keysAndValues, "error", err.Error())...)
}
