// services/scheduler.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"league-registration-system/metrics"
	"league-registration-system/models"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// SweepReport summarises one reconciliation pass.
type SweepReport struct {
	Checked   int   `json:"checked"`
	Confirmed int   `json:"confirmed"`
	Failed    int   `json:"failed"`
	Errors    int   `json:"errors"`
	Expired   int64 `json:"expired"`
}

// SweeperConfig controls the reconciliation loop.
type SweeperConfig struct {
	Interval    time.Duration
	Window      time.Duration
	Concurrency int
	// RecordTimeout bounds the gateway query and writes for one registration.
	RecordTimeout time.Duration
	// StoreTimeout bounds the select and the bulk expiry.
	StoreTimeout time.Duration
}

func (c SweeperConfig) withDefaults() SweeperConfig {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.Window <= 0 {
		c.Window = 3 * time.Minute
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.RecordTimeout <= 0 {
		c.RecordTimeout = 30 * time.Second
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 15 * time.Second
	}
	return c
}

// Sweeper re-queries fresh pending gateway payments and expires stale ones.
type Sweeper struct {
	svc     *RegistrationService
	cfg     SweeperConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
	clock   clockwork.Clock

	mu     sync.Mutex
	sched  gocron.Scheduler
	cancel context.CancelFunc
}

type SweeperOption func(*Sweeper)

func WithSweeperLogger(logger *slog.Logger) SweeperOption {
	return func(s *Sweeper) { s.logger = logger }
}

func WithSweeperMetrics(m *metrics.Metrics) SweeperOption {
	return func(s *Sweeper) { s.metrics = m }
}

func WithSweeperClock(c clockwork.Clock) SweeperOption {
	return func(s *Sweeper) { s.clock = c }
}

func NewSweeper(svc *RegistrationService, cfg SweeperConfig, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		svc:    svc,
		cfg:    cfg.withDefaults(),
		logger: slog.Default(),
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start schedules RunOnce every interval. A run that overlaps the next tick
// delays it instead of running twice.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sched != nil {
		return errors.New("sweeper already started")
	}

	sched, err := gocron.NewScheduler(gocron.WithClock(s.clock))
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	_, err = sched.NewJob(
		gocron.DurationJob(s.cfg.Interval),
		gocron.NewTask(func() {
			if _, err := s.RunOnce(runCtx); err != nil {
				s.logger.Error("reconciliation sweep failed", "err", err)
			}
		}),
		gocron.WithName("payment-reconciliation"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		cancel()
		_ = sched.Shutdown()
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	sched.Start()
	s.sched = sched
	s.cancel = cancel
	s.logger.Info("reconciliation sweeper started", "interval", s.cfg.Interval, "window", s.cfg.Window)
	return nil
}

// Stop cancels a running sweep and waits for the scheduler to exit.
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sched == nil {
		return nil
	}
	s.cancel()
	err := s.sched.Shutdown()
	s.sched = nil
	s.logger.Info("reconciliation sweeper stopped")
	return err
}

// RunOnce performs a single pass. Registrations created at or after
// now-window are re-queried; older pending ones are expired whether or not
// they were re-queried. Per-registration failures are counted, not returned.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	cutoff := s.clock.Now().Add(-s.cfg.Window)

	var setupErr error
	listCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	regs, err := s.svc.store.ListPendingGateway(listCtx, cutoff)
	cancel()
	if err != nil {
		setupErr = fmt.Errorf("failed to list pending registrations: %w", err)
		s.logger.Error("sweep could not load pending registrations", "err", err)
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for _, reg := range regs {
		reg := reg
		g.Go(func() error {
			rctx, cancel := context.WithTimeout(ctx, s.cfg.RecordTimeout)
			defer cancel()
			next, changed, err := s.svc.reconcile(rctx, reg, "sweeper")

			mu.Lock()
			defer mu.Unlock()
			report.Checked++
			if err != nil {
				report.Errors++
				s.logger.Warn("sweep check failed", "registration_id", reg.ID, "err", err)
				return nil
			}
			if changed {
				switch next.Payment.Status {
				case models.PaymentCompleted:
					report.Confirmed++
				case models.PaymentFailed:
					report.Failed++
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	var expireErr error
	expireCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	expired, err := s.svc.store.ExpirePendingGateway(expireCtx, cutoff)
	cancel()
	if err != nil {
		expireErr = fmt.Errorf("failed to expire stale registrations: %w", err)
		s.logger.Error("sweep could not expire stale registrations", "err", err)
	}
	report.Expired = expired

	outcome := "ok"
	if setupErr != nil || expireErr != nil {
		outcome = "error"
	}
	s.metrics.ObserveSweep(outcome, expired)
	if report.Checked > 0 || report.Expired > 0 {
		s.logger.Info("reconciliation sweep finished",
			"checked", report.Checked, "confirmed", report.Confirmed, "failed", report.Failed,
			"errors", report.Errors, "expired", report.Expired)
	}
	return report, errors.Join(setupErr, expireErr)
}
