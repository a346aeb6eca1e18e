package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vitos/options_signal_engine/internal/metrics"
	"go.uber.org/zap"
)

var (
	ErrJobNameEmpty       = errors.New("job name is empty")
	ErrJobIntervalInvalid = errors.New("job interval is invalid")
	ErrJobAlreadyExists   = errors.New("job already exists")
)

// Job is one iteration of a repeating task.
type Job func(ctx context.Context) error

type JobConfig struct {
	Name       string
	Interval   time.Duration
	Timeout    time.Duration
	RunOnStart bool
}

type jobRunner struct {
	cfg     JobConfig
	handler Job
	running int32
}

// Supervisor owns the engine's repeating tasks. A run still in progress when
// the next tick fires is not doubled up; the tick is skipped.
type Supervisor struct {
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	jobs    []*jobRunner
	stop    chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

func NewSupervisor(logger *zap.Logger, m *metrics.Metrics) *Supervisor {
	return &Supervisor{
		logger:  logger,
		metrics: m,
		stop:    make(chan struct{}),
	}
}

func (s *Supervisor) AddJob(cfg JobConfig, handler Job) error {
	if cfg.Name == "" {
		return ErrJobNameEmpty
	}
	if cfg.Interval <= 0 {
		return ErrJobIntervalInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.cfg.Name == cfg.Name {
			return ErrJobAlreadyExists
		}
	}
	s.jobs = append(s.jobs, &jobRunner{cfg: cfg, handler: handler})
	return nil
}

// Start launches every registered job. Job contexts derive from ctx.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, j)
		s.logger.Info("Job started", zap.String("job", j.cfg.Name), zap.Duration("interval", j.cfg.Interval))
	}
}

// Stop ends scheduling of new iterations and waits up to grace for runs in flight.
func (s *Supervisor) Stop(grace time.Duration) error {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.stop)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("All jobs stopped")
		return nil
	case <-time.After(grace):
		s.logger.Warn("Jobs still running after grace period", zap.Duration("grace", grace))
		return context.DeadlineExceeded
	}
}

func (s *Supervisor) loop(ctx context.Context, j *jobRunner) {
	defer s.wg.Done()

	if j.cfg.RunOnStart {
		s.execute(ctx, j)
	}

	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Stop may race with a tick; stop wins.
			select {
			case <-s.stop:
				return
			default:
			}
			s.execute(ctx, j)
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Supervisor) execute(ctx context.Context, j *jobRunner) {
	if !atomic.CompareAndSwapInt32(&j.running, 0, 1) {
		s.logger.Warn("Job skipped, previous run still active", zap.String("job", j.cfg.Name))
		s.metrics.ObserveJob(j.cfg.Name, "skipped", 0)
		return
	}
	defer atomic.StoreInt32(&j.running, 0)

	runCtx := ctx
	if j.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, j.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := s.safeRun(runCtx, j)
	elapsed := time.Since(start)
	if err != nil {
		s.metrics.ObserveJob(j.cfg.Name, "failed", elapsed)
		s.logger.Error("Job failed", zap.String("job", j.cfg.Name), zap.Duration("elapsed", elapsed), zap.Error(err))
		return
	}
	s.metrics.ObserveJob(j.cfg.Name, "success", elapsed)
	s.logger.Debug("Job finished", zap.String("job", j.cfg.Name), zap.Duration("elapsed", elapsed))
}

func (s *Supervisor) safeRun(ctx context.Context, j *jobRunner) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Job panicked", zap.String("job", j.cfg.Name), zap.Any("panic", r))
			err = errors.New("job panicked")
		}
	}()
	return j.handler(ctx)
}
