// Package scheduler runs the periodic maintenance passes: recommendation
// regeneration and expiry.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Job is one periodic pass. A failing run is logged and retried on the next
// tick.
type Job struct {
	Name     string
	Interval time.Duration
	// RunAtStart fires the job once before the first tick.
	RunAtStart bool
	Run        func(ctx context.Context) error
}

type Scheduler struct {
	jobs   []Job
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

func New(logger *slog.Logger, jobs ...Job) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{jobs: jobs, logger: logger.With("component", "scheduler")}
}

// Start launches one loop per job. Jobs with a non-positive interval are
// disabled. The loops stop when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("scheduler already started")
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	for _, job := range s.jobs {
		if job.Interval <= 0 || job.Run == nil {
			s.logger.Info("job disabled", "job", job.Name)
			continue
		}
		s.wg.Add(1)
		go s.loop(ctx, job)
		s.logger.Info("job scheduled", "job", job.Name, "interval", job.Interval.String())
	}
	return nil
}

// Stop cancels every loop and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()

	if job.RunAtStart {
		s.runOnce(ctx, job)
	}

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, job)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, job Job) {
	start := time.Now()
	err := job.Run(ctx)
	switch {
	case err == nil:
		s.logger.Debug("job finished", "job", job.Name, "duration", time.Since(start).String())
	case ctx.Err() != nil:
		// Shutting down.
	default:
		s.logger.Warn("job failed", "job", job.Name, "error", err)
	}
}
