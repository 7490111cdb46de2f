// Package sweep runs the periodic maintenance tasks owned by the engine:
// token expiry sweeps, session expiry sweeps, and cache eviction.
//
// Components register a callback once at build time; the scheduler owns the
// tickers and the shutdown sequence so no component spawns its own loop. A
// failing task is logged and retried on the next tick; one bad record or one
// bad task never halts the others.
package sweep

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is one registered maintenance callback. Run returns the number of
// entries it removed or relabeled.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) (int, error)
}

// Scheduler drives registered tasks on their own tickers until stopped.
type Scheduler struct {
	logger *zap.Logger

	mu      sync.Mutex
	tasks   []Task
	cancel  context.CancelFunc
	started bool
	wg      sync.WaitGroup
}

// NewScheduler creates an idle scheduler. logger may be nil.
func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{logger: logger}
}

// Register adds a task. Tasks registered after Start are ignored until the
// next Start. Tasks with a non-positive interval are dropped.
func (s *Scheduler) Register(task Task) {
	if task.Run == nil || task.Interval <= 0 {
		return
	}

	s.mu.Lock()
	s.tasks = append(s.tasks, task)
	s.mu.Unlock()
}

// Start launches one goroutine per registered task. Calling Start twice
// without Stop is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, task := range s.tasks {
		s.wg.Add(1)
		go s.loop(runCtx, task)
	}
}

// Stop cancels all task loops and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	s.started = false
	s.cancel = nil
	s.mu.Unlock()

	if !started {
		return
	}
	cancel()
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, task Task) {
	defer s.wg.Done()

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := task.Run(ctx)
			if err != nil {
				s.logger.Warn("maintenance task failed",
					zap.String("task", task.Name),
					zap.Error(err),
				)
				continue
			}
			if removed > 0 {
				s.logger.Debug("maintenance task completed",
					zap.String("task", task.Name),
					zap.Int("removed", removed),
				)
			}
		}
	}
}
