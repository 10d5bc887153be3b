// Package daemon hosts the periodic loops: the auto-hedge scanner, the
// partial-hedge rebalancer, the risk-guard cadence, and the alert pump,
// all run as supervised tasks.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// RunFunc is one supervised task body. It must return promptly once ctx is
// cancelled; a nil return stops the task for good.
type RunFunc func(ctx context.Context) error

// task is a registered loop plus its live handle.
type task struct {
	name string
	run  RunFunc

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	restarts int
}

// running reports whether the task has a live handle.
func (t *task) running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done == nil {
		return false
	}
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// Supervisor owns the daemon tasks: explicit start/stop with cancellation,
// and restart with backoff when a task exits with an error. Starting an
// already-running task is a no-op.
type Supervisor struct {
	backoff     time.Duration
	maxRestarts int
	logger      *slog.Logger

	mu    sync.Mutex
	tasks map[string]*task
	wg    sync.WaitGroup
}

// NewSupervisor creates a Supervisor. backoff is the base restart delay,
// doubled per consecutive restart; maxRestarts caps restarts before the
// task is abandoned (zero means never restart).
func NewSupervisor(backoff time.Duration, maxRestarts int, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		backoff:     backoff,
		maxRestarts: maxRestarts,
		logger:      logger.With(slog.String("component", "supervisor")),
		tasks:       make(map[string]*task),
	}
}

// Register adds a task under name. Registering an existing name replaces
// the body only if the task is not running.
func (s *Supervisor) Register(name string, run RunFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.tasks[name]; ok && existing.running() {
		return fmt.Errorf("supervisor: task %q is running", name)
	}
	s.tasks[name] = &task{name: name, run: run}
	return nil
}

// Start launches the named task. A live task is left alone.
func (s *Supervisor) Start(ctx context.Context, name string) error {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("supervisor: unknown task %q", name)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done != nil {
		select {
		case <-t.done:
		default:
			s.logger.Debug("task already running", slog.String("task", name))
			return nil
		}
	}

	taskCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done
	t.restarts = 0

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(done)
		s.supervise(taskCtx, t)
	}()
	s.logger.Info("task started", slog.String("task", name))
	return nil
}

// supervise runs the task body, restarting on error with doubling backoff
// until the restart budget runs out or ctx ends.
func (s *Supervisor) supervise(ctx context.Context, t *task) {
	delay := s.backoff
	for {
		err := t.run(ctx)
		if ctx.Err() != nil {
			s.logger.Info("task stopped", slog.String("task", t.name))
			return
		}
		if err == nil {
			s.logger.Info("task finished", slog.String("task", t.name))
			return
		}

		t.mu.Lock()
		t.restarts++
		restarts := t.restarts
		t.mu.Unlock()

		if s.maxRestarts > 0 && restarts > s.maxRestarts {
			s.logger.Error("task abandoned after restart budget",
				slog.String("task", t.name),
				slog.Int("restarts", restarts-1),
				slog.String("error", err.Error()),
			)
			return
		}
		s.logger.Warn("task exited, restarting",
			slog.String("task", t.name),
			slog.Int("restart", restarts),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// Stop cancels the named task and awaits its exit.
func (s *Supervisor) Stop(name string) {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return
	}
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the named task is live.
func (s *Supervisor) Running(name string) bool {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	return ok && t.running()
}

// StartAll starts every registered task.
func (s *Supervisor) StartAll(ctx context.Context) error {
	s.mu.Lock()
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	s.mu.Unlock()
	for _, name := range names {
		if err := s.Start(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// Wait blocks until every started task has exited.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}
