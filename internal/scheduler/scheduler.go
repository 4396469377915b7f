// Package scheduler runs one periodic refresh task per dataset on a bounded
// pool of workers.
//
// Each task asks its dataset to refresh, then sleeps for Config.Delay before
// asking again. The dataset itself decides whether a refresh is due, so a
// tick for an up-to-date dataset is cheap. Ticks of one task never overlap.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/soltixdb/gridcat/internal/dataset"
	"github.com/soltixdb/gridcat/internal/logging"
)

var (
	// ErrAlreadyScheduled is returned when a task id is taken
	ErrAlreadyScheduled = errors.New("task already scheduled")
	// ErrNotScheduled is returned for unknown task ids
	ErrNotScheduled = errors.New("task not scheduled")
	// ErrStopped is returned after Stop
	ErrStopped = errors.New("scheduler stopped")
)

// Refresher is the unit of work run on every tick
type Refresher interface {
	Refresh(ctx context.Context) dataset.Outcome
}

// RefresherFunc adapts a function to Refresher
type RefresherFunc func(ctx context.Context) dataset.Outcome

// Refresh calls f(ctx)
func (f RefresherFunc) Refresh(ctx context.Context) dataset.Outcome {
	return f(ctx)
}

// Config contains scheduler settings
type Config struct {
	// Workers bounds the number of refreshes running at once
	Workers int
	// Delay between the end of one tick and the start of the next
	Delay time.Duration
}

// DefaultConfig returns the default scheduler settings
func DefaultConfig() Config {
	return Config{
		Workers: 4,
		Delay:   time.Second,
	}
}

// RunEvent is emitted after every tick
type RunEvent struct {
	TaskID   string
	Outcome  dataset.Outcome
	Panicked bool
	Duration time.Duration
}

// RunEventHandler receives run events. Handlers run on the task goroutine and
// must not call back into the scheduler.
type RunEventHandler func(RunEvent)

type task struct {
	id        string
	refresher Refresher
	cancel    context.CancelFunc
	done      chan struct{}
}

// Scheduler owns the periodic tasks
type Scheduler struct {
	config Config
	logger *logging.Logger

	mu       sync.Mutex
	tasks    map[string]*task
	handlers []RunEventHandler
	stopped  bool

	semaphore chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a scheduler
func New(config Config, logger *logging.Logger) *Scheduler {
	if config.Workers <= 0 {
		config.Workers = DefaultConfig().Workers
	}
	if config.Delay <= 0 {
		config.Delay = DefaultConfig().Delay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		config:    config,
		logger:    logging.OrGlobal(logger),
		tasks:     make(map[string]*task),
		semaphore: make(chan struct{}, config.Workers),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// OnRun registers a handler for run events
func (s *Scheduler) OnRun(handler RunEventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, handler)
}

func (s *Scheduler) emit(event RunEvent) {
	s.mu.Lock()
	handlers := make([]RunEventHandler, len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.Unlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// Schedule starts a task. The first tick runs immediately.
func (s *Scheduler) Schedule(id string, r Refresher) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if _, ok := s.tasks[id]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyScheduled, id)
	}

	ctx, cancel := context.WithCancel(s.ctx)
	t := &task{id: id, refresher: r, cancel: cancel, done: make(chan struct{})}
	s.tasks[id] = t

	s.wg.Add(1)
	go s.run(ctx, t)
	return nil
}

// Cancel stops a task. The context of a tick in progress is cancelled and
// no further tick starts. Returns false for unknown ids.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if ok {
		delete(s.tasks, id)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	t.cancel()
	return true
}

// CancelAndWait is Cancel followed by waiting for the task goroutine to exit
func (s *Scheduler) CancelAndWait(ctx context.Context, id string) bool {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if ok {
		delete(s.tasks, id)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	t.cancel()
	select {
	case <-t.done:
	case <-ctx.Done():
	}
	return true
}

// Rename moves a task to a new id. Later run events carry the new id.
func (s *Scheduler) Rename(oldID, newID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[oldID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotScheduled, oldID)
	}
	if oldID == newID {
		return nil
	}
	if _, taken := s.tasks[newID]; taken {
		return fmt.Errorf("%w: %s", ErrAlreadyScheduled, newID)
	}
	delete(s.tasks, oldID)
	t.id = newID
	s.tasks[newID] = t
	return nil
}

// Scheduled reports whether a task exists for id
func (s *Scheduler) Scheduled(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[id]
	return ok
}

// Len returns the number of scheduled tasks
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Stop cancels every task, including the context of in-progress ticks, and
// waits for them to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.tasks = make(map[string]*task)
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) taskID(t *task) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return t.id
}

func (s *Scheduler) run(ctx context.Context, t *task) {
	defer s.wg.Done()
	defer close(t.done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		select {
		case s.semaphore <- struct{}{}:
		case <-ctx.Done():
			return
		}
		event := s.tick(ctx, t)
		<-s.semaphore

		event.TaskID = s.taskID(t)
		s.emit(event)

		timer.Reset(s.config.Delay)
	}
}

func (s *Scheduler) tick(ctx context.Context, t *task) (event RunEvent) {
	start := time.Now()
	defer func() {
		event.Duration = time.Since(start)
		if r := recover(); r != nil {
			s.logger.Error("Panic in scheduled task",
				"task_id", s.taskID(t), "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			event.Panicked = true
		}
	}()
	event.Outcome = t.refresher.Refresh(ctx)
	return event
}
