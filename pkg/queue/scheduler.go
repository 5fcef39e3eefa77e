package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/sagakit/pkg/logger"
)

// SchedulerRepository defines the interface for periodic scheduler operations
type SchedulerRepository interface {
	CreateTask(ctx context.Context, task *Task) error

	// GetPendingTaskByName returns a pending task with the given name, or nil if none exists
	GetPendingTaskByName(ctx context.Context, taskName string) (*Task, error)
}

// Scheduler creates periodic tasks (maintenance sweeps such as saga reconciliation)
// at fixed intervals. It never creates a second pending task for a name, so several
// scheduler replicas can share one repository.
type Scheduler struct {
	repo     SchedulerRepository
	tasks    map[string]*periodicTask
	mu       sync.RWMutex
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

type periodicTask struct {
	name            string
	every           time.Duration
	queue           string
	maxRetries      int8
	lastScheduledAt *time.Time
}

// NewScheduler creates a new periodic task scheduler
func NewScheduler(repo SchedulerRepository, opts ...SchedulerOption) (*Scheduler, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	options := &schedulerOptions{
		checkInterval: 30 * time.Second,
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Scheduler{
		repo:     repo,
		tasks:    make(map[string]*periodicTask),
		interval: options.checkInterval,
		logger:   options.logger,
		now:      options.now,
	}, nil
}

// AddTask registers a task that runs every interval
func (s *Scheduler) AddTask(name string, every time.Duration, opts ...SchedulerTaskOption) error {
	if every <= 0 {
		return ErrInvalidInterval
	}

	taskOpts := &schedulerTaskOptions{
		queue:      DefaultQueueName,
		maxRetries: 0,
	}
	for _, opt := range opts {
		opt(taskOpts)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[name]; exists {
		return ErrTaskAlreadyRegistered
	}

	s.tasks[name] = &periodicTask{
		name:       name,
		every:      every,
		queue:      taskOpts.queue,
		maxRetries: taskOpts.maxRetries,
	}

	s.logger.Info("registered periodic task",
		logger.TaskName(name),
		slog.Duration("every", every))

	return nil
}

// Start checks registered tasks until ctx is cancelled
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.RLock()
	taskCount := len(s.tasks)
	s.mu.RUnlock()

	if taskCount == 0 {
		return ErrSchedulerNotConfigured
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.checkTasks(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("periodic scheduler shutting down")
			return ctx.Err()
		case <-ticker.C:
			s.checkTasks(ctx)
		}
	}
}

// Run returns a function suitable for errgroup
func (s *Scheduler) Run(ctx context.Context) func() error {
	return func() error {
		if err := s.Start(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	}
}

func (s *Scheduler) checkTasks(ctx context.Context) {
	s.mu.RLock()
	tasks := make([]*periodicTask, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, task)
	}
	s.mu.RUnlock()

	now := s.now()
	for _, task := range tasks {
		if err := s.scheduleTaskIfNeeded(ctx, task, now); err != nil {
			s.logger.Error("failed to schedule periodic task",
				logger.TaskName(task.name),
				logger.Error(err))
		}
	}
}

func (s *Scheduler) scheduleTaskIfNeeded(ctx context.Context, task *periodicTask, now time.Time) error {
	s.mu.RLock()
	last := task.lastScheduledAt
	s.mu.RUnlock()

	nextRun := now.Add(task.every)
	if last != nil {
		nextRun = last.Add(task.every)
		if nextRun.After(now) {
			return nil
		}
	}

	existing, err := s.repo.GetPendingTaskByName(ctx, task.name)
	if err != nil {
		return fmt.Errorf("failed to look up pending task: %w", err)
	}
	if existing != nil {
		s.setLastScheduled(task, existing.ScheduledAt)
		return nil
	}

	newTask := &Task{
		ID:          uuid.New(),
		Queue:       task.queue,
		TaskType:    TaskTypePeriodic,
		TaskName:    task.name,
		Status:      TaskStatusPending,
		MaxRetries:  task.maxRetries,
		ScheduledAt: nextRun,
		CreatedAt:   now,
	}
	if err := s.repo.CreateTask(ctx, newTask); err != nil {
		return fmt.Errorf("failed to create periodic task: %w", err)
	}
	s.setLastScheduled(task, nextRun)

	s.logger.Debug("created periodic task",
		logger.TaskName(task.name),
		slog.Time("scheduled_for", nextRun))

	return nil
}

func (s *Scheduler) setLastScheduled(task *periodicTask, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task.lastScheduledAt = &at
}

// ListTasks returns all registered periodic task names
func (s *Scheduler) ListTasks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	return names
}
