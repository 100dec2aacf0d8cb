package background

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/estateguard/internal/clock"
)

// Task is one periodic sweep. Run returns how many records it removed.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) (int64, error)
}

// SweepTask adapts a volatile store Sweep
func SweepTask(name string, interval time.Duration, sweep func(ctx context.Context) (int, error)) Task {
	return Task{
		Name:     name,
		Interval: interval,
		Run: func(ctx context.Context) (int64, error) {
			n, err := sweep(ctx)
			return int64(n), err
		},
	}
}

// ExpiryTask adapts a repository DeleteExpired(now)
func ExpiryTask(name string, interval time.Duration, c clock.Clock, deleteExpired func(ctx context.Context, now time.Time) (int64, error)) Task {
	return Task{
		Name:     name,
		Interval: interval,
		Run: func(ctx context.Context) (int64, error) {
			return deleteExpired(ctx, c.Now())
		},
	}
}

// RetentionTask deletes records older than retention
func RetentionTask(name string, interval, retention time.Duration, c clock.Clock, cleanup func(ctx context.Context, cutoff time.Time) (int64, error)) Task {
	return Task{
		Name:     name,
		Interval: interval,
		Run: func(ctx context.Context) (int64, error) {
			return cleanup(ctx, c.Now().Add(-retention))
		},
	}
}

// CleanupManager runs each task on its own ticker until stopped
type CleanupManager struct {
	tasks    map[string]Task
	order    []string
	logger   *slog.Logger
	timeout  time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewCleanupManager(logger *slog.Logger, timeout time.Duration, tasks ...Task) *CleanupManager {
	cm := &CleanupManager{
		tasks:   make(map[string]Task, len(tasks)),
		logger:  logger,
		timeout: timeout,
		stopCh:  make(chan struct{}),
	}
	for _, t := range tasks {
		if _, dup := cm.tasks[t.Name]; dup {
			panic(fmt.Sprintf("duplicate cleanup task %q", t.Name))
		}
		cm.tasks[t.Name] = t
		cm.order = append(cm.order, t.Name)
	}
	return cm
}

// Start launches every task and returns immediately
func (cm *CleanupManager) Start(ctx context.Context) {
	for _, name := range cm.order {
		task := cm.tasks[name]
		if task.Interval <= 0 {
			cm.logger.Warn("cleanup task disabled", slog.String("task", name))
			continue
		}
		cm.wg.Add(1)
		go cm.loop(ctx, task)
	}
}

func (cm *CleanupManager) loop(ctx context.Context, task Task) {
	defer cm.wg.Done()

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = cm.run(ctx, task)
		case <-cm.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunTask runs one task now, outside its schedule
func (cm *CleanupManager) RunTask(ctx context.Context, name string) error {
	task, ok := cm.tasks[name]
	if !ok {
		return fmt.Errorf("unknown cleanup task %q", name)
	}
	return cm.run(ctx, task)
}

func (cm *CleanupManager) run(ctx context.Context, task Task) error {
	runCtx, cancel := context.WithTimeout(ctx, cm.timeout)
	defer cancel()

	removed, err := task.Run(runCtx)
	if err != nil {
		cm.logger.Error("cleanup task failed", slog.String("task", task.Name), slog.Any("error", err))
		return err
	}
	if removed > 0 {
		cm.logger.Info("cleanup task completed", slog.String("task", task.Name), slog.Int64("rows_deleted", removed))
	}
	return nil
}

// Stop signals every task loop and waits for them to exit
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
	cm.wg.Wait()
	cm.logger.Info("cleanup manager stopped")
}
