package jobqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const defaultJobTimeout = 5 * time.Minute

type ScheduledJob struct {
	Name     string
	Schedule string // cron spec with a seconds field
	Timeout  time.Duration
	Handler  func(ctx context.Context) error
}

// JobScheduler runs named jobs on cron schedules. A job that is still
// running when its next tick fires is skipped for that tick.
type JobScheduler struct {
	cron   *cron.Cron
	logger *zap.Logger

	mu   sync.Mutex
	jobs map[string]cron.EntryID

	ctx    context.Context
	cancel context.CancelFunc
}

func NewJobScheduler(logger *zap.Logger) *JobScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &JobScheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
		),
		logger: logger,
		jobs:   make(map[string]cron.EntryID),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (js *JobScheduler) AddJob(job ScheduledJob) error {
	if job.Handler == nil {
		return fmt.Errorf("job %s has no handler", job.Name)
	}
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}

	js.mu.Lock()
	defer js.mu.Unlock()
	if _, exists := js.jobs[job.Name]; exists {
		return fmt.Errorf("job %s already registered", job.Name)
	}

	entryID, err := js.cron.AddFunc(job.Schedule, func() {
		ctx, cancel := context.WithTimeout(js.ctx, timeout)
		defer cancel()

		start := time.Now()
		js.logger.Debug("Executing scheduled job", zap.String("job", job.Name))
		if err := job.Handler(ctx); err != nil {
			js.logger.Error("Scheduled job failed",
				zap.String("job", job.Name),
				zap.Duration("duration", time.Since(start)),
				zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule for job %s: %w", job.Name, err)
	}

	js.jobs[job.Name] = entryID
	return nil
}

func (js *JobScheduler) RemoveJob(name string) {
	js.mu.Lock()
	defer js.mu.Unlock()
	if entryID, exists := js.jobs[name]; exists {
		js.cron.Remove(entryID)
		delete(js.jobs, name)
	}
}

func (js *JobScheduler) Start() {
	js.cron.Start()
	js.logger.Info("Job scheduler started", zap.Strings("jobs", js.GetJobs()))
}

// Stop cancels running handlers and waits for them to return.
func (js *JobScheduler) Stop() {
	js.cancel()
	<-js.cron.Stop().Done()
	js.logger.Info("Job scheduler stopped")
}

func (js *JobScheduler) GetJobs() []string {
	js.mu.Lock()
	defer js.mu.Unlock()
	names := make([]string, 0, len(js.jobs))
	for name := range js.jobs {
		names = append(names, name)
	}
	return names
}
