package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/deltakit/deltakit/internal/logging"
)

// Job is one scheduled maintenance action bound to a table location.
type Job struct {
	Name     string
	CronExpr string // standard 5-field cron, seconds not included
	Run      func(ctx context.Context) error
}

// jobExecution tracks a running job instance so Stop can cancel it.
type jobExecution struct {
	startTime time.Time
	cancelFn  context.CancelFunc
}

// Scheduler runs a set of maintenance Jobs (compact, vacuum, Z-order,
// dedup) on their own cron schedules, independent of any query path.
type Scheduler struct {
	cron *cron.Cron

	mu      sync.Mutex
	running map[string]*jobExecution
}

// NewScheduler builds an idle scheduler in UTC. Call Schedule for each
// job, then Start.
func NewScheduler() *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		running: make(map[string]*jobExecution),
	}
}

// Schedule registers job to run on its cron expression. It is an error
// to register two jobs with the same Name.
func (s *Scheduler) Schedule(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.running[job.Name]; exists {
		return fmt.Errorf("maintenance: job %q already scheduled", job.Name)
	}
	s.running[job.Name] = nil

	_, err := s.cron.AddFunc(job.CronExpr, func() {
		s.execute(job)
	})
	if err != nil {
		delete(s.running, job.Name)
		return fmt.Errorf("maintenance: invalid cron expression %q for job %q: %w", job.CronExpr, job.Name, err)
	}
	return nil
}

func (s *Scheduler) execute(job Job) {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.running[job.Name] = &jobExecution{startTime: time.Now(), cancelFn: cancel}
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.running[job.Name] = nil
		s.mu.Unlock()
	}()

	if err := job.Run(ctx); err != nil {
		logging.Get().Warn("maintenance job failed", "job", job.Name, "err", err)
		return
	}
	logging.Get().Info("maintenance job completed", "job", job.Name)
}

// Start begins running every scheduled job at its cron times.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the cron loop and cancels every job currently in flight,
// waiting for the cron scheduler's own in-flight invocations to return.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()

	s.mu.Lock()
	for name, exec := range s.running {
		if exec != nil {
			logging.Get().Info("canceling running maintenance job", "job", name)
			exec.cancelFn()
		}
	}
	s.mu.Unlock()

	<-ctx.Done()
}
