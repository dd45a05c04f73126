// Package notify runs the background maintenance jobs: periodic cleanup of
// aged conversation rows and any scheduled outreach. Jobs are gated by cron
// expressions and checked once a minute; a missed minute is skipped, not
// replayed.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/lunalabs/luna/pkg/logger"
	"github.com/lunalabs/luna/pkg/store"
)

// Job is one scheduled unit of work.
type Job struct {
	Name     string
	Schedule string // cron expression
	Run      func(ctx context.Context) error
}

// Scheduler ticks once a minute and fires every job whose cron expression is
// due. Job runs are sequential within a tick; a job that overruns a minute
// delays its successors rather than stacking up.
type Scheduler struct {
	jobs []Job
	gron *gronx.Gronx

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	stopped chan struct{}
}

func NewScheduler(jobs ...Job) *Scheduler {
	return &Scheduler{jobs: jobs, gron: gronx.New()}
}

// Validate checks every job's cron expression.
func (s *Scheduler) Validate() error {
	for _, job := range s.jobs {
		if !s.gron.IsValid(job.Schedule) {
			return fmt.Errorf("job %s: invalid cron expression %q", job.Name, job.Schedule)
		}
	}
	return nil
}

func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.stopped = make(chan struct{})
	s.running = true

	go func() {
		defer close(s.stopped)
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				s.RunDue(runCtx, now)
			case <-runCtx.Done():
				return
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.cancel()
	<-s.stopped
	s.running = false
}

// RunDue fires every job due at the given instant.
func (s *Scheduler) RunDue(ctx context.Context, now time.Time) {
	for _, job := range s.jobs {
		due, err := s.gron.IsDue(job.Schedule, now)
		if err != nil {
			logger.ErrorCF("notify", "Bad cron expression", map[string]any{
				"job": job.Name, "schedule": job.Schedule, "error": err.Error(),
			})
			continue
		}
		if !due {
			continue
		}
		if err := job.Run(ctx); err != nil {
			logger.ErrorCF("notify", "Job failed", map[string]any{
				"job": job.Name, "error": err.Error(),
			})
			continue
		}
		logger.DebugCF("notify", "Job completed", map[string]any{"job": job.Name})
	}
}

// NewCleanupJob deletes conversation rows older than retention on the given
// schedule.
func NewCleanupJob(conversations store.ConversationStore, schedule string, retention time.Duration) Job {
	return Job{
		Name:     "conversation-cleanup",
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			removed, err := conversations.CleanupOlderThan(ctx, retention)
			if err != nil {
				return err
			}
			if removed > 0 {
				logger.InfoCF("notify", "Cleaned up aged conversations", map[string]any{
					"removed": removed,
				})
			}
			return nil
		},
	}
}
