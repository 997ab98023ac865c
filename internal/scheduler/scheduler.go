package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// Job is a named unit of periodic work.
type Job func(ctx context.Context) error

// Scheduler runs named jobs on cron expressions in UTC.
type Scheduler struct {
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	started bool
}

func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddJob registers fn under name. spec accepts the standard five-field
// syntax as well as descriptors such as "@every 1m".
func (s *Scheduler) AddJob(spec, name string, fn Job) error {
	if fn == nil {
		return fmt.Errorf("job %q: nil function", name)
	}
	_, err := s.cron.AddFunc(spec, func() {
		start := time.Now()
		if err := fn(s.ctx); err != nil {
			log.WithError(err).WithField("job", name).Error("scheduled job failed")
			return
		}
		log.WithFields(log.Fields{"job": name, "took": time.Since(start)}).Debug("scheduled job finished")
	})
	if err != nil {
		return fmt.Errorf("job %q: %w", name, err)
	}
	log.WithFields(log.Fields{"job": name, "spec": spec}).Info("scheduled job registered")
	return nil
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.cron.Start()
	s.started = true
	log.WithField("jobs", len(s.cron.Entries())).Info("scheduler started")
}

// Stop waits for running jobs to finish, then cancels the job context.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		<-s.cron.Stop().Done()
		s.started = false
	}
	s.cancel()
	log.Info("scheduler stopped")
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && len(s.cron.Entries()) > 0
}
