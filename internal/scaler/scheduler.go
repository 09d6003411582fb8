package scaler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/robfig/cron/v3"

	"github.com/OldStager01/fleet-autoscaler/internal/logger"
)

// Scheduler drives the registry: one global timer runs the automatic check
// of every group, and each group's cron jobs get their own entries.
type Scheduler struct {
	registry   *Registry
	interval   time.Duration
	jobTimeout time.Duration
	cron       *cron.Cron
	jobIDs     []cron.EntryID
	ctx        context.Context
	cancel     context.CancelFunc
	running    bool
	mu         sync.Mutex
}

func NewScheduler(registry *Registry, interval, jobTimeout time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if jobTimeout <= 0 {
		jobTimeout = 30 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	log := cronLogger{}

	return &Scheduler{
		registry:   registry,
		interval:   interval,
		jobTimeout: jobTimeout,
		cron: cron.New(
			cron.WithLogger(log),
			cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
		),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	if _, err := s.cron.AddFunc("@every "+s.interval.String(), s.runCycle); err != nil {
		return fmt.Errorf("schedule scaling check: %w", err)
	}
	if err := s.syncJobsLocked(); err != nil {
		return err
	}

	// Run immediately on start
	s.runCycle()

	s.cron.Start()
	s.running = true
	logger.WithField("interval", s.interval.String()).Info("Scaling scheduler started")
	return nil
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	<-s.cron.Stop().Done()

	logger.Info("Scaling scheduler stopped")
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) runCycle() {
	if s.ctx.Err() != nil {
		return
	}
	s.registry.CheckAll()
}

// SyncJobs replaces the cron job entries with those of the current groups.
// Call it after a registry reload.
func (s *Scheduler) SyncJobs() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncJobsLocked()
}

func (s *Scheduler) syncJobsLocked() error {
	for _, id := range s.jobIDs {
		s.cron.Remove(id)
	}
	s.jobIDs = s.jobIDs[:0]

	var errs *multierror.Error
	for _, sc := range s.registry.Scalers() {
		group := sc.Name()
		for _, job := range sc.Group().CronJobs {
			if !job.IsEnabled() {
				continue
			}
			name := job.Name
			id, err := s.cron.AddFunc(job.Schedule, func() {
				ctx, cancel := context.WithTimeout(s.ctx, s.jobTimeout)
				defer cancel()
				if _, err := s.registry.RunCronJob(ctx, group, name); err != nil {
					logger.WithGroup(group).WithError(err).Errorf("Cron job %s failed", name)
				}
			})
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("group %s cron job %s: %w", group, name, err))
				continue
			}
			s.jobIDs = append(s.jobIDs, id)
		}
	}

	logger.Debugf("Scheduled %d cron jobs", len(s.jobIDs))
	return errs.ErrorOrNil()
}

// cronLogger adapts the package logger to cron.Logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.WithFields(fieldsOf(keysAndValues)).Debug("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.WithFields(fieldsOf(keysAndValues)).WithError(err).Error("cron: " + msg)
}

func fieldsOf(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
