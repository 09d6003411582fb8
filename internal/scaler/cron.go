package scaler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/OldStager01/fleet-autoscaler/internal/logger"
	"github.com/OldStager01/fleet-autoscaler/pkg/models"
)

const (
	actionTypeServerControl = "server-control"
	cronParallelism         = 4
)

var ErrUnknownCronAction = errors.New("unknown cron action")

// RunCronJob runs a group's cron job by name. It reports false when either
// the group or the job is unknown.
func (r *Registry) RunCronJob(ctx context.Context, group, job string) (bool, error) {
	s, ok := r.Get(group)
	if !ok {
		return false, nil
	}
	cronJob, ok := s.CronJob(job)
	if !ok {
		return false, nil
	}
	return true, s.RunCronJob(ctx, cronJob)
}

func (s *Scaler) CronJob(name string) (models.CronJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, job := range s.group.CronJobs {
		if strings.EqualFold(job.Name, name) {
			return job, true
		}
	}
	return models.CronJob{}, false
}

// RunCronJob executes the steps of job in order against every server of
// the group, waiting each step's delay first.
func (s *Scaler) RunCronJob(ctx context.Context, job models.CronJob) error {
	log := logger.WithGroup(s.name).WithField("cron_job", job.Name)
	log.Info("Running cron job")

	var errs *multierror.Error
	for i, step := range job.Steps {
		if step.Delay > 0 {
			timer := time.NewTimer(time.Duration(step.Delay) * time.Second)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		if !strings.EqualFold(step.ActionType, actionTypeServerControl) {
			log.Warnf("Skipping step %d with unsupported action type %q", i+1, step.ActionType)
			continue
		}
		if err := s.controlServers(ctx, step.ServerControl.Action); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("step %d: %w", i+1, err))
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		log.WithError(err).Error("Cron job finished with errors")
		return err
	}
	log.Info("Cron job finished")
	return nil
}

func (s *Scaler) controlServers(ctx context.Context, action string) error {
	var op func(context.Context, string) (bool, error)
	switch strings.ToLower(action) {
	case "start":
		op = s.StartServer
	case "stop":
		op = s.StopServer
	case "restart":
		op = s.RestartServer
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCronAction, action)
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs *multierror.Error
	)
	g.SetLimit(cronParallelism)
	for _, server := range s.Servers() {
		id := server.ServerID
		g.Go(func() error {
			if _, err := op(ctx, id); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return errs.ErrorOrNil()
}
