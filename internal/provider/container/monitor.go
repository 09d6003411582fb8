package container

import (
	"context"
	"time"

	"github.com/OldStager01/fleet-autoscaler/internal/logger"
	"github.com/OldStager01/fleet-autoscaler/pkg/models"
)

func (p *Provider) monitor() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.checkContainers(p.ctx)
		}
	}
}

// checkContainers reconciles stored status with what the runtime reports.
// Booted containers become RUNNING; containers that died on their own
// become ERROR.
func (p *Provider) checkContainers(ctx context.Context) {
	for _, server := range p.store.All() {
		containerID, ok := p.containerID(server.ServerID)
		if !ok {
			continue
		}
		status := server.Status()
		if status == models.StatusStopping || status == models.StatusStopped {
			continue
		}

		log := logger.WithServer(server.Group, server.ServerID)
		c, err := p.inspect(ctx, containerID)
		switch {
		case isNoSuchContainer(err):
			log.Warnf("Container of %s disappeared", server.Name)
			p.store.SetStatus(server.ServerID, models.StatusError)
			continue
		case err != nil:
			log.Debugf("Health inspect failed: %v", err)
			continue
		}

		if !c.State.Running {
			if status != models.StatusError {
				log.Warnf("Container of %s exited with code %d", server.Name, c.State.ExitCode)
				p.store.SetStatus(server.ServerID, models.StatusError)
			}
			continue
		}

		healthy := c.State.Health.Status == "" || c.State.Health.Status == "healthy"
		now := time.Now()
		switch {
		case status == models.StatusStarting && healthy:
			p.store.Update(server.ServerID, func(s *models.ServerRecord) error {
				s.Heartbeat(now)
				return s.SetStatus(models.StatusRunning)
			})
		case status == models.StatusRunning && p.cfg.MonitorHeartbeats:
			p.store.Update(server.ServerID, func(s *models.ServerRecord) error {
				s.Heartbeat(now)
				return nil
			})
		}
	}
}
