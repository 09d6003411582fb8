package container

import (
	"context"
	"fmt"
	"os"
	"strconv"

	docker "github.com/fsouza/go-dockerclient"

	"github.com/OldStager01/fleet-autoscaler/internal/logger"
	"github.com/OldStager01/fleet-autoscaler/pkg/models"
)

// DeleteServer force-removes the server's container, waits until the
// runtime confirms it is gone and then, for dynamic servers, deletes the
// working directory.
func (p *Provider) DeleteServer(ctx context.Context, serverID string) (bool, error) {
	p.closeStreams(serverID)

	record, tracked := p.store.Get(serverID)
	containerID, ok := p.containerID(serverID)
	if !ok {
		if tracked {
			p.store.Remove(serverID)
			return true, nil
		}
		return false, nil
	}

	group, name := "", serverID
	serverType := models.ServerTypeStatic
	if tracked {
		group, name, serverType = record.Group, record.Name, record.Type
	}
	dynamic := serverType == models.ServerTypeDynamic
	log := logger.WithServer(group, serverID)

	if c, err := p.inspect(ctx, containerID); err == nil {
		if c.Config != nil {
			dynamic = dynamicFromLabels(c.Config.Labels, serverType)
		}
		if c.State.Running {
			if err := p.stopContainer(ctx, containerID); err != nil {
				log.Warnf("Graceful stop failed, forcing removal: %v", err)
			}
		}
	}

	if err := p.removeContainer(ctx, containerID); err != nil {
		p.metrics.IncProviderError("delete")
		return false, err
	}
	if err := p.waitForRemoval(ctx, containerID); err != nil {
		log.Warnf("Container %s removal not confirmed: %v", shortID(containerID), err)
		return false, err
	}

	if dynamic && tracked && record.WorkingDirectory != "" {
		if err := os.RemoveAll(record.WorkingDirectory); err != nil {
			log.Warnf("Failed to delete working directory %s: %v", record.WorkingDirectory, err)
		} else {
			log.Debugf("Deleted working directory %s", record.WorkingDirectory)
		}
	}

	p.forgetContainer(serverID)
	p.store.Remove(serverID)
	log.Infof("Server %s deleted", name)
	return true, nil
}

// removeContainer force-removes, retrying once with volumes included.
func (p *Provider) removeContainer(ctx context.Context, containerID string) error {
	err := p.breaker.Execute(func() error {
		return p.client.RemoveContainer(docker.RemoveContainerOptions{ID: containerID, Force: true, Context: ctx})
	})
	if err == nil || isNoSuchContainer(err) {
		return nil
	}

	logger.Warnf("Force removal of %s failed, retrying with volumes: %v", shortID(containerID), err)
	err = p.breaker.Execute(func() error {
		return p.client.RemoveContainer(docker.RemoveContainerOptions{ID: containerID, Force: true, RemoveVolumes: true, Context: ctx})
	})
	if err == nil || isNoSuchContainer(err) {
		return nil
	}
	return fmt.Errorf("remove container %s: %w", shortID(containerID), err)
}

// waitForRemoval polls until inspect reports the container as gone.
func (p *Provider) waitForRemoval(ctx context.Context, containerID string) error {
	for i := 0; i < p.cfg.RemovePollAttempts; i++ {
		_, err := p.client.InspectContainerWithOptions(docker.InspectContainerOptions{ID: containerID, Context: ctx})
		if isNoSuchContainer(err) {
			return nil
		}
		if !sleepCtx(ctx, p.cfg.RemovePollInterval) {
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w after %d attempts", ErrRemovalUnconfirmed, p.cfg.RemovePollAttempts)
}

// dynamicFromLabels reads the dynamic marker, falling back to the server type.
func dynamicFromLabels(labels map[string]string, fallback models.ServerType) bool {
	if v, ok := labels[LabelDynamic]; ok {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback == models.ServerTypeDynamic
}
