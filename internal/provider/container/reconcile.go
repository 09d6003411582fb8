package container

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	docker "github.com/fsouza/go-dockerclient"
	"github.com/hashicorp/go-multierror"

	"github.com/OldStager01/fleet-autoscaler/internal/logger"
	"github.com/OldStager01/fleet-autoscaler/internal/provider"
)

func (p *Provider) listManaged(ctx context.Context) ([]docker.APIContainers, error) {
	return p.client.ListContainers(docker.ListContainersOptions{
		All:     true,
		Filters: map[string][]string{"label": {LabelManaged + "=true"}},
		Context: ctx,
	})
}

// reconcile removes containers left behind by an earlier run and deletes
// dynamic working directories that no container owns any more.
func (p *Provider) reconcile(ctx context.Context) error {
	containers, err := p.listManaged(ctx)
	if err != nil {
		return fmt.Errorf("list managed containers: %w", err)
	}

	var result *multierror.Error
	volumes := make(map[string]struct{})
	for _, c := range containers {
		log := logger.WithField("container", shortID(c.ID))

		if inspected, err := p.inspect(ctx, c.ID); err == nil && inspected.Config != nil {
			if dynamicFromLabels(inspected.Config.Labels, "") {
				for _, m := range inspected.Mounts {
					if strings.Contains(filepath.ToSlash(m.Source), "/"+filepath.Base(p.cfg.ServersDir)+"/") {
						volumes[filepath.Clean(m.Source)] = struct{}{}
					}
				}
			}
		}

		if c.State == "running" {
			if err := p.client.StopContainerWithContext(c.ID, 10, ctx); err != nil && !isNotRunning(err) {
				log.Warnf("Failed to stop orphaned container: %v", err)
			}
		}
		if err := p.client.RemoveContainer(docker.RemoveContainerOptions{ID: c.ID, Force: true, Context: ctx}); err != nil && !isNoSuchContainer(err) {
			result = multierror.Append(result, fmt.Errorf("remove %s: %w", shortID(c.ID), err))
			continue
		}
		log.Info("Removed orphaned container")
	}

	if err := p.cleanupDynamicDirs(ctx, volumes); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// cleanupDynamicDirs deletes dynamic server directories (named with a '#')
// that are either known leftovers or not used by any running container.
func (p *Provider) cleanupDynamicDirs(ctx context.Context, known map[string]struct{}) error {
	groups, err := os.ReadDir(p.cfg.ServersDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read servers dir: %w", err)
	}

	running := make([]string, 0)
	if containers, err := p.listManaged(ctx); err == nil {
		for _, c := range containers {
			if c.State == "running" {
				running = append(running, c.Names...)
			}
		}
	}

	var result *multierror.Error
	for _, group := range groups {
		if !group.IsDir() {
			continue
		}
		dirs, err := os.ReadDir(filepath.Join(p.cfg.ServersDir, group.Name()))
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		for _, dir := range dirs {
			if !dir.IsDir() || !strings.Contains(dir.Name(), "#") {
				continue
			}
			path := filepath.Join(p.cfg.ServersDir, group.Name(), dir.Name())
			abs, _ := filepath.Abs(path)
			_, isKnown := known[filepath.Clean(abs)]
			if !isKnown && inUse(dir.Name(), running) {
				continue
			}
			if err := os.RemoveAll(path); err != nil {
				result = multierror.Append(result, fmt.Errorf("remove %s: %w", path, err))
				continue
			}
			logger.WithGroup(group.Name()).Infof("Removed orphaned server directory %s", dir.Name())
		}
	}
	return result.ErrorOrNil()
}

func inUse(dirName string, containerNames []string) bool {
	serverName := strings.SplitN(dirName, "#", 2)[0]
	for _, name := range containerNames {
		if strings.TrimPrefix(name, "/") == ContainerName(serverName) {
			return true
		}
	}
	return false
}

// Shutdown stops and removes every managed container, closes log streams
// and waits up to the configured grace period for background work.
func (p *Provider) Shutdown(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	logger.Info("Shutting down docker service provider")

	p.smu.Lock()
	for serverID, stream := range p.streams {
		p.dropStreamLocked(serverID, stream)
	}
	p.smu.Unlock()

	var result *multierror.Error
	containers, err := p.listManaged(ctx)
	if err != nil {
		result = multierror.Append(result, fmt.Errorf("list managed containers: %w", err))
	}
	for _, c := range containers {
		if c.State == "running" {
			if err := p.client.StopContainerWithContext(c.ID, uint(p.cfg.StopTimeout.Seconds()), ctx); err != nil && !isNotRunning(err) {
				logger.Warnf("Failed to stop container %s: %v", shortID(c.ID), err)
			}
		}
		if err := p.client.RemoveContainer(docker.RemoveContainerOptions{ID: c.ID, Force: true, Context: ctx}); err != nil && !isNoSuchContainer(err) {
			result = multierror.Append(result, fmt.Errorf("remove %s: %w", shortID(c.ID), err))
		}
	}

	if p.cfg.CleanupDynamicOnShutdown {
		if err := p.cleanupDynamicDirs(ctx, p.dynamicDirs()); err != nil {
			result = multierror.Append(result, err)
		}
	}

	p.cmu.Lock()
	p.containers = make(map[string]string)
	p.cmu.Unlock()
	p.store.Clear()

	p.cancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	grace, cancel := context.WithTimeout(ctx, p.cfg.ShutdownGrace)
	defer cancel()
	select {
	case <-done:
	case <-grace.Done():
		result = multierror.Append(result, fmt.Errorf("%w: background workers did not stop in %s", provider.ErrProviderShutdown, p.cfg.ShutdownGrace))
	}

	return result.ErrorOrNil()
}

func (p *Provider) dynamicDirs() map[string]struct{} {
	dirs := make(map[string]struct{})
	for _, server := range p.store.All() {
		if server.IsDynamic() && server.WorkingDirectory != "" {
			abs, err := filepath.Abs(server.WorkingDirectory)
			if err == nil {
				dirs[filepath.Clean(abs)] = struct{}{}
			}
		}
	}
	return dirs
}
