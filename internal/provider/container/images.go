package container

import (
	"context"
	"errors"
	"fmt"
	"strings"

	docker "github.com/fsouza/go-dockerclient"

	"github.com/OldStager01/fleet-autoscaler/internal/logger"
	"github.com/OldStager01/fleet-autoscaler/pkg/models"
)

// normalizeImage appends the latest tag to untagged references.
func normalizeImage(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.Contains(ref, "@") {
		return ref
	}
	if strings.LastIndex(ref, ":") > strings.LastIndex(ref, "/") {
		return ref
	}
	return ref + ":latest"
}

// splitImage separates a normalized reference into repository and tag.
func splitImage(ref string) (repository, tag string) {
	if strings.Contains(ref, "@") {
		return ref, ""
	}
	i := strings.LastIndex(ref, ":")
	if i <= strings.LastIndex(ref, "/") {
		return ref, ""
	}
	return ref[:i], ref[i+1:]
}

// EnsureResourcesReady makes sure the group's image is present locally.
// Concurrent callers for one image share a single pull; other images are
// never blocked by it.
func (p *Provider) EnsureResourcesReady(ctx context.Context, group *models.GroupConfig) error {
	if group == nil || strings.TrimSpace(group.Provider.Docker.Image) == "" {
		return ErrImageRequired
	}
	return p.ensureImage(ctx, normalizeImage(group.Provider.Docker.Image))
}

func (p *Provider) ensureImage(ctx context.Context, ref string) error {
	if p.isPulled(ref) {
		return nil
	}

	ch := p.pulls.DoChan(ref, func() (interface{}, error) {
		if p.isPulled(ref) {
			return nil, nil
		}
		return nil, p.pullImage(ref)
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func (p *Provider) pullImage(ref string) error {
	log := logger.WithField("image", ref)

	_, err := p.client.InspectImage(ref)
	if err == nil {
		p.markPulled(ref)
		log.Debug("Image already present")
		return nil
	}
	if !errors.Is(err, docker.ErrNoSuchImage) {
		log.Warnf("Image inspect failed, pulling anyway: %v", err)
	}

	log.Info("Pulling image")
	repository, tag := splitImage(ref)
	p.metrics.IncImagePull(ref)
	err = p.breaker.Execute(func() error {
		return p.client.PullImage(docker.PullImageOptions{
			Repository: repository,
			Tag:        tag,
			Context:    p.ctx,
		}, docker.AuthConfiguration{})
	})
	if err != nil {
		p.metrics.IncProviderError("pull")
		return fmt.Errorf("pull image %s: %w", ref, err)
	}

	p.markPulled(ref)
	log.Info("Image pulled")
	return nil
}

func (p *Provider) isPulled(ref string) bool {
	p.pmu.RLock()
	defer p.pmu.RUnlock()
	_, ok := p.pulled[ref]
	return ok
}

func (p *Provider) markPulled(ref string) {
	p.pmu.Lock()
	defer p.pmu.Unlock()
	p.pulled[ref] = struct{}{}
}
