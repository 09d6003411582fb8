package scaler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/OldStager01/fleet-autoscaler/internal/events"
	"github.com/OldStager01/fleet-autoscaler/internal/logger"
	"github.com/OldStager01/fleet-autoscaler/internal/provider"
	"github.com/OldStager01/fleet-autoscaler/pkg/models"
)

// Registry owns one Scaler per group and routes commands and provider
// updates to them.
type Registry struct {
	cfg       Config
	provider  provider.ServiceProvider
	publisher *events.Publisher
	scalers   map[string]*Scaler
	mu        sync.RWMutex
}

func NewRegistry(cfg Config, p provider.ServiceProvider, publisher *events.Publisher) *Registry {
	r := &Registry{
		cfg:       cfg.withDefaults(),
		provider:  p,
		publisher: publisher,
		scalers:   make(map[string]*Scaler),
	}
	p.Watch(r.route)
	return r
}

func (r *Registry) Provider() provider.ServiceProvider {
	return r.provider
}

func (r *Registry) route(u provider.Update) {
	if u.Server == nil {
		return
	}
	r.mu.RLock()
	s, ok := r.scalers[u.Server.Group]
	r.mu.RUnlock()
	if ok {
		s.applyUpdate(u)
	}
}

// Load builds an engine for every group. Every group's provider resources
// must be ready first; a failure there is fatal to startup.
func (r *Registry) Load(ctx context.Context, groups []*models.GroupConfig) error {
	if err := checkGroupNames(groups); err != nil {
		return err
	}
	if err := r.ensureResources(ctx, groups); err != nil {
		return err
	}

	scalers := make(map[string]*Scaler, len(groups))
	for _, group := range groups {
		scalers[group.Name] = New(group, r.cfg, r.provider, r.publisher)
	}

	r.mu.Lock()
	r.scalers = scalers
	r.mu.Unlock()

	logger.WithField("provider", r.provider.Name()).Infof("Loaded %d scaling groups", len(groups))
	return nil
}

// Reload rebuilds every engine from groups. Groups that still exist keep
// their tracked servers, pause state and cooldown; servers of removed
// groups are left running.
func (r *Registry) Reload(ctx context.Context, groups []*models.GroupConfig) error {
	if err := checkGroupNames(groups); err != nil {
		return err
	}
	if err := r.ensureResources(ctx, groups); err != nil {
		return err
	}

	r.mu.RLock()
	old := make(map[string]*Scaler, len(r.scalers))
	for name, s := range r.scalers {
		old[name] = s
	}
	r.mu.RUnlock()

	next := make(map[string]*Scaler, len(groups))
	for _, group := range groups {
		next[group.Name] = New(group, r.cfg, r.provider, r.publisher)
	}

	for name := range next {
		prev, ok := old[name]
		if !ok {
			continue
		}
		prev.freeze()
		if err := prev.Wait(ctx); err != nil {
			logger.WithGroup(name).WithError(err).Warn("Reloading with operations still in flight")
		}
	}

	r.mu.Lock()
	for name, s := range next {
		if prev, ok := old[name]; ok {
			s.adopt(prev)
		}
	}
	r.scalers = next
	r.mu.Unlock()

	for name, prev := range old {
		if _, kept := next[name]; kept {
			continue
		}
		prev.freeze()
		prev.cancel()
		r.cfg.Metrics.RemoveGroup(name)
		logger.WithGroup(name).Warnf("Group removed from configuration, leaving its %d servers running", len(prev.Servers()))
	}

	logger.Infof("Reloaded %d scaling groups", len(groups))
	return nil
}

func (r *Registry) ensureResources(ctx context.Context, groups []*models.GroupConfig) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, group := range groups {
		group := group
		g.Go(func() error {
			if err := r.provider.EnsureResourcesReady(gctx, group); err != nil {
				return fmt.Errorf("prepare group %s: %w", group.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func checkGroupNames(groups []*models.GroupConfig) error {
	seen := make(map[string]string, len(groups))
	for _, group := range groups {
		key := strings.ToLower(group.Name)
		if prev, ok := seen[key]; ok {
			return fmt.Errorf("%w: %q and %q", ErrDuplicateGroup, prev, group.Name)
		}
		seen[key] = group.Name
	}
	return nil
}

// Get finds a group by exact name, then case-insensitively, then by display name.
func (r *Registry) Get(name string) (*Scaler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if s, ok := r.scalers[name]; ok {
		return s, true
	}
	for key, s := range r.scalers {
		if strings.EqualFold(key, name) {
			return s, true
		}
	}
	for _, s := range r.scalers {
		if s.group.DisplayName != "" && strings.EqualFold(s.group.DisplayName, name) {
			return s, true
		}
	}
	return nil, false
}

// Scalers returns every engine in check order: proxy groups first, then
// by descending priority, then by name.
func (r *Registry) Scalers() []*Scaler {
	r.mu.RLock()
	scalers := make([]*Scaler, 0, len(r.scalers))
	for _, s := range r.scalers {
		scalers = append(scalers, s)
	}
	r.mu.RUnlock()

	sort.Slice(scalers, func(i, j int) bool {
		a, b := scalers[i].group, scalers[j].group
		aProxy, bProxy := a.ScalerType() == models.ScalerTypeProxy, b.ScalerType() == models.ScalerTypeProxy
		if aProxy != bProxy {
			return aProxy
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.Name < b.Name
	})
	return scalers
}

// CheckAll runs one automatic check on every group.
func (r *Registry) CheckAll() []*models.ScalingDecision {
	scalers := r.Scalers()
	decisions := make([]*models.ScalingDecision, 0, len(scalers))
	for _, s := range scalers {
		decisions = append(decisions, s.ScaleServers())
	}
	return decisions
}

func (r *Registry) Statuses() []models.GroupStatus {
	scalers := r.Scalers()
	statuses := make([]models.GroupStatus, 0, len(scalers))
	for _, s := range scalers {
		statuses = append(statuses, s.Status())
	}
	return statuses
}

func (r *Registry) Upscale(ctx context.Context, group string) (*models.ServerRecord, bool, error) {
	s, ok := r.Get(group)
	if !ok {
		return nil, false, nil
	}
	server, err := s.Upscale(ctx)
	return server, true, err
}

func (r *Registry) TriggerScaleUp(ctx context.Context, group string) (*models.ServerRecord, bool, error) {
	s, ok := r.Get(group)
	if !ok {
		return nil, false, nil
	}
	server, err := s.TriggerScaleUp(ctx)
	return server, true, err
}

func (r *Registry) TriggerScaleDown(ctx context.Context, group string) (*models.ServerRecord, bool, error) {
	s, ok := r.Get(group)
	if !ok {
		return nil, false, nil
	}
	server, err := s.TriggerScaleDown(ctx)
	return server, true, err
}

func (r *Registry) Pause(group string) bool {
	s, ok := r.Get(group)
	if ok {
		s.Pause()
	}
	return ok
}

func (r *Registry) Resume(group string) bool {
	s, ok := r.Get(group)
	if ok {
		s.Resume()
	}
	return ok
}

func (r *Registry) Status(group string) (models.GroupStatus, bool) {
	s, ok := r.Get(group)
	if !ok {
		return models.GroupStatus{}, false
	}
	return s.Status(), true
}

// UpdateScaling applies a runtime threshold and bounds change to a group.
// The change lasts until the next reload.
func (r *Registry) UpdateScaling(group string, u ScalingUpdate) (*models.GroupConfig, bool, error) {
	s, ok := r.Get(group)
	if !ok {
		return nil, false, nil
	}
	if err := s.Apply(u); err != nil {
		return nil, true, err
	}
	return s.Group(), true, nil
}

func (r *Registry) GroupConfig(group string) (*models.GroupConfig, bool) {
	s, ok := r.Get(group)
	if !ok {
		return nil, false
	}
	return s.Group(), true
}

func (r *Registry) owner(serverID string) (*Scaler, bool) {
	for _, s := range r.Scalers() {
		if _, ok := s.Server(serverID); ok {
			return s, true
		}
	}
	return nil, false
}

func (r *Registry) Server(serverID string) (*models.ServerRecord, bool) {
	s, ok := r.owner(serverID)
	if !ok {
		return nil, false
	}
	return s.Server(serverID)
}

func (r *Registry) ServerByName(name string) (*models.ServerRecord, bool) {
	for _, s := range r.Scalers() {
		if server, ok := s.ServerByName(name); ok {
			return server, true
		}
	}
	return nil, false
}

func (r *Registry) AllServers() []*models.ServerRecord {
	var servers []*models.ServerRecord
	for _, s := range r.Scalers() {
		servers = append(servers, s.Servers()...)
	}
	return servers
}

func (r *Registry) ServersByGroup(group string) ([]*models.ServerRecord, bool) {
	s, ok := r.Get(group)
	if !ok {
		return nil, false
	}
	return s.Servers(), true
}

func (r *Registry) StartServer(ctx context.Context, serverID string) (bool, error) {
	s, ok := r.owner(serverID)
	if !ok {
		return false, nil
	}
	return s.StartServer(ctx, serverID)
}

func (r *Registry) StopServer(ctx context.Context, serverID string) (bool, error) {
	s, ok := r.owner(serverID)
	if !ok {
		return false, nil
	}
	return s.StopServer(ctx, serverID)
}

func (r *Registry) RestartServer(ctx context.Context, serverID string) (bool, error) {
	s, ok := r.owner(serverID)
	if !ok {
		return false, nil
	}
	return s.RestartServer(ctx, serverID)
}

func (r *Registry) RemoveServer(ctx context.Context, serverID string) (bool, error) {
	s, ok := r.owner(serverID)
	if !ok {
		return false, nil
	}
	return s.RemoveServer(ctx, serverID)
}

// UpdateServerInfo records a heartbeat in the owning engine and mirrors the
// result into the provider's snapshot.
func (r *Registry) UpdateServerInfo(ctx context.Context, serverID string, info models.ServerInfo) (*models.ServerRecord, bool) {
	s, ok := r.owner(serverID)
	if !ok {
		return nil, false
	}
	server, ok := s.UpdateServerInfo(serverID, info)
	if !ok {
		return nil, false
	}
	r.provider.UpdateServerStatus(ctx, serverID, server)
	return server, true
}

func (r *Registry) ServerLogs(ctx context.Context, serverID string, lines int) ([]string, bool, error) {
	if _, ok := r.owner(serverID); !ok {
		return nil, false, nil
	}
	logs, err := r.provider.GetServerLogs(ctx, serverID, lines)
	return logs, true, err
}

func (r *Registry) StreamServerLogs(ctx context.Context, serverID string, handler provider.LogHandler) (string, bool) {
	if _, ok := r.owner(serverID); !ok {
		return "", false
	}
	return r.provider.StreamServerLogs(ctx, serverID, handler)
}

func (r *Registry) StopLogStream(subscriptionID string) bool {
	return r.provider.StopLogStream(subscriptionID)
}

func (r *Registry) ServerStats(ctx context.Context, serverID string) (*models.ServerStats, bool, error) {
	if _, ok := r.owner(serverID); !ok {
		return nil, false, nil
	}
	return r.provider.GetServerStats(ctx, serverID)
}

// Shutdown shuts every engine down, deleting their servers, then the provider.
func (r *Registry) Shutdown(ctx context.Context) error {
	scalers := r.Scalers()
	results := make([]<-chan provider.Result[struct{}], 0, len(scalers))
	for _, s := range scalers {
		s := s
		results = append(results, provider.Go(func() (struct{}, error) {
			return struct{}{}, s.Shutdown(ctx)
		}))
	}

	var errs *multierror.Error
	for _, ch := range results {
		if res := <-ch; res.Err != nil {
			errs = multierror.Append(errs, res.Err)
		}
	}
	if err := r.provider.Shutdown(ctx); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("shutdown provider %s: %w", r.provider.Name(), err))
	}

	logger.Info("Scaler registry shut down")
	return errs.ErrorOrNil()
}
