// Package scaler holds the per-group scaling engines and the registry that
// routes external commands to them.
package scaler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/OldStager01/fleet-autoscaler/internal/events"
	"github.com/OldStager01/fleet-autoscaler/internal/logger"
	"github.com/OldStager01/fleet-autoscaler/internal/metrics"
	"github.com/OldStager01/fleet-autoscaler/internal/provider"
	"github.com/OldStager01/fleet-autoscaler/pkg/models"
)

var (
	ErrGroupNotFound    = errors.New("group not found")
	ErrDuplicateGroup   = errors.New("duplicate group name")
	ErrNoCandidate      = errors.New("no running server to remove")
	ErrInvalidThreshold = errors.New("invalid scaling threshold")
	ErrInvalidBounds    = errors.New("invalid server bounds")
	ErrScalerShutdown   = errors.New("scaler is shut down")
)

type Config struct {
	// HeartbeatTimeout removes RUNNING servers silent for longer. Zero disables.
	HeartbeatTimeout time.Duration
	// StartupTimeout removes servers stuck in STARTING for longer. Zero disables.
	StartupTimeout time.Duration
	// StartingScaleUpThreshold is the utilization required to scale up while
	// another auto-scaled server is still booting.
	StartingScaleUpThreshold float64
	// OperationTimeout bounds each background provider operation.
	OperationTimeout time.Duration
	Metrics          *metrics.Metrics
	Now              func() time.Time
}

func (c Config) withDefaults() Config {
	if c.StartingScaleUpThreshold == 0 {
		c.StartingScaleUpThreshold = 0.9
	}
	if c.OperationTimeout == 0 {
		c.OperationTimeout = 5 * time.Minute
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Get()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Scaler is the scaling engine of one group. It owns the group's tracked
// servers and never holds its lock across a provider call.
type Scaler struct {
	name      string
	cfg       Config
	provider  provider.ServiceProvider
	publisher *events.Publisher
	metrics   *metrics.Metrics

	group           *models.GroupConfig
	servers         map[string]*models.ServerRecord
	reserved        map[string]struct{}
	pendingRemovals map[string]struct{}
	manuallyStopped map[string]struct{}
	lastScale       time.Time
	paused          bool
	shutdown        bool
	mu              sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(group *models.GroupConfig, cfg Config, p provider.ServiceProvider, publisher *events.Publisher) *Scaler {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	return &Scaler{
		name:            group.Name,
		cfg:             cfg,
		provider:        p,
		publisher:       publisher,
		metrics:         cfg.Metrics,
		group:           group.Clone(),
		servers:         make(map[string]*models.ServerRecord),
		reserved:        make(map[string]struct{}),
		pendingRemovals: make(map[string]struct{}),
		manuallyStopped: make(map[string]struct{}),
		ctx:             ctx,
		cancel:          cancel,
	}
}

func (s *Scaler) Name() string {
	return s.name
}

// Group returns a copy of the group configuration including runtime
// threshold and bound changes.
func (s *Scaler) Group() *models.GroupConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.group.Clone()
}

func (s *Scaler) now() time.Time {
	return s.cfg.Now()
}

// ScaleServers runs one automatic check: heartbeat supervision, then at most
// one scale action. The provider work of that action runs in the background
// so the caller is never blocked by it.
func (s *Scaler) ScaleServers() *models.ScalingDecision {
	started := time.Now()
	s.checkHeartbeats()

	s.mu.Lock()
	decision, action := s.evaluateLocked()
	if action != nil {
		s.wg.Add(1)
	}
	s.mu.Unlock()

	label := string(decision.Action)
	if decision.CooldownActive {
		label = "COOLDOWN"
	}
	s.metrics.IncDecision(s.name, label)
	s.metrics.SetDecisionLatency(s.name, time.Since(started))
	s.recordState()
	s.publisher.DecisionMade(s.name, decision)

	log := logger.WithGroup(s.name).WithField("utilization", fmt.Sprintf("%.2f", decision.Utilization))
	if action == nil {
		log.Debugf("No scaling action (%s)", decision.Reason)
		return decision
	}

	log.Infof("Decision: %s %d -> %d servers (reason: %s)",
		decision.Action, decision.CurrentServers, decision.TargetServers, decision.Reason)
	s.publisher.ScalingStarted(s.name, decision)
	s.spawn(action)
	return decision
}

// evaluateLocked decides the next automatic action. When it returns an
// action, the servers it needs are already tracked and the cooldown is
// already reserved.
func (s *Scaler) evaluateLocked() (*models.ScalingDecision, func(context.Context)) {
	now := s.now()
	auto := s.autoCountLocked()
	utilization := s.utilizationLocked()

	decision := &models.ScalingDecision{
		Group:          s.name,
		Timestamp:      now,
		Action:         models.ActionMaintain,
		Utilization:    utilization,
		CurrentServers: auto,
		TargetServers:  auto,
	}

	switch {
	case s.shutdown:
		decision.Reason = "shutdown"
		return decision, nil
	case s.paused:
		decision.Reason = "paused"
		return decision, nil
	case len(s.pendingRemovals) > 0:
		decision.Reason = "pending_removals"
		return decision, nil
	}

	if min := s.group.Server.MinServers; auto < min {
		decision.Action = models.ActionScaleUp
		decision.TargetServers = min
		decision.Reason = "minimum_servers_enforcement"
		return decision, s.planScaleUpLocked(*decision, min-auto, now)
	}

	if s.shouldScaleUpLocked(utilization) {
		decision.Action = models.ActionScaleUp
		decision.TargetServers = auto + 1
		decision.Reason = "utilization_threshold"
		if s.cooldownRemainingLocked(now) > 0 {
			decision.CooldownActive = true
			return decision, nil
		}
		if stopped := s.restartCandidateLocked(); stopped != nil {
			decision.TargetServers = auto
			decision.Reason = "restart_stopped_server"
			return decision, s.planRestartLocked(*decision, stopped, now)
		}
		return decision, s.planScaleUpLocked(*decision, 1, now)
	}

	if s.shouldScaleDownLocked(utilization) {
		candidate := s.scaleDownCandidateLocked(true)
		if candidate == nil {
			decision.Reason = "no_candidate"
			return decision, nil
		}
		decision.Action = models.ActionScaleDown
		decision.TargetServers = auto - 1
		decision.Reason = "utilization_below_threshold"
		if s.cooldownRemainingLocked(now) > 0 {
			decision.CooldownActive = true
			return decision, nil
		}
		return decision, s.planScaleDownLocked(*decision, candidate, now)
	}

	decision.Reason = "within_thresholds"
	return decision, nil
}

func (s *Scaler) planScaleUpLocked(decision models.ScalingDecision, count int, now time.Time) func(context.Context) {
	records := make([]*models.ServerRecord, 0, count)
	for i := 0; i < count; i++ {
		records = append(records, s.trackNewLocked(false))
	}
	previous := s.reserveCooldownLocked(now)

	return func(ctx context.Context) {
		created, err := s.createAll(ctx, records)
		if len(created) == 0 {
			s.releaseCooldown(now, previous)
			s.publisher.ScalingFailed(s.name, decision.Reason, err)
			logger.WithGroup(s.name).WithError(err).Error("Automatic scale up failed")
			return
		}
		added := make([]string, 0, len(created))
		for _, server := range created {
			added = append(added, server.Name)
		}
		s.complete(decision, models.TriggerAutomatic, added, nil, err)
	}
}

func (s *Scaler) planRestartLocked(decision models.ScalingDecision, server *models.ServerRecord, now time.Time) func(context.Context) {
	previous := s.reserveCooldownLocked(now)

	return func(ctx context.Context) {
		if err := s.provider.StartServer(ctx, server); err != nil {
			s.releaseCooldown(now, previous)
			s.metrics.IncProviderError("start")
			s.publisher.ScalingFailed(s.name, decision.Reason, err)
			logger.WithServer(s.name, server.ServerID).WithError(err).Errorf("Failed to restart stopped server %s", server.Name)
			return
		}
		s.complete(decision, models.TriggerAutomatic, []string{server.Name}, nil, nil)
	}
}

func (s *Scaler) planScaleDownLocked(decision models.ScalingDecision, candidate *models.ServerRecord, now time.Time) func(context.Context) {
	s.pendingRemovals[candidate.ServerID] = struct{}{}
	previous := s.reserveCooldownLocked(now)

	logger.WithServer(s.name, candidate.ServerID).Infof(
		"Auto-scaling down server %s (players: %d)", candidate.Name, candidate.Info.OnlinePlayers,
	)

	return func(ctx context.Context) {
		if err := s.decommission(ctx, candidate); err != nil {
			s.releaseCooldown(now, previous)
			s.publisher.ScalingFailed(s.name, decision.Reason, err)
			logger.WithGroup(s.name).WithError(err).Error("Automatic scale down failed")
			return
		}
		s.complete(decision, models.TriggerAutomatic, nil, []string{candidate.Name}, nil)
	}
}

// Upscale creates one manually-scaled server. It ignores pause, cooldown
// and the max bound, and does not touch the cooldown timestamp.
func (s *Scaler) Upscale(ctx context.Context) (*models.ServerRecord, error) {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil, ErrScalerShutdown
	}
	// counted so a reload waits for the create before adopting its record
	s.wg.Add(1)
	defer s.wg.Done()
	before := len(s.servers)
	record := s.trackNewLocked(true)
	decision := s.manualDecisionLocked(models.ActionScaleUp, before, before+1, "manual_scale_up")
	s.mu.Unlock()

	logger.FromContext(ctx).WithField("group", s.name).WithField("server_id", record.ServerID).Infof("Manually scaling up server %s", record.Name)

	created, err := s.create(ctx, record)
	if err != nil {
		s.publisher.ScalingFailed(s.name, decision.Reason, err)
		return nil, err
	}
	s.complete(decision, models.TriggerManual, []string{created.Name}, nil, nil)
	return created, nil
}

func (s *Scaler) TriggerScaleUp(ctx context.Context) (*models.ServerRecord, error) {
	logger.FromContext(ctx).WithField("group", s.name).Info("Triggering manual scale up")
	return s.Upscale(ctx)
}

// TriggerScaleDown removes the least-utilized RUNNING server of the group,
// manually-scaled ones included. It returns ErrNoCandidate when nothing runs.
func (s *Scaler) TriggerScaleDown(ctx context.Context) (*models.ServerRecord, error) {
	logger.FromContext(ctx).WithField("group", s.name).Info("Triggering manual scale down")

	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil, ErrScalerShutdown
	}
	candidate := s.scaleDownCandidateLocked(false)
	if candidate == nil {
		s.mu.Unlock()
		return nil, ErrNoCandidate
	}
	s.wg.Add(1)
	defer s.wg.Done()
	before := len(s.servers)
	s.pendingRemovals[candidate.ServerID] = struct{}{}
	decision := s.manualDecisionLocked(models.ActionScaleDown, before, before-1, "manual_scale_down")
	s.mu.Unlock()

	kind := "auto-scaled"
	if candidate.ManuallyScaled {
		kind = "manual"
	}
	logger.WithServer(s.name, candidate.ServerID).Infof(
		"Manually scaling down %s server %s (players: %d)", kind, candidate.Name, candidate.Info.OnlinePlayers,
	)

	if err := s.decommission(ctx, candidate); err != nil {
		s.publisher.ScalingFailed(s.name, decision.Reason, err)
		return nil, err
	}
	s.complete(decision, models.TriggerManual, nil, []string{candidate.Name}, nil)
	return candidate, nil
}

func (s *Scaler) manualDecisionLocked(action models.ScalingAction, before, after int, reason string) models.ScalingDecision {
	return models.ScalingDecision{
		Group:          s.name,
		Timestamp:      s.now(),
		Action:         action,
		Utilization:    s.utilizationLocked(),
		CurrentServers: before,
		TargetServers:  after,
		Reason:         reason,
	}
}

// trackNewLocked names a new STARTING record and tracks it before any
// provider call. The name stays reserved until creation settles.
func (s *Scaler) trackNewLocked(manual bool) *models.ServerRecord {
	name := s.nextNameLocked()
	s.reserved[name] = struct{}{}

	record := models.NewServerRecord(s.name, name, s.group.ServerType(), manual)
	record.Info.MaxPlayers = s.group.MaxPlayers()
	now := s.now()
	record.CreatedAt = now
	record.LastHeartbeat = now

	s.servers[record.ServerID] = record
	return record.Clone()
}

func (s *Scaler) createAll(ctx context.Context, records []*models.ServerRecord) ([]*models.ServerRecord, error) {
	results := make([]<-chan provider.Result[*models.ServerRecord], 0, len(records))
	for _, record := range records {
		record := record
		results = append(results, provider.Go(func() (*models.ServerRecord, error) {
			return s.create(ctx, record)
		}))
	}

	var created []*models.ServerRecord
	var errs *multierror.Error
	for _, ch := range results {
		res := <-ch
		if res.Err != nil {
			errs = multierror.Append(errs, res.Err)
			continue
		}
		created = append(created, res.Value)
	}
	return created, errs.ErrorOrNil()
}

// create provisions a tracked record. On failure the name is released and
// the record untracked, leaving the group as it was before the attempt.
func (s *Scaler) create(ctx context.Context, record *models.ServerRecord) (*models.ServerRecord, error) {
	started := time.Now()
	created, err := s.provider.CreateServer(ctx, s.Group(), record.Clone())

	s.mu.Lock()
	delete(s.reserved, record.Name)
	if err != nil {
		delete(s.servers, record.ServerID)
		s.mu.Unlock()

		s.metrics.IncProviderError("create")
		logger.WithServer(s.name, record.ServerID).WithError(err).Errorf("Failed to create server %s", record.Name)
		return nil, fmt.Errorf("create server %s: %w", record.Name, err)
	}
	// Provider updates delivered during the call are newer than the result.
	if tracked, ok := s.servers[record.ServerID]; ok && tracked.ProviderID == "" {
		applied := created.Clone()
		applied.ManuallyScaled = record.ManuallyScaled
		s.servers[record.ServerID] = applied
	}
	s.mu.Unlock()

	s.metrics.SetProvisionLatency(s.name, time.Since(started))
	s.publisher.ServerAdded(created)
	return created.Clone(), nil
}

// decommission stops a pending-removal server if it is up, deletes it and
// untracks it. The pending mark is cleared whatever the outcome.
func (s *Scaler) decommission(ctx context.Context, server *models.ServerRecord) error {
	defer s.clearPending(server.ServerID)

	if server.IsRunning() || server.IsStarting() {
		if err := s.provider.StopServer(ctx, server); err != nil {
			logger.WithServer(s.name, server.ServerID).WithError(err).Warnf("Graceful stop of %s failed, removing anyway", server.Name)
		}
	}

	if _, err := s.provider.DeleteServer(ctx, server.ServerID); err != nil {
		s.metrics.IncProviderError("delete")
		return fmt.Errorf("delete server %s: %w", server.Name, err)
	}
	s.untrack(server.ServerID)
	return nil
}

func (s *Scaler) clearPending(serverID string) {
	s.mu.Lock()
	delete(s.pendingRemovals, serverID)
	s.mu.Unlock()
}

func (s *Scaler) untrack(serverID string) {
	s.mu.Lock()
	server, ok := s.servers[serverID]
	delete(s.servers, serverID)
	delete(s.pendingRemovals, serverID)
	delete(s.manuallyStopped, serverID)
	s.mu.Unlock()

	if ok {
		s.publisher.ServerRemoved(server)
	}
}

func (s *Scaler) complete(decision models.ScalingDecision, trigger models.Trigger, added, removed []string, err error) *models.ScalingEvent {
	status := models.ScalingEventSuccess
	if err != nil {
		status = models.ScalingEventPartial
	}

	event := models.NewScalingEvent(decision, trigger, status)
	event.Timestamp = s.now()
	event.ServersAdded = added
	event.ServersRemoved = removed
	if decision.Reason != "restart_stopped_server" {
		event.ServersAfter = decision.CurrentServers + len(added) - len(removed)
	}
	if err != nil {
		event.Error = err.Error()
	}

	s.metrics.IncScalingEvent(s.name, string(decision.Action))
	s.recordState()
	s.publisher.ScalingComplete(s.name, event)
	logger.WithGroup(s.name).Info(event.Summary())
	return event
}

// spawn runs an operation accounted for by a prior wg.Add.
func (s *Scaler) spawn(fn func(context.Context)) {
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.OperationTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// Wait blocks until background and manual operations finish or ctx ends.
func (s *Scaler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scaler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()

	s.recordState()
	s.publisher.GroupPaused(s.name)
	logger.WithGroup(s.name).Info("Scaling paused")
}

func (s *Scaler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()

	s.recordState()
	s.publisher.GroupResumed(s.name)
	logger.WithGroup(s.name).Info("Scaling resumed")
}

func (s *Scaler) IsPaused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused
}

// Shutdown stops scheduling new work, waits for running operations and
// deletes every tracked server.
func (s *Scaler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	s.mu.Unlock()

	logger.WithGroup(s.name).Info("Shutting down scaler")
	s.cancel()
	if err := s.Wait(ctx); err != nil {
		return fmt.Errorf("wait for %s operations: %w", s.name, err)
	}

	servers := s.Servers()
	results := make([]<-chan provider.Result[bool], 0, len(servers))
	for _, server := range servers {
		id := server.ServerID
		results = append(results, provider.Go(func() (bool, error) {
			return s.provider.DeleteServer(ctx, id)
		}))
	}

	var errs *multierror.Error
	for i, ch := range results {
		res := <-ch
		if res.Err != nil {
			errs = multierror.Append(errs, fmt.Errorf("delete server %s: %w", servers[i].Name, res.Err))
			continue
		}
		if !res.Value {
			logger.WithServer(s.name, servers[i].ServerID).Warnf("Server %s was already gone during shutdown", servers[i].Name)
		}
	}

	s.mu.Lock()
	s.servers = make(map[string]*models.ServerRecord)
	s.pendingRemovals = make(map[string]struct{})
	s.manuallyStopped = make(map[string]struct{})
	s.reserved = make(map[string]struct{})
	s.mu.Unlock()

	s.metrics.RemoveGroup(s.name)
	return errs.ErrorOrNil()
}

// freeze stops new work without touching servers; used when the engine is
// replaced on reload.
func (s *Scaler) freeze() {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()
}

// adopt takes over tracked state from the engine this one replaces.
func (s *Scaler) adopt(old *Scaler) {
	old.mu.RLock()
	servers := make(map[string]*models.ServerRecord, len(old.servers))
	for id, server := range old.servers {
		servers[id] = server.Clone()
	}
	stopped := make(map[string]struct{}, len(old.manuallyStopped))
	for id := range old.manuallyStopped {
		stopped[id] = struct{}{}
	}
	paused := old.paused
	lastScale := old.lastScale
	old.mu.RUnlock()

	s.mu.Lock()
	s.servers = servers
	s.manuallyStopped = stopped
	s.paused = paused
	s.lastScale = lastScale
	s.mu.Unlock()
}

func (s *Scaler) recordState() {
	s.mu.RLock()
	total := len(s.servers)
	auto := s.autoCountLocked()
	players := 0
	for _, server := range s.servers {
		players += server.Info.OnlinePlayers
	}
	utilization := s.utilizationLocked()
	paused := s.paused
	s.mu.RUnlock()

	s.metrics.SetGroupState(s.name, total, auto, players, utilization, paused)
}

func sortServers(servers []*models.ServerRecord) {
	sort.Slice(servers, func(i, j int) bool {
		if !servers[i].CreatedAt.Equal(servers[j].CreatedAt) {
			return servers[i].CreatedAt.Before(servers[j].CreatedAt)
		}
		return servers[i].Name < servers[j].Name
	})
}
