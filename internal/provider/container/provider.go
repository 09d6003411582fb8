// Package container implements the service provider on top of the Docker
// Engine API. Every server maps to one labelled container whose working
// directory is bind-mounted from the host.
package container

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	docker "github.com/fsouza/go-dockerclient"
	"golang.org/x/sync/singleflight"

	"github.com/OldStager01/fleet-autoscaler/internal/logger"
	"github.com/OldStager01/fleet-autoscaler/internal/metrics"
	"github.com/OldStager01/fleet-autoscaler/internal/provider"
	"github.com/OldStager01/fleet-autoscaler/internal/resilience"
	"github.com/OldStager01/fleet-autoscaler/pkg/models"
)

var (
	ErrImageRequired      = errors.New("group has no container image configured")
	ErrRemovalUnconfirmed = errors.New("container removal not confirmed")
)

type Config struct {
	Endpoint                 string
	Network                  string
	AutoCreateNetwork        bool
	ServersDir               string
	TemplatesDir             string
	CleanupDynamicOnShutdown bool
	StopTimeout              time.Duration
	RemovePollAttempts       int
	RemovePollInterval       time.Duration
	LogWait                  time.Duration
	LogReconnectDelay        time.Duration
	MonitorInterval          time.Duration
	MonitorHeartbeats        bool
	ShutdownGrace            time.Duration
}

type Provider struct {
	cfg     Config
	client  Client
	breaker *resilience.CircuitBreaker
	store   *provider.Store
	metrics *metrics.Metrics

	containers map[string]string // serverID -> containerID
	cmu        sync.RWMutex

	pulled map[string]struct{}
	pmu    sync.RWMutex
	pulls  singleflight.Group

	streams map[string]*logStream // serverID -> stream
	subsIdx map[string]string     // subscriptionID -> serverID
	smu     sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// New connects to the runtime, reconciles leftovers of a previous run and
// starts the health monitor. A nil client dials cfg.Endpoint. An unreachable
// runtime is returned as an error and the provider must not be used.
func New(ctx context.Context, cfg Config, client Client) (*Provider, error) {
	if cfg.ServersDir == "" {
		cfg.ServersDir = "servers"
	}
	if cfg.TemplatesDir == "" {
		cfg.TemplatesDir = "templates"
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = 30 * time.Second
	}
	if cfg.RemovePollAttempts == 0 {
		cfg.RemovePollAttempts = 20
	}
	if cfg.RemovePollInterval == 0 {
		cfg.RemovePollInterval = 500 * time.Millisecond
	}
	if cfg.LogWait == 0 {
		cfg.LogWait = 10 * time.Second
	}
	if cfg.LogReconnectDelay <= 0 {
		cfg.LogReconnectDelay = time.Second
	}
	if cfg.MonitorInterval == 0 {
		cfg.MonitorInterval = 10 * time.Second
	}
	if cfg.ShutdownGrace == 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}

	if client == nil {
		c, err := NewClient(cfg.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("create docker client: %w", err)
		}
		client = c
	}
	if err := client.Ping(); err != nil {
		return nil, fmt.Errorf("docker daemon unreachable: %w", err)
	}

	m := metrics.Get()
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:        "docker",
		MaxFailures: 5,
		Timeout:     15 * time.Second,
		IsFailure:   isBackendFailure,
		OnStateChange: func(name string, from, to resilience.State) {
			logger.WithField("breaker", name).Warnf("Docker circuit breaker %s -> %s", from, to)
			m.SetCircuitBreakerState(name, int(to))
		},
	})

	pctx, cancel := context.WithCancel(context.Background())
	p := &Provider{
		cfg:        cfg,
		client:     client,
		breaker:    breaker,
		store:      provider.NewStore(),
		metrics:    m,
		containers: make(map[string]string),
		pulled:     make(map[string]struct{}),
		streams:    make(map[string]*logStream),
		subsIdx:    make(map[string]string),
		ctx:        pctx,
		cancel:     cancel,
	}

	if err := p.ensureNetwork(); err != nil {
		cancel()
		return nil, err
	}
	if err := p.reconcile(ctx); err != nil {
		logger.Warnf("Startup reconciliation incomplete: %v", err)
	}

	if cfg.MonitorInterval > 0 {
		p.wg.Add(1)
		go p.monitor()
	}

	logger.WithField("servers_dir", cfg.ServersDir).Info("Docker service provider started")
	return p, nil
}

func (p *Provider) Name() string {
	return "docker"
}

func (p *Provider) Watch(fn provider.UpdateFunc) {
	p.store.Watch(fn)
}

func (p *Provider) ensureNetwork() error {
	if p.cfg.Network == "" || !p.cfg.AutoCreateNetwork {
		return nil
	}

	networks, err := p.client.FilteredListNetworks(docker.NetworkFilterOpts{
		"name": {p.cfg.Network: true},
	})
	if err != nil {
		return fmt.Errorf("list networks: %w", err)
	}
	for _, n := range networks {
		if n.Name == p.cfg.Network {
			return nil
		}
	}

	if _, err := p.client.CreateNetwork(docker.CreateNetworkOptions{
		Name:   p.cfg.Network,
		Driver: "bridge",
	}); err != nil {
		return fmt.Errorf("create network %s: %w", p.cfg.Network, err)
	}
	logger.Infof("Created docker network %s", p.cfg.Network)
	return nil
}

func (p *Provider) CreateServer(ctx context.Context, group *models.GroupConfig, server *models.ServerRecord) (*models.ServerRecord, error) {
	if p.closed.Load() {
		return nil, provider.ErrProviderShutdown
	}
	if server == nil || server.ServerID == "" || server.Name == "" {
		return nil, provider.ErrInvalidServer
	}
	if err := p.EnsureResourcesReady(ctx, group); err != nil {
		return nil, err
	}

	started := time.Now()
	log := logger.WithServer(group.Name, server.ServerID)

	created := server.Clone()
	created.WorkingDirectory = workingDirectory(p.cfg.ServersDir, group, created)
	if err := os.MkdirAll(created.WorkingDirectory, 0o755); err != nil {
		return nil, fmt.Errorf("create working directory: %w", err)
	}
	// a dynamic server's directory belongs to this attempt only
	discardDir := func() {
		if !created.IsDynamic() {
			return
		}
		if err := os.RemoveAll(created.WorkingDirectory); err != nil {
			log.Warnf("Failed to remove working directory %s: %v", created.WorkingDirectory, err)
		}
	}

	if err := applyTemplates(p.cfg.TemplatesDir, created.WorkingDirectory, group.Templates, log); err != nil {
		discardDir()
		return nil, err
	}

	opts, err := buildCreateOptions(group, created, created.WorkingDirectory, p.cfg.Network)
	if err != nil {
		discardDir()
		return nil, err
	}
	opts.Context = ctx

	c, err := p.createContainer(ctx, opts)
	if err != nil {
		p.metrics.IncProviderError("create")
		discardDir()
		return nil, fmt.Errorf("create container %s: %w", opts.Name, err)
	}

	p.cmu.Lock()
	p.containers[created.ServerID] = c.ID
	p.cmu.Unlock()

	err = p.breaker.Execute(func() error {
		return p.client.StartContainerWithContext(c.ID, nil, ctx)
	})
	if err != nil && !isAlreadyRunning(err) {
		p.metrics.IncProviderError("start")
		p.forgetContainer(created.ServerID)
		if rmErr := p.client.RemoveContainer(docker.RemoveContainerOptions{ID: c.ID, Force: true}); rmErr != nil {
			log.Warnf("Failed to remove container after start failure: %v", rmErr)
		}
		discardDir()
		return nil, fmt.Errorf("start container %s: %w", opts.Name, err)
	}

	address := "localhost"
	if inspected, err := p.inspect(ctx, c.ID); err == nil {
		address = resolveAddress(inspected)
	} else {
		log.Warnf("Could not inspect container after start: %v", err)
	}

	created.ProviderID = c.ID
	created.Address = address
	created.Port = ServerPort
	created.Info.Status = models.StatusStarting
	if created.Info.MaxPlayers == 0 {
		created.Info.MaxPlayers = group.MaxPlayers()
	}
	created.ClearPlayers()
	created.Heartbeat(time.Now())
	p.store.Put(created)

	p.metrics.SetProvisionLatency(group.Name, time.Since(started))
	log.Infof("Container %s created for %s at %s:%d", shortID(c.ID), created.Name, address, ServerPort)
	return created.Clone(), nil
}

// createContainer creates the container, replacing a stale container of
// the same name once.
func (p *Provider) createContainer(ctx context.Context, opts docker.CreateContainerOptions) (*docker.Container, error) {
	c, err := resilience.Call(p.breaker, func() (*docker.Container, error) {
		return p.client.CreateContainer(opts)
	})
	if !errors.Is(err, docker.ErrContainerAlreadyExists) {
		return c, err
	}

	logger.Warnf("Container name %s already in use, removing stale container", opts.Name)
	if err := p.client.RemoveContainer(docker.RemoveContainerOptions{ID: opts.Name, Force: true, Context: ctx}); err != nil && !isNoSuchContainer(err) {
		return nil, fmt.Errorf("remove stale container: %w", err)
	}
	return resilience.Call(p.breaker, func() (*docker.Container, error) {
		return p.client.CreateContainer(opts)
	})
}

func (p *Provider) StartServer(ctx context.Context, server *models.ServerRecord) error {
	if p.closed.Load() {
		return provider.ErrProviderShutdown
	}
	containerID, ok := p.containerID(server.ServerID)
	if !ok {
		return provider.ErrServerNotFound
	}

	current, exists := p.store.Get(server.ServerID)
	if exists && (current.IsRunning() || current.IsStarting()) {
		return nil
	}
	if _, err := p.store.SetStatus(server.ServerID, models.StatusStarting); err != nil {
		return err
	}

	err := p.breaker.Execute(func() error {
		return p.client.StartContainerWithContext(containerID, nil, ctx)
	})
	if err != nil && !isAlreadyRunning(err) {
		p.metrics.IncProviderError("start")
		p.store.SetStatus(server.ServerID, models.StatusError)
		return fmt.Errorf("start container: %w", err)
	}

	if inspected, err := p.inspect(ctx, containerID); err == nil {
		address := resolveAddress(inspected)
		p.store.Update(server.ServerID, func(s *models.ServerRecord) error {
			s.Address = address
			s.Heartbeat(time.Now())
			return nil
		})
	}
	logger.WithServer(server.Group, server.ServerID).Infof("Server %s started", server.Name)
	return nil
}

func (p *Provider) StopServer(ctx context.Context, server *models.ServerRecord) error {
	containerID, ok := p.containerID(server.ServerID)
	if !ok {
		return provider.ErrServerNotFound
	}

	current, exists := p.store.Get(server.ServerID)
	if exists && current.Status() == models.StatusStopped {
		return nil
	}
	if _, err := p.store.SetStatus(server.ServerID, models.StatusStopping); err != nil {
		return err
	}

	if err := p.stopContainer(ctx, containerID); err != nil {
		p.metrics.IncProviderError("stop")
		p.store.SetStatus(server.ServerID, models.StatusError)
		return err
	}

	if _, err := p.store.SetStatus(server.ServerID, models.StatusStopped); err != nil {
		return err
	}
	logger.WithServer(server.Group, server.ServerID).Infof("Server %s stopped", server.Name)
	return nil
}

// stopContainer stops gracefully and waits until the runtime reports the
// container as not running.
func (p *Provider) stopContainer(ctx context.Context, containerID string) error {
	err := p.breaker.Execute(func() error {
		return p.client.StopContainerWithContext(containerID, uint(p.cfg.StopTimeout.Seconds()), ctx)
	})
	if err != nil && !isNotRunning(err) && !isNoSuchContainer(err) {
		return fmt.Errorf("stop container: %w", err)
	}

	for i := 0; i < p.cfg.RemovePollAttempts; i++ {
		c, err := p.inspect(ctx, containerID)
		if err != nil || !c.State.Running {
			return nil
		}
		if !sleepCtx(ctx, p.cfg.RemovePollInterval) {
			return ctx.Err()
		}
	}
	logger.Warnf("Container %s still running after stop", shortID(containerID))
	return nil
}

func (p *Provider) GetServer(ctx context.Context, serverID string) (*models.ServerRecord, bool) {
	return p.store.Get(serverID)
}

func (p *Provider) GetAllServers(ctx context.Context) []*models.ServerRecord {
	return p.store.All()
}

func (p *Provider) GetServersByGroup(ctx context.Context, group string) []*models.ServerRecord {
	return p.store.ByGroup(group)
}

func (p *Provider) IsServerRunning(ctx context.Context, serverID string) bool {
	containerID, ok := p.containerID(serverID)
	if !ok {
		return false
	}
	c, err := p.inspect(ctx, containerID)
	return err == nil && c.State.Running
}

func (p *Provider) UpdateServerStatus(ctx context.Context, serverID string, server *models.ServerRecord) bool {
	return p.store.Replace(serverID, server)
}

func (p *Provider) inspect(ctx context.Context, containerID string) (*docker.Container, error) {
	return resilience.Call(p.breaker, func() (*docker.Container, error) {
		return p.client.InspectContainerWithOptions(docker.InspectContainerOptions{ID: containerID, Context: ctx})
	})
}

func (p *Provider) containerID(serverID string) (string, bool) {
	p.cmu.RLock()
	defer p.cmu.RUnlock()
	id, ok := p.containers[serverID]
	return id, ok
}

func (p *Provider) forgetContainer(serverID string) {
	p.cmu.Lock()
	defer p.cmu.Unlock()
	delete(p.containers, serverID)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
