// Package simulation implements an in-process service provider whose
// servers boot, stop, heartbeat and gain players on timers.
package simulation

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OldStager01/fleet-autoscaler/internal/logger"
	"github.com/OldStager01/fleet-autoscaler/internal/provider"
	"github.com/OldStager01/fleet-autoscaler/pkg/models"
)

const basePort = 25565

type Config struct {
	StartupDelay         time.Duration
	StopDelay            time.Duration
	HeartbeatInterval    time.Duration
	PlayerActivityChance float64
	LogActivityChance    float64
	MaxLogLines          int
	Pattern              string
	ServersDir           string
	Seed                 int64
}

type Provider struct {
	cfg     Config
	store   *provider.Store
	pattern Pattern

	logs    map[string][]string
	subs    map[string]map[string]*provider.Subscription // serverID -> subID -> subscription
	subsIdx map[string]string                            // subID -> serverID
	logMu   sync.Mutex

	rng   *rand.Rand
	rngMu sync.Mutex

	nextID   atomic.Int64
	nextPort atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

func New(cfg Config) *Provider {
	if cfg.StartupDelay == 0 {
		cfg.StartupDelay = 2 * time.Second
	}
	if cfg.StopDelay == 0 {
		cfg.StopDelay = time.Second
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	if cfg.MaxLogLines == 0 {
		cfg.MaxLogLines = 1000
	}
	if cfg.ServersDir == "" {
		cfg.ServersDir = "servers"
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Provider{
		cfg:     cfg,
		store:   provider.NewStore(),
		pattern: ParsePattern(cfg.Pattern),
		logs:    make(map[string][]string),
		subs:    make(map[string]map[string]*provider.Subscription),
		subsIdx: make(map[string]string),
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		ctx:     ctx,
		cancel:  cancel,
	}
	p.nextPort.Store(basePort - 1)

	p.wg.Add(1)
	go p.heartbeatLoop()

	logger.WithField("pattern", p.pattern.Name()).Info("Simulation service provider started")
	return p
}

func (p *Provider) Name() string {
	return "simulation"
}

func (p *Provider) Watch(fn provider.UpdateFunc) {
	p.store.Watch(fn)
}

func (p *Provider) EnsureResourcesReady(ctx context.Context, group *models.GroupConfig) error {
	if group == nil {
		return fmt.Errorf("%w: missing group", provider.ErrResourcesNotReady)
	}
	return nil
}

func (p *Provider) CreateServer(ctx context.Context, group *models.GroupConfig, server *models.ServerRecord) (*models.ServerRecord, error) {
	if p.closed.Load() {
		return nil, provider.ErrProviderShutdown
	}
	if server == nil || server.ServerID == "" {
		return nil, provider.ErrInvalidServer
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	created := server.Clone()
	created.ProviderID = fmt.Sprintf("sim-server-%d", p.nextID.Add(1))
	created.Address = "127.0.0.1"
	created.Port = int(p.nextPort.Add(1))
	if created.WorkingDirectory == "" {
		created.WorkingDirectory = filepath.Join(p.cfg.ServersDir, group.Name, created.Name)
	}
	if created.Info.MaxPlayers == 0 {
		created.Info.MaxPlayers = group.MaxPlayers()
	}
	created.Info.Status = models.StatusStarting
	created.ClearPlayers()
	created.Heartbeat(time.Now())

	p.store.Put(created)
	p.addLog(created.ServerID, "Server created: "+created.Name)
	p.addLog(created.ServerID, "Working directory: "+created.WorkingDirectory)
	p.addLog(created.ServerID, "Service provider instance: "+created.ProviderID)

	p.boot(created.ServerID)

	logger.WithServer(created.Group, created.ServerID).Infof(
		"Simulated server %s created on port %d", created.Name, created.Port,
	)
	return created.Clone(), nil
}

// boot flips a STARTING server to RUNNING after the startup delay.
func (p *Provider) boot(serverID string) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if !p.sleep(p.cfg.StartupDelay) {
			return
		}

		server, err := p.store.Update(serverID, func(s *models.ServerRecord) error {
			if s.Status() != models.StatusStarting {
				return nil
			}
			s.Heartbeat(time.Now())
			return s.SetStatus(models.StatusRunning)
		})
		if err != nil {
			return
		}
		if server.IsRunning() {
			p.addLog(serverID, fmt.Sprintf("Server started successfully - max players: %d", server.Info.MaxPlayers))
			p.addLog(serverID, fmt.Sprintf("Listening on %s:%d", server.Address, server.Port))
			logger.WithServer(server.Group, serverID).Infof(
				"Server %s is now running with capacity for %d players", server.Name, server.Info.MaxPlayers,
			)
		}
	}()
}

func (p *Provider) StartServer(ctx context.Context, server *models.ServerRecord) error {
	if p.closed.Load() {
		return provider.ErrProviderShutdown
	}

	current, exists := p.store.Get(server.ServerID)
	if !exists {
		return provider.ErrServerNotFound
	}
	switch current.Status() {
	case models.StatusRunning, models.StatusStarting:
		return nil
	case models.StatusStopping:
		return fmt.Errorf("server %s is stopping", current.Name)
	}

	if _, err := p.store.SetStatus(server.ServerID, models.StatusStarting); err != nil {
		return err
	}
	p.addLog(server.ServerID, "Starting server...")
	p.boot(server.ServerID)
	return nil
}

func (p *Provider) StopServer(ctx context.Context, server *models.ServerRecord) error {
	current, exists := p.store.Get(server.ServerID)
	if !exists {
		return provider.ErrServerNotFound
	}
	if current.Status() == models.StatusStopped {
		return nil
	}

	if _, err := p.store.SetStatus(server.ServerID, models.StatusStopping); err != nil {
		return err
	}
	p.addLog(server.ServerID, "Stopping server...")

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.cfg.StopDelay):
	}

	if _, err := p.store.SetStatus(server.ServerID, models.StatusStopped); err != nil {
		return err
	}
	p.addLog(server.ServerID, "Server stopped")
	return nil
}

func (p *Provider) DeleteServer(ctx context.Context, serverID string) (bool, error) {
	server, exists := p.store.Remove(serverID)
	if !exists {
		return false, nil
	}

	p.logMu.Lock()
	delete(p.logs, serverID)
	for subID, sub := range p.subs[serverID] {
		sub.Close()
		delete(p.subsIdx, subID)
	}
	delete(p.subs, serverID)
	p.logMu.Unlock()

	logger.WithServer(server.Group, serverID).Infof("Simulated server %s deleted", server.Name)
	return true, nil
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
	server, exists := p.store.Get(serverID)
	return exists && server.IsRunning()
}

func (p *Provider) UpdateServerStatus(ctx context.Context, serverID string, server *models.ServerRecord) bool {
	return p.store.Replace(serverID, server)
}

func (p *Provider) GetServerStats(ctx context.Context, serverID string) (*models.ServerStats, bool, error) {
	server, exists := p.store.Get(serverID)
	if !exists {
		return nil, false, nil
	}

	load := 0.0
	if server.Info.MaxPlayers > 0 {
		load = float64(server.Info.OnlinePlayers) / float64(server.Info.MaxPlayers)
	}
	uptime := uint64(time.Since(server.CreatedAt).Seconds())
	players := uint64(server.Info.OnlinePlayers)

	stats := &models.ServerStats{
		ServerID:    serverID,
		MemoryTotal: 4 << 30,
		DiskTotal:   10 << 30,
		DiskUsed:    1 << 30,
		Timestamp:   time.Now(),
	}
	if server.IsRunning() {
		stats.CPUPercent = 5 + load*80
		stats.MemoryUsed = 512<<20 + players*(32<<20)
		stats.NetworkRx = uptime * (1024 + players*4096)
		stats.NetworkTx = uptime * (2048 + players*8192)
	}
	return stats, true, nil
}

func (p *Provider) Shutdown(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.store.Clear()
	p.logMu.Lock()
	p.logs = make(map[string][]string)
	p.subs = make(map[string]map[string]*provider.Subscription)
	p.subsIdx = make(map[string]string)
	p.logMu.Unlock()

	logger.Info("Simulation service provider shut down")
	return nil
}

// sleep waits d and reports false if the provider shut down meanwhile.
func (p *Provider) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-p.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (p *Provider) chance(probability float64) bool {
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return p.rng.Float64() < probability
}

func (p *Provider) intn(n int) int {
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return p.rng.Intn(n)
}
