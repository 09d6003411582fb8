package scaler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/OldStager01/fleet-autoscaler/internal/metrics"
	"github.com/OldStager01/fleet-autoscaler/internal/provider"
	"github.com/OldStager01/fleet-autoscaler/pkg/models"
)

// fakeProvider keeps servers in a provider.Store and records every call.
// Created servers stay STARTING until a test moves them on.
type fakeProvider struct {
	store *provider.Store

	mu         sync.Mutex
	createErr  error
	createGate chan struct{} // when set, creates wait for it to close
	deleteErr  error
	ensureErrs map[string]error
	ensured    []string
	created    []string
	deleted    []string
	started    []string
	stopped    []string
	nextID     int
	shutdown   bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		store:      provider.NewStore(),
		ensureErrs: make(map[string]error),
	}
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Watch(fn provider.UpdateFunc) { p.store.Watch(fn) }

func (p *fakeProvider) EnsureResourcesReady(ctx context.Context, group *models.GroupConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensured = append(p.ensured, group.Name)
	return p.ensureErrs[group.Name]
}

func (p *fakeProvider) CreateServer(ctx context.Context, group *models.GroupConfig, server *models.ServerRecord) (*models.ServerRecord, error) {
	p.mu.Lock()
	gate := p.createGate
	p.mu.Unlock()
	if gate != nil {
		<-gate
	}

	p.mu.Lock()
	if p.createErr != nil {
		err := p.createErr
		p.mu.Unlock()
		return nil, err
	}
	p.nextID++
	id := p.nextID
	p.created = append(p.created, server.Name)
	p.mu.Unlock()

	created := server.Clone()
	created.ProviderID = fmt.Sprintf("fake-%d", id)
	created.Address = "127.0.0.1"
	created.Port = 25565 + id
	created.Info.Status = models.StatusStarting
	p.store.Put(created)
	return created.Clone(), nil
}

func (p *fakeProvider) StartServer(ctx context.Context, server *models.ServerRecord) error {
	p.mu.Lock()
	p.started = append(p.started, server.ServerID)
	p.mu.Unlock()

	current, ok := p.store.Get(server.ServerID)
	if !ok {
		return provider.ErrServerNotFound
	}
	if current.IsRunning() {
		return nil
	}
	if _, err := p.store.SetStatus(server.ServerID, models.StatusStarting); err != nil {
		return err
	}
	_, err := p.store.SetStatus(server.ServerID, models.StatusRunning)
	return err
}

func (p *fakeProvider) StopServer(ctx context.Context, server *models.ServerRecord) error {
	p.mu.Lock()
	p.stopped = append(p.stopped, server.ServerID)
	p.mu.Unlock()

	if _, err := p.store.SetStatus(server.ServerID, models.StatusStopping); err != nil {
		return err
	}
	_, err := p.store.SetStatus(server.ServerID, models.StatusStopped)
	return err
}

func (p *fakeProvider) DeleteServer(ctx context.Context, serverID string) (bool, error) {
	p.mu.Lock()
	if p.deleteErr != nil {
		err := p.deleteErr
		p.mu.Unlock()
		return false, err
	}
	p.deleted = append(p.deleted, serverID)
	p.mu.Unlock()

	_, ok := p.store.Remove(serverID)
	return ok, nil
}

func (p *fakeProvider) GetServer(ctx context.Context, serverID string) (*models.ServerRecord, bool) {
	return p.store.Get(serverID)
}

func (p *fakeProvider) GetAllServers(ctx context.Context) []*models.ServerRecord {
	return p.store.All()
}

func (p *fakeProvider) GetServersByGroup(ctx context.Context, group string) []*models.ServerRecord {
	return p.store.ByGroup(group)
}

func (p *fakeProvider) IsServerRunning(ctx context.Context, serverID string) bool {
	server, ok := p.store.Get(serverID)
	return ok && server.IsRunning()
}

func (p *fakeProvider) UpdateServerStatus(ctx context.Context, serverID string, server *models.ServerRecord) bool {
	return p.store.Replace(serverID, server)
}

func (p *fakeProvider) GetServerLogs(ctx context.Context, serverID string, lines int) ([]string, error) {
	return []string{"[00:00:00] Server created"}, nil
}

func (p *fakeProvider) StreamServerLogs(ctx context.Context, serverID string, handler provider.LogHandler) (string, bool) {
	if _, ok := p.store.Get(serverID); !ok {
		return "", false
	}
	return "sub-" + serverID, true
}

func (p *fakeProvider) StopLogStream(subscriptionID string) bool {
	return subscriptionID != ""
}

func (p *fakeProvider) GetServerStats(ctx context.Context, serverID string) (*models.ServerStats, bool, error) {
	if _, ok := p.store.Get(serverID); !ok {
		return nil, false, nil
	}
	return &models.ServerStats{ServerID: serverID, CPUPercent: 12.5}, true, nil
}

func (p *fakeProvider) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shutdown = true
	return nil
}

func (p *fakeProvider) setCreateErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.createErr = err
}

func (p *fakeProvider) createCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.created)
}

func (p *fakeProvider) deletedIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.deleted...)
}

func (p *fakeProvider) stoppedIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.stopped...)
}

func (p *fakeProvider) startedIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.started...)
}

// run moves a stored server to RUNNING with the given load.
func (p *fakeProvider) run(t *testing.T, serverID string, players int) {
	t.Helper()
	_, err := p.store.Update(serverID, func(s *models.ServerRecord) error {
		if err := s.SetStatus(models.StatusRunning); err != nil {
			return err
		}
		s.SetPlayers(players, nil)
		return nil
	})
	require.NoError(t, err)
}

var errBackend = errors.New("backend unavailable")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func lobbyGroup() *models.GroupConfig {
	return &models.GroupConfig{
		Name:        "lobby",
		DisplayName: "Lobby",
		Priority:    10,
		Server: models.ServerSettings{
			Type:       string(models.ServerTypeDynamic),
			MinServers: 1,
			MaxServers: 5,
			MaxPlayers: 10,
		},
		Scaling: models.ScalingSettings{
			CooldownSeconds: 60,
			Conditions: models.Conditions{
				ScaleUpThreshold:   0.8,
				ScaleDownThreshold: 0.2,
			},
		},
	}
}

type fixture struct {
	scaler   *Scaler
	provider *fakeProvider
	clock    *testClock
}

func newFixture(t *testing.T, group *models.GroupConfig, cfg Config) *fixture {
	t.Helper()
	p := newFakeProvider()
	clk := newTestClock()
	cfg.Now = clk.Now
	cfg.Metrics = metrics.New()

	s := New(group, cfg, p, nil)
	p.Watch(s.applyUpdate)
	t.Cleanup(func() { s.cancel() })
	return &fixture{scaler: s, provider: p, clock: clk}
}

// seed tracks a RUNNING server with the given load, as if it had been
// created earlier and reported in since.
func (f *fixture) seed(t *testing.T, name string, manual bool, players, maxPlayers int) *models.ServerRecord {
	t.Helper()
	record := models.NewServerRecord(f.scaler.Name(), name, f.scaler.Group().ServerType(), manual)
	record.Info.MaxPlayers = maxPlayers
	require.NoError(t, record.SetStatus(models.StatusRunning))
	record.SetPlayers(players, nil)
	record.Heartbeat(f.clock.Now())

	f.scaler.AddServer(record)
	f.provider.store.Put(record)
	return record
}

func (f *fixture) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.scaler.Wait(ctx))
}
