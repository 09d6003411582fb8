package scaler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OldStager01/fleet-autoscaler/internal/metrics"
	"github.com/OldStager01/fleet-autoscaler/pkg/models"
)

func survivalGroup() *models.GroupConfig {
	group := lobbyGroup()
	group.Name = "survival"
	group.DisplayName = "Survival Games"
	group.Priority = 5
	group.Server.MinServers = 0
	return group
}

func newTestRegistry(t *testing.T, groups ...*models.GroupConfig) (*Registry, *fakeProvider) {
	t.Helper()
	p := newFakeProvider()
	clk := newTestClock()
	r := NewRegistry(Config{Metrics: metrics.New(), Now: clk.Now}, p, nil)
	require.NoError(t, r.Load(context.Background(), groups))
	t.Cleanup(func() {
		for _, s := range r.Scalers() {
			s.cancel()
		}
	})
	return r, p
}

func TestRegistry_LoadEnsuresResources(t *testing.T) {
	_, p := newTestRegistry(t, lobbyGroup(), survivalGroup())
	assert.ElementsMatch(t, []string{"lobby", "survival"}, p.ensured)
}

func TestRegistry_LoadFailsWhenResourcesNotReady(t *testing.T) {
	p := newFakeProvider()
	p.ensureErrs["survival"] = errBackend
	r := NewRegistry(Config{Metrics: metrics.New()}, p, nil)

	err := r.Load(context.Background(), []*models.GroupConfig{lobbyGroup(), survivalGroup()})
	require.ErrorIs(t, err, errBackend)
	assert.Empty(t, r.Scalers())
}

func TestRegistry_RejectsDuplicateGroupNames(t *testing.T) {
	duplicate := lobbyGroup()
	duplicate.Name = "LOBBY"
	r := NewRegistry(Config{Metrics: metrics.New()}, newFakeProvider(), nil)

	err := r.Load(context.Background(), []*models.GroupConfig{lobbyGroup(), duplicate})
	assert.ErrorIs(t, err, ErrDuplicateGroup)
}

func TestRegistry_Get(t *testing.T) {
	r, _ := newTestRegistry(t, lobbyGroup(), survivalGroup())

	tests := []struct {
		lookup string
		want   string
		found  bool
	}{
		{"lobby", "lobby", true},
		{"LOBBY", "lobby", true},
		{"survival games", "survival", true},
		{"creative", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.lookup, func(t *testing.T) {
			s, ok := r.Get(tt.lookup)
			require.Equal(t, tt.found, ok)
			if ok {
				assert.Equal(t, tt.want, s.Name())
			}
		})
	}
}

func TestRegistry_ScalersInCheckOrder(t *testing.T) {
	proxy := lobbyGroup()
	proxy.Name = "proxy"
	proxy.Priority = 0
	proxy.Scaling.Type = string(models.ScalerTypeProxy)

	arena := survivalGroup()
	arena.Name = "arena"
	arena.DisplayName = ""

	r, _ := newTestRegistry(t, survivalGroup(), lobbyGroup(), arena, proxy)

	var names []string
	for _, s := range r.Scalers() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"proxy", "lobby", "arena", "survival"}, names)
}

func TestRegistry_RoutesCommandsAndUpdates(t *testing.T) {
	ctx := context.Background()
	r, p := newTestRegistry(t, lobbyGroup(), survivalGroup())

	_, found, err := r.Upscale(ctx, "creative")
	assert.False(t, found)
	assert.NoError(t, err)

	server, found, err := r.Upscale(ctx, "survival")
	require.True(t, found)
	require.NoError(t, err)
	assert.Equal(t, "survival", server.Group)

	p.run(t, server.ServerID, 3)
	tracked, ok := r.Server(server.ServerID)
	require.True(t, ok)
	assert.Equal(t, models.StatusRunning, tracked.Status())
	assert.Equal(t, 3, tracked.Info.OnlinePlayers)

	byName, ok := r.ServerByName(server.Name)
	require.True(t, ok)
	assert.Equal(t, server.ServerID, byName.ServerID)

	servers, ok := r.ServersByGroup("survival")
	require.True(t, ok)
	assert.Len(t, servers, 1)
	_, ok = r.ServersByGroup("creative")
	assert.False(t, ok)

	assert.Len(t, r.AllServers(), 1)

	assert.True(t, r.Pause("lobby"))
	assert.False(t, r.Pause("creative"))
	lobby, _ := r.Get("lobby")
	assert.True(t, lobby.IsPaused())
	assert.True(t, r.Resume("lobby"))
	assert.False(t, lobby.IsPaused())
}

func TestRegistry_UnknownServer(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t, lobbyGroup())

	for name, cmd := range map[string]func(context.Context, string) (bool, error){
		"start":   r.StartServer,
		"stop":    r.StopServer,
		"restart": r.RestartServer,
		"remove":  r.RemoveServer,
	} {
		found, err := cmd(ctx, "missing")
		assert.False(t, found, name)
		assert.NoError(t, err, name)
	}

	_, found, _ := r.ServerLogs(ctx, "missing", 10)
	assert.False(t, found)
	_, found, _ = r.ServerStats(ctx, "missing")
	assert.False(t, found)
	_, found = r.StreamServerLogs(ctx, "missing", func(string) {})
	assert.False(t, found)
	_, found = r.UpdateServerInfo(ctx, "missing", models.ServerInfo{})
	assert.False(t, found)
}

func TestRegistry_ProviderPassthroughs(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t, lobbyGroup())
	server, _, err := r.Upscale(ctx, "lobby")
	require.NoError(t, err)

	logs, found, err := r.ServerLogs(ctx, server.ServerID, 10)
	require.True(t, found)
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	stats, found, err := r.ServerStats(ctx, server.ServerID)
	require.True(t, found)
	require.NoError(t, err)
	assert.Equal(t, 12.5, stats.CPUPercent)

	sub, found := r.StreamServerLogs(ctx, server.ServerID, func(string) {})
	require.True(t, found)
	assert.True(t, r.StopLogStream(sub))
}

func TestRegistry_UpdateServerInfoMirrorsProvider(t *testing.T) {
	ctx := context.Background()
	r, p := newTestRegistry(t, lobbyGroup())
	server, _, err := r.Upscale(ctx, "lobby")
	require.NoError(t, err)

	updated, found := r.UpdateServerInfo(ctx, server.ServerID, models.ServerInfo{
		Status:        models.StatusRunning,
		OnlinePlayers: 5,
	})
	require.True(t, found)
	assert.Equal(t, 5, updated.Info.OnlinePlayers)

	stored, ok := p.store.Get(server.ServerID)
	require.True(t, ok)
	assert.Equal(t, models.StatusRunning, stored.Status())
	assert.Equal(t, 5, stored.Info.OnlinePlayers)
	assert.True(t, stored.ManuallyScaled)
}

func TestRegistry_ReloadKeepsRuntimeState(t *testing.T) {
	ctx := context.Background()
	r, p := newTestRegistry(t, lobbyGroup(), survivalGroup())
	server, _, err := r.Upscale(ctx, "lobby")
	require.NoError(t, err)
	r.Pause("lobby")
	before, _ := r.Get("lobby")

	changed := lobbyGroup()
	changed.Server.MaxServers = 8
	require.NoError(t, r.Reload(ctx, []*models.GroupConfig{changed}))

	after, ok := r.Get("lobby")
	require.True(t, ok)
	assert.NotSame(t, before, after)
	assert.True(t, after.IsPaused())
	assert.Equal(t, 8, after.Group().Server.MaxServers)
	_, tracked := after.Server(server.ServerID)
	assert.True(t, tracked)

	_, ok = r.Get("survival")
	assert.False(t, ok)
	assert.Empty(t, p.deletedIDs())

	p.run(t, server.ServerID, 2)
	running, _ := after.Server(server.ServerID)
	assert.Equal(t, models.StatusRunning, running.Status())
	assert.Equal(t, "shutdown", before.ScaleServers().Reason)
}

func TestRegistry_ReloadWaitsForManualCreate(t *testing.T) {
	ctx := context.Background()
	r, p := newTestRegistry(t, lobbyGroup())
	before, _ := r.Get("lobby")
	existing := len(before.Servers())

	gate := make(chan struct{})
	p.mu.Lock()
	p.createGate = gate
	p.createErr = errors.New("no capacity")
	p.mu.Unlock()

	upscaled := make(chan error, 1)
	go func() {
		_, _, err := r.Upscale(ctx, "lobby")
		upscaled <- err
	}()
	require.Eventually(t, func() bool { return len(before.Servers()) == existing+1 }, time.Second, 5*time.Millisecond)

	reloaded := make(chan error, 1)
	go func() { reloaded <- r.Reload(ctx, []*models.GroupConfig{lobbyGroup()}) }()

	select {
	case <-reloaded:
		t.Fatal("reload finished while a manual create was in flight")
	case <-time.After(30 * time.Millisecond):
	}

	close(gate)
	assert.Error(t, <-upscaled)
	require.NoError(t, <-reloaded)

	after, ok := r.Get("lobby")
	require.True(t, ok)
	assert.NotSame(t, before, after)
	assert.Len(t, after.Servers(), existing)
}

func TestRegistry_RunCronJob(t *testing.T) {
	ctx := context.Background()
	group := lobbyGroup()
	group.CronJobs = []models.CronJob{
		{
			Name:     "nightly-restart",
			Schedule: "0 4 * * *",
			Steps: []models.CronStep{
				{ActionType: "server-control", ServerControl: models.ServerControl{Action: "restart"}},
				{ActionType: "broadcast"},
			},
		},
		{
			Name:     "broken",
			Schedule: "0 5 * * *",
			Steps: []models.CronStep{
				{ActionType: "server-control", ServerControl: models.ServerControl{Action: "explode"}},
			},
		},
	}
	r, p := newTestRegistry(t, group)

	for i := 0; i < 2; i++ {
		server, _, err := r.Upscale(ctx, "lobby")
		require.NoError(t, err)
		p.run(t, server.ServerID, 1)
	}

	found, err := r.RunCronJob(ctx, "lobby", "Nightly-Restart")
	require.True(t, found)
	require.NoError(t, err)
	assert.Len(t, p.stoppedIDs(), 2)
	assert.Len(t, p.startedIDs(), 2)
	for _, server := range r.AllServers() {
		assert.Equal(t, models.StatusRunning, server.Status())
	}

	found, err = r.RunCronJob(ctx, "lobby", "broken")
	require.True(t, found)
	assert.ErrorIs(t, err, ErrUnknownCronAction)

	found, _ = r.RunCronJob(ctx, "lobby", "missing")
	assert.False(t, found)
	found, _ = r.RunCronJob(ctx, "creative", "nightly-restart")
	assert.False(t, found)
}

func TestRegistry_CronJobHonoursContext(t *testing.T) {
	group := lobbyGroup()
	job := models.CronJob{
		Name:  "slow",
		Steps: []models.CronStep{{Delay: 60, ActionType: "server-control", ServerControl: models.ServerControl{Action: "stop"}}},
	}
	group.CronJobs = []models.CronJob{job}
	r, p := newTestRegistry(t, group)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.RunCronJob(ctx, "lobby", "slow")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, p.stoppedIDs())
}

func TestRegistry_Shutdown(t *testing.T) {
	ctx := context.Background()
	r, p := newTestRegistry(t, lobbyGroup(), survivalGroup())
	_, _, err := r.Upscale(ctx, "lobby")
	require.NoError(t, err)
	_, _, err = r.Upscale(ctx, "survival")
	require.NoError(t, err)

	require.NoError(t, r.Shutdown(ctx))
	assert.Len(t, p.deletedIDs(), 2)
	assert.Empty(t, r.AllServers())
	assert.True(t, p.shutdown)
}
