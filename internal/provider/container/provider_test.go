package container

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	docker "github.com/fsouza/go-dockerclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OldStager01/fleet-autoscaler/pkg/models"
)

func newTestProvider(t *testing.T, client *fakeClient) *Provider {
	t.Helper()
	p, err := New(context.Background(), Config{
		ServersDir:         filepath.Join(t.TempDir(), "servers"),
		RemovePollAttempts: 5,
		RemovePollInterval: 5 * time.Millisecond,
		LogWait:            time.Second,
		LogReconnectDelay:  10 * time.Millisecond,
		MonitorInterval:    time.Hour,
		ShutdownGrace:      time.Second,
	}, client)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = p.Shutdown(context.Background())
	})
	return p
}

func lobbyGroup(image string) *models.GroupConfig {
	return &models.GroupConfig{
		Name:   "lobby",
		Server: models.ServerSettings{Type: string(models.ServerTypeDynamic), MaxPlayers: 20},
		Provider: models.ProviderSettings{Docker: models.DockerSettings{
			Image:       image,
			Memory:      "2g",
			CPU:         "1.5",
			Environment: map[string]string{"TYPE": "PAPER", "MOTD": "hi"},
		}},
	}
}

func createLobby(t *testing.T, p *Provider, serverType models.ServerType, name string) *models.ServerRecord {
	t.Helper()
	rec := models.NewServerRecord("lobby", name, serverType, false)
	created, err := p.CreateServer(context.Background(), lobbyGroup("itzg/minecraft-server"), rec)
	require.NoError(t, err)
	return created
}

func TestNew_FailsWhenDaemonUnreachable(t *testing.T) {
	client := newFakeClient()
	client.pingErr = errors.New("connection refused")

	p, err := New(context.Background(), Config{ServersDir: t.TempDir()}, client)
	assert.Nil(t, p)
	assert.ErrorContains(t, err, "docker daemon unreachable")
}

func TestEnsureResourcesReady_RequiresImage(t *testing.T) {
	p := newTestProvider(t, newFakeClient())

	err := p.EnsureResourcesReady(context.Background(), lobbyGroup("  "))
	assert.ErrorIs(t, err, ErrImageRequired)
}

func TestEnsureResourcesReady_SharesConcurrentPulls(t *testing.T) {
	client := newFakeClient()
	client.pullDelay = 50 * time.Millisecond
	p := newTestProvider(t, client)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- p.EnsureResourcesReady(context.Background(), lobbyGroup("itzg/minecraft-server"))
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, client.pullCount("itzg/minecraft-server:latest"))

	require.NoError(t, p.EnsureResourcesReady(context.Background(), lobbyGroup("itzg/minecraft-server:latest")))
	assert.Equal(t, 1, client.pullCount("itzg/minecraft-server:latest"))
}

func TestEnsureResourcesReady_FailedPullReachesEveryWaiter(t *testing.T) {
	client := newFakeClient()
	client.pullDelay = 50 * time.Millisecond
	client.failPulls(errors.New("manifest unknown"))
	p := newTestProvider(t, client)
	group := lobbyGroup("itzg/minecraft-server:java21")

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- p.EnsureResourcesReady(context.Background(), group)
		}()
	}
	wg.Wait()
	close(errs)

	failed := 0
	for err := range errs {
		if assert.ErrorContains(t, err, "manifest unknown") {
			failed++
		}
	}
	assert.Equal(t, 5, failed)
	assert.Equal(t, 1, client.pullCount("itzg/minecraft-server:java21"))

	client.failPulls(nil)
	require.NoError(t, p.EnsureResourcesReady(context.Background(), group))
	assert.Equal(t, 2, client.pullCount("itzg/minecraft-server:java21"))
}

func TestEnsureResourcesReady_DifferentImagesPullIndependently(t *testing.T) {
	client := newFakeClient()
	client.pullDelay = 20 * time.Millisecond
	p := newTestProvider(t, client)

	var wg sync.WaitGroup
	for _, image := range []string{"itzg/minecraft-server:java17", "itzg/bungeecord"} {
		wg.Add(1)
		go func(image string) {
			defer wg.Done()
			assert.NoError(t, p.EnsureResourcesReady(context.Background(), lobbyGroup(image)))
		}(image)
	}
	wg.Wait()

	assert.Equal(t, 1, client.pullCount("itzg/minecraft-server:java17"))
	assert.Equal(t, 1, client.pullCount("itzg/bungeecord:latest"))
}

func TestEnsureResourcesReady_SkipsPresentImage(t *testing.T) {
	client := newFakeClient()
	client.images["nginx:1.25"] = true
	p := newTestProvider(t, client)

	require.NoError(t, p.EnsureResourcesReady(context.Background(), lobbyGroup("nginx:1.25")))
	assert.Zero(t, client.pullCount("nginx:1.25"))
}

func TestCreateServer_RunsLabelledContainer(t *testing.T) {
	client := newFakeClient()
	p := newTestProvider(t, client)

	created := createLobby(t, p, models.ServerTypeDynamic, "lobby-1")

	assert.Equal(t, models.StatusStarting, created.Status())
	assert.Equal(t, "172.18.0.2", created.Address)
	assert.Equal(t, ServerPort, created.Port)
	assert.Equal(t, 20, created.Info.MaxPlayers)
	assert.Contains(t, filepath.Base(created.WorkingDirectory), "lobby-1#")
	assert.DirExists(t, created.WorkingDirectory)

	c, err := client.InspectContainerWithOptions(docker.InspectContainerOptions{ID: created.ProviderID})
	require.NoError(t, err)
	assert.Equal(t, "fleet-lobby-1", c.Name)
	assert.True(t, c.State.Running)
	assert.Equal(t, "true", c.Config.Labels[LabelManaged])
	assert.Equal(t, "true", c.Config.Labels[LabelDynamic])
	assert.Equal(t, created.ServerID, c.Config.Labels[LabelServerID])
	assert.Equal(t, int64(2<<30), c.HostConfig.Memory)
	assert.Equal(t, int64(1536), c.HostConfig.CPUShares)
	assert.Contains(t, c.Config.Env, "SERVER_UUID="+created.ServerID)
	assert.Equal(t, []string{"MOTD=hi", "TYPE=PAPER"}, c.Config.Env[len(c.Config.Env)-2:])

	assert.True(t, p.IsServerRunning(context.Background(), created.ServerID))
	assert.Len(t, p.GetServersByGroup(context.Background(), "lobby"), 1)
}

func TestCreateServer_ReplacesStaleContainer(t *testing.T) {
	client := newFakeClient()
	p := newTestProvider(t, client)
	client.addContainer("fleet-lobby-1", false, nil)

	created := createLobby(t, p, models.ServerTypeStatic, "lobby-1")

	assert.Equal(t, 1, client.count())
	assert.Equal(t, "lobby-1", filepath.Base(created.WorkingDirectory))
}

func TestCreateServer_AppliesTemplates(t *testing.T) {
	p := newTestProvider(t, newFakeClient())
	templates := t.TempDir()
	p.cfg.TemplatesDir = templates

	require.NoError(t, os.MkdirAll(filepath.Join(templates, "lobby", "plugins"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(templates, "lobby", "server.properties"), []byte("motd=lobby"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(templates, "lobby", "plugins", "hub.jar"), []byte("jar"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(templates, "events"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(templates, "events", "server.properties"), []byte("motd=event"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(templates, "ops.json"), []byte("[]"), 0o644))

	group := lobbyGroup("itzg/minecraft-server")
	group.Templates = []string{"lobby", "local://events", "ops.json", "missing"}
	created, err := p.CreateServer(context.Background(), group, models.NewServerRecord("lobby", "lobby-1", models.ServerTypeDynamic, false))
	require.NoError(t, err)

	dir := created.WorkingDirectory
	props, err := os.ReadFile(filepath.Join(dir, "server.properties"))
	require.NoError(t, err)
	assert.Equal(t, "motd=event", string(props))
	assert.FileExists(t, filepath.Join(dir, "plugins", "hub.jar"))
	assert.FileExists(t, filepath.Join(dir, "ops.json"))
}

func TestCreateServer_RejectsTemplateOutsideDir(t *testing.T) {
	p := newTestProvider(t, newFakeClient())
	p.cfg.TemplatesDir = t.TempDir()

	group := lobbyGroup("itzg/minecraft-server")
	group.Templates = []string{"../../etc"}
	_, err := p.CreateServer(context.Background(), group, models.NewServerRecord("lobby", "lobby-1", models.ServerTypeDynamic, false))

	assert.ErrorIs(t, err, ErrTemplateOutsideDir)
	assert.Empty(t, p.GetAllServers(context.Background()))
}

func TestCreateServer_FailureCleansDynamicDirectory(t *testing.T) {
	tests := []struct {
		name       string
		serverType models.ServerType
		fail       func(*fakeClient)
		keepsDir   bool
	}{
		{"create fails for dynamic", models.ServerTypeDynamic, func(c *fakeClient) { c.createErr = errors.New("no space left") }, false},
		{"start fails for dynamic", models.ServerTypeDynamic, func(c *fakeClient) { c.startErr = errors.New("port in use") }, false},
		{"start fails for static", models.ServerTypeStatic, func(c *fakeClient) { c.startErr = errors.New("port in use") }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFakeClient()
			p := newTestProvider(t, client)
			tt.fail(client)

			_, err := p.CreateServer(context.Background(), lobbyGroup("itzg/minecraft-server"), models.NewServerRecord("lobby", "lobby-1", tt.serverType, false))
			require.Error(t, err)
			assert.Zero(t, client.count())

			entries, err := os.ReadDir(filepath.Join(p.cfg.ServersDir, "lobby"))
			require.NoError(t, err)
			if tt.keepsDir {
				assert.Len(t, entries, 1)
			} else {
				assert.Empty(t, entries)
			}
		})
	}
}

func TestStopAndStartServer(t *testing.T) {
	p := newTestProvider(t, newFakeClient())
	created := createLobby(t, p, models.ServerTypeStatic, "survival-1")
	ctx := context.Background()

	require.NoError(t, p.StopServer(ctx, created))
	got, ok := p.GetServer(ctx, created.ServerID)
	require.True(t, ok)
	assert.Equal(t, models.StatusStopped, got.Status())
	assert.False(t, p.IsServerRunning(ctx, created.ServerID))

	require.NoError(t, p.StartServer(ctx, created))
	got, _ = p.GetServer(ctx, created.ServerID)
	assert.Equal(t, models.StatusStarting, got.Status())
	assert.True(t, p.IsServerRunning(ctx, created.ServerID))
}

func TestDeleteServer_RemovesContainerAndDynamicDirectory(t *testing.T) {
	client := newFakeClient()
	p := newTestProvider(t, client)
	created := createLobby(t, p, models.ServerTypeDynamic, "lobby-1")
	ctx := context.Background()

	ok, err := p.DeleteServer(ctx, created.ServerID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, exists := p.GetServer(ctx, created.ServerID)
	assert.False(t, exists)
	assert.Zero(t, client.count())
	assert.NoDirExists(t, created.WorkingDirectory)
}

func TestDeleteServer_KeepsStaticDirectory(t *testing.T) {
	p := newTestProvider(t, newFakeClient())
	created := createLobby(t, p, models.ServerTypeStatic, "hub")

	ok, err := p.DeleteServer(context.Background(), created.ServerID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.DirExists(t, created.WorkingDirectory)
}

func TestDeleteServer_UnknownID(t *testing.T) {
	p := newTestProvider(t, newFakeClient())

	ok, err := p.DeleteServer(context.Background(), "nope")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestNew_ReconcilesLeftovers(t *testing.T) {
	client := newFakeClient()
	serversDir := filepath.Join(t.TempDir(), "servers")
	orphan := filepath.Join(serversDir, "lobby", "lobby-3#abcd1234")
	static := filepath.Join(serversDir, "lobby", "hub")
	require.NoError(t, os.MkdirAll(orphan, 0o755))
	require.NoError(t, os.MkdirAll(static, 0o755))

	client.addContainer("fleet-lobby-3", true,
		map[string]string{LabelManaged: "true", LabelDynamic: "true"},
		docker.Mount{Source: orphan, Destination: "/data"},
	)
	client.addContainer("unrelated", true, map[string]string{"app": "db"})

	p, err := New(context.Background(), Config{ServersDir: serversDir, MonitorInterval: time.Hour}, client)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	assert.Equal(t, 1, client.count())
	assert.NoDirExists(t, orphan)
	assert.DirExists(t, static)
}

func TestGetServerLogs(t *testing.T) {
	client := newFakeClient()
	client.logs = "one\ntwo\n\nthree\n"
	p := newTestProvider(t, client)
	created := createLobby(t, p, models.ServerTypeDynamic, "lobby-1")
	ctx := context.Background()

	lines, err := p.GetServerLogs(ctx, created.ServerID, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, lines)

	lines, err = p.GetServerLogs(ctx, created.ServerID, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"three"}, lines)

	lines, err = p.GetServerLogs(ctx, "unknown", 10)
	assert.NoError(t, err)
	assert.Empty(t, lines)
}

func TestStreamServerLogs_DeliversUntilStopped(t *testing.T) {
	client := newFakeClient()
	client.followLogs = []string{"Done (3.2s)!", "Player joined"}
	p := newTestProvider(t, client)
	created := createLobby(t, p, models.ServerTypeDynamic, "lobby-1")

	var mu sync.Mutex
	var got []string
	subID, ok := p.StreamServerLogs(context.Background(), created.ServerID, func(line string) {
		mu.Lock()
		got = append(got, line)
		mu.Unlock()
	})
	require.True(t, ok)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 10*time.Millisecond)

	assert.True(t, p.StopLogStream(subID))
	assert.False(t, p.StopLogStream(subID))

	_, ok = p.StreamServerLogs(context.Background(), "unknown", func(string) {})
	assert.False(t, ok)
}

// lineRecorder collects the lines one log subscriber receives.
type lineRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *lineRecorder) add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
}

func (r *lineRecorder) has(line string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Contains(r.lines, line)
}

func TestStreamServerLogs_ReopensAfterContainerRestart(t *testing.T) {
	client := newFakeClient()
	client.followEnds = true
	client.setFollowLogs("first")
	p := newTestProvider(t, client)
	created := createLobby(t, p, models.ServerTypeDynamic, "lobby-1")
	ctx := context.Background()

	a := &lineRecorder{}
	subA, ok := p.StreamServerLogs(ctx, created.ServerID, a.add)
	require.True(t, ok)
	assert.Eventually(t, func() bool { return a.has("first") }, time.Second, 5*time.Millisecond)

	client.setFollowLogs("after-restart")
	b := &lineRecorder{}
	_, ok = p.StreamServerLogs(ctx, created.ServerID, b.add)
	require.True(t, ok)

	assert.Eventually(t, func() bool { return b.has("after-restart") }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return a.has("after-restart") }, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, client.followCount(), 2)

	// once the server is no longer tracked the stream is dropped
	p.forgetContainer(created.ServerID)
	assert.Eventually(t, func() bool {
		p.smu.Lock()
		defer p.smu.Unlock()
		_, open := p.streams[created.ServerID]
		return !open
	}, time.Second, 5*time.Millisecond)
	assert.False(t, p.StopLogStream(subA))
}

func TestStreamServerLogs_RefusedOnceShutdownBegins(t *testing.T) {
	client := newFakeClient()
	p := newTestProvider(t, client)
	created := createLobby(t, p, models.ServerTypeDynamic, "lobby-1")

	// hold the stream lock so the subscribe passes its first check and waits
	p.smu.Lock()
	result := make(chan bool, 1)
	go func() {
		_, ok := p.StreamServerLogs(context.Background(), created.ServerID, func(string) {})
		result <- ok
	}()
	time.Sleep(20 * time.Millisecond)
	p.closed.Store(true)
	p.smu.Unlock()

	assert.False(t, <-result)
	p.smu.Lock()
	assert.Empty(t, p.streams)
	p.smu.Unlock()
	assert.Zero(t, client.followCount())

	p.closed.Store(false)
}

func TestCheckContainers(t *testing.T) {
	client := newFakeClient()
	p := newTestProvider(t, client)
	created := createLobby(t, p, models.ServerTypeDynamic, "lobby-1")
	ctx := context.Background()

	p.checkContainers(ctx)
	got, _ := p.GetServer(ctx, created.ServerID)
	assert.Equal(t, models.StatusRunning, got.Status())

	client.exit(created.ProviderID, 137)
	p.checkContainers(ctx)
	got, _ = p.GetServer(ctx, created.ServerID)
	assert.Equal(t, models.StatusError, got.Status())
}

func TestGetServerStats(t *testing.T) {
	client := newFakeClient()
	sample := &docker.Stats{}
	sample.CPUStats.CPUUsage.TotalUsage = 200
	sample.PreCPUStats.CPUUsage.TotalUsage = 100
	sample.CPUStats.SystemCPUUsage = 2000
	sample.PreCPUStats.SystemCPUUsage = 1000
	sample.CPUStats.OnlineCPUs = 2
	sample.MemoryStats.Usage = 512
	sample.MemoryStats.Limit = 2048
	sample.Networks = map[string]docker.NetworkStats{
		"eth0": {RxBytes: 10, TxBytes: 20},
		"eth1": {RxBytes: 5, TxBytes: 5},
	}
	client.stats = sample
	p := newTestProvider(t, client)
	created := createLobby(t, p, models.ServerTypeDynamic, "lobby-1")
	require.NoError(t, os.WriteFile(filepath.Join(created.WorkingDirectory, "server.properties"), []byte("motd=hi"), 0o644))

	stats, ok, err := p.GetServerStats(context.Background(), created.ServerID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 20.0, stats.CPUPercent, 0.001)
	assert.Equal(t, uint64(512), stats.MemoryUsed)
	assert.Equal(t, 25.0, stats.MemoryPercent())
	assert.Equal(t, uint64(15), stats.NetworkRx)
	assert.Equal(t, uint64(25), stats.NetworkTx)
	assert.Equal(t, uint64(7), stats.DiskUsed)

	_, ok, err = p.GetServerStats(context.Background(), "unknown")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestShutdown_RemovesManagedContainers(t *testing.T) {
	client := newFakeClient()
	p := newTestProvider(t, client)
	createLobby(t, p, models.ServerTypeDynamic, "lobby-1")
	createLobby(t, p, models.ServerTypeDynamic, "lobby-2")

	require.NoError(t, p.Shutdown(context.Background()))
	assert.Zero(t, client.count())
	assert.Empty(t, p.GetAllServers(context.Background()))

	_, err := p.CreateServer(context.Background(), lobbyGroup("itzg/minecraft-server"), models.NewServerRecord("lobby", "lobby-3", models.ServerTypeDynamic, false))
	assert.Error(t, err)
}
