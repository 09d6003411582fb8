package container

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	docker "github.com/fsouza/go-dockerclient"
)

// fakeClient is an in-memory Docker daemon.
type fakeClient struct {
	mu sync.Mutex

	pingErr    error
	images     map[string]bool
	pulls      map[string]int
	pullDelay  time.Duration
	pullErr    error
	containers map[string]*docker.Container
	nextID     int
	createErr  error
	startErr   error

	logs       string
	followLogs []string
	followEnds bool // follow requests return once their lines are written
	follows    int
	stats      *docker.Stats
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		images:     make(map[string]bool),
		pulls:      make(map[string]int),
		containers: make(map[string]*docker.Container),
	}
}

func (f *fakeClient) Ping() error {
	return f.pingErr
}

func (f *fakeClient) InspectImage(name string) (*docker.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.images[name] {
		return &docker.Image{ID: name}, nil
	}
	return nil, docker.ErrNoSuchImage
}

func (f *fakeClient) PullImage(opts docker.PullImageOptions, _ docker.AuthConfiguration) error {
	ref := opts.Repository
	if opts.Tag != "" {
		ref += ":" + opts.Tag
	}
	f.mu.Lock()
	f.pulls[ref]++
	f.mu.Unlock()

	time.Sleep(f.pullDelay)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pullErr != nil {
		return f.pullErr
	}
	f.images[ref] = true
	return nil
}

func (f *fakeClient) failPulls(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pullErr = err
}

func (f *fakeClient) pullCount(ref string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pulls[ref]
}

func (f *fakeClient) lookup(idOrName string) (*docker.Container, bool) {
	if c, ok := f.containers[idOrName]; ok {
		return c, true
	}
	for _, c := range f.containers {
		if c.Name == idOrName {
			return c, true
		}
	}
	return nil, false
}

// addContainer registers a container as if an earlier run had created it.
func (f *fakeClient) addContainer(name string, running bool, labels map[string]string, mounts ...docker.Mount) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("%064d", f.nextID)
	f.containers[id] = &docker.Container{
		ID:     id,
		Name:   name,
		Config: &docker.Config{Labels: labels},
		State:  docker.State{Running: running},
		Mounts: mounts,
	}
	return id
}

func (f *fakeClient) CreateContainer(opts docker.CreateContainerOptions) (*docker.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	if _, exists := f.lookup(opts.Name); exists {
		return nil, docker.ErrContainerAlreadyExists
	}
	f.nextID++
	c := &docker.Container{
		ID:         fmt.Sprintf("%064d", f.nextID),
		Name:       opts.Name,
		Config:     opts.Config,
		HostConfig: opts.HostConfig,
		NetworkSettings: &docker.NetworkSettings{
			Networks: map[string]docker.ContainerNetwork{"fleet": {IPAddress: "172.18.0.2"}},
		},
	}
	f.containers[c.ID] = c
	return c, nil
}

func (f *fakeClient) StartContainerWithContext(id string, _ *docker.HostConfig, _ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.lookup(id)
	if !ok {
		return &docker.NoSuchContainer{ID: id}
	}
	if f.startErr != nil {
		return f.startErr
	}
	if c.State.Running {
		return &docker.ContainerAlreadyRunning{ID: id}
	}
	c.State.Running = true
	return nil
}

func (f *fakeClient) StopContainerWithContext(id string, _ uint, _ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.lookup(id)
	if !ok {
		return &docker.NoSuchContainer{ID: id}
	}
	if !c.State.Running {
		return &docker.ContainerNotRunning{ID: id}
	}
	c.State.Running = false
	return nil
}

// exit simulates a container that died on its own.
func (f *fakeClient) exit(id string, code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.lookup(id); ok {
		c.State.Running = false
		c.State.ExitCode = code
	}
}

func (f *fakeClient) RemoveContainer(opts docker.RemoveContainerOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.lookup(opts.ID)
	if !ok {
		return &docker.NoSuchContainer{ID: opts.ID}
	}
	if c.State.Running && !opts.Force {
		return fmt.Errorf("container %s is running", opts.ID)
	}
	delete(f.containers, c.ID)
	return nil
}

func (f *fakeClient) InspectContainerWithOptions(opts docker.InspectContainerOptions) (*docker.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.lookup(opts.ID)
	if !ok {
		return nil, &docker.NoSuchContainer{ID: opts.ID}
	}
	cp := *c
	return &cp, nil
}

func (f *fakeClient) ListContainers(opts docker.ListContainersOptions) ([]docker.APIContainers, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	want := ""
	if labels := opts.Filters["label"]; len(labels) > 0 {
		want = labels[0]
	}
	out := make([]docker.APIContainers, 0, len(f.containers))
	for _, c := range f.containers {
		var labels map[string]string
		if c.Config != nil {
			labels = c.Config.Labels
		}
		if want != "" {
			k, v, _ := strings.Cut(want, "=")
			if labels[k] != v {
				continue
			}
		}
		state := "exited"
		if c.State.Running {
			state = "running"
		}
		if !c.State.Running && !opts.All {
			continue
		}
		out = append(out, docker.APIContainers{ID: c.ID, Names: []string{"/" + c.Name}, State: state, Labels: labels})
	}
	return out, nil
}

func (f *fakeClient) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.containers)
}

func (f *fakeClient) Logs(opts docker.LogsOptions) error {
	f.mu.Lock()
	_, ok := f.lookup(opts.Container)
	logs, follow, ends := f.logs, f.followLogs, f.followEnds
	if opts.Follow && ok {
		f.follows++
	}
	f.mu.Unlock()
	if !ok {
		return &docker.NoSuchContainer{ID: opts.Container}
	}

	if !opts.Follow {
		lines := strings.Split(strings.TrimRight(logs, "\n"), "\n")
		if opts.Tail != "all" && opts.Tail != "" {
			var n int
			fmt.Sscanf(opts.Tail, "%d", &n)
			if n < len(lines) {
				lines = lines[len(lines)-n:]
			}
		}
		_, err := io.WriteString(opts.OutputStream, strings.Join(lines, "\n")+"\n")
		return err
	}

	for _, line := range follow {
		if _, err := io.WriteString(opts.OutputStream, line+"\n"); err != nil {
			return err
		}
	}
	if ends {
		return nil
	}
	<-opts.Context.Done()
	return opts.Context.Err()
}

func (f *fakeClient) setFollowLogs(lines ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.followLogs = lines
}

func (f *fakeClient) followCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.follows
}

func (f *fakeClient) Stats(opts docker.StatsOptions) error {
	defer close(opts.Stats)
	f.mu.Lock()
	_, ok := f.lookup(opts.ID)
	sample := f.stats
	f.mu.Unlock()
	if !ok {
		return &docker.NoSuchContainer{ID: opts.ID}
	}
	if sample != nil {
		opts.Stats <- sample
	}
	return nil
}

func (f *fakeClient) FilteredListNetworks(docker.NetworkFilterOpts) ([]docker.Network, error) {
	return nil, nil
}

func (f *fakeClient) CreateNetwork(opts docker.CreateNetworkOptions) (*docker.Network, error) {
	return &docker.Network{Name: opts.Name}, nil
}
