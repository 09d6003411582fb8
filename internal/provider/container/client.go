package container

import (
	"context"
	"errors"

	docker "github.com/fsouza/go-dockerclient"
)

// Client is the subset of the Docker Engine API the provider uses.
// *docker.Client satisfies it.
type Client interface {
	Ping() error
	InspectImage(name string) (*docker.Image, error)
	PullImage(opts docker.PullImageOptions, auth docker.AuthConfiguration) error
	CreateContainer(opts docker.CreateContainerOptions) (*docker.Container, error)
	StartContainerWithContext(id string, hostConfig *docker.HostConfig, ctx context.Context) error
	StopContainerWithContext(id string, timeout uint, ctx context.Context) error
	RemoveContainer(opts docker.RemoveContainerOptions) error
	InspectContainerWithOptions(opts docker.InspectContainerOptions) (*docker.Container, error)
	ListContainers(opts docker.ListContainersOptions) ([]docker.APIContainers, error)
	Logs(opts docker.LogsOptions) error
	Stats(opts docker.StatsOptions) error
	FilteredListNetworks(opts docker.NetworkFilterOpts) ([]docker.Network, error)
	CreateNetwork(opts docker.CreateNetworkOptions) (*docker.Network, error)
}

var _ Client = (*docker.Client)(nil)

// NewClient connects to endpoint, or to the environment's DOCKER_HOST when
// endpoint is empty.
func NewClient(endpoint string) (*docker.Client, error) {
	if endpoint == "" {
		return docker.NewClientFromEnv()
	}
	return docker.NewClient(endpoint)
}

func isNoSuchContainer(err error) bool {
	var nsc *docker.NoSuchContainer
	return errors.As(err, &nsc)
}

func isNotRunning(err error) bool {
	var nr *docker.ContainerNotRunning
	return errors.As(err, &nr)
}

func isAlreadyRunning(err error) bool {
	var ar *docker.ContainerAlreadyRunning
	return errors.As(err, &ar)
}

// isBackendFailure filters out the answers that only describe container
// state, so they never trip the circuit breaker.
func isBackendFailure(err error) bool {
	if err == nil {
		return false
	}
	return !isNoSuchContainer(err) && !isNotRunning(err) && !isAlreadyRunning(err) &&
		!errors.Is(err, docker.ErrNoSuchImage) && !errors.Is(err, docker.ErrContainerAlreadyExists) &&
		!errors.Is(err, context.Canceled)
}
