package container

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	docker "github.com/fsouza/go-dockerclient"

	"github.com/OldStager01/fleet-autoscaler/internal/logger"
	"github.com/OldStager01/fleet-autoscaler/pkg/models"
)

const (
	ServerPort       = 25565
	defaultMountPath = "/data"

	LabelManaged    = "fleet.managed"
	LabelServerID   = "fleet.server-id"
	LabelGroup      = "fleet.group"
	LabelServerName = "fleet.server-name"
	LabelServerType = "fleet.server-type"
	LabelDynamic    = "fleet.dynamic"

	containerPrefix = "fleet-"
)

// ContainerName is the runtime name of a server's container.
func ContainerName(serverName string) string {
	return containerPrefix + serverName
}

func buildEnv(group *models.GroupConfig, server *models.ServerRecord) []string {
	env := []string{
		"EULA=TRUE",
		"SERVER_NAME=" + server.Name,
		"SERVER_GROUP=" + group.Name,
		"SERVER_UUID=" + server.ServerID,
		"FLEET_MANAGED=true",
		"SERVER_TYPE=" + string(server.Type),
		"UID=0",
		"GID=0",
	}

	keys := make([]string, 0, len(group.Provider.Docker.Environment))
	for k := range group.Provider.Docker.Environment {
		keys = append(keys, k)
	}
	// sorted so identical configs produce identical containers
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+group.Provider.Docker.Environment[k])
	}
	return env
}

func buildLabels(group *models.GroupConfig, server *models.ServerRecord) map[string]string {
	return map[string]string{
		LabelManaged:    "true",
		LabelServerID:   server.ServerID,
		LabelGroup:      group.Name,
		LabelServerName: server.Name,
		LabelServerType: string(server.Type),
		LabelDynamic:    strconv.FormatBool(server.IsDynamic()),
	}
}

func buildCreateOptions(group *models.GroupConfig, server *models.ServerRecord, hostDir, network string) (docker.CreateContainerOptions, error) {
	settings := group.Provider.Docker

	mountPath := settings.VolumeMountPath
	if mountPath == "" {
		mountPath = defaultMountPath
	}
	absDir, err := filepath.Abs(hostDir)
	if err != nil {
		return docker.CreateContainerOptions{}, fmt.Errorf("resolve working directory: %w", err)
	}

	port := docker.Port(strconv.Itoa(ServerPort) + "/tcp")
	cfg := &docker.Config{
		Image:        normalizeImage(settings.Image),
		Env:          buildEnv(group, server),
		Labels:       buildLabels(group, server),
		ExposedPorts: map[docker.Port]struct{}{port: {}},
	}
	if cmd := strings.Fields(settings.Command); len(cmd) > 0 {
		cfg.Cmd = cmd
	}
	if settings.WorkingDirectory != "" {
		cfg.WorkingDir = settings.WorkingDirectory
	}

	hostCfg := &docker.HostConfig{
		Binds: append([]string{absDir + ":" + mountPath}, settings.Volumes...),
	}
	if network != "" {
		hostCfg.NetworkMode = network
	}

	log := logger.WithServer(group.Name, server.ServerID)
	if settings.Memory != "" {
		if mem, ok := parseMemory(settings.Memory); ok {
			hostCfg.Memory = mem
		} else {
			log.Warnf("Ignoring unparseable memory limit %q", settings.Memory)
		}
	}
	if settings.CPU != "" {
		if shares, ok := parseCPU(settings.CPU); ok {
			hostCfg.CPUShares = shares
		} else {
			log.Warnf("Ignoring unparseable cpu limit %q", settings.CPU)
		}
	}

	return docker.CreateContainerOptions{
		Name:       ContainerName(server.Name),
		Config:     cfg,
		HostConfig: hostCfg,
	}, nil
}

// parseMemory turns "512m", "2g", "1024kb" or a plain byte count into bytes.
func parseMemory(s string) (int64, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, false
	}

	multiplier := int64(1)
	for _, unit := range []struct {
		suffix string
		mult   int64
	}{
		{"kb", 1 << 10}, {"mb", 1 << 20}, {"gb", 1 << 30},
		{"k", 1 << 10}, {"m", 1 << 20}, {"g", 1 << 30},
	} {
		if strings.HasSuffix(s, unit.suffix) {
			s = strings.TrimSuffix(s, unit.suffix)
			multiplier = unit.mult
			break
		}
	}

	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n * multiplier, true
}

// parseCPU turns "500m" millicores or "1.5" cores into CPU shares,
// 1024 shares per core.
func parseCPU(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	if strings.HasSuffix(s, "m") {
		milli, err := strconv.ParseInt(strings.TrimSuffix(s, "m"), 10, 64)
		if err != nil || milli <= 0 {
			return 0, false
		}
		return milli * 1024 / 1000, true
	}

	cores, err := strconv.ParseFloat(s, 64)
	if err != nil || cores <= 0 {
		return 0, false
	}
	return int64(cores * 1024), true
}

// resolveAddress prefers the first attached network's IP.
func resolveAddress(c *docker.Container) string {
	if c != nil && c.NetworkSettings != nil {
		names := make([]string, 0, len(c.NetworkSettings.Networks))
		for name := range c.NetworkSettings.Networks {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if ip := c.NetworkSettings.Networks[name].IPAddress; ip != "" {
				return ip
			}
		}
		if c.NetworkSettings.IPAddress != "" {
			return c.NetworkSettings.IPAddress
		}
	}
	return "localhost"
}

// workingDirectory is where a server's files live on the host. Dynamic
// servers get a unique suffix so a recreated server never reuses old data.
func workingDirectory(serversDir string, group *models.GroupConfig, server *models.ServerRecord) string {
	if server.WorkingDirectory != "" {
		return server.WorkingDirectory
	}
	if server.IsDynamic() {
		return filepath.Join(serversDir, group.Name, server.Name+"#"+models.ShortUUID())
	}
	return filepath.Join(serversDir, group.Name, server.Name)
}
