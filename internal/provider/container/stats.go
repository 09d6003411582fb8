package container

import (
	"context"
	"io/fs"
	"path/filepath"
	"time"

	docker "github.com/fsouza/go-dockerclient"

	"github.com/OldStager01/fleet-autoscaler/pkg/models"
)

func (p *Provider) GetServerStats(ctx context.Context, serverID string) (*models.ServerStats, bool, error) {
	containerID, ok := p.containerID(serverID)
	if !ok {
		return nil, false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.LogWait)
	defer cancel()

	ch := make(chan *docker.Stats, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- p.client.Stats(docker.StatsOptions{
			ID:      containerID,
			Stats:   ch,
			Stream:  false,
			Context: ctx,
		})
	}()

	var sample *docker.Stats
	for s := range ch {
		sample = s
	}
	if err := <-errCh; err != nil {
		if isNoSuchContainer(err) {
			return nil, false, nil
		}
		p.metrics.IncProviderError("stats")
		return nil, true, err
	}

	stats := &models.ServerStats{ServerID: serverID, Timestamp: time.Now()}
	if sample != nil {
		fillStats(stats, sample)
	}
	if server, exists := p.store.Get(serverID); exists && server.WorkingDirectory != "" {
		stats.DiskUsed = dirSize(server.WorkingDirectory)
	}
	return stats, true, nil
}

func fillStats(out *models.ServerStats, s *docker.Stats) {
	out.CPUPercent = cpuPercent(s)
	out.MemoryUsed = s.MemoryStats.Usage
	out.MemoryTotal = s.MemoryStats.Limit
	for _, n := range s.Networks {
		out.NetworkRx += n.RxBytes
		out.NetworkTx += n.TxBytes
	}
	if !s.Read.IsZero() {
		out.Timestamp = s.Read
	}
}

// cpuPercent follows the docker CLI: usage delta over system delta, scaled
// by the number of online CPUs.
func cpuPercent(s *docker.Stats) float64 {
	cur, pre := s.CPUStats.CPUUsage.TotalUsage, s.PreCPUStats.CPUUsage.TotalUsage
	sysCur, sysPre := s.CPUStats.SystemCPUUsage, s.PreCPUStats.SystemCPUUsage
	if cur <= pre || sysCur <= sysPre {
		return 0
	}

	cpus := float64(s.CPUStats.OnlineCPUs)
	if cpus == 0 {
		cpus = float64(len(s.CPUStats.CPUUsage.PercpuUsage))
	}
	if cpus == 0 {
		cpus = 1
	}
	return float64(cur-pre) / float64(sysCur-sysPre) * cpus * 100
}

func dirSize(root string) uint64 {
	var total uint64
	filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			if info, err := d.Info(); err == nil {
				total += uint64(info.Size())
			}
		}
		return nil
	})
	return total
}
