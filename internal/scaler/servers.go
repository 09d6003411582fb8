package scaler

import (
	"context"
	"fmt"
	"time"

	"github.com/OldStager01/fleet-autoscaler/internal/logger"
	"github.com/OldStager01/fleet-autoscaler/internal/provider"
	"github.com/OldStager01/fleet-autoscaler/pkg/models"
)

// Servers returns copies of every tracked server, oldest first.
func (s *Scaler) Servers() []*models.ServerRecord {
	return s.filter(func(*models.ServerRecord) bool { return true })
}

func (s *Scaler) AutoScaledServers() []*models.ServerRecord {
	return s.filter(func(server *models.ServerRecord) bool { return !server.ManuallyScaled })
}

func (s *Scaler) filter(keep func(*models.ServerRecord) bool) []*models.ServerRecord {
	s.mu.RLock()
	servers := make([]*models.ServerRecord, 0, len(s.servers))
	for _, server := range s.servers {
		if keep(server) {
			servers = append(servers, server.Clone())
		}
	}
	s.mu.RUnlock()

	sortServers(servers)
	return servers
}

func (s *Scaler) Server(serverID string) (*models.ServerRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	server, ok := s.servers[serverID]
	if !ok {
		return nil, false
	}
	return server.Clone(), true
}

func (s *Scaler) ServerByName(name string) (*models.ServerRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, server := range s.servers {
		if server.Name == name {
			return server.Clone(), true
		}
	}
	return nil, false
}

// AddServer tracks a server the engine did not create itself.
func (s *Scaler) AddServer(server *models.ServerRecord) {
	s.mu.Lock()
	s.servers[server.ServerID] = server.Clone()
	delete(s.reserved, server.Name)
	s.mu.Unlock()

	s.publisher.ServerAdded(server)
}

// applyUpdate mirrors a provider snapshot change into the tracked map.
// Unknown servers are ignored; the manually-scaled flag never changes.
func (s *Scaler) applyUpdate(u provider.Update) {
	id := u.Server.ServerID
	if u.Removed {
		s.untrack(id)
		return
	}

	s.mu.Lock()
	tracked, ok := s.servers[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	previous := tracked.Status()
	updated := u.Server.Clone()
	updated.ManuallyScaled = tracked.ManuallyScaled
	s.servers[id] = updated
	s.mu.Unlock()

	if previous != updated.Status() {
		s.publisher.ServerUpdated(updated, previous)
	}
}

// UpdateServerInfo applies a heartbeat reported by the server itself.
func (s *Scaler) UpdateServerInfo(serverID string, info models.ServerInfo) (*models.ServerRecord, bool) {
	s.mu.Lock()
	server, ok := s.servers[serverID]
	if !ok {
		s.mu.Unlock()
		logger.WithServer(s.name, serverID).Warn("Received heartbeat for a server that is not tracked")
		return nil, false
	}

	previous := server.Status()
	if info.MaxPlayers > 0 {
		server.Info.MaxPlayers = info.MaxPlayers
	}
	if info.Status != "" && info.Status != previous {
		if err := server.SetStatus(info.Status); err != nil {
			logger.WithServer(s.name, serverID).Debugf("Ignoring reported status: %v", err)
		}
	}
	if server.IsRunning() {
		server.SetPlayers(info.OnlinePlayers, info.OnlinePlayerNames)
	}
	server.Heartbeat(s.now())
	snapshot := server.Clone()
	s.mu.Unlock()

	if previous != snapshot.Status() {
		s.publisher.ServerUpdated(snapshot, previous)
	}
	return snapshot, true
}

// StartServer starts a tracked server and clears its manual-stop mark.
func (s *Scaler) StartServer(ctx context.Context, serverID string) (bool, error) {
	server, ok := s.Server(serverID)
	if !ok {
		return false, nil
	}

	s.mu.Lock()
	delete(s.manuallyStopped, serverID)
	s.mu.Unlock()

	if err := s.provider.StartServer(ctx, server); err != nil {
		s.metrics.IncProviderError("start")
		return true, fmt.Errorf("start server %s: %w", server.Name, err)
	}
	logger.WithServer(s.name, serverID).Infof("Server %s started", server.Name)
	return true, nil
}

// StopServer stops a tracked server. It stays tracked and is never started
// again automatically.
func (s *Scaler) StopServer(ctx context.Context, serverID string) (bool, error) {
	server, ok := s.Server(serverID)
	if !ok {
		return false, nil
	}

	s.mu.Lock()
	s.manuallyStopped[serverID] = struct{}{}
	s.mu.Unlock()

	if err := s.provider.StopServer(ctx, server); err != nil {
		s.metrics.IncProviderError("stop")
		return true, fmt.Errorf("stop server %s: %w", server.Name, err)
	}
	logger.WithServer(s.name, serverID).Infof("Server %s stopped", server.Name)
	return true, nil
}

func (s *Scaler) RestartServer(ctx context.Context, serverID string) (bool, error) {
	server, ok := s.Server(serverID)
	if !ok {
		return false, nil
	}

	s.mu.Lock()
	s.manuallyStopped[serverID] = struct{}{}
	s.mu.Unlock()

	if err := s.provider.StopServer(ctx, server); err != nil {
		s.metrics.IncProviderError("stop")
		return true, fmt.Errorf("restart server %s: %w", server.Name, err)
	}
	return s.StartServer(ctx, serverID)
}

// RemoveServer deletes a server through the provider and untracks it.
func (s *Scaler) RemoveServer(ctx context.Context, serverID string) (bool, error) {
	s.mu.Lock()
	server, ok := s.servers[serverID]
	if !ok {
		s.mu.Unlock()
		return false, nil
	}
	snapshot := server.Clone()
	s.pendingRemovals[serverID] = struct{}{}
	s.mu.Unlock()

	logger.WithServer(s.name, serverID).Infof("Removing server %s", snapshot.Name)
	return true, s.decommission(ctx, snapshot)
}

// checkHeartbeats hands servers that went silent to the provider: a static
// server is stopped, a dynamic one is deleted. Manually stopped servers are
// left alone.
func (s *Scaler) checkHeartbeats() {
	if s.cfg.HeartbeatTimeout <= 0 && s.cfg.StartupTimeout <= 0 {
		return
	}
	now := s.now()

	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return
	}
	var expired []*models.ServerRecord
	for id, server := range s.servers {
		if _, pending := s.pendingRemovals[id]; pending {
			continue
		}
		if _, stopped := s.manuallyStopped[id]; stopped {
			continue
		}

		silent := now.Sub(server.LastHeartbeat)
		switch server.Status() {
		case models.StatusRunning, models.StatusError:
			if s.cfg.HeartbeatTimeout > 0 && silent > s.cfg.HeartbeatTimeout {
				expired = append(expired, server.Clone())
			}
		case models.StatusStarting:
			if s.cfg.StartupTimeout > 0 && silent > s.cfg.StartupTimeout {
				expired = append(expired, server.Clone())
			}
		}
	}
	for _, server := range expired {
		s.pendingRemovals[server.ServerID] = struct{}{}
		s.wg.Add(1)
	}
	s.mu.Unlock()

	for _, server := range expired {
		server := server
		s.metrics.IncHeartbeatTimeout(s.name)
		logger.WithServer(s.name, server.ServerID).Warnf(
			"Server %s (%s) sent no heartbeat for %s, removing it",
			server.Name, server.Status(), now.Sub(server.LastHeartbeat).Round(time.Second),
		)
		s.spawn(func(ctx context.Context) {
			s.expire(ctx, server)
		})
	}
}

func (s *Scaler) expire(ctx context.Context, server *models.ServerRecord) {
	defer s.clearPending(server.ServerID)
	log := logger.WithServer(s.name, server.ServerID)

	if server.Type == models.ServerTypeStatic {
		if err := s.provider.StopServer(ctx, server); err != nil {
			s.metrics.IncProviderError("stop")
			log.WithError(err).Errorf("Failed to stop static server %s after heartbeat timeout", server.Name)
		}
		return
	}

	if _, err := s.provider.DeleteServer(ctx, server.ServerID); err != nil {
		s.metrics.IncProviderError("delete")
		log.WithError(err).Errorf("Failed to remove dynamic server %s after heartbeat timeout", server.Name)
		return
	}
	s.untrack(server.ServerID)
}
