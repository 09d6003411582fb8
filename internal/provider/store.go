package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/OldStager01/fleet-autoscaler/internal/logger"
	"github.com/OldStager01/fleet-autoscaler/pkg/models"
)

// Update describes a change to a stored server snapshot.
type Update struct {
	Server  *models.ServerRecord
	Removed bool
}

type UpdateFunc func(Update)

// Store holds the provider-side snapshot of every server, indexed by id and
// group. Readers always receive copies.
type Store struct {
	servers   map[string]*models.ServerRecord
	groups    map[string][]string // group -> []serverID
	listeners []UpdateFunc
	mu        sync.RWMutex
	lmu       sync.RWMutex
}

func NewStore() *Store {
	return &Store{
		servers: make(map[string]*models.ServerRecord),
		groups:  make(map[string][]string),
	}
}

// Watch registers fn for every later change. Listeners run on the caller's
// goroutine after the store lock is released, in registration order.
func (s *Store) Watch(fn UpdateFunc) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Store) notify(u Update) {
	s.lmu.RLock()
	listeners := append([]UpdateFunc(nil), s.listeners...)
	s.lmu.RUnlock()

	for _, fn := range listeners {
		fn(u)
	}
}

// Put adds or replaces a server.
func (s *Store) Put(server *models.ServerRecord) {
	s.mu.Lock()
	stored := server.Clone()
	if _, exists := s.servers[server.ServerID]; !exists {
		s.groups[server.Group] = append(s.groups[server.Group], server.ServerID)
	}
	s.servers[server.ServerID] = stored
	snapshot := stored.Clone()
	s.mu.Unlock()

	logger.WithServer(server.Group, server.ServerID).Debugf("Server %s stored with status %s", server.Name, server.Status())
	s.notify(Update{Server: snapshot})
}

// Replace swaps the snapshot of a known server and reports whether it existed.
func (s *Store) Replace(serverID string, server *models.ServerRecord) bool {
	s.mu.Lock()
	current, exists := s.servers[serverID]
	if !exists {
		s.mu.Unlock()
		return false
	}
	stored := server.Clone()
	stored.ServerID = serverID
	stored.Group = current.Group
	stored.ManuallyScaled = current.ManuallyScaled
	s.servers[serverID] = stored
	snapshot := stored.Clone()
	s.mu.Unlock()

	s.notify(Update{Server: snapshot})
	return true
}

// Update applies fn to the stored server under the write lock.
func (s *Store) Update(serverID string, fn func(*models.ServerRecord) error) (*models.ServerRecord, error) {
	s.mu.Lock()
	server, exists := s.servers[serverID]
	if !exists {
		s.mu.Unlock()
		return nil, ErrServerNotFound
	}
	oldStatus := server.Status()
	if err := fn(server); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	snapshot := server.Clone()
	s.mu.Unlock()

	if oldStatus != snapshot.Status() {
		logger.WithServer(snapshot.Group, serverID).Infof(
			"Server %s status changed: %s -> %s", snapshot.Name, oldStatus, snapshot.Status(),
		)
	}
	s.notify(Update{Server: snapshot})
	return snapshot.Clone(), nil
}

// SetStatus moves a stored server through the status machine.
func (s *Store) SetStatus(serverID string, status models.ServerStatus) (*models.ServerRecord, error) {
	return s.Update(serverID, func(server *models.ServerRecord) error {
		return server.SetStatus(status)
	})
}

func (s *Store) Get(serverID string) (*models.ServerRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	server, exists := s.servers[serverID]
	if !exists {
		return nil, false
	}
	return server.Clone(), true
}

func (s *Store) All() []*models.ServerRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	servers := make([]*models.ServerRecord, 0, len(s.servers))
	for _, server := range s.servers {
		servers = append(servers, server.Clone())
	}
	sortByCreation(servers)
	return servers
}

func (s *Store) ByGroup(group string) []*models.ServerRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.groups[group]
	servers := make([]*models.ServerRecord, 0, len(ids))
	for _, id := range ids {
		if server, exists := s.servers[id]; exists {
			servers = append(servers, server.Clone())
		}
	}
	return servers
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.servers)
}

// Remove drops a server and returns its last snapshot.
func (s *Store) Remove(serverID string) (*models.ServerRecord, bool) {
	s.mu.Lock()
	server, exists := s.servers[serverID]
	if !exists {
		s.mu.Unlock()
		return nil, false
	}
	delete(s.servers, serverID)

	ids := s.groups[server.Group]
	for i, id := range ids {
		if id == serverID {
			s.groups[server.Group] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(s.groups[server.Group]) == 0 {
		delete(s.groups, server.Group)
	}
	s.mu.Unlock()

	s.notify(Update{Server: server.Clone(), Removed: true})
	return server, true
}

// Clear forgets every server without notifying listeners.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers = make(map[string]*models.ServerRecord)
	s.groups = make(map[string][]string)
}

// WaitForStatus polls until the server reaches status, disappears or ctx ends.
func (s *Store) WaitForStatus(ctx context.Context, serverID string, status models.ServerStatus) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		server, exists := s.Get(serverID)
		if !exists {
			return ErrServerNotFound
		}
		if server.Status() == status {
			return nil
		}
		if server.Status() == models.StatusError && status != models.StatusError {
			return fmt.Errorf("server %s entered %s", server.Name, models.StatusError)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func sortByCreation(servers []*models.ServerRecord) {
	sort.SliceStable(servers, func(i, j int) bool {
		return servers[i].CreatedAt.Before(servers[j].CreatedAt)
	})
}
