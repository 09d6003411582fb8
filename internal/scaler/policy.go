package scaler

import (
	"fmt"
	"strconv"
	"time"

	"github.com/OldStager01/fleet-autoscaler/internal/logger"
	"github.com/OldStager01/fleet-autoscaler/pkg/models"
)

// utilizationLocked is the share of player capacity in use across the
// group's RUNNING servers, auto-scaled and manual alike.
func (s *Scaler) utilizationLocked() float64 {
	players, capacity := 0, 0
	for _, server := range s.servers {
		if !server.IsRunning() {
			continue
		}
		players += server.Info.OnlinePlayers
		capacity += server.Info.MaxPlayers
	}
	if capacity <= 0 {
		return 0
	}

	u := float64(players) / float64(capacity)
	if u > 1 {
		u = 1
	}
	return u
}

func (s *Scaler) Utilization() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.utilizationLocked()
}

func (s *Scaler) autoCountLocked() int {
	count := 0
	for _, server := range s.servers {
		if !server.ManuallyScaled {
			count++
		}
	}
	return count
}

func (s *Scaler) startingAutoLocked() int {
	count := 0
	for _, server := range s.servers {
		if !server.ManuallyScaled && server.IsStarting() {
			count++
		}
	}
	return count
}

func (s *Scaler) canScaleUpLocked() bool {
	if s.shutdown {
		return false
	}
	return s.group.IsUnlimited() || s.autoCountLocked() < s.group.Server.MaxServers
}

func (s *Scaler) canScaleDownLocked() bool {
	return !s.shutdown && s.autoCountLocked() > s.group.Server.MinServers
}

// scaleUpThresholdLocked raises the threshold while auto-scaled servers are
// still booting, so a slow start does not pile up more boots.
func (s *Scaler) scaleUpThresholdLocked() float64 {
	threshold := s.group.Scaling.Conditions.ScaleUpThreshold
	if s.startingAutoLocked() > 0 && threshold < s.cfg.StartingScaleUpThreshold {
		threshold = s.cfg.StartingScaleUpThreshold
	}
	return threshold
}

func (s *Scaler) shouldScaleUpLocked(utilization float64) bool {
	return utilization >= s.scaleUpThresholdLocked() && s.canScaleUpLocked()
}

func (s *Scaler) shouldScaleDownLocked(utilization float64) bool {
	return utilization <= s.group.Scaling.Conditions.ScaleDownThreshold && s.canScaleDownLocked()
}

// scaleDownCandidateLocked picks the RUNNING server with the lowest
// utilization, then the fewest players, then the newest. Automatic
// scale-down never considers manually-scaled servers.
func (s *Scaler) scaleDownCandidateLocked(autoOnly bool) *models.ServerRecord {
	var best *models.ServerRecord
	for id, server := range s.servers {
		if !server.IsRunning() || (autoOnly && server.ManuallyScaled) {
			continue
		}
		if _, pending := s.pendingRemovals[id]; pending {
			continue
		}
		if best == nil || lessLoaded(server, best) {
			best = server
		}
	}
	return best.Clone()
}

func lessLoaded(a, b *models.ServerRecord) bool {
	ra, rb := loadRatio(a), loadRatio(b)
	if ra != rb {
		return ra < rb
	}
	if a.Info.OnlinePlayers != b.Info.OnlinePlayers {
		return a.Info.OnlinePlayers < b.Info.OnlinePlayers
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.Name > b.Name
}

func loadRatio(server *models.ServerRecord) float64 {
	if server.Info.MaxPlayers <= 0 {
		return 0
	}
	return float64(server.Info.OnlinePlayers) / float64(server.Info.MaxPlayers)
}

// restartCandidateLocked finds a STOPPED auto-scaled server the operator
// did not stop, oldest first.
func (s *Scaler) restartCandidateLocked() *models.ServerRecord {
	var best *models.ServerRecord
	for id, server := range s.servers {
		if server.ManuallyScaled || server.Status() != models.StatusStopped {
			continue
		}
		if _, stopped := s.manuallyStopped[id]; stopped {
			continue
		}
		if _, pending := s.pendingRemovals[id]; pending {
			continue
		}
		if best == nil || server.CreatedAt.Before(best.CreatedAt) {
			best = server
		}
	}
	return best.Clone()
}

func (s *Scaler) cooldownRemainingLocked(now time.Time) time.Duration {
	cooldown := s.group.Cooldown()
	if s.lastScale.IsZero() || cooldown <= 0 {
		return 0
	}
	elapsed := now.Sub(s.lastScale)
	if elapsed >= cooldown {
		return 0
	}
	return cooldown - elapsed
}

func (s *Scaler) CooldownRemaining() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cooldownRemainingLocked(s.now())
}

// reserveCooldownLocked stamps the action time before the action runs so a
// concurrent check cannot start a second one. It returns the stamp it replaced.
func (s *Scaler) reserveCooldownLocked(now time.Time) time.Time {
	previous := s.lastScale
	s.lastScale = now
	return previous
}

// releaseCooldown undoes a reservation after a failed action, unless a
// later action has stamped the cooldown since.
func (s *Scaler) releaseCooldown(reservedAt, previous time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastScale.Equal(reservedAt) {
		s.lastScale = previous
	}
}

func checkThresholds(up, down float64) error {
	if up < 0 || up > 1 || down < 0 || down > 1 {
		return fmt.Errorf("%w: thresholds must be between 0.0 and 1.0", ErrInvalidThreshold)
	}
	if up <= down {
		return fmt.Errorf("%w: scale up threshold must be greater than scale down threshold", ErrInvalidThreshold)
	}
	return nil
}

func checkBounds(min, max int) error {
	if min < 0 {
		return fmt.Errorf("%w: minimum servers cannot be negative", ErrInvalidBounds)
	}
	if max < models.UnlimitedServers {
		return fmt.Errorf("%w: maximum servers must be -1 (unlimited) or greater", ErrInvalidBounds)
	}
	if max != models.UnlimitedServers && max < min {
		return fmt.Errorf("%w: maximum servers cannot be less than minimum servers", ErrInvalidBounds)
	}
	return nil
}

func (s *Scaler) SetThresholds(up, down float64) error {
	if err := checkThresholds(up, down); err != nil {
		return err
	}

	s.mu.Lock()
	s.group.Scaling.Conditions.ScaleUpThreshold = up
	s.group.Scaling.Conditions.ScaleDownThreshold = down
	s.mu.Unlock()

	logger.WithGroup(s.name).Infof("Updated thresholds: up %.2f, down %.2f", up, down)
	return nil
}

func (s *Scaler) SetServerBounds(min, max int) error {
	if err := checkBounds(min, max); err != nil {
		return err
	}

	s.mu.Lock()
	s.group.Server.MinServers = min
	s.group.Server.MaxServers = max
	auto := s.autoCountLocked()
	s.mu.Unlock()

	log := logger.WithGroup(s.name)
	if max != models.UnlimitedServers && auto > max {
		log.Warnf("Current auto-scaled servers (%d) exceed new maximum (%d)", auto, max)
	}
	log.Infof("Updated server bounds: min %d, max %s", min, maxLabel(max))
	return nil
}

func maxLabel(max int) string {
	if max == models.UnlimitedServers {
		return "∞"
	}
	return strconv.Itoa(max)
}

// Status is the reporting view of the group.
func (s *Scaler) Status() models.GroupStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	utilization := s.utilizationLocked()
	status := models.GroupStatus{
		Group:             s.name,
		DisplayName:       s.group.Label(),
		Utilization:       utilization,
		StatusCounts:      make(map[models.ServerStatus]int),
		MinServers:        s.group.Server.MinServers,
		MaxServers:        s.group.Server.MaxServers,
		Paused:            s.paused,
		PendingRemovals:   len(s.pendingRemovals),
		CooldownRemaining: s.cooldownRemainingLocked(now),
		Condition:         s.conditionLocked(now, utilization),
		Summary:           s.summaryLocked(utilization),
	}

	for _, server := range s.servers {
		status.TotalServers++
		if server.ManuallyScaled {
			status.ManualServers++
		} else {
			status.AutoServers++
		}
		status.StatusCounts[server.Status()]++
		status.OnlinePlayers += server.Info.OnlinePlayers
		if server.IsRunning() {
			status.Capacity += server.Info.MaxPlayers
		}
	}

	if !s.lastScale.IsZero() {
		last := s.lastScale
		status.LastScaleTime = &last
	}
	return status
}

func (s *Scaler) conditionLocked(now time.Time, utilization float64) string {
	switch {
	case s.paused:
		return "paused"
	case s.cooldownRemainingLocked(now) > 0:
		return "cooling down"
	case utilization >= s.scaleUpThresholdLocked():
		if s.canScaleUpLocked() {
			return "ready to scale up"
		}
		return "at maximum servers"
	case utilization <= s.group.Scaling.Conditions.ScaleDownThreshold:
		if s.canScaleDownLocked() {
			return "ready to scale down"
		}
		return "at minimum servers"
	default:
		return "stable"
	}
}

func (s *Scaler) summaryLocked(utilization float64) string {
	auto := s.autoCountLocked()
	players := 0
	for _, server := range s.servers {
		players += server.Info.OnlinePlayers
	}
	return fmt.Sprintf("Group: %s | Utilization: %.1f%% | Auto: %d/%s | Manual: %d | Players: %d",
		s.name, utilization*100, auto, maxLabel(s.group.Server.MaxServers), len(s.servers)-auto, players)
}

// StatusSummary is the one-line status shown by the CLI and the API.
func (s *Scaler) StatusSummary() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summaryLocked(s.utilizationLocked())
}

// ScalingUpdate changes thresholds and bounds at runtime. Nil fields keep
// their current value.
type ScalingUpdate struct {
	ScaleUpThreshold   *float64
	ScaleDownThreshold *float64
	MinServers         *int
	MaxServers         *int
}

func (u ScalingUpdate) Empty() bool {
	return u.ScaleUpThreshold == nil && u.ScaleDownThreshold == nil && u.MinServers == nil && u.MaxServers == nil
}

// Apply validates the whole update before changing anything.
func (s *Scaler) Apply(u ScalingUpdate) error {
	current := s.Group()
	up, down := current.Scaling.Conditions.ScaleUpThreshold, current.Scaling.Conditions.ScaleDownThreshold
	min, max := current.Server.MinServers, current.Server.MaxServers
	if u.ScaleUpThreshold != nil {
		up = *u.ScaleUpThreshold
	}
	if u.ScaleDownThreshold != nil {
		down = *u.ScaleDownThreshold
	}
	if u.MinServers != nil {
		min = *u.MinServers
	}
	if u.MaxServers != nil {
		max = *u.MaxServers
	}

	thresholds := u.ScaleUpThreshold != nil || u.ScaleDownThreshold != nil
	bounds := u.MinServers != nil || u.MaxServers != nil
	if thresholds {
		if err := checkThresholds(up, down); err != nil {
			return err
		}
	}
	if bounds {
		if err := checkBounds(min, max); err != nil {
			return err
		}
		if err := s.SetServerBounds(min, max); err != nil {
			return err
		}
	}
	if thresholds {
		return s.SetThresholds(up, down)
	}
	return nil
}
