package simulation

import (
	"fmt"
	"time"

	"github.com/OldStager01/fleet-autoscaler/pkg/models"
)

var ambientLines = []func(p *Provider) string{
	func(p *Provider) string { return fmt.Sprintf("Server tick completed (TPS: %.1f)", 18.5+float64(p.intn(15))/10) },
	func(p *Provider) string { return fmt.Sprintf("Garbage collection completed in %dms", 10+p.intn(50)) },
	func(p *Provider) string { return fmt.Sprintf("Chunk loaded at %d, %d", p.intn(1000), p.intn(1000)) },
	func(p *Provider) string { return "Auto-save completed" },
	func(p *Provider) string { return fmt.Sprintf("Memory usage: %d%%", 40+p.intn(40)) },
}

func (p *Provider) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.sendHeartbeats()
		}
	}
}

// sendHeartbeats refreshes every running server and occasionally
// simulates player activity and ambient output.
func (p *Provider) sendHeartbeats() {
	now := time.Now()
	for _, server := range p.store.All() {
		if !server.IsRunning() {
			continue
		}

		var logLines []string
		_, err := p.store.Update(server.ServerID, func(s *models.ServerRecord) error {
			if !s.IsRunning() {
				return nil
			}
			s.Heartbeat(now)
			if p.chance(p.cfg.PlayerActivityChance) {
				if line := p.simulatePlayerActivity(s); line != "" {
					logLines = append(logLines, line)
				}
			}
			return nil
		})
		if err != nil {
			continue
		}

		for _, line := range logLines {
			p.addLog(server.ServerID, line)
		}
		if p.chance(p.cfg.LogActivityChance) {
			p.addLog(server.ServerID, "Heartbeat sent - Server healthy")
		}
		if p.chance(0.05) {
			p.addLog(server.ServerID, ambientLines[p.intn(len(ambientLines))](p))
		}
	}
}

// simulatePlayerActivity joins or removes one player. The load pattern
// biases the join probability.
func (p *Provider) simulatePlayerActivity(s *models.ServerRecord) string {
	names := append([]string(nil), s.Info.OnlinePlayerNames...)
	join := len(names) == 0 || p.chance(p.pattern.Apply(0.5))

	if join && len(names) < s.Info.MaxPlayers {
		name := fmt.Sprintf("Player%d", 1000+p.intn(9000))
		for _, existing := range names {
			if existing == name {
				return ""
			}
		}
		names = append(names, name)
		s.SetPlayers(len(names), names)
		return "Player " + name + " joined the server"
	}

	if len(names) > 0 {
		i := p.intn(len(names))
		name := names[i]
		names = append(names[:i], names[i+1:]...)
		s.SetPlayers(len(names), names)
		return "Player " + name + " left the server"
	}
	return ""
}
