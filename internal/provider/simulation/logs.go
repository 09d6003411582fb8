package simulation

import (
	"context"
	"time"

	"github.com/OldStager01/fleet-autoscaler/internal/provider"
	"github.com/OldStager01/fleet-autoscaler/pkg/models"
)

func (p *Provider) GetServerLogs(ctx context.Context, serverID string, lines int) ([]string, error) {
	p.logMu.Lock()
	defer p.logMu.Unlock()

	buf := p.logs[serverID]
	if lines <= 0 || lines >= len(buf) {
		return append([]string(nil), buf...), nil
	}
	return append([]string(nil), buf[len(buf)-lines:]...), nil
}

func (p *Provider) StreamServerLogs(ctx context.Context, serverID string, handler provider.LogHandler) (string, bool) {
	if _, exists := p.store.Get(serverID); !exists {
		return "", false
	}

	subID := models.NewUUID()
	p.logMu.Lock()
	if p.subs[serverID] == nil {
		p.subs[serverID] = make(map[string]*provider.Subscription)
	}
	p.subs[serverID][subID] = provider.NewSubscription(handler)
	p.subsIdx[subID] = serverID
	p.logMu.Unlock()

	p.addLog(serverID, "Log stream started for subscription: "+subID)
	return subID, true
}

func (p *Provider) StopLogStream(subscriptionID string) bool {
	p.logMu.Lock()
	defer p.logMu.Unlock()

	serverID, exists := p.subsIdx[subscriptionID]
	if !exists {
		return false
	}
	delete(p.subsIdx, subscriptionID)
	if sub, ok := p.subs[serverID][subscriptionID]; ok {
		sub.Close()
	}
	delete(p.subs[serverID], subscriptionID)
	if len(p.subs[serverID]) == 0 {
		delete(p.subs, serverID)
	}
	return true
}

// addLog appends a timestamped line to the bounded buffer and fans it out.
func (p *Provider) addLog(serverID, line string) {
	entry := "[" + time.Now().Format("15:04:05") + "] " + line

	p.logMu.Lock()
	buf := append(p.logs[serverID], entry)
	if len(buf) > p.cfg.MaxLogLines {
		buf = buf[len(buf)-p.cfg.MaxLogLines:]
	}
	p.logs[serverID] = buf

	subs := make([]*provider.Subscription, 0, len(p.subs[serverID]))
	for _, sub := range p.subs[serverID] {
		subs = append(subs, sub)
	}
	p.logMu.Unlock()

	for _, sub := range subs {
		sub.Deliver(serverID, entry)
	}
}
