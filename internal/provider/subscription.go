package provider

import (
	"sync"

	"github.com/OldStager01/fleet-autoscaler/internal/logger"
)

// Subscription wraps one log subscriber. Once Close returns, the handler
// is never invoked again. Handlers must not close their own subscription
// from inside the callback.
type Subscription struct {
	mu      sync.Mutex
	handler LogHandler
	closed  bool
}

func NewSubscription(handler LogHandler) *Subscription {
	return &Subscription{handler: handler}
}

// Deliver passes line to the handler unless the subscription is closed.
// A panicking handler is logged and does not affect other subscribers.
func (s *Subscription) Deliver(serverID, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logger.WithField("server_id", serverID).Errorf("Log subscriber panicked: %v", r)
		}
	}()
	s.handler(line)
}

func (s *Subscription) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
