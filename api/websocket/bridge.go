package websocket

import (
	"sync"

	"github.com/OldStager01/fleet-autoscaler/internal/logger"
	"github.com/OldStager01/fleet-autoscaler/pkg/models"
)

// StatusSource looks up the current status of a group.
type StatusSource func(group string) (models.GroupStatus, bool)

// EventBridge forwards bus events to WebSocket clients. After every event
// that changes a group's servers it also pushes the group's fresh state.
type EventBridge struct {
	hub        *Hub
	eventsChan <-chan *models.Event
	status     StatusSource
	done       chan struct{}
	stopped    chan struct{}
	stopOnce   sync.Once
}

// NewEventBridge consumes eventsChan. status may be nil.
func NewEventBridge(hub *Hub, eventsChan <-chan *models.Event, status StatusSource) *EventBridge {
	return &EventBridge{
		hub:        hub,
		eventsChan: eventsChan,
		status:     status,
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

func (b *EventBridge) Start() {
	go b.run()
	logger.Info("WebSocket event bridge started")
}

// Stop ends forwarding and waits for the bridge goroutine.
func (b *EventBridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		<-b.stopped
		logger.Info("WebSocket event bridge stopped")
	})
}

func (b *EventBridge) run() {
	defer close(b.stopped)
	for {
		select {
		case <-b.done:
			return
		case event, ok := <-b.eventsChan:
			if !ok {
				logger.Info("Event channel closed, stopping bridge")
				return
			}
			b.forward(event)
		}
	}
}

func (b *EventBridge) forward(event *models.Event) {
	msg := toMessage(event)
	if msg == nil {
		return
	}
	b.hub.BroadcastToGroup(event.Group, msg.JSON())

	if b.status == nil || event.Group == "" {
		return
	}
	switch event.Type {
	case models.EventTypeScalingComplete, models.EventTypeServerAdded, models.EventTypeServerRemoved,
		models.EventTypeServerUpdated, models.EventTypeGroupPaused, models.EventTypeGroupResumed:
		if status, ok := b.status(event.Group); ok {
			b.hub.BroadcastToGroup(event.Group, groupState(status).JSON())
		}
	}
}
