package events

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/OldStager01/fleet-autoscaler/internal/logger"
	"github.com/OldStager01/fleet-autoscaler/pkg/models"
)

// ScalingEventStore persists completed scale actions.
type ScalingEventStore interface {
	Insert(ctx context.Context, event *models.ScalingEvent) error
}

// EventLogger writes every bus event to the structured log, keeps a bounded
// in-memory history and persists scaling activity when a store is set.
type EventLogger struct {
	store     ScalingEventStore
	eventChan <-chan *models.Event
	history   []*models.Event
	limit     int
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	started   atomic.Bool
}

// NewEventLogger consumes eventChan. store may be nil.
func NewEventLogger(store ScalingEventStore, eventChan <-chan *models.Event, historySize int) *EventLogger {
	if historySize <= 0 {
		historySize = 200
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &EventLogger{
		store:     store,
		eventChan: eventChan,
		limit:     historySize,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

func (l *EventLogger) Start() {
	if l.started.CompareAndSwap(false, true) {
		go l.run()
	}
}

// Stop ends consumption and waits for the in-progress event.
func (l *EventLogger) Stop() {
	l.cancel()
	if l.started.Load() {
		<-l.done
	}
}

func (l *EventLogger) run() {
	defer close(l.done)
	for {
		select {
		case <-l.ctx.Done():
			return
		case event, ok := <-l.eventChan:
			if !ok {
				return
			}
			l.processEvent(event)
		}
	}
}

func (l *EventLogger) processEvent(event *models.Event) {
	entry := logger.WithFields(map[string]interface{}{
		"event_type": event.Type,
		"group":      event.Group,
		"severity":   event.Severity,
		"trace_id":   event.TraceID,
	})
	if event.ServerID != "" {
		entry = entry.WithField("server_id", event.ServerID)
	}

	switch event.Severity {
	case models.SeverityCritical:
		entry.Error(event.Message)
	case models.SeverityWarning:
		entry.Warn(event.Message)
	default:
		if event.Type == models.EventTypeDecisionMade {
			entry.Debug(event.Message)
		} else {
			entry.Info(event.Message)
		}
	}

	l.remember(event)

	if event.Type == models.EventTypeScalingComplete {
		l.persistScalingEvent(event)
	}
}

func (l *EventLogger) remember(event *models.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.history = append(l.history, event)
	if over := len(l.history) - l.limit; over > 0 {
		l.history = append(l.history[:0:0], l.history[over:]...)
	}
}

// Recent returns up to limit events, newest first, optionally for one group.
func (l *EventLogger) Recent(group string, limit int) []*models.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*models.Event, 0)
	for i := len(l.history) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if group == "" || l.history[i].Group == group {
			out = append(out, l.history[i])
		}
	}
	return out
}

func (l *EventLogger) persistScalingEvent(event *models.Event) {
	if l.store == nil {
		return
	}
	scalingEvent, ok := event.Data.(*models.ScalingEvent)
	if !ok {
		return
	}

	record := *scalingEvent
	if err := l.store.Insert(l.ctx, &record); err != nil {
		logger.WithGroup(scalingEvent.Group).Errorf("Failed to persist scaling event: %v", err)
	}
}
