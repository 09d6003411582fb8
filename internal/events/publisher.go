package events

import (
	"fmt"

	"github.com/OldStager01/fleet-autoscaler/pkg/models"
)

// Publisher is the typed front of the bus. A nil Publisher drops every
// event, so components can run without a bus in tests and tools.
type Publisher struct {
	bus     *EventBus
	traceID string
}

func NewPublisher(bus *EventBus) *Publisher {
	return &Publisher{bus: bus}
}

func (p *Publisher) WithTraceID(traceID string) *Publisher {
	if p == nil {
		return nil
	}
	return &Publisher{
		bus:     p.bus,
		traceID: traceID,
	}
}

func (p *Publisher) publish(event *models.Event) {
	if p == nil || p.bus == nil {
		return
	}
	if p.traceID != "" {
		event.TraceID = p.traceID
	}
	p.bus.Publish(event)
}

func (p *Publisher) DecisionMade(group string, decision *models.ScalingDecision) {
	msg := "Scaling decision: " + string(decision.Action)
	event := models.NewEvent(models.EventTypeDecisionMade, group, msg).
		WithData(decision)
	p.publish(event)
}

func (p *Publisher) ScalingStarted(group string, decision *models.ScalingDecision) {
	msg := "Scaling started: " + string(decision.Action)
	event := models.NewEvent(models.EventTypeScalingStarted, group, msg).
		WithData(decision)
	p.publish(event)
}

func (p *Publisher) ScalingComplete(group string, scalingEvent *models.ScalingEvent) {
	event := models.NewEvent(models.EventTypeScalingComplete, group, scalingEvent.Summary()).
		WithData(scalingEvent)
	if scalingEvent.Status == models.ScalingEventPartial {
		event.WithSeverity(models.SeverityWarning)
	}
	p.publish(event)
}

func (p *Publisher) ScalingFailed(group string, reason string, err error) {
	msg := "Scaling failed: " + reason
	event := models.NewEvent(models.EventTypeScalingFailed, group, msg).
		WithSeverity(models.SeverityCritical).
		WithData(map[string]interface{}{
			"reason": reason,
			"error":  err.Error(),
		})
	p.publish(event)
}

func (p *Publisher) ServerAdded(server *models.ServerRecord) {
	event := models.NewEvent(models.EventTypeServerAdded, server.Group, "Server added: "+server.Name).
		WithServer(server.ServerID).
		WithData(server)
	p.publish(event)
}

func (p *Publisher) ServerRemoved(server *models.ServerRecord) {
	event := models.NewEvent(models.EventTypeServerRemoved, server.Group, "Server removed: "+server.Name).
		WithServer(server.ServerID).
		WithData(server)
	p.publish(event)
}

func (p *Publisher) ServerUpdated(server *models.ServerRecord, previous models.ServerStatus) {
	msg := fmt.Sprintf("Server %s: %s -> %s", server.Name, previous, server.Status())
	event := models.NewEvent(models.EventTypeServerUpdated, server.Group, msg).
		WithServer(server.ServerID).
		WithData(server)
	if server.Status() == models.StatusError {
		event.WithSeverity(models.SeverityWarning)
	}
	p.publish(event)
}

func (p *Publisher) GroupPaused(group string) {
	p.publish(models.NewEvent(models.EventTypeGroupPaused, group, "Scaling paused"))
}

func (p *Publisher) GroupResumed(group string) {
	p.publish(models.NewEvent(models.EventTypeGroupResumed, group, "Scaling resumed"))
}

func (p *Publisher) Alert(group string, severity models.EventSeverity, message string, data interface{}) {
	event := models.NewEvent(models.EventTypeAlert, group, message).
		WithSeverity(severity).
		WithData(data)
	p.publish(event)
}

func (p *Publisher) Error(group string, message string, err error) {
	event := models.NewEvent(models.EventTypeError, group, message).
		WithSeverity(models.SeverityCritical).
		WithData(map[string]interface{}{
			"error": err.Error(),
		})
	p.publish(event)
}
