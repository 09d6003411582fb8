package models

import "time"

type ScalingEventStatus string

const (
	ScalingEventSuccess ScalingEventStatus = "success"
	ScalingEventFailed  ScalingEventStatus = "failed"
	ScalingEventPartial ScalingEventStatus = "partial"
)

type Trigger string

const (
	TriggerAutomatic Trigger = "automatic"
	TriggerManual    Trigger = "manual"
)

// ScalingEvent is the recorded activity of one completed scale action.
type ScalingEvent struct {
	ID             int                `json:"id"`
	Group          string             `json:"group"`
	Timestamp      time.Time          `json:"timestamp"`
	Action         ScalingAction      `json:"action"`
	Trigger        Trigger            `json:"trigger"`
	ServersBefore  int                `json:"servers_before"`
	ServersAfter   int                `json:"servers_after"`
	ServersAdded   []string           `json:"servers_added,omitempty"`
	ServersRemoved []string           `json:"servers_removed,omitempty"`
	TriggerReason  string             `json:"trigger_reason"`
	Status         ScalingEventStatus `json:"status"`
	Error          string             `json:"error,omitempty"`
}

func NewScalingEvent(decision ScalingDecision, trigger Trigger, status ScalingEventStatus) *ScalingEvent {
	return &ScalingEvent{
		Group:         decision.Group,
		Timestamp:     decision.Timestamp,
		Action:        decision.Action,
		Trigger:       trigger,
		ServersBefore: decision.CurrentServers,
		ServersAfter:  decision.TargetServers,
		TriggerReason: decision.Reason,
		Status:        status,
	}
}

// Summary renders the activity line shown to operators.
func (e *ScalingEvent) Summary() string {
	verb := "Auto-scaled"
	if e.Trigger == TriggerManual {
		verb = "Manually scaled"
	}
	return verb + " " + e.Group + ": " + itoa(e.ServersBefore) + "→" + itoa(e.ServersAfter) + " servers"
}
