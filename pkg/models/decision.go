package models

import "time"

type ScalingAction string

const (
	ActionScaleUp   ScalingAction = "SCALE_UP"
	ActionScaleDown ScalingAction = "SCALE_DOWN"
	ActionMaintain  ScalingAction = "MAINTAIN"
)

// ScalingDecision is the outcome of one automatic check of a group.
type ScalingDecision struct {
	Group          string        `json:"group"`
	Timestamp      time.Time     `json:"timestamp"`
	Action         ScalingAction `json:"action"`
	Utilization    float64       `json:"utilization"`
	CurrentServers int           `json:"current_servers"`
	TargetServers  int           `json:"target_servers"`
	Reason         string        `json:"reason"`
	CooldownActive bool          `json:"cooldown_active"`
}

func (d *ScalingDecision) ShouldExecute() bool {
	return d.Action != ActionMaintain && !d.CooldownActive
}
