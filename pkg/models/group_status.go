package models

import "time"

// GroupStatus is the reporting view of one group's engine.
type GroupStatus struct {
	Group             string               `json:"group"`
	DisplayName       string               `json:"display_name"`
	Utilization       float64              `json:"utilization"`
	TotalServers      int                  `json:"total_servers"`
	AutoServers       int                  `json:"auto_servers"`
	ManualServers     int                  `json:"manual_servers"`
	StatusCounts      map[ServerStatus]int `json:"status_counts"`
	OnlinePlayers     int                  `json:"online_players"`
	Capacity          int                  `json:"capacity"`
	MinServers        int                  `json:"min_servers"`
	MaxServers        int                  `json:"max_servers"`
	Paused            bool                 `json:"paused"`
	PendingRemovals   int                  `json:"pending_removals"`
	LastScaleTime     *time.Time           `json:"last_scale_time,omitempty"`
	CooldownRemaining time.Duration        `json:"cooldown_remaining"`
	Condition         string               `json:"condition"`
	Summary           string               `json:"summary"`
}

func (gs *GroupStatus) Count(status ServerStatus) int {
	return gs.StatusCounts[status]
}
