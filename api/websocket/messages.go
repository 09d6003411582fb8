package websocket

import (
	"encoding/json"
	"time"

	"github.com/OldStager01/fleet-autoscaler/pkg/models"
)

type MessageType string

const (
	MessageTypeScalingEvent MessageType = "scaling_event"
	MessageTypeScalingFail  MessageType = "scaling_failed"
	MessageTypeDecision     MessageType = "decision"
	MessageTypeServerUpdate MessageType = "server_update"
	MessageTypeGroupState   MessageType = "group_state"
	MessageTypeAlert        MessageType = "alert"
	MessageTypeError        MessageType = "error"
	MessageTypeSubscription MessageType = "subscription_update"
	MessageTypeLog          MessageType = "log"
)

type OutgoingMessage struct {
	Type      MessageType `json:"type"`
	Group     string      `json:"group,omitempty"`
	ServerID  string      `json:"server_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Severity  string      `json:"severity,omitempty"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

func NewMessage(msgType MessageType, group string, data interface{}) *OutgoingMessage {
	return &OutgoingMessage{
		Type:      msgType,
		Group:     group,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func (m *OutgoingMessage) JSON() []byte {
	data, _ := json.Marshal(m)
	return data
}

type ScalingEventData struct {
	Action         string   `json:"action"`
	Trigger        string   `json:"trigger"`
	ServersBefore  int      `json:"servers_before"`
	ServersAfter   int      `json:"servers_after"`
	ServersAdded   []string `json:"servers_added,omitempty"`
	ServersRemoved []string `json:"servers_removed,omitempty"`
	Reason         string   `json:"reason"`
	Status         string   `json:"status"`
	Summary        string   `json:"summary"`
}

type GroupStateData struct {
	Utilization   float64                     `json:"utilization"`
	TotalServers  int                         `json:"total_servers"`
	AutoServers   int                         `json:"auto_servers"`
	ManualServers int                         `json:"manual_servers"`
	OnlinePlayers int                         `json:"online_players"`
	StatusCounts  map[models.ServerStatus]int `json:"status_counts"`
	Paused        bool                        `json:"paused"`
	Condition     string                      `json:"condition"`
}

// messageType maps bus events onto client message types. Events without a
// mapping are not forwarded.
func messageType(eventType models.EventType) MessageType {
	switch eventType {
	case models.EventTypeScalingComplete:
		return MessageTypeScalingEvent
	case models.EventTypeScalingFailed:
		return MessageTypeScalingFail
	case models.EventTypeDecisionMade:
		return MessageTypeDecision
	case models.EventTypeServerAdded, models.EventTypeServerRemoved, models.EventTypeServerUpdated:
		return MessageTypeServerUpdate
	case models.EventTypeGroupPaused, models.EventTypeGroupResumed:
		return MessageTypeGroupState
	case models.EventTypeAlert:
		return MessageTypeAlert
	case models.EventTypeError:
		return MessageTypeError
	default:
		return ""
	}
}

func toMessage(event *models.Event) *OutgoingMessage {
	msgType := messageType(event.Type)
	if msgType == "" {
		return nil
	}

	msg := &OutgoingMessage{
		Type:      msgType,
		Group:     event.Group,
		ServerID:  event.ServerID,
		Timestamp: event.Timestamp,
		Severity:  string(event.Severity),
		Message:   event.Message,
		Data:      event.Data,
	}
	if scalingEvent, ok := event.Data.(*models.ScalingEvent); ok {
		msg.Data = ScalingEventData{
			Action:         string(scalingEvent.Action),
			Trigger:        string(scalingEvent.Trigger),
			ServersBefore:  scalingEvent.ServersBefore,
			ServersAfter:   scalingEvent.ServersAfter,
			ServersAdded:   scalingEvent.ServersAdded,
			ServersRemoved: scalingEvent.ServersRemoved,
			Reason:         scalingEvent.TriggerReason,
			Status:         string(scalingEvent.Status),
			Summary:        scalingEvent.Summary(),
		}
	}
	return msg
}

func groupState(status models.GroupStatus) *OutgoingMessage {
	return NewMessage(MessageTypeGroupState, status.Group, GroupStateData{
		Utilization:   status.Utilization,
		TotalServers:  status.TotalServers,
		AutoServers:   status.AutoServers,
		ManualServers: status.ManualServers,
		OnlinePlayers: status.OnlinePlayers,
		StatusCounts:  status.StatusCounts,
		Paused:        status.Paused,
		Condition:     status.Condition,
	})
}
