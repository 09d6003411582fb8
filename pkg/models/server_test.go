package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to ServerStatus
		want     bool
	}{
		{StatusStarting, StatusRunning, true},
		{StatusRunning, StatusStopping, true},
		{StatusStopping, StatusStopped, true},
		{StatusStopped, StatusStarting, true},
		{StatusRunning, StatusError, true},
		{StatusStopped, StatusError, true},
		{StatusRunning, StatusRunning, true},
		{StatusRunning, StatusStarting, false},
		{StatusStopped, StatusRunning, false},
		{StatusStopping, StatusRunning, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestServerRecord_SetStatus(t *testing.T) {
	s := NewServerRecord("lobby", "lobby-1", ServerTypeDynamic, false)
	require.Equal(t, StatusStarting, s.Status())

	require.NoError(t, s.SetStatus(StatusRunning))
	s.SetPlayers(3, []string{"a", "b", "c"})

	require.NoError(t, s.SetStatus(StatusStopping))
	assert.Equal(t, 0, s.Info.OnlinePlayers)
	assert.Empty(t, s.Info.OnlinePlayerNames)

	err := s.SetStatus(StatusRunning)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusStopping, s.Status())
}

func TestServerRecord_SetPlayersCapsAtCapacity(t *testing.T) {
	s := NewServerRecord("lobby", "lobby-1", ServerTypeDynamic, false)
	s.Info.MaxPlayers = 10

	s.SetPlayers(15, nil)
	assert.Equal(t, 10, s.Info.OnlinePlayers)

	s.SetPlayers(-2, nil)
	assert.Equal(t, 0, s.Info.OnlinePlayers)
}

func TestServerRecord_CloneIsIndependent(t *testing.T) {
	s := NewServerRecord("lobby", "lobby-1", ServerTypeStatic, true)
	require.NoError(t, s.SetStatus(StatusRunning))
	s.SetPlayers(2, []string{"alice", "bob"})

	c := s.Clone()
	c.Info.OnlinePlayerNames[0] = "mallory"
	c.Name = "other"

	assert.Equal(t, "alice", s.Info.OnlinePlayerNames[0])
	assert.Equal(t, "lobby-1", s.Name)
	assert.True(t, c.ManuallyScaled)
}

func TestGroupConfig_Defaults(t *testing.T) {
	g := &GroupConfig{Name: "lobby"}

	assert.Equal(t, ScalerTypeNormal, g.ScalerType())
	assert.Equal(t, ServerTypeDynamic, g.ServerType())
	assert.Equal(t, DefaultMaxPlayers, g.MaxPlayers())
	assert.Equal(t, "lobby", g.Label())
	assert.False(t, g.IsUnlimited())

	g.Scaling.Type = "proxy"
	g.Server.Type = "static"
	g.Server.MaxServers = UnlimitedServers
	assert.Equal(t, ScalerTypeProxy, g.ScalerType())
	assert.Equal(t, ServerTypeStatic, g.ServerType())
	assert.True(t, g.IsUnlimited())
}

func TestScalingEvent_Summary(t *testing.T) {
	e := NewScalingEvent(ScalingDecision{Group: "lobby", CurrentServers: 1, TargetServers: 2}, TriggerAutomatic, ScalingEventSuccess)
	assert.Equal(t, "Auto-scaled lobby: 1→2 servers", e.Summary())

	e.Trigger = TriggerManual
	assert.Equal(t, "Manually scaled lobby: 1→2 servers", e.Summary())
}
