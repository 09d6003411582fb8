package scaler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OldStager01/fleet-autoscaler/pkg/models"
)

func TestScheduler_StartRunsImmediateCheck(t *testing.T) {
	r, p := newTestRegistry(t, lobbyGroup())
	scheduler := NewScheduler(r, time.Hour, 0)

	require.NoError(t, scheduler.Start())
	defer scheduler.Stop()
	assert.True(t, scheduler.IsRunning())

	lobby, _ := r.Get("lobby")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, lobby.Wait(ctx))

	assert.Equal(t, 1, p.createCount())
	assert.Len(t, lobby.AutoScaledServers(), 1)
}

func TestScheduler_StopIsIdempotent(t *testing.T) {
	r, _ := newTestRegistry(t, survivalGroup())
	scheduler := NewScheduler(r, time.Hour, 0)

	require.NoError(t, scheduler.Start())
	scheduler.Stop()
	scheduler.Stop()
	assert.False(t, scheduler.IsRunning())
}

func TestScheduler_SchedulesEnabledCronJobs(t *testing.T) {
	disabled := false
	group := survivalGroup()
	group.CronJobs = []models.CronJob{
		{Name: "hourly", Schedule: "@every 1h"},
		{Name: "nightly", Schedule: "0 4 * * *"},
		{Name: "off", Schedule: "0 5 * * *", Enabled: &disabled},
	}
	r, _ := newTestRegistry(t, group)
	scheduler := NewScheduler(r, time.Hour, 0)

	require.NoError(t, scheduler.Start())
	defer scheduler.Stop()

	// the global check plus two jobs
	assert.Len(t, scheduler.cron.Entries(), 3)

	require.NoError(t, scheduler.SyncJobs())
	assert.Len(t, scheduler.cron.Entries(), 3)
}

func TestScheduler_RejectsInvalidSchedule(t *testing.T) {
	group := survivalGroup()
	group.CronJobs = []models.CronJob{{Name: "bad", Schedule: "every tuesday"}}
	r, _ := newTestRegistry(t, group)
	scheduler := NewScheduler(r, time.Hour, 0)

	err := scheduler.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cron job bad")
	assert.False(t, scheduler.IsRunning())
}
