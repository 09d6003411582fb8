package queries

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/OldStager01/fleet-autoscaler/pkg/models"
)

type ScalingEventRepository struct {
	db *sql.DB
}

func NewScalingEventRepository(db *sql.DB) *ScalingEventRepository {
	return &ScalingEventRepository{db: db}
}

const scalingEventColumns = `id, group_name, timestamp, action, trigger_type, servers_before, servers_after,
	servers_added, servers_removed, trigger_reason, status, error`

func (r *ScalingEventRepository) GetByGroup(ctx context.Context, group string, from, to time.Time, limit int) ([]*models.ScalingEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + scalingEventColumns + `
		FROM scaling_events
		WHERE group_name = $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY timestamp DESC
		LIMIT $4`

	rows, err := r.db.QueryContext(ctx, query, group, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanScalingEvents(rows)
}

func (r *ScalingEventRepository) GetRecent(ctx context.Context, limit int) ([]*models.ScalingEvent, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT ` + scalingEventColumns + `
		FROM scaling_events
		ORDER BY timestamp DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanScalingEvents(rows)
}

func scanScalingEvents(rows *sql.Rows) ([]*models.ScalingEvent, error) {
	events := make([]*models.ScalingEvent, 0)
	for rows.Next() {
		var e models.ScalingEvent
		var action, trigger, status string
		var errText sql.NullString
		err := rows.Scan(
			&e.ID, &e.Group, &e.Timestamp, &action, &trigger,
			&e.ServersBefore, &e.ServersAfter,
			pq.Array(&e.ServersAdded), pq.Array(&e.ServersRemoved),
			&e.TriggerReason, &status, &errText,
		)
		if err != nil {
			return nil, err
		}
		e.Action = models.ScalingAction(action)
		e.Trigger = models.Trigger(trigger)
		e.Status = models.ScalingEventStatus(status)
		e.Error = errText.String
		events = append(events, &e)
	}

	return events, rows.Err()
}

func (r *ScalingEventRepository) GetStats(ctx context.Context, group string, from, to time.Time) (*ScalingStats, error) {
	query := `
		SELECT 
			COUNT(*) FILTER (WHERE action = 'SCALE_UP') AS scale_up_count,
			COUNT(*) FILTER (WHERE action = 'SCALE_DOWN') AS scale_down_count,
			COUNT(*) FILTER (WHERE status = 'success') AS success_count,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed_count,
			COUNT(*) FILTER (WHERE trigger_type = 'manual') AS manual_count
		FROM scaling_events
		WHERE group_name = $1 AND timestamp >= $2 AND timestamp <= $3`

	var stats ScalingStats
	err := r.db.QueryRowContext(ctx, query, group, from, to).Scan(
		&stats.ScaleUpCount, &stats.ScaleDownCount,
		&stats.SuccessCount, &stats.FailedCount, &stats.ManualCount,
	)

	if err != nil {
		return nil, err
	}

	stats.Group = group
	stats.From = from
	stats.To = to

	return &stats, nil
}

func (r *ScalingEventRepository) Insert(ctx context.Context, event *models.ScalingEvent) error {
	query := `
		INSERT INTO scaling_events 
			(group_name, timestamp, action, trigger_type, servers_before, servers_after,
			 servers_added, servers_removed, trigger_reason, status, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''))
		RETURNING id`

	return r.db.QueryRowContext(ctx, query,
		event.Group,
		event.Timestamp,
		string(event.Action),
		string(event.Trigger),
		event.ServersBefore,
		event.ServersAfter,
		pq.Array(nonNil(event.ServersAdded)),
		pq.Array(nonNil(event.ServersRemoved)),
		event.TriggerReason,
		string(event.Status),
		event.Error,
	).Scan(&event.ID)
}

type ScalingStats struct {
	Group          string    `json:"group"`
	From           time.Time `json:"from"`
	To             time.Time `json:"to"`
	ScaleUpCount   int       `json:"scale_up_count"`
	ScaleDownCount int       `json:"scale_down_count"`
	SuccessCount   int       `json:"success_count"`
	FailedCount    int       `json:"failed_count"`
	ManualCount    int       `json:"manual_count"`
}

func nonNil(names []string) []string {
	if names == nil {
		return []string{}
	}
	return names
}
