package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type pgActivities struct{ q querier }

const activityColumns = `id, workspace_id, actor_id, action, entity_type, entity_id, changes, metadata, created_at`

func scanActivity(row scanner) (ActivityLog, error) {
	var (
		a                 ActivityLog
		changes, metadata []byte
	)
	if err := row.Scan(&a.ID, &a.WorkspaceID, &a.ActorID, &a.Action, &a.EntityType, &a.EntityID, &changes, &metadata, &a.CreatedAt); err != nil {
		return ActivityLog{}, err
	}
	var err error
	if a.Changes, err = decodeJSON[FieldChange](changes); err != nil {
		return ActivityLog{}, err
	}
	if a.Metadata, err = decodeJSON[any](metadata); err != nil {
		return ActivityLog{}, err
	}
	return a, nil
}

func (r pgActivities) Create(ctx context.Context, a *ActivityLog) error {
	changes, err := jsonArg(a.Changes)
	if err != nil {
		return err
	}
	metadata, err := jsonArg(a.Metadata)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO activity_log (`+activityColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, a.ID, a.WorkspaceID, a.ActorID, a.Action, a.EntityType, a.EntityID, changes, metadata, a.CreatedAt)
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (r pgActivities) ListForWorkspace(ctx context.Context, workspaceID uuid.UUID, limit, offset int) ([]ActivityLog, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+activityColumns+` FROM activity_log
		WHERE workspace_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, workspaceID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	return collect(rows, scanActivity)
}

func (r pgActivities) ListForEntity(ctx context.Context, workspaceID uuid.UUID, entityType string, entityID uuid.UUID, limit int) ([]ActivityLog, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+activityColumns+` FROM activity_log
		WHERE workspace_id = $1 AND entity_type = $2 AND entity_id = $3
		ORDER BY created_at DESC
		LIMIT $4
	`, workspaceID, entityType, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("list entity history: %w", err)
	}
	return collect(rows, scanActivity)
}
