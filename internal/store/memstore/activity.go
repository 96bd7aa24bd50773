package memstore

import (
	"context"

	"github.com/google/uuid"

	"lattices/api/internal/store"
)

type activityRepo struct{ u *unitOfWork }

func (r activityRepo) Create(_ context.Context, entry *store.ActivityLog) error {
	if err := r.u.check(); err != nil {
		return err
	}
	r.u.d.activities = append(r.u.d.activities, *entry)
	return nil
}

// newest first
func (r activityRepo) filtered(keep func(store.ActivityLog) bool) []store.ActivityLog {
	items := make([]store.ActivityLog, 0)
	for i := len(r.u.d.activities) - 1; i >= 0; i-- {
		if keep(r.u.d.activities[i]) {
			items = append(items, r.u.d.activities[i])
		}
	}
	return items
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return items[:0]
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func (r activityRepo) ListForWorkspace(_ context.Context, workspaceID uuid.UUID, limit, offset int) ([]store.ActivityLog, error) {
	items := r.filtered(func(e store.ActivityLog) bool { return e.WorkspaceID == workspaceID })
	return paginate(items, limit, offset), nil
}

func (r activityRepo) ListForEntity(_ context.Context, workspaceID uuid.UUID, entityType string, entityID uuid.UUID, limit int) ([]store.ActivityLog, error) {
	items := r.filtered(func(e store.ActivityLog) bool {
		return e.WorkspaceID == workspaceID && e.EntityType == entityType && e.EntityID == entityID
	})
	return paginate(items, limit, 0), nil
}
