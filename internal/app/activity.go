package app

import (
	"context"
	"reflect"
	"sort"
	"time"

	"github.com/google/uuid"

	"lattices/api/internal/rbac"
	"lattices/api/internal/store"
)

const (
	ActionTodoCreated          = "todo.created"
	ActionTodoUpdated          = "todo.updated"
	ActionTodoCompleted        = "todo.completed"
	ActionTodoUncompleted      = "todo.uncompleted"
	ActionTodoDeleted          = "todo.deleted"
	ActionTodoMoved            = "todo.moved"
	ActionTodoWorkspaceChanged = "todo.workspace_changed"

	ActionTagCreated  = "tag.created"
	ActionTagUpdated  = "tag.updated"
	ActionTagDeleted  = "tag.deleted"
	ActionTagAttached = "tag.attached"
	ActionTagDetached = "tag.detached"

	ActionWorkspaceUpdated = "workspace.updated"

	ActionMemberAdded                = "member.added"
	ActionMemberRemoved              = "member.removed"
	ActionMemberLeft                 = "member.left"
	ActionMemberRoleChanged          = "member.role_changed"
	ActionMemberOwnershipTransferred = "member.ownership_transferred"

	ActionInvitationCreated  = "invitation.created"
	ActionInvitationAccepted = "invitation.accepted"
	ActionInvitationRevoked  = "invitation.revoked"

	ActionGroupCreated       = "group.created"
	ActionGroupUpdated       = "group.updated"
	ActionGroupDeleted       = "group.deleted"
	ActionGroupMemberAdded   = "group.member_added"
	ActionGroupMemberRemoved = "group.member_removed"
)

// ActivityEntry is the input to ActivityService.Log.
type ActivityEntry struct {
	WorkspaceID uuid.UUID
	ActorID     uuid.UUID
	Action      string
	EntityType  string
	EntityID    uuid.UUID
	Changes     map[string]store.FieldChange
	Metadata    map[string]any
}

// ActivityService appends audit entries. Log participates in the caller's
// unit of work; the Get methods open their own.
type ActivityService struct {
	factory store.Factory
	now     func() time.Time
}

// Log appends one entry. It never commits.
func (s *ActivityService) Log(ctx context.Context, uow store.UnitOfWork, entry ActivityEntry) (*store.ActivityLog, error) {
	record := &store.ActivityLog{
		ID:          uuid.New(),
		WorkspaceID: entry.WorkspaceID,
		ActorID:     entry.ActorID,
		Action:      entry.Action,
		EntityType:  entry.EntityType,
		EntityID:    entry.EntityID,
		Changes:     entry.Changes,
		Metadata:    entry.Metadata,
		CreatedAt:   s.now(),
	}
	if err := uow.Activities().Create(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// ComputeDiff returns the fields whose values differ between before and
// after. Keys present on one side only are compared against nil.
func ComputeDiff(before, after map[string]any) map[string]store.FieldChange {
	keys := make(map[string]struct{}, len(before)+len(after))
	for k := range before {
		keys[k] = struct{}{}
	}
	for k := range after {
		keys[k] = struct{}{}
	}

	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)

	changes := make(map[string]store.FieldChange)
	for _, k := range names {
		if !reflect.DeepEqual(before[k], after[k]) {
			changes[k] = store.FieldChange{Old: before[k], New: after[k]}
		}
	}
	return changes
}

func (s *ActivityService) GetWorkspaceActivity(ctx context.Context, workspaceID, userID uuid.UUID, limit, offset int) ([]store.ActivityLog, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var items []store.ActivityLog
	err := store.Run(ctx, s.factory, func(uow store.UnitOfWork) error {
		if _, _, err := authorize(ctx, uow, workspaceACL(workspaceID), userID, rbac.RoleViewer); err != nil {
			return err
		}
		var err error
		items, err = uow.Activities().ListForWorkspace(ctx, workspaceID, limit, offset)
		return err
	})
	return items, err
}

func (s *ActivityService) GetEntityHistory(ctx context.Context, workspaceID, userID uuid.UUID, entityType string, entityID uuid.UUID, limit int) ([]store.ActivityLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var items []store.ActivityLog
	err := store.Run(ctx, s.factory, func(uow store.UnitOfWork) error {
		if _, _, err := authorize(ctx, uow, workspaceACL(workspaceID), userID, rbac.RoleViewer); err != nil {
			return err
		}
		var err error
		items, err = uow.Activities().ListForEntity(ctx, workspaceID, entityType, entityID, limit)
		return err
	})
	return items, err
}
