package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"lattices/api/internal/auth"
	"lattices/api/internal/rbac"
	"lattices/api/internal/store"
)

const entityGroup = "group"

type GroupUpdate struct {
	Name        *string
	Description Optional[string]
}

// GroupService manages workspace sub-teams. Workspace Admins manage every
// group; a group Admin manages only their own group.
type GroupService struct {
	factory       store.Factory
	now           func() time.Time
	activity      *ActivityService
	notifications *NotificationService
}

func (s *GroupService) GetForWorkspace(ctx context.Context, workspaceID, userID uuid.UUID) ([]store.Group, error) {
	var groups []store.Group
	err := store.Run(ctx, s.factory, func(uow store.UnitOfWork) error {
		if _, _, err := authorize(ctx, uow, workspaceACL(workspaceID), userID, rbac.RoleViewer); err != nil {
			return err
		}
		var err error
		groups, err = uow.Groups().ListForWorkspace(ctx, workspaceID)
		return err
	})
	return groups, err
}

func (s *GroupService) GetByID(ctx context.Context, workspaceID, groupID, userID uuid.UUID) (*store.Group, error) {
	var group *store.Group
	err := store.Run(ctx, s.factory, func(uow store.UnitOfWork) error {
		var err error
		group, _, err = authorize(ctx, uow, groupACL(workspaceID, groupID), userID, rbac.RoleViewer)
		return err
	})
	return group, err
}

// Create adds the creator as the group's first Admin.
func (s *GroupService) Create(ctx context.Context, workspaceID, userID uuid.UUID, name string, description *string) (*store.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("name is required")
	}

	var group *store.Group
	err := store.Within(ctx, s.factory, func(uow store.UnitOfWork) error {
		if _, _, err := authorize(ctx, uow, workspaceACL(workspaceID), userID, rbac.RoleAdmin); err != nil {
			return err
		}
		now := s.now()
		group = &store.Group{
			ID:          uuid.New(),
			WorkspaceID: workspaceID,
			Name:        name,
			Description: description,
			CreatedBy:   userID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := uow.Groups().Create(ctx, group); err != nil {
			if errors.Is(err, store.ErrUniqueViolation) {
				return validationError("a group with this name already exists")
			}
			return err
		}
		if err := uow.Groups().AddMember(ctx, &store.GroupMember{
			GroupID:  group.ID,
			UserID:   userID,
			Role:     rbac.GroupRoleAdmin,
			JoinedAt: now,
		}); err != nil {
			return err
		}
		return s.log(ctx, uow, group, userID, ActionGroupCreated, nil, map[string]any{"name": group.Name})
	})
	if err != nil {
		return nil, err
	}
	return group, nil
}

func (s *GroupService) Update(ctx context.Context, workspaceID, groupID, userID uuid.UUID, in GroupUpdate) (*store.Group, error) {
	var group *store.Group
	err := store.Within(ctx, s.factory, func(uow store.UnitOfWork) error {
		var err error
		group, err = s.requireManager(ctx, uow, workspaceID, groupID, userID)
		if err != nil {
			return err
		}

		before := map[string]any{"name": group.Name, "description": derefString(group.Description)}
		if in.Name != nil {
			name := strings.TrimSpace(*in.Name)
			if name == "" {
				return validationError("name is required")
			}
			group.Name = name
		}
		if in.Description.IsSet() {
			group.Description = in.Description.Ptr()
		}
		changes := ComputeDiff(before, map[string]any{"name": group.Name, "description": derefString(group.Description)})
		if len(changes) == 0 {
			return nil
		}

		group.UpdatedAt = s.now()
		if err := uow.Groups().Update(ctx, group); err != nil {
			if errors.Is(err, store.ErrUniqueViolation) {
				return validationError("a group with this name already exists")
			}
			return err
		}
		return s.log(ctx, uow, group, userID, ActionGroupUpdated, changes, nil)
	})
	if err != nil {
		return nil, err
	}
	return group, nil
}

func (s *GroupService) Delete(ctx context.Context, workspaceID, groupID, userID uuid.UUID) error {
	return store.Within(ctx, s.factory, func(uow store.UnitOfWork) error {
		group, _, err := authorize(ctx, uow, groupACL(workspaceID, groupID), userID, rbac.RoleAdmin)
		if err != nil {
			return err
		}
		if err := s.log(ctx, uow, group, userID, ActionGroupDeleted, nil, map[string]any{"name": group.Name}); err != nil {
			return err
		}
		return uow.Groups().Delete(ctx, group.ID)
	})
}

func (s *GroupService) GetMembers(ctx context.Context, workspaceID, groupID, userID uuid.UUID) ([]store.GroupMember, error) {
	var members []store.GroupMember
	err := store.Run(ctx, s.factory, func(uow store.UnitOfWork) error {
		if _, _, err := authorize(ctx, uow, groupACL(workspaceID, groupID), userID, rbac.RoleViewer); err != nil {
			return err
		}
		var err error
		members, err = uow.Groups().ListMembers(ctx, groupID)
		return err
	})
	return members, err
}

// AddMember requires the target to already belong to the workspace.
func (s *GroupService) AddMember(ctx context.Context, workspaceID, groupID uuid.UUID, actor auth.Principal, targetID uuid.UUID, role rbac.GroupRole) (*store.GroupMember, error) {
	if role != rbac.GroupRoleAdmin {
		role = rbac.GroupRoleMember
	}

	var member *store.GroupMember
	err := store.Within(ctx, s.factory, func(uow store.UnitOfWork) error {
		group, err := s.requireManager(ctx, uow, workspaceID, groupID, actor.ID)
		if err != nil {
			return err
		}

		wsMember, err := uow.Workspaces().GetMember(ctx, workspaceID, targetID)
		if err != nil {
			return err
		}
		if wsMember == nil {
			return notAMember(workspaceID, targetID)
		}
		existing, err := uow.Groups().GetMember(ctx, groupID, targetID)
		if err != nil {
			return err
		}
		if existing != nil {
			return alreadyAGroupMember(groupID, targetID)
		}

		member = &store.GroupMember{
			GroupID:  groupID,
			UserID:   targetID,
			Role:     role,
			JoinedAt: s.now(),
		}
		if err := uow.Groups().AddMember(ctx, member); err != nil {
			if errors.Is(err, store.ErrUniqueViolation) {
				return alreadyAGroupMember(groupID, targetID)
			}
			return err
		}

		if err := s.log(ctx, uow, group, actor.ID, ActionGroupMemberAdded, nil, map[string]any{
			"user_id": targetID.String(),
			"role":    string(role),
		}); err != nil {
			return err
		}
		_, err = s.notifications.Notify(ctx, uow, NotifyParams{
			TypeName:     store.NotifyGroupMemberAdded,
			WorkspaceID:  workspaceID,
			ActorID:      actor.ID,
			EntityType:   entityGroup,
			EntityID:     groupID,
			RecipientIDs: []uuid.UUID{targetID},
			Metadata: map[string]any{
				"actor_name": actor.DisplayName(),
				"group_name": group.Name,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return member, nil
}

// RemoveMember lets members leave on their own; removing anyone else needs
// a group manager.
func (s *GroupService) RemoveMember(ctx context.Context, workspaceID, groupID, userID, targetID uuid.UUID) error {
	return store.Within(ctx, s.factory, func(uow store.UnitOfWork) error {
		group, err := groupACL(workspaceID, groupID).load(ctx, uow)
		if err != nil {
			return err
		}
		if group == nil {
			return groupNotFound(groupID)
		}
		target, err := uow.Groups().GetMember(ctx, groupID, targetID)
		if err != nil {
			return err
		}
		if target == nil {
			return groupMemberNotFound(groupID, targetID)
		}
		if userID != targetID {
			if _, err := s.requireManager(ctx, uow, workspaceID, groupID, userID); err != nil {
				return err
			}
		}

		if _, err := uow.Groups().RemoveMember(ctx, groupID, targetID); err != nil {
			return err
		}
		return s.log(ctx, uow, group, userID, ActionGroupMemberRemoved, nil, map[string]any{"user_id": targetID.String()})
	})
}

// requireManager passes workspace Admins and Admins of this group.
func (s *GroupService) requireManager(ctx context.Context, uow store.UnitOfWork, workspaceID, groupID, userID uuid.UUID) (*store.Group, error) {
	group, wsMember, err := authorize(ctx, uow, groupACL(workspaceID, groupID), userID, rbac.RoleViewer)
	if err != nil {
		return nil, err
	}
	if rbac.HasPermission(wsMember.Role, rbac.RoleAdmin) {
		return group, nil
	}
	member, err := uow.Groups().GetMember(ctx, groupID, userID)
	if err != nil {
		return nil, err
	}
	if member != nil && member.Role == rbac.GroupRoleAdmin {
		return group, nil
	}
	return nil, requiresRole(rbac.RoleAdmin)
}

func (s *GroupService) log(ctx context.Context, uow store.UnitOfWork, group *store.Group, actorID uuid.UUID, action string, changes map[string]store.FieldChange, metadata map[string]any) error {
	_, err := s.activity.Log(ctx, uow, ActivityEntry{
		WorkspaceID: group.WorkspaceID,
		ActorID:     actorID,
		Action:      action,
		EntityType:  entityGroup,
		EntityID:    group.ID,
		Changes:     changes,
		Metadata:    metadata,
	})
	return err
}
