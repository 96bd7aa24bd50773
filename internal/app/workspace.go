package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lattices/api/internal/auth"
	"lattices/api/internal/rbac"
	"lattices/api/internal/store"
	"lattices/api/internal/util"
)

const (
	entityWorkspace = "workspace"
	entityMember    = "member"

	personalWorkspaceName = "Personal"
)

type WorkspaceUpdate struct {
	Name        *string
	Description Optional[string]
}

type WorkspaceService struct {
	factory       store.Factory
	log           zerolog.Logger
	now           func() time.Time
	provisioned   ProvisionCache
	activity      *ActivityService
	notifications *NotificationService
}

func (s *WorkspaceService) GetAllForUser(ctx context.Context, userID uuid.UUID) ([]store.Workspace, error) {
	var items []store.Workspace
	err := store.Run(ctx, s.factory, func(uow store.UnitOfWork) error {
		var err error
		items, err = uow.Workspaces().ListForUser(ctx, userID)
		return err
	})
	return items, err
}

func (s *WorkspaceService) GetByID(ctx context.Context, workspaceID, userID uuid.UUID) (*store.Workspace, error) {
	var ws *store.Workspace
	err := store.Run(ctx, s.factory, func(uow store.UnitOfWork) error {
		var err error
		ws, _, err = authorize(ctx, uow, workspaceACL(workspaceID), userID, rbac.RoleViewer)
		return err
	})
	return ws, err
}

func (s *WorkspaceService) Create(ctx context.Context, userID uuid.UUID, name string, description *string) (*store.Workspace, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("name is required")
	}

	var ws *store.Workspace
	err := store.Within(ctx, s.factory, func(uow store.UnitOfWork) error {
		base := Slugify(name)
		slug, err := s.freeSlug(ctx, uow, base, slugWithSuffix(base, util.ShortHex(userID, 8)))
		if err != nil {
			return err
		}
		if slug == "" {
			return slugTaken(base)
		}

		ws, err = s.insertWithOwner(ctx, uow, userID, name, slug, description)
		if errors.Is(err, store.ErrUniqueViolation) {
			return slugTaken(slug)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	s.remember(ctx, userID)
	return ws, nil
}

// freeSlug returns the first candidate not already in use, or "" when all
// are taken.
func (s *WorkspaceService) freeSlug(ctx context.Context, uow store.UnitOfWork, candidates ...string) (string, error) {
	for _, slug := range candidates {
		existing, err := uow.Workspaces().GetBySlug(ctx, slug)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return slug, nil
		}
	}
	return "", nil
}

func (s *WorkspaceService) insertWithOwner(ctx context.Context, uow store.UnitOfWork, userID uuid.UUID, name, slug string, description *string) (*store.Workspace, error) {
	now := s.now()
	ws := &store.Workspace{
		ID:          uuid.New(),
		Name:        name,
		Slug:        slug,
		Description: description,
		CreatedBy:   userID,
		Settings:    map[string]any{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := uow.Workspaces().Create(ctx, ws); err != nil {
		return nil, err
	}
	if err := uow.Workspaces().AddMember(ctx, &store.WorkspaceMember{
		WorkspaceID: ws.ID,
		UserID:      userID,
		Role:        rbac.RoleOwner,
		JoinedAt:    now,
	}); err != nil {
		return nil, err
	}
	return ws, nil
}

// EnsurePersonalWorkspace creates a "Personal" workspace for a user who has
// none. It returns the new workspace, or nil when the user already had one.
// A concurrent provisioning that wins the unique constraint is not an error.
func (s *WorkspaceService) EnsurePersonalWorkspace(ctx context.Context, userID uuid.UUID) (*store.Workspace, error) {
	if known, err := s.provisioned.Contains(ctx, userID); err != nil {
		s.log.Warn().Err(err).Msg("provision cache lookup failed")
	} else if known {
		return nil, nil
	}

	uow, err := s.factory.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = uow.Rollback(ctx) }()

	count, err := uow.Workspaces().CountUserWorkspaces(ctx, userID)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		s.remember(ctx, userID)
		return nil, nil
	}

	slug, err := s.freeSlug(ctx, uow, "personal-"+util.ShortHex(userID, 8), "personal-"+util.ShortHex(userID, 12))
	if err != nil {
		return nil, err
	}
	if slug == "" {
		return nil, slugTaken("personal-" + util.ShortHex(userID, 12))
	}

	ws, err := s.insertWithOwner(ctx, uow, userID, personalWorkspaceName, slug, nil)
	if errors.Is(err, store.ErrUniqueViolation) {
		_ = uow.Rollback(ctx)
		s.remember(ctx, userID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := uow.Commit(ctx); err != nil {
		return nil, err
	}

	s.remember(ctx, userID)
	s.log.Info().Str("user_id", userID.String()).Str("workspace_id", ws.ID.String()).Msg("provisioned personal workspace")
	return ws, nil
}

func (s *WorkspaceService) remember(ctx context.Context, userID uuid.UUID) {
	if err := s.provisioned.Add(ctx, userID); err != nil {
		s.log.Warn().Err(err).Msg("provision cache write failed")
	}
}

// ClearProvisionCache forgets every provisioned user.
func (s *WorkspaceService) ClearProvisionCache(ctx context.Context) error {
	return s.provisioned.Clear(ctx)
}

func (s *WorkspaceService) Update(ctx context.Context, workspaceID, userID uuid.UUID, in WorkspaceUpdate) (*store.Workspace, error) {
	var ws *store.Workspace
	err := store.Within(ctx, s.factory, func(uow store.UnitOfWork) error {
		var err error
		ws, _, err = authorize(ctx, uow, workspaceACL(workspaceID), userID, rbac.RoleAdmin)
		if err != nil {
			return err
		}

		before := map[string]any{"name": ws.Name, "description": derefString(ws.Description)}
		if in.Name != nil {
			name := strings.TrimSpace(*in.Name)
			if name == "" {
				return validationError("name is required")
			}
			ws.Name = name
		}
		if in.Description.IsSet() {
			ws.Description = in.Description.Ptr()
		}
		after := map[string]any{"name": ws.Name, "description": derefString(ws.Description)}

		changes := ComputeDiff(before, after)
		if len(changes) == 0 {
			return nil
		}
		ws.UpdatedAt = s.now()
		if err := uow.Workspaces().Update(ctx, ws); err != nil {
			return err
		}
		_, err = s.activity.Log(ctx, uow, ActivityEntry{
			WorkspaceID: ws.ID,
			ActorID:     userID,
			Action:      ActionWorkspaceUpdated,
			EntityType:  entityWorkspace,
			EntityID:    ws.ID,
			Changes:     changes,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return ws, nil
}

// Delete requires Owner and refuses to remove the caller's only workspace.
func (s *WorkspaceService) Delete(ctx context.Context, workspaceID, userID uuid.UUID) error {
	err := store.Within(ctx, s.factory, func(uow store.UnitOfWork) error {
		if _, _, err := authorize(ctx, uow, workspaceACL(workspaceID), userID, rbac.RoleOwner); err != nil {
			return err
		}
		count, err := uow.Workspaces().CountUserWorkspaces(ctx, userID)
		if err != nil {
			return err
		}
		if count <= 1 {
			return lastWorkspace()
		}
		return uow.Workspaces().Delete(ctx, workspaceID)
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("workspace_id", workspaceID.String()).Str("actor_id", userID.String()).Msg("workspace deleted")
	return nil
}

func (s *WorkspaceService) GetMembers(ctx context.Context, workspaceID, userID uuid.UUID) ([]store.WorkspaceMember, error) {
	var members []store.WorkspaceMember
	err := store.Run(ctx, s.factory, func(uow store.UnitOfWork) error {
		if _, _, err := authorize(ctx, uow, workspaceACL(workspaceID), userID, rbac.RoleViewer); err != nil {
			return err
		}
		var err error
		members, err = uow.Workspaces().ListMembers(ctx, workspaceID)
		return err
	})
	return members, err
}

// AddMember never grants Owner; ownership moves only through TransferOwnership.
func (s *WorkspaceService) AddMember(ctx context.Context, workspaceID uuid.UUID, actor auth.Principal, targetID uuid.UUID, role rbac.Role) (*store.WorkspaceMember, error) {
	if role == rbac.RoleOwner {
		return nil, insufficientPermissions("owner (use transfer_ownership)")
	}
	if !role.Valid() {
		return nil, validationError("invalid role")
	}

	var member *store.WorkspaceMember
	err := store.Within(ctx, s.factory, func(uow store.UnitOfWork) error {
		ws, _, err := authorize(ctx, uow, workspaceACL(workspaceID), actor.ID, rbac.RoleAdmin)
		if err != nil {
			return err
		}
		existing, err := uow.Workspaces().GetMember(ctx, workspaceID, targetID)
		if err != nil {
			return err
		}
		if existing != nil {
			return alreadyAMember(workspaceID, targetID)
		}

		invitedBy := actor.ID
		member = &store.WorkspaceMember{
			WorkspaceID: workspaceID,
			UserID:      targetID,
			Role:        role,
			JoinedAt:    s.now(),
			InvitedBy:   &invitedBy,
		}
		if err := uow.Workspaces().AddMember(ctx, member); err != nil {
			if errors.Is(err, store.ErrUniqueViolation) {
				return alreadyAMember(workspaceID, targetID)
			}
			return err
		}
		if _, err := s.activity.Log(ctx, uow, ActivityEntry{
			WorkspaceID: workspaceID,
			ActorID:     actor.ID,
			Action:      ActionMemberAdded,
			EntityType:  entityMember,
			EntityID:    targetID,
			Metadata:    map[string]any{"role": role.String()},
		}); err != nil {
			return err
		}
		_, err = s.notifications.Notify(ctx, uow, NotifyParams{
			TypeName:     store.NotifyMemberAdded,
			WorkspaceID:  workspaceID,
			ActorID:      actor.ID,
			EntityType:   entityWorkspace,
			EntityID:     workspaceID,
			RecipientIDs: []uuid.UUID{targetID},
			Metadata: map[string]any{
				"actor_name":     actor.DisplayName(),
				"workspace_name": ws.Name,
				"role":           role.String(),
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.remember(ctx, targetID)
	return member, nil
}

// UpdateMemberRole cannot touch the caller's own role and never moves a member
// into or out of Owner. Demoting the sole Owner reports LastOwner.
func (s *WorkspaceService) UpdateMemberRole(ctx context.Context, workspaceID uuid.UUID, actor auth.Principal, targetID uuid.UUID, role rbac.Role) (*store.WorkspaceMember, error) {
	if !role.Valid() {
		return nil, validationError("invalid role")
	}

	var target *store.WorkspaceMember
	err := store.Within(ctx, s.factory, func(uow store.UnitOfWork) error {
		ws, _, err := authorize(ctx, uow, workspaceACL(workspaceID), actor.ID, rbac.RoleAdmin)
		if err != nil {
			return err
		}
		if targetID == actor.ID {
			return cannotChangeOwnRole(workspaceID, actor.ID)
		}
		target, err = uow.Workspaces().GetMember(ctx, workspaceID, targetID)
		if err != nil {
			return err
		}
		if target == nil {
			return notAMember(workspaceID, targetID)
		}
		if target.Role == rbac.RoleOwner {
			owners, err := uow.Workspaces().CountOwners(ctx, workspaceID)
			if err != nil {
				return err
			}
			if owners <= 1 {
				return lastOwner(workspaceID)
			}
			return insufficientPermissions("owner (use transfer_ownership)")
		}
		if role == rbac.RoleOwner {
			return insufficientPermissions("owner (use transfer_ownership)")
		}
		if target.Role == role {
			return nil
		}

		oldRole := target.Role
		if _, err := uow.Workspaces().UpdateMemberRole(ctx, workspaceID, targetID, role); err != nil {
			return err
		}
		target.Role = role

		if _, err := s.activity.Log(ctx, uow, ActivityEntry{
			WorkspaceID: workspaceID,
			ActorID:     actor.ID,
			Action:      ActionMemberRoleChanged,
			EntityType:  entityMember,
			EntityID:    targetID,
			Changes:     map[string]store.FieldChange{"role": {Old: oldRole.String(), New: role.String()}},
		}); err != nil {
			return err
		}
		_, err = s.notifications.Notify(ctx, uow, NotifyParams{
			TypeName:     store.NotifyMemberRoleChanged,
			WorkspaceID:  workspaceID,
			ActorID:      actor.ID,
			EntityType:   entityWorkspace,
			EntityID:     workspaceID,
			RecipientIDs: []uuid.UUID{targetID},
			Metadata: map[string]any{
				"actor_name":     actor.DisplayName(),
				"workspace_name": ws.Name,
				"old_role":       oldRole.String(),
				"new_role":       role.String(),
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return target, nil
}

// RemoveMember covers both leaving (actor == target) and removal by an Admin.
// An Admin may remove only lower roles; an Owner may remove anyone except the
// last Owner.
func (s *WorkspaceService) RemoveMember(ctx context.Context, workspaceID uuid.UUID, actor auth.Principal, targetID uuid.UUID) error {
	return store.Within(ctx, s.factory, func(uow store.UnitOfWork) error {
		ws, err := uow.Workspaces().Get(ctx, workspaceID)
		if err != nil {
			return err
		}
		if ws == nil {
			return workspaceNotFound(workspaceID)
		}
		actorMember, err := uow.Workspaces().GetMember(ctx, workspaceID, actor.ID)
		if err != nil {
			return err
		}
		if actorMember == nil {
			return notAMember(workspaceID, actor.ID)
		}
		target, err := uow.Workspaces().GetMember(ctx, workspaceID, targetID)
		if err != nil {
			return err
		}
		if target == nil {
			return notAMember(workspaceID, targetID)
		}

		leaving := targetID == actor.ID
		if leaving {
			count, err := uow.Workspaces().CountUserWorkspaces(ctx, actor.ID)
			if err != nil {
				return err
			}
			if count <= 1 {
				return lastWorkspace()
			}
		} else {
			if !rbac.HasPermission(actorMember.Role, rbac.RoleAdmin) {
				return requiresRole(rbac.RoleAdmin)
			}
			if target.Role >= actorMember.Role && actorMember.Role != rbac.RoleOwner {
				return requiresRole(rbac.RoleOwner)
			}
		}
		if target.Role == rbac.RoleOwner {
			owners, err := uow.Workspaces().CountOwners(ctx, workspaceID)
			if err != nil {
				return err
			}
			if owners <= 1 {
				return lastOwner(workspaceID)
			}
		}

		if _, err := uow.Workspaces().RemoveMember(ctx, workspaceID, targetID); err != nil {
			return err
		}

		action := ActionMemberRemoved
		if leaving {
			action = ActionMemberLeft
		}
		if _, err := s.activity.Log(ctx, uow, ActivityEntry{
			WorkspaceID: workspaceID,
			ActorID:     actor.ID,
			Action:      action,
			EntityType:  entityMember,
			EntityID:    targetID,
			Metadata:    map[string]any{"role": target.Role.String()},
		}); err != nil {
			return err
		}
		if leaving {
			return nil
		}
		_, err = s.notifications.Notify(ctx, uow, NotifyParams{
			TypeName:     store.NotifyMemberRemoved,
			WorkspaceID:  workspaceID,
			ActorID:      actor.ID,
			EntityType:   entityWorkspace,
			EntityID:     workspaceID,
			RecipientIDs: []uuid.UUID{targetID},
			Metadata: map[string]any{
				"actor_name":     actor.DisplayName(),
				"workspace_name": ws.Name,
			},
		})
		return err
	})
}

// TransferOwnership demotes the calling Owner to Admin and promotes the target
// to Owner in one unit of work.
func (s *WorkspaceService) TransferOwnership(ctx context.Context, workspaceID uuid.UUID, actor auth.Principal, newOwnerID uuid.UUID) error {
	if newOwnerID == actor.ID {
		return validationError("cannot transfer ownership to yourself")
	}
	return store.Within(ctx, s.factory, func(uow store.UnitOfWork) error {
		ws, _, err := authorize(ctx, uow, workspaceACL(workspaceID), actor.ID, rbac.RoleOwner)
		if err != nil {
			return err
		}
		target, err := uow.Workspaces().GetMember(ctx, workspaceID, newOwnerID)
		if err != nil {
			return err
		}
		if target == nil {
			return notAMember(workspaceID, newOwnerID)
		}

		if _, err := uow.Workspaces().UpdateMemberRole(ctx, workspaceID, actor.ID, rbac.RoleAdmin); err != nil {
			return err
		}
		if _, err := uow.Workspaces().UpdateMemberRole(ctx, workspaceID, newOwnerID, rbac.RoleOwner); err != nil {
			return err
		}

		if _, err := s.activity.Log(ctx, uow, ActivityEntry{
			WorkspaceID: workspaceID,
			ActorID:     actor.ID,
			Action:      ActionMemberOwnershipTransferred,
			EntityType:  entityWorkspace,
			EntityID:    workspaceID,
			Changes: map[string]store.FieldChange{
				"previous_owner": {Old: rbac.RoleOwner.String(), New: rbac.RoleAdmin.String()},
				"new_owner":      {Old: target.Role.String(), New: rbac.RoleOwner.String()},
			},
			Metadata: map[string]any{
				"previous_owner_id": actor.ID.String(),
				"new_owner_id":      newOwnerID.String(),
			},
		}); err != nil {
			return err
		}
		_, err = s.notifications.Notify(ctx, uow, NotifyParams{
			TypeName:     store.NotifyMemberRoleChanged,
			WorkspaceID:  workspaceID,
			ActorID:      actor.ID,
			EntityType:   entityWorkspace,
			EntityID:     workspaceID,
			RecipientIDs: []uuid.UUID{newOwnerID},
			Metadata: map[string]any{
				"actor_name":     actor.DisplayName(),
				"workspace_name": ws.Name,
				"old_role":       target.Role.String(),
				"new_role":       rbac.RoleOwner.String(),
			},
		})
		return err
	})
}

// CheckPermission is the non-failing probe: non-members get false.
func (s *WorkspaceService) CheckPermission(ctx context.Context, workspaceID, userID uuid.UUID, required rbac.Role) (bool, error) {
	role, err := s.GetUserRole(ctx, workspaceID, userID)
	if err != nil || role == nil {
		return false, err
	}
	return rbac.HasPermission(*role, required), nil
}

// GetUserRole returns nil for non-members.
func (s *WorkspaceService) GetUserRole(ctx context.Context, workspaceID, userID uuid.UUID) (*rbac.Role, error) {
	var role *rbac.Role
	err := store.Run(ctx, s.factory, func(uow store.UnitOfWork) error {
		member, err := uow.Workspaces().GetMember(ctx, workspaceID, userID)
		if err != nil || member == nil {
			return err
		}
		role = &member.Role
		return nil
	})
	return role, err
}

func derefString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
