package app

import (
	"context"

	"github.com/google/uuid"

	"lattices/api/internal/rbac"
	"lattices/api/internal/store"
)

// resourceACL describes how to find a resource and which workspace's
// membership governs access to it.
type resourceACL[T any] struct {
	load      func(ctx context.Context, uow store.UnitOfWork) (*T, error)
	workspace func(*T) uuid.UUID
	notFound  func() error
}

// authorize loads the resource and requires the caller to hold at least
// required in its workspace. A missing resource wins over a missing
// membership, and a missing membership wins over an insufficient role.
func authorize[T any](ctx context.Context, uow store.UnitOfWork, acl resourceACL[T], userID uuid.UUID, required rbac.Role) (*T, *store.WorkspaceMember, error) {
	resource, err := acl.load(ctx, uow)
	if err != nil {
		return nil, nil, err
	}
	if resource == nil {
		return nil, nil, acl.notFound()
	}
	member, err := requireRole(ctx, uow, acl.workspace(resource), userID, required)
	if err != nil {
		return nil, nil, err
	}
	return resource, member, nil
}

func requireRole(ctx context.Context, uow store.UnitOfWork, workspaceID, userID uuid.UUID, required rbac.Role) (*store.WorkspaceMember, error) {
	member, err := uow.Workspaces().GetMember(ctx, workspaceID, userID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, notAMember(workspaceID, userID)
	}
	if !rbac.HasPermission(member.Role, required) {
		return nil, requiresRole(required)
	}
	return member, nil
}

func workspaceACL(workspaceID uuid.UUID) resourceACL[store.Workspace] {
	return resourceACL[store.Workspace]{
		load: func(ctx context.Context, uow store.UnitOfWork) (*store.Workspace, error) {
			return uow.Workspaces().Get(ctx, workspaceID)
		},
		workspace: func(ws *store.Workspace) uuid.UUID { return ws.ID },
		notFound:  func() error { return workspaceNotFound(workspaceID) },
	}
}

// groupACL treats a group outside workspaceID as missing.
func groupACL(workspaceID, groupID uuid.UUID) resourceACL[store.Group] {
	return resourceACL[store.Group]{
		load: func(ctx context.Context, uow store.UnitOfWork) (*store.Group, error) {
			group, err := uow.Groups().Get(ctx, groupID)
			if err != nil || group == nil || group.WorkspaceID != workspaceID {
				return nil, err
			}
			return group, nil
		},
		workspace: func(g *store.Group) uuid.UUID { return g.WorkspaceID },
		notFound:  func() error { return groupNotFound(groupID) },
	}
}
