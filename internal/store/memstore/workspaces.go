package memstore

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"lattices/api/internal/rbac"
	"lattices/api/internal/store"
)

type workspaceRepo struct{ u *unitOfWork }

func (r workspaceRepo) Get(_ context.Context, id uuid.UUID) (*store.Workspace, error) {
	ws, ok := r.u.d.workspaces[id]
	if !ok {
		return nil, nil
	}
	return &ws, nil
}

func (r workspaceRepo) GetBySlug(_ context.Context, slug string) (*store.Workspace, error) {
	for _, ws := range r.u.d.workspaces {
		if ws.Slug == slug {
			return &ws, nil
		}
	}
	return nil, nil
}

func (r workspaceRepo) ListForUser(_ context.Context, userID uuid.UUID) ([]store.Workspace, error) {
	items := make([]store.Workspace, 0)
	for key := range r.u.d.members {
		if key.userID != userID {
			continue
		}
		if ws, ok := r.u.d.workspaces[key.workspaceID]; ok {
			items = append(items, ws)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items, nil
}

func (r workspaceRepo) Create(_ context.Context, ws *store.Workspace) error {
	if err := r.u.check(); err != nil {
		return err
	}
	for _, existing := range r.u.d.workspaces {
		if existing.Slug == ws.Slug || existing.ID == ws.ID {
			return store.ErrUniqueViolation
		}
	}
	r.u.d.workspaces[ws.ID] = *ws
	return nil
}

func (r workspaceRepo) Update(_ context.Context, ws *store.Workspace) error {
	for id, existing := range r.u.d.workspaces {
		if id != ws.ID && existing.Slug == ws.Slug {
			return store.ErrUniqueViolation
		}
	}
	if _, ok := r.u.d.workspaces[ws.ID]; ok {
		r.u.d.workspaces[ws.ID] = *ws
	}
	return nil
}

// Delete cascades to every row scoped to the workspace.
func (r workspaceRepo) Delete(_ context.Context, id uuid.UUID) error {
	d := r.u.d
	delete(d.workspaces, id)
	for key := range d.members {
		if key.workspaceID == id {
			delete(d.members, key)
		}
	}
	for todoID, todo := range d.todos {
		if todo.WorkspaceID != nil && *todo.WorkspaceID == id {
			deleteTodo(d, todoID)
		}
	}
	for tagID, tag := range d.tags {
		if tag.WorkspaceID != nil && *tag.WorkspaceID == id {
			deleteTag(d, tagID)
		}
	}
	for groupID, group := range d.groups {
		if group.WorkspaceID == id {
			deleteGroup(d, groupID)
		}
	}
	for invID, inv := range d.invitations {
		if inv.WorkspaceID == id {
			delete(d.invitations, invID)
		}
	}
	kept := d.activities[:0]
	for _, entry := range d.activities {
		if entry.WorkspaceID != id {
			kept = append(kept, entry)
		}
	}
	d.activities = kept
	for nID, n := range d.notifications {
		if n.WorkspaceID == id {
			deleteNotification(d, nID)
		}
	}
	for prefID, pref := range d.preferences {
		if pref.WorkspaceID != nil && *pref.WorkspaceID == id {
			delete(d.preferences, prefID)
		}
	}
	return nil
}

func (r workspaceRepo) GetMember(_ context.Context, workspaceID, userID uuid.UUID) (*store.WorkspaceMember, error) {
	m, ok := r.u.d.members[memberKey{workspaceID, userID}]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (r workspaceRepo) ListMembers(_ context.Context, workspaceID uuid.UUID) ([]store.WorkspaceMember, error) {
	items := make([]store.WorkspaceMember, 0)
	for key, m := range r.u.d.members {
		if key.workspaceID == workspaceID {
			items = append(items, m)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].JoinedAt.Before(items[j].JoinedAt) })
	return items, nil
}

func (r workspaceRepo) AddMember(_ context.Context, m *store.WorkspaceMember) error {
	if err := r.u.check(); err != nil {
		return err
	}
	key := memberKey{m.WorkspaceID, m.UserID}
	if _, exists := r.u.d.members[key]; exists {
		return store.ErrUniqueViolation
	}
	r.u.d.members[key] = *m
	return nil
}

func (r workspaceRepo) UpdateMemberRole(_ context.Context, workspaceID, userID uuid.UUID, role rbac.Role) (bool, error) {
	key := memberKey{workspaceID, userID}
	m, ok := r.u.d.members[key]
	if !ok {
		return false, nil
	}
	m.Role = role
	r.u.d.members[key] = m
	return true, nil
}

func (r workspaceRepo) RemoveMember(_ context.Context, workspaceID, userID uuid.UUID) (bool, error) {
	key := memberKey{workspaceID, userID}
	if _, ok := r.u.d.members[key]; !ok {
		return false, nil
	}
	delete(r.u.d.members, key)
	for gk := range r.u.d.groupMembers {
		if gk.userID != userID {
			continue
		}
		if g, ok := r.u.d.groups[gk.groupID]; ok && g.WorkspaceID == workspaceID {
			delete(r.u.d.groupMembers, gk)
		}
	}
	return true, nil
}

func (r workspaceRepo) CountOwners(_ context.Context, workspaceID uuid.UUID) (int, error) {
	count := 0
	for key, m := range r.u.d.members {
		if key.workspaceID == workspaceID && m.Role == rbac.RoleOwner {
			count++
		}
	}
	return count, nil
}

func (r workspaceRepo) CountUserWorkspaces(_ context.Context, userID uuid.UUID) (int, error) {
	count := 0
	for key := range r.u.d.members {
		if key.userID == userID {
			count++
		}
	}
	return count, nil
}
