package memstore

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"lattices/api/internal/store"
)

type groupRepo struct{ u *unitOfWork }

func (r groupRepo) Get(_ context.Context, id uuid.UUID) (*store.Group, error) {
	g, ok := r.u.d.groups[id]
	if !ok {
		return nil, nil
	}
	return &g, nil
}

func (r groupRepo) ListForWorkspace(_ context.Context, workspaceID uuid.UUID) ([]store.Group, error) {
	items := make([]store.Group, 0)
	for _, g := range r.u.d.groups {
		if g.WorkspaceID == workspaceID {
			items = append(items, g)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

func (r groupRepo) Create(_ context.Context, g *store.Group) error {
	if err := r.u.check(); err != nil {
		return err
	}
	for _, existing := range r.u.d.groups {
		if existing.ID == g.ID || (existing.WorkspaceID == g.WorkspaceID && existing.Name == g.Name) {
			return store.ErrUniqueViolation
		}
	}
	r.u.d.groups[g.ID] = *g
	return nil
}

func (r groupRepo) Update(_ context.Context, g *store.Group) error {
	for id, existing := range r.u.d.groups {
		if id != g.ID && existing.WorkspaceID == g.WorkspaceID && existing.Name == g.Name {
			return store.ErrUniqueViolation
		}
	}
	if _, ok := r.u.d.groups[g.ID]; ok {
		r.u.d.groups[g.ID] = *g
	}
	return nil
}

func (r groupRepo) Delete(_ context.Context, id uuid.UUID) error {
	deleteGroup(r.u.d, id)
	return nil
}

func deleteGroup(d *data, id uuid.UUID) {
	delete(d.groups, id)
	for key := range d.groupMembers {
		if key.groupID == id {
			delete(d.groupMembers, key)
		}
	}
}

func (r groupRepo) GetMember(_ context.Context, groupID, userID uuid.UUID) (*store.GroupMember, error) {
	m, ok := r.u.d.groupMembers[groupMemberKey{groupID, userID}]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (r groupRepo) ListMembers(_ context.Context, groupID uuid.UUID) ([]store.GroupMember, error) {
	items := make([]store.GroupMember, 0)
	for key, m := range r.u.d.groupMembers {
		if key.groupID == groupID {
			items = append(items, m)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].JoinedAt.Before(items[j].JoinedAt) })
	return items, nil
}

func (r groupRepo) AddMember(_ context.Context, m *store.GroupMember) error {
	key := groupMemberKey{m.GroupID, m.UserID}
	if _, exists := r.u.d.groupMembers[key]; exists {
		return store.ErrUniqueViolation
	}
	r.u.d.groupMembers[key] = *m
	return nil
}

func (r groupRepo) RemoveMember(_ context.Context, groupID, userID uuid.UUID) (bool, error) {
	key := groupMemberKey{groupID, userID}
	if _, ok := r.u.d.groupMembers[key]; !ok {
		return false, nil
	}
	delete(r.u.d.groupMembers, key)
	return true, nil
}
