package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"lattices/api/internal/rbac"
)

type pgGroups struct{ q querier }

const groupColumns = `id, workspace_id, name, description, created_by, created_at, updated_at`

func scanGroup(row scanner) (Group, error) {
	var g Group
	err := row.Scan(&g.ID, &g.WorkspaceID, &g.Name, &g.Description, &g.CreatedBy, &g.CreatedAt, &g.UpdatedAt)
	return g, err
}

func scanGroupMember(row scanner) (GroupMember, error) {
	var (
		m    GroupMember
		role string
	)
	if err := row.Scan(&m.GroupID, &m.UserID, &role, &m.JoinedAt); err != nil {
		return GroupMember{}, err
	}
	m.Role = rbac.NormalizeGroupRole(role)
	return m, nil
}

func (r pgGroups) Get(ctx context.Context, id uuid.UUID) (*Group, error) {
	g, err := scanGroup(r.q.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM groups WHERE id = $1`, id))
	return noRows(&g, err)
}

func (r pgGroups) ListForWorkspace(ctx context.Context, workspaceID uuid.UUID) ([]Group, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+groupColumns+` FROM groups WHERE workspace_id = $1 ORDER BY name ASC`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return collect(rows, scanGroup)
}

func (r pgGroups) Create(ctx context.Context, g *Group) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO groups (`+groupColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, g.ID, g.WorkspaceID, g.Name, g.Description, g.CreatedBy, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (r pgGroups) Update(ctx context.Context, g *Group) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE groups SET name = $2, description = $3, updated_at = $4 WHERE id = $1
	`, g.ID, g.Name, g.Description, g.UpdatedAt)
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (r pgGroups) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM groups WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	return nil
}

func (r pgGroups) GetMember(ctx context.Context, groupID, userID uuid.UUID) (*GroupMember, error) {
	m, err := scanGroupMember(r.q.QueryRowContext(ctx, `
		SELECT group_id, user_id, role, joined_at FROM group_members WHERE group_id = $1 AND user_id = $2
	`, groupID, userID))
	return noRows(&m, err)
}

func (r pgGroups) ListMembers(ctx context.Context, groupID uuid.UUID) ([]GroupMember, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT group_id, user_id, role, joined_at FROM group_members WHERE group_id = $1 ORDER BY joined_at ASC
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}
	return collect(rows, scanGroupMember)
}

func (r pgGroups) AddMember(ctx context.Context, m *GroupMember) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO group_members (group_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4)
	`, m.GroupID, m.UserID, string(m.Role), m.JoinedAt)
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (r pgGroups) RemoveMember(ctx context.Context, groupID, userID uuid.UUID) (bool, error) {
	res, err := r.q.ExecContext(ctx, `DELETE FROM group_members WHERE group_id = $1 AND user_id = $2`, groupID, userID)
	if err != nil {
		return false, fmt.Errorf("remove group member: %w", err)
	}
	n, err := rowsAffected(res)
	return n > 0, err
}
