package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"lattices/api/internal/rbac"
)

type pgWorkspaces struct{ q querier }

const workspaceColumns = `w.id, w.name, w.slug, w.description, w.created_by, w.settings, w.created_at, w.updated_at`

func scanWorkspace(row scanner) (Workspace, error) {
	var (
		ws       Workspace
		settings []byte
	)
	if err := row.Scan(&ws.ID, &ws.Name, &ws.Slug, &ws.Description, &ws.CreatedBy, &settings, &ws.CreatedAt, &ws.UpdatedAt); err != nil {
		return Workspace{}, err
	}
	decoded, err := decodeJSON[any](settings)
	if err != nil {
		return Workspace{}, err
	}
	ws.Settings = decoded
	return ws, nil
}

func scanMember(row scanner) (WorkspaceMember, error) {
	var (
		m    WorkspaceMember
		role string
	)
	if err := row.Scan(&m.WorkspaceID, &m.UserID, &role, &m.JoinedAt, &m.InvitedBy); err != nil {
		return WorkspaceMember{}, err
	}
	parsed, ok := rbac.ParseRole(role)
	if !ok {
		return WorkspaceMember{}, fmt.Errorf("unknown workspace role %q", role)
	}
	m.Role = parsed
	return m, nil
}

func (r pgWorkspaces) Get(ctx context.Context, id uuid.UUID) (*Workspace, error) {
	ws, err := scanWorkspace(r.q.QueryRowContext(ctx, `SELECT `+workspaceColumns+` FROM workspaces w WHERE w.id = $1`, id))
	return noRows(&ws, err)
}

func (r pgWorkspaces) GetBySlug(ctx context.Context, slug string) (*Workspace, error) {
	ws, err := scanWorkspace(r.q.QueryRowContext(ctx, `SELECT `+workspaceColumns+` FROM workspaces w WHERE w.slug = $1`, slug))
	return noRows(&ws, err)
}

func (r pgWorkspaces) ListForUser(ctx context.Context, userID uuid.UUID) ([]Workspace, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+workspaceColumns+`
		FROM workspaces w
		JOIN workspace_members m ON m.workspace_id = w.id
		WHERE m.user_id = $1
		ORDER BY w.created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	return collect(rows, scanWorkspace)
}

func (r pgWorkspaces) Create(ctx context.Context, ws *Workspace) error {
	settings, err := jsonArg(ws.Settings)
	if err != nil {
		return err
	}
	if settings == nil {
		settings = "{}"
	}
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO workspaces (id, name, slug, description, created_by, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, ws.ID, ws.Name, ws.Slug, ws.Description, ws.CreatedBy, settings, ws.CreatedAt, ws.UpdatedAt)
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (r pgWorkspaces) Update(ctx context.Context, ws *Workspace) error {
	settings, err := jsonArg(ws.Settings)
	if err != nil {
		return err
	}
	if settings == nil {
		settings = "{}"
	}
	_, err = r.q.ExecContext(ctx, `
		UPDATE workspaces
		SET name = $2, slug = $3, description = $4, settings = $5, updated_at = $6
		WHERE id = $1
	`, ws.ID, ws.Name, ws.Slug, ws.Description, settings, ws.UpdatedAt)
	if err != nil {
		return mapError(err)
	}
	return nil
}

// Delete relies on ON DELETE CASCADE for dependent rows.
func (r pgWorkspaces) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM notification_preferences WHERE workspace_id = $1`, id); err != nil {
		return fmt.Errorf("delete workspace preferences: %w", err)
	}
	if _, err := r.q.ExecContext(ctx, `DELETE FROM workspaces WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete workspace: %w", err)
	}
	return nil
}

const memberColumns = `workspace_id, user_id, role, joined_at, invited_by`

func (r pgWorkspaces) GetMember(ctx context.Context, workspaceID, userID uuid.UUID) (*WorkspaceMember, error) {
	m, err := scanMember(r.q.QueryRowContext(ctx, `
		SELECT `+memberColumns+` FROM workspace_members WHERE workspace_id = $1 AND user_id = $2
	`, workspaceID, userID))
	return noRows(&m, err)
}

func (r pgWorkspaces) ListMembers(ctx context.Context, workspaceID uuid.UUID) ([]WorkspaceMember, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+memberColumns+` FROM workspace_members WHERE workspace_id = $1 ORDER BY joined_at ASC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return collect(rows, scanMember)
}

func (r pgWorkspaces) AddMember(ctx context.Context, m *WorkspaceMember) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO workspace_members (workspace_id, user_id, role, joined_at, invited_by)
		VALUES ($1, $2, $3, $4, $5)
	`, m.WorkspaceID, m.UserID, m.Role.String(), m.JoinedAt, m.InvitedBy)
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (r pgWorkspaces) UpdateMemberRole(ctx context.Context, workspaceID, userID uuid.UUID, role rbac.Role) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE workspace_members SET role = $3 WHERE workspace_id = $1 AND user_id = $2
	`, workspaceID, userID, role.String())
	if err != nil {
		return false, fmt.Errorf("update member role: %w", err)
	}
	n, err := rowsAffected(res)
	return n > 0, err
}

// RemoveMember also drops the user's group memberships in the workspace.
func (r pgWorkspaces) RemoveMember(ctx context.Context, workspaceID, userID uuid.UUID) (bool, error) {
	if _, err := r.q.ExecContext(ctx, `
		DELETE FROM group_members gm
		USING groups g
		WHERE gm.group_id = g.id AND g.workspace_id = $1 AND gm.user_id = $2
	`, workspaceID, userID); err != nil {
		return false, fmt.Errorf("remove group memberships: %w", err)
	}
	res, err := r.q.ExecContext(ctx, `
		DELETE FROM workspace_members WHERE workspace_id = $1 AND user_id = $2
	`, workspaceID, userID)
	if err != nil {
		return false, fmt.Errorf("remove member: %w", err)
	}
	n, err := rowsAffected(res)
	return n > 0, err
}

// CountOwners locks the owner rows so concurrent demotions serialize.
func (r pgWorkspaces) CountOwners(ctx context.Context, workspaceID uuid.UUID) (int, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT user_id FROM workspace_members
		WHERE workspace_id = $1 AND role = 'owner'
		FOR UPDATE
	`, workspaceID)
	if err != nil {
		return 0, fmt.Errorf("count owners: %w", err)
	}
	owners, err := collect(rows, func(row scanner) (uuid.UUID, error) {
		var id uuid.UUID
		err := row.Scan(&id)
		return id, err
	})
	if err != nil {
		return 0, err
	}
	return len(owners), nil
}

// CountUserWorkspaces locks the user's membership rows so concurrent leaves
// cannot both pass the last-workspace check.
func (r pgWorkspaces) CountUserWorkspaces(ctx context.Context, userID uuid.UUID) (int, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT workspace_id FROM workspace_members
		WHERE user_id = $1
		FOR UPDATE
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("count user workspaces: %w", err)
	}
	workspaces, err := collect(rows, func(row scanner) (uuid.UUID, error) {
		var id uuid.UUID
		err := row.Scan(&id)
		return id, err
	})
	if err != nil {
		return 0, err
	}
	return len(workspaces), nil
}
