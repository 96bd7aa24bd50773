package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"lattices/api/internal/rbac"
)

type pgInvitations struct{ q querier }

const invitationColumns = `id, workspace_id, email, role, token_hash, invited_by, status, created_at, expires_at, accepted_at`

func scanInvitation(row scanner) (Invitation, error) {
	var (
		inv    Invitation
		role   string
		status string
	)
	if err := row.Scan(&inv.ID, &inv.WorkspaceID, &inv.Email, &role, &inv.TokenHash, &inv.InvitedBy,
		&status, &inv.CreatedAt, &inv.ExpiresAt, &inv.AcceptedAt); err != nil {
		return Invitation{}, err
	}
	parsed, ok := rbac.ParseRole(role)
	if !ok {
		return Invitation{}, fmt.Errorf("unknown invitation role %q", role)
	}
	inv.Role = parsed
	inv.Status = InvitationStatus(status)
	return inv, nil
}

func (r pgInvitations) one(ctx context.Context, where string, args ...any) (*Invitation, error) {
	inv, err := scanInvitation(r.q.QueryRowContext(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE `+where, args...))
	return noRows(&inv, err)
}

func (r pgInvitations) many(ctx context.Context, where string, args ...any) ([]Invitation, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE `+where+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	return collect(rows, scanInvitation)
}

func (r pgInvitations) Get(ctx context.Context, id uuid.UUID) (*Invitation, error) {
	return r.one(ctx, `id = $1`, id)
}

func (r pgInvitations) GetByTokenHash(ctx context.Context, tokenHash string) (*Invitation, error) {
	return r.one(ctx, `token_hash = $1`, tokenHash)
}

func (r pgInvitations) GetPendingForWorkspaceEmail(ctx context.Context, workspaceID uuid.UUID, email string) (*Invitation, error) {
	return r.one(ctx, `workspace_id = $1 AND email = $2 AND status = 'pending'`, workspaceID, email)
}

func (r pgInvitations) ListForWorkspace(ctx context.Context, workspaceID uuid.UUID) ([]Invitation, error) {
	return r.many(ctx, `workspace_id = $1`, workspaceID)
}

func (r pgInvitations) ListPendingForEmail(ctx context.Context, email string, now time.Time) ([]Invitation, error) {
	return r.many(ctx, `email = $1 AND status = 'pending' AND expires_at > $2`, email, now)
}

func (r pgInvitations) Create(ctx context.Context, inv *Invitation) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO invitations (`+invitationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, inv.ID, inv.WorkspaceID, inv.Email, inv.Role.String(), inv.TokenHash, inv.InvitedBy,
		string(inv.Status), inv.CreatedAt, inv.ExpiresAt, inv.AcceptedAt)
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (r pgInvitations) Update(ctx context.Context, inv *Invitation) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE invitations SET status = $2, accepted_at = $3 WHERE id = $1
	`, inv.ID, string(inv.Status), inv.AcceptedAt)
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (r pgInvitations) ExpireOld(ctx context.Context, now time.Time) (int, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE invitations SET status = 'expired' WHERE status = 'pending' AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("expire invitations: %w", err)
	}
	return rowsAffected(res)
}
