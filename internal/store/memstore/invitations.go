package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"lattices/api/internal/store"
)

type invitationRepo struct{ u *unitOfWork }

func sortInvitations(items []store.Invitation) {
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
}

func (r invitationRepo) Get(_ context.Context, id uuid.UUID) (*store.Invitation, error) {
	inv, ok := r.u.d.invitations[id]
	if !ok {
		return nil, nil
	}
	return &inv, nil
}

func (r invitationRepo) GetByTokenHash(_ context.Context, tokenHash string) (*store.Invitation, error) {
	for _, inv := range r.u.d.invitations {
		if inv.TokenHash == tokenHash {
			return &inv, nil
		}
	}
	return nil, nil
}

func (r invitationRepo) GetPendingForWorkspaceEmail(_ context.Context, workspaceID uuid.UUID, email string) (*store.Invitation, error) {
	for _, inv := range r.u.d.invitations {
		if inv.WorkspaceID == workspaceID && inv.Email == email && inv.Status == store.InvitationPending {
			return &inv, nil
		}
	}
	return nil, nil
}

func (r invitationRepo) ListForWorkspace(_ context.Context, workspaceID uuid.UUID) ([]store.Invitation, error) {
	items := make([]store.Invitation, 0)
	for _, inv := range r.u.d.invitations {
		if inv.WorkspaceID == workspaceID {
			items = append(items, inv)
		}
	}
	sortInvitations(items)
	return items, nil
}

func (r invitationRepo) ListPendingForEmail(_ context.Context, email string, now time.Time) ([]store.Invitation, error) {
	items := make([]store.Invitation, 0)
	for _, inv := range r.u.d.invitations {
		if inv.Email == email && inv.Status == store.InvitationPending && inv.ExpiresAt.After(now) {
			items = append(items, inv)
		}
	}
	sortInvitations(items)
	return items, nil
}

func (r invitationRepo) Create(_ context.Context, inv *store.Invitation) error {
	if err := r.u.check(); err != nil {
		return err
	}
	for _, existing := range r.u.d.invitations {
		if existing.TokenHash == inv.TokenHash {
			return store.ErrUniqueViolation
		}
		if existing.Status == store.InvitationPending && inv.Status == store.InvitationPending &&
			existing.WorkspaceID == inv.WorkspaceID && existing.Email == inv.Email {
			return store.ErrUniqueViolation
		}
	}
	r.u.d.invitations[inv.ID] = *inv
	return nil
}

func (r invitationRepo) Update(_ context.Context, inv *store.Invitation) error {
	if _, ok := r.u.d.invitations[inv.ID]; ok {
		r.u.d.invitations[inv.ID] = *inv
	}
	return nil
}

func (r invitationRepo) ExpireOld(_ context.Context, now time.Time) (int, error) {
	count := 0
	for id, inv := range r.u.d.invitations {
		if inv.Status == store.InvitationPending && !inv.ExpiresAt.After(now) {
			inv.Status = store.InvitationExpired
			r.u.d.invitations[id] = inv
			count++
		}
	}
	return count, nil
}
