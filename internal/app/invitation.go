package app

import (
	"context"
	"errors"
	"time"

	"github.com/badoux/checkmail"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lattices/api/internal/auth"
	"lattices/api/internal/email"
	"lattices/api/internal/rbac"
	"lattices/api/internal/store"
	"lattices/api/internal/util"
)

const (
	entityInvitation = "invitation"

	defaultInvitationTTL = 7 * 24 * time.Hour
	invitationTokenBytes = 32
)

type InvitationCreate struct {
	Email string
	Role  rbac.Role
	// InviteeID is set when the address belongs to a known user, who then
	// gets an in-app notification.
	InviteeID *uuid.UUID
}

type InvitationService struct {
	factory       store.Factory
	log           zerolog.Logger
	now           func() time.Time
	ttl           time.Duration
	mailer        InvitationMailer
	activity      *ActivityService
	notifications *NotificationService
}

// Create returns the invitation together with the raw token. Only the
// token's hash is stored, so the raw value is available exactly once.
func (s *InvitationService) Create(ctx context.Context, workspaceID uuid.UUID, actor auth.Principal, in InvitationCreate) (*store.Invitation, string, error) {
	address := auth.NormalizeEmail(in.Email)
	if address == "" {
		return nil, "", validationError("email is required")
	}
	if err := checkmail.ValidateFormat(address); err != nil {
		return nil, "", validationError("email is not a valid address")
	}
	role := in.Role
	if role == 0 {
		role = rbac.RoleMember
	}
	if !role.Valid() {
		return nil, "", validationError("unknown role")
	}
	if role == rbac.RoleOwner {
		return nil, "", insufficientPermissions("owner (use transfer_ownership)")
	}

	token, err := util.NewToken(invitationTokenBytes)
	if err != nil {
		return nil, "", err
	}

	var (
		invitation    *store.Invitation
		workspaceName string
	)
	err = store.Within(ctx, s.factory, func(uow store.UnitOfWork) error {
		workspace, _, err := authorize(ctx, uow, workspaceACL(workspaceID), actor.ID, rbac.RoleAdmin)
		if err != nil {
			return err
		}

		workspaceName = workspace.Name
		now := s.now()
		existing, err := uow.Invitations().GetPendingForWorkspaceEmail(ctx, workspaceID, address)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.ExpiresAt.After(now) {
				return duplicateInvitation(address)
			}
			existing.Status = store.InvitationExpired
			if err := uow.Invitations().Update(ctx, existing); err != nil {
				return err
			}
		}

		invitation = &store.Invitation{
			ID:          uuid.New(),
			WorkspaceID: workspaceID,
			Email:       address,
			Role:        role,
			TokenHash:   auth.HashToken(token),
			InvitedBy:   actor.ID,
			Status:      store.InvitationPending,
			CreatedAt:   now,
			ExpiresAt:   now.Add(s.ttl),
		}
		if err := uow.Invitations().Create(ctx, invitation); err != nil {
			if errors.Is(err, store.ErrUniqueViolation) {
				return duplicateInvitation(address)
			}
			return err
		}

		if _, err := s.activity.Log(ctx, uow, ActivityEntry{
			WorkspaceID: workspaceID,
			ActorID:     actor.ID,
			Action:      ActionInvitationCreated,
			EntityType:  entityInvitation,
			EntityID:    invitation.ID,
			Metadata:    map[string]any{"email": address, "role": role.String()},
		}); err != nil {
			return err
		}

		if in.InviteeID == nil {
			return nil
		}
		_, err = s.notifications.Notify(ctx, uow, NotifyParams{
			TypeName:     store.NotifyInvitationReceived,
			WorkspaceID:  workspaceID,
			ActorID:      actor.ID,
			EntityType:   entityInvitation,
			EntityID:     invitation.ID,
			RecipientIDs: []uuid.UUID{*in.InviteeID},
			Metadata: map[string]any{
				"actor_name":     actor.DisplayName(),
				"workspace_name": workspace.Name,
				"role":           role.String(),
			},
		})
		return err
	})
	if err != nil {
		return nil, "", err
	}
	s.mail(ctx, invitation, token, actor.DisplayName(), workspaceName)
	return invitation, token, nil
}

func (s *InvitationService) mail(ctx context.Context, invitation *store.Invitation, token, inviterName, workspaceName string) {
	if s.mailer == nil {
		return
	}
	err := s.mailer.SendInvitation(ctx, email.Invitation{
		To:            invitation.Email,
		InviterName:   inviterName,
		WorkspaceName: workspaceName,
		Role:          invitation.Role.String(),
		Token:         token,
		ExpiresAt:     invitation.ExpiresAt,
	})
	if err != nil {
		s.log.Warn().Err(err).
			Str("invitation_id", invitation.ID.String()).
			Msg("invitation email not sent")
	}
}

// Accept redeems an invitation by its raw token.
func (s *InvitationService) Accept(ctx context.Context, token string, principal auth.Principal) (*store.WorkspaceMember, error) {
	return s.accept(ctx, principal, func(uow store.UnitOfWork) (*store.Invitation, error) {
		return uow.Invitations().GetByTokenHash(ctx, auth.HashToken(token))
	})
}

// AcceptByID redeems an invitation shown in-app, where the user never sees
// the token.
func (s *InvitationService) AcceptByID(ctx context.Context, invitationID uuid.UUID, principal auth.Principal) (*store.WorkspaceMember, error) {
	return s.accept(ctx, principal, func(uow store.UnitOfWork) (*store.Invitation, error) {
		return uow.Invitations().Get(ctx, invitationID)
	})
}

// accept commits the status change before returning the expired and
// already-a-member errors so the invitation cannot be redeemed again.
func (s *InvitationService) accept(ctx context.Context, principal auth.Principal, load func(store.UnitOfWork) (*store.Invitation, error)) (*store.WorkspaceMember, error) {
	var member *store.WorkspaceMember
	err := store.Within(ctx, s.factory, func(uow store.UnitOfWork) error {
		invitation, err := load(uow)
		if err != nil {
			return err
		}
		if invitation == nil {
			return invitationNotFound()
		}
		switch invitation.Status {
		case store.InvitationPending:
		case store.InvitationAccepted:
			return invitationAlreadyAccepted()
		default:
			return invitationNotFound()
		}

		now := s.now()
		if !invitation.ExpiresAt.After(now) {
			invitation.Status = store.InvitationExpired
			if err := s.commitStatus(ctx, uow, invitation); err != nil {
				return err
			}
			return invitationExpired()
		}
		if auth.NormalizeEmail(principal.Email) != auth.NormalizeEmail(invitation.Email) {
			return invitationEmailMismatch()
		}

		existing, err := uow.Workspaces().GetMember(ctx, invitation.WorkspaceID, principal.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			invitation.Status = store.InvitationAccepted
			invitation.AcceptedAt = &now
			if err := s.commitStatus(ctx, uow, invitation); err != nil {
				return err
			}
			return alreadyAMember(invitation.WorkspaceID, principal.ID)
		}

		role := invitation.Role
		if !role.Valid() || role == rbac.RoleOwner {
			role = rbac.RoleMember
		}
		inviter := invitation.InvitedBy
		member = &store.WorkspaceMember{
			WorkspaceID: invitation.WorkspaceID,
			UserID:      principal.ID,
			Role:        role,
			JoinedAt:    now,
			InvitedBy:   &inviter,
		}
		if err := uow.Workspaces().AddMember(ctx, member); err != nil {
			if errors.Is(err, store.ErrUniqueViolation) {
				return alreadyAMember(invitation.WorkspaceID, principal.ID)
			}
			return err
		}

		invitation.Status = store.InvitationAccepted
		invitation.AcceptedAt = &now
		if err := uow.Invitations().Update(ctx, invitation); err != nil {
			return err
		}

		if _, err := s.activity.Log(ctx, uow, ActivityEntry{
			WorkspaceID: invitation.WorkspaceID,
			ActorID:     principal.ID,
			Action:      ActionInvitationAccepted,
			EntityType:  entityInvitation,
			EntityID:    invitation.ID,
			Metadata:    map[string]any{"role": role.String()},
		}); err != nil {
			return err
		}

		workspaceName := ""
		workspace, err := uow.Workspaces().Get(ctx, invitation.WorkspaceID)
		if err != nil {
			return err
		}
		if workspace != nil {
			workspaceName = workspace.Name
		}
		_, err = s.notifications.Notify(ctx, uow, NotifyParams{
			TypeName:     store.NotifyInvitationAccepted,
			WorkspaceID:  invitation.WorkspaceID,
			ActorID:      principal.ID,
			EntityType:   entityInvitation,
			EntityID:     invitation.ID,
			RecipientIDs: []uuid.UUID{invitation.InvitedBy},
			Metadata: map[string]any{
				"actor_name":     principal.DisplayName(),
				"workspace_name": workspaceName,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return member, nil
}

func (s *InvitationService) commitStatus(ctx context.Context, uow store.UnitOfWork, invitation *store.Invitation) error {
	if err := uow.Invitations().Update(ctx, invitation); err != nil {
		return err
	}
	return uow.Commit(ctx)
}

func (s *InvitationService) Revoke(ctx context.Context, workspaceID, invitationID, userID uuid.UUID) error {
	return store.Within(ctx, s.factory, func(uow store.UnitOfWork) error {
		if _, _, err := authorize(ctx, uow, workspaceACL(workspaceID), userID, rbac.RoleAdmin); err != nil {
			return err
		}
		invitation, err := uow.Invitations().Get(ctx, invitationID)
		if err != nil {
			return err
		}
		if invitation == nil || invitation.WorkspaceID != workspaceID || invitation.Status != store.InvitationPending {
			return invitationNotFound()
		}

		invitation.Status = store.InvitationRevoked
		if err := uow.Invitations().Update(ctx, invitation); err != nil {
			return err
		}
		_, err = s.activity.Log(ctx, uow, ActivityEntry{
			WorkspaceID: workspaceID,
			ActorID:     userID,
			Action:      ActionInvitationRevoked,
			EntityType:  entityInvitation,
			EntityID:    invitation.ID,
			Metadata:    map[string]any{"email": invitation.Email},
		})
		return err
	})
}

func (s *InvitationService) GetWorkspaceInvitations(ctx context.Context, workspaceID, userID uuid.UUID) ([]store.Invitation, error) {
	var out []store.Invitation
	err := store.Run(ctx, s.factory, func(uow store.UnitOfWork) error {
		if _, _, err := authorize(ctx, uow, workspaceACL(workspaceID), userID, rbac.RoleViewer); err != nil {
			return err
		}
		var err error
		out, err = uow.Invitations().ListForWorkspace(ctx, workspaceID)
		return err
	})
	return out, err
}

// GetUserPendingInvitations lists unexpired pending invitations for email.
func (s *InvitationService) GetUserPendingInvitations(ctx context.Context, email string) ([]store.Invitation, error) {
	var out []store.Invitation
	err := store.Run(ctx, s.factory, func(uow store.UnitOfWork) error {
		var err error
		out, err = uow.Invitations().ListPendingForEmail(ctx, auth.NormalizeEmail(email), s.now())
		return err
	})
	return out, err
}

// ExpireOld marks lapsed pending invitations expired and reports how many
// changed.
func (s *InvitationService) ExpireOld(ctx context.Context) (int, error) {
	var n int
	err := store.Within(ctx, s.factory, func(uow store.UnitOfWork) error {
		var err error
		n, err = uow.Invitations().ExpireOld(ctx, s.now())
		return err
	})
	return n, err
}
