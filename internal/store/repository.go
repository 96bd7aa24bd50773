package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"lattices/api/internal/rbac"
)

// ErrUniqueViolation is returned by repositories when a write collides with a
// uniqueness constraint. Other integrity failures are returned unchanged.
var ErrUniqueViolation = errors.New("unique constraint violation")

// Get-style methods return (nil, nil) when the row does not exist.

type WorkspaceRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*Workspace, error)
	GetBySlug(ctx context.Context, slug string) (*Workspace, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]Workspace, error)
	Create(ctx context.Context, workspace *Workspace) error
	Update(ctx context.Context, workspace *Workspace) error
	Delete(ctx context.Context, id uuid.UUID) error

	GetMember(ctx context.Context, workspaceID, userID uuid.UUID) (*WorkspaceMember, error)
	ListMembers(ctx context.Context, workspaceID uuid.UUID) ([]WorkspaceMember, error)
	AddMember(ctx context.Context, member *WorkspaceMember) error
	UpdateMemberRole(ctx context.Context, workspaceID, userID uuid.UUID, role rbac.Role) (bool, error)
	RemoveMember(ctx context.Context, workspaceID, userID uuid.UUID) (bool, error)
	// CountOwners and CountUserWorkspaces lock the rows they count where the
	// backend supports it.
	CountOwners(ctx context.Context, workspaceID uuid.UUID) (int, error)
	CountUserWorkspaces(ctx context.Context, userID uuid.UUID) (int, error)
}

// TodoScope selects personal todos (WorkspaceID nil) of UserID, or the todos
// of a workspace.
type TodoScope struct {
	UserID      uuid.UUID
	WorkspaceID *uuid.UUID
}

type TodoRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*Todo, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]Todo, error)
	ListForWorkspace(ctx context.Context, workspaceID uuid.UUID) ([]Todo, error)
	// CountSiblings counts todos sharing parentID (roots of scope when nil).
	CountSiblings(ctx context.Context, scope TodoScope, parentID *uuid.UUID) (int, error)
	Create(ctx context.Context, todo *Todo) error
	Update(ctx context.Context, todo *Todo) error
	// Delete removes the todo and all of its descendants.
	Delete(ctx context.Context, id uuid.UUID) error
	ChildCounts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]ChildCounts, error)
	ListDescendants(ctx context.Context, id uuid.UUID) ([]Todo, error)
	SetWorkspace(ctx context.Context, ids []uuid.UUID, workspaceID *uuid.UUID, now time.Time) error
	Search(ctx context.Context, scope TodoScope, query string, limit int) ([]Todo, error)
}

type TagRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*Tag, error)
	GetByName(ctx context.Context, userID uuid.UUID, name string) (*Tag, error)
	GetByNameInWorkspace(ctx context.Context, workspaceID uuid.UUID, name string) (*Tag, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]Tag, error)
	ListForWorkspace(ctx context.Context, workspaceID uuid.UUID) ([]Tag, error)
	Create(ctx context.Context, tag *Tag) error
	Update(ctx context.Context, tag *Tag) error
	Delete(ctx context.Context, id uuid.UUID) error
	// Attach is idempotent.
	Attach(ctx context.Context, tagID, todoID uuid.UUID) error
	Detach(ctx context.Context, tagID, todoID uuid.UUID) (bool, error)
	DetachAllFromTodos(ctx context.Context, todoIDs []uuid.UUID) (int, error)
	ListForTodo(ctx context.Context, todoID uuid.UUID) ([]Tag, error)
	ListForTodos(ctx context.Context, todoIDs []uuid.UUID) (map[uuid.UUID][]Tag, error)
	UsageCounts(ctx context.Context, tagIDs []uuid.UUID) (map[uuid.UUID]int, error)
}

type GroupRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*Group, error)
	ListForWorkspace(ctx context.Context, workspaceID uuid.UUID) ([]Group, error)
	Create(ctx context.Context, group *Group) error
	Update(ctx context.Context, group *Group) error
	Delete(ctx context.Context, id uuid.UUID) error
	GetMember(ctx context.Context, groupID, userID uuid.UUID) (*GroupMember, error)
	ListMembers(ctx context.Context, groupID uuid.UUID) ([]GroupMember, error)
	AddMember(ctx context.Context, member *GroupMember) error
	RemoveMember(ctx context.Context, groupID, userID uuid.UUID) (bool, error)
}

type InvitationRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*Invitation, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*Invitation, error)
	// GetPendingForWorkspaceEmail ignores expiry; callers decide what a stale
	// pending row means.
	GetPendingForWorkspaceEmail(ctx context.Context, workspaceID uuid.UUID, email string) (*Invitation, error)
	ListForWorkspace(ctx context.Context, workspaceID uuid.UUID) ([]Invitation, error)
	ListPendingForEmail(ctx context.Context, email string, now time.Time) ([]Invitation, error)
	Create(ctx context.Context, invitation *Invitation) error
	Update(ctx context.Context, invitation *Invitation) error
	ExpireOld(ctx context.Context, now time.Time) (int, error)
}

type ActivityRepository interface {
	Create(ctx context.Context, entry *ActivityLog) error
	ListForWorkspace(ctx context.Context, workspaceID uuid.UUID, limit, offset int) ([]ActivityLog, error)
	ListForEntity(ctx context.Context, workspaceID uuid.UUID, entityType string, entityID uuid.UUID, limit int) ([]ActivityLog, error)
}

type NotificationRepository interface {
	GetTypeByName(ctx context.Context, name string) (*NotificationType, error)
	ListTypes(ctx context.Context) ([]NotificationType, error)

	Create(ctx context.Context, notification *Notification) error
	// CreateRecipients assigns IDs to the rows in order.
	CreateRecipients(ctx context.Context, recipients []NotificationRecipient) error
	GetRecentForEntity(ctx context.Context, typeID uuid.UUID, entityType string, entityID, actorID uuid.UUID, since time.Time) (*Notification, error)

	ListForUser(ctx context.Context, userID uuid.UUID, filter FeedFilter) ([]RecipientFeedItem, error)
	CountUnread(ctx context.Context, userID uuid.UUID, workspaceID *uuid.UUID) (int, error)
	MarkRead(ctx context.Context, recipientID int64, userID uuid.UUID, now time.Time) (bool, error)
	MarkUnread(ctx context.Context, recipientID int64, userID uuid.UUID) (bool, error)
	MarkAllRead(ctx context.Context, userID uuid.UUID, workspaceID *uuid.UUID, now time.Time) (int, error)
	SoftDelete(ctx context.Context, recipientID int64, userID uuid.UUID, now time.Time) (bool, error)

	ListPreferences(ctx context.Context, userID uuid.UUID) ([]NotificationPreference, error)
	// FindPreference matches nil workspace/type as the wildcard row, not as "any".
	FindPreference(ctx context.Context, userID uuid.UUID, workspaceID *uuid.UUID, notificationType *string, channel string) (*NotificationPreference, error)
	UpsertPreference(ctx context.Context, pref *NotificationPreference) error

	DeleteExpired(ctx context.Context, now time.Time, batchSize int) (int, error)
}

// UnitOfWork binds every repository to one transaction. Rollback after
// Commit is a no-op.
type UnitOfWork interface {
	Workspaces() WorkspaceRepository
	Todos() TodoRepository
	Tags() TagRepository
	Groups() GroupRepository
	Invitations() InvitationRepository
	Activities() ActivityRepository
	Notifications() NotificationRepository

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type Factory interface {
	Begin(ctx context.Context) (UnitOfWork, error)
}

// Within runs fn in a new unit of work, committing when fn returns nil.
// fn may commit early itself; any returned error still rolls back what is
// left uncommitted.
func Within(ctx context.Context, factory Factory, fn func(UnitOfWork) error) error {
	uow, err := factory.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = uow.Rollback(ctx) }()

	if err := fn(uow); err != nil {
		return err
	}
	return uow.Commit(ctx)
}

// Run runs fn in a unit of work that is never committed.
func Run(ctx context.Context, factory Factory, fn func(UnitOfWork) error) error {
	uow, err := factory.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = uow.Rollback(ctx) }()
	return fn(uow)
}
