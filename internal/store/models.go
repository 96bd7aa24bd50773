package store

import (
	"time"

	"github.com/google/uuid"

	"lattices/api/internal/rbac"
)

type Workspace struct {
	ID          uuid.UUID
	Name        string
	Slug        string
	Description *string
	CreatedBy   uuid.UUID
	Settings    map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type WorkspaceMember struct {
	WorkspaceID uuid.UUID
	UserID      uuid.UUID
	Role        rbac.Role
	JoinedAt    time.Time
	InvitedBy   *uuid.UUID
}

type Todo struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	ParentID    *uuid.UUID
	WorkspaceID *uuid.UUID
	Title       string
	Description *string
	IsCompleted bool
	Position    int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// Complete and Uncomplete are the only transitions that touch IsCompleted,
// keeping CompletedAt set exactly when the todo is completed.
func (t *Todo) Complete(now time.Time) {
	if t.IsCompleted {
		return
	}
	t.IsCompleted = true
	t.CompletedAt = &now
	t.UpdatedAt = now
}

func (t *Todo) Uncomplete(now time.Time) {
	if !t.IsCompleted {
		return
	}
	t.IsCompleted = false
	t.CompletedAt = nil
	t.UpdatedAt = now
}

// ChildCounts summarizes the direct children of a todo.
type ChildCounts struct {
	Children  int
	Completed int
}

type Tag struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	WorkspaceID *uuid.UUID
	Name        string
	ColorHex    string
	CreatedAt   time.Time
}

type Group struct {
	ID          uuid.UUID
	WorkspaceID uuid.UUID
	Name        string
	Description *string
	CreatedBy   uuid.UUID
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type GroupMember struct {
	GroupID  uuid.UUID
	UserID   uuid.UUID
	Role     rbac.GroupRole
	JoinedAt time.Time
}

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationExpired  InvitationStatus = "expired"
	InvitationRevoked  InvitationStatus = "revoked"
)

type Invitation struct {
	ID          uuid.UUID
	WorkspaceID uuid.UUID
	Email       string
	Role        rbac.Role
	TokenHash   string
	InvitedBy   uuid.UUID
	Status      InvitationStatus
	CreatedAt   time.Time
	ExpiresAt   time.Time
	AcceptedAt  *time.Time
}

// FieldChange is one entry of an activity diff.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

type ActivityLog struct {
	ID          uuid.UUID
	WorkspaceID uuid.UUID
	ActorID     uuid.UUID
	Action      string
	EntityType  string
	EntityID    uuid.UUID
	Changes     map[string]FieldChange
	Metadata    map[string]any
	CreatedAt   time.Time
}

type NotificationType struct {
	ID              uuid.UUID
	Name            string
	Description     string
	Template        string
	DefaultChannels []string
	IsMandatory     bool
	CreatedAt       time.Time
}

type Notification struct {
	ID          uuid.UUID
	TypeID      uuid.UUID
	WorkspaceID uuid.UUID
	ActorID     uuid.UUID
	EntityType  string
	EntityID    uuid.UUID
	Metadata    map[string]any
	CreatedAt   time.Time
	ExpiresAt   *time.Time
}

// NotificationRecipient is a per-user delivery row. IDs are assigned in
// creation order so they can serve as a descending feed cursor.
type NotificationRecipient struct {
	ID             int64
	NotificationID uuid.UUID
	RecipientID    uuid.UUID
	IsRead         bool
	ReadAt         *time.Time
	IsDeleted      bool
	DeletedAt      *time.Time
	CreatedAt      time.Time
}

// RecipientFeedItem joins a recipient row with its notification event.
type RecipientFeedItem struct {
	Recipient    NotificationRecipient
	Notification Notification
}

type NotificationPreference struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	WorkspaceID      *uuid.UUID
	NotificationType *string
	Channel          string
	Enabled          bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// FeedFilter narrows a user's notification feed.
type FeedFilter struct {
	WorkspaceID *uuid.UUID
	IsRead      *bool
	Before      *int64
	Limit       int
}
