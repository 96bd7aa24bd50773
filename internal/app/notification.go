package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lattices/api/internal/store"
)

const (
	defaultDedupWindow        = 300 * time.Second
	defaultNotificationExpiry = 90 * 24 * time.Hour
	defaultCleanupBatch       = 10000
)

// NotifyParams describes one event to fan out.
type NotifyParams struct {
	TypeName     string
	WorkspaceID  uuid.UUID
	ActorID      uuid.UUID
	EntityType   string
	EntityID     uuid.UUID
	RecipientIDs []uuid.UUID
	Metadata     map[string]any
}

// NotificationView is one feed row, keyed by the recipient row id.
type NotificationView struct {
	ID             int64
	NotificationID uuid.UUID
	Type           string
	WorkspaceID    uuid.UUID
	ActorID        uuid.UUID
	EntityType     string
	EntityID       uuid.UUID
	Metadata       map[string]any
	IsRead         bool
	ReadAt         *time.Time
	CreatedAt      time.Time
}

type FeedQuery struct {
	WorkspaceID *uuid.UUID
	IsRead      *bool
	Limit       int
	Cursor      *int64
}

type PreferenceUpdate struct {
	WorkspaceID      *uuid.UUID
	NotificationType *string
	Channel          string
	Enabled          bool
}

// NotificationService creates events and fans them out on write. Notify
// participates in the caller's unit of work; every other method opens its own.
type NotificationService struct {
	factory     store.Factory
	log         zerolog.Logger
	now         func() time.Time
	dedupWindow time.Duration
	expiry      time.Duration
}

// Notify returns nil without error when there is nothing to deliver: the type
// is unknown, no recipient is eligible, or an identical event fired inside the
// dedup window. Mandatory types skip preference filtering and dedup.
func (s *NotificationService) Notify(ctx context.Context, uow store.UnitOfWork, p NotifyParams) (*store.Notification, error) {
	repo := uow.Notifications()

	ntype, err := repo.GetTypeByName(ctx, p.TypeName)
	if err != nil {
		return nil, err
	}
	if ntype == nil {
		s.log.Warn().Str("type", p.TypeName).Msg("notification type not found")
		return nil, nil
	}

	seen := make(map[uuid.UUID]struct{}, len(p.RecipientIDs))
	recipients := make([]uuid.UUID, 0, len(p.RecipientIDs))
	for _, id := range p.RecipientIDs {
		if id == p.ActorID {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		recipients = append(recipients, id)
	}

	if !ntype.IsMandatory {
		eligible := recipients[:0]
		for _, id := range recipients {
			ok, err := s.shouldNotify(ctx, repo, id, &p.WorkspaceID, ntype.Name, store.ChannelInApp)
			if err != nil {
				return nil, err
			}
			if ok {
				eligible = append(eligible, id)
			}
		}
		recipients = eligible
	}

	if len(recipients) == 0 {
		return nil, nil
	}

	now := s.now()
	if !ntype.IsMandatory {
		recent, err := repo.GetRecentForEntity(ctx, ntype.ID, p.EntityType, p.EntityID, p.ActorID, now.Add(-s.dedupWindow))
		if err != nil {
			return nil, err
		}
		if recent != nil {
			return nil, nil
		}
	}

	expiresAt := now.Add(s.expiry)
	notification := &store.Notification{
		ID:          uuid.New(),
		TypeID:      ntype.ID,
		WorkspaceID: p.WorkspaceID,
		ActorID:     p.ActorID,
		EntityType:  p.EntityType,
		EntityID:    p.EntityID,
		Metadata:    p.Metadata,
		CreatedAt:   now,
		ExpiresAt:   &expiresAt,
	}
	if err := repo.Create(ctx, notification); err != nil {
		return nil, err
	}

	rows := make([]store.NotificationRecipient, 0, len(recipients))
	for _, id := range recipients {
		rows = append(rows, store.NotificationRecipient{
			NotificationID: notification.ID,
			RecipientID:    id,
			CreatedAt:      now,
		})
	}
	if err := repo.CreateRecipients(ctx, rows); err != nil {
		return nil, err
	}
	return notification, nil
}

// shouldNotify resolves the most specific preference: exact match, then the
// workspace-wide row, then the global row. No row means enabled.
func (s *NotificationService) shouldNotify(ctx context.Context, repo store.NotificationRepository, userID uuid.UUID, workspaceID *uuid.UUID, typeName, channel string) (bool, error) {
	candidates := []struct {
		workspaceID *uuid.UUID
		typeName    *string
	}{
		{workspaceID, &typeName},
		{workspaceID, nil},
		{nil, nil},
	}
	for _, c := range candidates {
		pref, err := repo.FindPreference(ctx, userID, c.workspaceID, c.typeName, channel)
		if err != nil {
			return false, err
		}
		if pref != nil {
			return pref.Enabled, nil
		}
	}
	return true, nil
}

// ShouldNotify is the read-only probe over the same resolution.
func (s *NotificationService) ShouldNotify(ctx context.Context, userID uuid.UUID, workspaceID *uuid.UUID, typeName, channel string) (bool, error) {
	var ok bool
	err := store.Run(ctx, s.factory, func(uow store.UnitOfWork) error {
		var err error
		ok, err = s.shouldNotify(ctx, uow.Notifications(), userID, workspaceID, typeName, channel)
		return err
	})
	return ok, err
}

func (s *NotificationService) GetNotifications(ctx context.Context, userID uuid.UUID, q FeedQuery) ([]NotificationView, int, error) {
	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var (
		views  []NotificationView
		unread int
	)
	err := store.Run(ctx, s.factory, func(uow store.UnitOfWork) error {
		repo := uow.Notifications()
		types, err := repo.ListTypes(ctx)
		if err != nil {
			return err
		}
		typeNames := make(map[uuid.UUID]string, len(types))
		for _, t := range types {
			typeNames[t.ID] = t.Name
		}

		items, err := repo.ListForUser(ctx, userID, store.FeedFilter{
			WorkspaceID: q.WorkspaceID,
			IsRead:      q.IsRead,
			Before:      q.Cursor,
			Limit:       limit,
		})
		if err != nil {
			return err
		}
		views = make([]NotificationView, 0, len(items))
		for _, item := range items {
			views = append(views, NotificationView{
				ID:             item.Recipient.ID,
				NotificationID: item.Notification.ID,
				Type:           typeNames[item.Notification.TypeID],
				WorkspaceID:    item.Notification.WorkspaceID,
				ActorID:        item.Notification.ActorID,
				EntityType:     item.Notification.EntityType,
				EntityID:       item.Notification.EntityID,
				Metadata:       item.Notification.Metadata,
				IsRead:         item.Recipient.IsRead,
				ReadAt:         item.Recipient.ReadAt,
				CreatedAt:      item.Recipient.CreatedAt,
			})
		}

		unread, err = repo.CountUnread(ctx, userID, q.WorkspaceID)
		return err
	})
	return views, unread, err
}

func (s *NotificationService) GetUnreadCount(ctx context.Context, userID uuid.UUID, workspaceID *uuid.UUID) (int, error) {
	var count int
	err := store.Run(ctx, s.factory, func(uow store.UnitOfWork) error {
		var err error
		count, err = uow.Notifications().CountUnread(ctx, userID, workspaceID)
		return err
	})
	return count, err
}

func (s *NotificationService) MarkRead(ctx context.Context, recipientID int64, userID uuid.UUID) error {
	return s.updateRecipient(ctx, recipientID, func(uow store.UnitOfWork) (bool, error) {
		return uow.Notifications().MarkRead(ctx, recipientID, userID, s.now())
	})
}

func (s *NotificationService) MarkUnread(ctx context.Context, recipientID int64, userID uuid.UUID) error {
	return s.updateRecipient(ctx, recipientID, func(uow store.UnitOfWork) (bool, error) {
		return uow.Notifications().MarkUnread(ctx, recipientID, userID)
	})
}

// DeleteNotification soft deletes the caller's delivery row.
func (s *NotificationService) DeleteNotification(ctx context.Context, recipientID int64, userID uuid.UUID) error {
	return s.updateRecipient(ctx, recipientID, func(uow store.UnitOfWork) (bool, error) {
		return uow.Notifications().SoftDelete(ctx, recipientID, userID, s.now())
	})
}

func (s *NotificationService) updateRecipient(ctx context.Context, recipientID int64, fn func(store.UnitOfWork) (bool, error)) error {
	return store.Within(ctx, s.factory, func(uow store.UnitOfWork) error {
		ok, err := fn(uow)
		if err != nil {
			return err
		}
		if !ok {
			return notificationNotFound(recipientID)
		}
		return nil
	})
}

func (s *NotificationService) MarkAllRead(ctx context.Context, userID uuid.UUID, workspaceID *uuid.UUID) (int, error) {
	var count int
	err := store.Within(ctx, s.factory, func(uow store.UnitOfWork) error {
		var err error
		count, err = uow.Notifications().MarkAllRead(ctx, userID, workspaceID, s.now())
		return err
	})
	return count, err
}

func (s *NotificationService) GetPreferences(ctx context.Context, userID uuid.UUID) ([]store.NotificationPreference, error) {
	var items []store.NotificationPreference
	err := store.Run(ctx, s.factory, func(uow store.UnitOfWork) error {
		var err error
		items, err = uow.Notifications().ListPreferences(ctx, userID)
		return err
	})
	return items, err
}

// UpdatePreference upserts on (user, workspace, type, channel). Nil workspace
// or type is the wildcard row.
func (s *NotificationService) UpdatePreference(ctx context.Context, userID uuid.UUID, in PreferenceUpdate) (*store.NotificationPreference, error) {
	channel := in.Channel
	if channel == "" {
		channel = store.ChannelInApp
	}
	now := s.now()
	pref := &store.NotificationPreference{
		ID:               uuid.New(),
		UserID:           userID,
		WorkspaceID:      in.WorkspaceID,
		NotificationType: in.NotificationType,
		Channel:          channel,
		Enabled:          in.Enabled,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err := store.Within(ctx, s.factory, func(uow store.UnitOfWork) error {
		return uow.Notifications().UpsertPreference(ctx, pref)
	})
	if err != nil {
		return nil, err
	}
	return pref, nil
}

func (s *NotificationService) GetNotificationTypes(ctx context.Context) ([]store.NotificationType, error) {
	var items []store.NotificationType
	err := store.Run(ctx, s.factory, func(uow store.UnitOfWork) error {
		var err error
		items, err = uow.Notifications().ListTypes(ctx)
		return err
	})
	return items, err
}

// CleanupExpired hard deletes up to batchSize expired notifications together
// with their delivery rows.
func (s *NotificationService) CleanupExpired(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = defaultCleanupBatch
	}
	var deleted int
	err := store.Within(ctx, s.factory, func(uow store.UnitOfWork) error {
		var err error
		deleted, err = uow.Notifications().DeleteExpired(ctx, s.now(), batchSize)
		return err
	})
	return deleted, err
}
