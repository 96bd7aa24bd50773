package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"lattices/api/internal/store"
)

type notificationRepo struct{ u *unitOfWork }

func (r notificationRepo) GetTypeByName(_ context.Context, name string) (*store.NotificationType, error) {
	t, ok := r.u.d.types[name]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (r notificationRepo) ListTypes(_ context.Context) ([]store.NotificationType, error) {
	items := make([]store.NotificationType, 0, len(r.u.d.types))
	for _, t := range r.u.d.types {
		items = append(items, t)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

func (r notificationRepo) Create(_ context.Context, n *store.Notification) error {
	if err := r.u.check(); err != nil {
		return err
	}
	if _, exists := r.u.d.notifications[n.ID]; exists {
		return store.ErrUniqueViolation
	}
	r.u.d.notifications[n.ID] = *n
	return nil
}

func (r notificationRepo) CreateRecipients(_ context.Context, recipients []store.NotificationRecipient) error {
	for i := range recipients {
		for _, existing := range r.u.d.recipients {
			if existing.NotificationID == recipients[i].NotificationID && existing.RecipientID == recipients[i].RecipientID {
				return store.ErrUniqueViolation
			}
		}
		r.u.d.nextRecipient++
		recipients[i].ID = r.u.d.nextRecipient
		r.u.d.recipients[recipients[i].ID] = recipients[i]
	}
	return nil
}

func (r notificationRepo) GetRecentForEntity(_ context.Context, typeID uuid.UUID, entityType string, entityID, actorID uuid.UUID, since time.Time) (*store.Notification, error) {
	var found *store.Notification
	for _, n := range r.u.d.notifications {
		if n.TypeID != typeID || n.EntityType != entityType || n.EntityID != entityID || n.ActorID != actorID {
			continue
		}
		if n.CreatedAt.Before(since) {
			continue
		}
		if found == nil || n.CreatedAt.After(found.CreatedAt) {
			n := n
			found = &n
		}
	}
	return found, nil
}

func (r notificationRepo) visible(userID uuid.UUID, workspaceID *uuid.UUID) []store.RecipientFeedItem {
	items := make([]store.RecipientFeedItem, 0)
	for _, rec := range r.u.d.recipients {
		if rec.RecipientID != userID || rec.IsDeleted {
			continue
		}
		n, ok := r.u.d.notifications[rec.NotificationID]
		if !ok {
			continue
		}
		if workspaceID != nil && n.WorkspaceID != *workspaceID {
			continue
		}
		items = append(items, store.RecipientFeedItem{Recipient: rec, Notification: n})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Recipient.ID > items[j].Recipient.ID })
	return items
}

func (r notificationRepo) ListForUser(_ context.Context, userID uuid.UUID, filter store.FeedFilter) ([]store.RecipientFeedItem, error) {
	items := make([]store.RecipientFeedItem, 0)
	for _, item := range r.visible(userID, filter.WorkspaceID) {
		if filter.IsRead != nil && item.Recipient.IsRead != *filter.IsRead {
			continue
		}
		if filter.Before != nil && item.Recipient.ID >= *filter.Before {
			continue
		}
		items = append(items, item)
		if filter.Limit > 0 && len(items) >= filter.Limit {
			break
		}
	}
	return items, nil
}

func (r notificationRepo) CountUnread(_ context.Context, userID uuid.UUID, workspaceID *uuid.UUID) (int, error) {
	count := 0
	for _, item := range r.visible(userID, workspaceID) {
		if !item.Recipient.IsRead {
			count++
		}
	}
	return count, nil
}

func (r notificationRepo) owned(recipientID int64, userID uuid.UUID) (store.NotificationRecipient, bool) {
	rec, ok := r.u.d.recipients[recipientID]
	if !ok || rec.RecipientID != userID || rec.IsDeleted {
		return store.NotificationRecipient{}, false
	}
	return rec, true
}

func (r notificationRepo) MarkRead(_ context.Context, recipientID int64, userID uuid.UUID, now time.Time) (bool, error) {
	rec, ok := r.owned(recipientID, userID)
	if !ok {
		return false, nil
	}
	rec.IsRead = true
	rec.ReadAt = &now
	r.u.d.recipients[recipientID] = rec
	return true, nil
}

func (r notificationRepo) MarkUnread(_ context.Context, recipientID int64, userID uuid.UUID) (bool, error) {
	rec, ok := r.owned(recipientID, userID)
	if !ok {
		return false, nil
	}
	rec.IsRead = false
	rec.ReadAt = nil
	r.u.d.recipients[recipientID] = rec
	return true, nil
}

func (r notificationRepo) MarkAllRead(_ context.Context, userID uuid.UUID, workspaceID *uuid.UUID, now time.Time) (int, error) {
	count := 0
	for _, item := range r.visible(userID, workspaceID) {
		if item.Recipient.IsRead {
			continue
		}
		rec := item.Recipient
		rec.IsRead = true
		rec.ReadAt = &now
		r.u.d.recipients[rec.ID] = rec
		count++
	}
	return count, nil
}

func (r notificationRepo) SoftDelete(_ context.Context, recipientID int64, userID uuid.UUID, now time.Time) (bool, error) {
	rec, ok := r.owned(recipientID, userID)
	if !ok {
		return false, nil
	}
	rec.IsDeleted = true
	rec.DeletedAt = &now
	r.u.d.recipients[recipientID] = rec
	return true, nil
}

func (r notificationRepo) ListPreferences(_ context.Context, userID uuid.UUID) ([]store.NotificationPreference, error) {
	items := make([]store.NotificationPreference, 0)
	for _, p := range r.u.d.preferences {
		if p.UserID == userID {
			items = append(items, p)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items, nil
}

func (r notificationRepo) FindPreference(_ context.Context, userID uuid.UUID, workspaceID *uuid.UUID, notificationType *string, channel string) (*store.NotificationPreference, error) {
	for _, p := range r.u.d.preferences {
		if p.UserID == userID && p.Channel == channel && sameUUID(p.WorkspaceID, workspaceID) && sameString(p.NotificationType, notificationType) {
			return &p, nil
		}
	}
	return nil, nil
}

func (r notificationRepo) UpsertPreference(ctx context.Context, pref *store.NotificationPreference) error {
	existing, _ := r.FindPreference(ctx, pref.UserID, pref.WorkspaceID, pref.NotificationType, pref.Channel)
	if existing != nil {
		existing.Enabled = pref.Enabled
		existing.UpdatedAt = pref.UpdatedAt
		r.u.d.preferences[existing.ID] = *existing
		*pref = *existing
		return nil
	}
	r.u.d.preferences[pref.ID] = *pref
	return nil
}

func (r notificationRepo) DeleteExpired(_ context.Context, now time.Time, batchSize int) (int, error) {
	deleted := 0
	for id, n := range r.u.d.notifications {
		if batchSize > 0 && deleted >= batchSize {
			break
		}
		if n.ExpiresAt != nil && n.ExpiresAt.Before(now) {
			deleteNotification(r.u.d, id)
			deleted++
		}
	}
	return deleted, nil
}

func deleteNotification(d *data, id uuid.UUID) {
	delete(d.notifications, id)
	for recID, rec := range d.recipients {
		if rec.NotificationID == id {
			delete(d.recipients, recID)
		}
	}
}
