package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type pgNotifications struct{ q querier }

const notificationTypeColumns = `id, name, description, template, array_to_string(default_channels, ','), is_mandatory, created_at`

func scanNotificationType(row scanner) (NotificationType, error) {
	var (
		t        NotificationType
		channels string
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Description, &t.Template, &channels, &t.IsMandatory, &t.CreatedAt); err != nil {
		return NotificationType{}, err
	}
	t.DefaultChannels = []string{}
	if channels != "" {
		t.DefaultChannels = strings.Split(channels, ",")
	}
	return t, nil
}

func (r pgNotifications) GetTypeByName(ctx context.Context, name string) (*NotificationType, error) {
	t, err := scanNotificationType(r.q.QueryRowContext(ctx, `SELECT `+notificationTypeColumns+` FROM notification_types WHERE name = $1`, name))
	return noRows(&t, err)
}

func (r pgNotifications) ListTypes(ctx context.Context) ([]NotificationType, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+notificationTypeColumns+` FROM notification_types ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list notification types: %w", err)
	}
	return collect(rows, scanNotificationType)
}

const notificationColumns = `n.id, n.type_id, n.workspace_id, n.actor_id, n.entity_type, n.entity_id, n.metadata, n.created_at, n.expires_at`

func scanNotificationInto(n *Notification, metadata *[]byte) []any {
	return []any{&n.ID, &n.TypeID, &n.WorkspaceID, &n.ActorID, &n.EntityType, &n.EntityID, metadata, &n.CreatedAt, &n.ExpiresAt}
}

func (r pgNotifications) Create(ctx context.Context, n *Notification) error {
	metadata, err := jsonArg(n.Metadata)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO notifications (id, type_id, workspace_id, actor_id, entity_type, entity_id, metadata, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, n.ID, n.TypeID, n.WorkspaceID, n.ActorID, n.EntityType, n.EntityID, metadata, n.CreatedAt, n.ExpiresAt)
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (r pgNotifications) CreateRecipients(ctx context.Context, recipients []NotificationRecipient) error {
	for i := range recipients {
		rec := &recipients[i]
		err := r.q.QueryRowContext(ctx, `
			INSERT INTO notification_recipients (notification_id, recipient_id, is_read, is_deleted, created_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, rec.NotificationID, rec.RecipientID, rec.IsRead, rec.IsDeleted, rec.CreatedAt).Scan(&rec.ID)
		if err != nil {
			return mapError(err)
		}
	}
	return nil
}

func (r pgNotifications) GetRecentForEntity(ctx context.Context, typeID uuid.UUID, entityType string, entityID, actorID uuid.UUID, since time.Time) (*Notification, error) {
	var (
		n        Notification
		metadata []byte
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications n
		WHERE n.type_id = $1 AND n.entity_type = $2 AND n.entity_id = $3 AND n.actor_id = $4 AND n.created_at >= $5
		ORDER BY n.created_at DESC
		LIMIT 1
	`, typeID, entityType, entityID, actorID, since).Scan(scanNotificationInto(&n, &metadata)...)
	found, err := noRows(&n, err)
	if err != nil || found == nil {
		return nil, err
	}
	if found.Metadata, err = decodeJSON[any](metadata); err != nil {
		return nil, err
	}
	return found, nil
}

func (r pgNotifications) ListForUser(ctx context.Context, userID uuid.UUID, filter FeedFilter) ([]RecipientFeedItem, error) {
	where := []string{"r.recipient_id = $1", "r.is_deleted = FALSE"}
	args := []any{userID}
	if filter.WorkspaceID != nil {
		args = append(args, *filter.WorkspaceID)
		where = append(where, fmt.Sprintf("n.workspace_id = $%d", len(args)))
	}
	if filter.IsRead != nil {
		args = append(args, *filter.IsRead)
		where = append(where, fmt.Sprintf("r.is_read = $%d", len(args)))
	}
	if filter.Before != nil {
		args = append(args, *filter.Before)
		where = append(where, fmt.Sprintf("r.id < $%d", len(args)))
	}
	var limit any
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	args = append(args, limit)

	rows, err := r.q.QueryContext(ctx, fmt.Sprintf(`
		SELECT r.id, r.notification_id, r.recipient_id, r.is_read, r.read_at, r.is_deleted, r.deleted_at, r.created_at,
			`+notificationColumns+`
		FROM notification_recipients r
		JOIN notifications n ON n.id = r.notification_id
		WHERE %s
		ORDER BY r.id DESC
		LIMIT $%d
	`, strings.Join(where, " AND "), len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return collect(rows, func(row scanner) (RecipientFeedItem, error) {
		var (
			item     RecipientFeedItem
			metadata []byte
		)
		rec := &item.Recipient
		dest := append([]any{&rec.ID, &rec.NotificationID, &rec.RecipientID, &rec.IsRead, &rec.ReadAt, &rec.IsDeleted, &rec.DeletedAt, &rec.CreatedAt},
			scanNotificationInto(&item.Notification, &metadata)...)
		if err := row.Scan(dest...); err != nil {
			return RecipientFeedItem{}, err
		}
		var err error
		item.Notification.Metadata, err = decodeJSON[any](metadata)
		return item, err
	})
}

func (r pgNotifications) CountUnread(ctx context.Context, userID uuid.UUID, workspaceID *uuid.UUID) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM notification_recipients r
		JOIN notifications n ON n.id = r.notification_id
		WHERE r.recipient_id = $1 AND r.is_deleted = FALSE AND r.is_read = FALSE
			AND ($2::uuid IS NULL OR n.workspace_id = $2::uuid)
	`, userID, workspaceID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

func (r pgNotifications) updateOwned(ctx context.Context, set string, recipientID int64, userID uuid.UUID, args ...any) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE notification_recipients SET `+set+`
		WHERE id = $1 AND recipient_id = $2 AND is_deleted = FALSE
	`, append([]any{recipientID, userID}, args...)...)
	if err != nil {
		return false, fmt.Errorf("update notification recipient: %w", err)
	}
	n, err := rowsAffected(res)
	return n > 0, err
}

func (r pgNotifications) MarkRead(ctx context.Context, recipientID int64, userID uuid.UUID, now time.Time) (bool, error) {
	return r.updateOwned(ctx, `is_read = TRUE, read_at = $3`, recipientID, userID, now)
}

func (r pgNotifications) MarkUnread(ctx context.Context, recipientID int64, userID uuid.UUID) (bool, error) {
	return r.updateOwned(ctx, `is_read = FALSE, read_at = NULL`, recipientID, userID)
}

func (r pgNotifications) SoftDelete(ctx context.Context, recipientID int64, userID uuid.UUID, now time.Time) (bool, error) {
	return r.updateOwned(ctx, `is_deleted = TRUE, deleted_at = $3`, recipientID, userID, now)
}

func (r pgNotifications) MarkAllRead(ctx context.Context, userID uuid.UUID, workspaceID *uuid.UUID, now time.Time) (int, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE notification_recipients r
		SET is_read = TRUE, read_at = $3
		FROM notifications n
		WHERE n.id = r.notification_id
			AND r.recipient_id = $1 AND r.is_deleted = FALSE AND r.is_read = FALSE
			AND ($2::uuid IS NULL OR n.workspace_id = $2::uuid)
	`, userID, workspaceID, now)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return rowsAffected(res)
}

const preferenceColumns = `id, user_id, workspace_id, notification_type, channel, enabled, created_at, updated_at`

func scanPreference(row scanner) (NotificationPreference, error) {
	var p NotificationPreference
	err := row.Scan(&p.ID, &p.UserID, &p.WorkspaceID, &p.NotificationType, &p.Channel, &p.Enabled, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r pgNotifications) ListPreferences(ctx context.Context, userID uuid.UUID) ([]NotificationPreference, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+preferenceColumns+` FROM notification_preferences WHERE user_id = $1 ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	return collect(rows, scanPreference)
}

// FindPreference uses IS NOT DISTINCT FROM so a nil argument matches only
// the NULL wildcard column.
func (r pgNotifications) FindPreference(ctx context.Context, userID uuid.UUID, workspaceID *uuid.UUID, notificationType *string, channel string) (*NotificationPreference, error) {
	p, err := scanPreference(r.q.QueryRowContext(ctx, `
		SELECT `+preferenceColumns+` FROM notification_preferences
		WHERE user_id = $1
			AND workspace_id IS NOT DISTINCT FROM $2::uuid
			AND notification_type IS NOT DISTINCT FROM $3::text
			AND channel = $4
	`, userID, workspaceID, notificationType, channel))
	return noRows(&p, err)
}

func (r pgNotifications) UpsertPreference(ctx context.Context, pref *NotificationPreference) error {
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO notification_preferences (`+preferenceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, COALESCE(workspace_id, '00000000-0000-0000-0000-000000000000'::uuid), COALESCE(notification_type, ''), channel)
		DO UPDATE SET enabled = EXCLUDED.enabled, updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`, pref.ID, pref.UserID, pref.WorkspaceID, pref.NotificationType, pref.Channel, pref.Enabled, pref.CreatedAt, pref.UpdatedAt).
		Scan(&pref.ID, &pref.CreatedAt)
	if err != nil {
		return mapError(err)
	}
	return nil
}

// DeleteExpired removes at most batchSize expired events with their
// recipient rows. A non-positive batchSize removes all of them.
func (r pgNotifications) DeleteExpired(ctx context.Context, now time.Time, batchSize int) (int, error) {
	var limit any
	if batchSize > 0 {
		limit = batchSize
	}
	res, err := r.q.ExecContext(ctx, `
		DELETE FROM notifications
		WHERE id IN (
			SELECT id FROM notifications
			WHERE expires_at IS NOT NULL AND expires_at < $1
			LIMIT $2
		)
	`, now, limit)
	if err != nil {
		return 0, fmt.Errorf("delete expired notifications: %w", err)
	}
	return rowsAffected(res)
}
