package app

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lattices/api/internal/store"
)

func (h *harness) notify(p NotifyParams) *store.Notification {
	h.t.Helper()
	var n *store.Notification
	err := store.Within(h.ctx, h.store, func(uow store.UnitOfWork) error {
		var err error
		n, err = h.Notifications.Notify(h.ctx, uow, p)
		return err
	})
	require.NoError(h.t, err)
	return n
}

func taskUpdated(workspaceID, actorID, entityID uuid.UUID, recipients ...uuid.UUID) NotifyParams {
	return NotifyParams{
		TypeName:     store.NotifyTaskUpdated,
		WorkspaceID:  workspaceID,
		ActorID:      actorID,
		EntityType:   entityTodo,
		EntityID:     entityID,
		RecipientIDs: recipients,
		Metadata:     map[string]any{"entity_title": "t"},
	}
}

func TestNotifyExcludesActorAndDuplicates(t *testing.T) {
	h := newHarness(t)
	ws, actor, bob := uuid.New(), uuid.New(), uuid.New()

	n := h.notify(taskUpdated(ws, actor, uuid.New(), actor, bob, bob))
	require.NotNil(t, n)
	recipients := h.store.Recipients(n.ID)
	require.Len(t, recipients, 1)
	assert.Equal(t, bob, recipients[0].RecipientID)
	require.NotNil(t, n.ExpiresAt)
	assert.Equal(t, h.clock.Now().Add(90*24*time.Hour), *n.ExpiresAt)

	assert.Nil(t, h.notify(taskUpdated(ws, actor, uuid.New(), actor)), "only the actor means nothing to send")
}

func TestNotifyUnknownTypeIsNoop(t *testing.T) {
	h := newHarness(t)
	h.store.RemoveNotificationType(store.NotifyTaskUpdated)

	n := h.notify(taskUpdated(uuid.New(), uuid.New(), uuid.New(), uuid.New()))
	assert.Nil(t, n)
	assert.Empty(t, h.store.Notifications())
}

func TestNotifyDeduplicatesWithinWindow(t *testing.T) {
	h := newHarness(t)
	ws, actor, bob, entity := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	require.NotNil(t, h.notify(taskUpdated(ws, actor, entity, bob)))

	h.clock.Advance(299 * time.Second)
	assert.Nil(t, h.notify(taskUpdated(ws, actor, entity, bob)), "same actor, entity and type inside the window")
	assert.NotNil(t, h.notify(taskUpdated(ws, uuid.New(), entity, bob)), "a different actor is a new event")
	assert.NotNil(t, h.notify(taskUpdated(ws, actor, uuid.New(), bob)), "a different entity is a new event")

	h.clock.Advance(2 * time.Second)
	assert.NotNil(t, h.notify(taskUpdated(ws, actor, entity, bob)), "the window has passed")
	assert.Len(t, h.feed(bob), 4)
}

func TestMandatoryTypesBypassDedupAndPreferences(t *testing.T) {
	h := newHarness(t)
	ws, actor, bob := uuid.New(), uuid.New(), uuid.New()

	_, err := h.Notifications.UpdatePreference(h.ctx, bob, PreferenceUpdate{Enabled: false})
	require.NoError(t, err)

	params := NotifyParams{
		TypeName:     store.NotifyMemberAdded,
		WorkspaceID:  ws,
		ActorID:      actor,
		EntityType:   entityWorkspace,
		EntityID:     ws,
		RecipientIDs: []uuid.UUID{bob},
	}
	require.NotNil(t, h.notify(params))
	require.NotNil(t, h.notify(params))
	assert.Len(t, h.feed(bob), 2)

	assert.Nil(t, h.notify(taskUpdated(ws, actor, uuid.New(), bob)), "non-mandatory types honor the global opt-out")

	h.store.SetNotificationTypeMandatory(store.NotifyTaskUpdated, true)
	assert.NotNil(t, h.notify(taskUpdated(ws, actor, uuid.New(), bob)))
}

func TestPreferenceResolutionMostSpecificWins(t *testing.T) {
	h := newHarness(t)
	bob := uuid.New()
	ws, otherWS := uuid.New(), uuid.New()

	check := func(workspaceID uuid.UUID, typeName string) bool {
		t.Helper()
		ok, err := h.Notifications.ShouldNotify(h.ctx, bob, &workspaceID, typeName, store.ChannelInApp)
		require.NoError(t, err)
		return ok
	}

	assert.True(t, check(ws, store.NotifyTaskUpdated), "no preference means enabled")

	_, err := h.Notifications.UpdatePreference(h.ctx, bob, PreferenceUpdate{Channel: store.ChannelInApp, Enabled: false})
	require.NoError(t, err)
	assert.False(t, check(ws, store.NotifyTaskUpdated))
	assert.False(t, check(otherWS, store.NotifyTaskCreated))

	_, err = h.Notifications.UpdatePreference(h.ctx, bob, PreferenceUpdate{WorkspaceID: &ws, Enabled: true})
	require.NoError(t, err)
	assert.True(t, check(ws, store.NotifyTaskUpdated), "workspace row overrides the global row")
	assert.False(t, check(otherWS, store.NotifyTaskUpdated))

	_, err = h.Notifications.UpdatePreference(h.ctx, bob, PreferenceUpdate{
		WorkspaceID:      &ws,
		NotificationType: ptr(store.NotifyTaskUpdated),
		Enabled:          false,
	})
	require.NoError(t, err)
	assert.False(t, check(ws, store.NotifyTaskUpdated), "exact row overrides the workspace row")
	assert.True(t, check(ws, store.NotifyTaskCreated))

	// Upserting the same key flips the row instead of adding one.
	_, err = h.Notifications.UpdatePreference(h.ctx, bob, PreferenceUpdate{Channel: store.ChannelInApp, Enabled: true})
	require.NoError(t, err)
	prefs, err := h.Notifications.GetPreferences(h.ctx, bob)
	require.NoError(t, err)
	assert.Len(t, prefs, 3)
	assert.True(t, check(otherWS, store.NotifyTaskUpdated))
}

func TestNotificationFeed(t *testing.T) {
	h := newHarness(t)
	ws, otherWS, actor, bob := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	for i := 0; i < 4; i++ {
		require.NotNil(t, h.notify(taskUpdated(ws, actor, uuid.New(), bob)))
	}
	require.NotNil(t, h.notify(taskUpdated(otherWS, actor, uuid.New(), bob)))

	page, unread, err := h.Notifications.GetNotifications(h.ctx, bob, FeedQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, 5, unread)
	assert.Greater(t, page[0].ID, page[1].ID)
	assert.Equal(t, store.NotifyTaskUpdated, page[0].Type)
	assert.Equal(t, otherWS, page[0].WorkspaceID)

	next, _, err := h.Notifications.GetNotifications(h.ctx, bob, FeedQuery{Limit: 2, Cursor: &page[1].ID})
	require.NoError(t, err)
	require.Len(t, next, 2)
	assert.Less(t, next[0].ID, page[1].ID)

	scoped, scopedUnread, err := h.Notifications.GetNotifications(h.ctx, bob, FeedQuery{WorkspaceID: &ws})
	require.NoError(t, err)
	assert.Len(t, scoped, 4)
	assert.Equal(t, 4, scopedUnread)

	require.NoError(t, h.Notifications.MarkRead(h.ctx, page[0].ID, bob))
	count, err := h.Notifications.GetUnreadCount(h.ctx, bob, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	read, _, err := h.Notifications.GetNotifications(h.ctx, bob, FeedQuery{IsRead: ptr(true)})
	require.NoError(t, err)
	require.Len(t, read, 1)
	assert.NotNil(t, read[0].ReadAt)

	require.NoError(t, h.Notifications.MarkUnread(h.ctx, page[0].ID, bob))
	n, err := h.Notifications.MarkAllRead(h.ctx, bob, &ws)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	count, err = h.Notifications.GetUnreadCount(h.ctx, bob, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, h.Notifications.DeleteNotification(h.ctx, page[0].ID, bob))
	assert.Len(t, h.feed(bob), 4)
}

func TestNotificationRowsBelongToRecipient(t *testing.T) {
	h := newHarness(t)
	actor, bob, mallory := uuid.New(), uuid.New(), uuid.New()
	require.NotNil(t, h.notify(taskUpdated(uuid.New(), actor, uuid.New(), bob)))
	row := h.feed(bob)[0]

	requireCode(t, h.Notifications.MarkRead(h.ctx, row.ID, mallory), CodeNotificationNotFound)
	requireCode(t, h.Notifications.DeleteNotification(h.ctx, row.ID, mallory), CodeNotificationNotFound)
	requireCode(t, h.Notifications.MarkRead(h.ctx, row.ID+100, bob), CodeNotificationNotFound)

	require.NoError(t, h.Notifications.DeleteNotification(h.ctx, row.ID, bob))
	requireCode(t, h.Notifications.MarkRead(h.ctx, row.ID, bob), CodeNotificationNotFound)
}

func TestCleanupExpired(t *testing.T) {
	h := newHarness(t)
	actor, bob := uuid.New(), uuid.New()
	require.NotNil(t, h.notify(taskUpdated(uuid.New(), actor, uuid.New(), bob)))

	h.clock.Advance(30 * 24 * time.Hour)
	require.NotNil(t, h.notify(taskUpdated(uuid.New(), actor, uuid.New(), bob)))

	h.clock.Advance(61 * 24 * time.Hour)
	deleted, err := h.Notifications.CleanupExpired(h.ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	assert.Len(t, h.feed(bob), 1)
	assert.Len(t, h.store.Notifications(), 1)
}

func TestGetNotificationTypes(t *testing.T) {
	h := newHarness(t)
	types, err := h.Notifications.GetNotificationTypes(h.ctx)
	require.NoError(t, err)
	assert.Len(t, types, len(store.DefaultNotificationTypes()))

	mandatory := map[string]bool{}
	for _, nt := range types {
		mandatory[nt.Name] = nt.IsMandatory
	}
	assert.True(t, mandatory[store.NotifyInvitationReceived])
	assert.False(t, mandatory[store.NotifyTaskCompleted])
}
