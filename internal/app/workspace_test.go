package app

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lattices/api/internal/auth"
	"lattices/api/internal/rbac"
	"lattices/api/internal/store"
	"lattices/api/internal/util"
)

func TestCreateWorkspaceMakesCallerOwner(t *testing.T) {
	h := newHarness(t)
	alice := newUser("alice")

	ws, err := h.Workspaces.Create(h.ctx, alice.ID, "  My Team!! ", ptr("launch prep"))
	require.NoError(t, err)
	assert.Equal(t, "My Team!!", ws.Name)
	assert.Equal(t, "my-team", ws.Slug)

	role, err := h.Workspaces.GetUserRole(h.ctx, ws.ID, alice.ID)
	require.NoError(t, err)
	require.NotNil(t, role)
	assert.Equal(t, rbac.RoleOwner, *role)
	assert.Equal(t, 1, h.cache.Len())
}

func TestCreateWorkspaceSlugFallsBackToUserSuffix(t *testing.T) {
	h := newHarness(t)
	alice := newUser("alice")
	bob := newUser("bob")

	_, err := h.Workspaces.Create(h.ctx, alice.ID, "Design", nil)
	require.NoError(t, err)

	ws, err := h.Workspaces.Create(h.ctx, bob.ID, "Design", nil)
	require.NoError(t, err)
	assert.Equal(t, "design-"+util.ShortHex(bob.ID, 8), ws.Slug)

	_, err = h.Workspaces.Create(h.ctx, bob.ID, "design", nil)
	requireCode(t, err, CodeSlugTaken)
}

func TestCreateWorkspaceLongNameFallbackStaysWithinLimit(t *testing.T) {
	h := newHarness(t)
	alice := newUser("alice")
	bob := newUser("bob")
	name := strings.Repeat("a", 120)

	first, err := h.Workspaces.Create(h.ctx, alice.ID, name, nil)
	require.NoError(t, err)
	assert.Len(t, first.Slug, 100)

	second, err := h.Workspaces.Create(h.ctx, bob.ID, name, nil)
	require.NoError(t, err)
	assert.Len(t, second.Slug, 100)
	assert.Equal(t, strings.Repeat("a", 91)+"-"+util.ShortHex(bob.ID, 8), second.Slug)
}

func TestCreateWorkspaceRequiresName(t *testing.T) {
	h := newHarness(t)
	_, err := h.Workspaces.Create(h.ctx, newUser("alice").ID, "   ", nil)
	requireCode(t, err, CodeValidation)
}

func TestGetByIDDistinguishesMissingFromForeign(t *testing.T) {
	h := newHarness(t)
	alice := newUser("alice")
	mallory := newUser("mallory")
	ws := h.workspace(alice, "Acme", nil)

	_, err := h.Workspaces.GetByID(h.ctx, ws.ID, mallory.ID)
	requireCode(t, err, CodeNotAMember)

	_, err = h.Workspaces.GetByID(h.ctx, util.NewID(), alice.ID)
	requireCode(t, err, CodeWorkspaceNotFound)
}

func TestEnsurePersonalWorkspace(t *testing.T) {
	h := newHarness(t)
	alice := newUser("alice")

	ws, err := h.Workspaces.EnsurePersonalWorkspace(h.ctx, alice.ID)
	require.NoError(t, err)
	require.NotNil(t, ws)
	assert.Equal(t, "Personal", ws.Name)
	assert.Equal(t, "personal-"+util.ShortHex(alice.ID, 8), ws.Slug)

	again, err := h.Workspaces.EnsurePersonalWorkspace(h.ctx, alice.ID)
	require.NoError(t, err)
	assert.Nil(t, again)

	require.NoError(t, h.Workspaces.ClearProvisionCache(h.ctx))
	assert.Zero(t, h.cache.Len())

	// The cache only short-circuits; the store still knows the user has a
	// workspace.
	again, err = h.Workspaces.EnsurePersonalWorkspace(h.ctx, alice.ID)
	require.NoError(t, err)
	assert.Nil(t, again)
	assert.Equal(t, 1, h.cache.Len())

	all, err := h.Workspaces.GetAllForUser(h.ctx, alice.ID)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestEnsurePersonalWorkspaceSkipsExistingMember(t *testing.T) {
	h := newHarness(t)
	alice := newUser("alice")
	bob := newUser("bob")
	h.workspace(alice, "Acme", map[auth.Principal]rbac.Role{bob: rbac.RoleMember})

	ws, err := h.Workspaces.EnsurePersonalWorkspace(h.ctx, bob.ID)
	require.NoError(t, err)
	assert.Nil(t, ws)
}

func TestEnsurePersonalWorkspaceUsesLongerSlugOnCollision(t *testing.T) {
	h := newHarness(t)
	alice := newUser("alice")
	squatter := newUser("squatter")

	_, err := h.Workspaces.Create(h.ctx, squatter.ID, "personal-"+util.ShortHex(alice.ID, 8), nil)
	require.NoError(t, err)

	ws, err := h.Workspaces.EnsurePersonalWorkspace(h.ctx, alice.ID)
	require.NoError(t, err)
	require.NotNil(t, ws)
	assert.Equal(t, "personal-"+util.ShortHex(alice.ID, 12), ws.Slug)
}

func TestUpdateWorkspaceLogsOnlyRealChanges(t *testing.T) {
	h := newHarness(t)
	alice := newUser("alice")
	bob := newUser("bob")
	ws := h.workspace(alice, "Acme", map[auth.Principal]rbac.Role{bob: rbac.RoleMember})

	_, err := h.Workspaces.Update(h.ctx, ws.ID, bob.ID, WorkspaceUpdate{Name: ptr("Nope")})
	requireCode(t, err, CodeInsufficientPermissions)

	updated, err := h.Workspaces.Update(h.ctx, ws.ID, alice.ID, WorkspaceUpdate{Name: ptr("Acme Inc"), Description: SetTo("tools")})
	require.NoError(t, err)
	assert.Equal(t, "Acme Inc", updated.Name)
	assert.Equal(t, "acme", updated.Slug, "renaming keeps the slug")

	_, err = h.Workspaces.Update(h.ctx, ws.ID, alice.ID, WorkspaceUpdate{Name: ptr("Acme Inc")})
	require.NoError(t, err)

	var updates []store.ActivityLog
	for _, entry := range h.store.Activities() {
		if entry.Action == ActionWorkspaceUpdated {
			updates = append(updates, entry)
		}
	}
	require.Len(t, updates, 1)
	assert.Equal(t, store.FieldChange{Old: "Acme", New: "Acme Inc"}, updates[0].Changes["name"])
	assert.Equal(t, store.FieldChange{Old: nil, New: "tools"}, updates[0].Changes["description"])

	cleared, err := h.Workspaces.Update(h.ctx, ws.ID, alice.ID, WorkspaceUpdate{Description: SetNull[string]()})
	require.NoError(t, err)
	assert.Nil(t, cleared.Description)
}

func TestDeleteWorkspace(t *testing.T) {
	h := newHarness(t)
	alice := newUser("alice")
	bob := newUser("bob")

	only := h.workspace(alice, "Only", map[auth.Principal]rbac.Role{bob: rbac.RoleAdmin})
	requireCode(t, h.Workspaces.Delete(h.ctx, only.ID, alice.ID), CodeLastWorkspace)
	requireCode(t, h.Workspaces.Delete(h.ctx, only.ID, bob.ID), CodeInsufficientPermissions)

	other := h.workspace(alice, "Other", nil)
	h.todo(alice, "write docs", &other.ID, nil)
	require.NoError(t, h.Workspaces.Delete(h.ctx, other.ID, alice.ID))

	_, err := h.Workspaces.GetByID(h.ctx, other.ID, alice.ID)
	requireCode(t, err, CodeWorkspaceNotFound)
	assert.Empty(t, h.actions(other.ID), "activity cascades with the workspace")
}

func TestAddMember(t *testing.T) {
	h := newHarness(t)
	alice := newUser("alice")
	bob := newUser("bob")
	carol := newUser("carol")
	ws := h.workspace(alice, "Acme", map[auth.Principal]rbac.Role{bob: rbac.RoleMember})

	_, err := h.Workspaces.AddMember(h.ctx, ws.ID, alice, carol.ID, rbac.RoleOwner)
	requireCode(t, err, CodeInsufficientPermissions)

	_, err = h.Workspaces.AddMember(h.ctx, ws.ID, bob, carol.ID, rbac.RoleViewer)
	requireCode(t, err, CodeInsufficientPermissions)

	_, err = h.Workspaces.AddMember(h.ctx, ws.ID, alice, bob.ID, rbac.RoleViewer)
	requireCode(t, err, CodeAlreadyAMember)

	member, err := h.Workspaces.AddMember(h.ctx, ws.ID, alice, carol.ID, rbac.RoleViewer)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleViewer, member.Role)
	require.NotNil(t, member.InvitedBy)
	assert.Equal(t, alice.ID, *member.InvitedBy)

	feed := h.feed(carol.ID)
	require.Len(t, feed, 1)
	assert.Equal(t, store.NotifyMemberAdded, feed[0].Type)
	assert.Equal(t, "alice", feed[0].Metadata["actor_name"])
	assert.Equal(t, "Acme", feed[0].Metadata["workspace_name"])
}

func TestMemberAddedIsMandatory(t *testing.T) {
	h := newHarness(t)
	alice := newUser("alice")
	bob := newUser("bob")
	ws := h.workspace(alice, "Acme", nil)

	_, err := h.Notifications.UpdatePreference(h.ctx, bob.ID, PreferenceUpdate{Channel: store.ChannelInApp, Enabled: false})
	require.NoError(t, err)

	_, err = h.Workspaces.AddMember(h.ctx, ws.ID, alice, bob.ID, rbac.RoleMember)
	require.NoError(t, err)
	assert.Equal(t, []string{store.NotifyMemberAdded}, h.feedTypes(bob.ID))
}

func TestUpdateMemberRole(t *testing.T) {
	h := newHarness(t)
	alice := newUser("alice")
	bob := newUser("bob")
	carol := newUser("carol")
	ws := h.workspace(alice, "Acme", map[auth.Principal]rbac.Role{bob: rbac.RoleAdmin, carol: rbac.RoleViewer})

	_, err := h.Workspaces.UpdateMemberRole(h.ctx, ws.ID, bob, bob.ID, rbac.RoleMember)
	requireCode(t, err, CodeInsufficientPermissions)
	var selfErr *DomainError
	require.ErrorAs(t, err, &selfErr)
	assert.Equal(t, "Cannot change your own role", selfErr.Message)
	assert.NotContains(t, selfErr.Details, "required_role")

	_, err = h.Workspaces.UpdateMemberRole(h.ctx, ws.ID, bob, carol.ID, rbac.RoleOwner)
	requireCode(t, err, CodeInsufficientPermissions)

	updated, err := h.Workspaces.UpdateMemberRole(h.ctx, ws.ID, bob, carol.ID, rbac.RoleMember)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleMember, updated.Role)
	assert.Contains(t, h.actions(ws.ID), ActionMemberRoleChanged)
	assert.Contains(t, h.feedTypes(carol.ID), store.NotifyMemberRoleChanged)
}

func TestDemotingSoleOwnerReportsLastOwner(t *testing.T) {
	h := newHarness(t)
	alice := newUser("alice")
	bob := newUser("bob")
	ws := h.workspace(alice, "Acme", map[auth.Principal]rbac.Role{bob: rbac.RoleAdmin})

	_, err := h.Workspaces.UpdateMemberRole(h.ctx, ws.ID, bob, alice.ID, rbac.RoleMember)
	requireCode(t, err, CodeLastOwner)

	role, err := h.Workspaces.GetUserRole(h.ctx, ws.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleOwner, *role)
}

func TestRemoveMember(t *testing.T) {
	h := newHarness(t)
	alice := newUser("alice")
	bob := newUser("bob")
	carol := newUser("carol")
	dave := newUser("dave")
	ws := h.workspace(alice, "Acme", map[auth.Principal]rbac.Role{
		bob:   rbac.RoleAdmin,
		carol: rbac.RoleAdmin,
		dave:  rbac.RoleMember,
	})

	requireCode(t, h.Workspaces.RemoveMember(h.ctx, ws.ID, dave, carol.ID), CodeInsufficientPermissions)
	requireCode(t, h.Workspaces.RemoveMember(h.ctx, ws.ID, bob, carol.ID), CodeInsufficientPermissions)
	requireCode(t, h.Workspaces.RemoveMember(h.ctx, ws.ID, bob, alice.ID), CodeInsufficientPermissions)

	require.NoError(t, h.Workspaces.RemoveMember(h.ctx, ws.ID, bob, dave.ID))
	require.NoError(t, h.Workspaces.RemoveMember(h.ctx, ws.ID, alice, carol.ID))

	assert.Contains(t, h.feedTypes(dave.ID), store.NotifyMemberRemoved)
	assert.Equal(t, 2, countOf(h.actions(ws.ID), ActionMemberRemoved))

	requireCode(t, h.Workspaces.RemoveMember(h.ctx, ws.ID, alice, dave.ID), CodeNotAMember)
}

func TestLeaveWorkspace(t *testing.T) {
	h := newHarness(t)
	alice := newUser("alice")
	bob := newUser("bob")
	ws := h.workspace(alice, "Acme", map[auth.Principal]rbac.Role{bob: rbac.RoleMember})

	requireCode(t, h.Workspaces.RemoveMember(h.ctx, ws.ID, bob, bob.ID), CodeLastWorkspace)

	h.workspace(bob, "Bob's", nil)
	require.NoError(t, h.Workspaces.RemoveMember(h.ctx, ws.ID, bob, bob.ID))
	assert.Contains(t, h.actions(ws.ID), ActionMemberLeft)
	assert.NotContains(t, h.feedTypes(bob.ID), store.NotifyMemberRemoved)

	// The sole owner cannot leave even with another workspace to fall back on.
	h.workspace(alice, "Alice's", nil)
	requireCode(t, h.Workspaces.RemoveMember(h.ctx, ws.ID, alice, alice.ID), CodeLastOwner)
}

func TestTransferOwnership(t *testing.T) {
	h := newHarness(t)
	alice := newUser("alice")
	bob := newUser("bob")
	outsider := newUser("outsider")
	ws := h.workspace(alice, "Acme", map[auth.Principal]rbac.Role{bob: rbac.RoleMember})

	requireCode(t, h.Workspaces.TransferOwnership(h.ctx, ws.ID, alice, alice.ID), CodeValidation)
	requireCode(t, h.Workspaces.TransferOwnership(h.ctx, ws.ID, bob, alice.ID), CodeInsufficientPermissions)
	requireCode(t, h.Workspaces.TransferOwnership(h.ctx, ws.ID, alice, outsider.ID), CodeNotAMember)

	require.NoError(t, h.Workspaces.TransferOwnership(h.ctx, ws.ID, alice, bob.ID))

	aliceRole, err := h.Workspaces.GetUserRole(h.ctx, ws.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleAdmin, *aliceRole)
	bobRole, err := h.Workspaces.GetUserRole(h.ctx, ws.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleOwner, *bobRole)
	assert.Contains(t, h.actions(ws.ID), ActionMemberOwnershipTransferred)
}

func TestCheckPermission(t *testing.T) {
	h := newHarness(t)
	alice := newUser("alice")
	bob := newUser("bob")
	ws := h.workspace(alice, "Acme", map[auth.Principal]rbac.Role{bob: rbac.RoleMember})

	tests := []struct {
		name     string
		userID   uuid.UUID
		required rbac.Role
		want     bool
	}{
		{"owner has admin", alice.ID, rbac.RoleAdmin, true},
		{"member has viewer", bob.ID, rbac.RoleViewer, true},
		{"member lacks admin", bob.ID, rbac.RoleAdmin, false},
		{"outsider has nothing", util.NewID(), rbac.RoleViewer, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := h.Workspaces.CheckPermission(h.ctx, ws.ID, tt.userID, tt.required)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func countOf(items []string, want string) int {
	n := 0
	for _, item := range items {
		if item == want {
			n++
		}
	}
	return n
}

type brokenCache struct{}

func (brokenCache) Contains(context.Context, uuid.UUID) (bool, error) { return false, errCacheDown }
func (brokenCache) Add(context.Context, uuid.UUID) error { return errCacheDown }
func (brokenCache) Clear(context.Context) error { return errCacheDown }

var errCacheDown = errors.New("cache unavailable")

func TestProvisionCacheFailuresAreLogged(t *testing.T) {
	h := newHarness(t)
	var logs bytes.Buffer
	services := New(Options{
		Factory:        h.store,
		Logger:         zerolog.New(&logs),
		Now:            h.clock.Now,
		ProvisionCache: brokenCache{},
	})
	alice := newUser("alice")
	bob := newUser("bob")

	ws, err := services.Workspaces.Create(h.ctx, alice.ID, "Acme", nil)
	require.NoError(t, err)
	_, err = services.Workspaces.AddMember(h.ctx, ws.ID, alice, bob.ID, rbac.RoleMember)
	require.NoError(t, err)

	assert.Equal(t, 2, strings.Count(logs.String(), "provision cache write failed"))
}
