package app

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lattices/api/internal/auth"
	"lattices/api/internal/rbac"
	"lattices/api/internal/store"
)

func TestCreatePersonalTodoHasNoActivity(t *testing.T) {
	h := newHarness(t)
	alice := newUser("alice")

	first := h.todo(alice, "  buy milk ", nil, nil)
	second := h.todo(alice, "buy eggs", nil, nil)
	assert.Equal(t, "buy milk", first.Title)
	assert.Equal(t, 0, first.Position)
	assert.Equal(t, 1, second.Position)
	assert.Nil(t, first.WorkspaceID)
	assert.Empty(t, h.store.Activities())
	assert.Contains(t, h.index.indexed, first.ID)

	_, err := h.Todos.Create(h.ctx, alice, TodoCreate{Title: " "})
	requireCode(t, err, CodeValidation)
}

func TestCreateWorkspaceTodoNotifiesOtherMembers(t *testing.T) {
	h := newHarness(t)
	alice := newUser("alice")
	bob := newUser("bob")
	viewer := newUser("viewer")
	ws := h.workspace(alice, "Acme", map[auth.Principal]rbac.Role{bob: rbac.RoleMember, viewer: rbac.RoleViewer})

	todo := h.todo(bob, "ship it", &ws.ID, nil)
	assert.Equal(t, []string{ActionMemberAdded, ActionMemberAdded, ActionTodoCreated}, h.actions(ws.ID))

	assert.Contains(t, h.feedTypes(alice.ID), store.NotifyTaskCreated)
	assert.Contains(t, h.feedTypes(viewer.ID), store.NotifyTaskCreated)
	assert.NotContains(t, h.feedTypes(bob.ID), store.NotifyTaskCreated, "the actor is never notified")

	_, err := h.Todos.Create(h.ctx, viewer, TodoCreate{Title: "nope", WorkspaceID: &ws.ID})
	requireCode(t, err, CodeInsufficientPermissions)

	got, err := h.Todos.GetByID(h.ctx, todo.ID, viewer.ID, &ws.ID)
	require.NoError(t, err)
	assert.Equal(t, todo.ID, got.ID)
}

func TestGetByIDHidesForeignTodos(t *testing.T) {
	h := newHarness(t)
	alice := newUser("alice")
	mallory := newUser("mallory")
	ws := h.workspace(alice, "Acme", nil)

	personal := h.todo(alice, "diary", nil, nil)
	shared := h.todo(alice, "roadmap", &ws.ID, nil)

	_, err := h.Todos.GetByID(h.ctx, personal.ID, mallory.ID, nil)
	requireCode(t, err, CodeTaskNotFound)
	_, err = h.Todos.GetByID(h.ctx, shared.ID, mallory.ID, nil)
	requireCode(t, err, CodeTaskNotFound)
	_, err = h.Todos.GetByID(h.ctx, shared.ID, mallory.ID, &ws.ID)
	requireCode(t, err, CodeNotAMember)

	other := h.workspace(alice, "Other", nil)
	_, err = h.Todos.GetByID(h.ctx, shared.ID, alice.ID, &other.ID)
	requireCode(t, err, CodeTaskNotFound)

	got, err := h.Todos.GetByID(h.ctx, personal.ID, alice.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "diary", got.Title)
}

func TestUpdateRejectsCycles(t *testing.T) {
	h := newHarness(t)
	alice := newUser("alice")

	a := h.todo(alice, "A", nil, nil)
	b := h.todo(alice, "B", nil, &a.ID)
	c := h.todo(alice, "C", nil, &b.ID)

	_, err := h.Todos.Update(h.ctx, a.ID, alice, TodoUpdate{ParentID: SetTo(c.ID)})
	requireCode(t, err, CodeCircularReference)

	_, err = h.Todos.Update(h.ctx, a.ID, alice, TodoUpdate{ParentID: SetTo(a.ID)})
	requireCode(t, err, CodeCircularReference)

	moved, err := h.Todos.Update(h.ctx, c.ID, alice, TodoUpdate{ParentID: SetNull[uuid.UUID]()})
	require.NoError(t, err)
	assert.Nil(t, moved.ParentID)
	assert.Equal(t, 1, moved.Position, "appended after A at the root")
}

func TestUpdateRejectsParentOutsideScope(t *testing.T) {
	h := newHarness(t)
	alice := newUser("alice")
	ws := h.workspace(alice, "Acme", nil)

	personal := h.todo(alice, "personal", nil, nil)
	shared := h.todo(alice, "shared", &ws.ID, nil)

	_, err := h.Todos.Update(h.ctx, personal.ID, alice, TodoUpdate{ParentID: SetTo(shared.ID)})
	requireCode(t, err, CodeTaskNotFound)

	_, err = h.Todos.Create(h.ctx, alice, TodoCreate{Title: "child", WorkspaceID: &ws.ID, ParentID: &personal.ID})
	requireCode(t, err, CodeTaskNotFound)
}

func TestCompleteTodo(t *testing.T) {
	h := newHarness(t)
	alice := newUser("alice")
	bob := newUser("bob")
	ws := h.workspace(alice, "Acme", map[auth.Principal]rbac.Role{bob: rbac.RoleMember})
	todo := h.todo(alice, "review", &ws.ID, nil)

	done, err := h.Todos.Update(h.ctx, todo.ID, alice, TodoUpdate{IsCompleted: ptr(true)})
	require.NoError(t, err)
	assert.True(t, done.IsCompleted)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, h.clock.Now(), *done.CompletedAt)
	assert.Contains(t, h.feedTypes(bob.ID), store.NotifyTaskCompleted)

	undone, err := h.Todos.Update(h.ctx, todo.ID, alice, TodoUpdate{IsCompleted: ptr(false)})
	require.NoError(t, err)
	assert.False(t, undone.IsCompleted)
	assert.Nil(t, undone.CompletedAt)

	actions := h.actions(ws.ID)
	assert.Contains(t, actions, ActionTodoCompleted)
	assert.Contains(t, actions, ActionTodoUncompleted)

	before := len(h.store.Activities())
	_, err = h.Todos.Update(h.ctx, todo.ID, alice, TodoUpdate{Title: ptr("review")})
	require.NoError(t, err)
	assert.Len(t, h.store.Activities(), before, "no-op updates are not logged")
}

func TestDeleteTodoCascades(t *testing.T) {
	h := newHarness(t)
	alice := newUser("alice")
	ws := h.workspace(alice, "Acme", nil)

	root := h.todo(alice, "root", &ws.ID, nil)
	child := h.todo(alice, "child", &ws.ID, &root.ID)
	grandchild := h.todo(alice, "grandchild", &ws.ID, &child.ID)

	require.NoError(t, h.Todos.Delete(h.ctx, root.ID, alice))

	for _, id := range []uuid.UUID{root.ID, child.ID, grandchild.ID} {
		_, err := h.Todos.GetByID(h.ctx, id, alice.ID, nil)
		requireCode(t, err, CodeTaskNotFound)
	}
	assert.ElementsMatch(t, []uuid.UUID{root.ID, child.ID, grandchild.ID}, h.index.removed)

	var deleted *store.ActivityLog
	for _, entry := range h.store.Activities() {
		if entry.Action == ActionTodoDeleted {
			entry := entry
			deleted = &entry
		}
	}
	require.NotNil(t, deleted)
	assert.Equal(t, 2, deleted.Metadata["descendant_count"])
}

func TestGetChildCountsBatch(t *testing.T) {
	h := newHarness(t)
	alice := newUser("alice")

	parent := h.todo(alice, "parent", nil, nil)
	lonely := h.todo(alice, "lonely", nil, nil)
	first := h.todo(alice, "one", nil, &parent.ID)
	h.todo(alice, "two", nil, &parent.ID)
	_, err := h.Todos.Update(h.ctx, first.ID, alice, TodoUpdate{IsCompleted: ptr(true)})
	require.NoError(t, err)

	counts, err := h.Todos.GetChildCountsBatch(h.ctx, []uuid.UUID{parent.ID, lonely.ID})
	require.NoError(t, err)
	assert.Equal(t, store.ChildCounts{Children: 2, Completed: 1}, counts[parent.ID])
	assert.Zero(t, counts[lonely.ID])

	empty, err := h.Todos.GetChildCountsBatch(h.ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMoveToWorkspaceCarriesSubtree(t *testing.T) {
	h := newHarness(t)
	alice := newUser("alice")
	bob := newUser("bob")
	ws := h.workspace(alice, "Acme", map[auth.Principal]rbac.Role{bob: rbac.RoleMember})

	root := h.todo(alice, "plan", nil, nil)
	child := h.todo(alice, "step", nil, &root.ID)
	tag, err := h.Tags.Create(h.ctx, alice.ID, TagCreate{Name: "home"})
	require.NoError(t, err)
	require.NoError(t, h.Tags.AttachToTodo(h.ctx, tag.ID, child.ID, alice.ID))

	moved, err := h.Todos.MoveToWorkspace(h.ctx, root.ID, alice, &ws.ID)
	require.NoError(t, err)
	require.NotNil(t, moved.WorkspaceID)
	assert.Equal(t, ws.ID, *moved.WorkspaceID)

	movedChild, err := h.Todos.GetByID(h.ctx, child.ID, bob.ID, &ws.ID)
	require.NoError(t, err)
	assert.Equal(t, root.ID, *movedChild.ParentID)

	tags, err := h.Tags.GetTagsForTodo(h.ctx, child.ID, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, tags, "personal tags do not follow a todo into a workspace")

	var movedIn *store.ActivityLog
	for _, entry := range h.store.Activities() {
		if entry.Action == ActionTodoWorkspaceChanged {
			entry := entry
			movedIn = &entry
		}
	}
	require.NotNil(t, movedIn)
	assert.Equal(t, "moved_in", movedIn.Metadata["direction"])
	assert.Equal(t, 2, movedIn.Metadata["moved_count"])
	assert.Contains(t, h.feedTypes(bob.ID), store.NotifyTaskMovedWorkspace)
	assert.Equal(t, ws.ID, *h.index.indexed[child.ID].WorkspaceID)
}

func TestMoveBackToPersonalOnlyForCreator(t *testing.T) {
	h := newHarness(t)
	alice := newUser("alice")
	bob := newUser("bob")
	ws := h.workspace(alice, "Acme", map[auth.Principal]rbac.Role{bob: rbac.RoleMember})
	todo := h.todo(alice, "draft", &ws.ID, nil)

	_, err := h.Todos.MoveToWorkspace(h.ctx, todo.ID, bob, nil)
	requireCode(t, err, CodeWorkspaceMoveInvalid)

	moved, err := h.Todos.MoveToWorkspace(h.ctx, todo.ID, alice, nil)
	require.NoError(t, err)
	assert.Nil(t, moved.WorkspaceID)
	assert.Contains(t, h.actions(ws.ID), ActionTodoWorkspaceChanged)

	_, err = h.Todos.GetByID(h.ctx, todo.ID, bob.ID, nil)
	requireCode(t, err, CodeTaskNotFound)
}

func TestMoveToWorkspaceRequiresMembership(t *testing.T) {
	h := newHarness(t)
	alice := newUser("alice")
	bob := newUser("bob")
	theirs := h.workspace(bob, "Bob's", nil)
	todo := h.todo(alice, "secret", nil, nil)

	_, err := h.Todos.MoveToWorkspace(h.ctx, todo.ID, alice, &theirs.ID)
	requireCode(t, err, CodeNotAMember)
}

func TestSearchFallsBackToStore(t *testing.T) {
	h := newHarness(t)
	alice := newUser("alice")
	h.todo(alice, "Quarterly report", nil, nil)
	h.todo(alice, "Groceries", nil, nil)

	items, err := h.Todos.Search(h.ctx, alice.ID, nil, "report", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Quarterly report", items[0].Title)

	_, err = h.Todos.Search(h.ctx, alice.ID, nil, "  ", 10)
	requireCode(t, err, CodeValidation)
}

func TestSearchUsesIndexAndRechecksScope(t *testing.T) {
	h := newHarness(t)
	alice := newUser("alice")
	mallory := newUser("mallory")
	mine := h.todo(alice, "alpha", nil, nil)
	theirs := h.todo(mallory, "alpha", nil, nil)

	h.index.hits = []uuid.UUID{theirs.ID, mine.ID, uuid.New()}
	h.index.ok = true

	items, err := h.Todos.Search(h.ctx, alice.ID, nil, "alpha", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, mine.ID, items[0].ID)
}
