package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"lattices/api/internal/auth"
	"lattices/api/internal/email"
	"lattices/api/internal/provision"
	"lattices/api/internal/rbac"
	"lattices/api/internal/store"
	"lattices/api/internal/store/memstore"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeIndex struct {
	mu      sync.Mutex
	indexed map[uuid.UUID]store.Todo
	removed []uuid.UUID
	hits    []uuid.UUID
	ok      bool
}

func (f *fakeIndex) IndexTodos(todos []store.Todo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range todos {
		f.indexed[t.ID] = t
	}
}

func (f *fakeIndex) RemoveTodos(ids []uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, ids...)
}

func (f *fakeIndex) SearchTodos(store.TodoScope, string, int) ([]uuid.UUID, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits, f.ok
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []email.Invitation
	err  error
}

func (f *fakeMailer) SendInvitation(_ context.Context, msg email.Invitation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return f.err
}

type harness struct {
	t      *testing.T
	ctx    context.Context
	store  *memstore.Store
	clock  *fakeClock
	cache  *provision.MemoryCache
	index  *fakeIndex
	mailer *fakeMailer
	*Services
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		ctx:    context.Background(),
		store:  memstore.New(),
		clock:  &fakeClock{now: time.Date(2026, time.January, 5, 9, 0, 0, 0, time.UTC)},
		cache:  provision.NewMemoryCache(),
		index:  &fakeIndex{indexed: map[uuid.UUID]store.Todo{}},
		mailer: &fakeMailer{},
	}
	h.Services = New(Options{
		Factory:        h.store,
		Logger:         zerolog.Nop(),
		Now:            h.clock.Now,
		ProvisionCache: h.cache,
		TodoIndex:      h.index,
		Mailer:         h.mailer,
	})
	return h
}

func newUser(name string) auth.Principal {
	return auth.Principal{ID: uuid.New(), Email: name + "@example.com", Name: name}
}

// workspace creates a workspace owned by owner and adds each extra member
// with the given role.
func (h *harness) workspace(owner auth.Principal, name string, members map[auth.Principal]rbac.Role) *store.Workspace {
	h.t.Helper()
	ws, err := h.Workspaces.Create(h.ctx, owner.ID, name, nil)
	require.NoError(h.t, err)
	for member, role := range members {
		_, err := h.Workspaces.AddMember(h.ctx, ws.ID, owner, member.ID, role)
		require.NoError(h.t, err)
	}
	return ws
}

func (h *harness) todo(actor auth.Principal, title string, workspaceID, parentID *uuid.UUID) *store.Todo {
	h.t.Helper()
	todo, err := h.Todos.Create(h.ctx, actor, TodoCreate{Title: title, WorkspaceID: workspaceID, ParentID: parentID})
	require.NoError(h.t, err)
	return todo
}

// feed returns every notification row delivered to userID, newest first.
func (h *harness) feed(userID uuid.UUID) []NotificationView {
	h.t.Helper()
	views, _, err := h.Notifications.GetNotifications(h.ctx, userID, FeedQuery{Limit: 100})
	require.NoError(h.t, err)
	return views
}

func (h *harness) feedTypes(userID uuid.UUID) []string {
	views := h.feed(userID)
	out := make([]string, 0, len(views))
	for _, v := range views {
		out = append(out, v.Type)
	}
	return out
}

func (h *harness) actions(workspaceID uuid.UUID) []string {
	out := []string{}
	for _, entry := range h.store.Activities() {
		if entry.WorkspaceID == workspaceID {
			out = append(out, entry.Action)
		}
	}
	return out
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	require.Truef(t, IsCode(err, code), "expected %s, got %v", code, err)
}

func ptr[T any](v T) *T { return &v }
