package search

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lattices/api/internal/store"
)

type fakeEngine struct {
	mu        sync.Mutex
	healthy   bool
	searchErr error
	hits      []string
	lastQuery Query
	indexed   chan []TodoRecord
	deleted   chan []string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		healthy: true,
		indexed: make(chan []TodoRecord, 1),
		deleted: make(chan []string, 1),
	}
}

func (f *fakeEngine) Healthy() bool { return f.healthy }

func (f *fakeEngine) Search(q Query) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = q
	return f.hits, f.searchErr
}

func (f *fakeEngine) IndexTodos(records []TodoRecord) error {
	f.indexed <- records
	return nil
}

func (f *fakeEngine) DeleteTodos(ids []string) error {
	f.deleted <- ids
	return nil
}

func newTestService(e *fakeEngine) *Service {
	return &Service{engine: e, log: zerolog.Nop()}
}

func TestServiceWithoutEngineNeverAnswers(t *testing.T) {
	s := NewService(nil, zerolog.Nop())

	ids, ok := s.SearchTodos(store.TodoScope{UserID: uuid.New()}, "milk", 10)
	assert.False(t, ok)
	assert.Nil(t, ids)

	s.IndexTodos([]store.Todo{{ID: uuid.New()}})
	s.RemoveTodos([]uuid.UUID{uuid.New()})
}

func TestServiceSearchParsesIDs(t *testing.T) {
	e := newFakeEngine()
	want := uuid.New()
	e.hits = []string{want.String(), "not-a-uuid"}
	s := newTestService(e)

	ws := uuid.New()
	ids, ok := s.SearchTodos(store.TodoScope{UserID: uuid.New(), WorkspaceID: &ws}, "report", 5)
	require.True(t, ok)
	assert.Equal(t, []uuid.UUID{want}, ids)
	assert.Equal(t, "report", e.lastQuery.Text)
	assert.Equal(t, 5, e.lastQuery.Limit)
}

func TestServiceSearchFallsBackOnError(t *testing.T) {
	e := newFakeEngine()
	e.searchErr = errors.New("boom")
	s := newTestService(e)

	_, ok := s.SearchTodos(store.TodoScope{UserID: uuid.New()}, "x", 5)
	assert.False(t, ok)
}

func TestServiceSearchSkipsUnhealthyEngine(t *testing.T) {
	e := newFakeEngine()
	e.healthy = false
	s := newTestService(e)

	_, ok := s.SearchTodos(store.TodoScope{UserID: uuid.New()}, "x", 5)
	assert.False(t, ok)
}

func TestServiceIndexAndRemove(t *testing.T) {
	e := newFakeEngine()
	s := newTestService(e)
	todo := store.Todo{ID: uuid.New(), UserID: uuid.New(), Title: "Buy milk"}

	s.IndexTodos([]store.Todo{todo})
	select {
	case records := <-e.indexed:
		require.Len(t, records, 1)
		assert.Equal(t, todo.ID.String(), records[0].ID)
		assert.True(t, records[0].Personal)
	case <-time.After(time.Second):
		t.Fatal("todo was not indexed")
	}

	s.RemoveTodos([]uuid.UUID{todo.ID})
	select {
	case ids := <-e.deleted:
		assert.Equal(t, []string{todo.ID.String()}, ids)
	case <-time.After(time.Second):
		t.Fatal("todo was not removed")
	}
}

func TestScopeFilter(t *testing.T) {
	user := uuid.New()
	ws := uuid.New()

	assert.Equal(t, []string{`workspaceId = "` + ws.String() + `"`},
		scopeFilter(store.TodoScope{UserID: user, WorkspaceID: &ws}))
	assert.Equal(t, []string{"personal = true", `userId = "` + user.String() + `"`},
		scopeFilter(store.TodoScope{UserID: user}))
}

func TestRecordFromTodo(t *testing.T) {
	ws := uuid.New()
	desc := "two litres"
	todo := store.Todo{ID: uuid.New(), UserID: uuid.New(), WorkspaceID: &ws, Title: "Milk", Description: &desc, IsCompleted: true}

	r := RecordFromTodo(todo)
	assert.Equal(t, ws.String(), r.WorkspaceID)
	assert.Equal(t, "two litres", r.Description)
	assert.False(t, r.Personal)
	assert.True(t, r.IsCompleted)
}
