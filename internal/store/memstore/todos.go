package memstore

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"lattices/api/internal/store"
)

type todoRepo struct{ u *unitOfWork }

func sortTodos(items []store.Todo) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Position != items[j].Position {
			return items[i].Position < items[j].Position
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}

func inScope(todo store.Todo, scope store.TodoScope) bool {
	if scope.WorkspaceID != nil {
		return todo.WorkspaceID != nil && *todo.WorkspaceID == *scope.WorkspaceID
	}
	return todo.WorkspaceID == nil && todo.UserID == scope.UserID
}

func (r todoRepo) Get(_ context.Context, id uuid.UUID) (*store.Todo, error) {
	todo, ok := r.u.d.todos[id]
	if !ok {
		return nil, nil
	}
	return &todo, nil
}

func (r todoRepo) ListForUser(_ context.Context, userID uuid.UUID) ([]store.Todo, error) {
	return r.list(store.TodoScope{UserID: userID}), nil
}

func (r todoRepo) ListForWorkspace(_ context.Context, workspaceID uuid.UUID) ([]store.Todo, error) {
	return r.list(store.TodoScope{WorkspaceID: &workspaceID}), nil
}

func (r todoRepo) list(scope store.TodoScope) []store.Todo {
	items := make([]store.Todo, 0)
	for _, todo := range r.u.d.todos {
		if inScope(todo, scope) {
			items = append(items, todo)
		}
	}
	sortTodos(items)
	return items
}

func (r todoRepo) CountSiblings(_ context.Context, scope store.TodoScope, parentID *uuid.UUID) (int, error) {
	count := 0
	for _, todo := range r.u.d.todos {
		if parentID != nil {
			if todo.ParentID != nil && *todo.ParentID == *parentID {
				count++
			}
			continue
		}
		if todo.ParentID == nil && inScope(todo, scope) {
			count++
		}
	}
	return count, nil
}

func (r todoRepo) Create(_ context.Context, todo *store.Todo) error {
	if err := r.u.check(); err != nil {
		return err
	}
	if _, exists := r.u.d.todos[todo.ID]; exists {
		return store.ErrUniqueViolation
	}
	r.u.d.todos[todo.ID] = *todo
	return nil
}

func (r todoRepo) Update(_ context.Context, todo *store.Todo) error {
	if _, ok := r.u.d.todos[todo.ID]; ok {
		r.u.d.todos[todo.ID] = *todo
	}
	return nil
}

func (r todoRepo) Delete(_ context.Context, id uuid.UUID) error {
	deleteTodo(r.u.d, id)
	return nil
}

func deleteTodo(d *data, id uuid.UUID) {
	for _, child := range descendants(d, id) {
		delete(d.todos, child.ID)
		detachTodo(d, child.ID)
	}
	delete(d.todos, id)
	detachTodo(d, id)
}

func detachTodo(d *data, todoID uuid.UUID) int {
	removed := 0
	for key := range d.attachments {
		if key.todoID == todoID {
			delete(d.attachments, key)
			removed++
		}
	}
	return removed
}

func descendants(d *data, id uuid.UUID) []store.Todo {
	children := map[uuid.UUID][]store.Todo{}
	for _, todo := range d.todos {
		if todo.ParentID != nil {
			children[*todo.ParentID] = append(children[*todo.ParentID], todo)
		}
	}
	out := make([]store.Todo, 0)
	queue := []uuid.UUID{id}
	seen := map[uuid.UUID]bool{id: true}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, child := range children[current] {
			if seen[child.ID] {
				continue
			}
			seen[child.ID] = true
			out = append(out, child)
			queue = append(queue, child.ID)
		}
	}
	return out
}

func (r todoRepo) ChildCounts(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]store.ChildCounts, error) {
	wanted := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	out := make(map[uuid.UUID]store.ChildCounts)
	for _, todo := range r.u.d.todos {
		if todo.ParentID == nil || !wanted[*todo.ParentID] {
			continue
		}
		counts := out[*todo.ParentID]
		counts.Children++
		if todo.IsCompleted {
			counts.Completed++
		}
		out[*todo.ParentID] = counts
	}
	return out, nil
}

func (r todoRepo) ListDescendants(_ context.Context, id uuid.UUID) ([]store.Todo, error) {
	return descendants(r.u.d, id), nil
}

func (r todoRepo) SetWorkspace(_ context.Context, ids []uuid.UUID, workspaceID *uuid.UUID, now time.Time) error {
	for _, id := range ids {
		todo, ok := r.u.d.todos[id]
		if !ok {
			continue
		}
		todo.WorkspaceID = workspaceID
		todo.UpdatedAt = now
		r.u.d.todos[id] = todo
	}
	return nil
}

func (r todoRepo) Search(_ context.Context, scope store.TodoScope, query string, limit int) ([]store.Todo, error) {
	needle := strings.ToLower(strings.TrimSpace(query))
	items := make([]store.Todo, 0)
	for _, todo := range r.list(scope) {
		haystack := strings.ToLower(todo.Title)
		if todo.Description != nil {
			haystack += " " + strings.ToLower(*todo.Description)
		}
		if strings.Contains(haystack, needle) {
			items = append(items, todo)
		}
		if limit > 0 && len(items) >= limit {
			break
		}
	}
	return items, nil
}
