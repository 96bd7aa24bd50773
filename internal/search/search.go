// Package search mirrors todos into Meilisearch. Postgres stays the source
// of truth and answers whenever the engine cannot.
package search

import (
	"fmt"

	"github.com/google/uuid"

	"lattices/api/internal/store"
)

// TodoRecord is the data we index for a todo.
type TodoRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	UserID      string `json:"userId"`
	WorkspaceID string `json:"workspaceId"`
	Personal    bool   `json:"personal"`
	IsCompleted bool   `json:"isCompleted"`
}

func RecordFromTodo(todo store.Todo) TodoRecord {
	r := TodoRecord{
		ID:          todo.ID.String(),
		Title:       todo.Title,
		UserID:      todo.UserID.String(),
		Personal:    todo.WorkspaceID == nil,
		IsCompleted: todo.IsCompleted,
	}
	if todo.Description != nil {
		r.Description = *todo.Description
	}
	if todo.WorkspaceID != nil {
		r.WorkspaceID = todo.WorkspaceID.String()
	}
	return r
}

// Query describes a todo search.
type Query struct {
	Text  string
	Scope store.TodoScope
	Limit int
}

// scopeFilter restricts hits to a workspace, or to one user's personal todos.
func scopeFilter(scope store.TodoScope) []string {
	if scope.WorkspaceID != nil {
		return []string{fmt.Sprintf("workspaceId = %q", scope.WorkspaceID.String())}
	}
	return []string{"personal = true", fmt.Sprintf("userId = %q", scope.UserID.String())}
}

// parseIDs drops hits whose id is not a valid UUID.
func parseIDs(raw []string) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out
}
