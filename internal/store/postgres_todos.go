package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type pgTodos struct{ q querier }

const todoColumns = `id, user_id, parent_id, workspace_id, title, description, is_completed, position, created_at, updated_at, completed_at`

func scanTodo(row scanner) (Todo, error) {
	var t Todo
	err := row.Scan(&t.ID, &t.UserID, &t.ParentID, &t.WorkspaceID, &t.Title, &t.Description,
		&t.IsCompleted, &t.Position, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt)
	return t, err
}

// scopeClause renders the WHERE fragment for scope, numbering from arg.
func scopeClause(scope TodoScope, arg int) (string, any) {
	if scope.WorkspaceID != nil {
		return fmt.Sprintf("workspace_id = $%d", arg), *scope.WorkspaceID
	}
	return fmt.Sprintf("workspace_id IS NULL AND user_id = $%d", arg), scope.UserID
}

func (r pgTodos) Get(ctx context.Context, id uuid.UUID) (*Todo, error) {
	t, err := scanTodo(r.q.QueryRowContext(ctx, `SELECT `+todoColumns+` FROM todos WHERE id = $1`, id))
	return noRows(&t, err)
}

func (r pgTodos) list(ctx context.Context, scope TodoScope) ([]Todo, error) {
	where, arg := scopeClause(scope, 1)
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+todoColumns+` FROM todos WHERE `+where+` ORDER BY position ASC, created_at ASC
	`, arg)
	if err != nil {
		return nil, fmt.Errorf("list todos: %w", err)
	}
	return collect(rows, scanTodo)
}

func (r pgTodos) ListForUser(ctx context.Context, userID uuid.UUID) ([]Todo, error) {
	return r.list(ctx, TodoScope{UserID: userID})
}

func (r pgTodos) ListForWorkspace(ctx context.Context, workspaceID uuid.UUID) ([]Todo, error) {
	return r.list(ctx, TodoScope{WorkspaceID: &workspaceID})
}

func (r pgTodos) CountSiblings(ctx context.Context, scope TodoScope, parentID *uuid.UUID) (int, error) {
	var (
		n   int
		err error
	)
	if parentID != nil {
		err = r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM todos WHERE parent_id = $1`, *parentID).Scan(&n)
	} else {
		where, arg := scopeClause(scope, 1)
		err = r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM todos WHERE parent_id IS NULL AND `+where, arg).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count siblings: %w", err)
	}
	return n, nil
}

func (r pgTodos) Create(ctx context.Context, t *Todo) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO todos (`+todoColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, t.ID, t.UserID, t.ParentID, t.WorkspaceID, t.Title, t.Description,
		t.IsCompleted, t.Position, t.CreatedAt, t.UpdatedAt, t.CompletedAt)
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (r pgTodos) Update(ctx context.Context, t *Todo) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE todos
		SET parent_id = $2, workspace_id = $3, title = $4, description = $5,
			is_completed = $6, position = $7, updated_at = $8, completed_at = $9
		WHERE id = $1
	`, t.ID, t.ParentID, t.WorkspaceID, t.Title, t.Description,
		t.IsCompleted, t.Position, t.UpdatedAt, t.CompletedAt)
	if err != nil {
		return mapError(err)
	}
	return nil
}

// Delete relies on the parent_id cascade for descendants.
func (r pgTodos) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM todos WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete todo: %w", err)
	}
	return nil
}

func (r pgTodos) ChildCounts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]ChildCounts, error) {
	out := make(map[uuid.UUID]ChildCounts)
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.q.QueryContext(ctx, `
		SELECT parent_id, COUNT(*), COUNT(*) FILTER (WHERE is_completed)
		FROM todos
		WHERE parent_id = ANY($1::uuid[])
		GROUP BY parent_id
	`, uuidStrings(ids))
	if err != nil {
		return nil, fmt.Errorf("child counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			parent uuid.UUID
			counts ChildCounts
		)
		if err := rows.Scan(&parent, &counts.Children, &counts.Completed); err != nil {
			return nil, err
		}
		out[parent] = counts
	}
	return out, rows.Err()
}

func (r pgTodos) ListDescendants(ctx context.Context, id uuid.UUID) ([]Todo, error) {
	rows, err := r.q.QueryContext(ctx, `
		WITH RECURSIVE tree AS (
			SELECT `+todoColumns+`, 1 AS depth FROM todos WHERE parent_id = $1
			UNION
			SELECT t.id, t.user_id, t.parent_id, t.workspace_id, t.title, t.description, t.is_completed,
				t.position, t.created_at, t.updated_at, t.completed_at, tree.depth + 1
			FROM todos t
			JOIN tree ON t.parent_id = tree.id
		)
		SELECT `+todoColumns+` FROM tree ORDER BY depth ASC, position ASC, created_at ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list descendants: %w", err)
	}
	return collect(rows, scanTodo)
}

func (r pgTodos) SetWorkspace(ctx context.Context, ids []uuid.UUID, workspaceID *uuid.UUID, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.q.ExecContext(ctx, `
		UPDATE todos SET workspace_id = $2, updated_at = $3 WHERE id = ANY($1::uuid[])
	`, uuidStrings(ids), workspaceID, now); err != nil {
		return fmt.Errorf("set todo workspace: %w", err)
	}
	return nil
}

// Search ranks full-text matches first and falls back to a substring match
// so partial words still hit.
func (r pgTodos) Search(ctx context.Context, scope TodoScope, query string, limit int) ([]Todo, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Todo{}, nil
	}
	if limit <= 0 {
		limit = 20
	}
	where, arg := scopeClause(scope, 1)
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+todoColumns+`
		FROM todos
		WHERE `+where+`
			AND (fts @@ plainto_tsquery('simple', $2)
				OR title ILIKE '%' || $2 || '%'
				OR description ILIKE '%' || $2 || '%')
		ORDER BY ts_rank(fts, plainto_tsquery('simple', $2)) DESC, position ASC, created_at ASC
		LIMIT $3
	`, arg, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search todos: %w", err)
	}
	return collect(rows, scanTodo)
}
