package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type pgTags struct{ q querier }

const tagColumns = `t.id, t.user_id, t.workspace_id, t.name, t.color_hex, t.created_at`

func scanTag(row scanner) (Tag, error) {
	var t Tag
	err := row.Scan(&t.ID, &t.UserID, &t.WorkspaceID, &t.Name, &t.ColorHex, &t.CreatedAt)
	return t, err
}

func (r pgTags) one(ctx context.Context, where string, args ...any) (*Tag, error) {
	t, err := scanTag(r.q.QueryRowContext(ctx, `SELECT `+tagColumns+` FROM tags t WHERE `+where, args...))
	return noRows(&t, err)
}

func (r pgTags) many(ctx context.Context, where string, args ...any) ([]Tag, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+tagColumns+` FROM tags t WHERE `+where+` ORDER BY t.name ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	return collect(rows, scanTag)
}

func (r pgTags) Get(ctx context.Context, id uuid.UUID) (*Tag, error) {
	return r.one(ctx, `t.id = $1`, id)
}

func (r pgTags) GetByName(ctx context.Context, userID uuid.UUID, name string) (*Tag, error) {
	return r.one(ctx, `t.workspace_id IS NULL AND t.user_id = $1 AND LOWER(t.name) = LOWER($2)`, userID, name)
}

func (r pgTags) GetByNameInWorkspace(ctx context.Context, workspaceID uuid.UUID, name string) (*Tag, error) {
	return r.one(ctx, `t.workspace_id = $1 AND LOWER(t.name) = LOWER($2)`, workspaceID, name)
}

func (r pgTags) ListForUser(ctx context.Context, userID uuid.UUID) ([]Tag, error) {
	return r.many(ctx, `t.workspace_id IS NULL AND t.user_id = $1`, userID)
}

func (r pgTags) ListForWorkspace(ctx context.Context, workspaceID uuid.UUID) ([]Tag, error) {
	return r.many(ctx, `t.workspace_id = $1`, workspaceID)
}

func (r pgTags) Create(ctx context.Context, t *Tag) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO tags (id, user_id, workspace_id, name, color_hex, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.ID, t.UserID, t.WorkspaceID, t.Name, t.ColorHex, t.CreatedAt)
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (r pgTags) Update(ctx context.Context, t *Tag) error {
	_, err := r.q.ExecContext(ctx, `UPDATE tags SET name = $2, color_hex = $3 WHERE id = $1`, t.ID, t.Name, t.ColorHex)
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (r pgTags) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM tags WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	return nil
}

func (r pgTags) Attach(ctx context.Context, tagID, todoID uuid.UUID) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO todo_tags (todo_id, tag_id) VALUES ($1, $2)
		ON CONFLICT (todo_id, tag_id) DO NOTHING
	`, todoID, tagID)
	if err != nil {
		return fmt.Errorf("attach tag: %w", err)
	}
	return nil
}

func (r pgTags) Detach(ctx context.Context, tagID, todoID uuid.UUID) (bool, error) {
	res, err := r.q.ExecContext(ctx, `DELETE FROM todo_tags WHERE todo_id = $1 AND tag_id = $2`, todoID, tagID)
	if err != nil {
		return false, fmt.Errorf("detach tag: %w", err)
	}
	n, err := rowsAffected(res)
	return n > 0, err
}

func (r pgTags) DetachAllFromTodos(ctx context.Context, todoIDs []uuid.UUID) (int, error) {
	if len(todoIDs) == 0 {
		return 0, nil
	}
	res, err := r.q.ExecContext(ctx, `DELETE FROM todo_tags WHERE todo_id = ANY($1::uuid[])`, uuidStrings(todoIDs))
	if err != nil {
		return 0, fmt.Errorf("detach tags: %w", err)
	}
	return rowsAffected(res)
}

func (r pgTags) ListForTodo(ctx context.Context, todoID uuid.UUID) ([]Tag, error) {
	byTodo, err := r.ListForTodos(ctx, []uuid.UUID{todoID})
	if err != nil {
		return nil, err
	}
	if tags := byTodo[todoID]; tags != nil {
		return tags, nil
	}
	return []Tag{}, nil
}

func (r pgTags) ListForTodos(ctx context.Context, todoIDs []uuid.UUID) (map[uuid.UUID][]Tag, error) {
	out := make(map[uuid.UUID][]Tag)
	if len(todoIDs) == 0 {
		return out, nil
	}
	rows, err := r.q.QueryContext(ctx, `
		SELECT tt.todo_id, `+tagColumns+`
		FROM todo_tags tt
		JOIN tags t ON t.id = tt.tag_id
		WHERE tt.todo_id = ANY($1::uuid[])
		ORDER BY t.name ASC
	`, uuidStrings(todoIDs))
	if err != nil {
		return nil, fmt.Errorf("list tags for todos: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			todoID uuid.UUID
			t      Tag
		)
		if err := rows.Scan(&todoID, &t.ID, &t.UserID, &t.WorkspaceID, &t.Name, &t.ColorHex, &t.CreatedAt); err != nil {
			return nil, err
		}
		out[todoID] = append(out[todoID], t)
	}
	return out, rows.Err()
}

func (r pgTags) UsageCounts(ctx context.Context, tagIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	out := make(map[uuid.UUID]int)
	if len(tagIDs) == 0 {
		return out, nil
	}
	rows, err := r.q.QueryContext(ctx, `
		SELECT tag_id, COUNT(*) FROM todo_tags WHERE tag_id = ANY($1::uuid[]) GROUP BY tag_id
	`, uuidStrings(tagIDs))
	if err != nil {
		return nil, fmt.Errorf("tag usage counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id uuid.UUID
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}
