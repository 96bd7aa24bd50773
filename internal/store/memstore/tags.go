package memstore

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"lattices/api/internal/store"
)

type tagRepo struct{ u *unitOfWork }

func sortTags(items []store.Tag) {
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
}

func (r tagRepo) Get(_ context.Context, id uuid.UUID) (*store.Tag, error) {
	tag, ok := r.u.d.tags[id]
	if !ok {
		return nil, nil
	}
	return &tag, nil
}

func (r tagRepo) GetByName(_ context.Context, userID uuid.UUID, name string) (*store.Tag, error) {
	for _, tag := range r.u.d.tags {
		if tag.WorkspaceID == nil && tag.UserID == userID && strings.EqualFold(tag.Name, name) {
			return &tag, nil
		}
	}
	return nil, nil
}

func (r tagRepo) GetByNameInWorkspace(_ context.Context, workspaceID uuid.UUID, name string) (*store.Tag, error) {
	for _, tag := range r.u.d.tags {
		if tag.WorkspaceID != nil && *tag.WorkspaceID == workspaceID && strings.EqualFold(tag.Name, name) {
			return &tag, nil
		}
	}
	return nil, nil
}

func (r tagRepo) ListForUser(_ context.Context, userID uuid.UUID) ([]store.Tag, error) {
	items := make([]store.Tag, 0)
	for _, tag := range r.u.d.tags {
		if tag.WorkspaceID == nil && tag.UserID == userID {
			items = append(items, tag)
		}
	}
	sortTags(items)
	return items, nil
}

func (r tagRepo) ListForWorkspace(_ context.Context, workspaceID uuid.UUID) ([]store.Tag, error) {
	items := make([]store.Tag, 0)
	for _, tag := range r.u.d.tags {
		if tag.WorkspaceID != nil && *tag.WorkspaceID == workspaceID {
			items = append(items, tag)
		}
	}
	sortTags(items)
	return items, nil
}

func (r tagRepo) conflicts(tag *store.Tag) bool {
	for id, existing := range r.u.d.tags {
		if id == tag.ID || !strings.EqualFold(existing.Name, tag.Name) {
			continue
		}
		if tag.WorkspaceID != nil {
			if sameUUID(existing.WorkspaceID, tag.WorkspaceID) {
				return true
			}
			continue
		}
		if existing.WorkspaceID == nil && existing.UserID == tag.UserID {
			return true
		}
	}
	return false
}

func (r tagRepo) Create(_ context.Context, tag *store.Tag) error {
	if err := r.u.check(); err != nil {
		return err
	}
	if r.conflicts(tag) {
		return store.ErrUniqueViolation
	}
	r.u.d.tags[tag.ID] = *tag
	return nil
}

func (r tagRepo) Update(_ context.Context, tag *store.Tag) error {
	if r.conflicts(tag) {
		return store.ErrUniqueViolation
	}
	if _, ok := r.u.d.tags[tag.ID]; ok {
		r.u.d.tags[tag.ID] = *tag
	}
	return nil
}

func (r tagRepo) Delete(_ context.Context, id uuid.UUID) error {
	deleteTag(r.u.d, id)
	return nil
}

func deleteTag(d *data, id uuid.UUID) {
	delete(d.tags, id)
	for key := range d.attachments {
		if key.tagID == id {
			delete(d.attachments, key)
		}
	}
}

func (r tagRepo) Attach(_ context.Context, tagID, todoID uuid.UUID) error {
	r.u.d.attachments[attachKey{tagID, todoID}] = struct{}{}
	return nil
}

func (r tagRepo) Detach(_ context.Context, tagID, todoID uuid.UUID) (bool, error) {
	key := attachKey{tagID, todoID}
	if _, ok := r.u.d.attachments[key]; !ok {
		return false, nil
	}
	delete(r.u.d.attachments, key)
	return true, nil
}

func (r tagRepo) DetachAllFromTodos(_ context.Context, todoIDs []uuid.UUID) (int, error) {
	removed := 0
	for _, id := range todoIDs {
		removed += detachTodo(r.u.d, id)
	}
	return removed, nil
}

func (r tagRepo) ListForTodo(ctx context.Context, todoID uuid.UUID) ([]store.Tag, error) {
	byTodo, err := r.ListForTodos(ctx, []uuid.UUID{todoID})
	if err != nil {
		return nil, err
	}
	items := byTodo[todoID]
	if items == nil {
		items = make([]store.Tag, 0)
	}
	return items, nil
}

func (r tagRepo) ListForTodos(_ context.Context, todoIDs []uuid.UUID) (map[uuid.UUID][]store.Tag, error) {
	wanted := make(map[uuid.UUID]bool, len(todoIDs))
	for _, id := range todoIDs {
		wanted[id] = true
	}
	out := make(map[uuid.UUID][]store.Tag)
	for key := range r.u.d.attachments {
		if !wanted[key.todoID] {
			continue
		}
		if tag, ok := r.u.d.tags[key.tagID]; ok {
			out[key.todoID] = append(out[key.todoID], tag)
		}
	}
	for _, tags := range out {
		sortTags(tags)
	}
	return out, nil
}

func (r tagRepo) UsageCounts(_ context.Context, tagIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	wanted := make(map[uuid.UUID]bool, len(tagIDs))
	for _, id := range tagIDs {
		wanted[id] = true
	}
	out := make(map[uuid.UUID]int)
	for key := range r.u.d.attachments {
		if wanted[key.tagID] {
			out[key.tagID]++
		}
	}
	return out, nil
}
