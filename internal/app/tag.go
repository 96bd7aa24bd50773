package app

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"lattices/api/internal/rbac"
	"lattices/api/internal/store"
)

const (
	entityTag = "tag"

	DefaultTagColor = "#3B82F6"
)

var tagColorPattern = regexp.MustCompile(`^#[0-9A-F]{6}$`)

type TagCreate struct {
	Name        string
	ColorHex    *string
	WorkspaceID *uuid.UUID
}

type TagUpdate struct {
	Name     *string
	ColorHex *string
}

type TagWithCount struct {
	store.Tag
	UsageCount int
}

type TagService struct {
	factory  store.Factory
	now      func() time.Time
	activity *ActivityService
}

// NormalizeColor uppercases a hex color and adds the leading '#'. An empty
// value yields the default color.
func NormalizeColor(value string) (string, error) {
	color := strings.ToUpper(strings.TrimSpace(value))
	if color == "" {
		return DefaultTagColor, nil
	}
	if !strings.HasPrefix(color, "#") {
		color = "#" + color
	}
	if !tagColorPattern.MatchString(color) {
		return "", validationError("color must be a hex value like #RRGGBB")
	}
	return color, nil
}

func (s *TagService) GetAllForUser(ctx context.Context, userID uuid.UUID, workspaceID *uuid.UUID) ([]TagWithCount, error) {
	var out []TagWithCount
	err := store.Run(ctx, s.factory, func(uow store.UnitOfWork) error {
		var (
			tags []store.Tag
			err  error
		)
		if workspaceID != nil {
			if _, _, err := authorize(ctx, uow, workspaceACL(*workspaceID), userID, rbac.RoleViewer); err != nil {
				return err
			}
			tags, err = uow.Tags().ListForWorkspace(ctx, *workspaceID)
		} else {
			tags, err = uow.Tags().ListForUser(ctx, userID)
		}
		if err != nil {
			return err
		}

		out = make([]TagWithCount, 0, len(tags))
		if len(tags) == 0 {
			return nil
		}
		tagIDs := make([]uuid.UUID, 0, len(tags))
		for _, t := range tags {
			tagIDs = append(tagIDs, t.ID)
		}
		counts, err := uow.Tags().UsageCounts(ctx, tagIDs)
		if err != nil {
			return err
		}
		for _, t := range tags {
			out = append(out, TagWithCount{Tag: t, UsageCount: counts[t.ID]})
		}
		return nil
	})
	return out, err
}

func (s *TagService) GetByID(ctx context.Context, tagID, userID uuid.UUID) (*store.Tag, error) {
	var tag *store.Tag
	err := store.Run(ctx, s.factory, func(uow store.UnitOfWork) error {
		var err error
		tag, err = s.loadForRead(ctx, uow, tagID, userID)
		return err
	})
	return tag, err
}

func (s *TagService) Create(ctx context.Context, userID uuid.UUID, in TagCreate) (*store.Tag, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, validationError("name is required")
	}
	color := ""
	if in.ColorHex != nil {
		color = *in.ColorHex
	}
	color, err := NormalizeColor(color)
	if err != nil {
		return nil, err
	}

	var tag *store.Tag
	err = store.Within(ctx, s.factory, func(uow store.UnitOfWork) error {
		if in.WorkspaceID != nil {
			if _, _, err := authorize(ctx, uow, workspaceACL(*in.WorkspaceID), userID, rbac.RoleMember); err != nil {
				return err
			}
		}
		if err := s.ensureNameFree(ctx, uow, userID, in.WorkspaceID, name, uuid.Nil); err != nil {
			return err
		}

		tag = &store.Tag{
			ID:          uuid.New(),
			UserID:      userID,
			WorkspaceID: in.WorkspaceID,
			Name:        name,
			ColorHex:    color,
			CreatedAt:   s.now(),
		}
		if err := uow.Tags().Create(ctx, tag); err != nil {
			if errors.Is(err, store.ErrUniqueViolation) {
				return duplicateTag(name)
			}
			return err
		}
		return s.logTag(ctx, uow, tag, userID, ActionTagCreated, nil, map[string]any{"name": tag.Name})
	})
	if err != nil {
		return nil, err
	}
	return tag, nil
}

func (s *TagService) Update(ctx context.Context, tagID, userID uuid.UUID, in TagUpdate) (*store.Tag, error) {
	var tag *store.Tag
	err := store.Within(ctx, s.factory, func(uow store.UnitOfWork) error {
		var err error
		tag, err = s.loadForWrite(ctx, uow, tagID, userID)
		if err != nil {
			return err
		}
		before := map[string]any{"name": tag.Name, "color_hex": tag.ColorHex}

		if in.Name != nil {
			name := strings.TrimSpace(*in.Name)
			if name == "" {
				return validationError("name is required")
			}
			if !strings.EqualFold(name, tag.Name) {
				if err := s.ensureNameFree(ctx, uow, tag.UserID, tag.WorkspaceID, name, tag.ID); err != nil {
					return err
				}
			}
			tag.Name = name
		}
		if in.ColorHex != nil {
			color, err := NormalizeColor(*in.ColorHex)
			if err != nil {
				return err
			}
			tag.ColorHex = color
		}

		changes := ComputeDiff(before, map[string]any{"name": tag.Name, "color_hex": tag.ColorHex})
		if len(changes) == 0 {
			return nil
		}
		if err := uow.Tags().Update(ctx, tag); err != nil {
			if errors.Is(err, store.ErrUniqueViolation) {
				return duplicateTag(tag.Name)
			}
			return err
		}
		return s.logTag(ctx, uow, tag, userID, ActionTagUpdated, changes, nil)
	})
	if err != nil {
		return nil, err
	}
	return tag, nil
}

func (s *TagService) Delete(ctx context.Context, tagID, userID uuid.UUID) error {
	return store.Within(ctx, s.factory, func(uow store.UnitOfWork) error {
		tag, err := s.loadForWrite(ctx, uow, tagID, userID)
		if err != nil {
			return err
		}
		if err := s.logTag(ctx, uow, tag, userID, ActionTagDeleted, nil, map[string]any{"name": tag.Name}); err != nil {
			return err
		}
		return uow.Tags().Delete(ctx, tag.ID)
	})
}

// AttachToTodo is idempotent. A workspace tag attaches only to todos of the
// same workspace, a personal tag only to the owner's personal todos.
func (s *TagService) AttachToTodo(ctx context.Context, tagID, todoID, userID uuid.UUID) error {
	return store.Within(ctx, s.factory, func(uow store.UnitOfWork) error {
		tag, todo, err := s.loadPair(ctx, uow, tagID, todoID, userID)
		if err != nil {
			return err
		}
		if err := uow.Tags().Attach(ctx, tag.ID, todo.ID); err != nil {
			return err
		}
		return s.logTag(ctx, uow, tag, userID, ActionTagAttached, nil, map[string]any{"todo_id": todo.ID.String()})
	})
}

func (s *TagService) DetachFromTodo(ctx context.Context, tagID, todoID, userID uuid.UUID) error {
	return store.Within(ctx, s.factory, func(uow store.UnitOfWork) error {
		tag, todo, err := s.loadPair(ctx, uow, tagID, todoID, userID)
		if err != nil {
			return err
		}
		removed, err := uow.Tags().Detach(ctx, tag.ID, todo.ID)
		if err != nil || !removed {
			return err
		}
		return s.logTag(ctx, uow, tag, userID, ActionTagDetached, nil, map[string]any{"todo_id": todo.ID.String()})
	})
}

func (s *TagService) GetTagsForTodo(ctx context.Context, todoID, userID uuid.UUID) ([]store.Tag, error) {
	var tags []store.Tag
	err := store.Run(ctx, s.factory, func(uow store.UnitOfWork) error {
		todo, err := uow.Todos().Get(ctx, todoID)
		if err != nil {
			return err
		}
		if todo == nil {
			return todoNotFound(todoID)
		}
		if todo.WorkspaceID != nil {
			member, err := uow.Workspaces().GetMember(ctx, *todo.WorkspaceID, userID)
			if err != nil {
				return err
			}
			if member == nil {
				return todoNotFound(todoID)
			}
		} else if todo.UserID != userID {
			return todoNotFound(todoID)
		}
		tags, err = uow.Tags().ListForTodo(ctx, todoID)
		return err
	})
	return tags, err
}

// GetTagsForTodosBatch assembles tags for list views in one query.
func (s *TagService) GetTagsForTodosBatch(ctx context.Context, todoIDs []uuid.UUID) (map[uuid.UUID][]store.Tag, error) {
	if len(todoIDs) == 0 {
		return map[uuid.UUID][]store.Tag{}, nil
	}
	var out map[uuid.UUID][]store.Tag
	err := store.Run(ctx, s.factory, func(uow store.UnitOfWork) error {
		var err error
		out, err = uow.Tags().ListForTodos(ctx, todoIDs)
		return err
	})
	return out, err
}

func (s *TagService) ensureNameFree(ctx context.Context, uow store.UnitOfWork, userID uuid.UUID, workspaceID *uuid.UUID, name string, self uuid.UUID) error {
	var (
		existing *store.Tag
		err      error
	)
	if workspaceID != nil {
		existing, err = uow.Tags().GetByNameInWorkspace(ctx, *workspaceID, name)
	} else {
		existing, err = uow.Tags().GetByName(ctx, userID, name)
	}
	if err != nil {
		return err
	}
	if existing != nil && existing.ID != self {
		return duplicateTag(name)
	}
	return nil
}

func (s *TagService) loadForRead(ctx context.Context, uow store.UnitOfWork, tagID, userID uuid.UUID) (*store.Tag, error) {
	tag, err := uow.Tags().Get(ctx, tagID)
	if err != nil {
		return nil, err
	}
	if tag == nil {
		return nil, tagNotFound(tagID)
	}
	if tag.WorkspaceID != nil {
		member, err := uow.Workspaces().GetMember(ctx, *tag.WorkspaceID, userID)
		if err != nil {
			return nil, err
		}
		if member == nil {
			return nil, tagNotFound(tagID)
		}
		return tag, nil
	}
	if tag.UserID != userID {
		return nil, tagNotFound(tagID)
	}
	return tag, nil
}

func (s *TagService) loadForWrite(ctx context.Context, uow store.UnitOfWork, tagID, userID uuid.UUID) (*store.Tag, error) {
	tag, err := uow.Tags().Get(ctx, tagID)
	if err != nil {
		return nil, err
	}
	if tag == nil {
		return nil, tagNotFound(tagID)
	}
	if tag.WorkspaceID != nil {
		if _, err := requireRole(ctx, uow, *tag.WorkspaceID, userID, rbac.RoleMember); err != nil {
			return nil, err
		}
		return tag, nil
	}
	if tag.UserID != userID {
		return nil, tagNotFound(tagID)
	}
	return tag, nil
}

func (s *TagService) loadPair(ctx context.Context, uow store.UnitOfWork, tagID, todoID, userID uuid.UUID) (*store.Tag, *store.Todo, error) {
	tag, err := s.loadForWrite(ctx, uow, tagID, userID)
	if err != nil {
		return nil, nil, err
	}
	todo, err := uow.Todos().Get(ctx, todoID)
	if err != nil {
		return nil, nil, err
	}
	if todo == nil {
		return nil, nil, todoNotFound(todoID)
	}
	if tag.WorkspaceID != nil {
		if todo.WorkspaceID == nil || *todo.WorkspaceID != *tag.WorkspaceID {
			return nil, nil, todoNotFound(todoID)
		}
		return tag, todo, nil
	}
	if todo.WorkspaceID != nil || todo.UserID != userID {
		return nil, nil, todoNotFound(todoID)
	}
	return tag, todo, nil
}

// logTag records activity for workspace tags only.
func (s *TagService) logTag(ctx context.Context, uow store.UnitOfWork, tag *store.Tag, actorID uuid.UUID, action string, changes map[string]store.FieldChange, metadata map[string]any) error {
	if tag.WorkspaceID == nil {
		return nil
	}
	_, err := s.activity.Log(ctx, uow, ActivityEntry{
		WorkspaceID: *tag.WorkspaceID,
		ActorID:     actorID,
		Action:      action,
		EntityType:  entityTag,
		EntityID:    tag.ID,
		Changes:     changes,
		Metadata:    metadata,
	})
	return err
}
