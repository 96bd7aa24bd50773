package app

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"lattices/api/internal/auth"
	"lattices/api/internal/rbac"
	"lattices/api/internal/store"
)

const entityTodo = "todo"

type TodoCreate struct {
	Title       string
	Description *string
	ParentID    *uuid.UUID
	WorkspaceID *uuid.UUID
}

// TodoUpdate leaves nil pointers and Unset optionals untouched. ParentID
// set to null moves the todo to the root of its scope.
type TodoUpdate struct {
	Title       *string
	Description Optional[string]
	IsCompleted *bool
	ParentID    Optional[uuid.UUID]
	Position    *int
}

type TodoService struct {
	factory       store.Factory
	now           func() time.Time
	index         TodoIndex
	activity      *ActivityService
	notifications *NotificationService
}

func (s *TodoService) GetAllForUser(ctx context.Context, userID uuid.UUID, workspaceID *uuid.UUID) ([]store.Todo, error) {
	var items []store.Todo
	err := store.Run(ctx, s.factory, func(uow store.UnitOfWork) error {
		var err error
		if workspaceID == nil {
			items, err = uow.Todos().ListForUser(ctx, userID)
			return err
		}
		if _, _, err := authorize(ctx, uow, workspaceACL(*workspaceID), userID, rbac.RoleViewer); err != nil {
			return err
		}
		items, err = uow.Todos().ListForWorkspace(ctx, *workspaceID)
		return err
	})
	return items, err
}

// GetByID hides todos the caller cannot see behind TASK_NOT_FOUND. When
// workspaceID is given the todo must belong to it.
func (s *TodoService) GetByID(ctx context.Context, todoID, userID uuid.UUID, workspaceID *uuid.UUID) (*store.Todo, error) {
	var todo *store.Todo
	err := store.Run(ctx, s.factory, func(uow store.UnitOfWork) error {
		if workspaceID != nil {
			if _, _, err := authorize(ctx, uow, workspaceACL(*workspaceID), userID, rbac.RoleViewer); err != nil {
				return err
			}
		}
		var err error
		todo, err = uow.Todos().Get(ctx, todoID)
		if err != nil {
			return err
		}
		if todo == nil {
			return todoNotFound(todoID)
		}
		if workspaceID != nil {
			if todo.WorkspaceID == nil || *todo.WorkspaceID != *workspaceID {
				return todoNotFound(todoID)
			}
			return nil
		}
		if todo.WorkspaceID != nil {
			member, err := uow.Workspaces().GetMember(ctx, *todo.WorkspaceID, userID)
			if err != nil {
				return err
			}
			if member == nil {
				return todoNotFound(todoID)
			}
			return nil
		}
		if todo.UserID != userID {
			return todoNotFound(todoID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return todo, nil
}

// GetChildCountsBatch returns direct child totals keyed by parent id.
func (s *TodoService) GetChildCountsBatch(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]store.ChildCounts, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]store.ChildCounts{}, nil
	}
	var counts map[uuid.UUID]store.ChildCounts
	err := store.Run(ctx, s.factory, func(uow store.UnitOfWork) error {
		var err error
		counts, err = uow.Todos().ChildCounts(ctx, ids)
		return err
	})
	return counts, err
}

func (s *TodoService) Create(ctx context.Context, actor auth.Principal, in TodoCreate) (*store.Todo, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, validationError("title is required")
	}

	var todo *store.Todo
	err := store.Within(ctx, s.factory, func(uow store.UnitOfWork) error {
		if in.WorkspaceID != nil {
			if _, _, err := authorize(ctx, uow, workspaceACL(*in.WorkspaceID), actor.ID, rbac.RoleMember); err != nil {
				return err
			}
		}
		if in.ParentID != nil {
			if err := s.validateParent(ctx, uow, *in.ParentID, actor.ID, in.WorkspaceID); err != nil {
				return err
			}
		}

		scope := store.TodoScope{UserID: actor.ID, WorkspaceID: in.WorkspaceID}
		position, err := uow.Todos().CountSiblings(ctx, scope, in.ParentID)
		if err != nil {
			return err
		}

		now := s.now()
		todo = &store.Todo{
			ID:          uuid.New(),
			UserID:      actor.ID,
			ParentID:    in.ParentID,
			WorkspaceID: in.WorkspaceID,
			Title:       title,
			Description: in.Description,
			Position:    position,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := uow.Todos().Create(ctx, todo); err != nil {
			return err
		}
		if todo.WorkspaceID == nil {
			return nil
		}

		if _, err := s.activity.Log(ctx, uow, ActivityEntry{
			WorkspaceID: *todo.WorkspaceID,
			ActorID:     actor.ID,
			Action:      ActionTodoCreated,
			EntityType:  entityTodo,
			EntityID:    todo.ID,
			Metadata:    map[string]any{"title": todo.Title},
		}); err != nil {
			return err
		}
		return s.notifyMembers(ctx, uow, store.NotifyTaskCreated, *todo.WorkspaceID, actor, todo)
	})
	if err != nil {
		return nil, err
	}
	s.index.IndexTodos([]store.Todo{*todo})
	return todo, nil
}

func (s *TodoService) Update(ctx context.Context, todoID uuid.UUID, actor auth.Principal, in TodoUpdate) (*store.Todo, error) {
	var todo *store.Todo
	err := store.Within(ctx, s.factory, func(uow store.UnitOfWork) error {
		var err error
		todo, err = s.loadForWrite(ctx, uow, todoID, actor.ID)
		if err != nil {
			return err
		}
		before := todoState(todo)
		now := s.now()

		if in.Title != nil {
			title := strings.TrimSpace(*in.Title)
			if title == "" {
				return validationError("title is required")
			}
			todo.Title = title
		}
		if in.Description.IsSet() {
			todo.Description = in.Description.Ptr()
		}
		if in.ParentID.IsSet() {
			newParent := in.ParentID.Ptr()
			if !sameID(newParent, todo.ParentID) {
				if newParent != nil {
					if err := s.validateParent(ctx, uow, *newParent, todo.UserID, todo.WorkspaceID); err != nil {
						return err
					}
					cycle, err := wouldCreateCycle(ctx, uow.Todos(), todo.ID, *newParent)
					if err != nil {
						return err
					}
					if cycle {
						return circularReference()
					}
				}
				todo.ParentID = newParent
				if in.Position == nil {
					scope := store.TodoScope{UserID: todo.UserID, WorkspaceID: todo.WorkspaceID}
					position, err := uow.Todos().CountSiblings(ctx, scope, newParent)
					if err != nil {
						return err
					}
					todo.Position = position
				}
			}
		}
		if in.Position != nil {
			if *in.Position < 0 {
				return validationError("position must not be negative")
			}
			todo.Position = *in.Position
		}
		if in.IsCompleted != nil {
			if *in.IsCompleted {
				todo.Complete(now)
			} else {
				todo.Uncomplete(now)
			}
		}

		changes := ComputeDiff(before, todoState(todo))
		if len(changes) == 0 {
			return nil
		}
		todo.UpdatedAt = now
		if err := uow.Todos().Update(ctx, todo); err != nil {
			return err
		}
		if todo.WorkspaceID == nil {
			return nil
		}

		action := ActionTodoUpdated
		if _, ok := changes["is_completed"]; ok {
			action = ActionTodoUncompleted
			if todo.IsCompleted {
				action = ActionTodoCompleted
			}
		} else if _, ok := changes["parent_id"]; ok {
			action = ActionTodoMoved
		}
		if _, err := s.activity.Log(ctx, uow, ActivityEntry{
			WorkspaceID: *todo.WorkspaceID,
			ActorID:     actor.ID,
			Action:      action,
			EntityType:  entityTodo,
			EntityID:    todo.ID,
			Changes:     changes,
		}); err != nil {
			return err
		}

		notifyType := store.NotifyTaskUpdated
		if in.IsCompleted != nil && todo.IsCompleted {
			notifyType = store.NotifyTaskCompleted
		}
		return s.notifyMembers(ctx, uow, notifyType, *todo.WorkspaceID, actor, todo)
	})
	if err != nil {
		return nil, err
	}
	s.index.IndexTodos([]store.Todo{*todo})
	return todo, nil
}

// Delete audits and notifies before the row and its descendants go away.
func (s *TodoService) Delete(ctx context.Context, todoID uuid.UUID, actor auth.Principal) error {
	var removed []uuid.UUID
	err := store.Within(ctx, s.factory, func(uow store.UnitOfWork) error {
		todo, err := s.loadForWrite(ctx, uow, todoID, actor.ID)
		if err != nil {
			return err
		}
		descendants, err := uow.Todos().ListDescendants(ctx, todo.ID)
		if err != nil {
			return err
		}
		removed = append([]uuid.UUID{todo.ID}, todoIDs(descendants)...)

		if todo.WorkspaceID != nil {
			if _, err := s.activity.Log(ctx, uow, ActivityEntry{
				WorkspaceID: *todo.WorkspaceID,
				ActorID:     actor.ID,
				Action:      ActionTodoDeleted,
				EntityType:  entityTodo,
				EntityID:    todo.ID,
				Metadata:    map[string]any{"title": todo.Title, "descendant_count": len(descendants)},
			}); err != nil {
				return err
			}
			if err := s.notifyMembers(ctx, uow, store.NotifyTaskDeleted, *todo.WorkspaceID, actor, todo); err != nil {
				return err
			}
		}
		return uow.Todos().Delete(ctx, todo.ID)
	})
	if err != nil {
		return err
	}
	s.index.RemoveTodos(removed)
	return nil
}

// MoveToWorkspace moves a todo and its whole subtree to target (nil means the
// creator's personal list). The root is detached from its parent and every
// tag attachment in the subtree is dropped, since tags are scoped.
func (s *TodoService) MoveToWorkspace(ctx context.Context, todoID uuid.UUID, actor auth.Principal, target *uuid.UUID) (*store.Todo, error) {
	var (
		todo  *store.Todo
		moved []store.Todo
	)
	err := store.Within(ctx, s.factory, func(uow store.UnitOfWork) error {
		var err error
		todo, err = s.loadForWrite(ctx, uow, todoID, actor.ID)
		if err != nil {
			return err
		}
		source := todo.WorkspaceID
		if sameID(source, target) {
			return nil
		}
		if target != nil {
			if _, _, err := authorize(ctx, uow, workspaceACL(*target), actor.ID, rbac.RoleMember); err != nil {
				return err
			}
		} else if todo.UserID != actor.ID {
			return workspaceMoveInvalid("Only the creator can move a task to their personal list")
		}

		descendants, err := uow.Todos().ListDescendants(ctx, todo.ID)
		if err != nil {
			return err
		}
		ids := append([]uuid.UUID{todo.ID}, todoIDs(descendants)...)

		now := s.now()
		position, err := uow.Todos().CountSiblings(ctx, store.TodoScope{UserID: todo.UserID, WorkspaceID: target}, nil)
		if err != nil {
			return err
		}
		todo.ParentID = nil
		todo.Position = position
		todo.UpdatedAt = now
		if err := uow.Todos().Update(ctx, todo); err != nil {
			return err
		}
		if _, err := uow.Tags().DetachAllFromTodos(ctx, ids); err != nil {
			return err
		}
		if err := uow.Todos().SetWorkspace(ctx, ids, target, now); err != nil {
			return err
		}
		todo.WorkspaceID = target

		moved = make([]store.Todo, 0, len(ids))
		moved = append(moved, *todo)
		for _, d := range descendants {
			d.WorkspaceID = target
			d.UpdatedAt = now
			moved = append(moved, d)
		}

		sides := []struct {
			workspaceID *uuid.UUID
			direction   string
		}{
			{source, "moved_out"},
			{target, "moved_in"},
		}
		for _, side := range sides {
			if side.workspaceID == nil {
				continue
			}
			if _, err := s.activity.Log(ctx, uow, ActivityEntry{
				WorkspaceID: *side.workspaceID,
				ActorID:     actor.ID,
				Action:      ActionTodoWorkspaceChanged,
				EntityType:  entityTodo,
				EntityID:    todo.ID,
				Metadata: map[string]any{
					"title":       todo.Title,
					"direction":   side.direction,
					"moved_count": len(ids),
				},
			}); err != nil {
				return err
			}
			if err := s.notifyMembers(ctx, uow, store.NotifyTaskMovedWorkspace, *side.workspaceID, actor, todo); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(moved) > 0 {
		s.index.IndexTodos(moved)
	}
	return todo, nil
}

// Search uses the external index when it can answer and falls back to the
// store otherwise. Index hits are re-checked against the store.
func (s *TodoService) Search(ctx context.Context, userID uuid.UUID, workspaceID *uuid.UUID, query string, limit int) ([]store.Todo, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, validationError("query is required")
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	scope := store.TodoScope{UserID: userID, WorkspaceID: workspaceID}

	var items []store.Todo
	err := store.Run(ctx, s.factory, func(uow store.UnitOfWork) error {
		if workspaceID != nil {
			if _, _, err := authorize(ctx, uow, workspaceACL(*workspaceID), userID, rbac.RoleViewer); err != nil {
				return err
			}
		}
		ids, ok := s.index.SearchTodos(scope, query, limit)
		if !ok {
			var err error
			items, err = uow.Todos().Search(ctx, scope, query, limit)
			return err
		}
		items = make([]store.Todo, 0, len(ids))
		for _, id := range ids {
			todo, err := uow.Todos().Get(ctx, id)
			if err != nil {
				return err
			}
			if todo != nil && todoInScope(todo, scope) {
				items = append(items, *todo)
			}
		}
		return nil
	})
	return items, err
}

// loadForWrite requires Member for workspace todos; personal todos of other
// users are reported as missing.
func (s *TodoService) loadForWrite(ctx context.Context, uow store.UnitOfWork, todoID, userID uuid.UUID) (*store.Todo, error) {
	todo, err := uow.Todos().Get(ctx, todoID)
	if err != nil {
		return nil, err
	}
	if todo == nil {
		return nil, todoNotFound(todoID)
	}
	if todo.WorkspaceID != nil {
		if _, err := requireRole(ctx, uow, *todo.WorkspaceID, userID, rbac.RoleMember); err != nil {
			return nil, err
		}
		return todo, nil
	}
	if todo.UserID != userID {
		return nil, todoNotFound(todoID)
	}
	return todo, nil
}

// validateParent rejects parents outside the child's scope as missing.
func (s *TodoService) validateParent(ctx context.Context, uow store.UnitOfWork, parentID, userID uuid.UUID, workspaceID *uuid.UUID) error {
	parent, err := uow.Todos().Get(ctx, parentID)
	if err != nil {
		return err
	}
	if parent == nil || !todoInScope(parent, store.TodoScope{UserID: userID, WorkspaceID: workspaceID}) {
		return todoNotFound(parentID)
	}
	return nil
}

// wouldCreateCycle walks up from candidate and reports whether todoID is on
// the path, including candidate == todoID.
func wouldCreateCycle(ctx context.Context, repo store.TodoRepository, todoID, candidate uuid.UUID) (bool, error) {
	visited := map[uuid.UUID]bool{}
	current := &candidate
	for current != nil {
		if *current == todoID || visited[*current] {
			return true, nil
		}
		visited[*current] = true
		node, err := repo.Get(ctx, *current)
		if err != nil {
			return false, err
		}
		if node == nil {
			return false, nil
		}
		current = node.ParentID
	}
	return false, nil
}

func (s *TodoService) notifyMembers(ctx context.Context, uow store.UnitOfWork, typeName string, workspaceID uuid.UUID, actor auth.Principal, todo *store.Todo) error {
	members, err := uow.Workspaces().ListMembers(ctx, workspaceID)
	if err != nil {
		return err
	}
	_, err = s.notifications.Notify(ctx, uow, NotifyParams{
		TypeName:     typeName,
		WorkspaceID:  workspaceID,
		ActorID:      actor.ID,
		EntityType:   entityTodo,
		EntityID:     todo.ID,
		RecipientIDs: memberIDs(members),
		Metadata: map[string]any{
			"actor_name":   actor.DisplayName(),
			"entity_title": todo.Title,
		},
	})
	return err
}

func todoState(t *store.Todo) map[string]any {
	var parent any
	if t.ParentID != nil {
		parent = t.ParentID.String()
	}
	return map[string]any{
		"title":        t.Title,
		"description":  derefString(t.Description),
		"is_completed": t.IsCompleted,
		"parent_id":    parent,
		"position":     t.Position,
	}
}

func todoInScope(t *store.Todo, scope store.TodoScope) bool {
	if scope.WorkspaceID != nil {
		return t.WorkspaceID != nil && *t.WorkspaceID == *scope.WorkspaceID
	}
	return t.WorkspaceID == nil && t.UserID == scope.UserID
}

func todoIDs(todos []store.Todo) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(todos))
	for _, t := range todos {
		out = append(out, t.ID)
	}
	return out
}

func sameID(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
