// Package memstore is an in-memory store.Factory. Each unit of work operates
// on a private copy of the data that replaces the shared copy on commit.
// Units of work are serialized: Begin waits until the previous one has
// committed or rolled back.
package memstore

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"lattices/api/internal/store"
)

var errClosed = errors.New("memstore: unit of work already finished")

type memberKey struct {
	workspaceID uuid.UUID
	userID      uuid.UUID
}

type attachKey struct {
	tagID  uuid.UUID
	todoID uuid.UUID
}

type groupMemberKey struct {
	groupID uuid.UUID
	userID  uuid.UUID
}

type data struct {
	workspaces    map[uuid.UUID]store.Workspace
	members       map[memberKey]store.WorkspaceMember
	todos         map[uuid.UUID]store.Todo
	tags          map[uuid.UUID]store.Tag
	attachments   map[attachKey]struct{}
	groups        map[uuid.UUID]store.Group
	groupMembers  map[groupMemberKey]store.GroupMember
	invitations   map[uuid.UUID]store.Invitation
	activities    []store.ActivityLog
	types         map[string]store.NotificationType
	notifications map[uuid.UUID]store.Notification
	recipients    map[int64]store.NotificationRecipient
	preferences   map[uuid.UUID]store.NotificationPreference
	nextRecipient int64
}

func newData() *data {
	return &data{
		workspaces:    map[uuid.UUID]store.Workspace{},
		members:       map[memberKey]store.WorkspaceMember{},
		todos:         map[uuid.UUID]store.Todo{},
		tags:          map[uuid.UUID]store.Tag{},
		attachments:   map[attachKey]struct{}{},
		groups:        map[uuid.UUID]store.Group{},
		groupMembers:  map[groupMemberKey]store.GroupMember{},
		invitations:   map[uuid.UUID]store.Invitation{},
		types:         map[string]store.NotificationType{},
		notifications: map[uuid.UUID]store.Notification{},
		recipients:    map[int64]store.NotificationRecipient{},
		preferences:   map[uuid.UUID]store.NotificationPreference{},
	}
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (d *data) clone() *data {
	return &data{
		workspaces:    cloneMap(d.workspaces),
		members:       cloneMap(d.members),
		todos:         cloneMap(d.todos),
		tags:          cloneMap(d.tags),
		attachments:   cloneMap(d.attachments),
		groups:        cloneMap(d.groups),
		groupMembers:  cloneMap(d.groupMembers),
		invitations:   cloneMap(d.invitations),
		activities:    append([]store.ActivityLog(nil), d.activities...),
		types:         cloneMap(d.types),
		notifications: cloneMap(d.notifications),
		recipients:    cloneMap(d.recipients),
		preferences:   cloneMap(d.preferences),
		nextRecipient: d.nextRecipient,
	}
}

// Store is safe for concurrent use. At most one unit of work is open at a
// time, so a commit never overwrites writes it did not see.
type Store struct {
	mu   sync.Mutex
	data *data
	// turn is held from Begin until Commit or Rollback.
	turn chan struct{}
}

// New returns an empty store seeded with the default notification types.
func New() *Store {
	d := newData()
	for _, t := range store.DefaultNotificationTypes() {
		t.ID = uuid.New()
		d.types[t.Name] = t
	}
	return &Store{data: d, turn: make(chan struct{}, 1)}
}

// Begin blocks while another unit of work is open, or until ctx is done.
func (s *Store) Begin(ctx context.Context) (store.UnitOfWork, error) {
	select {
	case s.turn <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return &unitOfWork{parent: s, d: s.data.clone()}, nil
}

// Ping satisfies readiness probes.
func (s *Store) Ping(context.Context) error { return nil }

// Activities returns a copy of every committed activity entry.
func (s *Store) Activities() []store.ActivityLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.ActivityLog(nil), s.data.activities...)
}

// Notifications returns the committed notification events.
func (s *Store) Notifications() []store.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Notification, 0, len(s.data.notifications))
	for _, n := range s.data.notifications {
		out = append(out, n)
	}
	return out
}

// Recipients returns the committed delivery rows of one notification.
func (s *Store) Recipients(notificationID uuid.UUID) []store.NotificationRecipient {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.NotificationRecipient, 0)
	for _, r := range s.data.recipients {
		if r.NotificationID == notificationID {
			out = append(out, r)
		}
	}
	return out
}

// SetNotificationTypeMandatory flips a seeded type, for tests.
func (s *Store) SetNotificationTypeMandatory(name string, mandatory bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.data.types[name]
	if !ok {
		return
	}
	t.IsMandatory = mandatory
	s.data.types[name] = t
}

// RemoveNotificationType deletes a type from the catalogue, for tests.
func (s *Store) RemoveNotificationType(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data.types, name)
}

type unitOfWork struct {
	parent *Store
	d      *data
	done   bool
}

func (u *unitOfWork) Workspaces() store.WorkspaceRepository       { return workspaceRepo{u} }
func (u *unitOfWork) Todos() store.TodoRepository                 { return todoRepo{u} }
func (u *unitOfWork) Tags() store.TagRepository                   { return tagRepo{u} }
func (u *unitOfWork) Groups() store.GroupRepository               { return groupRepo{u} }
func (u *unitOfWork) Invitations() store.InvitationRepository     { return invitationRepo{u} }
func (u *unitOfWork) Activities() store.ActivityRepository        { return activityRepo{u} }
func (u *unitOfWork) Notifications() store.NotificationRepository { return notificationRepo{u} }

func (u *unitOfWork) Commit(context.Context) error {
	if u.done {
		return errClosed
	}
	u.parent.mu.Lock()
	u.parent.data = u.d
	u.parent.mu.Unlock()
	u.finish()
	return nil
}

func (u *unitOfWork) Rollback(context.Context) error {
	if !u.done {
		u.finish()
	}
	return nil
}

func (u *unitOfWork) finish() {
	u.done = true
	<-u.parent.turn
}

func (u *unitOfWork) check() error {
	if u.done {
		return errClosed
	}
	return nil
}

func sameUUID(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
