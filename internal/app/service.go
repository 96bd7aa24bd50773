package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lattices/api/internal/email"
	"lattices/api/internal/provision"
	"lattices/api/internal/store"
)

// ProvisionCache remembers users known to own at least one workspace.
type ProvisionCache interface {
	Contains(ctx context.Context, userID uuid.UUID) (bool, error)
	Add(ctx context.Context, userID uuid.UUID) error
	Clear(ctx context.Context) error
}

// TodoIndex mirrors todos into an external search engine. Index and Remove
// run after commit and must not block. Search reports ok=false when the
// engine cannot answer, so callers fall back to the store.
type TodoIndex interface {
	IndexTodos(todos []store.Todo)
	RemoveTodos(ids []uuid.UUID)
	SearchTodos(scope store.TodoScope, query string, limit int) (ids []uuid.UUID, ok bool)
}

// InvitationMailer delivers the accept link of a new invitation. It is
// called after the invitation commits; a failure is logged and the
// invitation stands.
type InvitationMailer interface {
	SendInvitation(ctx context.Context, msg email.Invitation) error
}

type Options struct {
	Factory            store.Factory
	Logger             zerolog.Logger
	Now                func() time.Time
	ProvisionCache     ProvisionCache
	TodoIndex          TodoIndex
	Mailer             InvitationMailer
	DedupWindow        time.Duration
	NotificationExpiry time.Duration
	InvitationTTL      time.Duration
}

// Services is the full domain surface handed to the transport layer.
type Services struct {
	Activity      *ActivityService
	Notifications *NotificationService
	Workspaces    *WorkspaceService
	Todos         *TodoService
	Tags          *TagService
	Groups        *GroupService
	Invitations   *InvitationService
}

func New(opts Options) *Services {
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = defaultDedupWindow
	}
	if opts.NotificationExpiry <= 0 {
		opts.NotificationExpiry = defaultNotificationExpiry
	}
	if opts.InvitationTTL <= 0 {
		opts.InvitationTTL = defaultInvitationTTL
	}
	if opts.ProvisionCache == nil {
		opts.ProvisionCache = provision.NewMemoryCache()
	}
	if opts.TodoIndex == nil {
		opts.TodoIndex = noopIndex{}
	}

	activity := &ActivityService{factory: opts.Factory, now: now}
	notifications := &NotificationService{
		factory:     opts.Factory,
		log:         opts.Logger.With().Str("component", "notifications").Logger(),
		now:         now,
		dedupWindow: opts.DedupWindow,
		expiry:      opts.NotificationExpiry,
	}

	return &Services{
		Activity:      activity,
		Notifications: notifications,
		Workspaces: &WorkspaceService{
			factory:       opts.Factory,
			log:           opts.Logger.With().Str("component", "workspaces").Logger(),
			now:           now,
			provisioned:   opts.ProvisionCache,
			activity:      activity,
			notifications: notifications,
		},
		Todos: &TodoService{
			factory:       opts.Factory,
			now:           now,
			index:         opts.TodoIndex,
			activity:      activity,
			notifications: notifications,
		},
		Tags: &TagService{
			factory:  opts.Factory,
			now:      now,
			activity: activity,
		},
		Groups: &GroupService{
			factory:       opts.Factory,
			now:           now,
			activity:      activity,
			notifications: notifications,
		},
		Invitations: &InvitationService{
			factory:       opts.Factory,
			now:           now,
			log:           opts.Logger.With().Str("component", "invitations").Logger(),
			ttl:           opts.InvitationTTL,
			mailer:        opts.Mailer,
			activity:      activity,
			notifications: notifications,
		},
	}
}

type noopIndex struct{}

func (noopIndex) IndexTodos([]store.Todo)  {}
func (noopIndex) RemoveTodos([]uuid.UUID) {}
func (noopIndex) SearchTodos(store.TodoScope, string, int) ([]uuid.UUID, bool) {
	return nil, false
}

func memberIDs(members []store.WorkspaceMember) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		out = append(out, m.UserID)
	}
	return out
}
