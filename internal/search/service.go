package search

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lattices/api/internal/store"
)

// engine is the part of Meili the Service drives.
type engine interface {
	Healthy() bool
	Search(q Query) ([]string, error)
	IndexTodos(records []TodoRecord) error
	DeleteTodos(ids []string) error
}

// Service is the todo index handed to the domain layer. Writes are
// fire-and-forget; searches report ok=false so callers fall back to the
// store.
type Service struct {
	engine engine
	log    zerolog.Logger
}

// NewService wraps an engine. A nil engine yields a Service that never
// answers, which keeps wiring uniform when Meilisearch is not configured.
func NewService(m *Meili, log zerolog.Logger) *Service {
	s := &Service{log: log.With().Str("component", "search").Logger()}
	if m != nil {
		s.engine = m
	}
	return s
}

func (s *Service) available() bool {
	return s.engine != nil && s.engine.Healthy()
}

func (s *Service) IndexTodos(todos []store.Todo) {
	if !s.available() || len(todos) == 0 {
		return
	}
	records := make([]TodoRecord, 0, len(todos))
	for _, todo := range todos {
		records = append(records, RecordFromTodo(todo))
	}
	go func() {
		if err := s.engine.IndexTodos(records); err != nil {
			s.log.Warn().Err(err).Int("count", len(records)).Msg("index todos")
		}
	}()
}

func (s *Service) RemoveTodos(ids []uuid.UUID) {
	if !s.available() || len(ids) == 0 {
		return
	}
	raw := make([]string, 0, len(ids))
	for _, id := range ids {
		raw = append(raw, id.String())
	}
	go func() {
		if err := s.engine.DeleteTodos(raw); err != nil {
			s.log.Warn().Err(err).Int("count", len(raw)).Msg("delete todos from index")
		}
	}()
}

func (s *Service) SearchTodos(scope store.TodoScope, query string, limit int) ([]uuid.UUID, bool) {
	if !s.available() {
		return nil, false
	}
	raw, err := s.engine.Search(Query{Text: query, Scope: scope, Limit: limit})
	if err != nil {
		s.log.Warn().Err(err).Msg("meilisearch error, falling back to store")
		return nil, false
	}
	return parseIDs(raw), true
}
