package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

// querier is satisfied by *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore opens one database transaction per unit of work.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Begin(ctx context.Context) (UnitOfWork, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &pgUnitOfWork{tx: tx}, nil
}

type pgUnitOfWork struct {
	tx   *sql.Tx
	done bool
}

func (u *pgUnitOfWork) Workspaces() WorkspaceRepository       { return pgWorkspaces{u.tx} }
func (u *pgUnitOfWork) Todos() TodoRepository                 { return pgTodos{u.tx} }
func (u *pgUnitOfWork) Tags() TagRepository                   { return pgTags{u.tx} }
func (u *pgUnitOfWork) Groups() GroupRepository               { return pgGroups{u.tx} }
func (u *pgUnitOfWork) Invitations() InvitationRepository     { return pgInvitations{u.tx} }
func (u *pgUnitOfWork) Activities() ActivityRepository        { return pgActivities{u.tx} }
func (u *pgUnitOfWork) Notifications() NotificationRepository { return pgNotifications{u.tx} }

func (u *pgUnitOfWork) Commit(context.Context) error {
	if err := u.tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	u.done = true
	return nil
}

func (u *pgUnitOfWork) Rollback(context.Context) error {
	if u.done {
		return nil
	}
	u.done = true
	if err := u.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback tx: %w", err)
	}
	return nil
}

// mapError translates driver errors into store sentinels.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %s", ErrUniqueViolation, pgErr.ConstraintName)
	}
	return err
}

// noRows turns sql.ErrNoRows into the (nil, nil) convention.
func noRows[T any](v *T, err error) (*T, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

// jsonArg encodes v for a JSONB parameter. Nil maps are stored as NULL.
func jsonArg[T any](v map[string]T) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return string(raw), nil
}

func decodeJSON[T any](raw []byte) (map[string]T, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out map[string]T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return out, nil
}

func rowsAffected(res sql.Result) (int, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

type scanner interface {
	Scan(dest ...any) error
}

// collect scans every row with scan and closes rows.
func collect[T any](rows *sql.Rows, scan func(scanner) (T, error)) ([]T, error) {
	defer rows.Close()
	out := make([]T, 0)
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
