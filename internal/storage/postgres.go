package storage

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mealwave/ordernotify/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore persists notification state in PostgreSQL. Useful when the
// agent runs on a host without durable local disk, or when several consumers
// share one notification state.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates the store and initializes the schema through
// migrations.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{pool: pool}

	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// LoadState reads both records. Rows whose payload no longer decodes are
// skipped, matching the corruption tolerance of the file store.
func (s *PostgresStore) LoadState(ctx context.Context) (*State, error) {
	st := &State{}

	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM notification_history ORDER BY position`,
	)
	if err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		var o model.Order
		if json.Unmarshal(payload, &o) != nil {
			continue
		}
		st.History = append(st.History, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history rows: %w", err)
	}

	viewedRows, err := s.pool.Query(ctx, `SELECT order_id FROM viewed_orders`)
	if err != nil {
		return nil, fmt.Errorf("select viewed: %w", err)
	}
	defer viewedRows.Close()

	for viewedRows.Next() {
		var id string
		if err := viewedRows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan viewed row: %w", err)
		}
		st.Viewed = append(st.Viewed, id)
	}
	if err := viewedRows.Err(); err != nil {
		return nil, fmt.Errorf("viewed rows: %w", err)
	}

	return st, nil
}

// SaveHistory replaces the history record atomically.
func (s *PostgresStore) SaveHistory(ctx context.Context, history []model.Order) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM notification_history`); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}

	for i, o := range history {
		payload, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("encode order %s: %w", o.ID, err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO notification_history (order_id, position, payload, updated_at)
			 VALUES ($1, $2, $3, now())`,
			o.ID, i, payload,
		)
		if err != nil {
			return fmt.Errorf("insert history row: %w", classifyPgError(err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// SaveViewed replaces the viewed-ids record atomically.
func (s *PostgresStore) SaveViewed(ctx context.Context, viewed []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM viewed_orders`); err != nil {
		return fmt.Errorf("clear viewed: %w", err)
	}

	for _, id := range viewed {
		_, err := tx.Exec(ctx,
			`INSERT INTO viewed_orders (order_id, viewed_at) VALUES ($1, now())
			 ON CONFLICT (order_id) DO NOTHING`,
			id,
		)
		if err != nil {
			return fmt.Errorf("insert viewed row: %w", classifyPgError(err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// classifyPgError maps duplicate-key failures from a concurrent writer to
// ErrConflict so callers can tell them apart from connectivity errors.
func classifyPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.Detail)
	}
	return err
}
