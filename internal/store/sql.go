package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/spherical/paper-whisperer/internal/domain"
	"github.com/spherical/paper-whisperer/internal/observability"
)

// Driver names accepted by SQLOptions.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const schema = `
	CREATE TABLE IF NOT EXISTS tasks (
		id         TEXT PRIMARY KEY,
		status     TEXT NOT NULL,
		data       TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)
`

// SQLOptions configures a SQLStore.
type SQLOptions struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	JournalMode     string // sqlite only
}

// SQLStore keeps one row per task with the full task as a JSON document.
// Queries use $N placeholders, which both sqlite3 and postgres accept.
type SQLStore struct {
	db     *sql.DB
	driver string
	logger *observability.Logger
}

// NewSQLStore opens the database, applies pool settings and creates the schema.
func NewSQLStore(ctx context.Context, opts SQLOptions, logger *observability.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = observability.Nop()
	}

	var driverName string
	switch opts.Driver {
	case DriverSQLite:
		driverName = "sqlite3"
	case DriverPostgres:
		driverName = "postgres"
	default:
		return nil, domain.ConfigError(fmt.Sprintf("unsupported sql driver %q", opts.Driver), nil)
	}
	if opts.DSN == "" {
		return nil, domain.ConfigError(opts.Driver+" store requires a DSN", nil)
	}

	db, err := sql.Open(driverName, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", opts.Driver, err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", opts.Driver, err)
	}

	if opts.Driver == DriverSQLite && opts.JournalMode != "" && !strings.Contains(opts.DSN, ":memory:") {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode="+opts.JournalMode); err != nil {
			db.Close()
			return nil, fmt.Errorf("set journal mode: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tasks table: %w", err)
	}

	logger.Info().
		Str("driver", opts.Driver).
		Msg("task store ready")

	return &SQLStore{
		db:     db,
		driver: opts.Driver,
		logger: logger.WithComponent("store"),
	}, nil
}

func (s *SQLStore) Create(ctx context.Context, t *domain.Task) error {
	if err := prepareNew(t); err != nil {
		return err
	}
	data, err := encodeTask(t)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tasks (id, status, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query, t.ID, string(t.Status), string(data), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert task %s: %w", t.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert task %s: %w", t.ID, err)
	}
	if n == 0 {
		return domain.ConflictError(fmt.Sprintf("task %s already exists", t.ID))
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*domain.Task, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM tasks WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return decodeTask([]byte(data))
}

func (s *SQLStore) Update(ctx context.Context, id string, fn UpdateFunc) (*domain.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update %s: %w", id, err)
	}
	defer tx.Rollback()

	query := `SELECT data FROM tasks WHERE id = $1`
	if s.driver == DriverPostgres {
		query += ` FOR UPDATE`
	}

	var data string
	err = tx.QueryRowContext(ctx, query, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", id, err)
	}

	t, err := decodeTask([]byte(data))
	if err != nil {
		return nil, err
	}
	if err := applyUpdate(t, fn); err != nil {
		return nil, err
	}
	encoded, err := encodeTask(t)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET status = $1, data = $2, updated_at = $3 WHERE id = $4`,
		string(t.Status), string(encoded), t.UpdatedAt, t.ID,
	); err != nil {
		return nil, fmt.Errorf("update task %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit task %s: %w", id, err)
	}
	return t, nil
}

func (s *SQLStore) List(ctx context.Context) ([]*domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM tasks ORDER BY created_at DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t, err := decodeTask([]byte(data))
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	sortNewestFirst(tasks)
	return tasks, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
