package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"genflow/internal/core"
	"genflow/internal/model"
	"genflow/internal/store/migrations"
)

// Fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps the SQLite database.
type Store struct {
	DB     *sql.DB
	logger *slog.Logger
}

var _ core.Store = (*Store)(nil)

// Open opens the SQLite database located under stateDir and runs migrations.
func Open(ctx context.Context, stateDir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("svc", "store.SQLite")

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure state dir: %w", err)
	}
	dbPath := filepath.Join(stateDir, "genflow.db")
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)",
		dbPath, (3*time.Second)/time.Millisecond)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows only one writer. A single pooled connection serializes the
	// pollers, the request handlers and the generation transactions.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	migrator, err := migrations.NewMigrator(db, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	if err := migrator.Up(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("sqlite store initialized", "path", dbPath)
	return &Store{DB: db, logger: logger}, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.DB.Close() }

// InTx runs fn inside a database transaction.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx core.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, &sqlTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqlTx struct {
	q querier
}

func (t *sqlTx) MarkProcessed(ctx context.Context, id string, params model.Params, location string) (bool, error) {
	return markProcessed(ctx, t.q, id, params, location)
}

func (t *sqlTx) CreateGeneration(ctx context.Context, g model.Generation) error {
	return insertGeneration(ctx, t.q, g)
}

func (t *sqlTx) NextShotPosition(ctx context.Context, shotID string) (int, error) {
	return nextShotPosition(ctx, t.q, shotID)
}

func (t *sqlTx) CreateShotGeneration(ctx context.Context, sg model.ShotGeneration) error {
	return insertShotGeneration(ctx, t.q, sg)
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullableString(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored time %q: %w", value, err)
	}
	return t, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
