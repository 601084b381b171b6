package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/iamwavecut/ngtrust/internal/db"
	"github.com/iamwavecut/ngtrust/resources"

	"github.com/jmoiron/sqlx"
	migrate "github.com/rubenv/sql-migrate"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const busyTimeoutMillis = 5000

type sqliteClient struct {
	queries
	db *sqlx.DB
}

// queries implements db.Querier on top of either the pool or a transaction.
type queries struct {
	ext sqlx.ExtContext
}

var _ db.Client = (*sqliteClient)(nil)

// NewSQLiteClient opens (creating if needed) dir/name and applies pending migrations.
// SQLite allows a single writer, so the pool keeps one connection and queues callers on it.
// Transactions begin IMMEDIATE and take the write lock up front, which keeps InTx
// serialized even if the pool is ever widened.
func NewSQLiteClient(ctx context.Context, dir string, name string) (*sqliteClient, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_txlock=immediate", filepath.Join(dir, name), busyTimeoutMillis)
	dbx, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cant open db: %w", err)
	}
	dbx.SetMaxOpenConns(1)

	if err := dbx.PingContext(ctx); err != nil {
		_ = dbx.Close()
		return nil, fmt.Errorf("cant ping db: %w", err)
	}

	migrationsSource := &migrate.EmbedFileSystemMigrationSource{
		FileSystem: resources.FS,
		Root:       "migrations",
	}
	n, err := migrate.ExecContext(ctx, dbx.DB, "sqlite3", migrationsSource, migrate.Up)
	if err != nil {
		_ = dbx.Close()
		return nil, fmt.Errorf("migrate up failed: %w", err)
	}
	if n > 0 {
		log.Infof("applied %d migrations!", n)
	}

	return &sqliteClient{queries: queries{ext: dbx}, db: dbx}, nil
}

func (c *sqliteClient) Close() error {
	return c.db.Close()
}

func (c *sqliteClient) InTx(ctx context.Context, fn func(q db.Querier) error) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	rollback := true
	defer func() {
		if rollback {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.WithField("error", err.Error()).Error("failed to rollback transaction")
			}
		}
	}()

	if err := fn(&queries{ext: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	rollback = false
	return nil
}

// InsertMessage touches the conversation and participant rows as well, so outside a
// transaction it gets one of its own.
func (c *sqliteClient) InsertMessage(ctx context.Context, m *db.Message) error {
	return c.InTx(ctx, func(q db.Querier) error {
		return q.InsertMessage(ctx, m)
	})
}
