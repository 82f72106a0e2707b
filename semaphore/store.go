// Package semaphore provides a SQLite-backed distributed counting
// semaphore used to bound concurrent match execution across executor
// replicas sharing a database file.
package semaphore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store provides access to the shared semaphore database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the semaphore database and runs migrations.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Open with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS holders (
		pool TEXT NOT NULL,
		token TEXT NOT NULL,
		acquired_at DATETIME NOT NULL,
		PRIMARY KEY (pool, token)
	);

	CREATE INDEX IF NOT EXISTS idx_holders_pool ON holders(pool);
	`
	_, err := s.db.Exec(schema)
	return err
}

// tryAcquire attempts to claim one slot in pool. The stale sweep, the
// occupancy check and the insert run in a single transaction so two
// holders can never both observe the last free slot.
func (s *Store) tryAcquire(ctx context.Context, pool, token string, limit int, staleTimeout time.Duration) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	cutoff := now.Add(-staleTimeout)

	// Step 1: Reclaim slots from holders that died without releasing
	if _, err := tx.ExecContext(ctx, `DELETE FROM holders WHERE pool = ? AND acquired_at <= ?`, pool, cutoff); err != nil {
		return false, fmt.Errorf("sweep stale holders: %w", err)
	}

	// Step 2: Count live holders
	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM holders WHERE pool = ?`, pool).Scan(&count); err != nil {
		return false, fmt.Errorf("count holders: %w", err)
	}
	if count >= limit {
		return false, nil
	}

	// Step 3: Claim the slot
	if _, err := tx.ExecContext(ctx, `INSERT INTO holders (pool, token, acquired_at) VALUES (?, ?, ?)`, pool, token, now); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") || strings.Contains(err.Error(), "unique constraint") {
			return false, nil
		}
		return false, fmt.Errorf("insert holder: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}
	return true, nil
}

// removeHolder deletes the holder's token and reports whether the row
// still existed. A missing row means the slot was reclaimed as stale.
func (s *Store) removeHolder(ctx context.Context, pool, token string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM holders WHERE pool = ? AND token = ?`, pool, token)
	if err != nil {
		return false, fmt.Errorf("delete holder: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return n > 0, nil
}

// countLive returns the number of holders in pool younger than the
// stale cutoff. Stale rows are counted out but not deleted here; the
// next acquire sweeps them.
func (s *Store) countLive(ctx context.Context, pool string, staleTimeout time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-staleTimeout)
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM holders WHERE pool = ? AND acquired_at > ?`, pool, cutoff).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count live holders: %w", err)
	}
	return count, nil
}
