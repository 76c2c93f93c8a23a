package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database at path and creates the downloads table if
// it doesn't exist. Use ":memory:" for a throwaway database.
func InitDB(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite serialises writers; a single connection also keeps :memory: shared.
	db.SetMaxOpenConns(1)

	_, err = db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS downloads (
		id INTEGER PRIMARY KEY,
		task_id TEXT NOT NULL,
		url TEXT NOT NULL,
		file_path TEXT NOT NULL,
		status TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		bytes INTEGER NOT NULL DEFAULT 0,
		finished_at TEXT NOT NULL,
		removed INTEGER NOT NULL DEFAULT 0
	)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create downloads table: %w", err)
	}

	_, err = db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_downloads_status_finished ON downloads (status, finished_at)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create downloads index: %w", err)
	}

	return db, nil
}
