package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS deliveries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    fired_at INTEGER NOT NULL,
    task_id TEXT NOT NULL,
    title TEXT NOT NULL,
    channel TEXT,
    source TEXT NOT NULL,
    sound INTEGER NOT NULL,
    notified INTEGER NOT NULL,
    error_type TEXT
);

CREATE INDEX IF NOT EXISTS idx_deliveries_fired_at ON deliveries(fired_at);
CREATE INDEX IF NOT EXISTS idx_deliveries_task_id ON deliveries(task_id);
`

// openDB opens or creates the history database at the given path
func openDB(dbPath string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to configure history database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return db, nil
}
