package history

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"
)

// Log records reminder deliveries. A nil *Log and a disabled Log accept
// every call and record nothing.
type Log struct {
	db      *sql.DB
	enabled bool
	mu      sync.Mutex
}

// Open opens the history database at dbPath. If enabled is false the
// database is still created but nothing is recorded.
func Open(dbPath string, enabled bool) (*Log, error) {
	db, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}
	return &Log{db: db, enabled: enabled}, nil
}

// Close closes the database connection
func (l *Log) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// IsEnabled reports whether deliveries are recorded.
func (l *Log) IsEnabled() bool {
	return l != nil && l.enabled
}

// Record stores one delivery. notifyErr is the notification failure, if
// any; it is kept as a category, not verbatim.
func (l *Log) Record(d Delivery, notifyErr error) error {
	if !l.IsEnabled() {
		return nil
	}
	d.Notified = notifyErr == nil
	d.ErrorType = categorizeError(notifyErr)

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.db.Exec(`
		INSERT INTO deliveries (fired_at, task_id, title, channel, source, sound, notified, error_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, d.At.UnixMilli(), d.TaskID, d.Title, nullString(d.Channel), d.Source,
		boolToInt(d.Sound), boolToInt(d.Notified), nullString(d.ErrorType))
	return err
}

// Since returns the deliveries fired at or after since, newest first. A
// limit of zero or less returns all of them.
func (l *Log) Since(ctx context.Context, since time.Time, limit int) ([]Delivery, error) {
	if l == nil || l.db == nil {
		return nil, errors.New("history log not open")
	}
	query := `SELECT id, fired_at, task_id, title, channel, source, sound, notified, error_type
		FROM deliveries WHERE fired_at >= ? ORDER BY fired_at DESC, id DESC`
	args := []any{since.UnixMilli()}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Delivery
	for rows.Next() {
		var d Delivery
		var firedAt int64
		var sound, notified int
		var channel, errorType sql.NullString
		if err := rows.Scan(&d.ID, &firedAt, &d.TaskID, &d.Title, &channel, &d.Source, &sound, &notified, &errorType); err != nil {
			return nil, err
		}
		d.At = time.UnixMilli(firedAt)
		d.Channel = channel.String
		d.Sound = sound == 1
		d.Notified = notified == 1
		d.ErrorType = errorType.String
		out = append(out, d)
	}
	return out, rows.Err()
}

// Cleanup removes deliveries older than retentionDays before now.
// Returns the number of deleted rows.
func (l *Log) Cleanup(retentionDays int, now time.Time) (int64, error) {
	if l == nil || l.db == nil {
		return 0, nil
	}
	cutoff := now.AddDate(0, 0, -retentionDays).UnixMilli()

	l.mu.Lock()
	defer l.mu.Unlock()
	result, err := l.db.Exec("DELETE FROM deliveries WHERE fired_at < ?", cutoff)
	if err != nil {
		return 0, err
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		_, _ = l.db.Exec("VACUUM")
	}
	return deleted, nil
}

// categorizeError reduces a notification error to a general type
func categorizeError(err error) string {
	if err == nil {
		return ""
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout"):
		return "timeout"
	case strings.Contains(errStr, "executable file not found") || strings.Contains(errStr, "unsupported platform"):
		return "unavailable"
	case strings.Contains(errStr, "permission"):
		return "permission"
	default:
		return "unknown"
	}
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
