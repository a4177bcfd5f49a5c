package activity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultDBName is the SQLite database inside the log directory.
const DefaultDBName = "user_activity.db"

const schema = `
CREATE TABLE IF NOT EXISTS activity (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	ts       TEXT NOT NULL,
	user_id  TEXT NOT NULL,
	username TEXT NOT NULL,
	guild    TEXT NOT NULL,
	model    TEXT NOT NULL,
	input    TEXT NOT NULL,
	output   TEXT NOT NULL,
	success  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS activity_user ON activity(user_id, id);
`

// SQLiteSink stores entries in a SQLite table so they can be queried later.
type SQLiteSink struct {
	db        *sql.DB
	maxOutput int
	now       func() time.Time
}

// OpenSQLite opens (and if needed creates) the database at path.
func OpenSQLite(ctx context.Context, path string, maxOutput int) (*SQLiteSink, error) {
	if path == "" {
		return nil, errors.New("sqlite path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating activity database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening activity database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating activity schema: %w", err)
	}

	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutput
	}
	return &SQLiteSink{db: db, maxOutput: maxOutput, now: time.Now}, nil
}

// Record implements Sink. Output is truncated like the file log but newlines are kept.
func (s *SQLiteSink) Record(ctx context.Context, e Entry) error {
	if e.Time.IsZero() {
		e.Time = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activity(ts, user_id, username, guild, model, input, output, success) VALUES(?,?,?,?,?,?,?,?)`,
		e.Time.UTC().Format(time.RFC3339Nano),
		e.UserID, e.Username, e.Guild, e.Model, e.Input,
		Truncate(e.Output, s.maxOutput),
		e.Success,
	)
	if err != nil {
		return fmt.Errorf("recording activity: %w", err)
	}
	return nil
}

// Query filters Recent.
type Query struct {
	// UserID limits results to one user when set.
	UserID string
	Limit  int
}

// Recent returns the newest entries first.
func (s *SQLiteSink) Recent(ctx context.Context, q Query) ([]Entry, error) {
	if q.Limit <= 0 {
		q.Limit = 20
	}

	stmt := `SELECT ts, user_id, username, guild, model, input, output, success FROM activity`
	args := []any{}
	if q.UserID != "" {
		stmt += ` WHERE user_id = ?`
		args = append(args, q.UserID)
	}
	stmt += ` ORDER BY id DESC LIMIT ?`
	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("querying activity: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var (
			e  Entry
			ts string
		)
		if err := rows.Scan(&ts, &e.UserID, &e.Username, &e.Guild, &e.Model, &e.Input, &e.Output, &e.Success); err != nil {
			return nil, fmt.Errorf("scanning activity row: %w", err)
		}
		if e.Time, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parsing activity time %q: %w", ts, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

var _ Sink = (*SQLiteSink)(nil)
