package queue

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

type SQLiteQueue struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteQueue opens (or creates) the queue table in the given db file.
// The file may be shared with the cache storage.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteQueue(filename string) (SQLiteQueue, error) {
	db, err := sql.Open("sqlite", sqliteDSN(filename))
	if err != nil {
		return SQLiteQueue{}, err
	}
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS pending_forms (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			tag TEXT NOT NULL,
			url TEXT NOT NULL,
			content_type TEXT,
			body BLOB,
			created_at INTEGER,
			attempts INTEGER NOT NULL DEFAULT 0
		)`,
		"CREATE INDEX IF NOT EXISTS pending_forms_tag_idx ON pending_forms (tag, seq)",
		"PRAGMA journal_mode=WAL",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return SQLiteQueue{}, err
		}
	}
	return SQLiteQueue{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (q SQLiteQueue) Enqueue(ctx context.Context, f Form) (Form, error) {
	f = prepare(f)
	q.writeMutex.Lock()
	defer q.writeMutex.Unlock()
	_, err := q.db.ExecContext(ctx,
		"INSERT INTO pending_forms (id, tag, url, content_type, body, created_at, attempts) VALUES (?, ?, ?, ?, ?, ?, ?)",
		f.ID, f.Tag, f.URL, f.ContentType, f.Body, f.CreatedAt.UnixNano(), f.Attempts)
	if err != nil {
		return Form{}, err
	}
	return f, nil
}

func (q SQLiteQueue) Pending(ctx context.Context, tag string) ([]Form, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT id, tag, url, content_type, body, created_at, attempts FROM pending_forms WHERE tag = ? ORDER BY seq", tag)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	forms := make([]Form, 0)
	for rows.Next() {
		var (
			f           Form
			contentType sql.NullString
			createdAt   int64
		)
		if err := rows.Scan(&f.ID, &f.Tag, &f.URL, &contentType, &f.Body, &createdAt, &f.Attempts); err != nil {
			return nil, err
		}
		f.ContentType = contentType.String
		f.CreatedAt = time.Unix(0, createdAt)
		forms = append(forms, f)
	}
	return forms, rows.Err()
}

func (q SQLiteQueue) Remove(ctx context.Context, id string) error {
	return q.update(ctx, "DELETE FROM pending_forms WHERE id = ?", id)
}

func (q SQLiteQueue) MarkAttempt(ctx context.Context, id string) error {
	return q.update(ctx, "UPDATE pending_forms SET attempts = attempts + 1 WHERE id = ?", id)
}

func (q SQLiteQueue) update(ctx context.Context, query, id string) error {
	q.writeMutex.Lock()
	defer q.writeMutex.Unlock()
	res, err := q.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (q SQLiteQueue) Close() error {
	return q.db.Close()
}

// sqliteDSN returns the data source name for filename.
// Writes begin immediately so that a connection sharing the file waits for
// the lock instead of failing to upgrade a read transaction.
func sqliteDSN(filename string) string {
	if filename == "" {
		return "file::memory:?cache=shared"
	}
	sep := "?"
	if strings.Contains(filename, "?") {
		sep = "&"
	}
	return filename + sep + "_pragma=busy_timeout(5000)&_txlock=immediate"
}
