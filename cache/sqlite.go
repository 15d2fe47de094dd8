package cache

import (
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

type SQLiteStorage struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteStorage opens (or creates) a storage with the given filename as the db.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteStorage(filename string) (SQLiteStorage, error) {
	db, err := sql.Open("sqlite", sqliteDSN(filename))
	if err != nil {
		return SQLiteStorage{}, err
	}
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS caches (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			cache TEXT NOT NULL,
			key TEXT NOT NULL,
			stored_at INTEGER,
			bytes BLOB,
			PRIMARY KEY (cache, key)
		)`,
		"CREATE INDEX IF NOT EXISTS entries_key_idx ON entries (key)",
		"PRAGMA journal_mode=WAL",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return SQLiteStorage{}, err
		}
	}
	return SQLiteStorage{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s SQLiteStorage) Open(name string) (Cache, error) {
	if !validName(name) {
		return nil, ErrInvalidName
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if _, err := s.db.Exec("INSERT OR IGNORE INTO caches (name) VALUES (?)", name); err != nil {
		return nil, err
	}
	return sqliteCache{s: s, name: name}, nil
}

func (s SQLiteStorage) Has(name string) (bool, error) {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM caches WHERE name = ?", name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s SQLiteStorage) Delete(name string) (bool, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	res, err := tx.Exec("DELETE FROM caches WHERE name = ?", name)
	if err != nil {
		return false, err
	}
	if _, err := tx.Exec("DELETE FROM entries WHERE cache = ?", name); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	return rows > 0, err
}

func (s SQLiteStorage) Names() ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM caches ORDER BY seq ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s SQLiteStorage) Match(key string) (Entry, bool, error) {
	return s.scanEntry(s.db.QueryRow(`SELECT e.key, e.stored_at, e.bytes
		FROM entries e JOIN caches c ON c.name = e.cache
		WHERE e.key = ? ORDER BY c.seq ASC LIMIT 1`, key))
}

func (s SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s SQLiteStorage) scanEntry(row *sql.Row) (Entry, bool, error) {
	var entry Entry
	var storedAt int64
	err := row.Scan(&entry.Key, &storedAt, &entry.Bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	entry.StoredAt = time.Unix(0, storedAt)
	return entry, true, nil
}

type sqliteCache struct {
	s    SQLiteStorage
	name string
}

func (c sqliteCache) Name() string {
	return c.name
}

func (c sqliteCache) Match(key string) (Entry, bool, error) {
	return c.s.scanEntry(c.s.db.QueryRow(
		"SELECT key, stored_at, bytes FROM entries WHERE cache = ? AND key = ?", c.name, key))
}

func (c sqliteCache) Put(entry Entry) error {
	return c.PutAll([]Entry{entry})
}

func (c sqliteCache) PutAll(entries []Entry) error {
	c.s.writeMutex.Lock()
	defer c.s.writeMutex.Unlock()
	tx, err := c.s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	var one int
	err = tx.QueryRow("SELECT 1 FROM caches WHERE name = ?", c.name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	} else if err != nil {
		return err
	}
	for _, e := range entries {
		_, err := tx.Exec(`INSERT OR REPLACE INTO entries
			(cache, key, stored_at, bytes) VALUES (?, ?, ?, ?)`,
			c.name, e.Key, e.StoredAt.UnixNano(), e.Bytes)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (c sqliteCache) Delete(key string) error {
	c.s.writeMutex.Lock()
	defer c.s.writeMutex.Unlock()
	_, err := c.s.db.Exec("DELETE FROM entries WHERE cache = ? AND key = ?", c.name, key)
	return err
}

func (c sqliteCache) Keys(cb func(string)) error {
	rows, err := c.s.db.Query("SELECT key FROM entries WHERE cache = ? ORDER BY key", c.name)
	if err != nil {
		return err
	}
	// collect first so the callback may write to the cache
	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return err
		}
		keys = append(keys, key)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, key := range keys {
		cb(key)
	}
	return nil
}

func (c sqliteCache) Count() (int, error) {
	var n int
	err := c.s.db.QueryRow("SELECT COUNT(*) FROM entries WHERE cache = ?", c.name).Scan(&n)
	return n, err
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
