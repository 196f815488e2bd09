package checkpoint

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	closed  atomic.Bool
	writeMu sync.Mutex
}

// NewSQLiteStore opens (or creates) the checkpoint database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=60000", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(10 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS items (
		id TEXT NOT NULL PRIMARY KEY,
		name TEXT NOT NULL,
		phase TEXT NOT NULL,
		status TEXT NOT NULL,
		archive_path TEXT,
		archive_size INTEGER DEFAULT 0,
		download_url TEXT,
		remote_name TEXT,
		remote_size INTEGER DEFAULT 0,
		last_error TEXT,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_items_status ON items(status);
	CREATE INDEX IF NOT EXISTS idx_items_updated_at ON items(updated_at);
	`

	_, err := s.db.Exec(query)
	return err
}

// GetItem retrieves one checkpoint record; nil when the item is unknown.
func (s *SQLiteStore) GetItem(id string) (*ItemRecord, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("checkpoint store is closed")
	}

	var result *ItemRecord
	err := s.retryOnBusy(func() error {
		var err error
		result, err = s.getItemInternal(id)
		return err
	})
	return result, err
}

func (s *SQLiteStore) getItemInternal(id string) (*ItemRecord, error) {
	query := `
	SELECT id, name, phase, status, archive_path, archive_size,
	       download_url, remote_name, remote_size, last_error, updated_at
	FROM items WHERE id = ?
	`

	row := s.db.QueryRow(query, id)

	record, err := scanRecord(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// SaveItem upserts one checkpoint record. Writes are serialized to keep
// SQLITE_BUSY contention away from parallel phase tasks.
func (s *SQLiteStore) SaveItem(record *ItemRecord) error {
	if s.closed.Load() {
		return fmt.Errorf("checkpoint store is closed")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.retryOnBusy(func() error {
		return s.saveItemWithTransaction(record)
	})
}

func (s *SQLiteStore) saveItemWithTransaction(record *ItemRecord) error {
	record.UpdatedAt = time.Now()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO items
	(id, name, phase, status, archive_path, archive_size,
	 download_url, remote_name, remote_size, last_error, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		phase = excluded.phase,
		status = excluded.status,
		archive_path = excluded.archive_path,
		archive_size = excluded.archive_size,
		download_url = excluded.download_url,
		remote_name = excluded.remote_name,
		remote_size = excluded.remote_size,
		last_error = excluded.last_error,
		updated_at = excluded.updated_at
	`

	_, err = tx.Exec(query,
		record.ID,
		record.Name,
		record.Phase,
		record.Status,
		record.ArchivePath,
		record.ArchiveSize,
		record.DownloadURL,
		record.RemoteName,
		record.RemoteSize,
		record.LastError,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to execute insert: %w", err)
	}

	return tx.Commit()
}

// ListFailedItems returns records whose last run ended in failure, oldest
// first.
func (s *SQLiteStore) ListFailedItems() ([]*ItemRecord, error) {
	query := `
	SELECT id, name, phase, status, archive_path, archive_size,
	       download_url, remote_name, remote_size, last_error, updated_at
	FROM items WHERE status = ?
	ORDER BY updated_at ASC
	`

	rows, err := s.db.Query(query, StatusFailed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*ItemRecord
	for rows.Next() {
		record, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func scanRecord(scan func(dest ...any) error) (*ItemRecord, error) {
	var record ItemRecord
	var archivePath, downloadURL, remoteName, lastError sql.NullString

	err := scan(
		&record.ID,
		&record.Name,
		&record.Phase,
		&record.Status,
		&archivePath,
		&record.ArchiveSize,
		&downloadURL,
		&remoteName,
		&record.RemoteSize,
		&lastError,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.ArchivePath = archivePath.String
	record.DownloadURL = downloadURL.String
	record.RemoteName = remoteName.String
	record.LastError = lastError.String
	return &record, nil
}

// retryOnBusy retries the operation while SQLite reports lock contention.
func (s *SQLiteStore) retryOnBusy(operation func() error) error {
	maxRetries := 10
	baseDelay := 50 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}

		if isSQLiteBusyError(err) && attempt < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<uint(attempt))
			jitter := time.Duration(attempt*10) * time.Millisecond
			time.Sleep(delay + jitter)
			continue
		}
		return err
	}
	return nil
}

func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	errorStr := err.Error()
	return strings.Contains(errorStr, "database is locked") ||
		strings.Contains(errorStr, "SQLITE_BUSY")
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.closed.Store(true)
	return s.db.Close()
}
