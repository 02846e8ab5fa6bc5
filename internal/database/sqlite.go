package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tgdump-go/internal/archive"
	"tgdump-go/internal/database/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteJournal implements archive.Journal on a SQLite database.
type SQLiteJournal struct {
	db   *sql.DB
	path string
}

// NewSQLiteJournal opens the journal at path and brings its schema up to date.
// path can be a file path or ":memory:" for an in-memory journal.
func NewSQLiteJournal(path string) (*SQLiteJournal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating journal: %w", err)
	}

	return &SQLiteJournal{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every pooled connection to ":memory:" is its own database, and parallel
	// passes on a file journal only need one writer anyway.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return db, nil
}

func (s *SQLiteJournal) StartPass(passID, conversation, parameters string, startedAt time.Time) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO sync_passes (pass_id, conversation, parameters, status, started_at)
		 VALUES (?, ?, ?, ?, ?)`,
		passID, conversation, parameters, archive.PassRunning, startedAt.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting pass: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading pass id: %w", err)
	}
	return id, nil
}

func (s *SQLiteJournal) FinishPass(id int64, summary archive.PassSummary, finishedAt time.Time) error {
	res, err := s.db.Exec(
		`UPDATE sync_passes
		 SET status = ?, finished_at = ?, messages = ?, stale_threads = ?, archive_size = ?
		 WHERE id = ?`,
		archive.PassSuccess, finishedAt.UTC(), summary.Messages, summary.StaleThreads, summary.ArchiveSize, id,
	)
	if err != nil {
		return fmt.Errorf("finishing pass %d: %w", id, err)
	}
	return expectOneRow(res, id)
}

func (s *SQLiteJournal) FailPass(id int64, cause error, finishedAt time.Time) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	res, err := s.db.Exec(
		`UPDATE sync_passes SET status = ?, finished_at = ?, error = ? WHERE id = ?`,
		archive.PassError, finishedAt.UTC(), msg, id,
	)
	if err != nil {
		return fmt.Errorf("failing pass %d: %w", id, err)
	}
	return expectOneRow(res, id)
}

func (s *SQLiteJournal) AbandonPass(id int64, finishedAt time.Time) error {
	res, err := s.db.Exec(
		`UPDATE sync_passes SET status = ?, finished_at = ? WHERE id = ? AND status = ?`,
		archive.PassAbandoned, finishedAt.UTC(), id, archive.PassRunning,
	)
	if err != nil {
		return fmt.Errorf("abandoning pass %d: %w", id, err)
	}
	return expectOneRow(res, id)
}

const passColumns = `id, pass_id, conversation, parameters, status, started_at, finished_at,
	messages, stale_threads, archive_size, error`

func (s *SQLiteJournal) ListPasses(limit int) ([]*archive.PassRecord, error) {
	if limit <= 0 {
		limit = -1 // no limit
	}
	rows, err := s.db.Query(
		`SELECT `+passColumns+` FROM sync_passes ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing passes: %w", err)
	}
	return scanPasses(rows)
}

func (s *SQLiteJournal) RunningPasses(conversation string) ([]*archive.PassRecord, error) {
	rows, err := s.db.Query(
		`SELECT `+passColumns+` FROM sync_passes WHERE conversation = ? AND status = ? ORDER BY id`,
		conversation, archive.PassRunning,
	)
	if err != nil {
		return nil, fmt.Errorf("listing running passes: %w", err)
	}
	return scanPasses(rows)
}

func (s *SQLiteJournal) Close() error {
	return s.db.Close()
}

// DB returns the underlying connection.
func (s *SQLiteJournal) DB() *sql.DB {
	return s.db
}

func scanPasses(rows *sql.Rows) ([]*archive.PassRecord, error) {
	defer rows.Close()

	var passes []*archive.PassRecord
	for rows.Next() {
		var (
			p        archive.PassRecord
			finished sql.NullTime
		)
		err := rows.Scan(&p.ID, &p.PassID, &p.Conversation, &p.Parameters, &p.Status,
			&p.StartedAt, &finished, &p.Messages, &p.StaleThreads, &p.ArchiveSize, &p.Error)
		if err != nil {
			return nil, fmt.Errorf("scanning pass: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			p.FinishedAt = &t
		}
		passes = append(passes, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating passes: %w", err)
	}
	return passes, nil
}

var errPassNotFound = errors.New("pass not found")

func expectOneRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("pass %d: %w", id, errPassNotFound)
	}
	return nil
}

var _ archive.Journal = (*SQLiteJournal)(nil)
