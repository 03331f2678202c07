package demo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Entry is one guestbook message.
type Entry struct {
	ID      int64     `json:"id"`
	Name    string    `json:"name"`
	Message string    `json:"message"`
	Remote  string    `json:"remote"`
	Created time.Time `json:"created"`
}

// Upload records a file received by the upload endpoint. Contents are
// hashed and discarded.
type Upload struct {
	ID          int64     `json:"id"`
	Field       string    `json:"field"`
	FileName    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	SHA256      string    `json:"sha256"`
	Created     time.Time `json:"created"`
}

// Store keeps demo data in SQLite.
type Store struct {
	db *sql.DB

	addEntryStmt  *sql.Stmt
	listEntryStmt *sql.Stmt
	addUploadStmt *sql.Stmt
	listUpStmt    *sql.Stmt
}

// OpenStore opens the database at path, or an in-memory one when path is
// empty, and creates the schema.
func OpenStore(path string) (*Store, error) {
	dsn := ":memory:"
	if path != "" {
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: SQLite has a single writer, and an in-memory
	// database exists per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS guestbook (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		message TEXT NOT NULL,
		remote TEXT NOT NULL,
		created INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS uploads (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		field TEXT NOT NULL,
		filename TEXT NOT NULL,
		content_type TEXT NOT NULL,
		size INTEGER NOT NULL,
		sha256 TEXT NOT NULL,
		created INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) prepareStatements() error {
	var err error
	if s.addEntryStmt, err = s.db.Prepare(
		`INSERT INTO guestbook (name, message, remote, created) VALUES (?, ?, ?, ?)`); err != nil {
		return fmt.Errorf("failed to prepare insert entry statement: %w", err)
	}
	if s.listEntryStmt, err = s.db.Prepare(
		`SELECT id, name, message, remote, created FROM guestbook ORDER BY id DESC LIMIT ?`); err != nil {
		return fmt.Errorf("failed to prepare list entries statement: %w", err)
	}
	if s.addUploadStmt, err = s.db.Prepare(
		`INSERT INTO uploads (field, filename, content_type, size, sha256, created) VALUES (?, ?, ?, ?, ?, ?)`); err != nil {
		return fmt.Errorf("failed to prepare insert upload statement: %w", err)
	}
	if s.listUpStmt, err = s.db.Prepare(
		`SELECT id, field, filename, content_type, size, sha256, created FROM uploads ORDER BY id DESC LIMIT ?`); err != nil {
		return fmt.Errorf("failed to prepare list uploads statement: %w", err)
	}
	return nil
}

// AddEntry stores a guestbook message and returns it with its id.
func (s *Store) AddEntry(ctx context.Context, e Entry) (Entry, error) {
	if e.Created.IsZero() {
		e.Created = time.Now()
	}
	res, err := s.addEntryStmt.ExecContext(ctx, e.Name, e.Message, e.Remote, e.Created.UnixMilli())
	if err != nil {
		return e, fmt.Errorf("failed to insert entry: %w", err)
	}
	if e.ID, err = res.LastInsertId(); err != nil {
		return e, fmt.Errorf("failed to read entry id: %w", err)
	}
	return e, nil
}

// Entries returns the newest limit messages, newest first.
func (s *Store) Entries(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.listEntryStmt.QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		var created int64
		if err := rows.Scan(&e.ID, &e.Name, &e.Message, &e.Remote, &created); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.Created = time.UnixMilli(created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// AddUpload records an upload.
func (s *Store) AddUpload(ctx context.Context, u Upload) (Upload, error) {
	if u.Created.IsZero() {
		u.Created = time.Now()
	}
	res, err := s.addUploadStmt.ExecContext(ctx, u.Field, u.FileName, u.ContentType, u.Size, u.SHA256, u.Created.UnixMilli())
	if err != nil {
		return u, fmt.Errorf("failed to insert upload: %w", err)
	}
	if u.ID, err = res.LastInsertId(); err != nil {
		return u, fmt.Errorf("failed to read upload id: %w", err)
	}
	return u, nil
}

// Uploads returns the newest limit uploads, newest first.
func (s *Store) Uploads(ctx context.Context, limit int) ([]Upload, error) {
	rows, err := s.listUpStmt.QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query uploads: %w", err)
	}
	defer rows.Close()

	uploads := make([]Upload, 0)
	for rows.Next() {
		var u Upload
		var created int64
		if err := rows.Scan(&u.ID, &u.Field, &u.FileName, &u.ContentType, &u.Size, &u.SHA256, &created); err != nil {
			return nil, fmt.Errorf("failed to scan upload: %w", err)
		}
		u.Created = time.UnixMilli(created)
		uploads = append(uploads, u)
	}
	return uploads, rows.Err()
}

// Close releases the database.
func (s *Store) Close() error {
	for _, stmt := range []*sql.Stmt{s.addEntryStmt, s.listEntryStmt, s.addUploadStmt, s.listUpStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}
