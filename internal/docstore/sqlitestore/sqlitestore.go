// Package sqlitestore is a docstore backend on an embedded SQLite database.
//
// The database runs in embedded mode with WAL so readers are never blocked by
// a writer. Folders and documents live in two tables:
//
//   - folders(id, parent, name) with UNIQUE(parent, name)
//   - documents(folder, name, body, updated_at) keyed by (folder, name)
//
// Folder ids are random UUIDs, so refs are opaque like those of a remote
// drive. The uniqueness constraint makes CreateOrGetFolder race-free across
// processes sharing the file.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/pdcadash/pdca/internal/docstore"
)

func init() {
	docstore.Register("sqlite", func(opts docstore.Options) (docstore.Store, error) {
		return Open(opts.Path)
	})
}

const schema = `
CREATE TABLE IF NOT EXISTS folders (
	id TEXT PRIMARY KEY,
	parent TEXT NOT NULL,
	name TEXT NOT NULL,
	created_at TEXT NOT NULL,
	UNIQUE (parent, name)
);

CREATE TABLE IF NOT EXISTS documents (
	folder TEXT NOT NULL,
	name TEXT NOT NULL,
	body BLOB NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (folder, name)
);

CREATE INDEX IF NOT EXISTS idx_folders_parent ON folders(parent);
`

// Store is a SQLite-backed docstore.Store.
type Store struct {
	conn *sql.DB
	path string
}

// Open opens (or creates) the database at path and initializes the schema.
//
// The caller MUST call Close() when done.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlitestore: database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := conn.Exec(schema); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

func (s *Store) folderExists(ctx context.Context, ref docstore.FolderRef) (bool, error) {
	if ref == docstore.Root {
		return true, nil
	}
	var one int
	err := s.conn.QueryRowContext(ctx, `SELECT 1 FROM folders WHERE id = ?`, string(ref)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) CreateOrGetFolder(ctx context.Context, name string, parent docstore.FolderRef) (docstore.FolderRef, error) {
	if err := docstore.ValidateName(name); err != nil {
		return "", err
	}
	ok, err := s.folderExists(ctx, parent)
	if err != nil {
		return "", docstore.Fail(docstore.OpCreateFolder, parent, name, err)
	}
	if !ok {
		return "", fmt.Errorf("parent folder %q: %w", parent, docstore.ErrNotFound)
	}

	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO folders (id, parent, name, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(parent, name) DO NOTHING
	`, uuid.NewString(), string(parent), name, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", docstore.Fail(docstore.OpCreateFolder, parent, name, err)
	}

	// Whoever won the insert, the row that exists now is the folder.
	var id string
	err = s.conn.QueryRowContext(ctx,
		`SELECT id FROM folders WHERE parent = ? AND name = ?`, string(parent), name).Scan(&id)
	if err != nil {
		return "", docstore.Fail(docstore.OpCreateFolder, parent, name, err)
	}
	return docstore.FolderRef(id), nil
}

func (s *Store) FindFolder(ctx context.Context, name string, parent docstore.FolderRef) (docstore.FolderRef, error) {
	var id string
	err := s.conn.QueryRowContext(ctx,
		`SELECT id FROM folders WHERE parent = ? AND name = ?`, string(parent), name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("folder %q: %w", name, docstore.ErrNotFound)
	}
	if err != nil {
		return "", docstore.Fail(docstore.OpFindFolder, parent, name, err)
	}
	return docstore.FolderRef(id), nil
}

func (s *Store) ReadFile(ctx context.Context, name string, folder docstore.FolderRef) ([]byte, error) {
	var body []byte
	err := s.conn.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE folder = ? AND name = ?`, string(folder), name).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", name, docstore.ErrNotFound)
	}
	if err != nil {
		return nil, docstore.Fail(docstore.OpRead, folder, name, err)
	}
	return body, nil
}

func (s *Store) WriteFile(ctx context.Context, name string, folder docstore.FolderRef, data []byte) error {
	if err := docstore.ValidateName(name); err != nil {
		return err
	}
	ok, err := s.folderExists(ctx, folder)
	if err != nil {
		return docstore.Fail(docstore.OpWrite, folder, name, err)
	}
	if !ok {
		return docstore.Fail(docstore.OpWrite, folder, name, fmt.Errorf("folder %q does not exist", folder))
	}

	if data == nil {
		data = []byte{}
	}
	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO documents (folder, name, body, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(folder, name) DO UPDATE SET
			body = excluded.body,
			updated_at = excluded.updated_at
	`, string(folder), name, data, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return docstore.Fail(docstore.OpWrite, folder, name, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, folder docstore.FolderRef) ([]docstore.Entry, error) {
	ok, err := s.folderExists(ctx, folder)
	if err != nil {
		return nil, docstore.Fail(docstore.OpList, folder, "", err)
	}
	if !ok {
		return nil, fmt.Errorf("folder %q: %w", folder, docstore.ErrNotFound)
	}

	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, name, 1, 0, created_at FROM folders WHERE parent = ?
		UNION ALL
		SELECT '', name, 0, length(body), updated_at FROM documents WHERE folder = ?
		ORDER BY 2
	`, string(folder), string(folder))
	if err != nil {
		return nil, docstore.Fail(docstore.OpList, folder, "", err)
	}
	defer rows.Close()

	var entries []docstore.Entry
	for rows.Next() {
		var (
			e        docstore.Entry
			id       string
			isFolder int
			stamp    string
		)
		if err := rows.Scan(&id, &e.Name, &isFolder, &e.Size, &stamp); err != nil {
			return nil, docstore.Fail(docstore.OpList, folder, "", err)
		}
		e.IsFolder = isFolder == 1
		if e.IsFolder {
			e.Ref = docstore.FolderRef(id)
		}
		if t, err := time.Parse(time.RFC3339Nano, stamp); err == nil {
			e.ModifiedAt = t
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, docstore.Fail(docstore.OpList, folder, "", err)
	}
	return entries, nil
}
