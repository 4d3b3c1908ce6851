package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	_ "modernc.org/sqlite"

	"books_nepal/internal/models"
)

var ErrNotFound = errors.New("not found")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragma := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
	}

	for _, stmt := range pragma {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("pragma: %w", err)
		}
	}
	return nil
}

func migrate(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS users (
	telegram_id INTEGER PRIMARY KEY,
	username TEXT,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS books (
	source_id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	authors TEXT,
	thumbnail_url TEXT,
	description TEXT,
	published_date TEXT,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS kv_store (
	owner_id INTEGER NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY(owner_id, key)
);
`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) EnsureUser(ctx context.Context, telegramID int64, username string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO users (telegram_id, username)
VALUES (?, ?)
ON CONFLICT(telegram_id) DO UPDATE SET username = excluded.username
`, telegramID, username)
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

// UpsertBook caches book metadata so rental lists can show titles without a catalog call.
func (s *Store) UpsertBook(ctx context.Context, book models.Book) error {
	if book.ID == "" {
		return fmt.Errorf("upsert book: empty id")
	}

	authors, err := json.Marshal(book.Authors)
	if err != nil {
		return fmt.Errorf("encode authors: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO books (source_id, title, authors, thumbnail_url, description, published_date)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(source_id) DO UPDATE SET
	title = excluded.title,
	authors = excluded.authors,
	thumbnail_url = excluded.thumbnail_url,
	description = excluded.description,
	published_date = excluded.published_date,
	updated_at = CURRENT_TIMESTAMP
`, book.ID, book.Title, string(authors), book.ThumbnailURL, book.Description, book.PublishedDate)
	if err != nil {
		return fmt.Errorf("upsert book: %w", err)
	}
	return nil
}

func (s *Store) GetBook(ctx context.Context, id string) (models.Book, error) {
	books, err := s.GetBooks(ctx, []string{id})
	if err != nil {
		return models.Book{}, err
	}
	if len(books) == 0 {
		return models.Book{}, fmt.Errorf("book %s: %w", id, ErrNotFound)
	}
	return books[0], nil
}

// GetBooks returns the cached books for ids, in the order of ids. Unknown ids are skipped.
func (s *Store) GetBooks(ctx context.Context, ids []string) ([]models.Book, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT source_id, title, authors, thumbnail_url, description, published_date
FROM books
WHERE source_id IN (`+placeholders+`)
`, args...)
	if err != nil {
		return nil, fmt.Errorf("read books: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]models.Book, len(ids))
	for rows.Next() {
		var (
			b                          models.Book
			authors, thumb, desc, date sql.NullString
		)
		if err := rows.Scan(&b.ID, &b.Title, &authors, &thumb, &desc, &date); err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		if authors.Valid && authors.String != "" {
			if err := json.Unmarshal([]byte(authors.String), &b.Authors); err != nil {
				return nil, fmt.Errorf("decode authors of %s: %w", b.ID, err)
			}
		}
		b.ThumbnailURL = thumb.String
		b.Description = desc.String
		b.PublishedDate = date.String
		byID[b.ID] = b
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	books := make([]models.Book, 0, len(byID))
	for _, id := range ids {
		if b, ok := byID[id]; ok {
			books = append(books, b)
		}
	}
	return books, nil
}

// GetValue reads a raw value. ErrNotFound when the key was never written.
func (s *Store) GetValue(ctx context.Context, ownerID int64, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
SELECT value FROM kv_store WHERE owner_id = ? AND key = ?
`, ownerID, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	return value, nil
}

// SetValue overwrites the value stored under (ownerID, key).
func (s *Store) SetValue(ctx context.Context, ownerID int64, key string, value string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO kv_store (owner_id, key, value)
VALUES (?, ?, ?)
ON CONFLICT(owner_id, key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
`, ownerID, key, value)
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}
