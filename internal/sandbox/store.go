package sandbox

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kuitang/flutter-notes-e2e/internal/errs"
)

var (
	ErrNotFound   = errs.New(errs.NotFound, "not found")
	ErrEmailTaken = errs.New(errs.AlreadyExists, "email already registered")
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    email TEXT NOT NULL UNIQUE COLLATE NOCASE,
    password_hash TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

-- Tokens are stored as hex(sha3(token, 256)), never in the clear.
CREATE TABLE IF NOT EXISTS tokens (
    token_hash TEXT PRIMARY KEY,
    user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tokens_user_id ON tokens(user_id);

CREATE TABLE IF NOT EXISTS notes (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    title TEXT NOT NULL,
    description TEXT NOT NULL,
    category TEXT NOT NULL,
    completed INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notes_user_id ON notes(user_id);
`

// User is a registered account.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"-"`
}

// Note is one stored note.
type Note struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Completed   bool      `json:"completed"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	UserID      string    `json:"user_id"`
}

// NoteInput is the writable part of a Note.
type NoteInput struct {
	Title       string
	Description string
	Category    string
	Completed   bool
}

// StoreOptions configure Open.
type StoreOptions struct {
	// Path is the database file. Empty means a private in-memory database.
	Path string
	// Key, when set, encrypts the file with SQLCipher.
	Key []byte
}

// Store persists users, tokens, and notes in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the sandbox database.
func Open(ctx context.Context, opts StoreOptions) (*Store, error) {
	var dsn string
	if opts.Path == "" {
		dsn = fmt.Sprintf("file:sandbox-%s?mode=memory&cache=shared&_busy_timeout=5000&_foreign_keys=on", uuid.NewString())
	} else {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0o750); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		params := []string{"_journal_mode=WAL", "_synchronous=NORMAL", "_busy_timeout=5000", "_foreign_keys=on"}
		if len(opts.Key) > 0 {
			params = append([]string{
				fmt.Sprintf("_pragma_key=x'%s'", hex.EncodeToString(opts.Key)),
				"_pragma_cipher_page_size=4096",
			}, params...)
		}
		dsn = opts.Path + "?" + strings.Join(params, "&")
	}

	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sandbox database: %w", err)
	}
	db.SetMaxOpenConns(4)
	// An in-memory database lives as long as one of its connections.
	db.SetMaxIdleConns(2)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sandbox database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize sandbox schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateUser inserts a user. The email must be unused.
func (s *Store) CreateUser(ctx context.Context, name, email, passwordHash string) (User, error) {
	u := User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        strings.ToLower(email),
		PasswordHash: passwordHash,
		CreatedAt:    s.now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Email, u.PasswordHash, u.CreatedAt.UnixMilli())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return User{}, ErrEmailTaken
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// UserByEmail looks a user up by email, case-insensitively.
func (s *Store) UserByEmail(ctx context.Context, email string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, name, email, password_hash, created_at FROM users WHERE email = ?`, email))
}

// UserForToken returns the owner of a bearer token.
func (s *Store) UserForToken(ctx context.Context, token string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT u.id, u.name, u.email, u.password_hash, u.created_at
		FROM tokens t JOIN users u ON u.id = t.user_id
		WHERE t.token_hash = hex(sha3(?, 256))`, token))
}

func (s *Store) scanUser(row *sql.Row) (User, error) {
	var (
		u       User
		created int64
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("scan user: %w", err)
	}
	u.CreatedAt = time.UnixMilli(created).UTC()
	return u, nil
}

// SetPasswordHash replaces a user's password hash.
func (s *Store) SetPasswordHash(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = ? WHERE id = ?`, passwordHash, userID)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return expectOneRow(res)
}

// IssueToken creates a bearer token for userID.
func (s *Store) IssueToken(ctx context.Context, userID string) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tokens (token_hash, user_id, created_at) VALUES (hex(sha3(?, 256)), ?, ?)`,
		token, userID, s.now().UnixMilli())
	if err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}
	return token, nil
}

// RevokeToken deletes a bearer token. Unknown tokens are ignored.
func (s *Store) RevokeToken(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE token_hash = hex(sha3(?, 256))`, token)
	return err
}

// CreateNote stores a new note owned by userID.
func (s *Store) CreateNote(ctx context.Context, userID string, in NoteInput) (Note, error) {
	now := s.now().UTC()
	n := Note{
		ID:          uuid.NewString(),
		Title:       in.Title,
		Description: in.Description,
		Category:    in.Category,
		Completed:   in.Completed,
		CreatedAt:   now,
		UpdatedAt:   now,
		UserID:      userID,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notes (id, user_id, title, description, category, completed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, userID, n.Title, n.Description, n.Category, n.Completed, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return Note{}, fmt.Errorf("insert note: %w", err)
	}
	return n, nil
}

const noteColumns = `id, user_id, title, description, category, completed, created_at, updated_at`

// GetNote returns a note owned by userID.
func (s *Store) GetNote(ctx context.Context, userID, id string) (Note, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+noteColumns+` FROM notes WHERE id = ? AND user_id = ?`, id, userID)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Note{}, ErrNotFound
	}
	return n, err
}

// ListNotes returns userID's notes, newest first.
func (s *Store) ListNotes(ctx context.Context, userID string) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+noteColumns+` FROM notes WHERE user_id = ? ORDER BY created_at DESC, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	notes := []Note{}
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// UpdateNote replaces every writable field of a note.
func (s *Store) UpdateNote(ctx context.Context, userID, id string, in NoteInput) (Note, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notes SET title = ?, description = ?, category = ?, completed = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		in.Title, in.Description, in.Category, in.Completed, s.now().UnixMilli(), id, userID)
	if err != nil {
		return Note{}, fmt.Errorf("update note: %w", err)
	}
	if err := expectOneRow(res); err != nil {
		return Note{}, err
	}
	return s.GetNote(ctx, userID, id)
}

// SetCompleted flips only the completed flag of a note.
func (s *Store) SetCompleted(ctx context.Context, userID, id string, completed bool) (Note, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notes SET completed = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		completed, s.now().UnixMilli(), id, userID)
	if err != nil {
		return Note{}, fmt.Errorf("update note: %w", err)
	}
	if err := expectOneRow(res); err != nil {
		return Note{}, err
	}
	return s.GetNote(ctx, userID, id)
}

// DeleteNote removes a note owned by userID.
func (s *Store) DeleteNote(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	return expectOneRow(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (Note, error) {
	var (
		n                Note
		created, updated int64
	)
	if err := row.Scan(&n.ID, &n.UserID, &n.Title, &n.Description, &n.Category, &n.Completed, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Note{}, err
		}
		return Note{}, fmt.Errorf("scan note: %w", err)
	}
	n.CreatedAt = time.UnixMilli(created).UTC()
	n.UpdatedAt = time.UnixMilli(updated).UTC()
	return n, nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
