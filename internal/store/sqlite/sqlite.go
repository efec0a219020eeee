package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hackorsnooze/hns/internal/store"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// migrations is an ordered list of SQL migrations.
// Each migration runs exactly once, tracked by schema_version table.
var migrations = []string{
	// Migration 1: sessions
	`
CREATE TABLE IF NOT EXISTS sessions (
	base_url TEXT PRIMARY KEY,
	username TEXT NOT NULL,
	token TEXT NOT NULL,
	saved_at INTEGER NOT NULL
);
`,
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		)
	`); err != nil {
		return err
	}

	var currentVersion int
	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&currentVersion); err != nil {
		return err
	}

	for i := currentVersion; i < len(migrations); i++ {
		if _, err := db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, i+1); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", i+1, err)
		}
	}

	return nil
}

// SaveSession stores session, replacing any earlier one for the same backend.
func (s *Store) SaveSession(ctx context.Context, session store.Session) error {
	if strings.TrimSpace(session.Username) == "" || session.Token == "" {
		return errors.New("session needs a username and token")
	}
	savedAt := session.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions (base_url, username, token, saved_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(base_url) DO UPDATE SET
	username = excluded.username,
	token = excluded.token,
	saved_at = excluded.saved_at
`, session.BaseURL, session.Username, session.Token, savedAt.Unix())
	return err
}

func (s *Store) LoadSession(ctx context.Context, baseURL string) (store.Session, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT base_url, username, token, saved_at
FROM sessions
WHERE base_url = ?
`, baseURL)

	var (
		session store.Session
		savedAt int64
	)
	if err := row.Scan(&session.BaseURL, &session.Username, &session.Token, &savedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Session{}, store.ErrNotFound
		}
		return store.Session{}, err
	}
	session.SavedAt = time.Unix(savedAt, 0)
	return session, nil
}

// ClearSession forgets the session for baseURL. Clearing a missing session is not an error.
func (s *Store) ClearSession(ctx context.Context, baseURL string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE base_url = ?`, baseURL)
	return err
}
