package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
)

// Session is a persisted login: enough to call GetUser again on the next run.
// Sessions are keyed by the backend they were issued by.
type Session struct {
	BaseURL  string
	Username string
	Token    string
	SavedAt  time.Time
}

type SessionStore interface {
	SaveSession(ctx context.Context, session Session) error
	LoadSession(ctx context.Context, baseURL string) (Session, error)
	ClearSession(ctx context.Context, baseURL string) error
	Close() error
}
