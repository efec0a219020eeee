// Package session owns the client-side application state: the shared story
// index, the feed, and the logged-in user, plus their persistence across runs.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hackorsnooze/hns/internal/account"
	"github.com/hackorsnooze/hns/internal/client"
	"github.com/hackorsnooze/hns/internal/model"
	"github.com/hackorsnooze/hns/internal/store"
	"github.com/hackorsnooze/hns/internal/stories"
)

// ErrUnknownStory is returned when a story id is not in the feed, the user's
// favorites, or the user's own stories.
var ErrUnknownStory = errors.New("unknown story")

// API is everything the controller asks of the backend.
type API interface {
	stories.API
	account.API
}

type Option func(*Controller)

func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// WithBaseURL sets the backend the persisted session is keyed by.
func WithBaseURL(baseURL string) Option {
	return func(c *Controller) { c.baseURL = baseURL }
}

func WithPageSize(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// Controller holds the feed and current user. A nil store disables persistence.
type Controller struct {
	api      API
	sessions store.SessionStore
	baseURL  string
	pageSize int
	log      *slog.Logger

	index *stories.Index

	mu   sync.RWMutex
	feed *stories.List
	user *account.User
}

func New(api API, sessions store.SessionStore, opts ...Option) *Controller {
	index := stories.NewIndex()
	c := &Controller{
		api:      api,
		sessions: sessions,
		baseURL:  client.DefaultBaseURL,
		pageSize: stories.DefaultPageSize,
		log:      slog.Default(),
		index:    index,
		feed:     stories.New(api, index, nil),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start restores a persisted session, if any, then loads the first feed page.
// A session that cannot be restored never fails Start. One the server rejects
// is forgotten; any other failure keeps it for the next run.
func (c *Controller) Start(ctx context.Context) error {
	c.Restore(ctx)

	feed, err := stories.FetchAll(ctx, c.api, c.index)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.feed = feed
	c.mu.Unlock()

	c.log.DebugContext(ctx, "session started",
		"stories", feed.Len(),
		"logged_in", c.User() != nil)
	return nil
}

// Restore resumes the persisted session without loading the feed. It reports
// whether a user is logged in afterwards.
func (c *Controller) Restore(ctx context.Context) bool {
	if c.User() != nil {
		return true
	}
	if c.sessions == nil {
		return false
	}
	saved, err := c.sessions.LoadSession(ctx, c.baseURL)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.log.WarnContext(ctx, "Failed to load saved session", "error", err)
		}
		return false
	}

	restored := account.RestoreSession(ctx, c.api, c.index, saved.Token, saved.Username, c.log)
	if !restored.OK() {
		if restored.Rejected() {
			c.forget(ctx)
		}
		return false
	}

	c.mu.Lock()
	c.user = restored.User
	c.mu.Unlock()
	return true
}

// Signup creates an account, makes it the current user, and saves the session.
func (c *Controller) Signup(ctx context.Context, username, password, name string) (*account.User, error) {
	user, err := account.Signup(ctx, c.api, c.index, username, password, name)
	if err != nil {
		return nil, fmt.Errorf("signup: %w", err)
	}
	c.setUser(ctx, user)
	return user, nil
}

// Login authenticates, makes the user current, and saves the session.
func (c *Controller) Login(ctx context.Context, username, password string) (*account.User, error) {
	user, err := account.Login(ctx, c.api, c.index, username, password)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	c.setUser(ctx, user)
	return user, nil
}

func (c *Controller) setUser(ctx context.Context, user *account.User) {
	c.mu.Lock()
	c.user = user
	c.mu.Unlock()

	if c.sessions == nil {
		return
	}
	err := c.sessions.SaveSession(ctx, store.Session{
		BaseURL:  c.baseURL,
		Username: user.Username,
		Token:    user.Token(),
		SavedAt:  time.Now(),
	})
	if err != nil {
		c.log.WarnContext(ctx, "Failed to save session", "username", user.Username, "error", err)
	}
}

// Logout drops the current user and the saved credentials.
func (c *Controller) Logout(ctx context.Context) error {
	c.mu.Lock()
	c.user = nil
	c.mu.Unlock()

	if c.sessions == nil {
		return nil
	}
	if err := c.sessions.ClearSession(ctx, c.baseURL); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

func (c *Controller) forget(ctx context.Context) {
	if err := c.sessions.ClearSession(ctx, c.baseURL); err != nil {
		c.log.WarnContext(ctx, "Failed to clear session", "error", err)
	}
}

// User returns the logged-in user, or nil.
func (c *Controller) User() *account.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

func (c *Controller) list() *stories.List {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.feed
}

// Feed returns the stories loaded so far, newest first.
func (c *Controller) Feed() []model.Story {
	return c.list().Stories()
}

// LoadMore appends the next page to the feed. A non-positive limit uses the
// configured page size.
func (c *Controller) LoadMore(ctx context.Context, limit int) ([]model.Story, error) {
	if limit <= 0 {
		limit = c.pageSize
	}
	return c.list().FetchMore(ctx, -1, limit)
}

// LoadPage appends the page starting at skip to the feed and returns it.
func (c *Controller) LoadPage(ctx context.Context, skip, limit int) ([]model.Story, error) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = c.pageSize
	}
	return c.list().FetchMore(ctx, skip, limit)
}

// Submit posts a story as the current user.
func (c *Controller) Submit(ctx context.Context, in model.StoryInput) (model.Story, error) {
	user := c.User()
	if user == nil {
		return model.Story{}, fmt.Errorf("submit story: %w", client.ErrNotAuthenticated)
	}
	return c.list().AddStory(ctx, user, in)
}

// IsFavorite reports whether the current user has favorited storyID.
func (c *Controller) IsFavorite(storyID string) bool {
	return c.User().IsFavorite(storyID)
}

// ToggleFavorite flips the favorite state of a known story and reports the new state.
func (c *Controller) ToggleFavorite(ctx context.Context, storyID string) (bool, error) {
	user := c.User()
	if user == nil {
		return false, fmt.Errorf("toggle favorite: %w", client.ErrNotAuthenticated)
	}
	story, ok := c.index.Get(storyID)
	if !ok {
		return false, fmt.Errorf("toggle favorite %s: %w", storyID, ErrUnknownStory)
	}

	if user.IsFavorite(storyID) {
		if err := user.RemoveFavorite(ctx, story); err != nil {
			return true, fmt.Errorf("remove favorite: %w", err)
		}
		return false, nil
	}
	if err := user.AddFavorite(ctx, story); err != nil {
		return false, fmt.Errorf("add favorite: %w", err)
	}
	return true, nil
}

// Favorites returns the current user's favorites. Nil when logged out.
func (c *Controller) Favorites() []model.Story {
	user := c.User()
	if user == nil {
		return nil
	}
	return user.Favorites()
}

// OwnStories returns the stories the current user submitted. Nil when logged out.
func (c *Controller) OwnStories() []model.Story {
	user := c.User()
	if user == nil {
		return nil
	}
	return user.OwnStories()
}
