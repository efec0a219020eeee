// Package account models the currently authenticated user.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/hackorsnooze/hns/internal/client"
	"github.com/hackorsnooze/hns/internal/model"
	"github.com/hackorsnooze/hns/internal/stories"
)

// API is the part of the backend a user session needs.
type API interface {
	Signup(ctx context.Context, username, password, name string) (client.Auth, error)
	Login(ctx context.Context, username, password string) (client.Auth, error)
	GetUser(ctx context.Context, token, username string) (model.Profile, error)
	AddFavorite(ctx context.Context, token, username, storyID string) error
	RemoveFavorite(ctx context.Context, token, username, storyID string) error
}

// User is the logged-in user. Favorites and own stories are ids into the shared
// stories.Index; favorites never contain the same id twice.
type User struct {
	Username  string
	Name      string
	CreatedAt time.Time

	api   API
	index *stories.Index
	token string

	mu        sync.Mutex
	favorites []string
	own       []string
}

func newUser(api API, index *stories.Index, profile model.Profile, token string) *User {
	index.Put(profile.Favorites...)
	index.Put(profile.Stories...)

	u := &User{
		Username:  profile.Username,
		Name:      profile.Name,
		CreatedAt: profile.CreatedAt,
		api:       api,
		index:     index,
		token:     token,
		own:       model.StoryIDs(profile.Stories),
	}
	for _, id := range model.StoryIDs(profile.Favorites) {
		if !slices.Contains(u.favorites, id) {
			u.favorites = append(u.favorites, id)
		}
	}
	return u
}

// Signup registers a new account and returns it logged in.
func Signup(ctx context.Context, api API, index *stories.Index, username, password, name string) (*User, error) {
	auth, err := api.Signup(ctx, username, password, name)
	if err != nil {
		return nil, err
	}
	return newUser(api, index, auth.Profile, auth.Token), nil
}

// Login authenticates existing credentials.
func Login(ctx context.Context, api API, index *stories.Index, username, password string) (*User, error) {
	auth, err := api.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}
	return newUser(api, index, auth.Profile, auth.Token), nil
}

// ErrNoCredentials is the Restored error when the token or username is empty.
var ErrNoCredentials = errors.New("no stored credentials")

// Restored is the outcome of RestoreSession. User is nil when no session could
// be restored, and Err then says why.
type Restored struct {
	User *User
	Err  error
}

func (r Restored) OK() bool { return r.User != nil }

// Rejected reports whether the server refused the stored credentials, as opposed
// to the restore failing for a reason that may pass, such as an outage.
func (r Restored) Rejected() bool {
	if errors.Is(r.Err, client.ErrNotAuthenticated) {
		return true
	}
	var remote *client.RemoteError
	return errors.As(r.Err, &remote) && remote.Status == http.StatusNotFound
}

// RestoreSession re-authenticates a stored token by fetching the user's profile.
// It never fails: errors are logged and carried in the result so startup can
// continue without a user.
func RestoreSession(ctx context.Context, api API, index *stories.Index, token, username string, log *slog.Logger) Restored {
	if log == nil {
		log = slog.Default()
	}
	if token == "" || username == "" {
		return Restored{Err: ErrNoCredentials}
	}

	profile, err := api.GetUser(ctx, token, username)
	if err != nil {
		log.WarnContext(ctx, "Failed to restore session",
			"username", username,
			"error", err)
		return Restored{Err: fmt.Errorf("restore session: %w", err)}
	}
	return Restored{User: newUser(api, index, profile, token)}
}

// Token returns the session token. A nil user has none.
func (u *User) Token() string {
	if u == nil {
		return ""
	}
	return u.token
}

// IsFavorite reports whether storyID is among the user's favorites.
func (u *User) IsFavorite(storyID string) bool {
	if u == nil {
		return false
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return slices.Contains(u.favorites, storyID)
}

// AddFavorite marks story as a favorite. Already-favorite stories are left alone
// and no request is sent.
func (u *User) AddFavorite(ctx context.Context, story model.Story) error {
	if u.IsFavorite(story.StoryID) {
		return nil
	}
	if err := u.api.AddFavorite(ctx, u.token, u.Username, story.StoryID); err != nil {
		return err
	}

	u.index.Put(story)
	u.mu.Lock()
	defer u.mu.Unlock()
	if !slices.Contains(u.favorites, story.StoryID) {
		u.favorites = append(u.favorites, story.StoryID)
	}
	return nil
}

// RemoveFavorite unmarks story, matching by id. Stories that are not favorites
// are left alone and no request is sent.
func (u *User) RemoveFavorite(ctx context.Context, story model.Story) error {
	if !u.IsFavorite(story.StoryID) {
		return nil
	}
	if err := u.api.RemoveFavorite(ctx, u.token, u.Username, story.StoryID); err != nil {
		return err
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	u.favorites = slices.DeleteFunc(u.favorites, func(id string) bool { return id == story.StoryID })
	return nil
}

// AddOwnStory records a story the user just submitted. Own stories keep
// submission order, oldest first, as the server lists them.
func (u *User) AddOwnStory(story model.Story) {
	u.index.Put(story)
	u.mu.Lock()
	defer u.mu.Unlock()
	if !slices.Contains(u.own, story.StoryID) {
		u.own = append(u.own, story.StoryID)
	}
}

// Favorites returns the favorite stories in the order they were added.
func (u *User) Favorites() []model.Story {
	return u.index.Resolve(u.FavoriteIDs())
}

func (u *User) FavoriteIDs() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return slices.Clone(u.favorites)
}

// OwnStories returns the stories the user submitted.
func (u *User) OwnStories() []model.Story {
	u.mu.Lock()
	ids := slices.Clone(u.own)
	u.mu.Unlock()
	return u.index.Resolve(ids)
}

func (u *User) String() string {
	return fmt.Sprintf("%s (%s)", u.Username, u.Name)
}
