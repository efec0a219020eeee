package stories

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/hackorsnooze/hns/internal/client"
	"github.com/hackorsnooze/hns/internal/model"
)

// DefaultPageSize is the page length FetchMore asks for when none is given.
const DefaultPageSize = 25

// API is the part of the backend the feed needs.
type API interface {
	ListStories(ctx context.Context, skip, limit int) ([]model.Story, error)
	CreateStory(ctx context.Context, token string, in model.StoryInput) (model.Story, error)
}

// Poster is the authenticated user a story is submitted as.
type Poster interface {
	Token() string
	AddOwnStory(story model.Story)
}

// FavoriteChecker reports whether a story id is among a user's favorites.
type FavoriteChecker interface {
	IsFavorite(storyID string) bool
}

// List is the story feed, newest first. Every id in order is a member and every
// member appears in order exactly once; values live in the shared Index.
//
// Mutations hold mu only around the in-memory update, never across the network
// call, so concurrent AddStory/FetchMore calls interleave whole updates.
type List struct {
	api   API
	index *Index

	mu      sync.Mutex
	order   []string
	members map[string]struct{}
}

// New builds a list over index from an already fetched batch.
func New(api API, index *Index, batch []model.Story) *List {
	l := &List{
		api:     api,
		index:   index,
		members: make(map[string]struct{}, len(batch)),
	}
	l.appendLocked(batch)
	return l
}

// FetchAll reads the initial feed page without authentication.
func FetchAll(ctx context.Context, api API, index *Index) (*List, error) {
	batch, err := api.ListStories(ctx, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("fetch stories: %w", err)
	}
	return New(api, index, batch), nil
}

// FetchMore appends the page starting at skip. A negative skip means the current
// length; a non-positive limit means DefaultPageSize. It returns the stories the
// server sent; ids already in the feed are refreshed in place, not repeated.
func (l *List) FetchMore(ctx context.Context, skip, limit int) ([]model.Story, error) {
	if skip < 0 {
		skip = l.Len()
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}

	batch, err := l.api.ListStories(ctx, skip, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch more stories: %w", err)
	}

	l.mu.Lock()
	l.appendLocked(batch)
	l.mu.Unlock()
	return batch, nil
}

func (l *List) appendLocked(batch []model.Story) {
	l.index.Put(batch...)
	for _, s := range batch {
		if _, ok := l.members[s.StoryID]; ok {
			continue
		}
		l.members[s.StoryID] = struct{}{}
		l.order = append(l.order, s.StoryID)
	}
}

// AddStory submits in as user and puts the server's story at the front of the feed.
func (l *List) AddStory(ctx context.Context, user Poster, in model.StoryInput) (model.Story, error) {
	if user == nil || user.Token() == "" {
		return model.Story{}, fmt.Errorf("add story: %w", client.ErrNotAuthenticated)
	}

	story, err := l.api.CreateStory(ctx, user.Token(), in)
	if err != nil {
		return model.Story{}, fmt.Errorf("add story: %w", err)
	}

	l.index.Put(story)
	l.mu.Lock()
	if _, ok := l.members[story.StoryID]; ok {
		l.order = slices.DeleteFunc(l.order, func(id string) bool { return id == story.StoryID })
	}
	l.members[story.StoryID] = struct{}{}
	l.order = slices.Insert(l.order, 0, story.StoryID)
	l.mu.Unlock()

	user.AddOwnStory(story)
	return story, nil
}

// Lookup returns the feed story with id. ok is false when id is not in the feed.
func (l *List) Lookup(id string) (model.Story, bool) {
	l.mu.Lock()
	_, member := l.members[id]
	l.mu.Unlock()
	if !member {
		return model.Story{}, false
	}
	return l.index.Get(id)
}

// IsFavorite reports whether storyID is among user's favorites.
func (l *List) IsFavorite(user FavoriteChecker, storyID string) bool {
	return IsFavorite(user, storyID)
}

// IsFavorite reports whether storyID is among user's favorites. A nil user has none.
func IsFavorite(user FavoriteChecker, storyID string) bool {
	if user == nil {
		return false
	}
	return user.IsFavorite(storyID)
}

// Stories returns a snapshot of the feed in order.
func (l *List) Stories() []model.Story {
	return l.index.Resolve(l.IDs())
}

// IDs returns a snapshot of the feed ids in order.
func (l *List) IDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.order)
}

func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.order)
}
