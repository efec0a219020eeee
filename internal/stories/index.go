// Package stories keeps the in-memory story cache: one canonical Index keyed by
// story id, and the feed List ordered over it.
package stories

import (
	"sync"

	"github.com/hackorsnooze/hns/internal/model"
)

// Index is the single canonical store of story values. Feed order, favorites and
// own stories all hold ids into it, so a story seen from any view is the same value.
type Index struct {
	mu   sync.RWMutex
	byID map[string]model.Story
}

func NewIndex() *Index {
	return &Index{byID: make(map[string]model.Story)}
}

// Put stores stories, replacing older values with the same id.
func (x *Index) Put(stories ...model.Story) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, s := range stories {
		x.byID[s.StoryID] = s
	}
}

func (x *Index) Get(id string) (model.Story, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	s, ok := x.byID[id]
	return s, ok
}

// Resolve returns the stories for ids in order, skipping unknown ids.
func (x *Index) Resolve(ids []string) []model.Story {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]model.Story, 0, len(ids))
	for _, id := range ids {
		if s, ok := x.byID[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.byID)
}
