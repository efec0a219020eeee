package model

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// ErrMalformedURL matches every *MalformedURLError.
var ErrMalformedURL = errors.New("malformed url")

// MalformedURLError is returned when a story URL cannot yield a hostname.
type MalformedURLError struct {
	URL string
	Err error
}

func (e *MalformedURLError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed url %q: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("malformed url %q", e.URL)
}

func (e *MalformedURLError) Is(target error) bool { return target == ErrMalformedURL }

func (e *MalformedURLError) Unwrap() error { return e.Err }

// Story is a single submitted link. Values are immutable; StoryID is the identity.
type Story struct {
	StoryID   string    `json:"storyId"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	URL       string    `json:"url"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

// Hostname returns the host of the story URL without any port. Stories link to
// web pages, so a URL without a scheme and host is malformed; this includes
// non-hierarchical forms like mailto:a@b.com, which a browser URL parser would
// accept with an empty hostname.
func (s Story) Hostname() (string, error) {
	u, err := url.Parse(s.URL)
	if err != nil {
		return "", &MalformedURLError{URL: s.URL, Err: err}
	}
	if u.Scheme == "" || u.Hostname() == "" {
		return "", &MalformedURLError{URL: s.URL}
	}
	return u.Hostname(), nil
}

// StoryInput is what a user submits when posting a story.
type StoryInput struct {
	Title  string `json:"title"`
	Author string `json:"author"`
	URL    string `json:"url"`
}

// Profile is the server's view of a user. Stories holds the user's own submissions.
type Profile struct {
	Username  string    `json:"username"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	Favorites []Story   `json:"favorites"`
	Stories   []Story   `json:"stories"`
}

// StoryIDs returns the ids of stories in order.
func StoryIDs(stories []Story) []string {
	ids := make([]string, len(stories))
	for i, s := range stories {
		ids[i] = s.StoryID
	}
	return ids
}
