// Package clienttest runs an in-memory Hack or Snooze backend for tests.
package clienttest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/hackorsnooze/hns/internal/client"
	"github.com/hackorsnooze/hns/internal/model"
	"github.com/hackorsnooze/hns/internal/rate"
)

// Route names accepted by FailNext, Drop and Requests.
const (
	RouteListStories    = "GET /stories"
	RouteCreateStory    = "POST /stories"
	RouteSignup         = "POST /signup"
	RouteLogin          = "POST /login"
	RouteGetUser        = "GET /users/{username}"
	RouteAddFavorite    = "POST /users/{username}/favorites/{storyId}"
	RouteRemoveFavorite = "DELETE /users/{username}/favorites/{storyId}"
)

const defaultLimit = 25

type account struct {
	password  string
	name      string
	createdAt time.Time
	favorites []string
	stories   []string
}

type failure struct {
	status  int
	message string
}

// Server is a fake backend. Stories are kept newest first.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	accounts map[string]*account
	tokens   map[string]string
	order    []string
	stories  map[string]model.Story
	nextID   int
	failures map[string]failure
	dropped  map[string]bool
	requests map[string]int
}

// NewServer starts a fake backend that is closed when t finishes.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		accounts: make(map[string]*account),
		tokens:   make(map[string]string),
		stories:  make(map[string]model.Story),
		failures: make(map[string]failure),
		dropped:  make(map[string]bool),
		requests: make(map[string]int),
	}

	mux := http.NewServeMux()
	s.handle(mux, RouteListStories, s.listStories)
	s.handle(mux, RouteCreateStory, s.createStory)
	s.handle(mux, RouteSignup, s.signup)
	s.handle(mux, RouteLogin, s.login)
	s.handle(mux, RouteGetUser, s.getUser)
	s.handle(mux, RouteAddFavorite, s.addFavorite)
	s.handle(mux, RouteRemoveFavorite, s.removeFavorite)

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// Client returns an unpaced API client pointed at the fake backend.
func (s *Server) Client() *client.Client {
	c := client.New(s.URL)
	c.HTTPClient = s.Server.Client()
	c.Limiter = rate.Unlimited()
	return c
}

// SeedStories appends stories in the given order (the first is the newest).
func (s *Server) SeedStories(stories ...model.Story) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range stories {
		if _, ok := s.stories[st.StoryID]; !ok {
			s.order = append(s.order, st.StoryID)
		}
		s.stories[st.StoryID] = st
	}
}

// SeedUser creates an account and returns a valid token for it.
func (s *Server) SeedUser(username, password, name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[username] = &account{password: password, name: name, createdAt: time.Now().UTC()}
	return s.issueTokenLocked(username)
}

// SetFavorites replaces the server-side favorites of username.
func (s *Server) SetFavorites(username string, storyIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acc, ok := s.accounts[username]; ok {
		acc.favorites = append([]string(nil), storyIDs...)
	}
}

// Favorites returns the server-side favorite ids of username.
func (s *Server) Favorites(username string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[username]
	if !ok {
		return nil
	}
	return append([]string(nil), acc.favorites...)
}

// FailNext makes the next request on route answer status with an error body.
func (s *Server) FailNext(route string, status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = failure{status: status, message: message}
}

// Drop makes every request on route close the connection without a response.
// Drops persist because the HTTP transport replays idempotent requests once.
func (s *Server) Drop(route string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped[route] = true
}

// Requests reports how many requests route has received.
func (s *Server) Requests(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[route]
}

func (s *Server) handle(mux *http.ServeMux, route string, h http.HandlerFunc) {
	mux.HandleFunc(route, func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests[route]++
		drop := s.dropped[route]
		f, failing := s.failures[route]
		delete(s.failures, route)
		s.mu.Unlock()

		if drop {
			dropConnection(w)
			return
		}
		if failing {
			writeError(w, f.status, f.message)
			return
		}
		h(w, r)
	})
}

func dropConnection(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		panic("clienttest: response writer does not support hijacking")
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		panic(fmt.Sprintf("clienttest: hijack: %v", err))
	}
	_ = conn.Close()
}

func (s *Server) listStories(w http.ResponseWriter, r *http.Request) {
	skip := queryInt(r, "skip", 0)
	limit := queryInt(r, "limit", defaultLimit)

	s.mu.Lock()
	page := make([]model.Story, 0, limit)
	for i := skip; i < len(s.order) && len(page) < limit; i++ {
		page = append(page, s.stories[s.order[i]])
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"stories": page})
}

func (s *Server) createStory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string           `json:"token"`
		Story model.StoryInput `json:"story"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	username, ok := s.tokens[req.Token]
	if !ok {
		writeError(w, http.StatusUnauthorized, "A valid token must be provided.")
		return
	}
	u, err := url.ParseRequestURI(req.Story.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		writeError(w, http.StatusBadRequest, "instance.story.url does not conform to the \"uri\" format")
		return
	}

	s.nextID++
	story := model.Story{
		StoryID:   fmt.Sprintf("new-%d", s.nextID),
		Title:     req.Story.Title,
		Author:    req.Story.Author,
		URL:       req.Story.URL,
		Username:  username,
		CreatedAt: time.Now().UTC(),
	}
	s.stories[story.StoryID] = story
	s.order = append([]string{story.StoryID}, s.order...)
	acc := s.accounts[username]
	acc.stories = append(acc.stories, story.StoryID)

	writeJSON(w, http.StatusCreated, map[string]any{"story": story})
}

type credentials struct {
	User struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Name     string `json:"name"`
	} `json:"user"`
}

func (s *Server) signup(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[req.User.Username]; exists {
		writeError(w, http.StatusConflict, fmt.Sprintf("There already exists a user with username '%s'.", req.User.Username))
		return
	}
	s.accounts[req.User.Username] = &account{
		password:  req.User.Password,
		name:      req.User.Name,
		createdAt: time.Now().UTC(),
	}
	token := s.issueTokenLocked(req.User.Username)
	writeJSON(w, http.StatusCreated, map[string]any{
		"user":  s.profileLocked(req.User.Username),
		"token": token,
	})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[req.User.Username]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("No user '%s'", req.User.Username))
		return
	}
	if acc.password != req.User.Password {
		writeError(w, http.StatusUnauthorized, "Invalid password.")
		return
	}
	token := s.issueTokenLocked(req.User.Username)
	writeJSON(w, http.StatusOK, map[string]any{
		"user":  s.profileLocked(req.User.Username),
		"token": token,
	})
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.authorizedLocked(r.URL.Query().Get("token"), username) {
		writeError(w, http.StatusUnauthorized, "A valid token must be provided.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": s.profileLocked(username)})
}

func (s *Server) addFavorite(w http.ResponseWriter, r *http.Request) {
	s.updateFavorites(w, r, func(acc *account, storyID string) {
		for _, id := range acc.favorites {
			if id == storyID {
				return
			}
		}
		acc.favorites = append(acc.favorites, storyID)
	})
}

func (s *Server) removeFavorite(w http.ResponseWriter, r *http.Request) {
	s.updateFavorites(w, r, func(acc *account, storyID string) {
		kept := acc.favorites[:0]
		for _, id := range acc.favorites {
			if id != storyID {
				kept = append(kept, id)
			}
		}
		acc.favorites = kept
	})
}

func (s *Server) updateFavorites(w http.ResponseWriter, r *http.Request, apply func(*account, string)) {
	username := r.PathValue("username")
	storyID := r.PathValue("storyId")

	var req struct {
		Token string `json:"token"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.authorizedLocked(req.Token, username) {
		writeError(w, http.StatusUnauthorized, "A valid token must be provided.")
		return
	}
	if _, ok := s.stories[storyID]; !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("No story with id '%s'", storyID))
		return
	}
	apply(s.accounts[username], storyID)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Favorites updated",
		"user":    s.profileLocked(username),
	})
}

func (s *Server) issueTokenLocked(username string) string {
	token := fmt.Sprintf("token-%s-%d", username, len(s.tokens)+1)
	s.tokens[token] = username
	return token
}

func (s *Server) authorizedLocked(token, username string) bool {
	owner, ok := s.tokens[token]
	return ok && owner == username
}

func (s *Server) profileLocked(username string) model.Profile {
	acc := s.accounts[username]
	return model.Profile{
		Username:  username,
		Name:      acc.name,
		CreatedAt: acc.createdAt,
		Favorites: s.resolveLocked(acc.favorites),
		Stories:   s.resolveLocked(acc.stories),
	}
}

func (s *Server) resolveLocked(ids []string) []model.Story {
	out := make([]model.Story, 0, len(ids))
	for _, id := range ids {
		if st, ok := s.stories[id]; ok {
			out = append(out, st)
		}
	}
	return out
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"status":  status,
			"message": message,
		},
	})
}
