package session_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackorsnooze/hns/internal/client"
	"github.com/hackorsnooze/hns/internal/client/clienttest"
	"github.com/hackorsnooze/hns/internal/model"
	"github.com/hackorsnooze/hns/internal/session"
	"github.com/hackorsnooze/hns/internal/store"
	"github.com/hackorsnooze/hns/internal/store/sqlite"
)

func story(id string) model.Story {
	return model.Story{
		StoryID:   id,
		Title:     "Title " + id,
		Author:    "Author",
		URL:       "https://example.com/" + id,
		Username:  "seed",
		CreatedAt: time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC),
	}
}

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	dsnName := strings.NewReplacer("/", "_").Replace(t.Name())
	st, err := sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", dsnName))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newController(t *testing.T, srv *clienttest.Server, st store.SessionStore, log *slog.Logger) *session.Controller {
	t.Helper()
	return session.New(srv.Client(), st,
		session.WithBaseURL(srv.URL),
		session.WithPageSize(2),
		session.WithLogger(log))
}

func TestStartAnonymous(t *testing.T) {
	srv := clienttest.NewServer(t)
	srv.SeedStories(story("s1"), story("s2"), story("s3"))
	ctrl := newController(t, srv, openStore(t), nil)

	require.NoError(t, ctrl.Start(context.Background()))
	assert.Nil(t, ctrl.User())
	assert.Equal(t, []string{"s1", "s2", "s3"}, model.StoryIDs(ctrl.Feed()))
	assert.Nil(t, ctrl.Favorites())
	assert.Nil(t, ctrl.OwnStories())
	assert.False(t, ctrl.IsFavorite("s1"))
}

func TestStartUnreachable(t *testing.T) {
	srv := clienttest.NewServer(t)
	srv.Drop(clienttest.RouteListStories)
	ctrl := newController(t, srv, nil, nil)

	err := ctrl.Start(context.Background())
	assert.True(t, errors.Is(err, client.ErrServerUnreachable), "got %v", err)
}

func TestLoginPersistsAcrossControllers(t *testing.T) {
	srv := clienttest.NewServer(t)
	srv.SeedStories(story("s1"), story("s2"))
	srv.SeedUser("ivy", "pw", "Ivy")
	srv.SetFavorites("ivy", "s2")
	st := openStore(t)
	ctx := context.Background()

	first := newController(t, srv, st, nil)
	user, err := first.Login(ctx, "ivy", "pw")
	require.NoError(t, err)
	assert.Equal(t, "ivy", user.Username)

	saved, err := st.LoadSession(ctx, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ivy", saved.Username)
	assert.Equal(t, user.Token(), saved.Token)

	second := newController(t, srv, st, nil)
	require.NoError(t, second.Start(ctx))
	require.NotNil(t, second.User())
	assert.Equal(t, "ivy", second.User().Username)
	assert.True(t, second.IsFavorite("s2"))

	require.NoError(t, second.Logout(ctx))
	assert.Nil(t, second.User())
	_, err = st.LoadSession(ctx, srv.URL)
	assert.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)
}

func TestStartForgetsRejectedSession(t *testing.T) {
	srv := clienttest.NewServer(t)
	srv.SeedUser("jay", "pw", "Jay")
	st := openStore(t)
	ctx := context.Background()
	require.NoError(t, st.SaveSession(ctx, store.Session{BaseURL: srv.URL, Username: "jay", Token: "stale"}))

	var logs bytes.Buffer
	ctrl := newController(t, srv, st, slog.New(slog.NewTextHandler(&logs, nil)))
	require.NoError(t, ctrl.Start(ctx))

	assert.Nil(t, ctrl.User())
	assert.Contains(t, logs.String(), "Failed to restore session")
	_, err := st.LoadSession(ctx, srv.URL)
	assert.True(t, errors.Is(err, store.ErrNotFound), "stale session should be cleared, got %v", err)
}

func TestStartKeepsSessionWhenUnreachable(t *testing.T) {
	srv := clienttest.NewServer(t)
	token := srv.SeedUser("kim", "pw", "Kim")
	srv.Drop(clienttest.RouteGetUser)
	st := openStore(t)
	ctx := context.Background()
	require.NoError(t, st.SaveSession(ctx, store.Session{BaseURL: srv.URL, Username: "kim", Token: token}))

	var logs bytes.Buffer
	ctrl := newController(t, srv, st, slog.New(slog.NewTextHandler(&logs, nil)))
	require.NoError(t, ctrl.Start(ctx))

	assert.Nil(t, ctrl.User())
	assert.Contains(t, logs.String(), "Failed to restore session")
	saved, err := st.LoadSession(ctx, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, token, saved.Token)
}

func TestStartKeepsSessionOnServerError(t *testing.T) {
	srv := clienttest.NewServer(t)
	srv.SeedStories(story("s1"))
	token := srv.SeedUser("kai", "pw", "Kai")
	st := openStore(t)
	ctx := context.Background()
	require.NoError(t, st.SaveSession(ctx, store.Session{BaseURL: srv.URL, Username: "kai", Token: token}))

	srv.FailNext(clienttest.RouteGetUser, http.StatusServiceUnavailable, "waking up")
	first := newController(t, srv, st, nil)
	require.NoError(t, first.Start(ctx))
	assert.Nil(t, first.User())

	saved, err := st.LoadSession(ctx, srv.URL)
	require.NoError(t, err, "a server error must not forget the session")
	assert.Equal(t, token, saved.Token)

	second := newController(t, srv, st, nil)
	require.True(t, second.Restore(ctx))
	assert.Equal(t, "kai", second.User().Username)
}

func TestStartForgetsDeletedUser(t *testing.T) {
	srv := clienttest.NewServer(t)
	token := srv.SeedUser("lou", "pw", "Lou")
	st := openStore(t)
	ctx := context.Background()
	require.NoError(t, st.SaveSession(ctx, store.Session{BaseURL: srv.URL, Username: "lou", Token: token}))

	srv.FailNext(clienttest.RouteGetUser, http.StatusNotFound, "No user 'lou'")
	ctrl := newController(t, srv, st, nil)
	require.NoError(t, ctrl.Start(ctx))

	_, err := st.LoadSession(ctx, srv.URL)
	assert.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)
}

func TestSignupDuplicate(t *testing.T) {
	srv := clienttest.NewServer(t)
	srv.SeedUser("lee", "pw", "Lee")
	ctrl := newController(t, srv, openStore(t), nil)

	_, err := ctrl.Signup(context.Background(), "lee", "pw", "Lee")
	assert.True(t, errors.Is(err, client.ErrUserAlreadyExists), "got %v", err)
	assert.Nil(t, ctrl.User())
}

func TestLoadMore(t *testing.T) {
	srv := clienttest.NewServer(t)
	srv.SeedStories(story("s1"), story("s2"), story("s3"), story("s4"), story("s5"))
	ctrl := newController(t, srv, nil, nil)
	ctx := context.Background()

	batch, err := ctrl.LoadMore(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, model.StoryIDs(batch))

	_, err = ctrl.LoadMore(ctx, 0)
	require.NoError(t, err)
	_, err = ctrl.LoadMore(ctx, 10)
	require.NoError(t, err)

	want := []string{"s1", "s2", "s3", "s4", "s5"}
	if diff := cmp.Diff(want, model.StoryIDs(ctrl.Feed())); diff != "" {
		t.Fatalf("feed mismatch (-want +got):\n%s", diff)
	}
}

func TestSubmit(t *testing.T) {
	srv := clienttest.NewServer(t)
	srv.SeedStories(story("s1"))
	srv.SeedUser("max", "pw", "Max")
	ctrl := newController(t, srv, nil, nil)
	ctx := context.Background()
	require.NoError(t, ctrl.Start(ctx))

	in := model.StoryInput{Title: "Show HNS", Author: "Max", URL: "https://max.dev"}
	_, err := ctrl.Submit(ctx, in)
	assert.True(t, errors.Is(err, client.ErrNotAuthenticated), "got %v", err)
	assert.Zero(t, srv.Requests(clienttest.RouteCreateStory))

	_, err = ctrl.Login(ctx, "max", "pw")
	require.NoError(t, err)

	posted, err := ctrl.Submit(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, []string{posted.StoryID, "s1"}, model.StoryIDs(ctrl.Feed()))
	assert.Equal(t, []string{posted.StoryID}, model.StoryIDs(ctrl.OwnStories()))

	_, err = ctrl.Submit(ctx, model.StoryInput{Title: "Bad", Author: "Max", URL: "nope"})
	assert.True(t, errors.Is(err, client.ErrBadURL), "got %v", err)
}

func TestToggleFavorite(t *testing.T) {
	srv := clienttest.NewServer(t)
	srv.SeedStories(story("s1"), story("s2"))
	srv.SeedUser("ned", "pw", "Ned")
	ctrl := newController(t, srv, nil, nil)
	ctx := context.Background()
	require.NoError(t, ctrl.Start(ctx))

	_, err := ctrl.ToggleFavorite(ctx, "s1")
	assert.True(t, errors.Is(err, client.ErrNotAuthenticated), "got %v", err)

	_, err = ctrl.Login(ctx, "ned", "pw")
	require.NoError(t, err)

	on, err := ctrl.ToggleFavorite(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, on)
	assert.Equal(t, []string{"s1"}, srv.Favorites("ned"))
	assert.Equal(t, []string{"s1"}, model.StoryIDs(ctrl.Favorites()))

	on, err = ctrl.ToggleFavorite(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, on)
	assert.Empty(t, srv.Favorites("ned"))
	assert.Empty(t, ctrl.Favorites())

	_, err = ctrl.ToggleFavorite(ctx, "ghost")
	assert.True(t, errors.Is(err, session.ErrUnknownStory), "got %v", err)
}

func TestToggleFavoriteKeepsStateOnFailure(t *testing.T) {
	srv := clienttest.NewServer(t)
	srv.SeedStories(story("s1"))
	srv.SeedUser("ola", "pw", "Ola")
	srv.SetFavorites("ola", "s1")
	ctrl := newController(t, srv, nil, nil)
	ctx := context.Background()
	require.NoError(t, ctrl.Start(ctx))
	_, err := ctrl.Login(ctx, "ola", "pw")
	require.NoError(t, err)

	srv.Drop(clienttest.RouteRemoveFavorite)
	on, err := ctrl.ToggleFavorite(ctx, "s1")
	assert.True(t, errors.Is(err, client.ErrServerUnreachable), "got %v", err)
	assert.True(t, on)
	assert.True(t, ctrl.IsFavorite("s1"))
}

func TestLoadPageAndRestore(t *testing.T) {
	srv := clienttest.NewServer(t)
	srv.SeedStories(story("s1"), story("s2"), story("s3"), story("s4"))
	token := srv.SeedUser("pia", "pw", "Pia")
	st := openStore(t)
	ctx := context.Background()
	require.NoError(t, st.SaveSession(ctx, store.Session{BaseURL: srv.URL, Username: "pia", Token: token}))

	ctrl := newController(t, srv, st, nil)
	require.True(t, ctrl.Restore(ctx))
	assert.True(t, ctrl.Restore(ctx), "restoring twice keeps the user")
	assert.Equal(t, 1, srv.Requests(clienttest.RouteGetUser))
	assert.Zero(t, srv.Requests(clienttest.RouteListStories))

	page, err := ctrl.LoadPage(ctx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"s3", "s4"}, model.StoryIDs(page))
	assert.Equal(t, []string{"s3", "s4"}, model.StoryIDs(ctrl.Feed()))

	on, err := ctrl.ToggleFavorite(ctx, "s4")
	require.NoError(t, err)
	assert.True(t, on)
}
