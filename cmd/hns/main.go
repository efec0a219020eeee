package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/hackorsnooze/hns/internal/client"
	"github.com/hackorsnooze/hns/internal/config"
	"github.com/hackorsnooze/hns/internal/logging"
	"github.com/hackorsnooze/hns/internal/model"
	"github.com/hackorsnooze/hns/internal/rate"
	"github.com/hackorsnooze/hns/internal/session"
	"github.com/hackorsnooze/hns/internal/store/sqlite"
)

const version = "hns v0.1.0"

// maxSearchPages bounds how far favorite/unfavorite page through the feed.
const maxSearchPages = 8

type app struct {
	ctx     context.Context
	cfg     config.Config
	log     *slog.Logger
	ctrl    *session.Controller
	closeDB func() error
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "help", "-h", "--help":
		printUsage()
		return
	case "version", "-v", "--version":
		fmt.Println(version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer a.close()

	switch cmd {
	case "stories", "read", "list":
		err = a.cmdStories(args)
	case "signup", "register":
		err = a.cmdSignup(args)
	case "login", "auth":
		err = a.cmdLogin(args)
	case "logout":
		err = a.cmdLogout(args)
	case "status", "whoami":
		err = a.cmdStatus(args)
	case "submit", "post":
		err = a.cmdSubmit(args)
	case "favorite", "fav":
		err = a.cmdFavorite(args, true)
	case "unfavorite", "unfav":
		err = a.cmdFavorite(args, false)
	case "favorites":
		err = a.cmdFavorites(args)
	case "mine":
		err = a.cmdMine(args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		a.close()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", describe(err))
		a.close()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`hns - Hack or Snooze from the terminal

Usage: hns <command> [options]

Commands:
  stories             List stories (--skip N --limit N)
  signup              Create an account (--username, --name, [--password])
  login               Log in (--username, [--password])
  logout              Forget the saved session
  status              Show who is logged in
  submit              Submit a story (--title, --author, --url)
  favorite            Favorite a story (--story ID)
  unfavorite          Unfavorite a story (--story ID)
  favorites           List your favorites
  mine                List stories you submitted
  version             Print the version

Examples:
  hns login --username alice
  hns stories --limit 10
  hns submit --title "Go 1.24" --author "The Go Team" --url "https://go.dev/blog"
  hns favorite --story 4f2b2c1e-0d6a-4c55-9b3c-5a1c7c2f2a10

Environment Variables:
  HNS_BASE_URL        API server (default: https://hack-or-snooze-v3.herokuapp.com)
  HNS_DB              Saved session database (default: ~/.hns/session.db)
  HNS_HTTP_TIMEOUT    Request timeout (default: 30s)
  HNS_PAGE_SIZE       Stories per page (default: 25)
  HNS_RATE_PER_SEC    Request pacing, 0 disables (default: 5)
  HNS_RATE_BURST      Request burst (default: 5)
  HNS_LOG_LEVEL       debug, info, warn, error (default: info)
  HNS_LOG_FORMAT      text or json (default: text)`)
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}

	api := client.New(cfg.BaseURL)
	api.HTTPClient.Timeout = cfg.HTTPTimeout
	api.Limiter = rate.NewTokenBucket(cfg.RateLimits.PerSecond, cfg.RateLimits.Burst)
	api.Logger = log

	ctrl := session.New(api, db,
		session.WithBaseURL(cfg.BaseURL),
		session.WithPageSize(cfg.PageSize),
		session.WithLogger(log))

	return &app{ctx: ctx, cfg: cfg, log: log, ctrl: ctrl, closeDB: db.Close}, nil
}

func (a *app) close() {
	if a.closeDB == nil {
		return
	}
	if err := a.closeDB(); err != nil {
		a.log.Warn("Failed to close session db", "error", err)
	}
	a.closeDB = nil
}

// ============================================================================
// COMMANDS
// ============================================================================

func (a *app) cmdStories(args []string) error {
	fs := flag.NewFlagSet("stories", flag.ExitOnError)
	skip := fs.Int("skip", 0, "Stories to skip")
	limit := fs.Int("limit", 0, "Number of stories (default: HNS_PAGE_SIZE)")
	fs.Parse(args)

	a.ctrl.Restore(a.ctx)

	var (
		list []model.Story
		err  error
	)
	if *skip == 0 && *limit == 0 {
		if err = a.ctrl.Start(a.ctx); err == nil {
			list = a.ctrl.Feed()
		}
	} else {
		list, err = a.ctrl.LoadPage(a.ctx, *skip, *limit)
	}
	if err != nil {
		return err
	}

	if len(list) == 0 {
		fmt.Println("No stories")
		return nil
	}
	fmt.Printf("\nHack or Snooze (%s)\n\n", a.cfg.BaseURL)
	a.printStories(list, *skip)
	return nil
}

func (a *app) cmdSignup(args []string) error {
	fs := flag.NewFlagSet("signup", flag.ExitOnError)
	username := fs.String("username", "", "Username (required)")
	name := fs.String("name", "", "Display name (required)")
	password := fs.String("password", "", "Password (prompted when omitted)")
	fs.Parse(args)

	if *username == "" || *name == "" {
		return errors.New("--username and --name are required")
	}
	pw, err := passwordOrPrompt(*password)
	if err != nil {
		return err
	}

	user, err := a.ctrl.Signup(a.ctx, *username, pw, *name)
	if err != nil {
		return err
	}
	fmt.Printf("✓ Signed up as %s\n", user)
	return nil
}

func (a *app) cmdLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	username := fs.String("username", "", "Username (required)")
	password := fs.String("password", "", "Password (prompted when omitted)")
	fs.Parse(args)

	if *username == "" {
		return errors.New("--username is required")
	}
	pw, err := passwordOrPrompt(*password)
	if err != nil {
		return err
	}

	user, err := a.ctrl.Login(a.ctx, *username, pw)
	if err != nil {
		return err
	}
	fmt.Printf("✓ Logged in as %s\n", user)
	fmt.Printf("  Favorites: %d | Stories: %d\n", len(user.FavoriteIDs()), len(user.OwnStories()))
	return nil
}

func (a *app) cmdLogout(args []string) error {
	if err := a.ctrl.Logout(a.ctx); err != nil {
		return err
	}
	fmt.Println("✓ Logged out")
	return nil
}

func (a *app) cmdStatus(args []string) error {
	fmt.Printf("Server: %s\n", a.cfg.BaseURL)
	if !a.ctrl.Restore(a.ctx) {
		fmt.Println("User:   Not logged in")
		fmt.Println("\nRun: hns login --username <name>")
		return nil
	}
	user := a.ctrl.User()
	fmt.Printf("User:   %s\n", user)
	fmt.Printf("Since:  %s\n", user.CreatedAt.Format("2006-01-02"))
	fmt.Printf("Favorites: %d | Stories: %d\n", len(user.FavoriteIDs()), len(user.OwnStories()))
	return nil
}

func (a *app) cmdSubmit(args []string) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	title := fs.String("title", "", "Story title (required)")
	author := fs.String("author", "", "Story author (required)")
	url := fs.String("url", "", "Story URL (required)")
	fs.Parse(args)

	if *title == "" || *author == "" || *url == "" {
		return errors.New("--title, --author and --url are required")
	}
	if !a.ctrl.Restore(a.ctx) {
		return client.ErrNotAuthenticated
	}

	story, err := a.ctrl.Submit(a.ctx, model.StoryInput{Title: *title, Author: *author, URL: *url})
	if err != nil {
		return err
	}
	fmt.Printf("✓ Submitted: %s\n", story.Title)
	fmt.Printf("  ID: %s\n", story.StoryID)
	return nil
}

func (a *app) cmdFavorite(args []string, want bool) error {
	name := "favorite"
	if !want {
		name = "unfavorite"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	storyID := fs.String("story", "", "Story ID (required)")
	fs.Parse(args)

	if *storyID == "" {
		return errors.New("--story is required")
	}
	if !a.ctrl.Restore(a.ctx) {
		return client.ErrNotAuthenticated
	}

	if a.ctrl.IsFavorite(*storyID) == want {
		if want {
			fmt.Printf("Story %s is already a favorite\n", *storyID)
		} else {
			fmt.Printf("Story %s is not a favorite\n", *storyID)
		}
		return nil
	}

	on, err := a.ctrl.ToggleFavorite(a.ctx, *storyID)
	if errors.Is(err, session.ErrUnknownStory) {
		if err = a.findStory(*storyID); err != nil {
			return err
		}
		on, err = a.ctrl.ToggleFavorite(a.ctx, *storyID)
	}
	if err != nil {
		return err
	}

	if on {
		fmt.Printf("★ Favorited %s\n", *storyID)
	} else {
		fmt.Printf("☆ Unfavorited %s\n", *storyID)
	}
	return nil
}

// findStory pages through the feed until storyID has been loaded.
func (a *app) findStory(storyID string) error {
	for range maxSearchPages {
		batch, err := a.ctrl.LoadMore(a.ctx, 0)
		if err != nil {
			return err
		}
		for _, s := range batch {
			if s.StoryID == storyID {
				return nil
			}
		}
		if len(batch) == 0 {
			break
		}
	}
	return fmt.Errorf("story %s: %w", storyID, session.ErrUnknownStory)
}

func (a *app) cmdFavorites(args []string) error {
	if !a.ctrl.Restore(a.ctx) {
		return client.ErrNotAuthenticated
	}
	favorites := a.ctrl.Favorites()
	if len(favorites) == 0 {
		fmt.Println("No favorites added!")
		return nil
	}
	a.printStories(favorites, 0)
	return nil
}

func (a *app) cmdMine(args []string) error {
	if !a.ctrl.Restore(a.ctx) {
		return client.ErrNotAuthenticated
	}
	own := a.ctrl.OwnStories()
	if len(own) == 0 {
		fmt.Println("No stories added by user yet!")
		return nil
	}
	a.printStories(own, 0)
	return nil
}

// ============================================================================
// HELPERS
// ============================================================================

func (a *app) printStories(list []model.Story, offset int) {
	for i, s := range list {
		mark := " "
		if a.ctrl.IsFavorite(s.StoryID) {
			mark = "★"
		}
		host, err := s.Hostname()
		if err != nil {
			host = "invalid url"
		}
		fmt.Printf("%d. %s %s (%s)\n", offset+i+1, mark, s.Title, host)
		fmt.Printf("   by %s | posted by %s | %s\n\n", s.Author, s.Username, s.StoryID)
	}
}

// describe turns the error taxonomy into something a user can act on.
func describe(err error) string {
	var remote *client.RemoteError
	switch {
	case errors.Is(err, client.ErrServerUnreachable):
		return "could not reach the server, check your connection and HNS_BASE_URL"
	case errors.Is(err, client.ErrBadURL):
		return "please input a valid URL"
	case errors.Is(err, client.ErrUserAlreadyExists):
		return "that username is taken"
	case errors.Is(err, client.ErrNotAuthenticated):
		return err.Error() + "\nRun: hns login --username <name>"
	case errors.As(err, &remote):
		return fmt.Sprintf("server said %d: %s", remote.Status, remote.Message)
	default:
		return err.Error()
	}
}

func passwordOrPrompt(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	fmt.Fprint(os.Stderr, "Password: ")
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		pw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(pw), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
