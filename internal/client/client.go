// Package client provides a Go client for the Hack or Snooze API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackorsnooze/hns/internal/model"
	"github.com/hackorsnooze/hns/internal/rate"
)

// DefaultBaseURL is the hosted backend.
const DefaultBaseURL = "https://hack-or-snooze-v3.herokuapp.com"

// Client is a Hack or Snooze API client. It holds no session state; tokens are
// passed per call by the caller that owns the session.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Limiter    rate.Limiter
	Logger     *slog.Logger
}

// Auth is the result of signup and login.
type Auth struct {
	Profile model.Profile
	Token   string
}

// New creates a new client for baseURL with a 30s timeout and no request pacing.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Limiter:    rate.Unlimited(),
		Logger:     slog.Default(),
	}
}

// ListStories fetches a page of the feed. Zero skip and limit are omitted so the
// server applies its own defaults.
func (c *Client) ListStories(ctx context.Context, skip, limit int) ([]model.Story, error) {
	q := url.Values{}
	if skip > 0 {
		q.Set("skip", strconv.Itoa(skip))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var result struct {
		Stories []model.Story `json:"stories"`
	}
	if err := c.do(ctx, http.MethodGet, "/stories", q, nil, &result, nil); err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	return result.Stories, nil
}

// CreateStory submits a story as the owner of token and returns the server's copy.
func (c *Client) CreateStory(ctx context.Context, token string, in model.StoryInput) (model.Story, error) {
	reqBody := map[string]any{
		"token": token,
		"story": in,
	}

	var result struct {
		Story model.Story `json:"story"`
	}
	if err := c.do(ctx, http.MethodPost, "/stories", nil, reqBody, &result, storyCreateStatuses); err != nil {
		return model.Story{}, fmt.Errorf("create story: %w", err)
	}
	return result.Story, nil
}

// Signup registers a new account.
func (c *Client) Signup(ctx context.Context, username, password, name string) (Auth, error) {
	reqBody := map[string]any{
		"user": map[string]string{
			"username": username,
			"password": password,
			"name":     name,
		},
	}

	auth, err := c.authenticate(ctx, "/signup", reqBody, signupStatuses)
	if err != nil {
		return Auth{}, fmt.Errorf("signup: %w", err)
	}
	return auth, nil
}

// Login exchanges credentials for a token.
func (c *Client) Login(ctx context.Context, username, password string) (Auth, error) {
	reqBody := map[string]any{
		"user": map[string]string{
			"username": username,
			"password": password,
		},
	}

	auth, err := c.authenticate(ctx, "/login", reqBody, loginStatuses)
	if err != nil {
		return Auth{}, fmt.Errorf("login: %w", err)
	}
	return auth, nil
}

func (c *Client) authenticate(ctx context.Context, path string, reqBody any, statuses statusMapping) (Auth, error) {
	var result struct {
		User  model.Profile `json:"user"`
		Token string        `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, path, nil, reqBody, &result, statuses); err != nil {
		return Auth{}, err
	}
	return Auth{Profile: result.User, Token: result.Token}, nil
}

// GetUser fetches the profile of username using a previously issued token.
func (c *Client) GetUser(ctx context.Context, token, username string) (model.Profile, error) {
	q := url.Values{"token": {token}}

	var result struct {
		User model.Profile `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(username), q, nil, &result, authenticatedStatuses); err != nil {
		return model.Profile{}, fmt.Errorf("get user: %w", err)
	}
	return result.User, nil
}

// AddFavorite marks storyID as a favorite of username.
func (c *Client) AddFavorite(ctx context.Context, token, username, storyID string) error {
	if err := c.do(ctx, http.MethodPost, favoritePath(username, storyID), nil, map[string]string{"token": token}, nil, authenticatedStatuses); err != nil {
		return fmt.Errorf("add favorite: %w", err)
	}
	return nil
}

// RemoveFavorite clears storyID from the favorites of username.
func (c *Client) RemoveFavorite(ctx context.Context, token, username, storyID string) error {
	if err := c.do(ctx, http.MethodDelete, favoritePath(username, storyID), nil, map[string]string{"token": token}, nil, authenticatedStatuses); err != nil {
		return fmt.Errorf("remove favorite: %w", err)
	}
	return nil
}

func favoritePath(username, storyID string) string {
	return "/users/" + url.PathEscape(username) + "/favorites/" + url.PathEscape(storyID)
}

// do performs one JSON request. A transport failure becomes ErrServerUnreachable;
// a non-2xx status is mapped through statuses.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any, statuses statusMapping) error {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	target := c.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	requestID := uuid.New().String()
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := c.httpClient().Do(req)
	if err != nil {
		c.logger().WarnContext(ctx, "request failed",
			"request_id", requestID,
			"method", method,
			"path", path,
			"error", err)
		return unreachable(err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return unreachable(fmt.Errorf("read response: %w", err))
	}

	c.logger().DebugContext(ctx, "request completed",
		"request_id", requestID,
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statuses.errorFor(resp.StatusCode, errorMessage(respBody))
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errorMessage extracts message from an {error: {status, message}} body, falling
// back to the raw text.
func errorMessage(body []byte) string {
	var envelope struct {
		Error struct {
			Status  int    `json:"status"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return strings.TrimSpace(string(body))
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
