// Package httpremote implements the remote store on top of an HTTP settings API.
//
// The settings document is read with GET <baseURL><settingsPath> and diffs are
// sent with PUT to the same URL. Every request carries a bearer token obtained
// from an oauth2.TokenSource.
package httpremote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"github.com/stacklok/statesync/pkg/httpclient"
	"github.com/stacklok/statesync/pkg/remote"
	"github.com/stacklok/statesync/pkg/statetree"
)

const (
	// DefaultSettingsPath is appended to the base URL when no path is configured
	DefaultSettingsPath = "/settings"

	defaultTokenPollInterval = time.Second
)

// URLResolver returns the base URL to use for a given access token
type URLResolver func(accessToken string) string

// Store is a remote.Store backed by an HTTP settings API
type Store struct {
	client            httpclient.Client
	tokens            oauth2.TokenSource
	resolveURL        URLResolver
	settingsPath      string
	responsePath      string
	headers           http.Header
	tokenPollInterval time.Duration
}

var _ remote.Store = (*Store)(nil)

// Option configures a Store
type Option func(*Store)

// WithClient sets the HTTP client
func WithClient(client httpclient.Client) Option {
	return func(s *Store) {
		s.client = client
	}
}

// WithSettingsPath sets the path appended to the base URL
func WithSettingsPath(path string) Option {
	return func(s *Store) {
		s.settingsPath = path
	}
}

// WithResponsePath sets a gjson path selecting the settings document inside a
// GET response body, for APIs that wrap the payload
func WithResponsePath(path string) Option {
	return func(s *Store) {
		s.responsePath = path
	}
}

// WithHeaders sets headers sent with every request
func WithHeaders(headers map[string]string) Option {
	return func(s *Store) {
		for k, v := range headers {
			s.headers.Set(k, v)
		}
	}
}

// WithURLResolver derives the base URL from the access token
func WithURLResolver(resolve URLResolver) Option {
	return func(s *Store) {
		s.resolveURL = resolve
	}
}

// WithTokenPollInterval sets how often Update checks for a token while none is available
func WithTokenPollInterval(d time.Duration) Option {
	return func(s *Store) {
		s.tokenPollInterval = d
	}
}

// New creates an HTTP remote store for baseURL
func New(baseURL string, tokens oauth2.TokenSource, opts ...Option) (*Store, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}

	base := strings.TrimRight(baseURL, "/")
	s := &Store{
		client:            httpclient.NewDefaultClient(httpclient.DefaultTimeout),
		tokens:            tokens,
		resolveURL:        func(string) string { return base },
		settingsPath:      DefaultSettingsPath,
		headers:           http.Header{},
		tokenPollInterval: defaultTokenPollInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Fetch implements remote.Store. It fails immediately with remote.ErrNoAccessToken
// when no valid token is available.
func (s *Store) Fetch(ctx context.Context) (statetree.Envelope, error) {
	token, err := s.token()
	if err != nil {
		return nil, err
	}

	url := s.url(token)
	body, err := s.client.Get(ctx, url, s.requestHeaders(token))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch remote settings: %w", err)
	}

	if s.responsePath != "" {
		result := gjson.GetBytes(body, s.responsePath)
		if !result.Exists() {
			return statetree.Envelope{}, nil
		}
		body = []byte(result.Raw)
	}

	var env statetree.Envelope
	if len(body) > 0 {
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("failed to decode remote settings from %s: %w", url, err)
		}
	}
	if env == nil {
		env = statetree.Envelope{}
	}
	return env, nil
}

// Update implements remote.Store. It waits for a valid token before sending the
// diff; the wait ends with remote.ReadyContext(ctx).
func (s *Store) Update(ctx context.Context, diff statetree.Envelope) (any, error) {
	token, err := s.waitForToken(remote.ReadyContext(ctx))
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(diff)
	if err != nil {
		return nil, fmt.Errorf("failed to encode settings diff: %w", err)
	}

	body, err := s.client.Put(ctx, s.url(token), s.requestHeaders(token), payload)
	if err != nil {
		return nil, fmt.Errorf("failed to update remote settings: %w", err)
	}

	if len(body) == 0 {
		return nil, nil
	}
	var response any
	if err := json.Unmarshal(body, &response); err != nil {
		// non-JSON responses are passed through as text
		return string(body), nil
	}
	return response, nil
}

func (s *Store) url(token string) string {
	return s.resolveURL(token) + s.settingsPath
}

func (s *Store) requestHeaders(token string) http.Header {
	h := s.headers.Clone()
	h.Set("Authorization", "Bearer "+token)
	return h
}

func (s *Store) token() (string, error) {
	tok, err := s.tokens.Token()
	if err != nil {
		if errors.Is(err, remote.ErrNoAccessToken) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", remote.ErrNoAccessToken, err)
	}
	if !tok.Valid() {
		return "", remote.ErrNoAccessToken
	}
	return tok.AccessToken, nil
}

func (s *Store) waitForToken(ctx context.Context) (string, error) {
	ticker := time.NewTicker(s.tokenPollInterval)
	defer ticker.Stop()

	logged := false
	for {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("waiting for access token: %w", err)
		}
		token, err := s.token()
		if err == nil {
			return token, nil
		}
		if !logged {
			slog.Debug("Waiting for access token before remote update", "error", err)
			logged = true
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("waiting for access token: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}
