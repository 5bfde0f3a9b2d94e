package httpremote

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/stacklok/statesync/pkg/remote"
)

// FileTokenSource reads the access token from a file on every call, so a token
// rotated on disk is picked up without a restart
func FileTokenSource(path string) oauth2.TokenSource {
	return tokenFunc(func() (*oauth2.Token, error) {
		// #nosec G304 -- path comes from operator configuration
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, remote.ErrNoAccessToken
			}
			return nil, fmt.Errorf("failed to read token file: %w", err)
		}
		return bearer(string(data))
	})
}

// EnvTokenSource reads the access token from an environment variable on every call
func EnvTokenSource(name string) oauth2.TokenSource {
	return tokenFunc(func() (*oauth2.Token, error) {
		return bearer(os.Getenv(name))
	})
}

// KeyringTokenSource reads the access token from the system keyring
func KeyringTokenSource(service, user string) oauth2.TokenSource {
	return tokenFunc(func() (*oauth2.Token, error) {
		secret, err := keyring.Get(service, user)
		if err != nil {
			if errors.Is(err, keyring.ErrNotFound) {
				return nil, remote.ErrNoAccessToken
			}
			return nil, fmt.Errorf("failed to read token from keyring: %w", err)
		}
		return bearer(secret)
	})
}

// ClientCredentialsConfig configures the OAuth2 client credentials flow
type ClientCredentialsConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// ClientCredentialsTokenSource obtains and caches tokens with the client
// credentials grant. Tokens are refreshed when they expire.
func ClientCredentialsTokenSource(ctx context.Context, cfg ClientCredentialsConfig) oauth2.TokenSource {
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	return cc.TokenSource(ctx)
}

// SettableTokenSource holds a token set by the application at runtime, for
// example after a user signs in. It has no token until Set is called.
type SettableTokenSource struct {
	mu    sync.RWMutex
	token *oauth2.Token
}

// Set replaces the current token. An empty token clears it.
func (s *SettableTokenSource) Set(accessToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if accessToken == "" {
		s.token = nil
		return
	}
	s.token = &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}
}

// Token implements oauth2.TokenSource
func (s *SettableTokenSource) Token() (*oauth2.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return nil, remote.ErrNoAccessToken
	}
	tok := *s.token
	return &tok, nil
}

type tokenFunc func() (*oauth2.Token, error)

func (f tokenFunc) Token() (*oauth2.Token, error) {
	return f()
}

func bearer(raw string) (*oauth2.Token, error) {
	token := strings.TrimSpace(raw)
	if token == "" {
		return nil, remote.ErrNoAccessToken
	}
	return &oauth2.Token{AccessToken: token, TokenType: "Bearer"}, nil
}
