package storage

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"

	"github.com/stacklok/statesync/internal/config"
	"github.com/stacklok/statesync/pkg/httpclient"
	"github.com/stacklok/statesync/pkg/remote"
	"github.com/stacklok/statesync/pkg/remote/httpremote"
	"github.com/stacklok/statesync/pkg/remote/pgremote"
	"github.com/stacklok/statesync/pkg/remote/s3remote"
)

// CreateRemoteStore implements Factory
func (f *ConfigFactory) CreateRemoteStore(ctx context.Context) (remote.Store, error) {
	rc := f.config.Remote
	slog.Info("Creating remote store", "type", rc.Type)

	var (
		store remote.Store
		err   error
	)
	switch rc.Type {
	case config.RemoteTypeHTTP:
		store, err = newHTTPStore(ctx, rc.HTTP)
	case config.RemoteTypePostgres:
		store, err = f.newPostgresStore(ctx, rc.Postgres)
	case config.RemoteTypeS3:
		store, err = newS3Store(ctx, rc.S3)
	default:
		return nil, fmt.Errorf("unknown remote type: %s", rc.Type)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}

func newS3Store(ctx context.Context, sc *config.S3Config) (remote.Store, error) {
	if sc == nil {
		return nil, fmt.Errorf("s3 configuration is required")
	}
	return s3remote.New(ctx, s3remote.Config{
		Bucket:    sc.Bucket,
		Key:       sc.Key,
		Region:    sc.Region,
		Endpoint:  sc.Endpoint,
		PathStyle: sc.PathStyle,
	})
}

func newHTTPStore(ctx context.Context, hc *config.HTTPRemoteConfig) (remote.Store, error) {
	if hc == nil {
		return nil, fmt.Errorf("http configuration is required")
	}
	timeout, err := hc.GetTimeout()
	if err != nil {
		return nil, err
	}
	tokens, err := newTokenSource(ctx, &hc.Auth)
	if err != nil {
		return nil, err
	}

	opts := []httpremote.Option{
		httpremote.WithClient(httpclient.NewDefaultClient(timeout, httpclient.WithRetries(hc.FetchRetries))),
		httpremote.WithHeaders(hc.Headers),
		httpremote.WithResponsePath(hc.ResponsePath),
	}
	if hc.SettingsPath != "" {
		opts = append(opts, httpremote.WithSettingsPath(hc.SettingsPath))
	}
	return httpremote.New(hc.BaseURL, tokens, opts...)
}

func newTokenSource(ctx context.Context, auth *config.HTTPAuthConfig) (oauth2.TokenSource, error) {
	switch {
	case auth.TokenFile != "":
		return httpremote.FileTokenSource(auth.TokenFile), nil
	case auth.TokenEnv != "":
		return httpremote.EnvTokenSource(auth.TokenEnv), nil
	case auth.Keyring != nil:
		return httpremote.KeyringTokenSource(auth.Keyring.Service, auth.Keyring.User), nil
	case auth.ClientCredentials != nil:
		cc := auth.ClientCredentials
		secret, err := cc.GetClientSecret()
		if err != nil {
			return nil, err
		}
		return httpremote.ClientCredentialsTokenSource(ctx, httpremote.ClientCredentialsConfig{
			TokenURL:     cc.TokenURL,
			ClientID:     cc.ClientID,
			ClientSecret: secret,
			Scopes:       cc.Scopes,
		}), nil
	default:
		return nil, fmt.Errorf("no token source configured")
	}
}

func (f *ConfigFactory) newPostgresStore(ctx context.Context, dc *config.DatabaseConfig) (remote.Store, error) {
	if dc == nil {
		return nil, fmt.Errorf("postgres configuration is required")
	}
	connString, err := dc.GetConnectionString()
	if err != nil {
		return nil, err
	}
	lifetime, err := dc.GetConnMaxLifetime()
	if err != nil {
		return nil, err
	}

	pool, err := pgremote.NewPool(ctx, connString, pgremote.PoolConfig{
		MaxConns:        dc.MaxOpenConns,
		MinConns:        dc.MaxIdleConns,
		ConnMaxLifetime: lifetime,
	})
	if err != nil {
		return nil, err
	}
	f.closers = append(f.closers, pool.Close)

	opts := []pgremote.Option{}
	if dc.Table != "" {
		opts = append(opts, pgremote.WithTable(dc.Table))
	}
	if f.tracer != nil {
		opts = append(opts, pgremote.WithTracer(f.tracer))
	}
	store, err := pgremote.New(pool, dc.Owner, opts...)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}
