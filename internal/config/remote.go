package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// RemoteTypeHTTP is a settings HTTP API
	RemoteTypeHTTP = "http"

	// RemoteTypePostgres is a PostgreSQL table
	RemoteTypePostgres = "postgres"

	// RemoteTypeS3 is a single object in an S3-compatible bucket
	RemoteTypeS3 = "s3"
)

// DatabasePasswordEnv is read when no passwordFile is configured
const DatabasePasswordEnv = "STATESYNC_DATABASE_PASSWORD"

// RemoteConfig defines the remote store. Only the block matching Type is used.
type RemoteConfig struct {
	Type string `yaml:"type"`

	HTTP     *HTTPRemoteConfig `yaml:"http,omitempty"`
	Postgres *DatabaseConfig   `yaml:"postgres,omitempty"`
	S3       *S3Config         `yaml:"s3,omitempty"`
}

// HTTPRemoteConfig defines the settings HTTP API
type HTTPRemoteConfig struct {
	// BaseURL is the API root, e.g. "https://api.example.com/v1"
	BaseURL string `yaml:"baseURL"`

	// SettingsPath is appended to BaseURL. Defaults to "/settings".
	SettingsPath string `yaml:"settingsPath,omitempty"`

	// ResponsePath is a gjson path to the settings payload inside the response
	ResponsePath string `yaml:"responsePath,omitempty"`

	// Headers are sent with every request
	Headers map[string]string `yaml:"headers,omitempty"`

	// Timeout bounds a single request ("30s")
	Timeout string `yaml:"timeout,omitempty"`

	// FetchRetries is the number of retries of a failed read
	FetchRetries uint `yaml:"fetchRetries,omitempty"`

	Auth HTTPAuthConfig `yaml:"auth"`
}

// HTTPAuthConfig selects where the access token comes from. Exactly one source must be set.
type HTTPAuthConfig struct {
	TokenFile         string                   `yaml:"tokenFile,omitempty"`
	TokenEnv          string                   `yaml:"tokenEnv,omitempty"`
	Keyring           *KeyringConfig           `yaml:"keyring,omitempty"`
	ClientCredentials *ClientCredentialsConfig `yaml:"clientCredentials,omitempty"`
}

// KeyringConfig locates a token in the OS keyring
type KeyringConfig struct {
	Service string `yaml:"service"`
	User    string `yaml:"user"`
}

// ClientCredentialsConfig configures the OAuth2 client credentials grant
type ClientCredentialsConfig struct {
	TokenURL         string   `yaml:"tokenURL"`
	ClientID         string   `yaml:"clientID"`
	ClientSecretFile string   `yaml:"clientSecretFile"`
	Scopes           []string `yaml:"scopes,omitempty"`
}

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password.
	// The file should contain only the password with optional trailing whitespace.
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxOpenConns is the maximum number of open connections to the database
	MaxOpenConns int32 `yaml:"maxOpenConns,omitempty"`

	// MaxIdleConns is the minimum number of connections kept in the pool
	MaxIdleConns int32 `yaml:"maxIdleConns,omitempty"`

	// ConnMaxLifetime is the maximum lifetime of a connection (e.g., "1h", "30m")
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`

	// Table holds the settings rows. Defaults to statesync_settings.
	Table string `yaml:"table,omitempty"`

	// Owner scopes the rows of this instance
	Owner string `yaml:"owner"`
}

// S3Config locates the settings object
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Key       string `yaml:"key"`
	Region    string `yaml:"region,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	PathStyle bool   `yaml:"pathStyle,omitempty"`
}

// GetTimeout returns the request timeout, or zero when unset
func (h *HTTPRemoteConfig) GetTimeout() (time.Duration, error) {
	if h.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(h.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", h.Timeout, err)
	}
	return d, nil
}

// GetClientSecret reads the client secret file
func (c *ClientCredentialsConfig) GetClientSecret() (string, error) {
	data, err := os.ReadFile(filepath.Clean(c.ClientSecretFile))
	if err != nil {
		return "", fmt.Errorf("failed to read client secret from file %s: %w", c.ClientSecretFile, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from STATESYNC_DATABASE_PASSWORD environment variable
func (d *DatabaseConfig) GetPassword() (string, error) {
	if d.PasswordFile != "" {
		data, err := os.ReadFile(filepath.Clean(d.PasswordFile))
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", d.PasswordFile, err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	if envPassword := os.Getenv(DatabasePasswordEnv); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no database password configured: set passwordFile or %s environment variable", DatabasePasswordEnv,
	)
}

// GetConnectionString builds a PostgreSQL connection string.
// The password is URL-escaped to handle special characters safely.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(d.User),
		url.QueryEscape(password),
		d.Host,
		d.Port,
		d.Database,
		sslMode,
	), nil
}

// GetConnMaxLifetime returns the parsed connection lifetime, or zero when unset
func (d *DatabaseConfig) GetConnMaxLifetime() (time.Duration, error) {
	if d.ConnMaxLifetime == "" {
		return 0, nil
	}
	lt, err := time.ParseDuration(d.ConnMaxLifetime)
	if err != nil {
		return 0, fmt.Errorf("invalid connMaxLifetime %q: %w", d.ConnMaxLifetime, err)
	}
	return lt, nil
}

func (r *RemoteConfig) validate() error {
	switch r.Type {
	case RemoteTypeHTTP:
		if r.HTTP == nil {
			return fmt.Errorf("http configuration is required for type '%s'", r.Type)
		}
		return r.HTTP.validate()
	case RemoteTypePostgres:
		if r.Postgres == nil {
			return fmt.Errorf("postgres configuration is required for type '%s'", r.Type)
		}
		return r.Postgres.validate()
	case RemoteTypeS3:
		if r.S3 == nil {
			return fmt.Errorf("s3 configuration is required for type '%s'", r.Type)
		}
		return r.S3.validate()
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unsupported type '%s' (supported: %s, %s, %s)",
			r.Type, RemoteTypeHTTP, RemoteTypePostgres, RemoteTypeS3)
	}
}

func (h *HTTPRemoteConfig) validate() error {
	if h.BaseURL == "" {
		return fmt.Errorf("http.baseURL is required")
	}
	u, err := url.Parse(h.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("http.baseURL must be an absolute http(s) URL, got %q", h.BaseURL)
	}
	if _, err := h.GetTimeout(); err != nil {
		return fmt.Errorf("http.%w", err)
	}
	if err := h.Auth.validate(); err != nil {
		return fmt.Errorf("http.auth: %w", err)
	}
	return nil
}

func (a *HTTPAuthConfig) validate() error {
	sources := 0
	if a.TokenFile != "" {
		sources++
	}
	if a.TokenEnv != "" {
		sources++
	}
	if a.Keyring != nil {
		sources++
		if a.Keyring.Service == "" || a.Keyring.User == "" {
			return fmt.Errorf("keyring requires service and user")
		}
	}
	if a.ClientCredentials != nil {
		sources++
		cc := a.ClientCredentials
		if cc.TokenURL == "" || cc.ClientID == "" || cc.ClientSecretFile == "" {
			return fmt.Errorf("clientCredentials requires tokenURL, clientID and clientSecretFile")
		}
	}

	switch sources {
	case 0:
		return fmt.Errorf("one token source is required (tokenFile, tokenEnv, keyring or clientCredentials)")
	case 1:
		return nil
	default:
		return fmt.Errorf("only one token source can be configured, found %d", sources)
	}
}

func (d *DatabaseConfig) validate() error {
	if d.Host == "" {
		return fmt.Errorf("postgres.host is required")
	}
	if d.Port <= 0 || d.Port > 65535 {
		return fmt.Errorf("postgres.port must be between 1 and 65535, got %d", d.Port)
	}
	if d.User == "" {
		return fmt.Errorf("postgres.user is required")
	}
	if d.Database == "" {
		return fmt.Errorf("postgres.database is required")
	}
	if d.Owner == "" {
		return fmt.Errorf("postgres.owner is required")
	}
	if _, err := d.GetConnMaxLifetime(); err != nil {
		return fmt.Errorf("postgres.%w", err)
	}
	return nil
}

func (s *S3Config) validate() error {
	if s.Bucket == "" {
		return fmt.Errorf("s3.bucket is required")
	}
	if s.Key == "" {
		return fmt.Errorf("s3.key is required")
	}
	return nil
}
