package keyforge

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Version is the SDK version reported in the default user agent.
const Version = "0.4.0"

const (
	// DefaultBaseURL is the production license API.
	DefaultBaseURL = "https://keyforge.dev/api"
	// DefaultUserAgent identifies the SDK to the license API.
	DefaultUserAgent = "keyforge-go/" + Version
	// DefaultTimeout bounds a single HTTP round trip.
	DefaultTimeout = 15 * time.Second
	// DefaultRefreshBefore is how long before expiry a valid token is
	// proactively refreshed (3 days).
	DefaultRefreshBefore = 72 * time.Hour
)

// Environment variables read by ConfigFromEnv.
const (
	EnvBaseURL   = "KEYFORGE_BASE_URL"
	EnvUserAgent = "KEYFORGE_USER_AGENT"
	EnvAPIKey    = "KEYFORGE_API_KEY"
)

// Config holds the connection settings shared by Client and Admin.
//
// Fields:
//   - BaseURL: License API base URL, without trailing slash
//   - UserAgent: User-Agent header sent with every request
//   - APIKey: Secret API key; required by Admin, ignored by Client
//   - HTTPClient: HTTP client to use; a client with Timeout is built when nil
//   - Timeout: Per-request timeout for the default HTTP client
//   - Logger: Destination for debug and warning logs; logrus' standard logger when nil
type Config struct {
	BaseURL    string
	UserAgent  string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     logrus.FieldLogger
}

// DefaultConfig returns a Config pointing at the production API.
func DefaultConfig() Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		UserAgent: DefaultUserAgent,
		Timeout:   DefaultTimeout,
	}
}

// ConfigFromEnv returns DefaultConfig overridden by the KEYFORGE_BASE_URL,
// KEYFORGE_USER_AGENT and KEYFORGE_API_KEY environment variables.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.BaseURL = getenv(EnvBaseURL, cfg.BaseURL)
	cfg.UserAgent = getenv(EnvUserAgent, cfg.UserAgent)
	cfg.APIKey = getenv(EnvAPIKey, cfg.APIKey)
	return cfg
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

// normalize fills defaults and validates the configuration.
func (cfg Config) normalize() (Config, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return Config{}, fmt.Errorf("invalid base URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" || parsed.Host == "" {
		return Config{}, fmt.Errorf("invalid base URL %q: must be an absolute http(s) URL", cfg.BaseURL)
	}

	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout < 0 {
		return Config{}, fmt.Errorf("timeout must not be negative")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return cfg, nil
}

// RefreshPolicy controls when ValidateAndRefreshToken contacts the API.
//
// Fields:
//   - RefreshBefore: Window before expiry in which a valid token is refreshed.
//     Zero selects DefaultRefreshBefore; a negative value turns proactive
//     refresh off while still recovering invalid tokens.
//   - DisableRefresh: Never contact the API, e.g. when running offline
type RefreshPolicy struct {
	RefreshBefore  time.Duration
	DisableRefresh bool
}

func (p RefreshPolicy) refreshBefore() time.Duration {
	if p.RefreshBefore == 0 {
		return DefaultRefreshBefore
	}
	return p.RefreshBefore
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithClock replaces the wall clock used for expiry checks.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}
