package keyforge

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "https://keyforge.dev/api", cfg.BaseURL)
	require.Equal(t, "keyforge-go/"+Version, cfg.UserAgent)
	require.Equal(t, DefaultTimeout, cfg.Timeout)
	require.Empty(t, cfg.APIKey)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv(EnvBaseURL, "http://localhost:3000/api")
	t.Setenv(EnvUserAgent, "my-app/1.0")
	t.Setenv(EnvAPIKey, "sk_env")

	cfg := ConfigFromEnv()
	require.Equal(t, "http://localhost:3000/api", cfg.BaseURL)
	require.Equal(t, "my-app/1.0", cfg.UserAgent)
	require.Equal(t, "sk_env", cfg.APIKey)

	t.Setenv(EnvBaseURL, "   ")
	require.Equal(t, DefaultBaseURL, ConfigFromEnv().BaseURL)
}

func TestConfigNormalize(t *testing.T) {
	t.Run("Fills Defaults", func(t *testing.T) {
		cfg, err := Config{BaseURL: "https://example.com/api/"}.normalize()
		require.NoError(t, err)
		require.Equal(t, "https://example.com/api", cfg.BaseURL)
		require.Equal(t, DefaultUserAgent, cfg.UserAgent)
		require.Equal(t, DefaultTimeout, cfg.Timeout)
		require.NotNil(t, cfg.HTTPClient)
		require.Equal(t, DefaultTimeout, cfg.HTTPClient.Timeout)
		require.NotNil(t, cfg.Logger)
	})

	t.Run("Empty Base URL", func(t *testing.T) {
		cfg, err := Config{}.normalize()
		require.NoError(t, err)
		require.Equal(t, DefaultBaseURL, cfg.BaseURL)
	})

	t.Run("Keeps HTTP Client", func(t *testing.T) {
		hc := &http.Client{Timeout: time.Second}
		cfg, err := Config{HTTPClient: hc}.normalize()
		require.NoError(t, err)
		require.Same(t, hc, cfg.HTTPClient)
	})

	t.Run("Invalid", func(t *testing.T) {
		for _, cfg := range []Config{
			{BaseURL: "keyforge.dev/api"},
			{BaseURL: "ftp://keyforge.dev"},
			{BaseURL: "https://"},
			{BaseURL: "https://keyforge.dev", Timeout: -time.Second},
		} {
			_, err := cfg.normalize()
			require.Error(t, err, "config %+v", cfg)
		}
	})

	t.Run("NewClient Rejects", func(t *testing.T) {
		_, err := NewClient(Config{BaseURL: "::not a url"})
		require.Error(t, err)
	})
}

func TestRefreshPolicyDefaults(t *testing.T) {
	require.Equal(t, 72*time.Hour, RefreshPolicy{}.refreshBefore())
	require.Equal(t, time.Hour, RefreshPolicy{RefreshBefore: time.Hour}.refreshBefore())
	require.Equal(t, -time.Second, RefreshPolicy{RefreshBefore: -time.Second}.refreshBefore())
	require.False(t, RefreshPolicy{}.DisableRefresh)
}

func TestNewClientDropsAPIKey(t *testing.T) {
	api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"isValid": false})
	})

	cfg := DefaultConfig()
	cfg.BaseURL = api.server.URL
	cfg.APIKey = "sk_secret"
	cfg.UserAgent = "custom-agent/2"
	cfg.Logger = testLogger()

	client, err := NewClient(cfg)
	require.NoError(t, err)

	_, err = client.ValidateLicense(context.Background(), ValidateLicenseParams{LicenseKey: "k"})
	require.NoError(t, err)

	req := api.lastRequest(t)
	require.Empty(t, req.header.Get("Authorization"))
	require.Equal(t, "custom-agent/2", req.header.Get("User-Agent"))
}
