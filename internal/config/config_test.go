package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "https://bsky.social", cfg.ATProto.Service)
	require.Equal(t, "dogpark", cfg.ATProto.Namespace)
	require.Equal(t, 15*time.Second, cfg.Publisher.GrantTimeout)
	require.Equal(t, 30*time.Second, cfg.Publisher.UploadFloor)
	require.Equal(t, time.Hour, cfg.Storage.PresignTTL)
	require.Equal(t, 50, cfg.Feed.PageSize)
	require.Equal(t, 12, cfg.Feed.SyntheticSize)
	require.Equal(t, "all", cfg.Feed.Fallback)
	require.Equal(t, int64(25<<20), cfg.Server.MaxUploadBytes)
}

func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ATPARK_BROKER_URL", "https://broker.example")
	t.Setenv("ATPARK_FEED_PAGESIZE", "10")
	t.Setenv("ATPARK_PUBLISHER_GRANTTIMEOUT", "5s")
	t.Setenv("ATPARK_STORAGE_PUBLICBASEURL", "https://cdn.example")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "https://broker.example", cfg.Broker.URL)
	require.Equal(t, 10, cfg.Feed.PageSize)
	require.Equal(t, 5*time.Second, cfg.Publisher.GrantTimeout)
	require.Equal(t, "https://cdn.example", cfg.Storage.PublicBaseURL)
}

func TestLoadRejectsUnknownFallback(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ATPARK_FEED_FALLBACK", "sometimes")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	// registers cleanup for the variable the .env file sets
	t.Setenv("ATPARK_ATPROTO_NAMESPACE", "")
	require.NoError(t, os.Unsetenv("ATPARK_ATPROTO_NAMESPACE"))
	t.Setenv("ATPARK_FEED_SYNTHETICSIZE", "4")

	env := "# local overrides\nATPARK_ATPROTO_NAMESPACE=\"catpark\"\nexport ATPARK_FEED_SYNTHETICSIZE=20\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o600))

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "catpark", cfg.ATProto.Namespace)
	// the process environment wins over .env
	require.Equal(t, 4, cfg.Feed.SyntheticSize)
}
