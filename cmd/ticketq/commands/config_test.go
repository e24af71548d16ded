package commands

import (
	"context"
	"os"
	"path/filepath"
	"payticket-backend/internal/queueclient"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFile(t *testing.T) {
	config, err := LoadConfig(filepath.Join(t.TempDir(), "ticketq.json5"))
	require.NoError(t, err)
	require.Equal(t, "", config.Server.Store)
	require.False(t, historyEnabled(config.History))
}

func TestLoadConfigMergesLocal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ticketq.json5")
	require.NoError(t, os.WriteFile(path, []byte(`{
		// shared settings
		queue: { base_url: "http://queue:3000", timeout_seconds: 90, poll_interval_seconds: 0.5 },
		server: { store: "memory", lease_seconds: 5 },
		smtp: { server: "smtp.example.com", report_to: ["ops@example.com"] },
	}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ticketq.local.json5"), []byte(`{
		server: { store: "redis" },
		history: { file: "history.db" },
	}`), 0644))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "redis", config.Server.Store)
	require.Equal(t, 5.0, config.Server.LeaseSeconds)
	require.Equal(t, "smtp.example.com", config.Smtp.Server)
	require.Equal(t, []string{"ops@example.com"}, config.Smtp.ReportTo)
	require.True(t, historyEnabled(config.History))

	options := config.Queue.options()
	require.Equal(t, "http://queue:3000", options.BaseUrl)
	require.Equal(t, 90*time.Second, options.Timeout)
	require.Equal(t, 500*time.Millisecond, options.PollInterval)
	require.Equal(t, queueclient.RouteTicket, options.StatusRoute)
}

func TestLoadConfigRejectsUnknownStatusRoute(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ticketq.json5")
	require.NoError(t, os.WriteFile(path, []byte(`{ queue: { status_route: "results" } }`), 0644))

	_, err := LoadConfig(path)
	require.ErrorContains(t, err, "queue.status_route")

	require.NoError(t, os.WriteFile(path, []byte(`{ queue: { status_route: "/result" } }`), 0644))
	config, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, queueclient.RouteResult, config.Queue.options().StatusRoute)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://cache:6379/1")
	t.Setenv("SMTP_PASSWORD", "hunter2")

	config, err := LoadConfig(filepath.Join(t.TempDir(), "ticketq.json5"))
	require.NoError(t, err)
	require.Equal(t, "redis://cache:6379/1", config.Server.RedisUrl)
	require.Equal(t, "hunter2", config.Smtp.Password)
}

func TestOpenStoreRejectsUnknownKind(t *testing.T) {
	_, _, err := openStore(context.Background(), "postgres")
	require.ErrorContains(t, err, "unknown store")
}

func TestNewProviderRequiresConfiguration(t *testing.T) {
	cfg = Config{}
	t.Setenv("PORTAL_API_TOKEN", "")

	_, err := newProvider("api", nil)
	require.ErrorContains(t, err, "token_server")
	_, err = newProvider("page", nil)
	require.ErrorContains(t, err, "renderer_url")
	_, err = newProvider("scraper", nil)
	require.ErrorContains(t, err, "unknown provider")

	t.Setenv("PORTAL_API_TOKEN", "token")
	_, err = newProvider("api", nil)
	require.NoError(t, err)
}
