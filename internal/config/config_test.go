package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	Flags(fs)
	require.NoError(t, fs.Parse(args))
	return Load(fs)
}

func TestLoad_defaults(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := load(t)
	require.NoError(t, err)
	require.Equal(t, "http://127.0.0.1:9222", cfg.DevTools)
	require.Equal(t, "exfilguard.db", cfg.DB)
	require.Equal(t, 200, cfg.AlertCap)
	require.Equal(t, "info", cfg.LogLevel)
	require.Empty(t, cfg.Hosts)
	require.False(t, cfg.NoOverlay)
	require.Equal(t, 50, cfg.Limit)
}

func TestLoad_precedence(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "exfilguard.yaml"), []byte(`
devtools: http://10.0.0.2:9222
db: /var/lib/exfilguard/alerts.db
log_level: warn
hosts:
  - telegram.org
`), 0o600))

	cfg, err := load(t)
	require.NoError(t, err)
	require.Equal(t, "http://10.0.0.2:9222", cfg.DevTools)
	require.Equal(t, "/var/lib/exfilguard/alerts.db", cfg.DB)
	require.Equal(t, "warn", cfg.LogLevel)
	require.Equal(t, []string{"telegram.org"}, cfg.Hosts)

	t.Setenv("EXFILGUARD_LOG_LEVEL", "debug")
	t.Setenv("EXFILGUARD_HOSTS", "telegram.org, api.telegram.org")
	cfg, err = load(t)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, []string{"telegram.org", "api.telegram.org"}, cfg.Hosts)

	cfg, err = load(t, "--log-level", "error", "--no-overlay", "--hosts", "t.me")
	require.NoError(t, err)
	require.Equal(t, "error", cfg.LogLevel)
	require.True(t, cfg.NoOverlay)
	require.Equal(t, []string{"t.me"}, cfg.Hosts)
}

func TestLoad_configFlag(t *testing.T) {
	chdir(t, t.TempDir())
	path := filepath.Join(t.TempDir(), "guard.yaml")
	require.NoError(t, os.WriteFile(path, []byte("target: ABC123\nmetrics_addr: \":9464\"\n"), 0o600))

	cfg, err := load(t, "--config", path)
	require.NoError(t, err)
	require.Equal(t, "ABC123", cfg.Target)
	require.Equal(t, ":9464", cfg.MetricsAddr)

	_, err = load(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoad_errors(t *testing.T) {
	chdir(t, t.TempDir())
	_, err := load(t, "--alert-cap", "0")
	require.Error(t, err)
	_, err = load(t, "--devtools", "")
	require.Error(t, err)
}

// chdir mirrors testing.T.Chdir (Go 1.24+): it changes the working directory
// and restores the previous one when the test finishes.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { require.NoError(t, os.Chdir(prev)) })
}
