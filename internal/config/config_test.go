package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "smswatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadGridMode(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
source:
  mode: grid
  login_url: https://panel.example.com/login
  data_url: https://panel.example.com/messages
  username: watcher
  password: hunter2
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "grid", cfg.Source.Mode)
	require.Equal(t, 1000, cfg.Ledger.Cap)
	require.Equal(t, 5, cfg.Session.ReconnectMax)
	require.Equal(t, 15, cfg.Poll.FetchTimeoutSec)
	require.Equal(t, 300, cfg.Liveness.StalenessSec)
}

func TestLoadRestMode(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
source:
  mode: rest
  rest:
    endpoint: https://gw.example.com/api/messages
    token: secret
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "rest", cfg.Source.Mode)
	require.Equal(t, 100, cfg.Source.REST.PerPage)
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
source:
  mode: carrier-pigeon
`)

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "source.mode")
}

func TestValidateRejectsMissingCredentials(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
source:
  mode: grid
  login_url: https://panel.example.com/login
  data_url: https://panel.example.com/messages
`)

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "username")
}

func TestValidateRejectsStalenessBelowInterval(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
source:
  mode: rest
  rest:
    endpoint: https://gw.example.com/api/messages
    token: secret
poll:
  interval_seconds: 600
`)

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "staleness")
}

func TestValidateRejectsTelegramWithoutChatIDs(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
source:
  mode: rest
  rest:
    endpoint: https://gw.example.com/api/messages
    token: secret
channels:
  telegram:
    enabled: true
    token: bot-token
`)

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "telegram")
}
