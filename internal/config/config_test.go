package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.HTTPAddress())
	require.Equal(t, "/ocpp/", cfg.WSBasePath())
	require.Equal(t, []string{"ocpp2.0.1", "ocpp2.0", "ocpp1.6"}, cfg.AcceptedProtocols())
	require.Nil(t, cfg.RegistryAllowList())
	require.Equal(t, 90*time.Second, cfg.IdleTimeout())
	require.Equal(t, 15*time.Second, cfg.WriteTimeout())
	require.Equal(t, 30*time.Second, cfg.PingInterval())
	require.Equal(t, 5, cfg.ViolationLimit())
	require.Equal(t, 30*time.Second, cfg.CommandTimeout())
	require.Equal(t, time.Second, cfg.SweepInterval())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("GATEWAY_HTTP_PORT", "9090")
	t.Setenv("GATEWAY_WS_BASE_PATH", "/charge")
	t.Setenv("GATEWAY_WS_PROTOCOLS", "ocpp2.0.1, ocpp1.6")
	t.Setenv("GATEWAY_WS_IDLE_TIMEOUT", "120")
	t.Setenv("GATEWAY_WS_VIOLATION_LIMIT", "3")
	t.Setenv("GATEWAY_REGISTRY_ALLOW_LIST", "cp-1, cp-2")
	t.Setenv("GATEWAY_COMMAND_TIMEOUT", "10")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, ":9090", cfg.HTTPAddress())
	require.Equal(t, "/charge/", cfg.WSBasePath())
	require.Equal(t, []string{"ocpp2.0.1", "ocpp1.6"}, cfg.AcceptedProtocols())
	require.Equal(t, 120*time.Second, cfg.IdleTimeout())
	require.Equal(t, 3, cfg.ViolationLimit())
	require.Equal(t, []string{"cp-1", "cp-2"}, cfg.RegistryAllowList())
	require.Equal(t, 10*time.Second, cfg.CommandTimeout())
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	content := `
http:
  port: "8181"
device:
  basePath: /ws/
  protocols: ocpp2.0.1
redis:
  addr: localhost:6379
registry:
  allowList: cp-9
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, ":8181", cfg.HTTPAddress())
	require.Equal(t, "/ws/", cfg.WSBasePath())
	require.Equal(t, []string{"ocpp2.0.1"}, cfg.AcceptedProtocols())
	require.Equal(t, "localhost:6379", cfg.Redis.Addr)
	require.Equal(t, []string{"cp-9"}, cfg.RegistryAllowList())
}

func TestEnvBeatsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http:\n  port: \"8181\"\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("GATEWAY_HTTP_PORT", "9999")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9999", cfg.HTTPAddress())
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := Load()
	require.Error(t, err)
}
