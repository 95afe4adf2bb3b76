package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sbnet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SBNET_CONFIG", "")
	cfg, err := Load(writeConfig(t, "app_name: demo\n"))
	require.NoError(t, err)

	assert.Equal(t, "demo", cfg.AppName)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, []string{"stdout"}, cfg.Log.Outputs)
	assert.Equal(t, RoleServer, cfg.Node.Role)
	assert.Equal(t, ":7777", cfg.Node.Bind)
	assert.Equal(t, 500*time.Millisecond, cfg.Net.DialBackoffInitial())
	assert.Equal(t, time.Second, cfg.Net.SweepInterval())
	assert.Equal(t, 16<<20, cfg.Net.MaxFrameBytes)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  format: json
node:
  label: edge-1
  role: CLIENT
  transport: QUIC
  connect: "10.0.0.2:7777"
  server_label: core
net:
  check_interval_ms: 2000
  send_queue_depth: 8
  require_signed: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, NodeConfig{
		Label:       "edge-1",
		Role:        RoleClient,
		Transport:   "quic",
		Bind:        ":7777",
		Connect:     "10.0.0.2:7777",
		ServerLabel: "core",
	}, cfg.Node)
	assert.Equal(t, 2*time.Second, cfg.Net.CheckInterval())
	assert.Equal(t, 8, cfg.Net.SendQueueDepth)
	assert.True(t, cfg.Net.RequireSigned)
	// untouched keys keep their defaults
	assert.Equal(t, 5*time.Second, cfg.Net.CheckTimeout())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SBNET_LOG_LEVEL", "warn")
	t.Setenv("SBNET_NODE_LABEL", "from-env")
	t.Setenv("SBNET_NET_REQUEST_TIMEOUT_MS", "1500")

	cfg, err := Load(writeConfig(t, "app_name: demo\n"))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "from-env", cfg.Node.Label)
	assert.Equal(t, 1500*time.Millisecond, cfg.Net.RequestTimeout())
}

func TestConfigEnvPath(t *testing.T) {
	t.Setenv("SBNET_CONFIG", writeConfig(t, "app_name: via-env\n"))
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "via-env", cfg.AppName)
}

func TestValidation(t *testing.T) {
	cases := map[string]string{
		"log level":      "log:\n  level: loud\n",
		"role":           "node:\n  role: relay\n",
		"client connect": "node:\n  role: client\n",
		"server bind":    "node:\n  bind: \"\"\n",
		"backoff":        "net:\n  dial_backoff_initial_ms: 100\n  dial_backoff_max_ms: 10\n",
		"sweep":          "net:\n  sweep_interval_ms: 0\n",
		"tiny max frame": "net:\n  max_frame_bytes: 4\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestMemNodeNeedsNoAddress(t *testing.T) {
	cfg, err := Load(writeConfig(t, "node:\n  role: client\n  transport: mem\n"))
	require.NoError(t, err)
	assert.Equal(t, "mem", cfg.Node.Transport)
}

func TestMustLoadPanics(t *testing.T) {
	assert.Panics(t, func() { MustLoad(writeConfig(t, "log:\n  level: loud\n")) })
}
