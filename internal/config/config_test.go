package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name        string
		yamlContent string
		check       func(t *testing.T, cfg *Config)
		wantErr     string
	}{
		{
			name: "full_config",
			yamlContent: `server:
  endpoints:
    - http://localhost:8000
    - http://192.168.1.10:8000
  requestTimeout: "15s"
monitor:
  fastTickInterval: "1s"
  slowTickInterval: "3s"
coordinator:
  confirmRetries: 4
  confirmDelay: "500ms"
http:
  address: ":9090"
storage:
  dataDir: "/var/lib/mv-sync"
telemetry:
  enabled: true
  endpoint: "collector:4318"
  insecure: true`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, []string{"http://localhost:8000", "http://192.168.1.10:8000"}, cfg.Server.Endpoints)
				assert.Equal(t, 15*time.Second, cfg.GetRequestTimeout())
				assert.Equal(t, time.Second, cfg.GetFastTickInterval())
				assert.Equal(t, 3*time.Second, cfg.GetSlowTickInterval())
				assert.Equal(t, 4, cfg.GetConfirmRetries())
				assert.Equal(t, 500*time.Millisecond, cfg.GetConfirmDelay())
				assert.Equal(t, ":9090", cfg.GetListenAddress())
				assert.Equal(t, "/var/lib/mv-sync", cfg.GetDataDir())
				require.NotNil(t, cfg.Telemetry)
				assert.True(t, cfg.Telemetry.Enabled)
			},
		},
		{
			name: "minimal_config_uses_defaults",
			yamlContent: `server:
  endpoints:
    - http://localhost:8000`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, DefaultRequestTimeout, cfg.GetRequestTimeout())
				assert.Equal(t, DefaultFastTickInterval, cfg.GetFastTickInterval())
				assert.Equal(t, DefaultSlowTickInterval, cfg.GetSlowTickInterval())
				assert.Equal(t, DefaultConfirmRetries, cfg.GetConfirmRetries())
				assert.Equal(t, DefaultConfirmDelay, cfg.GetConfirmDelay())
				assert.Equal(t, DefaultListenAddress, cfg.GetListenAddress())
				assert.Equal(t, DefaultDataDir, cfg.GetDataDir())
				assert.Nil(t, cfg.Telemetry)
			},
		},
		{
			name:        "missing_endpoints",
			yamlContent: `server: {}`,
			wantErr:     "at least one server endpoint",
		},
		{
			name: "invalid_endpoint_scheme",
			yamlContent: `server:
  endpoints:
    - ftp://localhost:8000`,
			wantErr: "must use http or https",
		},
		{
			name: "invalid_duration",
			yamlContent: `server:
  endpoints:
    - http://localhost:8000
  requestTimeout: "soon"`,
			wantErr: "invalid duration",
		},
		{
			name: "negative_confirm_retries",
			yamlContent: `server:
  endpoints:
    - http://localhost:8000
coordinator:
  confirmRetries: -1`,
			wantErr: "cannot be negative",
		},
		{
			name:        "malformed_yaml",
			yamlContent: `server: [not a map`,
			wantErr:     "failed to parse YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigFile(t, tt.yamlContent)

			cfg, err := LoadConfig(WithConfigPath(path))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}

			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(WithConfigPath(filepath.Join(t.TempDir(), "missing.yaml")))
	require.Error(t, err)
}

func TestWithConfigPath_EmptyPath(t *testing.T) {
	_, err := LoadConfig(WithConfigPath(""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	path := writeConfigFile(t, `server:
  endpoints:
    - http://localhost:8000`)

	t.Setenv("MAILVAULT_SERVER_ENDPOINTS", "http://primary:8000, http://fallback:8000")
	t.Setenv("MAILVAULT_SERVER_REQUEST_TIMEOUT", "20s")
	t.Setenv("MAILVAULT_HTTP_ADDRESS", ":7070")

	cfg, err := LoadConfig(WithConfigPath(path))
	require.NoError(t, err)

	assert.Equal(t, []string{"http://primary:8000", "http://fallback:8000"}, cfg.Server.Endpoints)
	assert.Equal(t, 20*time.Second, cfg.GetRequestTimeout())
	assert.Equal(t, ":7070", cfg.GetListenAddress())
}

func TestLoadConfig_EnvOnly(t *testing.T) {
	t.Setenv("MAILVAULT_SERVER_ENDPOINTS", "http://localhost:8000")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"http://localhost:8000"}, cfg.Server.Endpoints)
}
