package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SridarDhandapani/onvif"
)

const sampleConfig = `
server:
  listen: "127.0.0.1:9090"
log:
  level: debug
  pretty: true
ptz:
  stop_delay: 500ms
  timeout: 3s
cameras:
  - name: lobby
    host: 203.0.113.9
    port: 8899
    username: admin
    password: secret
  - name: yard
    host: 192.168.1.20
    rtsp_url: rtsp://192.168.1.20:554/live
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ptz.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Listen)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Pretty)
	assert.Equal(t, 500*time.Millisecond, cfg.PTZ.StopDelay)
	assert.Equal(t, 3*time.Second, cfg.PTZ.Timeout)

	require.Len(t, cfg.Cameras, 2)
	assert.Equal(t, onvif.DeviceAddress{Host: "203.0.113.9", Port: 8899, Username: "admin", Password: "secret"}, cfg.Cameras[0].Address())
	assert.Equal(t, 80, cfg.Cameras[1].Port, "port defaults to 80")
	assert.Equal(t, "yard (192.168.1.20:80)", cfg.Cameras[1].String())

	cam, ok := cfg.Camera("yard")
	require.True(t, ok)
	assert.Equal(t, "rtsp://192.168.1.20:554/live", cam.RTSPURL)

	_, ok = cfg.Camera("garage")
	assert.False(t, ok)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, onvif.DefaultStopDelay, cfg.PTZ.StopDelay)
	assert.Equal(t, onvif.DefaultTimeout, cfg.PTZ.Timeout)
	assert.Empty(t, cfg.Cameras)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PTZ_LISTEN", ":7070")
	t.Setenv("PTZ_LOG_LEVEL", "warn")
	t.Setenv("PTZ_STOP_DELAY", "250")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Listen)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 250*time.Millisecond, cfg.PTZ.StopDelay)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "server: [not, a, map]"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "cameras:\n  - name: a\n    host: h\n  - name: a\n    host: h2\n"))
	assert.True(t, errors.Is(err, errors.AlreadyExists))
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Cameras = []Camera{{Name: "lobby", Host: "203.0.113.9", Port: 80}}
		return cfg
	}

	testCases := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "bad listen", mutate: func(c *Config) { c.Server.Listen = "8080" }, want: errors.NotValid},
		{name: "bad level", mutate: func(c *Config) { c.Log.Level = "loud" }, want: errors.NotValid},
		{name: "zero stop delay", mutate: func(c *Config) { c.PTZ.StopDelay = 0 }, want: errors.NotValid},
		{name: "negative timeout", mutate: func(c *Config) { c.PTZ.Timeout = -time.Second }, want: errors.NotValid},
		{name: "camera without name", mutate: func(c *Config) { c.Cameras[0].Name = "" }, want: errors.NotValid},
		{name: "camera without host", mutate: func(c *Config) { c.Cameras[0].Host = "" }, want: errors.NotValid},
		{name: "camera port out of range", mutate: func(c *Config) { c.Cameras[0].Port = 70000 }, want: errors.NotValid},
		{name: "duplicate camera", mutate: func(c *Config) { c.Cameras = append(c.Cameras, c.Cameras[0]) }, want: errors.AlreadyExists},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestGetEnvAsDurationOrDefault(t *testing.T) {
	t.Setenv("PTZ_TEST_DURATION", "2s")
	assert.Equal(t, 2*time.Second, getEnvAsDurationOrDefault("PTZ_TEST_DURATION", time.Second))

	t.Setenv("PTZ_TEST_DURATION", "1500")
	assert.Equal(t, 1500*time.Millisecond, getEnvAsDurationOrDefault("PTZ_TEST_DURATION", time.Second))

	t.Setenv("PTZ_TEST_DURATION", "soon")
	assert.Equal(t, time.Second, getEnvAsDurationOrDefault("PTZ_TEST_DURATION", time.Second))

	assert.Equal(t, time.Minute, getEnvAsDurationOrDefault("PTZ_TEST_UNSET", time.Minute))
}

func TestLogger(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "warn"
	assert.Equal(t, zerolog.WarnLevel, cfg.Logger().GetLevel())
}
