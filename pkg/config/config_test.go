package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
log:
  level: debug
  format: json
metrics:
  listen: ":9200"
dispatch:
  partitions: 8
rtp:
  local_address: 10.0.0.5
  min_port: 30000
  max_port: 30100
  payload_types: [8, 101]
signals:
  default_attempts: 3
  pre_speech_timer: 5s
  timeout: 1m
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mediagw.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, ":9200", cfg.Metrics.Listen)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, 8, cfg.Dispatch.Partitions)
	assert.Equal(t, 256, cfg.Dispatch.QueueSize)
	assert.Equal(t, []int{8, 101}, cfg.RTP.PayloadTypes)
	assert.Equal(t, 3, cfg.Signals.DefaultAttempts)
	assert.Equal(t, 5*time.Second, cfg.Signals.PreSpeechTimer)
	assert.Equal(t, 2*time.Second, cfg.Signals.PostSpeechTimer)
	assert.Equal(t, time.Minute, cfg.Signals.Timeout)

	sess, err := cfg.Session()
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", sess.LocalAddress)
	assert.Equal(t, 30000, sess.Ports.Min)
	assert.Equal(t, []uint8{8, 101}, sess.PayloadTypes)
	assert.Equal(t, 3, cfg.Settings().Attempts)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("MEDIAGW_LOG_LEVEL", "error")
	t.Setenv("MEDIAGW_RTP_MAX_PORT", "30200")
	t.Setenv("MEDIAGW_SIGNALS_POST_SPEECH_TIMER", "750ms")

	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, 30200, cfg.RTP.MaxPort)
	assert.Equal(t, 750*time.Millisecond, cfg.Signals.PostSpeechTimer)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "rtp:\n  min_port: 100\n"))
	assert.ErrorContains(t, err, "rtp")

	_, err = Load(writeConfig(t, "log:\n  format: xml\n"))
	assert.ErrorContains(t, err, "log")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.RTP.PayloadTypes = []int{200}
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Metrics.Path = "metrics"
	assert.Error(t, cfg.Validate())

	cfg.Metrics.Enabled = false
	assert.NoError(t, cfg.Validate())

	cfg = Default()
	cfg.Signals.DefaultAttempts = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Dispatch.Partitions = 0
	assert.Error(t, cfg.Validate())
}

func TestCodecSessionName(t *testing.T) {
	cfg := Default()
	cfg.RTP.SessionName = "ivr"
	assert.Equal(t, "ivr", cfg.Codec().SessionName)
}
