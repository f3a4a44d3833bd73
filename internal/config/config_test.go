package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "visiontrigger.yaml")
	yamlDoc := `
trigger:
  target_label: bottle
  threshold: 0.2
  cooldown: 5s
actuation:
  hold: 0s
link:
  transport: mqtt
  peer: pico-1
  backoff:
    initial: 1s
    max: 30s
    multiplier: 2
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "bottle", cfg.Trigger.TargetLabel)
	assert.InDelta(t, 0.2, cfg.Trigger.Threshold, 1e-6)
	assert.Equal(t, 5*time.Second, cfg.Trigger.Cooldown)
	assert.Equal(t, time.Duration(0), cfg.Actuation.Hold)
	assert.Equal(t, "mqtt", cfg.Link.Transport)
	assert.Equal(t, 30*time.Second, cfg.Link.Backoff.Max)

	// untouched sections keep their defaults
	assert.Equal(t, "toggle\r\n", cfg.Actuation.Command)
	assert.Equal(t, 10*time.Second, cfg.Link.ConnectTimeout)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Trigger.Threshold = 1.5
	cfg.Link.Transport = "zigbee"
	cfg.Trigger.TargetLabel = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trigger.threshold")
	assert.Contains(t, err.Error(), "link.transport")
	assert.Contains(t, err.Error(), "trigger.target_label")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
