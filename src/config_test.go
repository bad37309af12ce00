package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envFrom(values map[string]string) func(string) string {
	return func(key string) string {
		return values[key]
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(envFrom(map[string]string{
		"MQTT_USERNAME":    "user",
		"MQTT_PASSWORD":    "pass",
		"MODEWATCH_TOPICS": "b/state, a/state,,b/state",
	}))
	require.NoError(t, err)

	assert.Equal(t, "homeassistant.lan", cfg.Broker)
	assert.Equal(t, "tcp://homeassistant.lan:1883", cfg.BrokerURL())
	assert.Equal(t, []string{"a/state", "b/state"}, cfg.Topics)
	assert.Equal(t, []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute}, cfg.Windows)
	assert.Equal(t, 15*time.Minute, cfg.Retention)
	assert.Equal(t, "modewatch", cfg.Prefix)
	assert.True(t, strings.HasPrefix(cfg.ClientID, "modewatch-"))
	assert.False(t, cfg.Debug)
}

func TestLoadConfig_MissingCredentials(t *testing.T) {
	_, err := LoadConfig(envFrom(map[string]string{
		"MODEWATCH_TOPICS": "a/state",
	}))
	assert.Error(t, err)
}

func TestLoadConfig_NoTopics(t *testing.T) {
	_, err := LoadConfig(envFrom(map[string]string{
		"MQTT_USERNAME": "user",
		"MQTT_PASSWORD": "pass",
	}))
	assert.ErrorContains(t, err, "no topics")
}

func TestLoadConfig_Windows(t *testing.T) {
	tests := []struct {
		name    string
		windows string
		want    []time.Duration
		wantErr bool
	}{
		{"sorted and deduped", "10m, 30s,10m", []time.Duration{30 * time.Second, 10 * time.Minute}, false},
		{"single", "2h", []time.Duration{2 * time.Hour}, false},
		{"bad duration", "ten minutes", nil, true},
		{"negative", "-1m", nil, true},
		{"zero", "0s", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig(envFrom(map[string]string{
				"MQTT_USERNAME":     "user",
				"MQTT_PASSWORD":     "pass",
				"MODEWATCH_TOPICS":  "a/state",
				"MODEWATCH_WINDOWS": tt.windows,
			}))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.Windows)
		})
	}
}

func TestLoadConfig_Retention(t *testing.T) {
	base := map[string]string{
		"MQTT_USERNAME":     "user",
		"MQTT_PASSWORD":     "pass",
		"MODEWATCH_TOPICS":  "a/state",
		"MODEWATCH_WINDOWS": "1m,5m",
	}

	base["MODEWATCH_RETENTION"] = "1h"
	cfg, err := LoadConfig(envFrom(base))
	require.NoError(t, err)
	assert.Equal(t, time.Hour, cfg.Retention)

	base["MODEWATCH_RETENTION"] = "2m"
	_, err = LoadConfig(envFrom(base))
	assert.ErrorContains(t, err, "shorter than largest window")
}

func TestLoadConfig_Port(t *testing.T) {
	env := map[string]string{
		"MQTT_USERNAME":    "user",
		"MQTT_PASSWORD":    "pass",
		"MODEWATCH_TOPICS": "a/state",
		"MQTT_BROKER":      "broker.local",
		"MQTT_PORT":        "8883",
		"MQTT_CLIENT_ID":   "fixed",
		"MODEWATCH_DEBUG":  "1",
	}
	cfg, err := LoadConfig(envFrom(env))
	require.NoError(t, err)
	assert.Equal(t, "tcp://broker.local:8883", cfg.BrokerURL())
	assert.Equal(t, "fixed", cfg.ClientID)
	assert.True(t, cfg.Debug)

	env["MQTT_PORT"] = "http"
	_, err = LoadConfig(envFrom(env))
	assert.Error(t, err)
}

func TestLoadConfig_TopicsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topics.yaml")
	content := `topics:
  - homeassistant/sensor/solar_3_charge_state/state
  - homeassistant/sensor/solar_1_power/state
windows:
  - 30s
  - 2m
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadConfig(envFrom(map[string]string{
		"MQTT_USERNAME":         "user",
		"MQTT_PASSWORD":         "pass",
		"MODEWATCH_TOPICS_FILE": path,
		"MODEWATCH_TOPICS":      "extra/state",
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"extra/state",
		"homeassistant/sensor/solar_1_power/state",
		"homeassistant/sensor/solar_3_charge_state/state",
	}, cfg.Topics)
	assert.Equal(t, []time.Duration{30 * time.Second, 2 * time.Minute}, cfg.Windows)
}

func TestLoadConfig_TopicsFileErrors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("topics: [unterminated"), 0o600))

	for _, path := range []string{bad, filepath.Join(dir, "missing.yaml")} {
		_, err := LoadConfig(envFrom(map[string]string{
			"MQTT_USERNAME":         "user",
			"MQTT_PASSWORD":         "pass",
			"MODEWATCH_TOPICS_FILE": path,
		}))
		assert.Error(t, err, path)
	}
}

func TestLoadConfig_RejectsBadTopics(t *testing.T) {
	tests := []struct {
		name    string
		topics  string
		wantErr string
	}{
		{"single level wildcard", "homeassistant/sensor/+/state", "wildcards"},
		{"multi level wildcard", "homeassistant/sensor/#", "wildcards"},
		{"same sensor name", "site_a/inverter/state,site_b/inverter/state", "both publish as sensor \"inverter\""},
		{"case only difference", "a/Power/state,b/power/state", "both publish"},
		{"empty name", "/", "no sensor name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(envFrom(map[string]string{
				"MQTT_USERNAME":    "user",
				"MQTT_PASSWORD":    "pass",
				"MODEWATCH_TOPICS": tt.topics,
			}))
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoadConfig_DistinctSensorNames(t *testing.T) {
	cfg, err := LoadConfig(envFrom(map[string]string{
		"MQTT_USERNAME":    "user",
		"MQTT_PASSWORD":    "pass",
		"MODEWATCH_TOPICS": "site_a/inverter_a/state,site_b/inverter_b/state",
	}))
	require.NoError(t, err)
	assert.NotEqual(t,
		modeStateTopic(cfg.Prefix, cfg.Topics[0], time.Minute),
		modeStateTopic(cfg.Prefix, cfg.Topics[1], time.Minute))
}
