package config

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }, "http_port"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "sqlite" }, "store.driver"},
		{"mysql without dsn", func(c *Config) { c.Store.Driver = "mysql" }, "store.dsn"},
		{"mysql with dsn", func(c *Config) { c.Store.Driver = "mysql"; c.Store.DSN = "u:p@/db" }, ""},
		{"redis without url", func(c *Config) { c.Redis.Enabled = true }, "redis.url"},
		{"missing gate ids", func(c *Config) { c.Gate.HumanID = 0 }, "gate.agent_id"},
		{"missing scanner", func(c *Config) { c.Scanner.AgentID = -1 }, "scanner.agent_id"},
		{"short heartbeat", func(c *Config) { c.Heartbeat.Enabled = true; c.Heartbeat.Interval = time.Millisecond }, "heartbeat.interval"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"telemetry without endpoint", func(c *Config) { c.Observability.EnableTelemetry = true }, "observability.endpoint"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSecret_NeverLeaks(t *testing.T) {
	s := Secret("hunter2")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.NotContains(t, fmt.Sprintf("%#v", s), "hunter2")

	out, err := json.Marshal(struct{ S Secret }{s})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "hunter2")

	assert.Equal(t, "hunter2", s.Value())
	assert.True(t, s.IsSet())
	assert.Equal(t, "", Secret("").String())
}

func TestSecret_RejectsPlaceholder(t *testing.T) {
	var s Secret
	require.Error(t, json.Unmarshal([]byte(`"[REDACTED]"`), &s))
	require.NoError(t, json.Unmarshal([]byte(`"real"`), &s))
	assert.Equal(t, "real", s.Value())
}

func TestDuration_Text(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	require.Error(t, d.UnmarshalText([]byte("-1s")))
	require.Error(t, d.UnmarshalText([]byte("soon")))

	out, err := json.Marshal(Duration(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, `"1m0s"`, string(out))
}
