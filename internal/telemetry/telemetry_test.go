package telemetry

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/crewgate/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)

	assert.False(t, tel.IsEnabled())
	assert.Nil(t, tel.LoggerProvider())
	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.Equal(t, HealthStatus{Healthy: true}, tel.Health())
	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Protocol = "udp"

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"disabled ignores fields", func(c *Config) { c.Endpoint = "" }, false},
		{"enabled local insecure", func(c *Config) { c.Enabled = true }, false},
		{"remote insecure", func(c *Config) { c.Enabled = true; c.Endpoint = "otel.example.com:4317" }, true},
		{"remote secure", func(c *Config) {
			c.Enabled = true
			c.Endpoint = "https://otel.example.com"
			c.Insecure = false
			c.Protocol = "http/protobuf"
		}, false},
		{"bad rate", func(c *Config) { c.Enabled = true; c.SampleRate = 2 }, true},
		{"no endpoint", func(c *Config) { c.Enabled = true; c.Endpoint = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			if tt.wantErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(config.ObservabilityConfig{
		EnableTelemetry: true,
		ServiceName:     "crewgate-test",
		Endpoint:        "127.0.0.1:4318",
		Protocol:        "http/protobuf",
		Insecure:        true,
	}, "1.2.3")

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "crewgate-test", cfg.ServiceName)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.Equal(t, "http/protobuf", cfg.Protocol)
	require.NoError(t, cfg.Validate())
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "host:4318", stripScheme("https://host:4318"))
	assert.Equal(t, "host:4318", stripScheme("http://host:4318"))
	assert.Equal(t, "host:4318", stripScheme("host:4318"))
}

func TestUserAgent(t *testing.T) {
	assert.Equal(t, "crewgate/1.2.3", userAgent(&Config{ServiceName: "crewgate", ServiceVersion: "1.2.3"}))
}

func TestIsLocalEndpoint(t *testing.T) {
	assert.True(t, isLocalEndpoint("localhost:4317"))
	assert.True(t, isLocalEndpoint("127.0.0.1:4317"))
	assert.True(t, isLocalEndpoint("http://10.1.2.3:4318"))
	assert.True(t, isLocalEndpoint("collector.local"))
	assert.False(t, isLocalEndpoint("otel.example.com:4317"))
}

func TestTestTelemetry(t *testing.T) {
	tel := NewTestTelemetry()
	ctx := context.Background()

	_, span := tel.Tracer("gate").Start(ctx, "gate.AssessDelivery")
	span.SetAttributes(attribute.String("decision", "deliver"))
	span.End()

	tel.AssertSpanExists(t, "gate.AssessDelivery")
	tel.AssertSpanAttribute(t, "gate.AssessDelivery", "decision", "deliver")

	counter, err := tel.Meter("gate").Int64Counter("crewgate.gate.decisions")
	require.NoError(t, err)
	counter.Add(ctx, 2, metricAttr("type", "deliver"))
	counter.Add(ctx, 1, metricAttr("type", "queue"))

	assert.Equal(t, int64(3), tel.CounterValue(t, "crewgate.gate.decisions"))
	assert.Equal(t, int64(2), tel.CounterValue(t, "crewgate.gate.decisions", attribute.String("type", "deliver")))
}

func metricAttr(k, v string) metric.AddOption {
	return metric.WithAttributes(attribute.String(k, v))
}
