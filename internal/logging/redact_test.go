package logging

import (
	"testing"
	"time"

	"github.com/fyrsmithlabs/crewgate/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func encode(t *testing.T, enc zapcore.Encoder, fields ...zap.Field) string {
	t.Helper()
	buf, err := enc.EncodeEntry(zapcore.Entry{Message: "m", Time: time.Unix(0, 0)}, fields)
	require.NoError(t, err)
	return buf.String()
}

func TestRedactingEncoder_Fields(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	out := encode(t, enc,
		zap.String("dsn", "crew:pw@tcp(db:3306)/crewgate"),
		zap.String("Operator_Secret", "hunter2"),
		zap.String("skill", "summarize"),
	)
	assert.NotContains(t, out, "crew:pw")
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, `"skill":"summarize"`)
}

func TestRedactingEncoder_Patterns(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	out := encode(t, enc,
		zap.String("header", "Bearer abc.def.ghi"),
		zap.String("target", "redis://user:pw@cache:6379/0"),
	)
	assert.NotContains(t, out, "abc.def.ghi")
	assert.NotContains(t, out, "user:pw")
	assert.Contains(t, out, "[REDACTED:pattern]")
}

func TestRedactingEncoder_Disabled(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{})
	require.NoError(t, err)

	out := encode(t, enc, zap.String("token", "visible"))
	assert.Contains(t, out, "visible")
}

func TestRedactingEncoder_CloneKeepsRules(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	clone := enc.Clone()
	clone.AddString("token", "abc")
	out := encode(t, clone)
	assert.NotContains(t, out, `"abc"`)
}

func TestSecretField(t *testing.T) {
	f := Secret("dsn", config.Secret("0123456789"))
	assert.Equal(t, "[REDACTED:10]", f.String)
}
