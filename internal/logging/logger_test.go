package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	return m
}

func TestLogger_FieldsAndErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, zerolog.DebugLevel)

	logger.Warn("Refresh failed", "dataset_id", "sst", "error", errors.New("boom"), "attempt", 3)

	m := decodeLine(t, &buf)
	assert.Equal(t, "warn", m["level"])
	assert.Equal(t, "Refresh failed", m["message"])
	assert.Equal(t, "sst", m["dataset_id"])
	assert.Equal(t, "boom", m["error"])
	assert.Equal(t, float64(3), m["attempt"])
}

func TestLogger_WithAndContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, zerolog.InfoLevel).With("component", "scheduler")

	ctx := WithDatasetID(WithRequestID(context.Background(), "req-1"), "sst")
	logger.WithContext(ctx).Info("Run finished")

	m := decodeLine(t, &buf)
	assert.Equal(t, "scheduler", m["component"])
	assert.Equal(t, "req-1", m["request_id"])
	assert.Equal(t, "sst", m["dataset_id"])
	assert.Equal(t, "req-1", RequestID(ctx))
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, zerolog.WarnLevel)

	logger.Info("hidden")
	assert.Zero(t, buf.Len())
	assert.False(t, logger.Enabled(zerolog.InfoLevel))
	assert.True(t, logger.Enabled(zerolog.ErrorLevel))
}

func TestNopAndGlobal(t *testing.T) {
	nop := NewNop()
	nop.Error("dropped", "error", errors.New("x"))

	prev := Global()
	defer SetGlobal(prev)

	SetGlobal(nop)
	assert.Same(t, nop, Global())
	assert.Same(t, nop, OrGlobal(nil))
	assert.Same(t, nop, FromContext(context.Background()))

	other := NewNop()
	assert.Same(t, other, FromContext(WithLogger(context.Background(), other)))
}
