package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithServer_WritesGroupAndServerFields(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	Setup("debug", "production")

	WithServer("lobby", "abc").Info("server started")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "lobby", entry["group"])
	assert.Equal(t, "abc", entry["server_id"])
	assert.Equal(t, "server started", entry["msg"])
}

func TestTraceIDRoundTripsThroughContext(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-1")
	assert.Equal(t, "trace-1", TraceIDFromContext(ctx))
	assert.Empty(t, TraceIDFromContext(context.Background()))
}

func TestFromContext_AddsTraceID(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	Setup("info", "production")

	FromContext(WithTraceID(context.Background(), "trace-2")).Info("handled")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "trace-2", entry["trace_id"])

	buf.Reset()
	FromContext(context.Background()).Info("plain")
	entry = map[string]interface{}{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.NotContains(t, entry, "trace_id")
}
