package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{" error ", zerolog.ErrorLevel},
		{"disabled", zerolog.Disabled},
		{"", zerolog.InfoLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	base := NewTestLogger(&buf)

	id := GenerateRequestID()
	require.Len(t, id, 36)

	ctx := ContextWithRequestID(context.Background(), id)
	assert.Equal(t, id, RequestIDFromContext(ctx))

	With(ctx, base).Info().Msg("hello")
	assert.Contains(t, buf.String(), `"request_id":"`+id+`"`)

	buf.Reset()
	With(context.Background(), base).Info().Msg("hello")
	assert.NotContains(t, buf.String(), "request_id")
	assert.Empty(t, RequestIDFromContext(context.Background()))
}

func TestInitConsole(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "console", Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })

	l := WithComponent("engine")
	l.Debug().Msg("ready")
	assert.Contains(t, buf.String(), "ready")
	assert.Contains(t, buf.String(), "engine")
}

func TestCtxUsesGlobalLogger(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "info", Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })

	ctx := ContextWithRequestID(context.Background(), "req-7")
	Ctx(ctx).Info().Msg("served")
	assert.Contains(t, buf.String(), `"request_id":"req-7"`)
	assert.Contains(t, buf.String(), "served")
}

func TestNewDoesNotTouchGlobal(t *testing.T) {
	var global, local bytes.Buffer
	Init(Config{Level: "info", Output: &global})
	t.Cleanup(func() { Init(DefaultConfig()) })

	l := New(&local)
	l.Info().Msg("cli")
	assert.Contains(t, local.String(), "cli")
	assert.Empty(t, global.String())
}
