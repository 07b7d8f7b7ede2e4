package logger

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"WARNING", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"off", zerolog.Disabled},
		{"", zerolog.InfoLevel},
		{"  nonsense ", zerolog.InfoLevel},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ParseLevel(c.in), "ParseLevel(%q)", c.in)
	}
}

func TestInitNamedAndRequestFields(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{
		Level:        "debug",
		Format:       "json",
		Service:      "pawl-test",
		Writer:       &buf,
		StaticFields: map[string]string{"build": "test"},
	})

	Named("search").Info().Msg("named-msg")

	ctx := WithRequest(context.Background(), "req-123", "alice")
	assert.Equal(t, "req-123", RequestID(ctx))
	C(ctx).Info().Msg("ctx-msg")
	C(context.Background()).Debug().Msg("bare-msg")

	out := buf.String()
	assert.Contains(t, out, `"component":"search"`)
	assert.Contains(t, out, `"request_id":"req-123"`)
	assert.Contains(t, out, `"user":"alice"`)
	assert.Contains(t, out, `"service":"pawl-test"`)
	assert.Contains(t, out, `"build":"test"`)
	assert.Contains(t, out, "bare-msg")
	assert.Same(t, Get(), Get())
}
