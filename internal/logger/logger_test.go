package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"off":     zerolog.Disabled,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFromAddsQueryID(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithQuery(context.Background(), "q-123")
	From(ctx, &base).Info().Msg("hello")

	if !strings.Contains(buf.String(), `"query_id":"q-123"`) {
		t.Errorf("query id missing from %s", buf.String())
	}
}

func TestFromWithoutQueryReturnsSameLogger(t *testing.T) {
	base := zerolog.Nop()
	if got := From(context.Background(), &base); got != &base {
		t.Error("expected the same logger when ctx has no query id")
	}
	if QueryID(WithQuery(context.Background(), "")) != "" {
		t.Error("empty query id should not be stored")
	}
}

func TestFromAddsRequestAndQueryID(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithQuery(WithRequest(context.Background(), "r-1"), "q-1")
	From(ctx, &base).Info().Msg("hello")

	out := buf.String()
	if !strings.Contains(out, `"request_id":"r-1"`) || !strings.Contains(out, `"query_id":"q-1"`) {
		t.Errorf("ids missing from %s", out)
	}
}
