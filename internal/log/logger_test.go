package log

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLoggerComponentNotDuplicated(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: slog.LevelDebug, Output: &buf}).WithComponent(ComponentRates)

	l.Info("rate refreshed", FieldRate, 48.1)
	out := buf.String()
	if strings.Count(out, "component=") != 1 || !strings.Contains(out, "component=rates") {
		t.Fatalf("unexpected output: %q", out)
	}

	buf.Reset()
	l.Info("explicit", FieldComponent, ComponentHTTP)
	if strings.Count(buf.String(), "component=") != 1 || !strings.Contains(buf.String(), "component=http") {
		t.Fatalf("explicit component should win: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestMiddlewareAddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Output: &buf})

	h := Middleware(l, func(r *http.Request) string { return "req-1" })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).Info("inside")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if !strings.Contains(buf.String(), "request_id=req-1") {
		t.Fatalf("expected request id in log, got %q", buf.String())
	}
}

func TestFromContextDefault(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatalf("expected fallback logger")
	}
}
