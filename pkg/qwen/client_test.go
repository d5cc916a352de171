package qwen

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	perr "github.com/menta2k/vlm-locate/internal/errors"
	"github.com/menta2k/vlm-locate/internal/logger"
	"github.com/menta2k/vlm-locate/pkg/types"
)

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(Options{}); !perr.IsCode(err, perr.ErrorCodeAuthenticationMissing) {
		t.Errorf("expected authentication_missing, got %v", err)
	}
}

func TestQuery(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer dash-key" {
			t.Errorf("Authorization = %q", auth)
		}
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","created":1,"model":"qwen-vl-max-0809",` +
			`"choices":[{"index":0,"message":{"role":"assistant","content":"| H | V | ID |\n|---|---|---|\n| 10 | 20 | 1 |"},"finish_reason":"stop"}],` +
			`"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`))
	}))
	defer srv.Close()

	c, err := NewClient(Options{BaseURL: srv.URL, APIKey: "dash-key", HTTPClient: srv.Client(), Logger: logger.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	text, err := c.Query(context.Background(), types.VisionRequest{
		Prompt: "locate the cup", Image: []byte{0x89, 'P', 'N', 'G'}, MIME: "image/png", Temperature: 0.1, MaxTokens: 64,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !strings.Contains(text, "| 10 | 20 | 1 |") {
		t.Errorf("text = %q", text)
	}
	for _, want := range []string{`"qwen-vl-max-0809"`, "data:image/png;base64,", "locate the cup"} {
		if !strings.Contains(body, want) {
			t.Errorf("request body missing %q", want)
		}
	}
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	good, _ := NewClient(Options{BaseURL: srv.URL, APIKey: "good", HTTPClient: srv.Client(), Logger: logger.Nop()})
	if err := good.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	bad, _ := NewClient(Options{BaseURL: srv.URL, APIKey: "bad", HTTPClient: srv.Client(), Logger: logger.Nop()})
	if err := bad.Ping(context.Background()); !perr.IsCode(err, perr.ErrorCodeAuthenticationMissing) {
		t.Errorf("expected authentication_missing, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want perr.ErrorCode
	}{
		{errors.New("API returned unexpected status code: 401: invalid key"), perr.ErrorCodeAuthenticationMissing},
		{errors.New("failed to unmarshal response"), perr.ErrorCodeMalformedUpstreamResponse},
		{errors.New("connection reset"), perr.ErrorCodeProviderUnavailable},
		{perr.Unavailablef("qwen: upstream status 503 after 3 attempts"), perr.ErrorCodeProviderUnavailable},
	}
	for _, tt := range tests {
		if got := perr.CodeOf(classify(tt.err)); got != tt.want {
			t.Errorf("classify(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
