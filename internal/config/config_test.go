package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	perr "github.com/menta2k/vlm-locate/internal/errors"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Parser.LenientFactor != 2.0 {
		t.Errorf("lenient factor = %v, want 2.0", cfg.Parser.LenientFactor)
	}
	for _, name := range []string{"grok", "qwen", "llava", "kimi", "llamacpp"} {
		if _, ok := cfg.Endpoint(name); !ok {
			t.Errorf("missing provider %q", name)
		}
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown default", func(c *Config) { c.Provider.Default = "nope" }, "provider.default"},
		{"unknown race member", func(c *Config) { c.Provider.Race = []string{"grok", "nope"} }, "provider.race"},
		{"bad quality", func(c *Config) { c.Image.SendQuality = 0 }, "send_quality"},
		{"zero min dim", func(c *Config) { c.Image.MinDim = 0 }, "min_dim"},
		{"bad lenient factor", func(c *Config) { c.Parser.LenientFactor = 0.5 }, "lenient_factor"},
		{"bad tts", func(c *Config) { c.Speech.TTS = "morse" }, "tts"},
		{"bad kind", func(c *Config) {
			ep := c.Providers["grok"]
			ep.Kind = "carrier-pigeon"
			c.Providers["grok"] = ep
		}, "kind"},
		{"zero timeout", func(c *Config) { c.Provider.Timeout = 0 }, "timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !perr.IsCode(err, perr.ErrorCodeInvalidArgument) {
				t.Fatalf("expected invalid_argument, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	cfg.ApplyEnv(MapEnv(map[string]string{
		"VLM_DEFAULT_PROVIDER": "Qwen",
		"VLM_IMAGE_WIDTH":      "800",
		"VLM_IMAGE_HEIGHT":     "600",
		"VLM_LENIENT_FACTOR":   "3.5",
		"VLM_ENABLE_TTS":       "yes",
		"VLM_DEBUG":            "1",
		"VLM_RACE":             "grok, qwen",
		"VLM_TIMEOUT":          "45s",
		"VLM_LLAVA_BASE_URL":   "http://gpu-box:11434",
		"DASHSCOPE_API_KEY":    "  secret  ",
		"DEEPGRAM_API_KEY":     "dg",
	}))

	if cfg.Provider.Default != "qwen" {
		t.Errorf("default = %q", cfg.Provider.Default)
	}
	if cfg.Image.SendMaxDim != 800 {
		t.Errorf("send max dim = %d", cfg.Image.SendMaxDim)
	}
	if cfg.Parser.LenientFactor != 3.5 {
		t.Errorf("lenient factor = %v", cfg.Parser.LenientFactor)
	}
	if cfg.Speech.TTS != "command" || !cfg.Debug {
		t.Errorf("tts=%q debug=%v", cfg.Speech.TTS, cfg.Debug)
	}
	if len(cfg.Provider.Race) != 2 || cfg.Provider.Race[1] != "qwen" {
		t.Errorf("race = %v", cfg.Provider.Race)
	}
	if cfg.Provider.Timeout.Std() != 45*time.Second {
		t.Errorf("timeout = %v", cfg.Provider.Timeout.Std())
	}
	if ep, _ := cfg.Endpoint("qwen"); ep.APIKey != "secret" {
		t.Errorf("qwen key = %q", ep.APIKey)
	}
	if ep, _ := cfg.Endpoint("llava"); ep.BaseURL != "http://gpu-box:11434" {
		t.Errorf("llava base url = %q", ep.BaseURL)
	}
	if ep, _ := cfg.Endpoint("grok"); ep.APIKey != "" {
		t.Errorf("grok key should be empty, got %q", ep.APIKey)
	}
	if cfg.Speech.DeepgramKey != "dg" {
		t.Errorf("deepgram key = %q", cfg.Speech.DeepgramKey)
	}
}

func TestSaveAndLoadKeepsSecretsOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := Default()
	ep := cfg.Providers["grok"]
	ep.APIKey = "xai-very-secret"
	cfg.Providers["grok"] = ep
	cfg.Parser.DedupDistance = 4
	cfg.Provider.Timeout = Duration(90 * time.Second)

	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "xai-very-secret") {
		t.Fatal("api key was written to disk")
	}
	if !strings.Contains(string(data), `"1m30s"`) {
		t.Errorf("timeout not written as a duration string:\n%s", data)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if loaded.Parser.DedupDistance != 4 || loaded.Provider.Timeout.Std() != 90*time.Second {
		t.Errorf("loaded = %+v", loaded.Parser)
	}
}

func TestLoadFromFilePartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"provider":{"default":"llava","timeout":30}}`), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider.Default != "llava" || cfg.Provider.Timeout.Std() != 30*time.Second {
		t.Errorf("provider = %+v", cfg.Provider)
	}
	if cfg.Image.SendMaxDim != 1024 {
		t.Errorf("image defaults lost: %+v", cfg.Image)
	}
}

func TestLoadExplicitMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for an explicit missing config file")
	}
}

func TestGetConfigPath(t *testing.T) {
	if p := GetConfigPath(); !strings.HasSuffix(p, filepath.Join("vlm-locate", "config.json")) {
		t.Errorf("GetConfigPath() = %q", p)
	}
}
