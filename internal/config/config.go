package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	perr "github.com/menta2k/vlm-locate/internal/errors"
	"github.com/menta2k/vlm-locate/internal/validate"
)

// Config holds the application configuration
type Config struct {
	Provider   ProviderConfig            `json:"provider"`
	Providers  map[string]EndpointConfig `json:"providers" validate:"required,dive"`
	Image      ImageConfig               `json:"image"`
	Parser     ParserConfig              `json:"parser"`
	Annotation AnnotationConfig          `json:"annotation"`
	Speech     SpeechConfig              `json:"speech"`
	Output     OutputConfig              `json:"output"`
	Server     ServerConfig              `json:"server"`
	Debug      bool                      `json:"debug"`
}

// ProviderConfig selects providers and bounds their retries
type ProviderConfig struct {
	Default    string   `json:"default" validate:"required"`
	Race       []string `json:"race,omitempty"`
	Timeout    Duration `json:"timeout"`
	MaxRetries int      `json:"max_retries" validate:"min=0,max=10"`
	RetryBase  Duration `json:"retry_base"`
}

// EndpointConfig describes one vision provider
// Kind is the wire protocol: chat (OpenAI-compatible), langchain or ollama
type EndpointConfig struct {
	Kind        string  `json:"kind" validate:"oneof=chat langchain ollama"`
	BaseURL     string  `json:"base_url" validate:"required,url"`
	Model       string  `json:"model" validate:"required"`
	APIKeyEnv   string  `json:"api_key_env,omitempty"`
	Prompt      string  `json:"prompt,omitempty" validate:"omitempty,oneof=table bbox"`
	Temperature float64 `json:"temperature" validate:"min=0,max=2"`
	MaxTokens   int     `json:"max_tokens" validate:"min=1"`

	// APIKey is resolved from APIKeyEnv and never written to disk
	APIKey string `json:"-"`
}

// NeedsKey reports whether the endpoint requires a credential
func (e EndpointConfig) NeedsKey() bool { return e.APIKeyEnv != "" }

// ImageConfig controls what is sent to providers and what is written back
type ImageConfig struct {
	MinDim         int    `json:"min_dim" validate:"min=1"`
	SendFormat     string `json:"send_format" validate:"oneof=jpg png"`
	SendMaxDim     int    `json:"send_max_dim" validate:"min=0"`
	SendQuality    int    `json:"send_quality" validate:"min=1,max=100"`
	OutputFormat   string `json:"output_format" validate:"oneof=jpg png webp"`
	OutputQuality  int    `json:"output_quality" validate:"min=1,max=100"`
	OutputLossless bool   `json:"output_lossless"`
}

// ParserConfig tunes coordinate parsing
type ParserConfig struct {
	LenientFactor   float64  `json:"lenient_factor" validate:"gte=1"`
	RatioEpsilon    float64  `json:"ratio_epsilon" validate:"gte=1,lte=2"`
	DedupDistance   float64  `json:"dedup_distance" validate:"gte=0"`
	NotFoundPhrases []string `json:"not_found_phrases,omitempty"`
}

// AnnotationConfig controls markers drawn on results
type AnnotationConfig struct {
	StarSize  int  `json:"star_size" validate:"min=0"`
	Labels    bool `json:"labels"`
	Crosshair bool `json:"crosshair"`
}

// SpeechConfig selects text-to-speech and speech-to-text backends
type SpeechConfig struct {
	TTS           string `json:"tts" validate:"oneof=none command deepgram"`
	DeepgramModel string `json:"deepgram_model"`
	STT           string `json:"stt" validate:"oneof=none assemblyai"`

	DeepgramKey   string `json:"-"`
	AssemblyAIKey string `json:"-"`
}

// OutputConfig holds configuration for output generation
type OutputConfig struct {
	Dir       string `json:"dir" validate:"required"`
	Suffix    string `json:"suffix"`
	WriteJSON bool   `json:"write_json"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr           string   `json:"addr" validate:"required"`
	AllowedOrigins []string `json:"allowed_origins"`
	MaxUploadMB    int      `json:"max_upload_mb" validate:"min=1,max=100"`
}

// Duration is a time.Duration written as "30s" in JSON
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(time.Duration(d).String()) }

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int64
		if err2 := json.Unmarshal(b, &n); err2 != nil {
			return fmt.Errorf("duration must be a string like \"30s\": %w", err)
		}
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			Default:    "grok",
			Timeout:    Duration(120 * time.Second),
			MaxRetries: 2,
			RetryBase:  Duration(time.Second),
		},
		Providers: map[string]EndpointConfig{
			"grok": {
				Kind:        "chat",
				BaseURL:     "https://api.x.ai/v1",
				Model:       "grok-4-0709",
				APIKeyEnv:   "XAI_API_KEY",
				Prompt:      "table",
				Temperature: 0.1,
				MaxTokens:   1024,
			},
			"qwen": {
				Kind:        "langchain",
				BaseURL:     "https://dashscope.aliyuncs.com/compatible-mode/v1",
				Model:       "qwen-vl-max-0809",
				APIKeyEnv:   "DASHSCOPE_API_KEY",
				Prompt:      "table",
				Temperature: 0.1,
				MaxTokens:   1024,
			},
			"kimi": {
				Kind:        "chat",
				BaseURL:     "https://api.moonshot.cn/v1",
				Model:       "moonshot-v1-8k-vision-preview",
				APIKeyEnv:   "MOONSHOT_API_KEY",
				Prompt:      "table",
				Temperature: 0.1,
				MaxTokens:   1024,
			},
			"llava": {
				Kind:        "ollama",
				BaseURL:     "http://localhost:11434",
				Model:       "llava",
				Prompt:      "bbox",
				Temperature: 0.1,
				MaxTokens:   512,
			},
			"llamacpp": {
				Kind:        "chat",
				BaseURL:     "http://localhost:8080/v1",
				Model:       "local",
				Prompt:      "table",
				Temperature: 0.1,
				MaxTokens:   1024,
			},
		},
		Image: ImageConfig{
			MinDim:        8,
			SendFormat:    "jpg",
			SendMaxDim:    1024,
			SendQuality:   85,
			OutputFormat:  "jpg",
			OutputQuality: 90,
		},
		Parser: ParserConfig{
			LenientFactor: 2.0,
			RatioEpsilon:  1.05,
			DedupDistance: 10,
		},
		Annotation: AnnotationConfig{
			Labels:    true,
			Crosshair: true,
		},
		Speech: SpeechConfig{
			TTS:           "none",
			DeepgramModel: "aura-asteria-en",
			STT:           "none",
		},
		Output: OutputConfig{
			Dir:       "./output",
			Suffix:    "_located",
			WriteJSON: true,
		},
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"*"},
			MaxUploadMB:    16,
		},
	}
}

// Load reads path when it exists, otherwise starts from Default, then applies env
// An empty path means GetConfigPath
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = GetConfigPath()
	}

	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		loaded, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else if explicit {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg.ApplyEnv(NewEnv())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a JSON file on top of the defaults
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ApplyEnv overlays VLM_* overrides and resolves secrets
func (c *Config) ApplyEnv(env Env) {
	vlm := env.Prefix("VLM_")
	c.Provider.Default = strings.ToLower(vlm.Get("DEFAULT_PROVIDER", c.Provider.Default))
	if race := vlm.Get("RACE", ""); race != "" {
		c.Provider.Race = splitList(race)
	}
	c.Provider.MaxRetries = vlm.GetInt("MAX_RETRIES", c.Provider.MaxRetries)
	c.Provider.Timeout = Duration(vlm.GetDuration("TIMEOUT", c.Provider.Timeout.Std()))

	// IMAGE_WIDTH and IMAGE_HEIGHT bound the transmitted size; the larger wins as the long side
	w := vlm.GetInt("IMAGE_WIDTH", 0)
	h := vlm.GetInt("IMAGE_HEIGHT", 0)
	if w > 0 || h > 0 {
		c.Image.SendMaxDim = max(w, h)
	}
	c.Parser.LenientFactor = vlm.GetFloat("LENIENT_FACTOR", c.Parser.LenientFactor)

	if vlm.GetBool("ENABLE_TTS", false) && c.Speech.TTS == "none" {
		c.Speech.TTS = "command"
	}
	if vlm.GetBool("ENABLE_VOICE", false) && c.Speech.STT == "none" {
		c.Speech.STT = "assemblyai"
	}
	c.Debug = vlm.GetBool("DEBUG", c.Debug)
	c.Server.Addr = vlm.Get("SERVER_ADDR", c.Server.Addr)
	c.Output.Dir = vlm.Get("OUTPUT_DIR", c.Output.Dir)

	for name, ep := range c.Providers {
		if ep.APIKeyEnv != "" {
			ep.APIKey = env.Get(ep.APIKeyEnv, "")
		}
		ep.BaseURL = env.Prefix("VLM_"+strings.ToUpper(name)+"_").Get("BASE_URL", ep.BaseURL)
		ep.Model = env.Prefix("VLM_"+strings.ToUpper(name)+"_").Get("MODEL", ep.Model)
		c.Providers[name] = ep
	}
	c.Speech.DeepgramKey = env.Get("DEEPGRAM_API_KEY", "")
	c.Speech.AssemblyAIKey = env.Get("ASSEMBLYAI_API_KEY", "")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if _, ok := c.Providers[c.Provider.Default]; !ok {
		return perr.InvalidArgf("provider.default %q is not a configured provider", c.Provider.Default)
	}
	for _, name := range c.Provider.Race {
		if _, ok := c.Providers[name]; !ok {
			return perr.InvalidArgf("provider.race names unknown provider %q", name)
		}
	}
	if c.Provider.Timeout.Std() <= 0 {
		return perr.InvalidArgf("provider.timeout must be positive")
	}
	if c.Provider.RetryBase.Std() < 0 {
		return perr.InvalidArgf("provider.retry_base must not be negative")
	}
	return nil
}

// Endpoint returns the named provider's settings
func (c *Config) Endpoint(name string) (EndpointConfig, bool) {
	ep, ok := c.Providers[strings.ToLower(name)]
	return ep, ok
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "vlm-locate", "config.json")
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Env is a namespaced view over environment variables (e.g. "VLM_")
type Env struct {
	prefix string
	lookup func(string) string
}

// NewEnv reads the process environment
func NewEnv() Env { return Env{lookup: os.Getenv} }

// MapEnv reads from m, for tests
func MapEnv(m map[string]string) Env {
	return Env{lookup: func(k string) string { return m[k] }}
}

// Prefix returns a child Env with an additional prefix
func (e Env) Prefix(p string) Env { return Env{prefix: e.prefix + p, lookup: e.lookup} }

// Get returns the trimmed variable or def when empty
func (e Env) Get(key, def string) string {
	v := strings.TrimSpace(e.lookup(e.prefix + key))
	if v == "" {
		return def
	}
	return v
}

// GetBool parses "1|true|yes" with default fallback
func (e Env) GetBool(key string, def bool) bool {
	v := strings.ToLower(e.Get(key, ""))
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "yes"
}

// GetInt parses an integer; anything unparsable yields def
func (e Env) GetInt(key string, def int) int {
	n, err := strconv.Atoi(e.Get(key, ""))
	if err != nil {
		return def
	}
	return n
}

// GetFloat parses a float; anything unparsable yields def
func (e Env) GetFloat(key string, def float64) float64 {
	f, err := strconv.ParseFloat(e.Get(key, ""), 64)
	if err != nil {
		return def
	}
	return f
}

// GetDuration parses "250ms", "2s" and the like; anything unparsable yields def
func (e Env) GetDuration(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(e.Get(key, ""))
	if err != nil {
		return def
	}
	return d
}
