package client

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/menta2k/vlm-locate/internal/config"
	perr "github.com/menta2k/vlm-locate/internal/errors"
	"github.com/menta2k/vlm-locate/internal/httpx"
	"github.com/menta2k/vlm-locate/internal/logger"
	"github.com/menta2k/vlm-locate/pkg/chatcompletion"
	"github.com/menta2k/vlm-locate/pkg/ollama"
	"github.com/menta2k/vlm-locate/pkg/qwen"
)

// New builds the named provider from cfg
// A provider whose key env var is unset fails with AuthenticationMissing before any network call.
func New(name string, cfg *config.Config) (VisionClient, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	ep, ok := cfg.Endpoint(name)
	if !ok {
		return nil, perr.Unsupportedf("unknown provider %q (available: %s)", name, strings.Join(Names(cfg), ", "))
	}
	if ep.NeedsKey() && ep.APIKey == "" {
		return nil, perr.Newf(perr.ErrorCodeAuthenticationMissing, "%s: %s is not set", name, ep.APIKeyEnv)
	}

	log := logger.Named("provider." + name)
	opts := retryOptions(name, cfg)
	hc := httpx.NewClient(opts, log)
	// provider.timeout bounds one attempt; the query deadline leaves room for every retry
	timeout := opts.Budget()

	switch ep.Kind {
	case "chat":
		return chatcompletion.NewClient(chatcompletion.Options{
			Name:       name,
			BaseURL:    ep.BaseURL,
			APIKey:     ep.APIKey,
			Model:      ep.Model,
			Timeout:    timeout,
			HTTPClient: hc,
			Logger:     log,
		})
	case "langchain":
		return qwen.NewClient(qwen.Options{
			BaseURL:    ep.BaseURL,
			APIKey:     ep.APIKey,
			Model:      ep.Model,
			Timeout:    timeout,
			HTTPClient: hc,
			Logger:     log,
		})
	case "ollama":
		return ollama.NewClient(ollama.Options{
			URL:        ep.BaseURL,
			Model:      ep.Model,
			Timeout:    timeout,
			HTTPClient: hc,
			Logger:     log,
		})
	default:
		return nil, perr.Unsupportedf("%s: unsupported provider kind %q", name, ep.Kind)
	}
}

func retryOptions(name string, cfg *config.Config) httpx.Options {
	opts := httpx.DefaultOptions(name)
	opts.MaxRetries = cfg.Provider.MaxRetries
	if b := cfg.Provider.RetryBase.Std(); b > 0 {
		opts.RetryBase = b
	}
	if t := cfg.Provider.Timeout.Std(); t > 0 {
		opts.AttemptTimeout = t
	}
	return opts
}

// Names lists every configured provider in a stable order
func Names(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Providers))
	for n := range cfg.Providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Info describes a provider for listings
type Info struct {
	Name      string `json:"name"`
	Model     string `json:"model"`
	Kind      string `json:"kind"`
	Available bool   `json:"available"`
	Default   bool   `json:"default"`
	Reason    string `json:"reason,omitempty"`
}

// Available reports which providers have the credentials they need
// It does not touch the network; use Ping for reachability.
func Available(cfg *config.Config) []Info {
	var out []Info
	for _, name := range Names(cfg) {
		ep := cfg.Providers[name]
		info := Info{Name: name, Model: ep.Model, Kind: ep.Kind, Available: true, Default: name == cfg.Provider.Default}
		if ep.NeedsKey() && ep.APIKey == "" {
			info.Available = false
			info.Reason = ep.APIKeyEnv + " not set"
		}
		out = append(out, info)
	}
	return out
}

// Default builds the preferred provider, falling back to the first available one
func Default(cfg *config.Config, preferred string) (VisionClient, error) {
	if preferred == "" {
		preferred = cfg.Provider.Default
	}
	c, err := New(preferred, cfg)
	if err == nil || !perr.IsCode(err, perr.ErrorCodeAuthenticationMissing) {
		return c, err
	}
	log := logger.Named("client")
	for _, info := range Available(cfg) {
		if !info.Available || info.Name == preferred {
			continue
		}
		if fb, ferr := New(info.Name, cfg); ferr == nil {
			log.Warn().Str("preferred", preferred).Str("using", info.Name).Msg("preferred provider has no credentials, falling back")
			return fb, nil
		}
	}
	return nil, err
}

// Check pings every client concurrently and returns errors by name
func Check(ctx context.Context, clients []VisionClient, timeout time.Duration) map[string]error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type res struct {
		name string
		err  error
	}
	ch := make(chan res, len(clients))
	for _, c := range clients {
		go func(c VisionClient) { ch <- res{c.Name(), c.Ping(ctx)} }(c)
	}
	out := make(map[string]error, len(clients))
	for range clients {
		r := <-ch
		out[r.name] = r.err
	}
	return out
}
