package ollama

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	perr "github.com/menta2k/vlm-locate/internal/errors"
	"github.com/menta2k/vlm-locate/internal/httpx"
	"github.com/menta2k/vlm-locate/internal/logger"
	"github.com/menta2k/vlm-locate/pkg/types"
)

// Client wraps the Ollama API client for LLaVA-style models
type Client struct {
	client  *api.Client
	model   string
	timeout time.Duration
	log     *logger.Logger
}

type Options struct {
	URL        string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *logger.Logger
}

// NewClient creates a new Ollama client
func NewClient(opts Options) (*Client, error) {
	if opts.URL == "" {
		opts.URL = "http://localhost:11434"
	}
	parsedURL, err := url.Parse(opts.URL)
	if err != nil || parsedURL.Host == "" {
		return nil, perr.InvalidArgf("ollama: invalid URL %q", opts.URL)
	}
	// the api client appends /api/... itself, so drop any path like /api/chat
	baseURL := &url.URL{Scheme: parsedURL.Scheme, Host: parsedURL.Host}

	if opts.Model == "" {
		opts.Model = "llava"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 300 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logger.Named("provider.llava")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = httpx.NewClient(httpx.DefaultOptions("llava"), opts.Logger)
	}

	return &Client{
		client:  api.NewClient(baseURL, opts.HTTPClient),
		model:   opts.Model,
		timeout: opts.Timeout,
		log:     opts.Logger,
	}, nil
}

func (c *Client) Name() string { return "llava" }

// Query runs one non-streaming chat turn with the image attached
func (c *Client) Query(ctx context.Context, vr types.VisionRequest) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	msg := api.Message{Role: "user", Content: vr.Prompt}
	if len(vr.Image) > 0 {
		msg.Images = []api.ImageData{api.ImageData(vr.Image)}
	}

	options := map[string]any{"temperature": vr.Temperature}
	if vr.MaxTokens > 0 {
		options["num_predict"] = vr.MaxTokens
	}

	streamFalse := false
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: []api.Message{msg},
		Stream:   &streamFalse,
		Options:  options,
	}

	var sb strings.Builder
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		sb.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", ctx.Err()
		}
		return "", classify(err)
	}

	text := sb.String()
	if strings.TrimSpace(text) == "" {
		return "", perr.Malformedf("llava: empty response from ollama")
	}
	return text, nil
}

// Ping checks the server is up and the model is pulled
func (c *Client) Ping(ctx context.Context) error {
	list, err := c.client.List(ctx)
	if err != nil {
		return classify(err)
	}
	for _, m := range list.Models {
		name := m.Name
		if name == c.model || strings.TrimSuffix(name, ":latest") == c.model {
			return nil
		}
	}
	return perr.Unavailablef("llava: model %q is not pulled on the ollama server", c.model)
}

func classify(err error) error {
	if _, ok := perr.As(err); ok {
		return perr.Classify(err, perr.ErrorCodeProviderUnavailable, "llava: request failed")
	}
	var se api.StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusNotFound:
			return perr.Wrap(err, perr.ErrorCodeProviderUnavailable, "llava: model not found")
		case se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden:
			return perr.Wrap(err, perr.ErrorCodeAuthenticationMissing, "llava: unauthorized")
		}
	}
	return perr.Wrap(err, perr.ErrorCodeProviderUnavailable, "llava: ollama chat error")
}
