// Package chatcompletion talks to OpenAI-compatible chat completion endpoints
// (xAI Grok, Moonshot Kimi, a local llama.cpp server) with an image attached.
package chatcompletion

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	perr "github.com/menta2k/vlm-locate/internal/errors"
	"github.com/menta2k/vlm-locate/internal/httpx"
	"github.com/menta2k/vlm-locate/internal/logger"
	"github.com/menta2k/vlm-locate/pkg/types"
)

const maxResponseBytes = 4 << 20

type Client struct {
	name       string
	baseURL    string
	apiKey     string
	model      string
	timeout    time.Duration
	httpClient *http.Client
	log        *logger.Logger
}

// Options configures a Client; HTTPClient defaults to a retrying client
type Options struct {
	Name       string
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *logger.Logger
}

// OpenAI-compatible message format
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []ContentPart
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

type ChatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage,omitempty"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, perr.InvalidArgf("chatcompletion: base URL is required")
	}
	if opts.Name == "" {
		opts.Name = "chat"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 300 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logger.Named("provider." + opts.Name)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = httpx.NewClient(httpx.DefaultOptions(opts.Name), opts.Logger)
	}
	return &Client{
		name:       opts.Name,
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		model:      opts.Model,
		timeout:    opts.Timeout,
		httpClient: opts.HTTPClient,
		log:        opts.Logger,
	}, nil
}

func (c *Client) Name() string { return c.name }

// Query sends the prompt and image as one user message and returns the first choice's text
func (c *Client) Query(ctx context.Context, vr types.VisionRequest) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	content := []ContentPart{{Type: "text", Text: vr.Prompt}}
	if len(vr.Image) > 0 {
		mime := vr.MIME
		if mime == "" {
			mime = "image/jpeg"
		}
		content = append(content, ContentPart{
			Type:     "image_url",
			ImageURL: &ImageURL{URL: "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(vr.Image)},
		})
	}

	req := ChatCompletionRequest{
		Model:       c.model,
		Messages:    []Message{{Role: "user", Content: content}},
		Temperature: vr.Temperature,
		MaxTokens:   vr.MaxTokens,
		Stream:      false,
	}

	respBody, err := c.sendRequest(ctx, http.MethodPost, "/chat/completions", req)
	if err != nil {
		return "", err
	}

	var resp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", perr.Wrapf(err, perr.ErrorCodeMalformedUpstreamResponse, "%s: failed to parse response", c.name)
	}
	if len(resp.Choices) == 0 {
		return "", perr.Malformedf("%s: no choices in response", c.name)
	}

	text := messageText(resp.Choices[0].Message.Content)
	if strings.TrimSpace(text) == "" {
		return "", perr.Malformedf("%s: no text content in response", c.name)
	}
	c.log.Debug().Str("model", resp.Model).Int("total_tokens", resp.Usage.TotalTokens).
		Str("finish_reason", resp.Choices[0].FinishReason).Msg("chat completion received")
	return text, nil
}

// Ping lists models, which every compatible server exposes and which is cheap
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.sendRequest(ctx, http.MethodGet, "/models", nil)
	return err
}

// messageText handles both string and array content
func messageText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var parts []string
		for _, item := range v {
			if partMap, ok := item.(map[string]any); ok {
				if text, ok := partMap["text"].(string); ok && text != "" {
					parts = append(parts, text)
				}
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

func (c *Client) sendRequest(ctx context.Context, method, endpoint string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeInvalidArgument, "%s: failed to create request", c.name)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, perr.Classify(err, perr.ErrorCodeProviderUnavailable, "%s: failed to send request", c.name)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeProviderUnavailable, "%s: failed to read response", c.name)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, perr.Newf(perr.ErrorCodeAuthenticationMissing, "%s: credentials rejected (status %d)", c.name, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, perr.Unavailablef("%s: server returned status %d: %s", c.name, resp.StatusCode, excerpt(respBody))
	}
	return respBody, nil
}

// excerpt keeps the first 200 runes of an error body
func excerpt(b []byte) string {
	s := []rune(strings.TrimSpace(string(b)))
	if len(s) > 200 {
		return string(s[:200]) + "..."
	}
	return string(s)
}
