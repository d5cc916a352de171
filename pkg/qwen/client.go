// Package qwen queries Alibaba's Qwen-VL models through DashScope's OpenAI-compatible mode
package qwen

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	perr "github.com/menta2k/vlm-locate/internal/errors"
	"github.com/menta2k/vlm-locate/internal/httpx"
	"github.com/menta2k/vlm-locate/internal/logger"
	"github.com/menta2k/vlm-locate/pkg/types"
)

// DefaultBaseURL is DashScope's compatible-mode endpoint
const DefaultBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"

type Client struct {
	llm        *openai.LLM
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	log        *logger.Logger
}

type Options struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *logger.Logger
}

func NewClient(opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, perr.New(perr.ErrorCodeAuthenticationMissing, "qwen: DASHSCOPE_API_KEY is not set")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Model == "" {
		opts.Model = "qwen-vl-max-0809"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 300 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logger.Named("provider.qwen")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = httpx.NewClient(httpx.DefaultOptions("qwen"), opts.Logger)
	}

	llm, err := openai.New(
		openai.WithToken(opts.APIKey),
		openai.WithBaseURL(opts.BaseURL),
		openai.WithModel(opts.Model),
		openai.WithHTTPClient(opts.HTTPClient),
	)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeInvalidArgument, "qwen: failed to create client")
	}
	return &Client{
		llm:        llm,
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		timeout:    opts.Timeout,
		httpClient: opts.HTTPClient,
		log:        opts.Logger,
	}, nil
}

func (c *Client) Name() string { return "qwen" }

// Query sends the image first and the prompt second, the order Qwen-VL expects
func (c *Client) Query(ctx context.Context, vr types.VisionRequest) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var parts []llms.ContentPart
	if len(vr.Image) > 0 {
		mime := vr.MIME
		if mime == "" {
			mime = "image/jpeg"
		}
		parts = append(parts, llms.ImageURLPart("data:"+mime+";base64,"+base64.StdEncoding.EncodeToString(vr.Image)))
	}
	parts = append(parts, llms.TextPart(vr.Prompt))

	opts := []llms.CallOption{llms.WithTemperature(vr.Temperature)}
	if vr.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(vr.MaxTokens))
	}

	resp, err := c.llm.GenerateContent(ctx, []llms.MessageContent{
		{Role: llms.ChatMessageTypeHuman, Parts: parts},
	}, opts...)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", ctx.Err()
		}
		return "", classify(err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", perr.Malformedf("qwen: no choices in response")
	}
	text := resp.Choices[0].Content
	if strings.TrimSpace(text) == "" {
		return "", perr.Malformedf("qwen: empty response")
	}
	c.log.Debug().Str("stop_reason", resp.Choices[0].StopReason).Msg("qwen response received")
	return text, nil
}

// Ping lists models on the compatible-mode endpoint
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeInvalidArgument, "qwen: failed to create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return perr.Classify(err, perr.ErrorCodeProviderUnavailable, "qwen: ping failed")
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return perr.Newf(perr.ErrorCodeAuthenticationMissing, "qwen: credentials rejected (status %d)", resp.StatusCode)
	case resp.StatusCode >= 300:
		return perr.Unavailablef("qwen: ping returned status %d", resp.StatusCode)
	}
	return nil
}

// classify maps langchaingo's flattened errors back onto our codes
func classify(err error) error {
	if _, ok := perr.As(err); ok {
		return perr.Classify(err, perr.ErrorCodeProviderUnavailable, "qwen: request failed")
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "401"), strings.Contains(msg, "403"):
		return perr.Wrap(err, perr.ErrorCodeAuthenticationMissing, "qwen: credentials rejected")
	case strings.Contains(msg, "unmarshal"), strings.Contains(msg, "decode"):
		return perr.Wrap(err, perr.ErrorCodeMalformedUpstreamResponse, "qwen: malformed response")
	default:
		return perr.Wrap(err, perr.ErrorCodeProviderUnavailable, "qwen: request failed")
	}
}
