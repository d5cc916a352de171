package detection

import (
	"context"
	"strings"

	perr "github.com/menta2k/vlm-locate/internal/errors"
	"github.com/menta2k/vlm-locate/internal/logger"
	"github.com/menta2k/vlm-locate/pkg/client"
	"github.com/menta2k/vlm-locate/pkg/coords"
	"github.com/menta2k/vlm-locate/pkg/types"
)

// Detector asks a vision client where an object is and parses the answer
type Detector struct {
	client      client.VisionClient
	parser      *coords.Parser
	style       Style
	temperature float64
	maxTokens   int
	log         *logger.Logger
}

// Option configures a Detector
type Option func(*Detector)

func WithStyle(s Style) Option { return func(d *Detector) { d.style = s } }
func WithTemperature(t float64) Option { return func(d *Detector) { d.temperature = t } }
func WithMaxTokens(n int) Option { return func(d *Detector) { d.maxTokens = n } }
func WithLogger(l *logger.Logger) Option { return func(d *Detector) { d.log = l } }
func WithParser(p *coords.Parser) Option { return func(d *Detector) { d.parser = p } }

// NewDetector creates a new detector with a vision client
func NewDetector(c client.VisionClient, opts ...Option) *Detector {
	d := &Detector{
		client:      c,
		style:       StyleTable,
		temperature: 0.1,
		maxTokens:   1024,
	}
	for _, o := range opts {
		o(d)
	}
	if d.parser == nil {
		d.parser = coords.MustParser(coords.DefaultOptions())
	}
	if d.log == nil {
		d.log = logger.Named("detection")
	}
	return d
}

// Image is the encoded image as transmitted, plus its sizes
type Image struct {
	Data       []byte
	MIME       string
	Descriptor types.ImageDescriptor
}

// Response is the raw model text and what the parser made of it
// Provider names the client that answered, which for a race is the winner
type Response struct {
	Prompt   string
	Raw      string
	Provider string
	Outcome  types.ParseOutcome
}

// Query sends the prompt for target and returns the model's raw text
// The returned Response is never nil so the prompt survives a failed call.
func (d *Detector) Query(ctx context.Context, target types.TargetObject, img Image) (*Response, error) {
	resp := &Response{Provider: d.client.Name()}
	if target.Name == "" {
		return resp, perr.New(perr.ErrorCodeObjectNotIdentified, "detection: empty target object")
	}
	if len(img.Data) == 0 {
		return resp, perr.InvalidArgf("detection: empty image")
	}
	desc := img.Descriptor
	resp.Prompt = BuildPrompt(d.style, target.Name, desc.TransmittedWidth, desc.TransmittedHeight)

	provider, raw, err := client.Ask(ctx, d.client, types.VisionRequest{
		Prompt:      resp.Prompt,
		Image:       img.Data,
		MIME:        img.MIME,
		Target:      target.Name,
		Width:       desc.TransmittedWidth,
		Height:      desc.TransmittedHeight,
		Temperature: d.temperature,
		MaxTokens:   d.maxTokens,
	})
	if err != nil {
		return resp, perr.Classify(err, perr.ErrorCodeProviderUnavailable, "%s: query failed", d.client.Name())
	}
	resp.Raw, resp.Provider = raw, provider
	logger.From(ctx, d.log).Debug().Str("provider", provider).Int("chars", len(raw)).Msg("provider answered")
	return resp, nil
}

// Parse turns raw model text into candidates in transmitted pixel space
func (d *Detector) Parse(raw string, desc types.ImageDescriptor) types.ParseOutcome {
	return d.parser.Parse(raw, desc.TransmittedWidth, desc.TransmittedHeight)
}

// Detect runs Query then Parse
func (d *Detector) Detect(ctx context.Context, target types.TargetObject, img Image) (*Response, error) {
	resp, err := d.Query(ctx, target, img)
	if err != nil {
		return nil, err
	}
	resp.Outcome = d.Parse(resp.Raw, img.Descriptor)
	return resp, nil
}

// TestVision tests if the model can actually see the image with a simple prompt
func (d *Detector) TestVision(ctx context.Context, img Image) (string, error) {
	text, err := d.client.Query(ctx, types.VisionRequest{
		Prompt:      SimpleTestPrompt,
		Image:       img.Data,
		MIME:        img.MIME,
		Temperature: d.temperature,
		MaxTokens:   256,
	})
	return strings.TrimSpace(text), err
}

// Provider returns the client's name
func (d *Detector) Provider() string { return d.client.Name() }
