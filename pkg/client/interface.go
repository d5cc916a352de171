package client

import (
	"context"

	"github.com/menta2k/vlm-locate/pkg/types"
)

// VisionClient is one vision-language provider
// Query returns the model's raw text answer; interpreting it is the parser's job
type VisionClient interface {
	Name() string
	Query(ctx context.Context, req types.VisionRequest) (string, error)
	Ping(ctx context.Context) error
}

// Answerer is a client that forwards to other providers and reports which one answered
type Answerer interface {
	Answer(ctx context.Context, req types.VisionRequest) (provider, text string, err error)
}

// Ask queries c and names the provider that produced the text
func Ask(ctx context.Context, c VisionClient, req types.VisionRequest) (provider, text string, err error) {
	if a, ok := c.(Answerer); ok {
		return a.Answer(ctx, req)
	}
	text, err = c.Query(ctx, req)
	return c.Name(), text, err
}
