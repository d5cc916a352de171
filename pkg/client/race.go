package client

import (
	"context"
	"strings"

	perr "github.com/menta2k/vlm-locate/internal/errors"
	"github.com/menta2k/vlm-locate/pkg/types"
)

// Race queries several providers at once and keeps the first answer
// The losers are cancelled. If every provider fails the last error is returned.
type Race struct {
	clients []VisionClient
	name    string
}

// FirstOf returns a VisionClient racing clients; a single client is returned as is
func FirstOf(clients ...VisionClient) VisionClient {
	if len(clients) == 1 {
		return clients[0]
	}
	names := make([]string, len(clients))
	for i, c := range clients {
		names[i] = c.Name()
	}
	return &Race{clients: clients, name: strings.Join(names, "|")}
}

func (r *Race) Name() string { return r.name }

type raceResult struct {
	name string
	text string
	err  error
}

func (r *Race) Query(ctx context.Context, req types.VisionRequest) (string, error) {
	_, text, err := r.Answer(ctx, req)
	return text, err
}

// Answer is Query that also names the provider whose answer won
func (r *Race) Answer(ctx context.Context, req types.VisionRequest) (provider, text string, err error) {
	if len(r.clients) == 0 {
		return "", "", perr.InvalidArgf("race: no providers")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := make(chan raceResult, len(r.clients))
	for _, c := range r.clients {
		go func(c VisionClient) {
			name, text, err := Ask(ctx, c, req)
			ch <- raceResult{name: name, text: text, err: err}
		}(c)
	}

	var lastErr error
	for range r.clients {
		res := <-ch
		if res.err == nil {
			return res.name, res.text, nil
		}
		lastErr = res.err
	}
	return "", "", lastErr
}

// Ping succeeds when any member is reachable
func (r *Race) Ping(ctx context.Context) error {
	var lastErr error
	for _, c := range r.clients {
		err := c.Ping(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = perr.InvalidArgf("race: no providers")
	}
	return lastErr
}
