// Package httpx holds the HTTP plumbing shared by every provider client
package httpx

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	perr "github.com/menta2k/vlm-locate/internal/errors"
	"github.com/menta2k/vlm-locate/internal/logger"
)

// Options configures retry behaviour
// MaxRetries counts retries after the first attempt, so 2 means at most 3 requests
type Options struct {
	Name           string
	MaxRetries     int
	RetryBase      time.Duration
	MaxBackoff     time.Duration
	AttemptTimeout time.Duration
}

// DefaultOptions mirrors the provider defaults: 3 attempts, 1s base backoff, 30s cap
func DefaultOptions(name string) Options {
	return Options{
		Name:           name,
		MaxRetries:     2,
		RetryBase:      time.Second,
		MaxBackoff:     30 * time.Second,
		AttemptTimeout: 120 * time.Second,
	}
}

// Budget is the longest one request may take across every attempt and wait
// Each wait is counted at MaxBackoff since Retry-After can stretch it that far.
// A zero AttemptTimeout has no bound and yields 0.
func (o Options) Budget() time.Duration {
	if o.AttemptTimeout <= 0 {
		return 0
	}
	retries := max(o.MaxRetries, 0)
	wait := o.MaxBackoff
	if wait <= 0 {
		wait = 30 * time.Second
	}
	return time.Duration(retries+1)*o.AttemptTimeout + time.Duration(retries)*wait
}

// RetryTransport is an http.RoundTripper that retries transient failures
// A per-attempt timeout counts as a transient failure and consumes one attempt
type RetryTransport struct {
	base  http.RoundTripper
	opts  Options
	log   *logger.Logger
	sleep func(context.Context, time.Duration) error
}

// NewRetryTransport wraps base (http.DefaultTransport when nil)
func NewRetryTransport(base http.RoundTripper, opts Options, log *logger.Logger) *RetryTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if log == nil {
		log = logger.Named("httpx")
	}
	return &RetryTransport{base: base, opts: opts, log: log, sleep: sleepCtx}
}

// NewClient returns an *http.Client whose transport retries per opts
// The client itself has no overall timeout; deadlines come from the request context
func NewClient(opts Options, log *logger.Logger) *http.Client {
	return &http.Client{Transport: NewRetryTransport(nil, opts, log)}
}

// RoundTrip implements http.RoundTripper
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	body, err := snapshotBody(req)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeInvalidArgument, "%s: read request body", t.opts.Name)
	}

	parent := req.Context()
	attempt := 0
	for {
		if err := parent.Err(); err != nil {
			return nil, t.parentErr(err, attempt)
		}

		ctx, cancel := parent, context.CancelFunc(func() {})
		if t.opts.AttemptTimeout > 0 {
			ctx, cancel = context.WithTimeout(parent, t.opts.AttemptTimeout)
		}
		r := req.Clone(ctx)
		if body != nil {
			r.Body = io.NopCloser(bytes.NewReader(body))
			r.ContentLength = int64(len(body))
			r.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(body)), nil }
		}

		resp, err := t.base.RoundTrip(r)
		if err != nil {
			cancel()
			if parent.Err() != nil {
				return nil, t.parentErr(parent.Err(), attempt)
			}
			if !t.shouldRetry(attempt) {
				return nil, perr.Wrapf(err, perr.ErrorCodeProviderUnavailable,
					"%s: request failed after %d attempts", t.opts.Name, attempt+1)
			}
			back := t.backoff(attempt)
			t.log.Warn().Err(err).Dur("retry_in", back).Int("attempt", attempt).Msg("transport error retrying")
			if err := t.sleep(parent, back); err != nil {
				return nil, t.parentErr(err, attempt)
			}
			attempt++
			continue
		}

		if retryableStatus(resp.StatusCode) {
			wait := retryAfter(resp.Header, t.opts.MaxBackoff)
			drainAndClose(resp.Body)
			cancel()
			if !t.shouldRetry(attempt) {
				return nil, perr.Unavailablef("%s: upstream status %d after %d attempts",
					t.opts.Name, resp.StatusCode, attempt+1)
			}
			if wait <= 0 {
				wait = t.backoff(attempt)
			}
			t.log.Warn().Int("status", resp.StatusCode).Dur("retry_in", wait).Int("attempt", attempt).Msg("transient status retrying")
			if err := t.sleep(parent, wait); err != nil {
				return nil, t.parentErr(err, attempt)
			}
			attempt++
			continue
		}

		t.log.Debug().Str("method", req.Method).Str("url", req.URL.Redacted()).
			Int("status", resp.StatusCode).Int("attempt", attempt).Msg("provider http response")
		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}
}

// parentErr keeps caller cancellation as is and reports an expired query deadline as the provider's failure
func (t *RetryTransport) parentErr(err error, attempt int) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return perr.Wrapf(err, perr.ErrorCodeProviderUnavailable,
			"%s: query deadline exceeded after %d attempts", t.opts.Name, attempt+1)
	}
	return err
}

func (t *RetryTransport) backoff(attempt int) time.Duration {
	ms := int64(t.opts.RetryBase / time.Millisecond)
	ms = ms << uint(attempt)
	max := int64(t.opts.MaxBackoff / time.Millisecond)
	if ms > max || ms < 0 {
		ms = max
	}
	return time.Duration(ms) * time.Millisecond
}

func (t *RetryTransport) shouldRetry(attempt int) bool {
	return attempt < t.opts.MaxRetries
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// retryAfter honours a Retry-After header given in seconds
func retryAfter(h http.Header, max time.Duration) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if d > max {
		return max
	}
	return d
}

func snapshotBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	return io.ReadAll(req.Body)
}

func drainAndClose(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 64<<10))
	_ = rc.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// cancelOnClose releases the per-attempt context once the caller is done with the body
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
