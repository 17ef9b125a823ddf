package extract

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Call kinds, used to split latency stats.
const (
	KindPage      = "page"
	KindSynthesis = "synthesis"
)

// Request is one multimodal generation call.
type Request struct {
	Kind     string
	Prompt   string
	Image    []byte // optional
	MIMEType string // defaults to image/jpeg when Image is set
}

func (r Request) imageMIME() string {
	if r.MIMEType != "" {
		return r.MIMEType
	}
	return "image/jpeg"
}

// Generator produces text for a prompt and optional image.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Client wraps a backend with rate limiting, a per-call deadline, latency
// stats, and output cleanup.
type Client struct {
	backend Generator
	model   string
	limiter *rate.Limiter
	timeout time.Duration
	Stats   *LLMStats
}

type ClientOptions struct {
	Model             string
	CallTimeout       time.Duration
	RequestsPerSecond float64 // 0 disables limiting
	Burst             int
}

func NewClient(backend Generator, opts ClientOptions) *Client {
	c := &Client{
		backend: backend,
		model:   opts.Model,
		timeout: opts.CallTimeout,
		Stats:   NewLLMStats(time.Hour),
	}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return c
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter: %w", err)
		}
	}

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := c.backend.Generate(callCtx, req)
	c.Stats.Record(req.Kind, time.Since(start).Milliseconds(), err != nil)

	if err != nil {
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w after %s: %v", ErrCallTimeout, c.timeout, err)
		}
		return "", err
	}
	if req.Kind == KindPage {
		return text, nil
	}
	return CleanOutput(text), nil
}

var fenceRe = regexp.MustCompile("(?s)^```(?:markdown|md)?\\s*\n(.*?)\\s*```$")

// CleanOutput trims the model text and unwraps a response that arrived
// entirely inside a markdown code fence. Page answers are never cleaned;
// they are stored exactly as the model returned them.
func CleanOutput(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return s
}
