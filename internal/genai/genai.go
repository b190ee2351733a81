// Package genai provides GenAI-enhanced operations using the OpenAI API.
//
// The Client wraps every remote call with a per-attempt timeout, exponential
// backoff retry, and typed errors distinguishing remote failures from
// malformed responses.
package genai

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// Default configuration values.
const (
	DefaultModel         = "gpt-4o-mini"
	DefaultHighTierModel = "gpt-4o"
	DefaultTimeout       = 30 * time.Second
	DefaultMaxRetries    = 3
	DefaultBackoffBase   = 500 * time.Millisecond
)

// chatService defines the minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// openAIChatService adapts the official SDK client to chatService.
type openAIChatService struct {
	client openai.Client
}

func (s *openAIChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// ClientInterface defines the generation operations used by the flow layer.
type ClientInterface interface {
	Generate(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, opts GenerateOptions) (string, error)
}

// GenerateOptions carries the per-call generation parameters.
type GenerateOptions struct {
	SystemPrompt        string
	HighTier            bool // select the high-tier model
	Temperature         float64
	MaxCompletionTokens int64
	JSONResponse        bool // request a structured (JSON object) response
}

// Client wraps the OpenAI chat completion service with resilience.
type Client struct {
	chat          chatService
	model         string
	highTierModel string
	timeout       time.Duration
	maxRetries    int
	backoffBase   time.Duration
	sleep         func(time.Duration) // injectable for tests
}

// Opts holds configuration values for the client.
type Opts struct {
	APIKey        string
	Model         string
	HighTierModel string
	Timeout       time.Duration
	MaxRetries    int
	BackoffBase   time.Duration
}

// Option configures the client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key, overriding the environment variable.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the low-tier model used for routine generations.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithHighTierModel sets the model used when a call requests the high tier.
func WithHighTierModel(model string) Option {
	return func(o *Opts) { o.HighTierModel = model }
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithMaxRetries sets the maximum number of attempts per call.
func WithMaxRetries(n int) Option {
	return func(o *Opts) { o.MaxRetries = n }
}

// WithBackoffBase sets the initial backoff delay; the delay doubles per attempt.
func WithBackoffBase(d time.Duration) Option {
	return func(o *Opts) { o.BackoffBase = d }
}

// NewClient initializes a new GenAI client. The API key is taken from the
// options or the OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Model:         DefaultModel,
		HighTierModel: DefaultHighTierModel,
		Timeout:       DefaultTimeout,
		MaxRetries:    DefaultMaxRetries,
		BackoffBase:   DefaultBackoffBase,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		slog.Error("genai.NewClient: OPENAI_API_KEY not set")
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}

	cli := openai.NewClient(option.WithAPIKey(apiKey))
	slog.Debug("genai.NewClient: client created", "model", cfg.Model, "highTierModel", cfg.HighTierModel, "timeout", cfg.Timeout, "maxRetries", cfg.MaxRetries)
	return &Client{
		chat:          &openAIChatService{client: cli},
		model:         cfg.Model,
		highTierModel: cfg.HighTierModel,
		timeout:       cfg.Timeout,
		maxRetries:    cfg.MaxRetries,
		backoffBase:   cfg.BackoffBase,
		sleep:         time.Sleep,
	}, nil
}

// Generate issues a chat completion with retry and backoff and returns the
// raw text of the first choice. Each attempt races the remote call against
// the configured timeout; a timed-out attempt counts as a remote failure but
// the remote side is left to finish on its own.
func (c *Client) Generate(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, opts GenerateOptions) (string, error) {
	params := c.buildParams(messages, opts)

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff: base, 2*base, 4*base, ...
			delay := c.backoffBase << (attempt - 1)
			slog.Debug("genai.Generate: backing off before retry", "attempt", attempt+1, "delay", delay)
			c.sleep(delay)
		}

		text, err := c.attempt(ctx, params)
		if err == nil {
			slog.Debug("genai.Generate: succeeded", "attempt", attempt+1, "responseLength", len(text))
			return text, nil
		}
		lastErr = err
		slog.Warn("genai.Generate: attempt failed", "attempt", attempt+1, "maxRetries", c.maxRetries, "error", err)

		if !IsRetryable(err) {
			return "", err
		}
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
	}

	return "", &RemoteError{Attempts: c.maxRetries, Err: lastErr}
}

// attempt issues one bounded remote call.
func (c *Client) attempt(ctx context.Context, params openai.ChatCompletionNewParams) (string, error) {
	type result struct {
		resp openai.ChatCompletion
		err  error
	}
	done := make(chan result, 1)

	go func() {
		resp, err := c.chat.Create(ctx, params)
		done <- result{resp: resp, err: err}
	}()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			return "", fmt.Errorf("chat completion failed: %w", r.err)
		}
		if len(r.resp.Choices) == 0 {
			return "", fmt.Errorf("no choices returned")
		}
		return r.resp.Choices[0].Message.Content, nil
	case <-timer.C:
		return "", fmt.Errorf("chat completion timed out after %s", c.timeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// buildParams assembles the completion parameters for one call.
func (c *Client) buildParams(messages []openai.ChatCompletionMessageParamUnion, opts GenerateOptions) openai.ChatCompletionNewParams {
	all := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if opts.SystemPrompt != "" {
		all = append(all, openai.SystemMessage(opts.SystemPrompt))
	}
	all = append(all, messages...)

	model := c.model
	if opts.HighTier {
		model = c.highTierModel
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: all,
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(opts.Temperature)
	}
	if opts.MaxCompletionTokens > 0 {
		params.MaxCompletionTokens = openai.Int(opts.MaxCompletionTokens)
	}
	if opts.JSONResponse {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params
}
