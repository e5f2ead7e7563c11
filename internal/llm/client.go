// Package llm provides the provider-independent text-generation client used
// by every component that talks to a language model. It wraps an Eino
// ChatModel (constructed by the provider package) with per-call timeouts, an
// exponential-backoff retry policy for transient upstream failures, a
// circuit breaker that fast-fails when the provider is down, and a
// structured-output mode that decodes and validates JSON responses.
//
// Selecting a different backend never changes the contract of this package.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/sony/gobreaker"

	"github.com/DevjeetSahu/agriquery-go/internal/fault"
	"github.com/DevjeetSahu/agriquery-go/internal/logging"
)

// Default per-call timeouts and retry policy. The retry values follow the
// standard policy used across the core: up to 3 attempts with exponential
// backoff starting at 500ms and capped at 4s.
const (
	DefaultGenerateTimeout   = 30 * time.Second
	DefaultStructuredTimeout = 45 * time.Second

	DefaultRetryMax    = 3
	DefaultRetryBaseMS = 500
	DefaultRetryCapMS  = 4000
)

// Params are the per-call generation parameters. A nil *Params means all
// defaults. Zero-valued fields inherit the client defaults.
type Params struct {
	// Temperature controls response randomness. Nil inherits the model default.
	Temperature *float32
	// MaxTokens caps the number of generated tokens. Zero inherits the model default.
	MaxTokens int
	// Timeout bounds the whole call including retries. Zero selects the
	// client default (30s free-text, 45s structured).
	Timeout time.Duration
	// Stop lists sequences that terminate generation early.
	Stop []string
}

// Validator is implemented by structured-output targets that carry their own
// semantic constraints beyond JSON well-formedness. GenerateStructured calls
// Validate after decoding and treats a non-nil result as a schema violation.
type Validator interface {
	Validate() error
}

// Config holds the construction parameters for a Client.
type Config struct {
	// ChatModel is the backend constructed by the provider factory.
	ChatModel model.BaseChatModel
	// RetryMax is the maximum number of attempts per call. Defaults to 3.
	RetryMax int
	// RetryBase is the initial backoff interval. Defaults to 500ms.
	RetryBase time.Duration
	// RetryCap is the maximum backoff interval. Defaults to 4s.
	RetryCap time.Duration
	// BreakerName labels the circuit breaker in logs. Defaults to "llm".
	BreakerName string
}

// Client is the provider-agnostic LLM client. It is safe for concurrent use.
type Client struct {
	// chat is the underlying Eino chat model.
	chat model.BaseChatModel
	// breaker trips after consecutive provider failures so saturated or dead
	// upstreams fail fast with UpstreamBusy instead of burning timeouts.
	breaker *gobreaker.CircuitBreaker
	// retryMax, retryBase, retryCap parameterize the backoff policy.
	retryMax  int
	retryBase time.Duration
	retryCap  time.Duration
}

// New constructs a Client from the given config.
func New(cfg *Config) (*Client, error) {
	if cfg == nil || cfg.ChatModel == nil {
		return nil, fmt.Errorf("llm: ChatModel must not be nil")
	}

	retryMax := cfg.RetryMax
	if retryMax <= 0 {
		retryMax = DefaultRetryMax
	}
	retryBase := cfg.RetryBase
	if retryBase <= 0 {
		retryBase = DefaultRetryBaseMS * time.Millisecond
	}
	retryCap := cfg.RetryCap
	if retryCap <= 0 {
		retryCap = DefaultRetryCapMS * time.Millisecond
	}
	name := cfg.BreakerName
	if name == "" {
		name = "llm"
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: name,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		Timeout: 30 * time.Second,
	})

	return &Client{
		chat:      cfg.ChatModel,
		breaker:   breaker,
		retryMax:  retryMax,
		retryBase: retryBase,
		retryCap:  retryCap,
	}, nil
}

// Generate performs a chat-style completion and returns the free text.
// Transient upstream failures are retried per the client's backoff policy;
// auth, quota, and content-policy errors surface immediately.
func (c *Client) Generate(ctx context.Context, msgs []*schema.Message, p *Params) (string, error) {
	timeout := DefaultGenerateTimeout
	if p != nil && p.Timeout > 0 {
		timeout = p.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := c.generateWithRetry(ctx, msgs, p)
	if err != nil {
		return "", err
	}
	return out.Content, nil
}

// GenerateStructured performs a completion whose output must be a JSON object
// conforming to the shape of out. On malformed output the call is retried
// with explicit feedback in the next prompt ("previous output was invalid
// because …"); if the output still does not conform after the retry budget
// the call fails with SchemaViolation.
func (c *Client) GenerateStructured(ctx context.Context, msgs []*schema.Message, out any, p *Params) error {
	timeout := DefaultStructuredTimeout
	if p != nil && p.Timeout > 0 {
		timeout = p.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := logging.FromContext(ctx)

	// attempt messages grow with feedback on each schema failure.
	attemptMsgs := append([]*schema.Message(nil), msgs...)

	var lastErr error
	for attempt := 0; attempt < c.retryMax; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fault.Wrap(fault.KindCancelled, ctx.Err(), "structured generation cancelled")
			case <-time.After(c.backoffDelay(attempt)):
			}
		}

		resp, err := c.generateWithRetry(ctx, attemptMsgs, p)
		if err != nil {
			return err // already classified; upstream retries were spent inside
		}

		decodeErr := decodeStructured(resp.Content, out)
		if decodeErr == nil {
			return nil
		}
		lastErr = decodeErr

		log.Debug("llm: structured output rejected, retrying with feedback",
			slog.Int("attempt", attempt+1),
			slog.Any("error", decodeErr),
		)

		// Feed the model its own invalid output and the reason, per attempt.
		attemptMsgs = append(attemptMsgs,
			schema.AssistantMessage(resp.Content, nil),
			schema.UserMessage(fmt.Sprintf(
				"Your previous output was invalid because: %v. "+
					"Respond again with ONLY the corrected JSON object — no prose, no markdown fencing.",
				decodeErr)),
		)
	}

	return fault.Wrap(fault.KindSchemaViolation, lastErr,
		"structured output did not conform after %d attempts", c.retryMax)
}

// generateWithRetry runs a single logical generation through the circuit
// breaker and the transient-failure retry policy.
func (c *Client) generateWithRetry(ctx context.Context, msgs []*schema.Message, p *Params) (*schema.Message, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryBase
	policy.MaxInterval = c.retryCap
	policy.RandomizationFactor = 0.2

	var out *schema.Message
	op := func() error {
		v, err := c.breaker.Execute(func() (any, error) {
			resp, genErr := c.chat.Generate(ctx, msgs, callOptions(p)...)
			if genErr != nil {
				return nil, classify(genErr)
			}
			return resp, nil
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				err = fault.Wrap(fault.KindUpstreamBusy, err, "provider circuit open")
			}
			if !fault.Retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = v.(*schema.Message)
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(c.retryMax-1)), ctx)) //nolint:gosec // retryMax is a small positive config value
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && fault.KindOf(err) != fault.KindCancelled {
			return nil, fault.Wrap(fault.KindCancelled, err, "generation cancelled")
		}
		return nil, fmt.Errorf("llm: generate failed: %w", err)
	}
	if out == nil {
		return nil, fault.New(fault.KindInternal, "provider returned no message")
	}
	return out, nil
}

// backoffDelay returns the schema-retry delay for the given attempt number
// (attempt ≥ 1), doubling from the base and saturating at the cap.
func (c *Client) backoffDelay(attempt int) time.Duration {
	d := c.retryBase << (attempt - 1)
	if d > c.retryCap {
		return c.retryCap
	}
	return d
}

// callOptions converts Params into Eino per-call model options.
func callOptions(p *Params) []model.Option {
	if p == nil {
		return nil
	}
	var opts []model.Option
	if p.Temperature != nil {
		opts = append(opts, model.WithTemperature(*p.Temperature))
	}
	if p.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(p.MaxTokens))
	}
	if len(p.Stop) > 0 {
		opts = append(opts, model.WithStop(p.Stop))
	}
	return opts
}

// classify maps a provider error onto the core's fault taxonomy. Providers
// surface failures as opaque wrapped errors, so classification inspects the
// standard context sentinels first, then well-known status markers in the
// error text.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return fault.Wrap(fault.KindCancelled, err, "call cancelled")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		// A timed-out call is transient from the caller's perspective.
		return fault.Wrap(fault.KindUpstreamUnavailable, err, "call timed out")
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "401", "403", "unauthorized", "invalid api key", "permission denied"):
		return fault.Wrap(fault.KindUpstreamAuth, err, "provider rejected credentials")
	case containsAny(msg, "429", "quota", "rate limit", "rate_limit"):
		return fault.Wrap(fault.KindUpstreamQuota, err, "provider quota exhausted")
	case containsAny(msg, "content policy", "content_policy", "refused", "safety"):
		return fault.Wrap(fault.KindContentRefused, err, "provider refused the request")
	case containsAny(msg, "500", "502", "503", "504", "overloaded", "connection refused", "timeout", "temporarily unavailable", "eof"):
		return fault.Wrap(fault.KindUpstreamUnavailable, err, "provider unavailable")
	default:
		return fault.Wrap(fault.KindUpstreamUnavailable, err, "provider call failed")
	}
}

// containsAny reports whether s contains any of the needles.
func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
