package main

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/tmc/langchaingo/llms"
	"golang.org/x/time/rate"
)

// ThrottledLLM wraps an llms.Model with request-rate limiting and
// retry-with-backoff. All LLM traffic goes through this wrapper so a single
// knob (LLM_RATE_LIMIT) bounds spend against the provider.
type ThrottledLLM struct {
	inner      llms.Model
	limiter    *rate.Limiter
	maxRetries int
	backoffMin time.Duration
	backoffMax time.Duration
}

// ThrottleConfig configures NewThrottledLLM.
type ThrottleConfig struct {
	// RequestsPerMinute caps outgoing requests. Zero or negative disables
	// rate limiting.
	RequestsPerMinute float64
	// MaxRetries is the number of retry attempts after the first failure.
	MaxRetries int
	// BackoffMax bounds the wait between retries.
	BackoffMax time.Duration
}

// NewThrottledLLM wraps model with rate limiting and retries.
func NewThrottledLLM(model llms.Model, config ThrottleConfig) *ThrottledLLM {
	var limiter *rate.Limiter
	if config.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerMinute/60.0), 1)
	}

	maxRetries := config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	backoffMax := config.BackoffMax
	if backoffMax <= 0 {
		backoffMax = 30 * time.Second
	}

	return &ThrottledLLM{
		inner:      model,
		limiter:    limiter,
		maxRetries: maxRetries,
		backoffMin: time.Second,
		backoffMax: backoffMax,
	}
}

// withRetry waits for the rate limiter, then runs fn with exponential
// backoff and jitter between attempts.
func (t *ThrottledLLM) withRetry(ctx context.Context, fn func() error) error {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		if attempt >= t.maxRetries {
			return fmt.Errorf("all retry attempts failed, last error: %w", err)
		}
		lastErr = err
		log.WithError(lastErr).Warnf("LLM request failed, retrying (attempt %d/%d)", attempt+1, t.maxRetries)

		backoff := t.backoffMin * time.Duration(1<<uint(attempt))
		if backoff > t.backoffMax {
			backoff = t.backoffMax
		}
		// Jitter of +/- 20% so concurrent callers do not retry in lockstep.
		jitter := time.Duration(float64(backoff) * (0.8 + 0.4*rand.Float64()))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitter):
		}
	}
}

// Call implements the llms.Model interface.
func (t *ThrottledLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	var response string
	err := t.withRetry(ctx, func() error {
		var callErr error
		response, callErr = t.inner.Call(ctx, prompt, options...)
		return callErr
	})
	return response, err
}

// GenerateContent implements the llms.Model interface.
func (t *ThrottledLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var response *llms.ContentResponse
	err := t.withRetry(ctx, func() error {
		var callErr error
		response, callErr = t.inner.GenerateContent(ctx, messages, options...)
		return callErr
	})
	return response, err
}
