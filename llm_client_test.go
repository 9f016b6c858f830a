package main

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// flakyLLM fails a fixed number of times before succeeding.
type flakyLLM struct {
	failures int
	calls    int
}

func (f *flakyLLM) Call(context.Context, string, ...llms.CallOption) (string, error) {
	return "", nil
}

func (f *flakyLLM) GenerateContent(context.Context, []llms.MessageContent, ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, fmt.Errorf("transient failure %d", f.calls)
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: "ok"}},
	}, nil
}

func newTestThrottledLLM(inner llms.Model, maxRetries int) *ThrottledLLM {
	throttled := NewThrottledLLM(inner, ThrottleConfig{MaxRetries: maxRetries})
	throttled.backoffMin = time.Millisecond
	throttled.backoffMax = 5 * time.Millisecond
	return throttled
}

func TestThrottledLLMRetriesTransientFailures(t *testing.T) {
	inner := &flakyLLM{failures: 2}
	throttled := newTestThrottledLLM(inner, 3)

	response, err := throttled.GenerateContent(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", response.Choices[0].Content)
	assert.Equal(t, 3, inner.calls)
}

func TestThrottledLLMGivesUpAfterMaxRetries(t *testing.T) {
	inner := &flakyLLM{failures: 100}
	throttled := newTestThrottledLLM(inner, 2)

	_, err := throttled.GenerateContent(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all retry attempts failed")
	// One initial attempt plus two retries.
	assert.Equal(t, 3, inner.calls)
}

func TestThrottledLLMRespectsContextCancellation(t *testing.T) {
	inner := &flakyLLM{failures: 100}
	throttled := NewThrottledLLM(inner, ThrottleConfig{MaxRetries: 5})
	throttled.backoffMin = time.Hour
	throttled.backoffMax = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := throttled.GenerateContent(ctx, nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestThrottledLLMNoLimiterByDefault(t *testing.T) {
	throttled := NewThrottledLLM(&flakyLLM{}, ThrottleConfig{})
	assert.Nil(t, throttled.limiter)

	throttled = NewThrottledLLM(&flakyLLM{}, ThrottleConfig{RequestsPerMinute: 120})
	require.NotNil(t, throttled.limiter)
}
