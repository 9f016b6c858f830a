package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncateContentByTokensNoLimit(t *testing.T) {
	openaiSettings.Model = "gpt-4-turbo-preview"

	content := "This text passes through untouched."
	result, err := truncateContentByTokens(content, 0)
	require.NoError(t, err)
	assert.Equal(t, content, result)

	result, err = truncateContentByTokens(content, -1)
	require.NoError(t, err)
	assert.Equal(t, content, result)
}

func TestTruncateContentByTokensWithinLimit(t *testing.T) {
	openaiSettings.Model = "gpt-4-turbo-preview"

	content := "short"
	result, err := truncateContentByTokens(content, 1000)
	require.NoError(t, err)
	assert.Equal(t, content, result)
}

func TestTruncateContentByTokensExceedsLimit(t *testing.T) {
	openaiSettings.Model = "gpt-4-turbo-preview"

	content := strings.Repeat("many different words appear in this sentence ", 100)
	limit := 20

	result, err := truncateContentByTokens(content, limit)
	require.NoError(t, err)
	assert.Less(t, len(result), len(content))
	assert.LessOrEqual(t, getTokenCount(result), limit)
	// The truncated text is a prefix of the original.
	assert.True(t, strings.HasPrefix(content, result))
}
