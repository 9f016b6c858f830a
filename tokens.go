package main

import (
	"fmt"

	"github.com/tmc/langchaingo/llms"
)

func getTokenCount(content string) int {
	return llms.CountTokens(openaiSettings.Model, content)
}

// truncateContentByTokens truncates content so that its token count does not
// exceed tokenLimit. Uses a binary search on runes to find the longest
// prefix within the limit. A limit of zero or less disables truncation.
func truncateContentByTokens(content string, tokenLimit int) (string, error) {
	if tokenLimit <= 0 {
		return content, nil
	}
	if getTokenCount(content) <= tokenLimit {
		return content, nil
	}

	runes := []rune(content)
	low := 0
	high := len(runes)
	validCut := 0

	for low <= high {
		mid := (low + high) / 2
		if getTokenCount(string(runes[:mid])) <= tokenLimit {
			validCut = mid
			low = mid + 1
		} else {
			high = mid - 1
		}
	}

	truncated := string(runes[:validCut])
	if getTokenCount(truncated) > tokenLimit {
		return "", fmt.Errorf("truncated content still exceeds the token limit")
	}
	log.Debugf("Truncated content from %d to %d runes to fit token limit %d", len(runes), validCut, tokenLimit)
	return truncated, nil
}
