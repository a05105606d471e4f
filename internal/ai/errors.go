package ai

import (
	"errors"
	"net/http"
	"strings"
)

var (
	// ErrRateLimited marks throttling by the classification service.
	ErrRateLimited = errors.New("classifier rate limited")
	// ErrMalformedOutput means the model reply held no parseable JSON object.
	ErrMalformedOutput = errors.New("malformed classifier output")
)

var rateLimitKeywords = []string{"rate limit", "too many requests", "429", "quota", "tpm", "rpm"}

// IsRateLimited reports whether err is throttling, by sentinel, HTTP status or message.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || statusCode(err) == http.StatusTooManyRequests {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range rateLimitKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}
