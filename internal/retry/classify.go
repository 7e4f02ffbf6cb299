// Package retry implements the error classifier and backoff-with-retry
// helper used by the integration clients and sync orchestrator. It
// follows the same generation/state bookkeeping style as this codebase's
// other timer-driven components, since no single library here covers
// classify-then-backoff end to end.
package retry

import (
	"regexp"
	"strconv"
	"strings"
)

// Category is one of the 8 error classifications partner calls can fail with.
type Category string

const (
	CategoryAuthentication Category = "authentication"
	CategoryAuthorization  Category = "authorization"
	CategoryRateLimit      Category = "rate_limit"
	CategoryValidation     Category = "validation"
	CategoryNotFound       Category = "not_found"
	CategoryServerError    Category = "server_error"
	CategoryNetwork        Category = "network"
	CategoryUnknown        Category = "unknown"
)

var retryable = map[Category]bool{
	CategoryRateLimit:      true,
	CategoryServerError:    true,
	CategoryNetwork:        true,
	CategoryAuthentication: true, // retried once, after token refresh
}

// Retryable reports whether a category is retryable by default.
func (c Category) Retryable() bool { return retryable[c] }

var statusPattern = regexp.MustCompile(`\b([1-5][0-9]{2})\b`)

var networkCodes = []string{"ECONNRESET", "ECONNREFUSED", "ETIMEDOUT", "EHOSTUNREACH", "EPIPE"}

var phrasePatterns = []struct {
	phrase   string
	category Category
}{
	{"timeout", CategoryNetwork},
	{"timed out", CategoryNetwork},
	{"rate limit", CategoryRateLimit},
	{"too many requests", CategoryRateLimit},
	{"service unavailable", CategoryServerError},
	{"unauthorized", CategoryAuthentication},
	{"invalid token", CategoryAuthentication},
	{"token expired", CategoryAuthentication},
	{"forbidden", CategoryAuthorization},
	{"not found", CategoryNotFound},
	{"validation failed", CategoryValidation},
	{"invalid request", CategoryValidation},
	{"connection reset", CategoryNetwork},
	{"connection refused", CategoryNetwork},
}

// Classify inspects an error's message (and, where present, an explicit
// HTTP status code) and returns its category. Classification sources, in
// priority order: HTTP status regex, platform error codes, then known
// phrase patterns.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	return ClassifyMessage(err.Error())
}

// ClassifyMessage classifies a raw message string; exported so integration
// clients can classify a response body without constructing an error first.
func ClassifyMessage(msg string) Category {
	lower := strings.ToLower(msg)

	if m := statusPattern.FindStringSubmatch(msg); m != nil {
		if code, err := strconv.Atoi(m[1]); err == nil {
			if cat, ok := categoryForStatus(code); ok {
				return cat
			}
		}
	}

	for _, code := range networkCodes {
		if strings.Contains(msg, code) {
			return CategoryNetwork
		}
	}

	for _, p := range phrasePatterns {
		if strings.Contains(lower, p.phrase) {
			return p.category
		}
	}

	return CategoryUnknown
}

// categoryForStatus maps an HTTP status code to a category. 408 is
// retryable even though it is classified as network-ish timeout rather
// than server_error.
func categoryForStatus(code int) (Category, bool) {
	switch {
	case code == 401:
		return CategoryAuthentication, true
	case code == 403:
		return CategoryAuthorization, true
	case code == 404:
		return CategoryNotFound, true
	case code == 408:
		return CategoryNetwork, true
	case code == 422 || code == 400:
		return CategoryValidation, true
	case code == 429:
		return CategoryRateLimit, true
	case code >= 500 && code < 600:
		return CategoryServerError, true
	default:
		return CategoryUnknown, false
	}
}
