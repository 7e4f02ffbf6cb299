package retry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Category
	}{
		{"nil", nil, CategoryUnknown},
		{"status 429", errors.New("partner responded 429 too many requests"), CategoryRateLimit},
		{"status 500", errors.New("upstream returned 500 Internal Server Error"), CategoryServerError},
		{"status 404", errors.New("request failed with 404"), CategoryNotFound},
		{"status 401", errors.New("401 unauthorized"), CategoryAuthentication},
		{"status 403", errors.New("403 forbidden"), CategoryAuthorization},
		{"status 408", errors.New("408 request timeout"), CategoryNetwork},
		{"econnreset", errors.New("dial tcp: ECONNRESET"), CategoryNetwork},
		{"phrase timeout", errors.New("context deadline: timeout"), CategoryNetwork},
		{"phrase rate limit", errors.New("you hit the rate limit, slow down"), CategoryRateLimit},
		{"phrase validation", errors.New("validation failed: missing field"), CategoryValidation},
		{"unknown", errors.New("something weird happened"), CategoryUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestCategoryRetryable(t *testing.T) {
	assert.True(t, CategoryRateLimit.Retryable())
	assert.True(t, CategoryServerError.Retryable())
	assert.True(t, CategoryNetwork.Retryable())
	assert.True(t, CategoryAuthentication.Retryable())
	assert.False(t, CategoryAuthorization.Retryable())
	assert.False(t, CategoryValidation.Retryable())
	assert.False(t, CategoryNotFound.Retryable())
	assert.False(t, CategoryUnknown.Retryable())
}
