package chainprovider

import (
	"errors"
	"fmt"
)

// APIError is a non-2xx response from the gateway.
type APIError struct {
	StatusCode int
	Message    string
	ErrorCode  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chain provider API error %d (%s): %s", e.StatusCode, e.ErrorCode, e.Message)
}

// IsRetryable reports whether the failure is worth retrying. Client errors
// other than rate limiting are permanent.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// IsRetryableError reports whether err should be retried. Network errors
// that never produced an APIError default to retryable.
func IsRetryableError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}
	return true
}
