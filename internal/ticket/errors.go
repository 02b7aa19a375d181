package ticket

import "fmt"

// GatewayError reports a failed call to the external ticket system. The
// upstream HTTP status and body are kept for operator diagnostics.
type GatewayError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error

	// Permanent marks errors that must not be retried (4xx validation
	// class responses). Network errors and 5xx stay retryable.
	Permanent bool
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("gateway %s failed: status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the retry loop may attempt the call again
func (e *GatewayError) Retryable() bool {
	return !e.Permanent
}

// methodUnsupported reports whether a status code means the endpoint does
// not support the HTTP verb, which triggers the one-shot verb fallback.
func methodUnsupported(status int) bool {
	switch status {
	case 404, 405, 501:
		return true
	}
	return false
}

// retryableStatus classifies HTTP statuses for the retry loop: server-side
// failures and throttling retry, everything else in the 4xx class is final.
func retryableStatus(status int) bool {
	return status >= 500 || status == 429
}
