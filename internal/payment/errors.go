package payment

import "fmt"

// Error is a provider failure. Retryable reports whether the same request may
// succeed later, as for 5xx and 429 responses or network errors.
type Error struct {
	StatusCode int
	Code       string
	Message    string
	retryable  bool
	err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("omise %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("omise %s: %s", e.Code, e.Message)
}

func (e *Error) Retryable() bool { return e.retryable }

func (e *Error) Unwrap() error { return e.err }
