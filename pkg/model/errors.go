package model

import "fmt"

// InputError marks a request that was rejected before any gateway call
// was made (empty document, size below minimum, unknown template).
type InputError struct {
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid input: %s", e.Reason)
}

// NewInputError builds an InputError with a formatted reason.
func NewInputError(format string, args ...any) *InputError {
	return &InputError{Reason: fmt.Sprintf(format, args...)}
}
