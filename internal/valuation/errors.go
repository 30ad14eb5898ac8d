package valuation

import "fmt"

// ValidationError reports malformed or out-of-range input. Callers can fix the
// request and retry; it is never produced for bad comparable data.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
