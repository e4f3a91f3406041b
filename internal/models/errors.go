package models

import "fmt"

// ValidationError reports a missing or out-of-range field at the
// ingestion boundary. Records failing validation are never stored.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
