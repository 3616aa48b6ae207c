// Package extract turns rendered listing containers into normalized publication records.
package extract

import "fmt"

// FieldError represents a failure to resolve a single field of one item.
// It never aborts extraction; the field falls back to its sentinel.
type FieldError struct {
	Field   string
	Message string
	Cause   error
}

func (e *FieldError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("field %s: %s: %v", e.Field, e.Message, e.Cause)
	}
	return fmt.Sprintf("field %s: %s", e.Field, e.Message)
}

func (e *FieldError) Unwrap() error {
	return e.Cause
}

// ItemError represents a failure to process a whole container.
type ItemError struct {
	Index   int
	Message string
	Cause   error
}

func (e *ItemError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("item %d: %s: %v", e.Index, e.Message, e.Cause)
	}
	return fmt.Sprintf("item %d: %s", e.Index, e.Message)
}

func (e *ItemError) Unwrap() error {
	return e.Cause
}
