package validation

import "fmt"

// Request locations a validation error can be attributed to.
const (
	LocationBody  = "body"
	LocationQuery = "querystring"
	LocationURL   = "url"
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Location string `json:"location,omitempty"`
	Field    string `json:"field"`
	Value    string `json:"value"`
	Message  string `json:"message"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, value, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []*ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	return fmt.Sprintf("%s (and %d more errors)", e[0].Error(), len(e)-1)
}

// Add adds a validation error to the collection.
func (e *ValidationErrors) Add(field, value, message string) {
	*e = append(*e, NewValidationError(field, value, message))
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// At sets the location of every error that does not have one yet.
func (e ValidationErrors) At(location string) ValidationErrors {
	for _, ve := range e {
		if ve.Location == "" {
			ve.Location = location
		}
	}
	return e
}
