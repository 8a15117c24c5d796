package httputil

import (
	"net/http"
)

// FieldError is a single field-scoped validation failure
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Errors collects validation and authorization failures for a request.
//
// A fatal error signals that the whole requested resource is invalid or
// missing (e.g. the organization vanished between page-load and submit), so
// the presentation layer must replace the entire response body rather than
// annotate a field. Non-fatal errors stay field-scoped and render as a list.
type Errors struct {
	fields []FieldError
	fatal  bool
}

// Add appends a field-scoped error
func (e *Errors) Add(field, message string) {
	e.fields = append(e.fields, FieldError{Field: field, Message: message})
}

// AddFatal appends an error and marks the collection fatal
func (e *Errors) AddFatal(field, message string) {
	e.Add(field, message)
	e.fatal = true
}

// HasErrors reports whether any error was collected
func (e *Errors) HasErrors() bool {
	return len(e.fields) > 0
}

// Fatal reports whether a fatal error was collected
func (e *Errors) Fatal() bool {
	return e.fatal
}

// Fields returns the collected errors
func (e *Errors) Fields() []FieldError {
	return e.fields
}

// Write renders the collected errors. Fatal collections replace the whole
// body with a 404; non-fatal collections render the field list as a 400.
// Write does nothing when no error was collected.
func (e *Errors) Write(w http.ResponseWriter) {
	if !e.HasErrors() {
		return
	}
	if e.fatal {
		WriteNotFoundError(w, e.fields[0].Message)
		return
	}
	WriteJSON(w, http.StatusBadRequest, map[string]interface{}{
		"errors": e.fields,
	})
}
