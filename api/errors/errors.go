package errors

import (
	"fmt"
	"strings"
)

// FieldErrors collects request validation failures keyed by the JSON field
// name, so a 400 response can report every bad field at once.
type FieldErrors struct {
	Fields []FieldError `json:"errors"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func NewFieldErrors() *FieldErrors {
	return &FieldErrors{}
}

func (e *FieldErrors) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

func (e *FieldErrors) HasErrors() bool {
	return len(e.Fields) > 0
}

func (e *FieldErrors) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, fe := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return strings.Join(parts, "; ")
}
