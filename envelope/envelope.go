// Package envelope defines the JSON response envelope shared by the API
// server and its clients, and maps typed errors onto it.
package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/jmgilman/go/errors"
)

// CodeValidation marks a request payload that failed field validation.
const CodeValidation errors.ErrorCode = "VALIDATION_ERROR"

// Envelope is the body of every API response.
type Envelope struct {
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      *Error          `json:"error,omitempty"`
	Pagination *Pagination     `json:"pagination,omitempty"`
}

// Error is the failure half of an Envelope.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Pagination describes one page of a list.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// NewPagination computes TotalPages for total items split into pages of
// limit.
func NewPagination(page, limit, total int) *Pagination {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return &Pagination{Page: page, Limit: limit, Total: total, TotalPages: pages}
}

// OK builds a success envelope around data.
func OK(data any, pagination *Pagination) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "encode response data")
	}
	return &Envelope{Success: true, Data: raw, Pagination: pagination}, nil
}

// Decode unmarshals Data into v.
func (e *Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return errors.New(errors.CodeInternal, "envelope has no data")
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "decode response data")
	}
	return nil
}

// Err returns the envelope's failure as a PlatformError, or nil for a
// success envelope. Details become error context.
func (e *Envelope) Err() error {
	if e.Success {
		return nil
	}
	if e.Error == nil {
		return errors.New(errors.CodeInternal, "request failed without error detail")
	}
	err := errors.New(errors.ErrorCode(e.Error.Code), e.Error.Message)
	if len(e.Error.Details) > 0 {
		return errors.WithContextMap(err, e.Error.Details)
	}
	return err
}

// FieldErrors maps a payload field to what is wrong with it.
type FieldErrors map[string]string

// Add records a problem with field.
func (f FieldErrors) Add(field, format string, args ...any) {
	f[field] = fmt.Sprintf(format, args...)
}

// Err returns a VALIDATION_ERROR carrying the fields, or nil when empty.
func (f FieldErrors) Err() error {
	if len(f) == 0 {
		return nil
	}
	fields := make(map[string]any, len(f))
	for k, v := range f {
		fields[k] = v
	}
	return errors.WithContext(errors.New(CodeValidation, "validation failed"), "fields", fields)
}
