package envelope

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/jmgilman/go/errors"
)

// internalMessage replaces the text of errors that carry no code, so
// internals never reach a client.
const internalMessage = "internal server error"

// StatusFor maps an error code to its HTTP status.
func StatusFor(code errors.ErrorCode) int {
	switch code {
	case CodeValidation, errors.CodeInvalidInput, errors.CodeSchemaFailed:
		return http.StatusBadRequest
	case errors.CodeUnauthorized:
		return http.StatusUnauthorized
	case errors.CodeForbidden:
		return http.StatusForbidden
	case errors.CodeNotFound:
		return http.StatusNotFound
	case errors.CodeConflict, errors.CodeAlreadyExists:
		return http.StatusConflict
	case errors.CodeRateLimit:
		return http.StatusTooManyRequests
	case errors.CodeNetwork:
		return http.StatusBadGateway
	case errors.CodeUnavailable:
		return http.StatusServiceUnavailable
	case errors.CodeTimeout:
		return http.StatusGatewayTimeout
	case errors.CodeNotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// CodeForStatus maps an HTTP status without an envelope body back to a
// code.
func CodeForStatus(status int) errors.ErrorCode {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return errors.CodeInvalidInput
	case http.StatusUnauthorized:
		return errors.CodeUnauthorized
	case http.StatusForbidden:
		return errors.CodeForbidden
	case http.StatusNotFound:
		return errors.CodeNotFound
	case http.StatusConflict:
		return errors.CodeConflict
	case http.StatusTooManyRequests:
		return errors.CodeRateLimit
	case http.StatusBadGateway:
		return errors.CodeNetwork
	case http.StatusServiceUnavailable:
		return errors.CodeUnavailable
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return errors.CodeTimeout
	default:
		return errors.CodeInternal
	}
}

// FromError builds a failure envelope and its status. Context deadline
// errors become TIMEOUT; errors without a code become an opaque
// INTERNAL_ERROR.
func FromError(err error) (*Envelope, int) {
	if stderrors.Is(err, context.DeadlineExceeded) && errors.GetCode(err) == errors.CodeUnknown {
		err = errors.Wrap(err, errors.CodeTimeout, "request timed out")
	}

	var pe errors.PlatformError
	if !stderrors.As(err, &pe) || pe.Code() == errors.CodeUnknown {
		return &Envelope{Error: &Error{Code: string(errors.CodeInternal), Message: internalMessage}},
			http.StatusInternalServerError
	}

	return &Envelope{Error: &Error{
		Code:    string(pe.Code()),
		Message: pe.Message(),
		Details: pe.Context(),
	}}, StatusFor(pe.Code())
}

// Write sends env with status as JSON.
func Write(w http.ResponseWriter, status int, env *Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

// WriteRaw sends a pre-encoded envelope.
func WriteRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// WriteError sends the failure envelope for err.
func WriteError(w http.ResponseWriter, err error) {
	env, status := FromError(err)
	Write(w, status, env)
}
