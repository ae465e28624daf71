package envelope

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOK_RoundTrip(t *testing.T) {
	env, err := OK(map[string]string{"id": "p1"}, NewPagination(2, 20, 41))
	require.NoError(t, err)
	assert.True(t, env.Success)
	assert.Equal(t, &Pagination{Page: 2, Limit: 20, Total: 41, TotalPages: 3}, env.Pagination)

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"data":{"id":"p1"},"pagination":{"page":2,"limit":20,"total":41,"totalPages":3}}`, string(raw))

	var got map[string]string
	require.NoError(t, env.Decode(&got))
	assert.Equal(t, "p1", got["id"])
	assert.NoError(t, env.Err())
}

func TestOK_Unencodable(t *testing.T) {
	_, err := OK(make(chan int), nil)
	assert.Equal(t, errors.CodeInternal, errors.GetCode(err))
}

func TestNewPagination_ZeroLimit(t *testing.T) {
	assert.Equal(t, 0, NewPagination(1, 0, 10).TotalPages)
	assert.Equal(t, 0, NewPagination(1, 20, 0).TotalPages)
}

func TestFieldErrors(t *testing.T) {
	assert.NoError(t, FieldErrors{}.Err())

	fe := FieldErrors{}
	fe.Add("name", "is required")
	fe.Add("crewCount", "must be >= 0, got %d", -1)
	err := fe.Err()

	assert.Equal(t, CodeValidation, errors.GetCode(err))
	assert.False(t, errors.IsRetryable(err))

	env, status := FromError(err)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	assert.Equal(t, map[string]any{"name": "is required", "crewCount": "must be >= 0, got -1"}, env.Error.Details["fields"])
}

func TestFromError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{"not found", errors.New(errors.CodeNotFound, "project p1 not found"), 404, "NOT_FOUND", "project p1 not found"},
		{"wrapped platform", fmt.Errorf("handler: %w", errors.New(errors.CodeRateLimit, "slow down")), 429, "RATE_LIMIT_EXCEEDED", "slow down"},
		{"plain error hidden", stderrors.New("sql: connection reset by peer"), 500, "INTERNAL_ERROR", internalMessage},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), 504, "TIMEOUT", "request timed out"},
		{"unavailable", errors.New(errors.CodeUnavailable, "busy"), 503, "SERVICE_UNAVAILABLE", "busy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, status := FromError(tt.err)
			assert.False(t, env.Success)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, env.Error.Code)
			assert.Equal(t, tt.wantMsg, env.Error.Message)
		})
	}
}

func TestEnvelope_Err(t *testing.T) {
	env := &Envelope{Error: &Error{Code: "RATE_LIMIT_EXCEEDED", Message: "too many", Details: map[string]any{"retryAfter": 30.0}}}
	err := env.Err()
	require.Error(t, err)
	assert.Equal(t, errors.CodeRateLimit, errors.GetCode(err))
	assert.True(t, errors.IsRetryable(err))

	var pe errors.PlatformError
	require.True(t, stderrors.As(err, &pe))
	assert.Equal(t, 30.0, pe.Context()["retryAfter"])

	assert.Equal(t, errors.CodeInternal, errors.GetCode((&Envelope{}).Err()))
}

func TestStatusCodeMapping(t *testing.T) {
	for _, status := range []int{400, 401, 403, 404, 409, 429, 502, 503, 504} {
		assert.Equal(t, status, StatusFor(CodeForStatus(status)), "status %d", status)
	}
	assert.Equal(t, errors.CodeInternal, CodeForStatus(http.StatusTeapot))
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, errors.New(errors.CodeNotFound, "gone"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"success":false,"error":{"code":"NOT_FOUND","message":"gone"}}`, rec.Body.String())
}
