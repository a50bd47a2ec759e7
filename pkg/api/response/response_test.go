package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error
}

func TestJSON_WritesBody(t *testing.T) {
	w := httptest.NewRecorder()
	JSON(w, http.StatusAccepted, map[string]any{"user_id": "u1", "token": 3})

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"user_id":"u1","token":3}`, w.Body.String())
}

func TestJSON_NilDataWritesNoBody(t *testing.T) {
	w := httptest.NewRecorder()
	JSON(w, http.StatusNoContent, nil)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Zero(t, w.Body.Len())
}

func TestErrorWithDetails(t *testing.T) {
	w := httptest.NewRecorder()
	ErrorWithDetails(w, http.StatusBadRequest, ErrCodeBadRequest, "validation failed",
		map[string]any{"user_id": "required"}, "req-9")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	detail := decodeError(t, w)
	assert.Equal(t, ErrCodeBadRequest, detail.Code)
	assert.Equal(t, "validation failed", detail.Message)
	assert.Equal(t, "req-9", detail.RequestID)
	assert.Equal(t, "required", detail.Details["user_id"])
}

func TestError_OmitsEmptyDetails(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusNotFound, ErrCodeNotFound, "no session for u2", "req-1")

	assert.NotContains(t, w.Body.String(), "details")
	assert.Equal(t, "no session for u2", decodeError(t, w).Message)
}

func TestStatusAndCodeMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{ErrNotFound, http.StatusNotFound, ErrCodeNotFound},
		{fmt.Errorf("user: %w", ErrInvalidInput), http.StatusBadRequest, ErrCodeBadRequest},
		{ErrConflict, http.StatusConflict, ErrCodeConflict},
		{ErrRateLimited, http.StatusTooManyRequests, ErrCodeTooManyRequests},
		{ErrServiceUnavailable, http.StatusServiceUnavailable, ErrCodeServiceUnavailable},
		{ErrTimeout, http.StatusGatewayTimeout, ErrCodeGatewayTimeout},
		{errors.New("source exploded"), http.StatusInternalServerError, ErrCodeInternalServer},
	}
	for _, tc := range cases {
		status := HTTPStatusFromError(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, ErrorCodeFromStatus(status), tc.err.Error())
	}

	assert.Equal(t, ErrCodeMethodNotAllowed, ErrorCodeFromStatus(http.StatusMethodNotAllowed))
	assert.Equal(t, ErrCodeInternalServer, ErrorCodeFromStatus(http.StatusTeapot))
}

func TestHandleError(t *testing.T) {
	w := httptest.NewRecorder()
	HandleError(w, fmt.Errorf("session u1: %w", ErrNotFound), "req-1")

	require.Equal(t, http.StatusNotFound, w.Code)
	detail := decodeError(t, w)
	assert.Equal(t, ErrCodeNotFound, detail.Code)
	assert.Equal(t, "session u1: resource not found", detail.Message)

	w = httptest.NewRecorder()
	HandleError(w, errors.New("dial tcp 10.0.0.1: refused"), "req-2")

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal server error", decodeError(t, w).Message, "internal error text must not leak")
}
