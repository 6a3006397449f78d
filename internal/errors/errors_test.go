package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_WrapAndUnwrap(t *testing.T) {
	cause := stderrors.New("dial tcp: refused")
	err := ExternalServiceError("balance", "lookup", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrorTypeExternal, err.Type)
	assert.Contains(t, err.Error(), "dial tcp: refused")

	wrapped := fmt.Errorf("admission: %w", err)
	got, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, "EXTERNAL_SERVICE_ERROR", got.Code)
	assert.True(t, IsType(wrapped, ErrorTypeExternal))
	assert.False(t, IsType(cause, ErrorTypeExternal))
}

func TestHandler_WritesStructuredResponse(t *testing.T) {
	em := NewErrorMiddleware()
	h := em.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return UnauthorizedWebhookError()
	})

	req := httptest.NewRequest(http.MethodPost, "/webhook/abc", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "WEBHOOK_UNAUTHORIZED", body.Error.Code)
	assert.Equal(t, "req-1", body.Error.RequestID)
}

func TestHandler_PlainErrorBecomesInternal(t *testing.T) {
	em := NewErrorMiddleware()
	h := em.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return stderrors.New("boom")
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	em := NewErrorMiddleware()
	h := em.RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("unexpected")
	}))

	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusCode(ErrorTypeValidation))
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(ErrorTypeRateLimit))
	assert.Equal(t, http.StatusBadGateway, StatusCode(ErrorTypeExternal))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(ErrorType("other")))
}
