package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	contextutils "skillmodel/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveError(t *testing.T, handler gin.HandlerFunc) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/test", handler)

	req, _ := http.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	return w, response
}

func TestStandardizeHTTPError(t *testing.T) {
	tests := []struct {
		status   int
		wantCode contextutils.ErrorCode
	}{
		{http.StatusBadRequest, contextutils.ErrorCodeInvalidInput},
		{http.StatusNotFound, contextutils.ErrorCodeRecordNotFound},
		{http.StatusConflict, contextutils.ErrorCodeConflict},
		{http.StatusServiceUnavailable, contextutils.ErrorCodeServiceUnavailable},
		{http.StatusInternalServerError, contextutils.ErrorCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			w, response := serveError(t, func(c *gin.Context) {
				StandardizeHTTPError(c, tt.status, "Something happened", "details here")
			})

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, string(tt.wantCode), response["code"])
			assert.Equal(t, "Something happened", response["message"])
			assert.Equal(t, "details here", response["details"])
		})
	}
}

func TestHandleValidationError(t *testing.T) {
	w, response := serveError(t, func(c *gin.Context) {
		HandleValidationError(c, "sessionId", "abc", "must be a positive integer")
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid sessionId", response["message"])
	assert.Equal(t, "Value 'abc' is invalid: must be a positive integer", response["details"])
}

func TestHandleAppError_StatusMapping(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantStatus    int
		wantRetryable bool
	}{
		{"session not found", contextutils.ErrSessionNotFound, http.StatusNotFound, false},
		{"record not found", contextutils.ErrRecordNotFound, http.StatusNotFound, false},
		{"invalid state", contextutils.ErrSessionInvalidState, http.StatusConflict, false},
		{"invalid input", contextutils.ErrInvalidInput, http.StatusBadRequest, false},
		{"data integrity", contextutils.ErrDataIntegrity, http.StatusUnprocessableEntity, false},
		{"transient store", contextutils.ErrTransientStore, http.StatusServiceUnavailable, true},
		{"lock unavailable", contextutils.ErrLockUnavailable, http.StatusServiceUnavailable, true},
		{"timeout", contextutils.ErrTimeout, http.StatusGatewayTimeout, true},
		{"query error", contextutils.ErrDatabaseQuery, http.StatusInternalServerError, false},
		{"wrapped keeps code", contextutils.WrapError(contextutils.ErrSessionNotFound, "load failed"), http.StatusNotFound, false},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, response := serveError(t, func(c *gin.Context) {
				HandleAppError(c, tt.err)
			})

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantRetryable, response["retryable"])
		})
	}
}
