package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorStatusCodes(t *testing.T) {
	tests := []struct {
		err  *AppError
		want int
	}{
		{NewValidationError("missing %s", "topic_id"), http.StatusBadRequest},
		{NewAuthError("bad token"), http.StatusForbidden},
		{NewPolicyDisabledError("sync disabled"), http.StatusUnprocessableEntity},
		{NewNotFoundError("topic %d", 4), http.StatusNotFound},
		{NewRemoteServiceError("list comments", errors.New("boom")), http.StatusBadGateway},
		{NewError(KindInternal, "oops", nil), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.err.Kind), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.StatusCode())
		})
	}
}

func TestRemoteServiceErrorWrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("push post 3: %w", NewRemoteServiceError("create ticket", cause))

	assert.ErrorIs(t, err, cause)
	assert.True(t, IsKind(err, KindRemoteService))
	assert.True(t, IsRetryable(err))
	assert.Equal(t, "failed to create ticket: connection reset", errors.Unwrap(err).Error())
}

func TestIsRetryableIgnoresOtherErrors(t *testing.T) {
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(NewValidationError("x")))
	assert.False(t, IsRetryable(nil))
}

func TestAbortWithError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"app error", NewAuthError("invalid token"), http.StatusForbidden, "invalid token"},
		{"plain error", errors.New("db down"), http.StatusInternalServerError, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			AbortWithError(c, tt.err)

			assert.Equal(t, tt.status, w.Code)
			var body errorBody
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.status, body.Error.Code)
			assert.Equal(t, tt.message, body.Error.Message)
		})
	}
}

func TestParseID(t *testing.T) {
	id, err := ParseID("topic_id", "42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"", "abc", "0", "-3"} {
		_, err := ParseID("topic_id", bad)
		assert.True(t, IsKind(err, KindValidation), bad)
	}
}
