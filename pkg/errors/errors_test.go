package errors

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

func TestNewAndWrap(t *testing.T) {
	err := New("test error")
	require.NotNil(t, err)
	assert.Equal(t, "test error", err.Error())
	assert.Contains(t, err.Location(), "errors_test.go")

	base := errors.New("base error")
	wrapped := Wrap(base, "wrapped")
	assert.Contains(t, wrapped.Error(), "wrapped")
	assert.Contains(t, wrapped.Error(), "base error")
	assert.Equal(t, base, errors.Unwrap(wrapped))

	assert.Nil(t, Wrap(nil, "nothing"))
}

func TestFieldsAreCopied(t *testing.T) {
	original := New("test error").WithField("a", 1)
	extended := original.WithFields(map[string]interface{}{"b": 2})

	assert.Len(t, original.GetFields(), 1)
	assert.Len(t, extended.GetFields(), 2)
	assert.Equal(t, 2, extended.GetFields()["b"])
}

func TestSentinelMatching(t *testing.T) {
	notFound := NewSessionNotFound("call-1")
	assert.True(t, errors.Is(notFound, ErrSessionNotFound))
	assert.Equal(t, "SESSION_NOT_FOUND", GetErrorCode(notFound))
	assert.Equal(t, "call-1", GetErrorFields(notFound)["call_id"])

	wrapped := fmt.Errorf("segment rejected: %w", NewInvalidInput("empty text"))
	assert.True(t, IsErrorType(wrapped, ErrInvalidInput))
	assert.Equal(t, "INVALID_INPUT", GetErrorCode(wrapped))

	assert.False(t, errors.Is(NewSessionAlreadyExists("x"), ErrSessionNotFound))
}

func TestHTTPStatusFromError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{NewInvalidInput("bad"), http.StatusBadRequest},
		{NewSessionNotFound("c"), http.StatusNotFound},
		{NewSessionAlreadyExists("c"), http.StatusConflict},
		{NewResourceExhausted("full"), http.StatusTooManyRequests},
		{fmt.Errorf("ctx: %w", ErrUnavailable), http.StatusServiceUnavailable},
		{errors.New("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatusFromError(tt.err), tt.err.Error())
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, NewSessionNotFound("call-9"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "SESSION_NOT_FOUND", body["code"])
	assert.Equal(t, "no active session for call call-9", body["error"])
}
