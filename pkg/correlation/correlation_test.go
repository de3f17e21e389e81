package correlation

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIDsAreUnique(t *testing.T) {
	seen := make(map[ID]bool)
	for i := 0; i < 100; i++ {
		id := New()
		assert.Len(t, id.String(), 36)
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestFromString(t *testing.T) {
	assert.Equal(t, ID("abc"), FromString("abc"))
	assert.False(t, FromString("").IsEmpty())

	long := FromString(strings.Repeat("x", maxIDLength+1))
	assert.Len(t, long.String(), 36)
}

func TestContextFields(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))
	assert.True(t, FromContext(context.Background()).IsEmpty())

	ctx := WithCorrelationID(context.Background(), "corr-1")
	ctx = WithClientIP(ctx, "10.0.0.7")
	fields := ContextFields(ctx)
	assert.Equal(t, "corr-1", fields["correlation_id"])
	assert.Equal(t, "10.0.0.7", fields["client_ip"])

	logger, hook := test.NewNullLogger()
	Entry(ctx, logger.WithField("component", "x")).Info("hello")
	require.Len(t, hook.Entries, 1)
	assert.Equal(t, "corr-1", hook.LastEntry().Data["correlation_id"])
	assert.Equal(t, "x", hook.LastEntry().Data["component"])
}

func TestMiddleware(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	var seen ID
	var seenIP string
	handler := Middleware(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		seenIP = ClientIPFromContext(r.Context())
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set(HTTPRequestIDHeader, "req-42")
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, ID("req-42"), seen)
	assert.Equal(t, "203.0.113.9", seenIP)
	assert.Equal(t, "req-42", rec.Header().Get(HTTPHeader))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, http.StatusNotFound, hook.LastEntry().Data["status"])
}

func TestMiddlewareGeneratesID(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	handler := Middleware(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.False(t, FromContext(r.Context()).IsEmpty())
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.NotEmpty(t, rec.Header().Get(HTTPHeader))
	assert.Equal(t, http.StatusOK, rec.Code)
}
