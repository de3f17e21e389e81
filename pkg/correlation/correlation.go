// Package correlation carries a per-request correlation ID from the HTTP
// or WebSocket edge into logs.
package correlation

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Header names accepted for incoming correlation IDs, in priority order
const (
	HTTPHeader          = "X-Correlation-ID"
	HTTPRequestIDHeader = "X-Request-ID"
)

// maxIDLength bounds IDs accepted from clients
const maxIDLength = 128

type contextKey int

const (
	correlationIDKey contextKey = iota
	clientIPKey
)

// ID is a correlation ID
type ID string

func (id ID) String() string { return string(id) }

// IsEmpty returns true if the correlation ID is empty
func (id ID) IsEmpty() bool {
	return id == ""
}

// New generates a new random correlation ID
func New() ID {
	return ID(uuid.NewString())
}

// FromString accepts a client-supplied ID, generating a new one when it is
// empty or implausibly long.
func FromString(s string) ID {
	if s == "" || len(s) > maxIDLength {
		return New()
	}
	return ID(s)
}

// WithCorrelationID returns a context carrying id
func WithCorrelationID(ctx context.Context, id ID) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// FromContext extracts the correlation ID, or "" when absent
func FromContext(ctx context.Context) ID {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationIDKey).(ID)
	return id
}

// WithClientIP returns a context carrying the client address
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIPFromContext extracts the client address, or "" when absent
func ClientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPKey).(string)
	return ip
}

// ContextFields returns the correlation fields present in ctx
func ContextFields(ctx context.Context) logrus.Fields {
	fields := logrus.Fields{}
	if id := FromContext(ctx); !id.IsEmpty() {
		fields["correlation_id"] = id.String()
	}
	if ip := ClientIPFromContext(ctx); ip != "" {
		fields["client_ip"] = ip
	}
	return fields
}

// Entry decorates entry with the correlation fields present in ctx
func Entry(ctx context.Context, entry *logrus.Entry) *logrus.Entry {
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return entry
	}
	return entry.WithFields(fields)
}
