package ratelimit

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"

	"crisis-monitor/pkg/correlation"
	"crisis-monitor/pkg/errors"
	"crisis-monitor/pkg/metrics"

	"github.com/sirupsen/logrus"
)

// HTTPMiddleware applies per-client rate limiting to HTTP requests and
// to messages arriving on long-lived connections.
type HTTPMiddleware struct {
	limiter     *Limiter
	config      Config
	logger      *logrus.Entry
	exemptIPs   map[string]bool
	exemptNets  []*net.IPNet
	exemptPaths map[string]bool
}

// NewHTTPMiddleware creates a new HTTP rate limiting middleware
func NewHTTPMiddleware(config Config, logger *logrus.Logger) *HTTPMiddleware {
	m := &HTTPMiddleware{
		limiter:     NewLimiter(config.RequestsPerSecond, config.BurstSize, config.ClientTTL),
		config:      config,
		logger:      logger.WithField("component", "ratelimit"),
		exemptIPs:   make(map[string]bool),
		exemptPaths: make(map[string]bool),
	}

	for _, ip := range config.ExemptIPs {
		ip = strings.TrimSpace(ip)
		if ip == "" {
			continue
		}
		if strings.Contains(ip, "/") {
			_, ipNet, err := net.ParseCIDR(ip)
			if err != nil {
				m.logger.WithError(err).WithField("cidr", ip).Warn("Invalid CIDR in rate limit exemptions")
				continue
			}
			m.exemptNets = append(m.exemptNets, ipNet)
		} else {
			m.exemptIPs[ip] = true
		}
	}

	for _, path := range config.ExemptPaths {
		if path = strings.TrimSpace(path); path != "" {
			m.exemptPaths[path] = true
		}
	}

	m.logger.WithFields(logrus.Fields{
		"enabled":      config.Enabled,
		"rps":          config.RequestsPerSecond,
		"burst":        config.BurstSize,
		"exempt_ips":   len(m.exemptIPs) + len(m.exemptNets),
		"exempt_paths": len(m.exemptPaths),
	}).Info("HTTP rate limiting configured")

	return m
}

// Limiter returns the underlying per-client limiter
func (m *HTTPMiddleware) Limiter() *Limiter {
	return m.limiter
}

// AllowClient reports whether one more request or message from clientIP
// may proceed.
func (m *HTTPMiddleware) AllowClient(clientIP string) bool {
	if !m.config.Enabled || m.isIPExempt(clientIP) {
		return true
	}
	if m.limiter.Allow(clientIP) {
		return true
	}
	metrics.RecordRejected("rate_limited")
	return false
}

// Middleware returns an HTTP middleware that applies rate limiting. It
// expects the correlation middleware to have resolved the client IP.
func (m *HTTPMiddleware) Middleware(next http.Handler) http.Handler {
	if !m.config.Enabled {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.isPathExempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		clientIP := correlation.ClientIPFromContext(r.Context())
		if clientIP == "" {
			clientIP = remoteHost(r)
		}

		limit := fmt.Sprintf("%.0f", m.limiter.Limit())
		if !m.AllowClient(clientIP) {
			correlation.Entry(r.Context(), m.logger).WithFields(logrus.Fields{
				"client_ip": clientIP,
				"path":      r.URL.Path,
				"method":    r.Method,
			}).Warn("Rate limit exceeded")

			w.Header().Set("Retry-After", "1")
			w.Header().Set("X-RateLimit-Limit", limit)
			w.Header().Set("X-RateLimit-Remaining", "0")
			errors.WriteError(w, errors.NewResourceExhausted("rate limit exceeded, retry later", map[string]interface{}{"client_ip": clientIP}))
			return
		}

		w.Header().Set("X-RateLimit-Limit", limit)
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%.0f", math.Max(0, math.Floor(m.limiter.Tokens(clientIP)))))
		next.ServeHTTP(w, r)
	})
}

func (m *HTTPMiddleware) isIPExempt(ip string) bool {
	if m.exemptIPs[ip] {
		return true
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, ipNet := range m.exemptNets {
		if ipNet.Contains(parsed) {
			return true
		}
	}
	return false
}

func (m *HTTPMiddleware) isPathExempt(path string) bool {
	if m.exemptPaths[path] {
		return true
	}
	for p := range m.exemptPaths {
		if prefix, ok := strings.CutSuffix(p, "*"); ok && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
