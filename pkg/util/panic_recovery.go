package util

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"crisis-monitor/pkg/errors"

	"github.com/sirupsen/logrus"
)

// PanicHandler provides centralized panic recovery and logging
type PanicHandler struct {
	logger *logrus.Entry
}

// NewPanicHandler creates a new panic handler
func NewPanicHandler(logger *logrus.Logger) *PanicHandler {
	return &PanicHandler{logger: logrus.NewEntry(logger)}
}

func (ph *PanicHandler) log(component string, r interface{}) {
	ph.logger.WithFields(logrus.Fields{
		"component":   component,
		"panic_value": fmt.Sprint(r),
		"stack_trace": string(debug.Stack()),
	}).Error("Panic recovered")
}

// Recover recovers from panics and logs them. It must be deferred directly.
func (ph *PanicHandler) Recover(component string) {
	if r := recover(); r != nil {
		ph.log(component, r)
	}
}

// Call runs fn and converts a panic into an internal error
func (ph *PanicHandler) Call(component string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			ph.log(component, r)
			err = errors.NewInternalError("recovered from panic", map[string]interface{}{
				"component": component,
			})
		}
	}()
	fn()
	return nil
}

// SafeGo starts a goroutine with panic recovery
func (ph *PanicHandler) SafeGo(component string, fn func()) {
	go func() {
		defer ph.Recover(component)
		fn()
	}()
}

// Middleware answers 500 INTERNAL_ERROR when a handler panics. A handler
// that already wrote its header keeps its partial response.
func (ph *PanicHandler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			ph.log("http", rec)
			errors.WriteError(w, errors.NewInternalError("internal server error", map[string]interface{}{
				"path": r.URL.Path,
			}))
		}()
		next.ServeHTTP(w, r)
	})
}
