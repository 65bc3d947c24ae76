// Package errors provides the error taxonomy of the chatbot and its mapping
// to HTTP responses.
package errors

import (
	stderrors "errors"
	"net/http"

	"github.com/ory/herodot"
	log "github.com/sirupsen/logrus"

	"rag-chatbot/internal/config"
)

// StandardError represents a standard application error
type StandardError struct {
	Type    string
	Message string
	Cause   error
}

// Error implements the error interface
func (e *StandardError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause
func (e *StandardError) Unwrap() error {
	return e.Cause
}

// Is matches on Type so that wrapped copies compare equal to the sentinel.
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	return ok && t.Type == e.Type
}

// WithCause adds a cause to the error
func (e *StandardError) WithCause(cause error) *StandardError {
	return &StandardError{
		Type:    e.Type,
		Message: e.Message,
		Cause:   cause,
	}
}

// WithMessage returns a copy with a more specific message.
func (e *StandardError) WithMessage(msg string) *StandardError {
	return &StandardError{
		Type:    e.Type,
		Message: msg,
		Cause:   e.Cause,
	}
}

var (
	// ErrBackend wraps vector store, LLM, database and speech failures.
	ErrBackend = &StandardError{
		Type:    "BACKEND_UNAVAILABLE",
		Message: "Backend request failed",
	}

	// ErrNotImplemented is returned by capabilities a provider never built.
	ErrNotImplemented = &StandardError{
		Type:    "NOT_IMPLEMENTED",
		Message: "Operation not implemented",
	}

	// ErrNotReady is returned when a provider is used before setup completed.
	ErrNotReady = &StandardError{
		Type:    "NOT_READY",
		Message: "Provider is not ready",
	}

	// ErrInvalidInput indicates a malformed request.
	ErrInvalidInput = &StandardError{
		Type:    "INVALID_INPUT",
		Message: "Invalid input",
	}

	// ErrUnauthorized indicates a missing or rejected credential.
	ErrUnauthorized = &StandardError{
		Type:    "UNAUTHORIZED",
		Message: "Authentication required",
	}
)

// Backend wraps cause as a backend failure of the named collaborator.
func Backend(name string, cause error) error {
	if cause == nil {
		return nil
	}
	return &StandardError{
		Type:    ErrBackend.Type,
		Message: name + " request failed",
		Cause:   cause,
	}
}

// NotImplemented reports an operation that a provider does not offer.
func NotImplemented(op string) error {
	return ErrNotImplemented.WithMessage(op + " is not implemented")
}

// Is and As re-export the standard library helpers so callers need a single import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

// ErrorHandler converts errors into herodot errors based on configuration
type ErrorHandler struct {
	config *config.Config
}

// NewErrorHandler creates a new error handler with the given configuration
func NewErrorHandler(cfg *config.Config) *ErrorHandler {
	return &ErrorHandler{
		config: cfg,
	}
}

// ToHTTP maps err to a client-safe herodot error. Internal details are only
// attached in detailed mode outside production.
func (h *ErrorHandler) ToHTTP(err error, requestID string) *herodot.DefaultError {
	var out *herodot.DefaultError

	switch {
	case Is(err, ErrInvalidInput):
		out = herodot.ErrBadRequest.WithReason("Invalid request")
	case Is(err, ErrUnauthorized):
		out = herodot.ErrUnauthorized.WithReason("Authentication required")
	case Is(err, ErrNotImplemented):
		out = &herodot.DefaultError{
			CodeField:   http.StatusNotImplemented,
			StatusField: http.StatusText(http.StatusNotImplemented),
			ErrorField:  "The requested operation is not supported by this tenant",
		}
	case Is(err, ErrNotReady):
		out = &herodot.DefaultError{
			CodeField:   http.StatusServiceUnavailable,
			StatusField: http.StatusText(http.StatusServiceUnavailable),
			ErrorField:  "Service is starting",
		}
	default:
		out = herodot.ErrInternalServerError.WithReason("An internal error occurred")
	}

	if h.detailed() {
		out = out.WithDebug(err.Error())
	}
	out.RIDField = h.getRequestID(requestID)

	return out
}

// Handle logs err and returns the response to write.
func (h *ErrorHandler) Handle(r *http.Request, err error, requestID string) *herodot.DefaultError {
	out := h.ToHTTP(err, requestID)
	h.logError(out.StatusField, err, requestID, r)
	return out
}

func (h *ErrorHandler) detailed() bool {
	return h.config.IsDevelopment() && h.config.Security.ErrorMode != "secure"
}

// logError logs errors with context
func (h *ErrorHandler) logError(errorType string, err error, requestID string, r *http.Request) {
	entry := log.WithFields(log.Fields{
		"type":       errorType,
		"request_id": requestID,
		"method":     r.Method,
		"path":       r.URL.Path,
		"user_agent": r.Header.Get("User-Agent"),
		"remote_ip":  ClientIP(r),
	})

	if err != nil {
		entry = entry.WithError(err)
	}

	entry.Error("request failed")
}

// getRequestID returns request ID for logging, only in development
func (h *ErrorHandler) getRequestID(requestID string) string {
	if h.config.IsProduction() && h.config.Security.ErrorMode == "secure" {
		return ""
	}
	return requestID
}

// ClientIP extracts the real client IP from request headers
func ClientIP(r *http.Request) string {
	// Check X-Forwarded-For header first (for proxies)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	// Fall back to RemoteAddr
	return r.RemoteAddr
}
