// Package errors defines the application error shape shared across
// services and handlers: { code, reason, message, metadata }.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Scheduler error reasons. String-typed at the boundary so handlers and
// operators can match without importing service internals.
const (
	ReasonEmptyPool        = "EMPTY_POOL"
	ReasonAllLimited       = "ALL_LIMITED"
	ReasonRefreshTransient = "REFRESH_TRANSIENT"
	ReasonRefreshPermanent = "REFRESH_PERMANENT"
	ReasonProjectIDFetch   = "PROJECT_ID_FETCH"
	ReasonLoadIO           = "LOAD_IO"
	ReasonBadRequest       = "BAD_REQUEST"
	ReasonInternal         = "INTERNAL"
)

// AppError carries an HTTP-ish status code, a machine reason and a
// human message. Metadata is optional operator context (account_id etc.).
type AppError struct {
	Code     int32             `json:"code"`
	Reason   string            `json:"reason"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (e *AppError) Error() string {
	return e.Message
}

// New creates an AppError.
func New(code int32, reason, message string) *AppError {
	return &AppError{Code: code, Reason: reason, Message: message}
}

// Newf creates an AppError with a formatted message.
func Newf(code int32, reason, format string, args ...any) *AppError {
	return &AppError{Code: code, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// WithMetadata attaches key/value context and returns the error.
func (e *AppError) WithMetadata(kv map[string]string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string, len(kv))
	}
	for k, v := range kv {
		e.Metadata[k] = v
	}
	return e
}

// FromError lifts any error into an AppError. Unknown errors become
// 500/INTERNAL with the original message preserved.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return &AppError{
		Code:    int32(http.StatusInternalServerError),
		Reason:  ReasonInternal,
		Message: err.Error(),
	}
}

// Reason extracts the reason of an error, or ReasonInternal for plain errors.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	return FromError(err).Reason
}
