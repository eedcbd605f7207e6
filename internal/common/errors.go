// Package common provides shared utilities for Depot
package common

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Classification buckets an error by whether retrying it can help.
type Classification int

const (
	ClassUnknown Classification = iota
	ClassPermanent
	ClassRetryable
)

func (c Classification) String() string {
	switch c {
	case ClassPermanent:
		return "permanent"
	case ClassRetryable:
		return "retryable"
	default:
		return "unknown"
	}
}

// PermanentError marks a failure whose retry is known not to help.
type PermanentError struct {
	Message string
	Code    string
	Status  int
	Err     error
}

func (e *PermanentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *PermanentError) Unwrap() error { return e.Err }

// NewPermanentError creates a permanent error with an optional wrapped cause.
func NewPermanentError(message string, err error) *PermanentError {
	return &PermanentError{Message: message, Err: err}
}

// RetryableError marks a failure whose retry may succeed.
type RetryableError struct {
	Message string
	Code    string
	Status  int
	Err     error
}

func (e *RetryableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *RetryableError) Unwrap() error { return e.Err }

// NewRetryableError creates a retryable error with an optional wrapped cause.
func NewRetryableError(message string, err error) *RetryableError {
	return &RetryableError{Message: message, Err: err}
}

// AppError is an application-level failure with an HTTP status for the
// transport layer. The message is safe to display to users.
type AppError struct {
	Message string
	Code    string
	Status  int
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// HTTPStatus returns the HTTP status, defaulting to 500.
func (e *AppError) HTTPStatus() int {
	if e.Status == 0 {
		return http.StatusInternalServerError
	}
	return e.Status
}

// NewAppError creates an application error carrying an HTTP status.
func NewAppError(status int, code, message string) *AppError {
	return &AppError{Message: message, Code: code, Status: status}
}

// Error codes known to be permanent.
var permanentCodes = map[string]bool{
	"ENOENT":               true,
	"EACCES":               true,
	"EPERM":                true,
	"INVALID_FILE":         true,
	"MALFORMED_DATA":       true,
	"AUTHENTICATION_ERROR": true,
	"AUTHORIZATION_ERROR":  true,
}

// Error codes known to be retryable.
var retryableCodes = map[string]bool{
	"ECONNRESET":          true,
	"ECONNREFUSED":        true,
	"ETIMEDOUT":           true,
	"ENOTFOUND":           true,
	"EAI_AGAIN":           true,
	"EPIPE":               true,
	"NETWORK_ERROR":       true,
	"TIMEOUT_ERROR":       true,
	"SERVICE_UNAVAILABLE": true,
	"RATE_LIMITED":        true,
	"TEMPORARY_FAILURE":   true,
}

// Message substrings indicating a permanent failure. Checked before the
// retryable patterns so "invalid connection" classifies permanent.
var permanentPatterns = []string{
	"invalid",
	"unauthorized",
	"forbidden",
	"not found",
	"malformed",
	"corrupt",
	"unsupported",
	"exceeded quota",
}

// Message substrings indicating a transient failure.
var retryablePatterns = []string{
	"timeout",
	"network",
	"connection",
	"unavailable",
	"rate limit",
	"temporary",
	"transient",
	"socket hang up",
	"econnreset",
	"econnrefused",
	"etimedout",
}

// statusOf extracts an HTTP status carried by the error chain, 0 when absent.
func statusOf(err error) int {
	var app *AppError
	if errors.As(err, &app) && app.Status != 0 {
		return app.Status
	}
	var perm *PermanentError
	if errors.As(err, &perm) && perm.Status != 0 {
		return perm.Status
	}
	var retr *RetryableError
	if errors.As(err, &retr) && retr.Status != 0 {
		return retr.Status
	}
	return 0
}

// codeOf extracts an error code carried by the error chain, "" when absent.
func codeOf(err error) string {
	var app *AppError
	if errors.As(err, &app) && app.Code != "" {
		return app.Code
	}
	var perm *PermanentError
	if errors.As(err, &perm) && perm.Code != "" {
		return perm.Code
	}
	var retr *RetryableError
	if errors.As(err, &retr) && retr.Code != "" {
		return retr.Code
	}
	return ""
}

// Classify decides whether an error is permanent, retryable, or unknown.
// Producer tags (PermanentError/RetryableError in the chain) override the
// heuristics. Heuristics run in order: HTTP status, error code, message
// substring match with permanent patterns taking precedence.
func Classify(err error) Classification {
	if err == nil {
		return ClassUnknown
	}

	var perm *PermanentError
	if errors.As(err, &perm) {
		return ClassPermanent
	}
	var retr *RetryableError
	if errors.As(err, &retr) {
		return ClassRetryable
	}

	if s := statusOf(err); s != 0 {
		if s >= 400 && s < 500 && s != http.StatusRequestTimeout && s != http.StatusTooManyRequests {
			return ClassPermanent
		}
		if s >= 500 || s == http.StatusRequestTimeout || s == http.StatusTooManyRequests {
			return ClassRetryable
		}
	}

	if code := codeOf(err); code != "" {
		if permanentCodes[code] {
			return ClassPermanent
		}
		if retryableCodes[code] {
			return ClassRetryable
		}
	}

	msg := strings.ToLower(err.Error())
	for _, p := range permanentPatterns {
		if strings.Contains(msg, p) {
			return ClassPermanent
		}
	}
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return ClassRetryable
		}
	}

	return ClassUnknown
}

// IsPermanent reports whether the error classifies as permanent.
func IsPermanent(err error) bool {
	return Classify(err) == ClassPermanent
}

// IsRetryable reports whether the error classifies as retryable.
func IsRetryable(err error) bool {
	return Classify(err) == ClassRetryable
}
