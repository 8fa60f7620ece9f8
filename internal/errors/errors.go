package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	CategoryClient ErrorCategory = "client"
	CategoryServer ErrorCategory = "server"
)

// Common error codes
const (
	// Client errors (4xx)
	CodeValidationError = "VALIDATION_ERROR"
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeRateLimited     = "RATE_LIMITED"

	// Authentication specific
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeEmailExists        = "EMAIL_EXISTS"

	// Resource specific
	CodeBookNotFound = "BOOK_NOT_FOUND"
	CodePageNotFound = "PAGE_NOT_FOUND"

	// Server errors (5xx)
	CodeInternalError = "INTERNAL_ERROR"
	CodeDatabaseError = "DATABASE_ERROR"
)

// AppError represents a structured application error
type AppError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   ErrorCategory     `json:"-"`
	HTTPStatus int               `json:"-"`
	Details    map[string]any    `json:"details,omitempty"`
	Headers    map[string]string `json:"-"`
	Cause      error             `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

// WithCause sets the underlying cause of the error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// WithHeader sets a response header written alongside the error body
func (e *AppError) WithHeader(key, value string) *AppError {
	if e.Headers == nil {
		e.Headers = make(map[string]string)
	}
	e.Headers[key] = value
	return e
}

// ErrorResponse is the JSON structure returned to clients
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody contains the error details
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// New creates a new AppError
func New(code string, message string, category ErrorCategory, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Category:   category,
		HTTPStatus: httpStatus,
	}
}

// Client error constructors

func BadRequest(message string) *AppError {
	return New(CodeInvalidRequest, message, CategoryClient, http.StatusBadRequest)
}

func ValidationError(message string) *AppError {
	return New(CodeValidationError, message, CategoryClient, http.StatusBadRequest)
}

// Unauthorized is the generic bearer failure; it always carries the
// WWW-Authenticate challenge.
func Unauthorized(message string) *AppError {
	return New(CodeUnauthorized, message, CategoryClient, http.StatusUnauthorized).
		WithHeader("WWW-Authenticate", "Bearer")
}

func InvalidCredentials() *AppError {
	return New(CodeInvalidCredentials, "Invalid credentials", CategoryClient, http.StatusUnauthorized).
		WithHeader("WWW-Authenticate", "Bearer")
}

func InvalidToken(message string) *AppError {
	return New(CodeInvalidToken, message, CategoryClient, http.StatusUnauthorized).
		WithHeader("WWW-Authenticate", "Bearer")
}

func NotFound(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource), CategoryClient, http.StatusNotFound)
}

func BookNotFound() *AppError {
	return New(CodeBookNotFound, "Book not found", CategoryClient, http.StatusNotFound)
}

func PageNotFound(page, totalPages int) *AppError {
	return New(CodePageNotFound, fmt.Sprintf("Page %d does not exist. Total pages: %d", page, totalPages), CategoryClient, http.StatusNotFound)
}

func Conflict(message string) *AppError {
	return New(CodeConflict, message, CategoryClient, http.StatusConflict)
}

// EmailExists is reported as 400 rather than 409 to keep the public contract
// of the registration endpoint.
func EmailExists() *AppError {
	return New(CodeEmailExists, "Email already registered", CategoryClient, http.StatusBadRequest)
}

func RateLimited() *AppError {
	return New(CodeRateLimited, "rate limit exceeded", CategoryClient, http.StatusTooManyRequests)
}

// Server error constructors

func InternalError(message string) *AppError {
	return New(CodeInternalError, message, CategoryServer, http.StatusInternalServerError)
}

func DatabaseError(message string) *AppError {
	return New(CodeDatabaseError, message, CategoryServer, http.StatusInternalServerError)
}

// AsAppError converts any error into an AppError, treating unknown errors as
// internal.
func AsAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return InternalError("an unexpected error occurred").WithCause(err)
}

// WriteError writes an error response to the HTTP response writer
func WriteError(w http.ResponseWriter, requestID string, err error) {
	appErr := AsAppError(err)

	resp := ErrorResponse{
		Error: ErrorBody{
			Code:      appErr.Code,
			Message:   appErr.Message,
			RequestID: requestID,
			Details:   appErr.Details,
		},
	}

	for k, v := range appErr.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("Content-Type", "application/json")
	if requestID != "" {
		w.Header().Set(RequestIDHeader, requestID)
	}
	w.WriteHeader(appErr.HTTPStatus)
	json.NewEncoder(w).Encode(resp)
}

// WriteJSON writes a JSON response with the request ID header
func WriteJSON(w http.ResponseWriter, requestID string, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	if requestID != "" {
		w.Header().Set(RequestIDHeader, requestID)
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// IsClientError returns true if the error is a client error
func IsClientError(err error) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}
	return appErr.Category == CategoryClient
}

// IsServerError returns true if the error is a server error
func IsServerError(err error) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return true
	}
	return appErr.Category == CategoryServer
}
