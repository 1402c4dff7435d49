package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeConflict    ErrorType = "conflict"
	ErrorTypeUpstream    ErrorType = "upstream"
	ErrorTypeUnavailable ErrorType = "unavailable"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypePersistence ErrorType = "persistence"
	ErrorTypeConfig      ErrorType = "config"
	ErrorTypeInternal    ErrorType = "internal"
)

// AppError represents a structured application error
type AppError struct {
	Type    ErrorType      `json:"type"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Cause   error          `json:"cause,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches on Code so sentinel comparisons work across wrapped instances.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

func newAppError(typ ErrorType, code, message string, cause error) *AppError {
	return &AppError{
		Type:    typ,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Error constructors for different types
func NewValidationError(code, message string, cause error) *AppError {
	return newAppError(ErrorTypeValidation, code, message, cause)
}

func NewAuthError(code, message string, cause error) *AppError {
	return newAppError(ErrorTypeAuth, code, message, cause)
}

func NewNotFoundError(code, message string, cause error) *AppError {
	return newAppError(ErrorTypeNotFound, code, message, cause)
}

func NewConflictError(code, message string, cause error) *AppError {
	return newAppError(ErrorTypeConflict, code, message, cause)
}

func NewUpstreamError(code, message string, cause error) *AppError {
	return newAppError(ErrorTypeUpstream, code, message, cause)
}

func NewUnavailableError(code, message string, cause error) *AppError {
	return newAppError(ErrorTypeUnavailable, code, message, cause)
}

func NewTimeoutError(code, message string, cause error) *AppError {
	return newAppError(ErrorTypeTimeout, code, message, cause)
}

func NewPersistenceError(code, message string, cause error) *AppError {
	return newAppError(ErrorTypePersistence, code, message, cause)
}

func NewConfigError(code, message string, cause error) *AppError {
	return newAppError(ErrorTypeConfig, code, message, cause)
}

func NewInternalError(code, message string, cause error) *AppError {
	return newAppError(ErrorTypeInternal, code, message, cause)
}

// WithContext adds context to an error
func (e *AppError) WithContext(key string, value any) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// As returns the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether any AppError in err's chain carries code.
func HasCode(err error, code string) bool {
	for err != nil {
		if appErr, ok := err.(*AppError); ok && appErr.Code == code {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// HTTPStatus maps an error to the status code a handler should answer with.
func HTTPStatus(err error) int {
	appErr, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch appErr.Type {
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeAuth:
		return http.StatusUnauthorized
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypeUpstream:
		return http.StatusBadGateway
	case ErrorTypeUnavailable:
		return http.StatusServiceUnavailable
	case ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Common error codes
const (
	ErrCodeInvalidRequest         = "INVALID_REQUEST"
	ErrCodeMissingField           = "MISSING_FIELD"
	ErrCodeUnsupportedLanguage    = "UNSUPPORTED_LANGUAGE"
	ErrCodeAuthRequired           = "AUTH_REQUIRED"
	ErrCodeInvalidToken           = "INVALID_TOKEN"
	ErrCodeNotFound               = "NOT_FOUND"
	ErrCodeAlreadyExists          = "ALREADY_EXISTS"
	ErrCodeExperimentTooNarrow    = "EXPERIMENT_TOO_NARROW"
	ErrCodeExperimentClosed       = "EXPERIMENT_CLOSED"
	ErrCodeInvalidOutcomeUpdate   = "INVALID_OUTCOME_UPDATE"
	ErrCodeUpstreamUnavailable    = "UPSTREAM_UNAVAILABLE"
	ErrCodeIngestionUnavailable   = "INGESTION_UNAVAILABLE"
	ErrCodeDeadlineExceeded       = "DEADLINE_EXCEEDED"
	ErrCodePersistenceCorrupt     = "PERSISTENCE_CORRUPT"
	ErrCodePersistenceWriteFailed = "PERSISTENCE_WRITE_FAILED"
	ErrCodeMissingAPIKey          = "MISSING_API_KEY"
	ErrCodeInvalidConfig          = "INVALID_CONFIG"
	ErrCodeEmbedderFailed         = "EMBEDDER_FAILED"
	ErrCodeTranslationFailed      = "TRANSLATION_FAILED"
	ErrCodeDeliveryFailed         = "DELIVERY_FAILED"
	ErrCodeRenderFailed           = "RENDER_FAILED"
	ErrCodeInternal               = "INTERNAL_ERROR"
)

// Sentinels for errors.Is comparisons.
var (
	ErrExperimentTooNarrow  = &AppError{Type: ErrorTypeConflict, Code: ErrCodeExperimentTooNarrow, Message: "experiment variants are not distinguishable"}
	ErrInvalidOutcomeUpdate = &AppError{Type: ErrorTypeConflict, Code: ErrCodeInvalidOutcomeUpdate, Message: "invalid outcome transition"}
	ErrIngestionUnavailable = &AppError{Type: ErrorTypeUnavailable, Code: ErrCodeIngestionUnavailable, Message: "all job sources are unavailable"}
	ErrPersistenceCorrupt   = &AppError{Type: ErrorTypePersistence, Code: ErrCodePersistenceCorrupt, Message: "state file cannot be parsed"}
)
