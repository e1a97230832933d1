package core

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorCodeBadInput               = "BAD_INPUT"
	ErrorCodeInvalidCredentials     = "INVALID_CREDENTIALS"
	ErrorCodeAlreadyBound           = "ALREADY_BOUND"
	ErrorCodeAccountOccupied        = "ACCOUNT_OCCUPIED"
	ErrorCodeNotBound               = "NOT_BOUND"
	ErrorCodeLoginAlreadyInProgress = "LOGIN_ALREADY_IN_PROGRESS"
	ErrorCodeRefreshInFlight        = "REFRESH_IN_FLIGHT"
	ErrorCodeNetwork                = "NETWORK_ERROR"
	ErrorCodeRateLimited            = "RATE_LIMITED"
	ErrorCodeAPI                    = "API_ERROR"
	ErrorCodeHTTPClient             = "HTTP_CLIENT_ERROR"
	ErrorCodeCSRFMismatch           = "CSRF_MISMATCH"
	ErrorCodeTokenConsumed          = "TOKEN_CONSUMED"
	ErrorCodeCryptoIntegrity        = "CRYPTO_INTEGRITY_FAILURE"
	ErrorCodeCryptoKeyUnavailable   = "CRYPTO_KEY_UNAVAILABLE"
	ErrorCodeQRExpired              = "QR_EXPIRED"
	ErrorCodeLoginExpired           = "LOGIN_EXPIRED"
	ErrorCodeCancelled              = "CANCELLED"
	ErrorCodeInternal               = "INTERNAL_ERROR"
)

// ErrorKind is the coarse failure class used for retry and refresh decisions.
type ErrorKind string

const (
	ErrorKindNone       ErrorKind = ""
	ErrorKindNetwork    ErrorKind = "network"
	ErrorKindAPI        ErrorKind = "api"
	ErrorKindCrypto     ErrorKind = "crypto"
	ErrorKindValidation ErrorKind = "validation"
	ErrorKindConflict   ErrorKind = "conflict"
	ErrorKindExpired    ErrorKind = "expired"
	ErrorKindNotFound   ErrorKind = "not_found"
	ErrorKindCancelled  ErrorKind = "cancelled"
	ErrorKindInternal   ErrorKind = "internal"
)

var (
	ErrAlreadyBound           = errors.New("core: principal already has an active binding")
	ErrAccountOccupied        = errors.New("core: external account is bound to another principal")
	ErrInvalidCredentials     = errors.New("core: credential bundle is incomplete")
	ErrNotBound               = errors.New("core: principal has no active binding")
	ErrLoginAlreadyInProgress = errors.New("core: login already in progress for principal")
	ErrRefreshInFlight        = errors.New("core: refresh already in flight for binding")
	ErrLoginExpired           = errors.New("core: platform session expired")
	ErrQRExpired              = errors.New("core: qr session expired")
	ErrIntegrityFailure       = errors.New("core: sealed payload failed integrity check")
	ErrKeyUnavailable         = errors.New("core: encryption key is not loaded")
)

func NewNetworkError(source error, message string, metadata map[string]any) *goerrors.Error {
	return newKindError(source, message, goerrors.CategoryExternal, http.StatusBadGateway, ErrorCodeNetwork, metadata)
}

// NewRateLimitedError reports a platform throttle. It classifies as a
// network failure so refreshes treat it as transient.
func NewRateLimitedError(message string, retryAfter time.Duration, metadata map[string]any) *goerrors.Error {
	meta := make(map[string]any, len(metadata)+1)
	for key, value := range metadata {
		meta[key] = value
	}
	if retryAfter > 0 {
		meta["retry_after_ms"] = retryAfter.Milliseconds()
	}
	return newKindError(nil, message, goerrors.CategoryRateLimit, http.StatusTooManyRequests, ErrorCodeRateLimited, meta)
}

func NewAPIError(textCode string, message string, metadata map[string]any) *goerrors.Error {
	if strings.TrimSpace(textCode) == "" {
		textCode = ErrorCodeAPI
	}
	return newKindError(nil, message, goerrors.CategoryOperation, http.StatusBadGateway, textCode, metadata)
}

func NewCryptoError(source error, message string) *goerrors.Error {
	textCode := ErrorCodeCryptoIntegrity
	if errors.Is(source, ErrKeyUnavailable) {
		textCode = ErrorCodeCryptoKeyUnavailable
	}
	return newKindError(source, message, goerrors.CategoryInternal, http.StatusInternalServerError, textCode, nil).
		WithSeverity(goerrors.SeverityCritical)
}

func NewValidationError(textCode string, message string, fields ...goerrors.FieldError) *goerrors.Error {
	if strings.TrimSpace(textCode) == "" {
		textCode = ErrorCodeBadInput
	}
	return goerrors.NewValidation(message, fields...).
		WithCode(http.StatusBadRequest).
		WithTextCode(textCode).
		WithSeverity(goerrors.SeverityError)
}

// NewDependencyError reports a handler or adapter wired without the
// collaborator it needs.
func NewDependencyError(message string) *goerrors.Error {
	return newKindError(nil, message, goerrors.CategoryInternal, http.StatusInternalServerError, ErrorCodeInternal, nil)
}

func NewConflictError(source error, textCode string, message string, metadata map[string]any) *goerrors.Error {
	return newKindError(source, message, goerrors.CategoryConflict, http.StatusConflict, textCode, metadata)
}

func NewExpiredError(source error, textCode string, message string) *goerrors.Error {
	return newKindError(source, message, goerrors.CategoryAuth, http.StatusUnauthorized, textCode, nil)
}

func NewNotBoundError(principal string) *goerrors.Error {
	return newKindError(ErrNotBound, "core: principal has no active binding", goerrors.CategoryNotFound, http.StatusNotFound, ErrorCodeNotBound, map[string]any{
		"principal_id": principal,
	})
}

func newKindError(
	source error,
	message string,
	category goerrors.Category,
	code int,
	textCode string,
	metadata map[string]any,
) *goerrors.Error {
	var err *goerrors.Error
	if source != nil {
		err = goerrors.Wrap(source, category, message)
	} else {
		err = goerrors.New(message, category)
	}
	err = err.WithCode(code).WithTextCode(textCode)
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// TextCode returns the text code carried by err, or "" when err is not a rich error.
func TextCode(err error) string {
	if err == nil {
		return ""
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr != nil {
		return strings.TrimSpace(richErr.TextCode)
	}
	return ""
}

func HasTextCode(err error, textCode string) bool {
	return err != nil && TextCode(err) == textCode
}

// KindOf classifies err into the failure taxonomy.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrorKindNone
	}
	if errors.Is(err, context.Canceled) {
		return ErrorKindCancelled
	}
	switch TextCode(err) {
	case ErrorCodeNetwork, ErrorCodeRateLimited:
		return ErrorKindNetwork
	case ErrorCodeAPI, ErrorCodeHTTPClient, ErrorCodeCSRFMismatch, ErrorCodeTokenConsumed:
		return ErrorKindAPI
	case ErrorCodeCryptoIntegrity, ErrorCodeCryptoKeyUnavailable:
		return ErrorKindCrypto
	case ErrorCodeBadInput, ErrorCodeInvalidCredentials:
		return ErrorKindValidation
	case ErrorCodeAlreadyBound, ErrorCodeAccountOccupied, ErrorCodeLoginAlreadyInProgress, ErrorCodeRefreshInFlight:
		return ErrorKindConflict
	case ErrorCodeQRExpired, ErrorCodeLoginExpired:
		return ErrorKindExpired
	case ErrorCodeNotBound:
		return ErrorKindNotFound
	case ErrorCodeCancelled:
		return ErrorKindCancelled
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr != nil {
		switch richErr.Category {
		case goerrors.CategoryExternal, goerrors.CategoryRateLimit:
			return ErrorKindNetwork
		case goerrors.CategoryOperation:
			return ErrorKindAPI
		case goerrors.CategoryBadInput, goerrors.CategoryValidation:
			return ErrorKindValidation
		case goerrors.CategoryConflict:
			return ErrorKindConflict
		case goerrors.CategoryAuth:
			return ErrorKindExpired
		case goerrors.CategoryNotFound:
			return ErrorKindNotFound
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindNetwork
	}
	return ErrorKindInternal
}

// IsRetryable reports whether err is a transient transport failure.
func IsRetryable(err error) bool {
	return KindOf(err) == ErrorKindNetwork
}

// UserMessage renders err as a short message safe to show to the principal.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch TextCode(err) {
	case ErrorCodeAlreadyBound:
		return "This account is already linked. Unlink it first."
	case ErrorCodeAccountOccupied:
		return "That platform account is linked to someone else."
	case ErrorCodeInvalidCredentials:
		return "Login did not complete. Please try again."
	case ErrorCodeNotBound:
		return "No linked account found."
	case ErrorCodeLoginAlreadyInProgress:
		return "A login is already in progress."
	case ErrorCodeQRExpired:
		return "The QR code expired. Please request a new one."
	case ErrorCodeLoginExpired:
		return "Your platform session expired. Please log in again."
	case ErrorCodeCancelled:
		return "Login cancelled."
	}
	switch KindOf(err) {
	case ErrorKindNetwork:
		return "The platform could not be reached. Please try again later."
	case ErrorKindAPI:
		return "The platform rejected the request."
	case ErrorKindCrypto:
		return "Stored credentials could not be read. Please log in again."
	case ErrorKindCancelled:
		return "Login cancelled."
	default:
		return "Something went wrong. Please try again later."
	}
}

func serviceErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureServiceErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrAlreadyBound):
		return NewConflictError(err, ErrorCodeAlreadyBound, err.Error(), nil)
	case errors.Is(err, ErrAccountOccupied):
		return NewConflictError(err, ErrorCodeAccountOccupied, err.Error(), nil)
	case errors.Is(err, ErrNotBound):
		return newKindError(err, err.Error(), goerrors.CategoryNotFound, http.StatusNotFound, ErrorCodeNotBound, nil)
	case errors.Is(err, ErrIntegrityFailure), errors.Is(err, ErrKeyUnavailable):
		return NewCryptoError(err, "core: credential cipher failure")
	case errors.Is(err, ErrLoginExpired):
		return NewExpiredError(err, ErrorCodeLoginExpired, err.Error())
	case errors.Is(err, context.Canceled):
		return newKindError(err, "core: operation cancelled", goerrors.CategoryOperation, http.StatusRequestTimeout, ErrorCodeCancelled, nil)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "unique constraint"), strings.Contains(msg, "duplicate key"):
		return NewConflictError(err, ErrorCodeAccountOccupied, "core: binding uniqueness violated", nil)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return newKindError(err, err.Error(), goerrors.CategoryBadInput, http.StatusBadRequest, ErrorCodeBadInput, nil)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureServiceErrorEnvelope(mapped)
}

func ensureServiceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = serviceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultServiceTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultServiceTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorCodeBadInput
	case goerrors.CategoryNotFound:
		return ErrorCodeNotBound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorCodeLoginExpired
	case goerrors.CategoryExternal:
		return ErrorCodeNetwork
	case goerrors.CategoryRateLimit:
		return ErrorCodeRateLimited
	case goerrors.CategoryOperation:
		return ErrorCodeAPI
	default:
		return ErrorCodeInternal
	}
}

func serviceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
