// Package apperr is the error taxonomy shared by services and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers and for HTTP status mapping
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindCapacity
	KindForbidden
	KindNotFound
	KindConflict
	KindUnsupported
	KindUnavailable
	KindDuplicateReference
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindCapacity:
		return "capacity"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnsupported:
		return "unsupported"
	case KindUnavailable:
		return "unavailable"
	case KindDuplicateReference:
		return "duplicate_reference"
	default:
		return "internal"
	}
}

// Machine-readable codes surfaced to clients
const (
	CodeSoldOut                  = "SOLD_OUT"
	CodeInsufficientCapacity     = "INSUFFICIENT_CAPACITY"
	CodeAllConsumed              = "ALL_CONSUMED"
	CodeAlreadyProcessed         = "ALREADY_PROCESSED"
	CodeGroupPurchaseUnsupported = "GROUP_PURCHASE_UNSUPPORTED"
	CodeInvalidSignature         = "INVALID_SIGNATURE"
	CodeWalletUnavailable        = "WALLET_UNAVAILABLE"
	CodeOwnEvent                 = "OWN_EVENT"
	CodeNotEventOwner            = "NOT_EVENT_OWNER"
	CodeRoleNotAllowed           = "ROLE_NOT_ALLOWED"
	CodeUnauthorized             = "UNAUTHORIZED"
	CodeRateLimited              = "RATE_LIMITED"
)

// Error is a classified, user-presentable error
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind, and on Code when the target carries one
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// WithDetail attaches a structured field to the response payload
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Sentinels for errors.Is
var (
	ErrValidation         = &Error{Kind: KindValidation}
	ErrCapacity           = &Error{Kind: KindCapacity}
	ErrForbidden          = &Error{Kind: KindForbidden}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrConflict           = &Error{Kind: KindConflict}
	ErrAllConsumed        = &Error{Kind: KindConflict, Code: CodeAllConsumed}
	ErrUnsupported        = &Error{Kind: KindUnsupported}
	ErrUnavailable        = &Error{Kind: KindUnavailable}
	ErrDuplicateReference = &Error{Kind: KindDuplicateReference}
)

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Capacity(code, message string) *Error {
	return &Error{Kind: KindCapacity, Code: code, Message: message}
}

func Forbidden(code, message string) *Error {
	return &Error{Kind: KindForbidden, Code: code, Message: message}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Conflict(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

func Unsupported(code, message string) *Error {
	return &Error{Kind: KindUnsupported, Code: code, Message: message}
}

func Unavailable(code, message string, err error) *Error {
	return &Error{Kind: KindUnavailable, Code: code, Message: message, Err: err}
}

func DuplicateReference(reference string) *Error {
	return &Error{Kind: KindDuplicateReference, Message: fmt.Sprintf("reference code %s already exists", reference)}
}

// As unwraps err to an *Error
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err, KindInternal when unclassified
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error to its response status
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindCapacity, KindUnsupported:
		return http.StatusBadRequest
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
