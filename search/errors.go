package search

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"net/http"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"

	"github.com/goliatone/go-recall-search/cursor"
	"github.com/goliatone/go-recall-search/keyset"
)

// Kind groups errors by who has to act on them.
type Kind string

const (
	KindClientInput         Kind = "client_input"
	KindCursor              Kind = "cursor"
	KindNotFound            Kind = "not_found"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindInternal            Kind = "internal"
	KindTimeout             Kind = "timeout"
	KindCanceled            Kind = "canceled"
)

// Error codes returned to clients.
const (
	CodeInvalidFilter       = "invalid_filter"
	CodeInvalidLimit        = "invalid_limit"
	CodeUnconstrainedFilter = "unconstrained_filter"
	CodeInvalidID           = "invalid_id"
	CodeRecordNotFound      = "record_not_found"
	CodeStoreUnavailable    = "store_unavailable"
	CodeStoreFailure        = "store_failure"
	CodeQueryTimeout        = "query_timeout"
	CodeRequestCanceled     = "request_canceled"
)

// StatusClientClosedRequest is reported when the caller went away before
// the query finished. Nothing is written to a closed connection, so the
// status only shows up in logs and metrics.
const StatusClientClosedRequest = 499

// Categories attached to the go-errors detail of each Kind.
var (
	CategoryCursor   = goerrors.CategoryBadInput.Extend("cursor")
	CategoryTimeout  = goerrors.CategoryOperation.Extend("timeout")
	CategoryCanceled = goerrors.CategoryOperation.Extend("canceled")
)

func (k Kind) category() goerrors.Category {
	switch k {
	case KindClientInput:
		return goerrors.CategoryBadInput
	case KindCursor:
		return CategoryCursor
	case KindNotFound:
		return goerrors.CategoryNotFound
	case KindUpstreamUnavailable:
		return goerrors.CategoryExternal
	case KindTimeout:
		return CategoryTimeout
	case KindCanceled:
		return CategoryCanceled
	}
	return goerrors.CategoryInternal
}

// Error is the failure type returned by Service and DetailService. Message
// is safe to show clients. Err is a *goerrors.Error carrying the category,
// the validation fields and, as its Source, the underlying cause.
type Error struct {
	Kind          Kind
	Code          string
	Status        int
	Message       string
	CorrelationID string
	Err           error
}

func newError(kind Kind, code string, status int, message string, cause error) *Error {
	detail := goerrors.New(message, kind.category()).
		WithCode(status).
		WithTextCode(code)
	detail.Source = cause
	return &Error{
		Kind:    kind,
		Code:    code,
		Status:  status,
		Message: message,
		Err:     detail,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

// Unwrap returns the go-errors detail.
func (e *Error) Unwrap() error {
	return e.Err
}

// Detail returns the go-errors representation, or nil.
func (e *Error) Detail() *goerrors.Error {
	var detail *goerrors.Error
	if errors.As(e.Err, &detail) {
		return detail
	}
	return nil
}

// Category returns the error category.
func (e *Error) Category() goerrors.Category {
	if d := e.Detail(); d != nil {
		return d.Category
	}
	return e.Kind.category()
}

// Fields returns per field validation messages, keyed by request field.
func (e *Error) Fields() map[string]string {
	d := e.Detail()
	if d == nil || len(d.ValidationErrors) == 0 {
		return nil
	}
	return d.ValidationMap()
}

// ServerSide reports whether the error is the service's fault rather than
// the client's.
func (e *Error) ServerSide() bool {
	return e.Status >= http.StatusInternalServerError
}

func (e *Error) withCorrelationID() *Error {
	e.CorrelationID = uuid.NewString()
	if d := e.Detail(); d != nil {
		d.WithRequestID(e.CorrelationID)
	}
	return e
}

// AsError extracts an *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var serr *Error
	if errors.As(err, &serr) {
		return serr, true
	}
	return nil, false
}

// NewClientError returns a 400 error with the given code.
func NewClientError(code, message string, err error) *Error {
	return clientError(code, message, err)
}

// NewInternalError returns a 500 error with a fresh correlation id.
func NewInternalError(message string, err error) *Error {
	return newError(KindInternal, CodeStoreFailure, http.StatusInternalServerError, message, err).withCorrelationID()
}

func clientError(code, message string, err error) *Error {
	return newError(KindClientInput, code, http.StatusBadRequest, message, err)
}

// validationError turns ozzo field errors into a client error. Limit
// problems get their own code.
func validationError(err error) *Error {
	code := CodeInvalidFilter
	var fields validation.Errors
	if errors.As(err, &fields) {
		if _, ok := fields["limit"]; ok {
			code = CodeInvalidLimit
		}
	}
	message := strings.TrimSuffix(err.Error(), ".")

	detail := goerrors.FromOzzoValidation(err, message).
		WithCode(http.StatusBadRequest).
		WithTextCode(code)
	detail.Source = err

	return &Error{
		Kind:    KindClientInput,
		Code:    code,
		Status:  http.StatusBadRequest,
		Message: message,
		Err:     detail,
	}
}

func cursorError(err error) *Error {
	var cerr *cursor.Error
	if !errors.As(err, &cerr) {
		cerr = cursor.ErrInvalidCursor
	}
	return newError(KindCursor, cerr.Code(), http.StatusBadRequest, cerr.Error(), err)
}

func notFoundError(id string, err error) *Error {
	return newError(KindNotFound, CodeRecordNotFound, http.StatusNotFound, "no recall with id "+id, err)
}

// planError classifies a planner failure.
func planError(err error) *Error {
	switch {
	case errors.Is(err, keyset.ErrUnconstrained):
		return clientError(CodeUnconstrainedFilter, "search text, an agency or a date bound is required", err)
	case errors.Is(err, keyset.ErrInvalidLimit):
		return clientError(CodeInvalidLimit, "limit: must be between 1 and 100", err)
	}
	return storeError(err)
}

// storeError classifies a record store failure. Server side failures get
// a correlation id.
func storeError(err error) *Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), hasTextCode(err, "DATABASE_TIMEOUT"):
		return newError(KindTimeout, CodeQueryTimeout, http.StatusGatewayTimeout,
			"the search took too long; try a narrower filter", err).withCorrelationID()
	case errors.Is(err, context.Canceled):
		return newError(KindCanceled, CodeRequestCanceled, StatusClientClosedRequest,
			"the request was canceled", err)
	case isUnavailable(err):
		return newError(KindUpstreamUnavailable, CodeStoreUnavailable, http.StatusServiceUnavailable,
			"the record store is unavailable; try again shortly", err).withCorrelationID()
	}
	return newError(KindInternal, CodeStoreFailure, http.StatusInternalServerError,
		"the search could not be completed", err).withCorrelationID()
}

// isUnavailable reports connection level failures, as opposed to errors
// raised by a store that answered.
func isUnavailable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	if goerrors.IsCategory(err, goerrors.CategoryExternal) ||
		goerrors.IsCategory(err, repository.CategoryDatabaseConnection) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// hasTextCode reports whether a go-errors value in err's chain carries code.
func hasTextCode(err error, code string) bool {
	var rerr *goerrors.RetryableError
	if errors.As(err, &rerr) && rerr.BaseError != nil && rerr.TextCode == code {
		return true
	}
	var gerr *goerrors.Error
	return errors.As(err, &gerr) && gerr.TextCode == code
}
