package cursor

import "errors"

// Error is a cursor rejection. Messages are safe to return to clients and
// never describe how tokens are signed.
type Error struct {
	code    string
	message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.message
}

// Code returns the machine readable sub-code for the rejection.
func (e *Error) Code() string {
	return e.code
}

var (
	// ErrInvalidCursor is returned for malformed, tampered or undecodable tokens.
	ErrInvalidCursor = &Error{
		code:    "invalid_cursor",
		message: "cursor is not valid; discard it and restart the search from the first page",
	}
	// ErrCursorExpired is returned when a correctly signed cursor is past its expiry.
	ErrCursorExpired = &Error{
		code:    "cursor_expired",
		message: "cursor has expired; discard it and restart the search from the first page",
	}
	// ErrCursorFilterMismatch is returned when a cursor is presented with a different filter.
	ErrCursorFilterMismatch = &Error{
		code:    "cursor_filter_mismatch",
		message: "cursor belongs to a different search; discard it and restart the search from the first page",
	}
	// ErrUnsupportedCursorVersion is returned for cursors minted by an unknown codec version.
	ErrUnsupportedCursorVersion = &Error{
		code:    "unsupported_cursor_version",
		message: "cursor version is not supported; discard it and restart the search from the first page",
	}
)

// IsCursorError reports whether err belongs to the cursor error family.
func IsCursorError(err error) bool {
	var cerr *Error
	return errors.As(err, &cerr)
}

// CodeOf returns the sub-code of a cursor error, or the empty string.
func CodeOf(err error) string {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.code
	}
	return ""
}
