// Package cursor encodes and verifies the opaque tokens that carry search
// pagination state between requests.
//
// A cursor holds everything needed to resume a traversal: the fingerprint of
// the filter it was minted for, the snapshot time the traversal is frozen at,
// the page size, the sort key of the last item returned and an expiry. The
// server keeps no continuation state, so any instance can serve any page.
//
// # Wire format
//
// Tokens are unpadded base64url of
//
//	version (1 byte) || payload || HMAC-SHA256(version || payload)
//
// The version 1 payload is a positional msgpack array (see cursorV1). Only
// the canonical encoding is accepted. Contents are signed, not encrypted.
//
// # Rejections
//
// Decode fails with one of ErrInvalidCursor, ErrCursorExpired,
// ErrCursorFilterMismatch or ErrUnsupportedCursorVersion. All of them are
// *Error values exposing a Code for clients, and all mean the same thing to
// a client: discard the cursor and search again from the first page.
//
// # Keys
//
// A Keyring signs with its first key and verifies with all of them, so keys
// can be rotated without invalidating live cursors.
package cursor
