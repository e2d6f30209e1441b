package cursor

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/goliatone/go-recall-search/recall"
)

const (
	// VersionV1 is the only cursor schema this codec mints.
	VersionV1 uint8 = 1

	// DefaultTTL is how long a minted cursor stays usable.
	DefaultTTL = 30 * time.Minute

	// MaxTokenLength bounds the work spent on obviously bogus tokens.
	MaxTokenLength = 1024

	signatureSize = sha256.Size
)

// State is the continuation state carried by a cursor.
type State struct {
	Version           uint8
	FilterFingerprint string
	AsOf              time.Time
	Limit             int
	After             recall.SortKey
	ExpiresAt         time.Time
}

// cursorV1 is the wire schema of version 1 payloads. Fields are positional;
// new fields require a new version.
type cursorV1 struct {
	_msgpack struct{} `msgpack:",as_array"`

	Fingerprint string
	AsOf        int64
	Limit       int
	Score       float64
	Date        int64
	ID          []byte
	ExpiresAt   int64
}

// Option configures a Codec.
type Option func(*Codec)

// WithTTL sets the lifetime of minted cursors.
func WithTTL(ttl time.Duration) Option {
	return func(c *Codec) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock replaces the wall clock, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// Codec signs and verifies opaque pagination tokens.
// A token is base64url(version || payload || HMAC-SHA256(version || payload)).
type Codec struct {
	keys KeySource
	ttl  time.Duration
	now  func() time.Time
}

// NewCodec creates a codec that signs with keys.
func NewCodec(keys KeySource, opts ...Option) *Codec {
	c := &Codec{
		keys: keys,
		ttl:  DefaultTTL,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the lifetime applied to cursors without an explicit expiry.
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Encode mints a token for s. A zero ExpiresAt is set to now plus the codec TTL.
func (c *Codec) Encode(s State) (string, error) {
	now := c.now()
	if s.ExpiresAt.IsZero() {
		s.ExpiresAt = now.Add(c.ttl)
	}
	if !s.ExpiresAt.After(now) {
		return "", errors.New("cursor: expiry must be in the future")
	}
	if err := checkState(s); err != nil {
		return "", err
	}

	payload, err := msgpack.Marshal(&cursorV1{
		Fingerprint: s.FilterFingerprint,
		AsOf:        s.AsOf.UnixMicro(),
		Limit:       s.Limit,
		Score:       s.After.Score,
		Date:        s.After.Date.UnixMicro(),
		ID:          s.After.ID[:],
		ExpiresAt:   s.ExpiresAt.UnixMicro(),
	})
	if err != nil {
		return "", fmt.Errorf("cursor: encode payload: %w", err)
	}

	body := make([]byte, 0, 1+len(payload)+signatureSize)
	body = append(body, VersionV1)
	body = append(body, payload...)
	body = append(body, sign(c.keys.SigningKey(), body)...)

	return base64.RawURLEncoding.EncodeToString(body), nil
}

// Decode verifies token and returns its state. The cursor must have been
// minted for the filter whose fingerprint is given.
func (c *Codec) Decode(token, fingerprint string) (State, error) {
	if token == "" || len(token) > MaxTokenLength || !urlSafe(token) {
		return State{}, ErrInvalidCursor
	}

	raw, err := base64.RawURLEncoding.Strict().DecodeString(token)
	if err != nil || len(raw) < 1+signatureSize+1 {
		return State{}, ErrInvalidCursor
	}

	body, mac := raw[:len(raw)-signatureSize], raw[len(raw)-signatureSize:]
	if !c.verify(body, mac) {
		return State{}, ErrInvalidCursor
	}

	var state State
	switch body[0] {
	case VersionV1:
		state, err = decodeV1(body[1:])
		if err != nil {
			return State{}, ErrInvalidCursor
		}
	default:
		return State{}, ErrUnsupportedCursorVersion
	}

	if !c.now().Before(state.ExpiresAt) {
		return State{}, ErrCursorExpired
	}

	if subtle.ConstantTimeCompare([]byte(state.FilterFingerprint), []byte(fingerprint)) != 1 {
		return State{}, ErrCursorFilterMismatch
	}

	return state, nil
}

func (c *Codec) verify(body, mac []byte) bool {
	ok := false
	for _, key := range c.keys.VerificationKeys() {
		// every key is checked so timing does not reveal which one matched
		if hmac.Equal(sign(key, body), mac) {
			ok = true
		}
	}
	return ok
}

func decodeV1(payload []byte) (State, error) {
	var wire cursorV1
	if err := msgpack.Unmarshal(payload, &wire); err != nil {
		return State{}, err
	}

	// only the canonical encoding is accepted
	canonical, err := msgpack.Marshal(&wire)
	if err != nil || !bytes.Equal(canonical, payload) {
		return State{}, errors.New("cursor: non canonical payload")
	}

	id, err := uuid.FromBytes(wire.ID)
	if err != nil {
		return State{}, err
	}

	state := State{
		Version:           VersionV1,
		FilterFingerprint: wire.Fingerprint,
		AsOf:              time.UnixMicro(wire.AsOf).UTC(),
		Limit:             wire.Limit,
		After: recall.SortKey{
			Score: wire.Score,
			Date:  time.UnixMicro(wire.Date).UTC(),
			ID:    id,
		},
		ExpiresAt: time.UnixMicro(wire.ExpiresAt).UTC(),
	}
	if err := checkState(state); err != nil {
		return State{}, err
	}
	return state, nil
}

func checkState(s State) error {
	switch {
	case s.FilterFingerprint == "":
		return errors.New("cursor: missing filter fingerprint")
	case s.AsOf.IsZero():
		return errors.New("cursor: missing snapshot time")
	case s.Limit < recall.MinLimit || s.Limit > recall.MaxLimit:
		return fmt.Errorf("cursor: limit %d out of range", s.Limit)
	case math.IsNaN(s.After.Score) || math.IsInf(s.After.Score, 0):
		return errors.New("cursor: score is not finite")
	}
	return nil
}

// urlSafe reports whether token only uses the unpadded base64url alphabet.
func urlSafe(token string) bool {
	for i := 0; i < len(token); i++ {
		c := token[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

func sign(key, body []byte) []byte {
	m := hmac.New(sha256.New, key)
	m.Write(body)
	return m.Sum(nil)
}
