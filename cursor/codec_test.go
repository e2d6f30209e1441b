package cursor

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/goliatone/go-recall-search/recall"
)

var (
	testKey     = bytes.Repeat([]byte("k"), 32)
	rotatedKey  = bytes.Repeat([]byte("r"), 32)
	fingerprint = "0123456789abcdef0123456789abcdef"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestCodec(t *testing.T, clock *fakeClock, keys ...[]byte) *Codec {
	t.Helper()
	if len(keys) == 0 {
		keys = [][]byte{testKey}
	}
	ring, err := NewKeyring(keys[0], keys[1:]...)
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	return NewCodec(ring, WithClock(clock.Now), WithTTL(10*time.Minute))
}

func sampleState(now time.Time) State {
	return State{
		FilterFingerprint: fingerprint,
		AsOf:              now.Add(-time.Second).UTC().Truncate(time.Microsecond),
		Limit:             2,
		After: recall.SortKey{
			Score: 7,
			Date:  time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC),
			ID:    uuid.MustParse("00000000-0000-0000-0000-000000000102"),
		},
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	codec := newTestCodec(t, clock)
	state := sampleState(clock.now)

	token, err := codec.Encode(state)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := codec.Decode(token, fingerprint)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got.Version != VersionV1 {
		t.Errorf("expected version %d, got %d", VersionV1, got.Version)
	}
	if !got.AsOf.Equal(state.AsOf) {
		t.Errorf("AsOf = %v, want %v", got.AsOf, state.AsOf)
	}
	if got.Limit != state.Limit {
		t.Errorf("Limit = %d, want %d", got.Limit, state.Limit)
	}
	if !got.After.Equal(state.After) {
		t.Errorf("After = %+v, want %+v", got.After, state.After)
	}
	if want := clock.now.Add(10 * time.Minute); !got.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, want)
	}
}

func TestCodec_TokenIsURLSafe(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	codec := newTestCodec(t, clock)

	token, err := codec.Encode(sampleState(clock.now))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	for _, r := range token {
		if r == '+' || r == '/' || r == '=' {
			t.Fatalf("token %q contains non url-safe rune %q", token, r)
		}
	}
}

func TestCodec_EveryFlippedByteIsRejected(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	codec := newTestCodec(t, clock)

	token, err := codec.Encode(sampleState(clock.now))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		t.Fatalf("decode token: %v", err)
	}

	for i := range raw {
		for _, mask := range []byte{0x01, 0x80, 0xff} {
			tampered := append([]byte(nil), raw...)
			tampered[i] ^= mask

			_, err := codec.Decode(base64.RawURLEncoding.EncodeToString(tampered), fingerprint)
			if !IsCursorError(err) {
				t.Fatalf("byte %d mask %#x: expected cursor error, got %v", i, mask, err)
			}
		}
	}
}

func TestCodec_Expired(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	codec := newTestCodec(t, clock)

	token, err := codec.Encode(sampleState(clock.now))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	clock.now = clock.now.Add(10 * time.Minute)
	if _, err := codec.Decode(token, fingerprint); !errors.Is(err, ErrCursorExpired) {
		t.Errorf("expected ErrCursorExpired at expiry, got %v", err)
	}

	clock.now = clock.now.Add(-time.Microsecond)
	if _, err := codec.Decode(token, fingerprint); err != nil {
		t.Errorf("expected cursor to be valid just before expiry, got %v", err)
	}
}

func TestCodec_FilterMismatch(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	codec := newTestCodec(t, clock)

	token, err := codec.Encode(sampleState(clock.now))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	other := recall.Filter{Text: "crib", Limit: 2}.Fingerprint()
	if _, err := codec.Decode(token, other); !errors.Is(err, ErrCursorFilterMismatch) {
		t.Errorf("expected ErrCursorFilterMismatch, got %v", err)
	}
}

func TestCodec_UnsupportedVersion(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	codec := newTestCodec(t, clock)

	payload, err := msgpack.Marshal(&cursorV1{Fingerprint: fingerprint, Limit: 1})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	body := append([]byte{2}, payload...)
	body = append(body, sign(testKey, body)...)

	_, err = codec.Decode(base64.RawURLEncoding.EncodeToString(body), fingerprint)
	if !errors.Is(err, ErrUnsupportedCursorVersion) {
		t.Errorf("expected ErrUnsupportedCursorVersion, got %v", err)
	}
}

func TestCodec_RejectsSignedGarbage(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	codec := newTestCodec(t, clock)

	body := []byte{VersionV1, 0xc1, 0x00}
	body = append(body, sign(testKey, body)...)

	_, err := codec.Decode(base64.RawURLEncoding.EncodeToString(body), fingerprint)
	if !errors.Is(err, ErrInvalidCursor) {
		t.Errorf("expected ErrInvalidCursor, got %v", err)
	}
}

func TestCodec_MalformedTokens(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	codec := newTestCodec(t, clock)

	for _, token := range []string{"", "!!!", "AAAA", string(bytes.Repeat([]byte("A"), MaxTokenLength+1))} {
		if _, err := codec.Decode(token, fingerprint); !errors.Is(err, ErrInvalidCursor) {
			t.Errorf("Decode(%.10q): expected ErrInvalidCursor, got %v", token, err)
		}
	}
}

func TestCodec_KeyRotation(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	oldCodec := newTestCodec(t, clock, testKey)

	token, err := oldCodec.Encode(sampleState(clock.now))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	rotated := newTestCodec(t, clock, rotatedKey, testKey)
	if _, err := rotated.Decode(token, fingerprint); err != nil {
		t.Errorf("expected previous key to verify, got %v", err)
	}

	retired := newTestCodec(t, clock, rotatedKey)
	if _, err := retired.Decode(token, fingerprint); !errors.Is(err, ErrInvalidCursor) {
		t.Errorf("expected retired key to be rejected, got %v", err)
	}
}

func TestCodec_EncodeRejectsBadState(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	codec := newTestCodec(t, clock)

	tests := map[string]func(*State){
		"no fingerprint": func(s *State) { s.FilterFingerprint = "" },
		"limit zero":     func(s *State) { s.Limit = 0 },
		"limit too big":  func(s *State) { s.Limit = recall.MaxLimit + 1 },
		"past expiry":    func(s *State) { s.ExpiresAt = clock.now.Add(-time.Second) },
		"no snapshot":    func(s *State) { s.AsOf = time.Time{} },
	}

	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			s := sampleState(clock.now)
			mutate(&s)
			if _, err := codec.Encode(s); err == nil {
				t.Errorf("expected Encode to fail")
			}
		})
	}
}

func TestNewKeyring_WeakKey(t *testing.T) {
	if _, err := NewKeyring([]byte("short")); !errors.Is(err, ErrWeakKey) {
		t.Errorf("expected ErrWeakKey, got %v", err)
	}
	if _, err := NewKeyring(testKey, []byte("short")); !errors.Is(err, ErrWeakKey) {
		t.Errorf("expected ErrWeakKey for previous key, got %v", err)
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(ErrCursorExpired); got != "cursor_expired" {
		t.Errorf("CodeOf = %q", got)
	}
	if got := CodeOf(errors.New("other")); got != "" {
		t.Errorf("expected empty code, got %q", got)
	}
}
