package cursor

import "errors"

// MinKeyLength is the shortest accepted HMAC key.
const MinKeyLength = 32

// ErrWeakKey is returned when a signing key is shorter than MinKeyLength.
var ErrWeakKey = errors.New("cursor: signing key must be at least 32 bytes")

// KeySource supplies the HMAC keys used to sign and verify cursors.
type KeySource interface {
	// SigningKey is the key new cursors are signed with.
	SigningKey() []byte
	// VerificationKeys lists every key a cursor may have been signed with,
	// the signing key first.
	VerificationKeys() [][]byte
}

// Keyring is a static KeySource. Previous keys stay valid for verification
// so cursors issued before a rotation keep working until they expire.
type Keyring struct {
	keys [][]byte
}

// NewKeyring builds a keyring that signs with current and also verifies
// with every previous key.
func NewKeyring(current []byte, previous ...[]byte) (*Keyring, error) {
	if len(current) < MinKeyLength {
		return nil, ErrWeakKey
	}

	keys := make([][]byte, 0, 1+len(previous))
	keys = append(keys, append([]byte(nil), current...))
	for _, p := range previous {
		if len(p) < MinKeyLength {
			return nil, ErrWeakKey
		}
		keys = append(keys, append([]byte(nil), p...))
	}

	return &Keyring{keys: keys}, nil
}

// SigningKey implements KeySource.
func (k *Keyring) SigningKey() []byte {
	return k.keys[0]
}

// VerificationKeys implements KeySource.
func (k *Keyring) VerificationKeys() [][]byte {
	return k.keys
}
