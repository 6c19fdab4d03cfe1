package openpgp

import (
	"crypto/rand"
	"fmt"
	"io"
)

var randomSource io.Reader = rand.Reader

// SessionKey is a pre-derived data encryption key plus the choices that
// shape the packet: the cipher, whether the stream carries an MDC trailer,
// and whether legacy (RFC 1991 era) framing applies. The key is owned by
// the caller; filters hold a non-owning reference for one invocation.
type SessionKey struct {
	Algo    CipherAlgo
	Key     []byte
	UseMDC  bool
	RFC1991 bool
}

// GenerateSessionKey creates a fresh random session key for algo.
func GenerateSessionKey(algo CipherAlgo, useMDC bool) (*SessionKey, error) {
	size := algo.KeySize()
	if size == 0 {
		return nil, fmt.Errorf("%w: unsupported cipher id %d", ErrInvalidAlgorithm, uint8(algo))
	}
	key := make([]byte, size)
	if _, err := io.ReadFull(randomSource, key); err != nil {
		return nil, fmt.Errorf("%w: reading random key: %v", ErrFile, err)
	}
	return &SessionKey{Algo: algo, Key: key, UseMDC: useMDC}, nil
}

// Validate checks that the key bytes fit the declared cipher.
func (sk *SessionKey) Validate() error {
	if sk == nil || len(sk.Key) == 0 {
		return fmt.Errorf("%w: empty session key", ErrInvalidValue)
	}
	if size := sk.Algo.KeySize(); size == 0 {
		return fmt.Errorf("%w: unsupported cipher id %d", ErrInvalidAlgorithm, uint8(sk.Algo))
	} else if len(sk.Key) != size {
		return fmt.Errorf("%w: %s expects a %d-byte key, got %d",
			ErrInvalidValue, sk.Algo, size, len(sk.Key))
	}
	return nil
}

// Wipe zeroizes the key bytes. The SessionKey must not be used afterwards.
func (sk *SessionKey) Wipe() {
	if sk != nil {
		wipe(sk.Key)
	}
}

// wipe zeroizes b. Used on every buffer that held key material, plaintext
// or digest state before it goes out of scope.
func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
