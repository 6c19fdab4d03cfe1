package openpgp

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"hash"
)

// CipherEngine is the symmetric cipher collaborator: a block cipher run
// in CFB mode with byte granularity. Handles are owned by the filter that
// opened them; Close is the sole release point and is safe to call more
// than once.
type CipherEngine interface {
	// SetIV loads the feedback register. A nil iv means the all-zero IV;
	// packet secrecy relies on the random prefix, not the IV.
	SetIV(iv []byte) error

	// Encrypt transforms src into dst. dst and src may be the same slice.
	Encrypt(dst, src []byte) error

	// Decrypt is the inverse of Encrypt.
	Decrypt(dst, src []byte) error

	// Resync performs the CFB resynchronization step: the keystream is
	// realigned to a block boundary using the last blockSize ciphertext
	// bytes as the new feedback register. Only valid on engines opened
	// with sync enabled.
	Resync() error

	// Close wipes internal state and releases the handle. Idempotent.
	Close()
}

// DigestAlgo identifies a hash by its RFC 4880 section 9.4 id.
type DigestAlgo uint8

const (
	DigestMD5    DigestAlgo = 1
	DigestSHA1   DigestAlgo = 2
	DigestSHA256 DigestAlgo = 8
)

func (a DigestAlgo) String() string {
	switch a {
	case DigestMD5:
		return "MD5"
	case DigestSHA1:
		return "SHA1"
	case DigestSHA256:
		return "SHA256"
	}
	return fmt.Sprintf("digest(%d)", uint8(a))
}

// HashEngine is the digest collaborator used for the MDC trailer and the
// standalone hash filter. Write accumulates, Finalize seals the digest,
// Read returns it. Close wipes the digest copy; idempotent.
type HashEngine interface {
	Write(p []byte) (int, error)
	Finalize()
	Read() []byte
	Size() int
	Close()
}

type hashEngine struct {
	algo DigestAlgo
	h    hash.Hash
	sum  []byte
}

// OpenHashEngine opens a digest handle for algo.
func OpenHashEngine(algo DigestAlgo) (HashEngine, error) {
	var h hash.Hash
	switch algo {
	case DigestMD5:
		h = md5.New()
	case DigestSHA1:
		h = sha1.New()
	case DigestSHA256:
		h = sha256.New()
	default:
		return nil, fmt.Errorf("%w: unsupported digest id %d", ErrInvalidAlgorithm, uint8(algo))
	}
	return &hashEngine{algo: algo, h: h}, nil
}

func (e *hashEngine) Write(p []byte) (int, error) {
	if e.h == nil {
		return 0, fmt.Errorf("%w: write on closed hash engine", ErrInvalidValue)
	}
	return e.h.Write(p)
}

func (e *hashEngine) Finalize() {
	if e.h != nil && e.sum == nil {
		e.sum = e.h.Sum(nil)
	}
}

func (e *hashEngine) Read() []byte {
	e.Finalize()
	return e.sum
}

func (e *hashEngine) Size() int {
	if e.h == nil {
		return 0
	}
	return e.h.Size()
}

func (e *hashEngine) Close() {
	wipe(e.sum)
	e.sum = nil
	e.h = nil
}
