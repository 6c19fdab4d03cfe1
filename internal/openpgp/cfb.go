package openpgp

import (
	"crypto/cipher"
	"fmt"
)

// cfbEngine is a byte-granular CFB stream over a block cipher. Unlike the
// fixed-shift CFB in the standard library it supports the OpenPGP
// resynchronization step, which realigns the keystream to a block boundary
// mid-stream. Encryption and decryption share one keystream position, so a
// single handle must be used for one direction only.
type cfbEngine struct {
	block cipher.Block
	bs    int

	fr   [maxBlockSize]byte // feedback register: input to the next keystream block
	ks   [maxBlockSize]byte // current keystream block
	used int                // keystream bytes consumed

	tail [maxBlockSize]byte // ring of the last bs ciphertext bytes, for Resync
	tpos int
	seen int64 // total ciphertext bytes processed

	sync   bool // resync step permitted
	closed bool
}

// maxBlockSize bounds the supported cipher block sizes; the packet format
// itself only allows 8 and 16 byte blocks.
const maxBlockSize = 16

// OpenCipherEngine opens a CFB cipher handle for the session key's
// algorithm. syncEnabled selects the legacy variant whose keystream can be
// resynchronized after the prefix; it must be off when an MDC trailer is in
// use, because the MDC digest spans a continuous keystream.
func OpenCipherEngine(sk *SessionKey, syncEnabled bool) (CipherEngine, error) {
	if err := sk.Validate(); err != nil {
		return nil, err
	}
	block, err := sk.Algo.newBlock(sk.Key)
	if err != nil {
		return nil, err
	}
	bs := block.BlockSize()
	if bs < minBlockSize || bs > maxBlockSize {
		return nil, fmt.Errorf("%w: block size %d outside [%d,%d]",
			ErrInvalidAlgorithm, bs, minBlockSize, maxBlockSize)
	}
	e := &cfbEngine{block: block, bs: bs, sync: syncEnabled}
	if err := e.SetIV(nil); err != nil {
		return nil, err
	}
	return e, nil
}

const minBlockSize = 8

func (e *cfbEngine) SetIV(iv []byte) error {
	if e.closed {
		return fmt.Errorf("%w: cipher engine closed", ErrInvalidValue)
	}
	if iv != nil && len(iv) != e.bs {
		return fmt.Errorf("%w: IV length %d, block size %d", ErrInvalidValue, len(iv), e.bs)
	}
	for i := 0; i < e.bs; i++ {
		if iv != nil {
			e.fr[i] = iv[i]
		} else {
			e.fr[i] = 0
		}
		e.tail[i] = 0
	}
	e.used = e.bs // force a fresh keystream block on the next byte
	e.tpos = 0
	e.seen = 0
	return nil
}

func (e *cfbEngine) Encrypt(dst, src []byte) error {
	return e.xform(dst, src, true)
}

func (e *cfbEngine) Decrypt(dst, src []byte) error {
	return e.xform(dst, src, false)
}

func (e *cfbEngine) xform(dst, src []byte, encrypt bool) error {
	if e.closed {
		return fmt.Errorf("%w: cipher engine closed", ErrInvalidValue)
	}
	if len(dst) < len(src) {
		return fmt.Errorf("%w: short output buffer", ErrInvalidValue)
	}
	for i := 0; i < len(src); i++ {
		if e.used == e.bs {
			e.block.Encrypt(e.ks[:e.bs], e.fr[:e.bs])
			e.used = 0
		}
		var c byte
		if encrypt {
			c = src[i] ^ e.ks[e.used]
			dst[i] = c
		} else {
			c = src[i]
			dst[i] = c ^ e.ks[e.used]
		}
		// The feedback register fills with ciphertext; once a block
		// completes it becomes the next keystream input.
		e.fr[e.used] = c
		e.used++
		e.tail[e.tpos] = c
		e.tpos = (e.tpos + 1) % e.bs
		e.seen++
	}
	return nil
}

func (e *cfbEngine) Resync() error {
	if e.closed {
		return fmt.Errorf("%w: cipher engine closed", ErrInvalidValue)
	}
	if !e.sync {
		return fmt.Errorf("%w: resync on a sync-disabled engine", ErrInvalidMode)
	}
	if e.seen < int64(e.bs) {
		return fmt.Errorf("%w: resync before %d ciphertext bytes", ErrInvalidValue, e.bs)
	}
	// Load the last bs ciphertext bytes, oldest first, as the new register.
	for i := 0; i < e.bs; i++ {
		e.fr[i] = e.tail[(e.tpos+i)%e.bs]
	}
	e.used = e.bs
	return nil
}

func (e *cfbEngine) Close() {
	if e.closed {
		return
	}
	wipe(e.fr[:])
	wipe(e.ks[:])
	wipe(e.tail[:])
	e.block = nil
	e.closed = true
}
