package openpgp

import (
	"crypto/hmac"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// Op selects the behavior of one filter invocation: decode, encode or
// teardown. The set is closed; Dispatch rejects anything else with
// ErrInvalidMode.
type Op int

const (
	OpRead Op = iota
	OpWrite
	OpFree
)

// Filter is the uniform contract shared by the cipher and hash filters,
// letting them chain with unrelated filters in a generic stream pipeline.
// Each invocation fully drains one logical packet before returning.
type Filter interface {
	Encode(in io.Reader, out io.Writer) error
	Decode(in io.Reader, out io.Writer) error
	Free() error
}

// Dispatch maps an operation selector onto a filter.
func Dispatch(f Filter, op Op, in io.Reader, out io.Writer) error {
	switch op {
	case OpRead:
		return f.Decode(in, out)
	case OpWrite:
		return f.Encode(in, out)
	case OpFree:
		return f.Free()
	default:
		return fmt.Errorf("%w: op %d", ErrInvalidMode, op)
	}
}

const (
	// mdcTrailerSize is the encrypted MDC subpacket: a two-byte header
	// (0xD3 0x14) followed by a 20-byte SHA-1 digest.
	mdcTrailerSize = 22
	mdcVersion     = 1
)

// CipherFilter transforms one plaintext stream into one symmetric-key
// encrypted data packet, or back. A filter carries per-stream state and
// must not be shared between streams; Free releases the engine handles
// and is idempotent.
type CipherFilter struct {
	dek *SessionKey
	log logrus.FieldLogger

	engine CipherEngine
	mdc    HashEngine

	// mdcAlgo records the digest found in the packet on decode; zero
	// means no integrity trailer.
	mdcAlgo DigestAlgo

	// BlockMode requests partial-body framing on encode. It is switched
	// off for inputs smaller than the chunk capacity.
	BlockMode bool

	// DataLen optionally declares the plaintext length when the input
	// reader cannot report it. Ignored once block mode is active.
	DataLen int64
}

// NewCipherFilter builds a filter around a caller-owned session key. The
// logger is held per filter, never in shared process state; pass a value
// scoped to the invocation.
func NewCipherFilter(dek *SessionKey, log logrus.FieldLogger) *CipherFilter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &CipherFilter{dek: dek, log: log}
}

// NewDecryptFilter builds a filter for decoding. mdcAlgo declares the
// digest the packet is expected to carry; passing 0 lets the packet tag
// decide, which is the common case.
func NewDecryptFilter(dek *SessionKey, mdcAlgo DigestAlgo, log logrus.FieldLogger) *CipherFilter {
	f := NewCipherFilter(dek, log)
	f.mdcAlgo = mdcAlgo
	return f
}

// knownLength reports the remaining byte count of in when it can be
// determined without consuming the stream.
func knownLength(in io.Reader) (int64, bool) {
	type lener interface{ Len() int }
	if l, ok := in.(lener); ok {
		return int64(l.Len()), true
	}
	if s, ok := in.(io.Seeker); ok {
		cur, err := s.Seek(0, io.SeekCurrent)
		if err != nil {
			return 0, false
		}
		end, err := s.Seek(0, io.SeekEnd)
		if err != nil {
			return 0, false
		}
		if _, err := s.Seek(cur, io.SeekStart); err != nil {
			return 0, false
		}
		return end - cur, true
	}
	return 0, false
}

// Encode writes the packet header followed by the encrypted prefix, body
// and optional MDC trailer. Output is incremental; nothing is buffered
// beyond one chunk.
func (f *CipherFilter) Encode(in io.Reader, out io.Writer) error {
	if f.dek == nil || in == nil || out == nil {
		return fmt.Errorf("%w: nil filter argument", ErrInvalidValue)
	}
	if err := f.dek.Validate(); err != nil {
		return err
	}
	blockSize := f.dek.Algo.BlockSize()
	if blockSize < minBlockSize || blockSize > maxBlockSize {
		return fmt.Errorf("%w: block size %d outside [%d,%d]",
			ErrInvalidAlgorithm, blockSize, minBlockSize, maxBlockSize)
	}

	// CFB without an integrity trailer is unsafe for 128-bit block
	// ciphers, so the caller's choice is overridden there.
	useMDC := f.dek.UseMDC
	if blockSize != 8 {
		useMDC = true
	}

	f.log.WithFields(logrus.Fields{
		"algo":  f.dek.Algo.String(),
		"mdc":   useMDC,
		"block": f.BlockMode,
	}).Debug("cipher filter: encode")

	datalen, haveLen := knownLength(in)
	if !haveLen && f.DataLen > 0 {
		datalen, haveLen = f.DataLen, true
	}
	if haveLen && datalen < chunkCap {
		f.BlockMode = false
	}
	if !haveLen && !f.BlockMode {
		return fmt.Errorf("%w: unknown input length requires block mode", ErrInvalidValue)
	}

	bodyLen := int64(blockSize + 2)
	if haveLen {
		bodyLen += datalen
	}
	if useMDC {
		bodyLen += mdcTrailerSize + 1 // trailer plus the version byte
	}

	tag := TagSymEncrypted
	if useMDC {
		tag = TagSymEncryptedMDC
	}
	oldCTB := f.dek.RFC1991 && !f.BlockMode && !useMDC
	if err := writePacketHeader(out, tag, oldCTB, bodyLen, f.BlockMode); err != nil {
		return err
	}

	// Frame the body: raw for a declared length, chunked in block mode.
	var body io.Writer = out
	var closeBody func() error
	if f.BlockMode {
		if haveLen {
			fw := newFrameWriter(out, bodyLen)
			body, closeBody = fw, fw.Close
		} else {
			sw := newStreamFrameWriter(out)
			body, closeBody = sw, sw.Close
		}
	}

	if useMDC {
		eng, err := OpenHashEngine(DigestSHA1)
		if err != nil {
			return err
		}
		f.mdc = eng
		if _, err := body.Write([]byte{mdcVersion}); err != nil {
			return wrapWrite(err)
		}
	}

	engine, err := OpenCipherEngine(f.dek, !useMDC)
	if err != nil {
		return err
	}
	f.engine = engine

	if err := f.writePrefix(body, blockSize, useMDC); err != nil {
		return err
	}
	if err := f.encodeBody(in, body, useMDC); err != nil {
		return err
	}
	if closeBody != nil {
		return closeBody()
	}
	return nil
}

// writePrefix emits the encrypted random prefix with its repeated
// quick-check bytes, performing the legacy resync step when no MDC is in
// use.
func (f *CipherFilter) writePrefix(body io.Writer, blockSize int, useMDC bool) error {
	var prefix [maxBlockSize + 2]byte
	defer wipe(prefix[:])

	n := blockSize
	if _, err := io.ReadFull(randomSource, prefix[:n]); err != nil {
		return fmt.Errorf("%w: reading random prefix: %v", ErrFile, err)
	}
	prefix[n] = prefix[n-2]
	prefix[n+1] = prefix[n-1]

	// The digest covers the plaintext prefix; hash before encrypting.
	if useMDC {
		if _, err := f.mdc.Write(prefix[:n+2]); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
	}
	if err := f.engine.Encrypt(prefix[:n+2], prefix[:n+2]); err != nil {
		return err
	}
	if !useMDC {
		if err := f.engine.Resync(); err != nil {
			return err
		}
	}
	if _, err := body.Write(prefix[:n+2]); err != nil {
		return wrapWrite(err)
	}
	return nil
}

func (f *CipherFilter) encodeBody(in io.Reader, body io.Writer, useMDC bool) error {
	var buf [chunkCap]byte
	defer wipe(buf[:])

	for {
		nr, rerr := in.Read(buf[:])
		if nr > 0 {
			if useMDC {
				if _, err := f.mdc.Write(buf[:nr]); err != nil {
					return fmt.Errorf("%w: %v", ErrInvalidValue, err)
				}
			}
			if err := f.engine.Encrypt(buf[:nr], buf[:nr]); err != nil {
				return err
			}
			if _, err := body.Write(buf[:nr]); err != nil {
				return wrapWrite(err)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return fmt.Errorf("%w: %v", ErrFile, rerr)
		}
	}
	if useMDC {
		return f.writeMDCTrailer(body)
	}
	return nil
}

// writeMDCTrailer hashes the trailer's own two header bytes, finalizes
// the digest and appends the encrypted 22-byte trailer.
func (f *CipherFilter) writeMDCTrailer(body io.Writer) error {
	var trailer [mdcTrailerSize]byte
	defer wipe(trailer[:])

	trailer[0] = 0xD3
	trailer[1] = 0x14
	if _, err := f.mdc.Write(trailer[:2]); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	f.mdc.Finalize()
	digest := f.mdc.Read()
	if len(digest) != mdcTrailerSize-2 {
		return fmt.Errorf("%w: MDC digest length %d", ErrInvalidAlgorithm, len(digest))
	}
	copy(trailer[2:], digest)
	if err := f.engine.Encrypt(trailer[:], trailer[:]); err != nil {
		return err
	}
	if _, err := body.Write(trailer[:]); err != nil {
		return wrapWrite(err)
	}
	return nil
}

// Decode reads one packet from in and writes the recovered plaintext to
// out. A quick-check failure surfaces as ErrChecksum, a digest mismatch
// as ErrBadIntegrity; the two remain distinguishable to the caller.
func (f *CipherFilter) Decode(in io.Reader, out io.Writer) error {
	if f.dek == nil || in == nil || out == nil {
		return fmt.Errorf("%w: nil filter argument", ErrInvalidValue)
	}
	if err := f.dek.Validate(); err != nil {
		return err
	}
	blockSize := f.dek.Algo.BlockSize()
	if blockSize < minBlockSize || blockSize > maxBlockSize {
		return fmt.Errorf("%w: block size %d outside [%d,%d]",
			ErrInvalidAlgorithm, blockSize, minBlockSize, maxBlockSize)
	}

	f.log.WithField("algo", f.dek.Algo.String()).Debug("cipher filter: decode")

	hdr, err := readPacketHeader(in)
	if err != nil {
		if err == io.EOF {
			return fmt.Errorf("%w: empty stream", ErrInvalidPacket)
		}
		return err
	}

	switch hdr.tag {
	case TagSymEncrypted:
		// The caller may still have declared an out-of-band digest.
	case TagSymEncryptedMDC:
		f.mdcAlgo = DigestSHA1
	default:
		return fmt.Errorf("%w: unexpected tag %d", ErrInvalidPacket, hdr.tag)
	}

	var body io.Reader
	switch {
	case hdr.partial:
		body = newFrameReader(in, hdr.length, true)
	case hdr.indeterminate:
		body = in
	default:
		minLen := int64(blockSize + 2)
		if hdr.tag == TagSymEncryptedMDC {
			minLen += mdcTrailerSize + 1
		}
		if hdr.length < minLen {
			return fmt.Errorf("%w: declared length %d below minimum %d",
				ErrInvalidValue, hdr.length, minLen)
		}
		body = io.LimitReader(in, hdr.length)
	}

	if hdr.tag == TagSymEncryptedMDC {
		version, err := readByte(body)
		if err != nil {
			return fmt.Errorf("%w: missing version byte", ErrInvalidPacket)
		}
		if version != mdcVersion {
			return fmt.Errorf("%w: unsupported packet version %d", ErrInvalidPacket, version)
		}
	}

	useMDC := f.mdcAlgo != 0
	if useMDC {
		eng, err := OpenHashEngine(f.mdcAlgo)
		if err != nil {
			return err
		}
		if eng.Size() != mdcTrailerSize-2 {
			eng.Close()
			return fmt.Errorf("%w: MDC digest length %d", ErrInvalidAlgorithm, eng.Size())
		}
		f.mdc = eng
	}

	engine, err := OpenCipherEngine(f.dek, !useMDC)
	if err != nil {
		return err
	}
	f.engine = engine

	if err := f.readPrefix(body, blockSize, useMDC); err != nil {
		return err
	}
	if useMDC {
		return f.decodeBodyMDC(body, out)
	}
	return f.decodeBody(body, out)
}

// readPrefix decrypts the quick-check prefix, resynchronizing exactly as
// encode did, and verifies the two repeated bytes.
func (f *CipherFilter) readPrefix(body io.Reader, blockSize int, useMDC bool) error {
	var prefix [maxBlockSize + 2]byte
	defer wipe(prefix[:])

	n := blockSize
	if _, err := io.ReadFull(body, prefix[:n+2]); err != nil {
		return fmt.Errorf("%w: reading prefix: %v", ErrFile, err)
	}
	if err := f.engine.Decrypt(prefix[:n+2], prefix[:n+2]); err != nil {
		return err
	}
	if !useMDC {
		if err := f.engine.Resync(); err != nil {
			return err
		}
	}
	if prefix[n-2] != prefix[n] || prefix[n-1] != prefix[n+1] {
		return ErrChecksum
	}
	if useMDC {
		if _, err := f.mdc.Write(prefix[:n+2]); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
	}
	return nil
}

// decodeBody streams a legacy packet: every byte after the prefix is
// plaintext.
func (f *CipherFilter) decodeBody(body io.Reader, out io.Writer) error {
	var buf [chunkCap]byte
	defer wipe(buf[:])

	for {
		nr, rerr := body.Read(buf[:])
		if nr > 0 {
			if err := f.engine.Decrypt(buf[:nr], buf[:nr]); err != nil {
				return err
			}
			if _, err := out.Write(buf[:nr]); err != nil {
				return wrapWrite(err)
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return mapReadErr(rerr)
		}
	}
}

// decodeBodyMDC streams an integrity-protected packet. The last 22
// decrypted bytes are held back at all times so the trailer is never
// emitted as plaintext, regardless of how the stream is chunked; once the
// terminal chunk drains they are checked against the running digest.
func (f *CipherFilter) decodeBodyMDC(body io.Reader, out io.Writer) error {
	var (
		buf  [chunkCap]byte
		work [chunkCap + mdcTrailerSize]byte
		hold [mdcTrailerSize]byte
	)
	defer wipe(buf[:])
	defer wipe(work[:])
	defer wipe(hold[:])

	held := 0
	for {
		nr, rerr := body.Read(buf[:])
		if nr > 0 {
			if err := f.engine.Decrypt(buf[:nr], buf[:nr]); err != nil {
				return err
			}
			copy(work[:], hold[:held])
			copy(work[held:], buf[:nr])
			total := held + nr
			if total > mdcTrailerSize {
				emit := work[:total-mdcTrailerSize]
				if _, err := f.mdc.Write(emit); err != nil {
					return fmt.Errorf("%w: %v", ErrInvalidValue, err)
				}
				if _, err := out.Write(emit); err != nil {
					return wrapWrite(err)
				}
				copy(hold[:], work[total-mdcTrailerSize:total])
				held = mdcTrailerSize
			} else {
				copy(hold[:], work[:total])
				held = total
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return mapReadErr(rerr)
		}
	}

	if held < mdcTrailerSize {
		return fmt.Errorf("%w: stream shorter than the MDC trailer", ErrInvalidPacket)
	}
	if hold[0] != 0xD3 || hold[1] != 0x14 {
		return fmt.Errorf("%w: missing MDC trailer header", ErrInvalidPacket)
	}
	if _, err := f.mdc.Write(hold[:2]); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	f.mdc.Finalize()
	if !hmac.Equal(f.mdc.Read(), hold[2:]) {
		return ErrBadIntegrity
	}
	return nil
}

// Free releases the cipher and hash engine handles. Safe on a filter that
// was never run and safe to call repeatedly.
func (f *CipherFilter) Free() error {
	if f.engine != nil {
		f.engine.Close()
		f.engine = nil
	}
	if f.mdc != nil {
		f.mdc.Close()
		f.mdc = nil
	}
	return nil
}

func wrapWrite(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrFile, err)
}

// mapReadErr keeps framing errors intact and maps raw stream failures to
// the file error class.
func mapReadErr(err error) error {
	for _, sentinel := range []error{ErrInvalidPacket, ErrInvalidValue, ErrFile} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrFile, err)
}
