package openpgp

import (
	"fmt"
	"io"
	"math/bits"
)

const (
	// chunkCap is the nominal partial-body chunk capacity; its header
	// octet is 0xE0|chunkCapBits.
	chunkCap     = 4096
	chunkCapBits = 12
)

// frameWriter chunks a body of known total length into OpenPGP
// partial-body spans: full-capacity chunks while more than chunkCap bytes
// remain, power-of-two chunks down to 512, then one definite-length
// terminal chunk. Write never buffers; chunk headers are interleaved with
// the payload as boundaries are crossed.
type frameWriter struct {
	w         io.Writer
	remaining int64 // bytes not yet assigned to a chunk
	nleft     int64 // bytes left in the current chunk
	terminal  bool  // the terminal chunk header has been written
}

func newFrameWriter(w io.Writer, total int64) *frameWriter {
	return &frameWriter{w: w, remaining: total}
}

func (fw *frameWriter) beginChunk() error {
	if fw.terminal {
		return fmt.Errorf("%w: write past the terminal chunk", ErrInvalidValue)
	}
	switch {
	case fw.remaining > chunkCap:
		if _, err := fw.w.Write([]byte{0xE0 | chunkCapBits}); err != nil {
			return fmt.Errorf("%w: %v", ErrFile, err)
		}
		fw.nleft = chunkCap
		fw.remaining -= chunkCap
	case fw.remaining > 512:
		if fw.remaining <= 0 {
			return fmt.Errorf("%w: empty span at a power-of-two boundary", ErrInvalidValue)
		}
		n := bits.Len64(uint64(fw.remaining)) - 1
		if _, err := fw.w.Write([]byte{0xE0 | byte(n)}); err != nil {
			return fmt.Errorf("%w: %v", ErrFile, err)
		}
		fw.nleft = 1 << n
		fw.remaining -= fw.nleft
	default:
		if err := writeNewLength(fw.w, fw.remaining); err != nil {
			return err
		}
		fw.nleft = fw.remaining
		fw.remaining = 0
		fw.terminal = true
	}
	return nil
}

func (fw *frameWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		if fw.nleft == 0 {
			if err := fw.beginChunk(); err != nil {
				return written, err
			}
		}
		n := int64(len(p))
		if n > fw.nleft {
			n = fw.nleft
		}
		k, err := fw.w.Write(p[:n])
		written += k
		fw.nleft -= int64(k)
		if err != nil {
			return written, fmt.Errorf("%w: %v", ErrFile, err)
		}
		p = p[n:]
	}
	return written, nil
}

// Close verifies the declared total was consumed exactly.
func (fw *frameWriter) Close() error {
	if fw.remaining == 0 && fw.nleft == 0 && !fw.terminal {
		// Zero-length body: emit the empty terminal chunk.
		return fw.beginChunk()
	}
	if fw.remaining != 0 || fw.nleft != 0 {
		return fmt.Errorf("%w: body short by %d bytes", ErrInvalidValue, fw.remaining+fw.nleft)
	}
	return nil
}

// streamFrameWriter chunks a body of unknown total length. It holds one
// full chunk of lookahead so the last span can be written with a definite
// length header at Close.
type streamFrameWriter struct {
	w      io.Writer
	buf    [chunkCap]byte
	n      int
	closed bool
}

func newStreamFrameWriter(w io.Writer) *streamFrameWriter {
	return &streamFrameWriter{w: w}
}

func (sw *streamFrameWriter) Write(p []byte) (int, error) {
	if sw.closed {
		return 0, fmt.Errorf("%w: write on closed framer", ErrInvalidValue)
	}
	written := 0
	for len(p) > 0 {
		if sw.n == chunkCap {
			// More data follows, so the held chunk is not terminal.
			if err := sw.flushPartial(); err != nil {
				return written, err
			}
		}
		k := copy(sw.buf[sw.n:], p)
		sw.n += k
		written += k
		p = p[k:]
	}
	return written, nil
}

func (sw *streamFrameWriter) flushPartial() error {
	if _, err := sw.w.Write([]byte{0xE0 | chunkCapBits}); err != nil {
		return fmt.Errorf("%w: %v", ErrFile, err)
	}
	if _, err := sw.w.Write(sw.buf[:sw.n]); err != nil {
		return fmt.Errorf("%w: %v", ErrFile, err)
	}
	sw.n = 0
	return nil
}

// Close emits the held bytes as the terminal definite-length chunk and
// wipes the lookahead buffer.
func (sw *streamFrameWriter) Close() error {
	if sw.closed {
		return nil
	}
	sw.closed = true
	defer wipe(sw.buf[:])
	if err := writeNewLength(sw.w, int64(sw.n)); err != nil {
		return err
	}
	if sw.n > 0 {
		if _, err := sw.w.Write(sw.buf[:sw.n]); err != nil {
			return fmt.Errorf("%w: %v", ErrFile, err)
		}
	}
	return nil
}

// frameReader reads a chunked packet body, consuming length prefixes at
// each chunk boundary. Read returns io.EOF after the terminal chunk
// drains; an unparsable prefix fails with ErrInvalidPacket.
type frameReader struct {
	r       io.Reader
	n       int64 // bytes left in the current chunk
	partial bool  // more chunks follow the current one
}

func newFrameReader(r io.Reader, firstLen int64, partial bool) *frameReader {
	return &frameReader{r: r, n: firstLen, partial: partial}
}

func (fr *frameReader) Read(p []byte) (int, error) {
	for fr.n == 0 {
		if !fr.partial {
			return 0, io.EOF
		}
		n, partial, err := readNewLength(fr.r)
		if err != nil {
			if err == io.EOF {
				return 0, fmt.Errorf("%w: truncated partial body", ErrInvalidPacket)
			}
			return 0, err
		}
		fr.n, fr.partial = n, partial
	}
	if int64(len(p)) > fr.n {
		p = p[:fr.n]
	}
	k, err := fr.r.Read(p)
	fr.n -= int64(k)
	if err == io.EOF && (fr.n > 0 || fr.partial) {
		err = fmt.Errorf("%w: truncated partial body", ErrInvalidPacket)
	}
	return k, err
}
