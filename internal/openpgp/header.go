package openpgp

import (
	"encoding/binary"
	"fmt"
	"io"
)

// PacketTag identifies an OpenPGP packet type.
type PacketTag uint8

const (
	// TagSymEncrypted is the Symmetrically Encrypted Data packet (tag 9).
	TagSymEncrypted PacketTag = 9
	// TagSymEncryptedMDC is the Symmetrically Encrypted Integrity
	// Protected Data packet (tag 18).
	TagSymEncryptedMDC PacketTag = 18
)

// packetHeader is the parsed outer framing of one packet.
type packetHeader struct {
	tag PacketTag
	// length of the first (or only) body span. Meaningless when
	// indeterminate is set.
	length int64
	// partial marks a new-format partial body length; further chunk
	// headers follow inside the body.
	partial bool
	// indeterminate marks an old-format packet whose body runs to EOF.
	indeterminate bool
}

// writePacketHeader serializes the cipher type byte and, for definite
// lengths, the body length. For partial-body packets only the CTB is
// written; the framer emits the chunk headers.
func writePacketHeader(w io.Writer, tag PacketTag, oldCTB bool, length int64, partial bool) error {
	if oldCTB {
		if partial || tag > 15 {
			return fmt.Errorf("%w: old-style header cannot frame this packet", ErrInvalidValue)
		}
		var buf [5]byte
		buf[0] = 0x80 | byte(tag)<<2
		var n int
		switch {
		case length < 1<<8:
			buf[1] = byte(length)
			n = 2
		case length < 1<<16:
			buf[0] |= 1
			binary.BigEndian.PutUint16(buf[1:3], uint16(length))
			n = 3
		default:
			buf[0] |= 2
			binary.BigEndian.PutUint32(buf[1:5], uint32(length))
			n = 5
		}
		if _, err := w.Write(buf[:n]); err != nil {
			return fmt.Errorf("%w: %v", ErrFile, err)
		}
		return nil
	}
	if _, err := w.Write([]byte{0xC0 | byte(tag)}); err != nil {
		return fmt.Errorf("%w: %v", ErrFile, err)
	}
	if partial {
		return nil
	}
	return writeNewLength(w, length)
}

// writeNewLength writes a definite new-format length: one byte below 192,
// two bytes up to 8383, five bytes beyond.
func writeNewLength(w io.Writer, n int64) error {
	var buf [5]byte
	var k int
	switch {
	case n < 0:
		return fmt.Errorf("%w: negative length", ErrInvalidValue)
	case n < 192:
		buf[0] = byte(n)
		k = 1
	case n < 8384:
		n -= 192
		buf[0] = byte(n>>8) + 192
		buf[1] = byte(n)
		k = 2
	default:
		buf[0] = 0xFF
		binary.BigEndian.PutUint32(buf[1:5], uint32(n))
		k = 5
	}
	if _, err := w.Write(buf[:k]); err != nil {
		return fmt.Errorf("%w: %v", ErrFile, err)
	}
	return nil
}

// readNewLength parses a new-format length prefix. partial reports a
// partial body length header.
func readNewLength(r io.Reader) (n int64, partial bool, err error) {
	b0, err := readByte(r)
	if err != nil {
		return 0, false, err
	}
	switch {
	case b0 < 192:
		return int64(b0), false, nil
	case b0 < 224:
		b1, err := readByte(r)
		if err != nil {
			return 0, false, err
		}
		return int64(b0-192)<<8 + int64(b1) + 192, false, nil
	case b0 < 255:
		return 1 << (b0 & 0x1F), true, nil
	default:
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, false, fmt.Errorf("%w: truncated length", ErrInvalidPacket)
		}
		return int64(binary.BigEndian.Uint32(buf[:])), false, nil
	}
}

// readPacketHeader parses the CTB and first length of a packet.
func readPacketHeader(r io.Reader) (*packetHeader, error) {
	ctb, err := readByte(r)
	if err != nil {
		return nil, err
	}
	if ctb&0x80 == 0 {
		return nil, fmt.Errorf("%w: bad CTB 0x%02x", ErrInvalidPacket, ctb)
	}
	hdr := &packetHeader{}
	if ctb&0x40 != 0 {
		hdr.tag = PacketTag(ctb & 0x3F)
		hdr.length, hdr.partial, err = readNewLength(r)
		if err != nil {
			return nil, err
		}
		return hdr, nil
	}
	hdr.tag = PacketTag((ctb >> 2) & 0x0F)
	switch ctb & 0x03 {
	case 0:
		b, err := readByte(r)
		if err != nil {
			return nil, err
		}
		hdr.length = int64(b)
	case 1:
		var buf [2]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, fmt.Errorf("%w: truncated length", ErrInvalidPacket)
		}
		hdr.length = int64(binary.BigEndian.Uint16(buf[:]))
	case 2:
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, fmt.Errorf("%w: truncated length", ErrInvalidPacket)
		}
		hdr.length = int64(binary.BigEndian.Uint32(buf[:]))
	case 3:
		hdr.indeterminate = true
	}
	return hdr, nil
}

func readByte(r io.Reader) (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if err == io.EOF {
			return 0, io.EOF
		}
		return 0, fmt.Errorf("%w: %v", ErrInvalidPacket, err)
	}
	return buf[0], nil
}
