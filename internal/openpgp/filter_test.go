package openpgp

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel) // Reduce noise
	return l
}

func testKey(tb testing.TB, algo CipherAlgo, seed byte) *SessionKey {
	tb.Helper()
	size := algo.KeySize()
	if size == 0 {
		tb.Fatalf("no key size for algo %d", algo)
	}
	key := make([]byte, size)
	for i := range key {
		key[i] = seed + byte(i)*31
	}
	return &SessionKey{Algo: algo, Key: key, UseMDC: true}
}

// hideLen wraps a reader so the filter cannot discover its length.
type hideLen struct{ r io.Reader }

func (h hideLen) Read(p []byte) (int, error) { return h.r.Read(p) }

func mustEncode(tb testing.TB, sk *SessionKey, plaintext []byte, blockMode bool) []byte {
	tb.Helper()
	f := NewCipherFilter(sk, testLogger())
	f.BlockMode = blockMode
	defer f.Free()
	var out bytes.Buffer
	if err := f.Encode(bytes.NewReader(plaintext), &out); err != nil {
		tb.Fatalf("Encode() error: %v", err)
	}
	return out.Bytes()
}

func decode(sk *SessionKey, packet []byte) ([]byte, error) {
	f := NewCipherFilter(sk, testLogger())
	defer f.Free()
	var out bytes.Buffer
	err := f.Decode(bytes.NewReader(packet), &out)
	return out.Bytes(), err
}

func TestCipherFilter_RoundTrip(t *testing.T) {
	sizes := []int{0, 1, 511, 512, 513, 4095, 4096, 4097}
	for _, algo := range CipherAlgos() {
		for _, size := range sizes {
			sk := testKey(t, algo, 0x42)
			plaintext := make([]byte, size)
			for i := range plaintext {
				plaintext[i] = byte(i * 7)
			}
			packet := mustEncode(t, sk, plaintext, false)
			got, err := decode(sk, packet)
			if err != nil {
				t.Errorf("%s/%d: Decode() error: %v", algo, size, err)
				continue
			}
			if !bytes.Equal(got, plaintext) {
				t.Errorf("%s/%d: round trip mismatch: got %d bytes", algo, size, len(got))
			}
		}
	}
}

func TestCipherFilter_RoundTripLegacy(t *testing.T) {
	// 64-bit block ciphers without MDC take the resync code path.
	for _, algo := range []CipherAlgo{CipherTripleDES, CipherCAST5, CipherBlowfish} {
		sk := testKey(t, algo, 0x91)
		sk.UseMDC = false
		plaintext := bytes.Repeat([]byte("legacy stream "), 100)
		packet := mustEncode(t, sk, plaintext, false)
		if tag := PacketTag(packet[0] & 0x3F); tag != TagSymEncrypted {
			t.Fatalf("%s: tag = %d, want %d", algo, tag, TagSymEncrypted)
		}
		got, err := decode(sk, packet)
		if err != nil {
			t.Fatalf("%s: Decode() error: %v", algo, err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Fatalf("%s: round trip mismatch", algo)
		}
	}
}

func TestCipherFilter_RoundTripBlockMode(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		hidden  bool // hide the input length to force streaming framing
	}{
		{"exactly one chunk", 4096, false},
		{"one chunk plus one", 4097, false},
		{"several chunks", 12345, false},
		{"unknown length small", 100, true},
		{"unknown length large", 10000, true},
		{"unknown length chunk aligned", 8192, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sk := testKey(t, CipherAES256, 0x33)
			plaintext := make([]byte, tt.size)
			for i := range plaintext {
				plaintext[i] = byte(i)
			}

			f := NewCipherFilter(sk, testLogger())
			f.BlockMode = true
			defer f.Free()
			var in io.Reader = bytes.NewReader(plaintext)
			if tt.hidden {
				in = hideLen{in}
			}
			var out bytes.Buffer
			if err := f.Encode(in, &out); err != nil {
				t.Fatalf("Encode() error: %v", err)
			}

			got, err := decode(sk, out.Bytes())
			if err != nil {
				t.Fatalf("Decode() error: %v", err)
			}
			if !bytes.Equal(got, plaintext) {
				t.Fatalf("round trip mismatch: got %d want %d bytes", len(got), len(plaintext))
			}
		})
	}
}

func TestCipherFilter_UnknownLengthRequiresBlockMode(t *testing.T) {
	sk := testKey(t, CipherAES128, 0x10)
	f := NewCipherFilter(sk, testLogger())
	defer f.Free()
	err := f.Encode(hideLen{bytes.NewReader([]byte("abc"))}, &bytes.Buffer{})
	if !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("Encode() error = %v, want ErrInvalidValue", err)
	}
}

func TestCipherFilter_WrongKey(t *testing.T) {
	sk := testKey(t, CipherAES128, 0x42)
	packet := mustEncode(t, sk, []byte("attack at dawn"), false)

	wrong := testKey(t, CipherAES128, 0x43)
	_, err := decode(wrong, packet)
	if !errors.Is(err, ErrChecksum) {
		t.Fatalf("Decode() with wrong key error = %v, want ErrChecksum", err)
	}
}

func TestCipherFilter_TamperedCiphertext(t *testing.T) {
	sk := testKey(t, CipherAES128, 0x42)
	plaintext := bytes.Repeat([]byte("integrity matters "), 32)
	packet := mustEncode(t, sk, plaintext, false)

	// Layout: CTB(1) len(2) version(1) prefix(18) data... trailer(22).
	// Bytes well clear of the prefix and of the trailer's error
	// propagation window must fail the digest check exactly.
	dataStart := 1 + 2 + 1 + 18
	dataEnd := len(packet) - mdcTrailerSize - 16
	for _, off := range []int{dataStart, dataStart + 100, (dataStart + dataEnd) / 2, dataEnd - 1} {
		mangled := append([]byte(nil), packet...)
		mangled[off] ^= 0x40
		got, err := decode(sk, mangled)
		if !errors.Is(err, ErrBadIntegrity) {
			t.Errorf("offset %d: error = %v, want ErrBadIntegrity", off, err)
		}
		if err == nil && bytes.Equal(got, plaintext) {
			t.Errorf("offset %d: tampering not detected", off)
		}
	}

	// Every other interior byte must still be rejected with a codec
	// error, never accepted as valid plaintext.
	for off := 3; off < len(packet); off++ {
		mangled := append([]byte(nil), packet...)
		mangled[off] ^= 0x01
		_, err := decode(sk, mangled)
		if err == nil {
			t.Fatalf("offset %d: tampered packet accepted", off)
		}
	}
}

func TestCipherFilter_MDCForcedOn(t *testing.T) {
	for _, algo := range []CipherAlgo{CipherAES128, CipherAES192, CipherAES256, CipherTwofish} {
		sk := testKey(t, algo, 0x77)
		sk.UseMDC = false
		plaintext := []byte("128-bit blocks always get a trailer")
		packet := mustEncode(t, sk, plaintext, false)
		if tag := PacketTag(packet[0] & 0x3F); tag != TagSymEncryptedMDC {
			t.Fatalf("%s: tag = %d, want %d", algo, tag, TagSymEncryptedMDC)
		}
		got, err := decode(sk, packet)
		if err != nil {
			t.Fatalf("%s: Decode() error: %v", algo, err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Fatalf("%s: round trip mismatch", algo)
		}
	}
}

func TestCipherFilter_FreeIdempotent(t *testing.T) {
	sk := testKey(t, CipherAES256, 0x55)
	f := NewCipherFilter(sk, testLogger())

	// Free on a never-run filter.
	if err := f.Free(); err != nil {
		t.Fatalf("Free() on fresh filter: %v", err)
	}

	var out bytes.Buffer
	if err := f.Encode(bytes.NewReader([]byte("data")), &out); err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if err := f.Free(); err != nil {
		t.Fatalf("first Free(): %v", err)
	}
	if err := f.Free(); err != nil {
		t.Fatalf("second Free(): %v", err)
	}
	if f.engine != nil || f.mdc != nil {
		t.Fatal("Free() left live engine handles")
	}
}

func TestCipherFilter_TruncatedPacket(t *testing.T) {
	sk := testKey(t, CipherAES128, 0x42)
	packet := mustEncode(t, sk, bytes.Repeat([]byte{0xAB}, 200), false)

	tests := []struct {
		name string
		cut  int
	}{
		{"empty", 0},
		{"header only", 2},
		{"mid prefix", 10},
		{"before trailer end", len(packet) - 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decode(sk, packet[:tt.cut])
			if err == nil {
				t.Fatal("Decode() accepted a truncated packet")
			}
		})
	}
}

func TestCipherFilter_BadVersionByte(t *testing.T) {
	sk := testKey(t, CipherAES128, 0x42)
	packet := mustEncode(t, sk, []byte("hello"), false)
	packet[2] = 2 // version byte follows CTB and the one-byte length
	_, err := decode(sk, packet)
	if !errors.Is(err, ErrInvalidPacket) {
		t.Fatalf("Decode() error = %v, want ErrInvalidPacket", err)
	}
}

func TestDispatch(t *testing.T) {
	sk := testKey(t, CipherAES128, 0x21)
	plaintext := []byte("dispatched")

	f := NewCipherFilter(sk, testLogger())
	var packet bytes.Buffer
	if err := Dispatch(f, OpWrite, bytes.NewReader(plaintext), &packet); err != nil {
		t.Fatalf("Dispatch(OpWrite) error: %v", err)
	}
	if err := Dispatch(f, OpFree, nil, nil); err != nil {
		t.Fatalf("Dispatch(OpFree) error: %v", err)
	}

	g := NewCipherFilter(sk, testLogger())
	var out bytes.Buffer
	if err := Dispatch(g, OpRead, bytes.NewReader(packet.Bytes()), &out); err != nil {
		t.Fatalf("Dispatch(OpRead) error: %v", err)
	}
	if !bytes.Equal(out.Bytes(), plaintext) {
		t.Fatal("dispatch round trip mismatch")
	}
	if err := Dispatch(g, OpFree, nil, nil); err != nil {
		t.Fatalf("Dispatch(OpFree) error: %v", err)
	}

	if err := Dispatch(g, Op(99), nil, nil); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("Dispatch(99) error = %v, want ErrInvalidMode", err)
	}
}

func TestCipherFilter_PacketLayout(t *testing.T) {
	old := randomSource
	randomSource = bytes.NewReader(bytes.Repeat([]byte{0x5A}, 64))
	defer func() { randomSource = old }()

	sk := testKey(t, CipherAES128, 0x42)
	packet := mustEncode(t, sk, []byte("xyz"), false)

	if packet[0] != 0xC0|byte(TagSymEncryptedMDC) {
		t.Fatalf("CTB = 0x%02x", packet[0])
	}
	// body = version(1) + prefix(18) + data(3) + trailer(22) = 44
	if packet[1] != 44 {
		t.Fatalf("length octet = %d, want 44", packet[1])
	}
	if packet[2] != mdcVersion {
		t.Fatalf("version byte = %d", packet[2])
	}
	if len(packet) != 2+44 {
		t.Fatalf("packet size = %d, want %d", len(packet), 2+44)
	}
}
