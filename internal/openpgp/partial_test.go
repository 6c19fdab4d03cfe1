package openpgp

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

// walkChunks parses a framed body and returns the chunk payload sizes.
func walkChunks(t *testing.T, framed []byte) []int64 {
	t.Helper()
	r := bytes.NewReader(framed)
	var sizes []int64
	for {
		n, partial, err := readNewLength(r)
		if err != nil {
			t.Fatalf("parsing chunk header: %v", err)
		}
		sizes = append(sizes, n)
		if _, err := io.CopyN(io.Discard, r, n); err != nil {
			t.Fatalf("chunk payload short: %v", err)
		}
		if !partial {
			break
		}
	}
	if r.Len() != 0 {
		t.Fatalf("%d trailing bytes after the terminal chunk", r.Len())
	}
	return sizes
}

func TestFrameWriter_ChunkSizesSumToTotal(t *testing.T) {
	tests := []struct {
		name  string
		total int64
		step  int // write size
	}{
		{"empty", 0, 1},
		{"single byte", 1, 1},
		{"below final threshold", 511, 64},
		{"at final threshold", 512, 512},
		{"one above threshold", 513, 1},
		{"power of two ladder", 4095, 1000},
		{"exactly one chunk", 4096, 4096},
		{"chunk plus one", 4097, 33},
		{"large", 123456, 4096},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			fw := newFrameWriter(&out, tt.total)
			payload := make([]byte, tt.step)
			remaining := tt.total
			for remaining > 0 {
				n := int64(len(payload))
				if n > remaining {
					n = remaining
				}
				if _, err := fw.Write(payload[:n]); err != nil {
					t.Fatalf("Write() error: %v", err)
				}
				remaining -= n
			}
			if err := fw.Close(); err != nil {
				t.Fatalf("Close() error: %v", err)
			}

			var sum int64
			sizes := walkChunks(t, out.Bytes())
			for i, size := range sizes {
				last := i == len(sizes)-1
				sum += size
				if !last && size&(size-1) != 0 {
					t.Errorf("chunk %d: partial size %d not a power of two", i, size)
				}
				if !last && size > chunkCap {
					t.Errorf("chunk %d: size %d above capacity", i, size)
				}
			}
			if sum != tt.total {
				t.Fatalf("chunk sizes sum to %d, want %d", sum, tt.total)
			}
		})
	}
}

func TestFrameWriter_OverflowRejected(t *testing.T) {
	var out bytes.Buffer
	fw := newFrameWriter(&out, 10)
	if _, err := fw.Write(make([]byte, 10)); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if _, err := fw.Write([]byte{0}); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("Write() past total error = %v, want ErrInvalidValue", err)
	}
}

func TestFrameWriter_ShortBodyRejected(t *testing.T) {
	var out bytes.Buffer
	fw := newFrameWriter(&out, 100)
	if _, err := fw.Write(make([]byte, 40)); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if err := fw.Close(); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("Close() error = %v, want ErrInvalidValue", err)
	}
}

func TestStreamFrameWriter(t *testing.T) {
	tests := []struct {
		name  string
		total int
	}{
		{"empty", 0},
		{"small", 100},
		{"one chunk exactly", 4096},
		{"chunk plus one", 4097},
		{"several chunks aligned", 12288},
		{"several chunks ragged", 10000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := make([]byte, tt.total)
			for i := range payload {
				payload[i] = byte(i * 13)
			}
			var out bytes.Buffer
			sw := newStreamFrameWriter(&out)
			for o := 0; o < len(payload); o += 1000 {
				end := o + 1000
				if end > len(payload) {
					end = len(payload)
				}
				if _, err := sw.Write(payload[o:end]); err != nil {
					t.Fatalf("Write() error: %v", err)
				}
			}
			if err := sw.Close(); err != nil {
				t.Fatalf("Close() error: %v", err)
			}

			var sum int64
			for _, size := range walkChunks(t, out.Bytes()) {
				sum += size
			}
			if sum != int64(tt.total) {
				t.Fatalf("chunk sizes sum to %d, want %d", sum, tt.total)
			}

			// The reader side must reconstruct the payload exactly.
			r := bytes.NewReader(out.Bytes())
			n, partial, err := readNewLength(r)
			if err != nil {
				t.Fatalf("first chunk header: %v", err)
			}
			got, err := io.ReadAll(newFrameReader(r, n, partial))
			if err != nil {
				t.Fatalf("ReadAll() error: %v", err)
			}
			if !bytes.Equal(got, payload) {
				t.Fatalf("reconstructed %d bytes, want %d", len(got), len(payload))
			}
		})
	}
}

func TestFrameReader_TruncatedBody(t *testing.T) {
	var out bytes.Buffer
	sw := newStreamFrameWriter(&out)
	if _, err := sw.Write(make([]byte, 5000)); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if err := sw.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	framed := out.Bytes()

	for _, cut := range []int{1, 100, 4096, len(framed) - 1} {
		r := bytes.NewReader(framed[:cut])
		n, partial, err := readNewLength(r)
		if err != nil {
			continue // header itself truncated
		}
		_, err = io.ReadAll(newFrameReader(r, n, partial))
		if !errors.Is(err, ErrInvalidPacket) {
			t.Errorf("cut %d: error = %v, want ErrInvalidPacket", cut, err)
		}
	}
}

func TestNewLengthRoundTrip(t *testing.T) {
	for _, n := range []int64{0, 1, 191, 192, 193, 8383, 8384, 1 << 20} {
		var out bytes.Buffer
		if err := writeNewLength(&out, n); err != nil {
			t.Fatalf("writeNewLength(%d): %v", n, err)
		}
		got, partial, err := readNewLength(bytes.NewReader(out.Bytes()))
		if err != nil {
			t.Fatalf("readNewLength(%d): %v", n, err)
		}
		if partial {
			t.Fatalf("length %d parsed as partial", n)
		}
		if got != n {
			t.Fatalf("length round trip: got %d, want %d", got, n)
		}
	}
}
