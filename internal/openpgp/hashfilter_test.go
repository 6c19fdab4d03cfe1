package openpgp

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"strings"
	"testing"
)

func TestHashFilter_AccumulatesAcrossReads(t *testing.T) {
	f := NewHashFilter(DigestSHA256, testLogger())
	defer f.Free()

	var sink bytes.Buffer
	if err := Dispatch(f, OpRead, strings.NewReader("hello "), &sink); err != nil {
		t.Fatalf("Dispatch(OpRead) error: %v", err)
	}
	if err := Dispatch(f, OpRead, strings.NewReader("world"), &sink); err != nil {
		t.Fatalf("Dispatch(OpRead) error: %v", err)
	}
	if sink.Len() != 0 {
		t.Fatalf("hash filter wrote %d bytes to the output", sink.Len())
	}

	want := sha256.Sum256([]byte("hello world"))
	if !bytes.Equal(f.Sum(), want[:]) {
		t.Fatal("digest mismatch")
	}
}

func TestHashFilter_EncodeRejected(t *testing.T) {
	f := NewHashFilter(DigestSHA1, testLogger())
	defer f.Free()
	err := f.Encode(strings.NewReader("x"), &bytes.Buffer{})
	if !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("Encode() error = %v, want ErrInvalidMode", err)
	}
}

func TestHashFilter_FreeIdempotent(t *testing.T) {
	f := NewHashFilter(DigestSHA1, testLogger())
	if err := f.Free(); err != nil {
		t.Fatalf("Free() on fresh filter: %v", err)
	}
	if err := f.Decode(strings.NewReader("data"), nil); err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if err := f.Free(); err != nil {
		t.Fatalf("first Free(): %v", err)
	}
	if err := f.Free(); err != nil {
		t.Fatalf("second Free(): %v", err)
	}
	if f.Sum() != nil {
		t.Fatal("Sum() after Free() returned a digest")
	}
}

func TestHashFilter_UnknownDigest(t *testing.T) {
	f := NewHashFilter(DigestAlgo(42), testLogger())
	err := f.Decode(strings.NewReader("x"), nil)
	if !errors.Is(err, ErrInvalidAlgorithm) {
		t.Fatalf("Decode() error = %v, want ErrInvalidAlgorithm", err)
	}
}
