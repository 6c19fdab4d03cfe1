package openpgp

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// HashFilter accumulates a digest over everything it reads without
// writing anything to the output: a tap, not a transform. It shares the
// Filter dispatch contract so it can be chained into the same pipeline as
// the cipher filter, but it is one-directional; Encode is rejected.
//
// The digest here is unrelated to the embedded MDC hashing inside the
// cipher filter.
type HashFilter struct {
	algo DigestAlgo
	log  logrus.FieldLogger
	eng  HashEngine
}

func NewHashFilter(algo DigestAlgo, log logrus.FieldLogger) *HashFilter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &HashFilter{algo: algo, log: log}
}

// Decode consumes in completely, feeding the hash engine. The engine is
// opened lazily on the first invocation so repeated calls extend the same
// digest.
func (f *HashFilter) Decode(in io.Reader, out io.Writer) error {
	if in == nil {
		return fmt.Errorf("%w: nil input", ErrInvalidValue)
	}
	f.log.WithField("algo", f.algo.String()).Debug("hash filter: read")

	if f.eng == nil {
		eng, err := OpenHashEngine(f.algo)
		if err != nil {
			return err
		}
		f.eng = eng
	}

	var buf [chunkCap]byte
	defer wipe(buf[:])
	for {
		nr, rerr := in.Read(buf[:])
		if nr > 0 {
			if _, err := f.eng.Write(buf[:nr]); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidValue, err)
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("%w: %v", ErrFile, rerr)
		}
	}
}

// Encode is not part of this filter's contract.
func (f *HashFilter) Encode(in io.Reader, out io.Writer) error {
	return fmt.Errorf("%w: hash filter is read-only", ErrInvalidMode)
}

// Sum finalizes and returns the accumulated digest, or nil if nothing was
// ever read.
func (f *HashFilter) Sum() []byte {
	if f.eng == nil {
		return nil
	}
	f.eng.Finalize()
	return f.eng.Read()
}

// Free releases the hash engine. Idempotent.
func (f *HashFilter) Free() error {
	if f.eng != nil {
		f.eng.Close()
		f.eng = nil
	}
	return nil
}
