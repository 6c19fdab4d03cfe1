package openpgp

import "errors"

// Sentinel errors for the codec. Callers distinguish failure classes
// with errors.Is; lower-level engine and I/O failures are wrapped into
// one of these at the package boundary so no raw error codes escape.
var (
	// ErrInvalidValue indicates a bad argument or inconsistent filter state.
	ErrInvalidValue = errors.New("openpgp: invalid value")

	// ErrInvalidAlgorithm indicates an unknown or unusable cipher/digest
	// algorithm, including block or digest sizes outside the supported range.
	ErrInvalidAlgorithm = errors.New("openpgp: invalid algorithm")

	// ErrInvalidMode indicates an operation selector the filter does not
	// implement.
	ErrInvalidMode = errors.New("openpgp: invalid mode")

	// ErrInvalidPacket indicates a malformed packet structure: bad tag,
	// unparsable length prefix, or a missing integrity trailer.
	ErrInvalidPacket = errors.New("openpgp: invalid packet")

	// ErrChecksum indicates the quick-check bytes in the decrypted prefix
	// did not repeat. This almost always means a wrong session key; it is
	// not an integrity guarantee.
	ErrChecksum = errors.New("openpgp: prefix checksum mismatch")

	// ErrBadIntegrity indicates the embedded MDC digest did not match the
	// decrypted stream. The whole message must be treated as untrusted,
	// including plaintext already emitted.
	ErrBadIntegrity = errors.New("openpgp: integrity check failed")

	// ErrFile indicates an underlying stream failure.
	ErrFile = errors.New("openpgp: file error")

	// ErrMemory indicates an allocation failure reported by a collaborator.
	ErrMemory = errors.New("openpgp: out of memory")
)

// ErrorCode returns a short stable label for err, for use as a metrics
// or audit dimension. Unrecognized errors map to "other".
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidValue):
		return "invalid_value"
	case errors.Is(err, ErrInvalidAlgorithm):
		return "invalid_algorithm"
	case errors.Is(err, ErrInvalidMode):
		return "invalid_mode"
	case errors.Is(err, ErrInvalidPacket):
		return "invalid_packet"
	case errors.Is(err, ErrChecksum):
		return "checksum"
	case errors.Is(err, ErrBadIntegrity):
		return "bad_integrity"
	case errors.Is(err, ErrFile):
		return "file"
	case errors.Is(err, ErrMemory):
		return "memory"
	default:
		return "other"
	}
}
