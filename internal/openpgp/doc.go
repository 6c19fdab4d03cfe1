// Package openpgp implements the OpenPGP symmetric-key encrypted data
// packet (RFC 4880 sections 5.7 and 5.13) as a pair of streaming filters:
// given an already-derived session key, Encode turns a plaintext stream
// into a framed ciphertext packet and Decode reverses it.
//
// The package covers the self-synchronizing CFB framing with its
// quick-check prefix, the optional Modification Detection Code trailer,
// and the partial-body-length chunking protocol for streams of unknown
// size. Key derivation, compression and armoring are out of scope and
// belong to the surrounding message-processing layer.
package openpgp
