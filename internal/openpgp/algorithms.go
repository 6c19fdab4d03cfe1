package openpgp

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"fmt"

	"golang.org/x/crypto/blowfish"
	"golang.org/x/crypto/cast5"
	"golang.org/x/crypto/twofish"
)

// CipherAlgo identifies a symmetric cipher by its RFC 4880 section 9.2 id.
type CipherAlgo uint8

const (
	CipherTripleDES CipherAlgo = 2
	CipherCAST5     CipherAlgo = 3
	CipherBlowfish  CipherAlgo = 4
	CipherAES128    CipherAlgo = 7
	CipherAES192    CipherAlgo = 8
	CipherAES256    CipherAlgo = 9
	CipherTwofish   CipherAlgo = 10
)

// cipherSpec describes one supported block cipher.
type cipherSpec struct {
	name      string
	keySize   int
	blockSize int
	newBlock  func(key []byte) (cipher.Block, error)
}

var cipherSpecs = map[CipherAlgo]cipherSpec{
	CipherTripleDES: {"3DES", 24, 8, des.NewTripleDESCipher},
	CipherCAST5: {"CAST5", 16, 8, func(key []byte) (cipher.Block, error) {
		return cast5.NewCipher(key)
	}},
	CipherBlowfish: {"Blowfish", 16, 8, func(key []byte) (cipher.Block, error) {
		return blowfish.NewCipher(key)
	}},
	CipherAES128: {"AES-128", 16, 16, aes.NewCipher},
	CipherAES192: {"AES-192", 24, 16, aes.NewCipher},
	CipherAES256: {"AES-256", 32, 16, aes.NewCipher},
	CipherTwofish: {"Twofish", 32, 16, func(key []byte) (cipher.Block, error) {
		return twofish.NewCipher(key)
	}},
}

// CipherAlgos lists the supported cipher ids in ascending order.
func CipherAlgos() []CipherAlgo {
	return []CipherAlgo{
		CipherTripleDES, CipherCAST5, CipherBlowfish,
		CipherAES128, CipherAES192, CipherAES256, CipherTwofish,
	}
}

// CipherAlgoByName resolves a configuration name like "AES-256" to its id.
func CipherAlgoByName(name string) (CipherAlgo, error) {
	for id, spec := range cipherSpecs {
		if spec.name == name {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown cipher %q", ErrInvalidAlgorithm, name)
}

func (a CipherAlgo) String() string {
	if spec, ok := cipherSpecs[a]; ok {
		return spec.name
	}
	return fmt.Sprintf("cipher(%d)", uint8(a))
}

// KeySize returns the cipher's key size in bytes, or 0 if unknown.
func (a CipherAlgo) KeySize() int {
	return cipherSpecs[a].keySize
}

// BlockSize returns the cipher's block size in bytes, or 0 if unknown.
func (a CipherAlgo) BlockSize() int {
	return cipherSpecs[a].blockSize
}

// newBlock instantiates the block cipher for a with the given key.
func (a CipherAlgo) newBlock(key []byte) (cipher.Block, error) {
	spec, ok := cipherSpecs[a]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported cipher id %d", ErrInvalidAlgorithm, uint8(a))
	}
	if len(key) != spec.keySize {
		return nil, fmt.Errorf("%w: %s expects a %d-byte key, got %d",
			ErrInvalidValue, spec.name, spec.keySize, len(key))
	}
	block, err := spec.newBlock(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAlgorithm, err)
	}
	return block, nil
}
