package cryptocore

import (
	"crypto/cipher"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const sealedFormatVersion = 1

// Argon2Params tunes the Argon2id derivation of the at-rest key.
type Argon2Params struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

var DefaultArgon2Params = Argon2Params{Time: 1, MemoryKiB: 64 * 1024, Threads: 4}

// Sealer wraps private state for storage. The key is derived once from a
// master secret with Argon2id; every blob gets its own random nonce.
type Sealer struct {
	aead cipher.AEAD
}

type sealedBlob struct {
	V      int    `cbor:"v"`
	Nonce  []byte `cbor:"n"`
	Cipher []byte `cbor:"c"`
}

func NewSealer(secret, salt []byte, p Argon2Params) (*Sealer, error) {
	if len(secret) == 0 {
		return nil, errors.New("cryptocore: empty master secret")
	}
	if len(salt) < 16 {
		return nil, errors.New("cryptocore: master salt must be at least 16 bytes")
	}
	if p.Time == 0 || p.MemoryKiB == 0 || p.Threads == 0 {
		p = DefaultArgon2Params
	}
	kek := argon2.IDKey(secret, salt, p.Time, p.MemoryKiB, p.Threads, chacha20poly1305.KeySize)
	defer wipe(kek)
	aead, err := chacha20poly1305.New(kek)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext bound to ad, which should name the record the blob
// belongs to so blobs cannot be swapped between rows.
func (s *Sealer) Seal(plaintext, ad []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if err := readRandom(nonce); err != nil {
		return nil, err
	}
	return cbor.Marshal(sealedBlob{
		V:      sealedFormatVersion,
		Nonce:  nonce,
		Cipher: s.aead.Seal(nil, nonce, plaintext, ad),
	})
}

func (s *Sealer) Open(blob, ad []byte) ([]byte, error) {
	var b sealedBlob
	if err := cbor.Unmarshal(blob, &b); err != nil {
		return nil, fmt.Errorf("cryptocore: decode sealed blob: %w", err)
	}
	if b.V > sealedFormatVersion {
		return nil, fmt.Errorf("cryptocore: unsupported sealed blob version %d", b.V)
	}
	if len(b.Nonce) != s.aead.NonceSize() {
		return nil, ErrWrongPassphrase
	}
	pt, err := s.aead.Open(nil, b.Nonce, b.Cipher, ad)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return pt, nil
}
