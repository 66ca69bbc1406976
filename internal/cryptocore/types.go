package cryptocore

import (
	"crypto/ed25519"
	"time"
)

type SessionRole int

const (
	RoleInitiator SessionRole = iota
	RoleResponder
)

// Device holds the private key material of one device: the identity pair,
// every signed prekey that has not expired yet, and the unused one-time pool.
type Device struct {
	identity      identityKeyPair
	signedPrekeys map[uint32]*signedPrekey
	activeSPK     uint32
	oneTime       map[uint32]keyPair
	nextOTKID     uint32
}

type identityKeyPair struct {
	signingPublic  ed25519.PublicKey
	signingPrivate ed25519.PrivateKey
	dhPrivate      [32]byte
	dhPublic       [32]byte
}

type keyPair struct {
	Private [32]byte
	Public  [32]byte
}

type signedPrekey struct {
	version   uint32
	key       keyPair
	signature []byte
	createdAt time.Time
	expiresAt time.Time
}

type SignedPreKey struct {
	Version   uint32    `cbor:"v"`
	Public    [32]byte  `cbor:"pub"`
	Signature []byte    `cbor:"sig"`
	CreatedAt time.Time `cbor:"created"`
	ExpiresAt time.Time `cbor:"expires"`
}

type OneTimePreKey struct {
	ID     uint32   `cbor:"id"`
	Public [32]byte `cbor:"pub"`
}

// KeyBundle is the public snapshot a device publishes for others to start
// sessions with it.
type KeyBundle struct {
	IdentityKey        [32]byte        `cbor:"ik"`
	IdentitySigningKey []byte          `cbor:"isk"`
	SignedPreKey       SignedPreKey    `cbor:"spk"`
	OneTimePreKeys     []OneTimePreKey `cbor:"otks,omitempty"`
}

type HandshakeMessage struct {
	IdentityKey         [32]byte `cbor:"ik"`
	IdentitySigningKey  []byte   `cbor:"isk"`
	EphemeralKey        [32]byte `cbor:"ek"`
	SignedPreKeyVersion uint32   `cbor:"spkv"`
	OneTimePreKeyID     *uint32  `cbor:"otk,omitempty"`
}

type chainState struct {
	Key   [32]byte
	Index uint32
}

type skippedEntry struct {
	key     [32]byte
	created int64
}

type SessionState struct {
	RootKey          [32]byte
	SendChain        chainState
	RecvChain        chainState
	RatchetPrivate   [32]byte
	RatchetPublic    [32]byte
	RemoteRatchet    [32]byte
	RemoteIdentity   [32]byte
	RemoteSigningKey []byte
	AssociatedData   []byte
	PN               uint32
	Role             SessionRole
	// PendingHandshake is attached to outgoing envelopes until the peer
	// answers, so a responder that was offline can still bootstrap.
	PendingHandshake *HandshakeMessage
	skipped          map[string]skippedEntry
}

type MessageHeader struct {
	RatchetKey [32]byte `cbor:"dh"`
	PN         uint32   `cbor:"pn"`
	N          uint32   `cbor:"n"`
}

// Envelope is everything the transport carries for one pairwise message.
type Envelope struct {
	Header     MessageHeader     `cbor:"h"`
	IV         [12]byte          `cbor:"iv"`
	Ciphertext []byte            `cbor:"ct"`
	Tag        [16]byte          `cbor:"tag"`
	Handshake  *HandshakeMessage `cbor:"hs,omitempty"`
}
