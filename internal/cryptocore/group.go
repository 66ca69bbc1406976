package cryptocore

import (
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"
	"maps"
	"slices"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const hkdfInfoGroupKEK = "E2EE-Messaging-GroupKEK"

// GroupKey is one version of a group's symmetric key.
type GroupKey struct {
	GroupID string
	Version uint32
	Key     [32]byte
}

// GroupKeyGrant is a GroupKey sealed for a single member's identity key.
type GroupKeyGrant struct {
	GroupID      string   `cbor:"g"`
	Version      uint32   `cbor:"v"`
	MemberID     string   `cbor:"m"`
	EphemeralKey [32]byte `cbor:"ek"`
	Nonce        [12]byte `cbor:"iv"`
	WrappedKey   []byte   `cbor:"wk"`
}

// GroupMessage carries the key version it was sealed under so receivers can
// pick the matching historical key.
type GroupMessage struct {
	GroupID    string   `cbor:"g"`
	Version    uint32   `cbor:"v"`
	Nonce      [12]byte `cbor:"iv"`
	Ciphertext []byte   `cbor:"ct"`
}

func NewGroupKey(groupID string, version uint32) (*GroupKey, error) {
	if groupID == "" || version == 0 {
		return nil, errors.New("cryptocore: group key needs an id and a non-zero version")
	}
	gk := &GroupKey{GroupID: groupID, Version: version}
	if err := readRandom(gk.Key[:]); err != nil {
		return nil, err
	}
	return gk, nil
}

// WrapGroupKeyForMember seals key for memberPublic using an ephemeral X25519
// agreement. Only the holder of the matching identity private key can unwrap.
func WrapGroupKeyForMember(key *GroupKey, memberID string, memberPublic [32]byte) (*GroupKeyGrant, error) {
	if key == nil {
		return nil, errors.New("cryptocore: nil group key")
	}
	if isZeroKey(memberPublic) {
		return nil, ErrInvalidRemoteKey
	}
	eph, err := generateX25519KeyPair()
	if err != nil {
		return nil, err
	}
	defer wipe(eph.Private[:])
	dh, err := curve25519.X25519(eph.Private[:], memberPublic[:])
	if err != nil {
		return nil, ErrInvalidRemoteKey
	}
	grant := &GroupKeyGrant{
		GroupID:      key.GroupID,
		Version:      key.Version,
		MemberID:     memberID,
		EphemeralKey: eph.Public,
	}
	if err := readRandom(grant.Nonce[:]); err != nil {
		return nil, err
	}
	aead, err := groupKEK(dh, eph.Public, memberPublic)
	if err != nil {
		return nil, err
	}
	grant.WrappedKey = aead.Seal(nil, grant.Nonce[:], key.Key[:], grantAD(grant.GroupID, grant.Version, grant.MemberID))
	return grant, nil
}

// UnwrapGroupKey opens a grant addressed to this device's identity key.
func (d *Device) UnwrapGroupKey(grant *GroupKeyGrant) (*GroupKey, error) {
	if d == nil {
		return nil, errors.New("cryptocore: nil device")
	}
	if grant == nil {
		return nil, errors.New("cryptocore: nil grant")
	}
	dh, err := curve25519.X25519(d.identity.dhPrivate[:], grant.EphemeralKey[:])
	if err != nil {
		return nil, ErrInvalidRemoteKey
	}
	aead, err := groupKEK(dh, grant.EphemeralKey, d.identity.dhPublic)
	if err != nil {
		return nil, err
	}
	raw, err := aead.Open(nil, grant.Nonce[:], grant.WrappedKey, grantAD(grant.GroupID, grant.Version, grant.MemberID))
	if err != nil {
		return nil, ErrAuthenticationFailure
	}
	defer wipe(raw)
	gk := &GroupKey{GroupID: grant.GroupID, Version: grant.Version}
	copy(gk.Key[:], raw)
	return gk, nil
}

func EncryptGroupMessage(key *GroupKey, plaintext []byte) (*GroupMessage, error) {
	if key == nil {
		return nil, errors.New("cryptocore: nil group key")
	}
	msg := &GroupMessage{GroupID: key.GroupID, Version: key.Version}
	if err := readRandom(msg.Nonce[:]); err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key.Key[:])
	if err != nil {
		return nil, err
	}
	msg.Ciphertext = aead.Seal(nil, msg.Nonce[:], plaintext, grantAD(msg.GroupID, msg.Version, ""))
	return msg, nil
}

// DecryptGroupMessage opens msg with key. A key of a different group or
// version is rejected before any decryption is attempted.
func DecryptGroupMessage(key *GroupKey, msg *GroupMessage) ([]byte, error) {
	if key == nil || msg == nil {
		return nil, errors.New("cryptocore: nil group key or message")
	}
	if key.GroupID != msg.GroupID || key.Version != msg.Version {
		return nil, ErrUnknownGroupKeyVersion
	}
	aead, err := chacha20poly1305.New(key.Key[:])
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, msg.Nonce[:], msg.Ciphertext, grantAD(msg.GroupID, msg.Version, ""))
	if err != nil {
		return nil, ErrAuthenticationFailure
	}
	return plaintext, nil
}

func groupKEK(dh []byte, ephPublic, memberPublic [32]byte) (cipher.AEAD, error) {
	defer wipe(dh)
	salt := make([]byte, 0, 64)
	salt = append(salt, ephPublic[:]...)
	salt = append(salt, memberPublic[:]...)
	var kek [32]byte
	if _, err := io.ReadFull(hkdf.New(sha256.New, dh, salt, []byte(hkdfInfoGroupKEK)), kek[:]); err != nil {
		return nil, err
	}
	defer wipe(kek[:])
	return chacha20poly1305.New(kek[:])
}

func grantAD(groupID string, version uint32, memberID string) []byte {
	ad := make([]byte, 0, 12+len(groupID)+len(memberID))
	ad = binary.BigEndian.AppendUint32(ad, uint32(len(groupID)))
	ad = append(ad, groupID...)
	ad = binary.BigEndian.AppendUint32(ad, version)
	ad = binary.BigEndian.AppendUint32(ad, uint32(len(memberID)))
	return append(ad, memberID...)
}

// GroupKeyring holds the retained versions of one group's key so history
// sealed under older versions stays readable.
type GroupKeyring struct {
	groupID  string
	versions map[uint32]*GroupKey
	current  uint32
}

func NewGroupKeyring(groupID string) *GroupKeyring {
	return &GroupKeyring{groupID: groupID, versions: make(map[uint32]*GroupKey)}
}

func (r *GroupKeyring) Add(key *GroupKey) error {
	if key == nil || key.GroupID != r.groupID {
		return errors.New("cryptocore: group key does not belong to keyring")
	}
	r.versions[key.Version] = key
	if key.Version > r.current {
		r.current = key.Version
	}
	return nil
}

// Current returns the newest version held, or nil for an empty keyring.
func (r *GroupKeyring) Current() *GroupKey {
	return r.versions[r.current]
}

// Versions lists the key versions held, oldest first.
func (r *GroupKeyring) Versions() []uint32 {
	return slices.Sorted(maps.Keys(r.versions))
}

// Decrypt picks the key version named in msg.
func (r *GroupKeyring) Decrypt(msg *GroupMessage) ([]byte, error) {
	if msg == nil {
		return nil, errors.New("cryptocore: nil group message")
	}
	if msg.GroupID != r.groupID {
		return nil, ErrUnknownGroupKeyVersion
	}
	key, ok := r.versions[msg.Version]
	if !ok {
		return nil, ErrUnknownGroupKeyVersion
	}
	return DecryptGroupMessage(key, msg)
}
