package cryptocore

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const hkdfInfoX3DH = "E2EE-Messaging-X3DH"

// InitSession performs the X3DH handshake as the initiator using the remote
// prekey bundle and prepares the initial Double Ratchet state. The first
// one-time prekey in the bundle is used when present; otherwise the
// agreement falls back to three DH outputs.
func (d *Device) InitSession(bundle *KeyBundle) (*SessionState, *HandshakeMessage, error) {
	if d == nil {
		return nil, nil, errors.New("cryptocore: nil device")
	}
	if err := VerifyBundle(bundle); err != nil {
		return nil, nil, err
	}
	if exp := bundle.SignedPreKey.ExpiresAt; !exp.IsZero() && !now().Before(exp) {
		return nil, nil, ErrSignedPreKeyExpired
	}

	ephemeral, err := generateX25519KeyPair()
	if err != nil {
		return nil, nil, err
	}

	var otk *OneTimePreKey
	if len(bundle.OneTimePreKeys) > 0 {
		otk = &bundle.OneTimePreKeys[0]
	}

	secret, err := deriveSharedSecretInitiator(d, bundle, ephemeral, otk)
	if err != nil {
		return nil, nil, err
	}
	root, chain, err := deriveInitialKeys(secret)
	wipe(secret)
	if err != nil {
		return nil, nil, err
	}

	var otkID *uint32
	if otk != nil {
		otkID = new(uint32)
		*otkID = otk.ID
	}

	msg := &HandshakeMessage{
		IdentityKey:         d.identity.dhPublic,
		IdentitySigningKey:  append([]byte(nil), d.identity.signingPublic...),
		EphemeralKey:        ephemeral.Public,
		SignedPreKeyVersion: bundle.SignedPreKey.Version,
		OneTimePreKeyID:     otkID,
	}

	sess := &SessionState{
		RootKey:          root,
		SendChain:        chainState{Key: chain},
		RatchetPrivate:   ephemeral.Private,
		RatchetPublic:    ephemeral.Public,
		RemoteRatchet:    bundle.SignedPreKey.Public,
		RemoteIdentity:   bundle.IdentityKey,
		RemoteSigningKey: append([]byte(nil), bundle.IdentitySigningKey...),
		AssociatedData:   associatedData(d.identity.dhPublic, bundle.IdentityKey),
		Role:             RoleInitiator,
		PendingHandshake: msg,
		skipped:          make(map[string]skippedEntry),
	}
	return sess, msg, nil
}

// AcceptSession finalizes the X3DH handshake on the responder side. The
// referenced one-time prekey is removed from the pool so it can never serve a
// second handshake.
func (d *Device) AcceptSession(msg *HandshakeMessage) (*SessionState, error) {
	if d == nil {
		return nil, errors.New("cryptocore: nil device")
	}
	if msg == nil {
		return nil, errors.New("cryptocore: nil handshake message")
	}
	spk, ok := d.signedPrekeys[msg.SignedPreKeyVersion]
	if !ok {
		return nil, ErrUnknownSignedPreKey
	}
	if !now().Before(spk.expiresAt) {
		return nil, ErrSignedPreKeyExpired
	}
	var otk *keyPair
	if msg.OneTimePreKeyID != nil {
		k, ok := d.oneTime[*msg.OneTimePreKeyID]
		if !ok {
			return nil, ErrMissingOneTimeKey
		}
		otk = &k
	}
	secret, err := deriveSharedSecretResponder(d, spk.key, msg, otk)
	if err != nil {
		return nil, err
	}
	root, chain, err := deriveInitialKeys(secret)
	wipe(secret)
	if err != nil {
		return nil, err
	}
	if msg.OneTimePreKeyID != nil {
		delete(d.oneTime, *msg.OneTimePreKeyID)
	}

	sess := &SessionState{
		RootKey:          root,
		RecvChain:        chainState{Key: chain},
		RatchetPrivate:   spk.key.Private,
		RatchetPublic:    spk.key.Public,
		RemoteRatchet:    msg.EphemeralKey,
		RemoteIdentity:   msg.IdentityKey,
		RemoteSigningKey: append([]byte(nil), msg.IdentitySigningKey...),
		AssociatedData:   associatedData(msg.IdentityKey, d.identity.dhPublic),
		Role:             RoleResponder,
		skipped:          make(map[string]skippedEntry),
	}
	return sess, nil
}

// SameHandshake reports whether two handshake messages describe the same
// X3DH run.
func SameHandshake(a, b *HandshakeMessage) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.EphemeralKey == b.EphemeralKey && a.IdentityKey == b.IdentityKey &&
		bytes.Equal(a.IdentitySigningKey, b.IdentitySigningKey)
}

func deriveSharedSecretInitiator(d *Device, bundle *KeyBundle, eph keyPair, otk *OneTimePreKey) ([]byte, error) {
	dh1, err := curve25519.X25519(d.identity.dhPrivate[:], bundle.SignedPreKey.Public[:])
	if err != nil {
		return nil, err
	}
	dh2, err := curve25519.X25519(eph.Private[:], bundle.IdentityKey[:])
	if err != nil {
		return nil, err
	}
	dh3, err := curve25519.X25519(eph.Private[:], bundle.SignedPreKey.Public[:])
	if err != nil {
		return nil, err
	}
	secret := concatSecrets(dh1, dh2, dh3)
	if otk != nil {
		dh4, err := curve25519.X25519(eph.Private[:], otk.Public[:])
		if err != nil {
			wipe(secret)
			return nil, err
		}
		secret = append(secret, dh4...)
		wipe(dh4)
	}
	return secret, nil
}

func deriveSharedSecretResponder(d *Device, spk keyPair, msg *HandshakeMessage, otk *keyPair) ([]byte, error) {
	dh1, err := curve25519.X25519(spk.Private[:], msg.IdentityKey[:])
	if err != nil {
		return nil, err
	}
	dh2, err := curve25519.X25519(d.identity.dhPrivate[:], msg.EphemeralKey[:])
	if err != nil {
		return nil, err
	}
	dh3, err := curve25519.X25519(spk.Private[:], msg.EphemeralKey[:])
	if err != nil {
		return nil, err
	}
	secret := concatSecrets(dh1, dh2, dh3)
	if otk != nil {
		dh4, err := curve25519.X25519(otk.Private[:], msg.EphemeralKey[:])
		if err != nil {
			wipe(secret)
			return nil, err
		}
		secret = append(secret, dh4...)
		wipe(dh4)
	}
	return secret, nil
}

// concatSecrets prefixes 32 0xFF bytes so the KDF input can never collide
// with a raw curve point, then appends the DH outputs and wipes them.
func concatSecrets(parts ...[]byte) []byte {
	secret := bytes.Repeat([]byte{0xFF}, 32)
	for _, p := range parts {
		secret = append(secret, p...)
		wipe(p)
	}
	return secret
}

func deriveInitialKeys(secret []byte) ([32]byte, [32]byte, error) {
	salt := make([]byte, sha256.Size)
	kdf := hkdf.New(sha256.New, secret, salt, []byte(hkdfInfoX3DH))
	var root, chain [32]byte
	if _, err := io.ReadFull(kdf, root[:]); err != nil {
		return [32]byte{}, [32]byte{}, err
	}
	if _, err := io.ReadFull(kdf, chain[:]); err != nil {
		return [32]byte{}, [32]byte{}, err
	}
	return root, chain, nil
}

func associatedData(initiator, responder [32]byte) []byte {
	ad := make([]byte, 0, 64)
	ad = append(ad, initiator[:]...)
	return append(ad, responder[:]...)
}
