package cryptocore

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/curve25519"
)

// DefaultSignedPreKeyTTL bounds how long a superseded signed prekey keeps
// answering handshakes.
const DefaultSignedPreKeyTTL = 14 * 24 * time.Hour

// GenerateIdentity creates a new device identity consisting of an Ed25519
// signing key pair and the X25519 pair derived from the same seed, plus a
// first signed prekey valid for DefaultSignedPreKeyTTL.
func GenerateIdentity() (*Device, error) {
	return NewDevice(DefaultSignedPreKeyTTL)
}

// NewDevice is GenerateIdentity with an explicit lifetime for the first
// signed prekey.
func NewDevice(spkTTL time.Duration) (*Device, error) {
	seed := make([]byte, ed25519.SeedSize)
	if err := readRandom(seed); err != nil {
		return nil, err
	}
	defer wipe(seed)
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)

	dhPriv := ed25519PrivToCurve25519(priv)
	dhPubSlice, err := curve25519.X25519(dhPriv[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	var dhPub [32]byte
	copy(dhPub[:], dhPubSlice)

	dev := &Device{
		identity: identityKeyPair{
			signingPublic:  append(ed25519.PublicKey(nil), pub...),
			signingPrivate: append(ed25519.PrivateKey(nil), priv...),
			dhPrivate:      dhPriv,
			dhPublic:       dhPub,
		},
		signedPrekeys: make(map[uint32]*signedPrekey),
		oneTime:       make(map[uint32]keyPair),
		nextOTKID:     1,
	}
	if _, err := dev.GenerateSignedPreKey(spkTTL); err != nil {
		return nil, err
	}
	return dev, nil
}

// GenerateSignedPreKey creates a fresh signed prekey and makes it the active
// one. The previous key stays usable by AcceptSession until it expires.
func (d *Device) GenerateSignedPreKey(ttl time.Duration) (SignedPreKey, error) {
	if d == nil {
		return SignedPreKey{}, errors.New("cryptocore: nil device")
	}
	if ttl <= 0 {
		ttl = DefaultSignedPreKeyTTL
	}
	kp, err := generateX25519KeyPair()
	if err != nil {
		return SignedPreKey{}, err
	}
	created := now().UTC()
	spk := &signedPrekey{
		version:   d.activeSPK + 1,
		key:       kp,
		signature: ed25519.Sign(d.identity.signingPrivate, kp.Public[:]),
		createdAt: created,
		expiresAt: created.Add(ttl),
	}
	if d.signedPrekeys == nil {
		d.signedPrekeys = make(map[uint32]*signedPrekey)
	}
	d.signedPrekeys[spk.version] = spk
	d.activeSPK = spk.version
	return spk.public(), nil
}

// ActiveSignedPreKey returns the public half of the current signed prekey.
func (d *Device) ActiveSignedPreKey() SignedPreKey {
	if d == nil || d.signedPrekeys[d.activeSPK] == nil {
		return SignedPreKey{}
	}
	return d.signedPrekeys[d.activeSPK].public()
}

// PruneSignedPreKeys drops superseded signed prekeys whose expiry has passed
// and reports how many were removed. The active key is never pruned.
func (d *Device) PruneSignedPreKeys(at time.Time) int {
	if d == nil {
		return 0
	}
	removed := 0
	for v, spk := range d.signedPrekeys {
		if v == d.activeSPK {
			continue
		}
		if !at.Before(spk.expiresAt) {
			wipe(spk.key.Private[:])
			delete(d.signedPrekeys, v)
			removed++
		}
	}
	return removed
}

// GenerateOneTimePreKeys adds n fresh keys to the unused pool and returns
// their public halves.
func (d *Device) GenerateOneTimePreKeys(n int) ([]OneTimePreKey, error) {
	if d == nil {
		return nil, errors.New("cryptocore: nil device")
	}
	if n <= 0 {
		return nil, nil
	}
	if d.oneTime == nil {
		d.oneTime = make(map[uint32]keyPair)
	}
	if d.nextOTKID == 0 {
		d.nextOTKID = 1
	}
	out := make([]OneTimePreKey, 0, n)
	for i := 0; i < n; i++ {
		kp, err := generateX25519KeyPair()
		if err != nil {
			return nil, err
		}
		id := d.nextOTKID
		d.nextOTKID++
		d.oneTime[id] = kp
		out = append(out, OneTimePreKey{ID: id, Public: kp.Public})
	}
	return out, nil
}

// OneTimePreKeyCount reports how many one-time private keys remain unused.
func (d *Device) OneTimePreKeyCount() int {
	if d == nil {
		return 0
	}
	return len(d.oneTime)
}

// NeedsRefill reports whether the unused pool has dropped below lowWater.
func (d *Device) NeedsRefill(lowWater int) bool {
	return d.OneTimePreKeyCount() < lowWater
}

// PublishBundle snapshots the current public material. It never includes
// private keys.
func (d *Device) PublishBundle() *KeyBundle {
	if d == nil {
		return nil
	}
	bundle := &KeyBundle{
		IdentityKey:        d.identity.dhPublic,
		IdentitySigningKey: append([]byte(nil), d.identity.signingPublic...),
		SignedPreKey:       d.ActiveSignedPreKey(),
	}
	if len(d.oneTime) > 0 {
		ids := make([]uint32, 0, len(d.oneTime))
		for id := range d.oneTime {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		bundle.OneTimePreKeys = make([]OneTimePreKey, 0, len(ids))
		for _, id := range ids {
			bundle.OneTimePreKeys = append(bundle.OneTimePreKeys, OneTimePreKey{ID: id, Public: d.oneTime[id].Public})
		}
	}
	return bundle
}

// IdentityPublic returns the static public keys for the device.
func (d *Device) IdentityPublic() (dh [32]byte, signing ed25519.PublicKey) {
	if d == nil {
		return [32]byte{}, nil
	}
	return d.identity.dhPublic, append(ed25519.PublicKey(nil), d.identity.signingPublic...)
}

// Fingerprint renders a short, human comparable digest of an identity's
// public keys, grouped in blocks of five hex digits.
func Fingerprint(dh [32]byte, signing []byte) string {
	h := sha256.New()
	h.Write(signing)
	h.Write(dh[:])
	digest := hex.EncodeToString(h.Sum(nil))[:40]
	groups := make([]string, 0, len(digest)/5)
	for i := 0; i < len(digest); i += 5 {
		groups = append(groups, digest[i:i+5])
	}
	return strings.Join(groups, " ")
}

func (s *signedPrekey) public() SignedPreKey {
	return SignedPreKey{
		Version:   s.version,
		Public:    s.key.Public,
		Signature: append([]byte(nil), s.signature...),
		CreatedAt: s.createdAt,
		ExpiresAt: s.expiresAt,
	}
}

// VerifyBundle checks the signed prekey signature against the bundle's
// identity signing key.
func VerifyBundle(bundle *KeyBundle) error {
	if bundle == nil {
		return errors.New("cryptocore: nil bundle")
	}
	if len(bundle.IdentitySigningKey) != ed25519.PublicKeySize {
		return ErrInvalidSignature
	}
	if !ed25519.Verify(ed25519.PublicKey(bundle.IdentitySigningKey), bundle.SignedPreKey.Public[:], bundle.SignedPreKey.Signature) {
		return ErrInvalidSignature
	}
	return nil
}

func ed25519PrivToCurve25519(priv ed25519.PrivateKey) [32]byte {
	h := sha512.Sum512(priv.Seed())
	defer wipe(h[:])
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64
	var out [32]byte
	copy(out[:], h[:32])
	return out
}

func generateX25519KeyPair() (keyPair, error) {
	var priv [32]byte
	if err := readRandom(priv[:]); err != nil {
		return keyPair{}, err
	}
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return keyPair{}, err
	}
	var kp keyPair
	kp.Private = priv
	copy(kp.Public[:], pub)
	return kp, nil
}
