package dto

import (
	"encoding/base64"
	"fmt"

	"e2ee-messaging/internal/cryptocore"
)

type PreKeyBundleResponse struct {
	DeviceID           string         `json:"deviceId"`
	IdentityKey        string         `json:"identityKey"`
	IdentitySigningKey string         `json:"identitySigningKey"`
	SignedPreKey       SignedPreKey   `json:"signedPreKey"`
	OneTimePreKey      *OneTimePreKey `json:"oneTimePreKey,omitempty"`
}

// BundleFromCrypto renders a bundle for the wire. Only the first one-time
// key is carried.
func BundleFromCrypto(deviceID string, b *cryptocore.KeyBundle) PreKeyBundleResponse {
	out := PreKeyBundleResponse{
		DeviceID:           deviceID,
		IdentityKey:        b64(b.IdentityKey[:]),
		IdentitySigningKey: b64(b.IdentitySigningKey),
		SignedPreKey: SignedPreKey{
			Version:   b.SignedPreKey.Version,
			PublicKey: b64(b.SignedPreKey.Public[:]),
			Signature: b64(b.SignedPreKey.Signature),
			CreatedAt: b.SignedPreKey.CreatedAt,
			ExpiresAt: b.SignedPreKey.ExpiresAt,
		},
	}
	if len(b.OneTimePreKeys) > 0 {
		k := b.OneTimePreKeys[0]
		out.OneTimePreKey = &OneTimePreKey{ID: k.ID, PublicKey: b64(k.Public[:])}
	}
	return out
}

func (r PreKeyBundleResponse) ToCrypto() (*cryptocore.KeyBundle, error) {
	b := &cryptocore.KeyBundle{
		SignedPreKey: cryptocore.SignedPreKey{
			Version:   r.SignedPreKey.Version,
			CreatedAt: r.SignedPreKey.CreatedAt,
			ExpiresAt: r.SignedPreKey.ExpiresAt,
		},
	}
	var err error
	if b.IdentityKey, err = decode32(r.IdentityKey, "identityKey"); err != nil {
		return nil, err
	}
	if b.IdentitySigningKey, err = base64.StdEncoding.DecodeString(r.IdentitySigningKey); err != nil {
		return nil, fmt.Errorf("identitySigningKey: %w", err)
	}
	if b.SignedPreKey.Public, err = decode32(r.SignedPreKey.PublicKey, "signedPreKey.publicKey"); err != nil {
		return nil, err
	}
	if b.SignedPreKey.Signature, err = base64.StdEncoding.DecodeString(r.SignedPreKey.Signature); err != nil {
		return nil, fmt.Errorf("signedPreKey.signature: %w", err)
	}
	if r.OneTimePreKey != nil {
		pub, err := decode32(r.OneTimePreKey.PublicKey, "oneTimePreKey.publicKey")
		if err != nil {
			return nil, err
		}
		b.OneTimePreKeys = []cryptocore.OneTimePreKey{{ID: r.OneTimePreKey.ID, Public: pub}}
	}
	return b, nil
}

func b64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func decode32(s, field string) ([32]byte, error) {
	var out [32]byte
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("%s: %w", field, err)
	}
	if len(raw) != len(out) {
		return out, fmt.Errorf("%s: expected 32 bytes, got %d", field, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
