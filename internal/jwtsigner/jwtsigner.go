// Package jwtsigner issues EdDSA access tokens for devices talking to the
// messenger API.
package jwtsigner

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Signer holds an Ed25519 keypair for issuing JWTs.
type Signer struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
	KeyID   string
	Issuer  string
	now     func() time.Time
}

// DeviceClaims binds a token subject to the device it was issued for.
type DeviceClaims struct {
	DeviceID string `json:"device_id,omitempty"`
	jwt.RegisteredClaims
}

func New(priv ed25519.PrivateKey, kid, iss string) (*Signer, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, errors.New("jwtsigner: invalid ed25519 private key size")
	}
	return &Signer{
		private: priv,
		public:  priv.Public().(ed25519.PublicKey),
		KeyID:   kid,
		Issuer:  iss,
		now:     time.Now,
	}, nil
}

// NewFromBase64 decodes a base64 ed25519 private key. An empty string
// generates an ephemeral key for local development.
func NewFromBase64(privB64, kid, iss string) (*Signer, error) {
	if privB64 == "" {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		return New(priv, kid, iss)
	}
	raw, err := base64.StdEncoding.DecodeString(privB64)
	if err != nil {
		return nil, err
	}
	return New(ed25519.PrivateKey(raw), kid, iss)
}

// Sign issues a token for user sub acting as deviceID.
func (s *Signer) Sign(sub, deviceID string, ttl time.Duration) (string, error) {
	if sub == "" {
		return "", errors.New("jwtsigner: empty subject")
	}
	now := s.now()
	claims := DeviceClaims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.Issuer,
			Subject:   sub,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	if s.KeyID != "" {
		t.Header["kid"] = s.KeyID
	}
	return t.SignedString(s.private)
}

func (s *Signer) PublicKey() ed25519.PublicKey { return s.public }

func (s *Signer) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(s.public)
}

func (s *Signer) PrivateKeyBase64() string {
	return base64.StdEncoding.EncodeToString(s.private)
}

// PublicJWK renders the public key as a JWK for a JWKS document.
func (s *Signer) PublicJWK() map[string]any {
	return map[string]any{
		"kty": "OKP",
		"crv": "Ed25519",
		"alg": "EdDSA",
		"use": "sig",
		"kid": s.KeyID,
		"x":   base64.RawURLEncoding.EncodeToString(s.public),
	}
}

// JWKS wraps PublicJWK in a key set document.
func (s *Signer) JWKS() map[string]any {
	return map[string]any{"keys": []map[string]any{s.PublicJWK()}}
}
