package jwtsigner

import (
	"crypto/ed25519"
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestSignedTokenVerifiesWithPublicKey(t *testing.T) {
	s, err := NewFromBase64("", "k1", "messenger-test")
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	tok, err := s.Sign("user-1", "device-1", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	var claims DeviceClaims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(*jwt.Token) (any, error) {
		return s.PublicKey(), nil
	}, jwt.WithValidMethods([]string{"EdDSA"}), jwt.WithIssuer("messenger-test"))
	if err != nil || !parsed.Valid {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "user-1" || claims.DeviceID != "device-1" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if parsed.Header["kid"] != "k1" {
		t.Fatalf("kid header missing: %v", parsed.Header)
	}
}

func TestNewFromBase64RoundTrip(t *testing.T) {
	s, err := NewFromBase64("", "", "iss")
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	again, err := NewFromBase64(s.PrivateKeyBase64(), "", "iss")
	if err != nil {
		t.Fatalf("reload signer: %v", err)
	}
	if !s.PublicKey().Equal(again.PublicKey()) {
		t.Fatalf("reloaded signer has a different public key")
	}

	short := base64.StdEncoding.EncodeToString(make([]byte, ed25519.PublicKeySize))
	if _, err := NewFromBase64(short, "", "iss"); err == nil {
		t.Fatalf("expected error for short key")
	}
	if _, err := s.Sign("", "", time.Minute); err == nil {
		t.Fatalf("expected error for empty subject")
	}
}

func TestJWKSDocument(t *testing.T) {
	s, _ := NewFromBase64("", "k2", "iss")
	keys, ok := s.JWKS()["keys"].([]map[string]any)
	if !ok || len(keys) != 1 || keys[0]["kid"] != "k2" || keys[0]["crv"] != "Ed25519" {
		t.Fatalf("unexpected jwks %v", s.JWKS())
	}
}
