package auth

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
)

// Ed25519Validator accepts EdDSA tokens signed by one known key, such as the
// ones minted by jwtsigner.
type Ed25519Validator struct {
	public ed25519.PublicKey
	issuer string
}

func NewEd25519Validator(publicB64, issuer string) (*Ed25519Validator, error) {
	raw, err := base64.StdEncoding.DecodeString(publicB64)
	if err != nil {
		return nil, fmt.Errorf("decode ed25519 public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, errors.New("invalid ed25519 public key size")
	}
	return &Ed25519Validator{public: ed25519.PublicKey(raw), issuer: issuer}, nil
}

func (v *Ed25519Validator) Middleware(next http.Handler) http.Handler {
	return guard("ed25519", v.issuer, v.parse, next)
}

func (v *Ed25519Validator) parse(raw string) (map[string]any, error) {
	token, err := jwt.Parse(raw, func(*jwt.Token) (any, error) {
		return v.public, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}
