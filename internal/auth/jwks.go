package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

// JWKSValidator checks tokens against a remote key set that is refreshed in
// the background.
type JWKSValidator struct {
	jwks   *keyfunc.JWKS
	issuer string
}

func NewJWKSValidator(ctx context.Context, jwksURL, issuer string) (*JWKSValidator, error) {
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		Ctx:               ctx,
		RefreshInterval:   15 * time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, err
	}
	return &JWKSValidator{jwks: jwks, issuer: issuer}, nil
}

func (j *JWKSValidator) Middleware(next http.Handler) http.Handler {
	return guard("jwks", j.issuer, j.parse, next)
}

// Close stops the background refresh.
func (j *JWKSValidator) Close() { j.jwks.EndBackground() }

func (j *JWKSValidator) parse(raw string) (map[string]any, error) {
	token, err := jwt.Parse(raw, j.jwks.Keyfunc)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}
