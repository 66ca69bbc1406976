package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"e2ee-messaging/internal/jwtsigner"
)

func protected(t *testing.T, v Validator) http.Handler {
	t.Helper()
	return v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		if !ok {
			t.Errorf("principal missing from context")
		}
		w.Header().Set("X-Subject", p.Subject)
		w.Header().Set("X-Device", p.DeviceID)
		w.WriteHeader(http.StatusNoContent)
	}))
}

func call(h http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/v1/anything", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHMACValidator(t *testing.T) {
	h := protected(t, NewHMACValidator("s3cret", "messenger"))

	tok, err := SignHS256("s3cret", "messenger", "user-1", "dev-1", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	rec := call(h, tok)
	if rec.Code != http.StatusNoContent || rec.Header().Get("X-Subject") != "user-1" || rec.Header().Get("X-Device") != "dev-1" {
		t.Fatalf("valid token rejected: %d %v", rec.Code, rec.Header())
	}

	cases := map[string]string{
		"missing": "",
		"garbage": "not.a.jwt",
	}
	wrongSecret, _ := SignHS256("other", "messenger", "user-1", "", time.Minute)
	cases["wrong secret"] = wrongSecret
	wrongIssuer, _ := SignHS256("s3cret", "elsewhere", "user-1", "", time.Minute)
	cases["wrong issuer"] = wrongIssuer
	expired, _ := SignHS256("s3cret", "messenger", "user-1", "", -time.Minute)
	cases["expired"] = expired
	noSubject, _ := SignHS256("s3cret", "messenger", "", "", time.Minute)
	cases["no subject"] = noSubject

	for name, tok := range cases {
		if rec := call(h, tok); rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", name, rec.Code)
		}
	}
}

func TestEd25519Validator(t *testing.T) {
	signer, err := jwtsigner.NewFromBase64("", "k1", "messenger")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	v, err := NewEd25519Validator(signer.PublicKeyBase64(), "messenger")
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	h := protected(t, v)

	tok, err := signer.Sign("user-2", "", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if rec := call(h, tok); rec.Code != http.StatusNoContent || rec.Header().Get("X-Subject") != "user-2" {
		t.Fatalf("valid token rejected: %d", rec.Code)
	}

	other, _ := jwtsigner.NewFromBase64("", "k2", "messenger")
	forged, _ := other.Sign("user-2", "", time.Minute)
	if rec := call(h, forged); rec.Code != http.StatusUnauthorized {
		t.Fatalf("token from another key accepted: %d", rec.Code)
	}
	hs, _ := SignHS256("secret", "messenger", "user-2", "", time.Minute)
	if rec := call(h, hs); rec.Code != http.StatusUnauthorized {
		t.Fatalf("HS256 token accepted by ed25519 validator: %d", rec.Code)
	}

	if _, err := NewEd25519Validator("AAAA", "messenger"); err == nil {
		t.Fatalf("expected error for short public key")
	}
}

func TestJWKSValidator(t *testing.T) {
	signer, err := jwtsigner.NewFromBase64("", "kid-1", "messenger")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(signer.JWKS())
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	v, err := NewJWKSValidator(ctx, srv.URL, "messenger")
	if err != nil {
		t.Fatalf("jwks validator: %v", err)
	}
	defer v.Close()
	h := protected(t, v)

	tok, _ := signer.Sign("user-3", "dev-3", time.Minute)
	if rec := call(h, tok); rec.Code != http.StatusNoContent || rec.Header().Get("X-Device") != "dev-3" {
		t.Fatalf("valid token rejected: %d", rec.Code)
	}
	if rec := call(h, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token accepted: %d", rec.Code)
	}
}
