package commands

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"e2ee-messaging/internal/cryptocore"
	"e2ee-messaging/internal/dto"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(io.Discard)
	err := root.Execute()
	return out.String(), err
}

func TestRegisterPostsRequestAndPrintsResponse(t *testing.T) {
	userID, deviceID := uuid.NewString(), uuid.NewString()
	var got dto.RegisterDeviceRequest
	var authz string

	r := chi.NewRouter()
	r.Post("/v1/devices", func(w http.ResponseWriter, r *http.Request) {
		authz = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(dto.RegisterDeviceResponse{
			UserID:         got.UserID,
			DeviceID:       deviceID,
			Fingerprint:    "ab12",
			OneTimePreKeys: got.OneTimePreKeys,
		})
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	out, err := run(t, "--base-url", srv.URL+"/", "--token", "tok", "register", "--user", userID, "--count", "3")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if authz != "Bearer tok" {
		t.Fatalf("expected bearer token, got %q", authz)
	}
	if got.UserID != userID || got.OneTimePreKeys != 3 {
		t.Fatalf("unexpected request body: %+v", got)
	}
	var res dto.RegisterDeviceResponse
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("output is not json: %q: %v", out, err)
	}
	if res.DeviceID != deviceID || res.OneTimePreKeys != 3 {
		t.Fatalf("unexpected printed response: %+v", res)
	}

	if _, err := run(t, "--base-url", srv.URL, "register", "--count", "-1"); err == nil {
		t.Fatalf("negative count should be rejected")
	}
}

func TestBundleVerifiesAndPrintsFingerprint(t *testing.T) {
	dev, err := cryptocore.GenerateIdentity()
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	if _, err := dev.GenerateOneTimePreKeys(1); err != nil {
		t.Fatalf("one-time keys: %v", err)
	}
	deviceID := uuid.NewString()
	bundle := dto.BundleFromCrypto(deviceID, dev.PublishBundle())

	forged := bundle
	sig, err := base64.StdEncoding.DecodeString(bundle.SignedPreKey.Signature)
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	sig[0] ^= 0x01
	forged.SignedPreKey.Signature = base64.StdEncoding.EncodeToString(sig)
	forgedID := uuid.NewString()

	r := chi.NewRouter()
	r.Get("/v1/devices/{deviceID}/bundle", func(w http.ResponseWriter, r *http.Request) {
		switch chi.URLParam(r, "deviceID") {
		case deviceID:
			_ = json.NewEncoder(w).Encode(bundle)
		case forgedID:
			_ = json.NewEncoder(w).Encode(forged)
		default:
			http.Error(w, `{"error":"device not found"}`, http.StatusNotFound)
		}
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	out, err := run(t, "--base-url", srv.URL, "bundle", deviceID)
	if err != nil {
		t.Fatalf("bundle: %v", err)
	}
	var res struct {
		Bundle      dto.PreKeyBundleResponse `json:"bundle"`
		Fingerprint string                   `json:"fingerprint"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("output is not json: %q: %v", out, err)
	}
	if want := cryptocore.Fingerprint(dev.IdentityPublic()); res.Fingerprint != want {
		t.Fatalf("fingerprint = %q, want %q", res.Fingerprint, want)
	}
	if res.Bundle.OneTimePreKey == nil || res.Bundle.DeviceID != deviceID {
		t.Fatalf("unexpected bundle: %+v", res.Bundle)
	}

	if _, err := run(t, "--base-url", srv.URL, "bundle", forgedID); err == nil || !strings.Contains(err.Error(), "does not verify") {
		t.Fatalf("expected a verification error for a forged bundle, got %v", err)
	}
	if _, err := run(t, "--base-url", srv.URL, "bundle", uuid.NewString()); err == nil || !strings.Contains(err.Error(), "device not found") {
		t.Fatalf("expected the server error to surface, got %v", err)
	}
}
