package cryptocore

import (
	"errors"
	"testing"
	"time"
)

func TestInvalidSignatureAbortsHandshake(t *testing.T) {
	alice, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("alice identity: %v", err)
	}
	bob, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("bob identity: %v", err)
	}
	bundle := bob.PublishBundle()
	bundle.SignedPreKey.Signature[0] ^= 0x01

	sess, hs, err := alice.InitSession(bundle)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if sess != nil || hs != nil {
		t.Fatalf("no state may be created for a bad bundle")
	}

	forged := bob.PublishBundle()
	mallory, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("mallory identity: %v", err)
	}
	_, forged.IdentitySigningKey = mallory.IdentityPublic()
	if _, _, err := alice.InitSession(forged); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for swapped signing key, got %v", err)
	}
}

func TestThreeDHFallbackWithoutOneTimeKeys(t *testing.T) {
	p := newPair(t, 0)
	if p.handshake.OneTimePreKeyID != nil {
		t.Fatalf("handshake referenced a one-time key that was never published")
	}
	mustDecrypt(t, p.bobSess, mustEncrypt(t, p.aliceSess, "3dh"), "3dh")
	mustDecrypt(t, p.aliceSess, mustEncrypt(t, p.bobSess, "still secret"), "still secret")
}

func TestOneTimePreKeyConsumedOnce(t *testing.T) {
	bob, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("bob identity: %v", err)
	}
	if _, err := bob.GenerateOneTimePreKeys(2); err != nil {
		t.Fatalf("one-time keys: %v", err)
	}
	alice, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("alice identity: %v", err)
	}

	bundle := bob.PublishBundle()
	_, hs, err := alice.InitSession(bundle)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if hs.OneTimePreKeyID == nil || *hs.OneTimePreKeyID != bundle.OneTimePreKeys[0].ID {
		t.Fatalf("handshake should reference the first published one-time key")
	}
	if _, err := bob.AcceptSession(hs); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got := bob.OneTimePreKeyCount(); got != 1 {
		t.Fatalf("expected 1 remaining one-time key, got %d", got)
	}
	if _, err := bob.AcceptSession(hs); !errors.Is(err, ErrMissingOneTimeKey) {
		t.Fatalf("replayed handshake: expected ErrMissingOneTimeKey, got %v", err)
	}
	for _, k := range bob.PublishBundle().OneTimePreKeys {
		if k.ID == *hs.OneTimePreKeyID {
			t.Fatalf("consumed one-time key %d republished", k.ID)
		}
	}
	if !bob.NeedsRefill(2) || bob.NeedsRefill(1) {
		t.Fatalf("low-water check disagrees with remaining pool")
	}
}

func TestSupersededSignedPreKeyValidUntilExpiry(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	setNow(t, func() time.Time { return clock })

	alice, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("alice identity: %v", err)
	}
	bob, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("bob identity: %v", err)
	}
	oldBundle := bob.PublishBundle()
	spk, err := bob.GenerateSignedPreKey(time.Hour)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if spk.Version != oldBundle.SignedPreKey.Version+1 {
		t.Fatalf("expected version %d, got %d", oldBundle.SignedPreKey.Version+1, spk.Version)
	}
	if bob.PublishBundle().SignedPreKey.Public == oldBundle.SignedPreKey.Public {
		t.Fatalf("bundle still advertises the superseded key")
	}

	_, hs, err := alice.InitSession(oldBundle)
	if err != nil {
		t.Fatalf("init with superseded bundle: %v", err)
	}
	if _, err := bob.AcceptSession(hs); err != nil {
		t.Fatalf("superseded key should still be accepted: %v", err)
	}

	clock = base.Add(DefaultSignedPreKeyTTL + time.Minute)
	if _, err := bob.AcceptSession(hs); !errors.Is(err, ErrSignedPreKeyExpired) {
		t.Fatalf("expected ErrSignedPreKeyExpired, got %v", err)
	}
	if _, _, err := alice.InitSession(oldBundle); !errors.Is(err, ErrSignedPreKeyExpired) {
		t.Fatalf("initiator should refuse an expired bundle, got %v", err)
	}
	if removed := bob.PruneSignedPreKeys(clock); removed != 1 {
		t.Fatalf("expected 1 pruned signed prekey, got %d", removed)
	}
	if _, err := bob.AcceptSession(hs); !errors.Is(err, ErrUnknownSignedPreKey) {
		t.Fatalf("expected ErrUnknownSignedPreKey after pruning, got %v", err)
	}
}

func TestFingerprintStable(t *testing.T) {
	dev, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	dh, signing := dev.IdentityPublic()
	fp := Fingerprint(dh, signing)
	if fp != Fingerprint(dh, signing) {
		t.Fatalf("fingerprint not deterministic")
	}
	if len(fp) != 47 {
		t.Fatalf("unexpected fingerprint layout %q", fp)
	}
}
