package cryptocore

import (
	"errors"
	"testing"
)

func TestDeviceExportImport(t *testing.T) {
	dev, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	if _, err := dev.GenerateOneTimePreKeys(3); err != nil {
		t.Fatalf("GenerateOneTimePreKeys: %v", err)
	}
	if _, err := dev.GenerateSignedPreKey(0); err != nil {
		t.Fatalf("GenerateSignedPreKey: %v", err)
	}
	raw, err := MarshalDevice(dev)
	if err != nil {
		t.Fatalf("MarshalDevice: %v", err)
	}
	restored, err := UnmarshalDevice(raw)
	if err != nil {
		t.Fatalf("UnmarshalDevice: %v", err)
	}
	if got, want := restored.nextOTKID, dev.nextOTKID; got != want {
		t.Fatalf("nextOTKID mismatch: got %d want %d", got, want)
	}
	if len(restored.oneTime) != len(dev.oneTime) {
		t.Fatalf("one-time map length mismatch: got %d want %d", len(restored.oneTime), len(dev.oneTime))
	}
	if len(restored.signedPrekeys) != 2 || restored.activeSPK != dev.activeSPK {
		t.Fatalf("signed prekeys not restored: %d keys, active %d", len(restored.signedPrekeys), restored.activeSPK)
	}
	if VerifyBundle(restored.PublishBundle()) != nil {
		t.Fatalf("restored device publishes an invalid bundle")
	}
}

func TestSessionExportImportMidConversation(t *testing.T) {
	p := newPair(t, 1)
	mustEncrypt(t, p.aliceSess, "skipped")
	late := mustEncrypt(t, p.aliceSess, "late")
	mustDecrypt(t, p.bobSess, mustEncrypt(t, p.aliceSess, "on time"), "on time")

	bobRestored, err := roundTripSession(p.bobSess)
	if err != nil {
		t.Fatalf("restore bob: %v", err)
	}
	if bobRestored.SkippedKeyCount() != 2 {
		t.Fatalf("skipped keys lost: %d", bobRestored.SkippedKeyCount())
	}
	mustDecrypt(t, bobRestored, late, "late")

	aliceRestored, err := roundTripSession(p.aliceSess)
	if err != nil {
		t.Fatalf("restore alice: %v", err)
	}
	if aliceRestored.PendingHandshake == nil {
		t.Fatalf("pending handshake lost")
	}
	mustDecrypt(t, aliceRestored, mustEncrypt(t, bobRestored, "reply"), "reply")
}

func TestSealerBindsAssociatedData(t *testing.T) {
	salt := []byte("0123456789abcdef")
	params := Argon2Params{Time: 1, MemoryKiB: 1024, Threads: 1}
	s, err := NewSealer([]byte("master secret"), salt, params)
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	blob, err := s.Seal([]byte("private state"), []byte("device:1"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	pt, err := s.Open(blob, []byte("device:1"))
	if err != nil || string(pt) != "private state" {
		t.Fatalf("Open: %q, %v", pt, err)
	}
	if _, err := s.Open(blob, []byte("device:2")); !errors.Is(err, ErrWrongPassphrase) {
		t.Fatalf("swapped record: expected ErrWrongPassphrase, got %v", err)
	}
	other, err := NewSealer([]byte("another secret"), salt, params)
	if err != nil {
		t.Fatalf("NewSealer(other): %v", err)
	}
	if _, err := other.Open(blob, []byte("device:1")); !errors.Is(err, ErrWrongPassphrase) {
		t.Fatalf("wrong secret: expected ErrWrongPassphrase, got %v", err)
	}
}
