package cryptocore

import (
	"errors"
	"slices"
	"testing"
)

func member(t *testing.T) (*Device, [32]byte) {
	t.Helper()
	d, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	dh, _ := d.IdentityPublic()
	return d, dh
}

func grantTo(t *testing.T, key *GroupKey, id string, pub [32]byte, d *Device) *GroupKey {
	t.Helper()
	grant, err := WrapGroupKeyForMember(key, id, pub)
	if err != nil {
		t.Fatalf("wrap for %s: %v", id, err)
	}
	got, err := d.UnwrapGroupKey(grant)
	if err != nil {
		t.Fatalf("unwrap for %s: %v", id, err)
	}
	if got.Key != key.Key || got.Version != key.Version {
		t.Fatalf("unwrapped key differs for %s", id)
	}
	return got
}

func TestGroupRotationIsolatesRemovedMember(t *testing.T) {
	alice, alicePub := member(t)
	bob, bobPub := member(t)
	carol, carolPub := member(t)
	_ = alice

	v1, err := NewGroupKey("band-chat", 1)
	if err != nil {
		t.Fatalf("v1: %v", err)
	}
	grantTo(t, v1, "alice", alicePub, alice)
	bobV1 := grantTo(t, v1, "bob", bobPub, bob)
	carolV1 := grantTo(t, v1, "carol", carolPub, carol)

	history, err := EncryptGroupMessage(v1, []byte("before carol left"))
	if err != nil {
		t.Fatalf("encrypt v1: %v", err)
	}

	v2, err := NewGroupKey("band-chat", 2)
	if err != nil {
		t.Fatalf("v2: %v", err)
	}
	bobV2 := grantTo(t, v2, "bob", bobPub, bob)

	current, err := EncryptGroupMessage(v2, []byte("after carol left"))
	if err != nil {
		t.Fatalf("encrypt v2: %v", err)
	}
	if current.Version != 2 {
		t.Fatalf("message should carry version 2, got %d", current.Version)
	}

	if _, err := DecryptGroupMessage(carolV1, current); !errors.Is(err, ErrUnknownGroupKeyVersion) {
		t.Fatalf("removed member with v1: expected ErrUnknownGroupKeyVersion, got %v", err)
	}
	relabeled := *current
	relabeled.Version = 1
	if _, err := DecryptGroupMessage(carolV1, &relabeled); !errors.Is(err, ErrAuthenticationFailure) {
		t.Fatalf("relabeled v2 message: expected ErrAuthenticationFailure, got %v", err)
	}

	if pt, err := DecryptGroupMessage(bobV2, current); err != nil || string(pt) != "after carol left" {
		t.Fatalf("bob v2 decrypt: %q, %v", pt, err)
	}
	for name, k := range map[string]*GroupKey{"bob": bobV1, "carol": carolV1} {
		if pt, err := DecryptGroupMessage(k, history); err != nil || string(pt) != "before carol left" {
			t.Fatalf("%s v1 history decrypt: %q, %v", name, pt, err)
		}
	}
}

func TestGrantBoundToRecipient(t *testing.T) {
	_, bobPub := member(t)
	carol, _ := member(t)

	key, err := NewGroupKey("g", 1)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	grant, err := WrapGroupKeyForMember(key, "bob", bobPub)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if _, err := carol.UnwrapGroupKey(grant); !errors.Is(err, ErrAuthenticationFailure) {
		t.Fatalf("foreign unwrap: expected ErrAuthenticationFailure, got %v", err)
	}
	if _, err := WrapGroupKeyForMember(key, "nobody", [32]byte{}); !errors.Is(err, ErrInvalidRemoteKey) {
		t.Fatalf("zero member key: expected ErrInvalidRemoteKey, got %v", err)
	}
}

func TestKeyringSelectsVersionFromHeader(t *testing.T) {
	v1, err := NewGroupKey("ops", 1)
	if err != nil {
		t.Fatalf("v1: %v", err)
	}
	v2, err := NewGroupKey("ops", 2)
	if err != nil {
		t.Fatalf("v2: %v", err)
	}
	ring := NewGroupKeyring("ops")
	for _, k := range []*GroupKey{v2, v1} {
		if err := ring.Add(k); err != nil {
			t.Fatalf("add v%d: %v", k.Version, err)
		}
	}
	if ring.Current().Version != 2 {
		t.Fatalf("expected current version 2, got %d", ring.Current().Version)
	}
	if got := ring.Versions(); !slices.Equal(got, []uint32{1, 2}) {
		t.Fatalf("expected versions [1 2], got %v", got)
	}
	if err := ring.Add(&GroupKey{GroupID: "other", Version: 3}); err == nil {
		t.Fatalf("keyring accepted a foreign group key")
	}

	old, err := EncryptGroupMessage(v1, []byte("old"))
	if err != nil {
		t.Fatalf("encrypt old: %v", err)
	}
	if pt, err := ring.Decrypt(old); err != nil || string(pt) != "old" {
		t.Fatalf("decrypt old: %q, %v", pt, err)
	}

	v3, err := NewGroupKey("ops", 3)
	if err != nil {
		t.Fatalf("v3: %v", err)
	}
	future, err := EncryptGroupMessage(v3, []byte("future"))
	if err != nil {
		t.Fatalf("encrypt future: %v", err)
	}
	if _, err := ring.Decrypt(future); !errors.Is(err, ErrUnknownGroupKeyVersion) {
		t.Fatalf("expected ErrUnknownGroupKeyVersion, got %v", err)
	}
}
