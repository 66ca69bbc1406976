package cryptocore

import (
	"bytes"
	"testing"
	"time"
)

func deterministicReader(size int) *bytes.Reader {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte(i % 251)
	}
	return bytes.NewReader(buf)
}

// setNow pins the package clock for the duration of a test.
func setNow(t *testing.T, fn func() time.Time) {
	t.Helper()
	prev := now
	now = fn
	t.Cleanup(func() { now = prev })
}

type pair struct {
	alice, bob         *Device
	aliceSess, bobSess *SessionState
	handshake          *HandshakeMessage
}

func newPair(t *testing.T, oneTime int) *pair {
	t.Helper()
	alice, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("alice identity: %v", err)
	}
	bob, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("bob identity: %v", err)
	}
	if _, err := bob.GenerateOneTimePreKeys(oneTime); err != nil {
		t.Fatalf("bob one-time keys: %v", err)
	}
	aliceSess, hs, err := alice.InitSession(bob.PublishBundle())
	if err != nil {
		t.Fatalf("init session: %v", err)
	}
	bobSess, err := bob.AcceptSession(hs)
	if err != nil {
		t.Fatalf("accept session: %v", err)
	}
	return &pair{alice: alice, bob: bob, aliceSess: aliceSess, bobSess: bobSess, handshake: hs}
}

func mustEncrypt(t *testing.T, s *SessionState, msg string) *Envelope {
	t.Helper()
	env, err := Encrypt(s, []byte(msg))
	if err != nil {
		t.Fatalf("encrypt %q: %v", msg, err)
	}
	return env
}

func mustDecrypt(t *testing.T, s *SessionState, env *Envelope, want string) {
	t.Helper()
	got, err := Decrypt(s, env)
	if err != nil {
		t.Fatalf("decrypt %q: %v", want, err)
	}
	if string(got) != want {
		t.Fatalf("decrypt mismatch: got %q want %q", got, want)
	}
}

func TestX3DHDoubleRatchetDeterministic(t *testing.T) {
	run := func() ([32]byte, [32]byte, []byte) {
		restore := UseDeterministicRandom(deterministicReader(4096))
		defer restore()
		p := newPair(t, 2)
		env := mustEncrypt(t, p.aliceSess, "hello bob")
		mustDecrypt(t, p.bobSess, env, "hello bob")
		return p.handshake.EphemeralKey, p.aliceSess.RootKey, env.Ciphertext
	}
	eph1, root1, ct1 := run()
	eph2, root2, ct2 := run()
	if eph1 != eph2 || root1 != root2 || !bytes.Equal(ct1, ct2) {
		t.Fatalf("handshake not reproducible from the same randomness")
	}
}

func TestRoundTripBothDirections(t *testing.T) {
	p := newPair(t, 2)

	for _, m := range []string{"hello bob", "", "second message"} {
		mustDecrypt(t, p.bobSess, mustEncrypt(t, p.aliceSess, m), m)
	}
	mustDecrypt(t, p.aliceSess, mustEncrypt(t, p.bobSess, "hi alice"), "hi alice")
	mustDecrypt(t, p.bobSess, mustEncrypt(t, p.aliceSess, "after ratchet"), "after ratchet")

	if p.aliceSess.PendingHandshake != nil {
		t.Fatalf("pending handshake should clear once the responder replied")
	}
}

func TestFirstEnvelopesCarryHandshake(t *testing.T) {
	p := newPair(t, 1)
	env := mustEncrypt(t, p.aliceSess, "first")
	if env.Handshake == nil || !SameHandshake(env.Handshake, p.handshake) {
		t.Fatalf("first envelope must carry the handshake")
	}
	mustDecrypt(t, p.bobSess, env, "first")
	mustDecrypt(t, p.aliceSess, mustEncrypt(t, p.bobSess, "reply"), "reply")
	if env2 := mustEncrypt(t, p.aliceSess, "later"); env2.Handshake != nil {
		t.Fatalf("handshake should not be attached after a reply")
	}
}

func TestEnvelopeWireEncoding(t *testing.T) {
	p := newPair(t, 1)
	env := mustEncrypt(t, p.aliceSess, "over the wire")
	raw, err := MarshalEnvelope(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	decoded, err := UnmarshalEnvelope(raw)
	if err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if decoded.Handshake == nil || decoded.Handshake.OneTimePreKeyID == nil {
		t.Fatalf("handshake lost in encoding")
	}
	mustDecrypt(t, p.bobSess, decoded, "over the wire")
}
