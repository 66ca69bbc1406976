package cryptocore

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	hkdfInfoRatchet = "E2EE-Messaging-DR"
	hkdfInfoAEAD    = "E2EE-Messaging-AEAD"

	// MaxSkippedMessageKeys caps the skipped-key cache of a single session.
	MaxSkippedMessageKeys = 1000
)

// Encrypt derives the next sending message key and seals plaintext with it.
// A fresh DH ratchet step runs first when the peer has ratcheted since our
// last send.
func Encrypt(session *SessionState, plaintext []byte) (*Envelope, error) {
	if session == nil {
		return nil, errors.New("cryptocore: nil session")
	}
	if isZeroKey(session.SendChain.Key) {
		if err := RotateRatchetOnSend(session); err != nil {
			return nil, err
		}
	}
	newCK, mk := kdfChain(session.SendChain.Key)
	n := session.SendChain.Index

	key, iv, err := deriveCipherParams(mk)
	wipe(mk[:])
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key[:])
	wipe(key[:])
	if err != nil {
		return nil, err
	}
	session.SendChain.Key = newCK
	session.SendChain.Index++

	env := &Envelope{
		Header: MessageHeader{RatchetKey: session.RatchetPublic, PN: session.PN, N: n},
		IV:     iv,
	}
	sealed := aead.Seal(nil, iv[:], plaintext, session.messageAD(&env.Header))
	split := len(sealed) - chacha20poly1305.Overhead
	env.Ciphertext = sealed[:split]
	copy(env.Tag[:], sealed[split:])
	if session.PendingHandshake != nil {
		hs := *session.PendingHandshake
		env.Handshake = &hs
	}
	return env, nil
}

// Decrypt opens an envelope, handling ratchet steps and skipped message keys
// as necessary. The session is only modified when authentication succeeds.
func Decrypt(session *SessionState, env *Envelope) ([]byte, error) {
	if session == nil {
		return nil, errors.New("cryptocore: nil session")
	}
	if env == nil {
		return nil, errors.New("cryptocore: nil envelope")
	}
	work := session.clone()
	plaintext, err := work.decrypt(env)
	if err != nil {
		return nil, err
	}
	*session = *work
	return plaintext, nil
}

func (s *SessionState) decrypt(env *Envelope) ([]byte, error) {
	h := env.Header
	ad := s.messageAD(&h)
	if mk, ok := s.takeSkipped(h.RatchetKey, h.N); ok {
		return s.open(mk, env, ad)
	}
	if h.RatchetKey != s.RemoteRatchet {
		if err := s.skipMessageKeys(h.PN); err != nil {
			return nil, err
		}
		if err := RotateRatchetOnRecv(s, &h); err != nil {
			// An unusable remote ratchet key is a forged header.
			if errors.Is(err, ErrInvalidRemoteKey) {
				return nil, ErrAuthenticationFailure
			}
			return nil, err
		}
	}
	if h.N < s.RecvChain.Index {
		return nil, ErrDuplicateMessage
	}
	if err := s.skipMessageKeys(h.N); err != nil {
		return nil, err
	}
	newCK, mk := kdfChain(s.RecvChain.Key)
	s.RecvChain.Key = newCK
	s.RecvChain.Index++
	return s.open(mk, env, ad)
}

func (s *SessionState) open(mk [32]byte, env *Envelope, ad []byte) ([]byte, error) {
	key, _, err := deriveCipherParams(mk)
	wipe(mk[:])
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key[:])
	wipe(key[:])
	if err != nil {
		return nil, err
	}
	sealed := make([]byte, 0, len(env.Ciphertext)+len(env.Tag))
	sealed = append(sealed, env.Ciphertext...)
	sealed = append(sealed, env.Tag[:]...)
	plaintext, err := aead.Open(nil, env.IV[:], sealed, ad)
	if err != nil {
		return nil, ErrAuthenticationFailure
	}
	// Hearing from the peer proves the handshake landed.
	s.PendingHandshake = nil
	return plaintext, nil
}

// RotateRatchetOnSend advances the local sending ratchet and prepares a fresh
// sending chain based on a newly generated DH key pair.
func RotateRatchetOnSend(session *SessionState) error {
	if session == nil {
		return errors.New("cryptocore: nil session")
	}
	if isZeroKey(session.RemoteRatchet) {
		return ErrInvalidRemoteKey
	}
	kp, err := generateX25519KeyPair()
	if err != nil {
		return err
	}
	dh, err := curve25519.X25519(kp.Private[:], session.RemoteRatchet[:])
	if err != nil {
		return err
	}
	root, send, err := kdfRoot(session.RootKey[:], dh)
	wipe(dh)
	if err != nil {
		return err
	}
	session.RootKey = root
	session.SendChain = chainState{Key: send, Index: 0}
	session.RatchetPrivate = kp.Private
	session.RatchetPublic = kp.Public
	return nil
}

// RotateRatchetOnRecv processes a header carrying a new remote ratchet key and
// replaces the receiving chain. The sending chain is cleared so the next send
// performs its own DH step.
func RotateRatchetOnRecv(session *SessionState, header *MessageHeader) error {
	if session == nil {
		return errors.New("cryptocore: nil session")
	}
	if header == nil {
		return errors.New("cryptocore: nil header")
	}
	if header.RatchetKey == session.RemoteRatchet {
		return nil
	}
	dh, err := curve25519.X25519(session.RatchetPrivate[:], header.RatchetKey[:])
	if err != nil {
		return ErrInvalidRemoteKey
	}
	root, recv, err := kdfRoot(session.RootKey[:], dh)
	wipe(dh)
	if err != nil {
		return err
	}
	session.RootKey = root
	session.RemoteRatchet = header.RatchetKey
	session.RecvChain = chainState{Key: recv, Index: 0}
	if !isZeroKey(session.SendChain.Key) {
		session.PN = session.SendChain.Index
	}
	session.SendChain = chainState{}
	return nil
}

// PruneSkipped evicts skipped message keys cached before the given time and
// reports how many were dropped.
func (s *SessionState) PruneSkipped(before time.Time) int {
	cutoff := before.Unix()
	removed := 0
	for k, e := range s.skipped {
		if e.created < cutoff {
			wipe(e.key[:])
			delete(s.skipped, k)
			removed++
		}
	}
	return removed
}

// SkippedKeyCount reports the number of cached skipped message keys.
func (s *SessionState) SkippedKeyCount() int {
	return len(s.skipped)
}

func (s *SessionState) skipMessageKeys(until uint32) error {
	if isZeroKey(s.RecvChain.Key) || until <= s.RecvChain.Index {
		return nil
	}
	gap := int(until - s.RecvChain.Index)
	if gap > MaxSkippedMessageKeys || len(s.skipped)+gap > MaxSkippedMessageKeys {
		return ErrSkippedKeyLimitExceeded
	}
	if s.skipped == nil {
		s.skipped = make(map[string]skippedEntry)
	}
	created := now().Unix()
	for s.RecvChain.Index < until {
		newCK, mk := kdfChain(s.RecvChain.Key)
		s.skipped[skippedKey(s.RemoteRatchet, s.RecvChain.Index)] = skippedEntry{key: mk, created: created}
		s.RecvChain.Key = newCK
		s.RecvChain.Index++
	}
	return nil
}

func (s *SessionState) takeSkipped(pub [32]byte, n uint32) ([32]byte, bool) {
	name := skippedKey(pub, n)
	if e, ok := s.skipped[name]; ok {
		delete(s.skipped, name)
		return e.key, true
	}
	return [32]byte{}, false
}

func (s *SessionState) clone() *SessionState {
	c := *s
	c.RemoteSigningKey = append([]byte(nil), s.RemoteSigningKey...)
	c.AssociatedData = append([]byte(nil), s.AssociatedData...)
	if s.PendingHandshake != nil {
		hs := *s.PendingHandshake
		c.PendingHandshake = &hs
	}
	c.skipped = make(map[string]skippedEntry, len(s.skipped))
	for k, v := range s.skipped {
		c.skipped[k] = v
	}
	return &c
}

func (s *SessionState) messageAD(h *MessageHeader) []byte {
	ad := make([]byte, 0, len(s.AssociatedData)+40)
	ad = append(ad, s.AssociatedData...)
	return append(ad, h.bytes()...)
}

func kdfRoot(root, dh []byte) ([32]byte, [32]byte, error) {
	hk := hkdf.New(sha256.New, dh, root, []byte(hkdfInfoRatchet))
	var newRoot, chain [32]byte
	if _, err := io.ReadFull(hk, newRoot[:]); err != nil {
		return [32]byte{}, [32]byte{}, err
	}
	if _, err := io.ReadFull(hk, chain[:]); err != nil {
		return [32]byte{}, [32]byte{}, err
	}
	return newRoot, chain, nil
}

// kdfChain returns the next chain key and the message key for the current
// position. Neither output reveals the input chain key.
func kdfChain(chain [32]byte) ([32]byte, [32]byte) {
	var next, msg [32]byte
	copy(next[:], hmacSHA256(chain[:], []byte{0x01}))
	copy(msg[:], hmacSHA256(chain[:], []byte{0x02}))
	return next, msg
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func deriveCipherParams(mk [32]byte) ([32]byte, [12]byte, error) {
	hk := hkdf.New(sha256.New, mk[:], nil, []byte(hkdfInfoAEAD))
	var key [32]byte
	var nonce [12]byte
	if _, err := io.ReadFull(hk, key[:]); err != nil {
		return [32]byte{}, [12]byte{}, err
	}
	if _, err := io.ReadFull(hk, nonce[:]); err != nil {
		return [32]byte{}, [12]byte{}, err
	}
	return key, nonce, nil
}

func (h *MessageHeader) bytes() []byte {
	buf := make([]byte, 32+4+4)
	copy(buf, h.RatchetKey[:])
	binary.BigEndian.PutUint32(buf[32:], h.PN)
	binary.BigEndian.PutUint32(buf[36:], h.N)
	return buf
}

func isZeroKey(k [32]byte) bool {
	var zero [32]byte
	return k == zero
}

func skippedKey(pub [32]byte, index uint32) string {
	buf := make([]byte, 32+4)
	copy(buf, pub[:])
	binary.BigEndian.PutUint32(buf[32:], index)
	return string(buf)
}
