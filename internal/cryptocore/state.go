package cryptocore

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// stateFormatVersion is bumped whenever a snapshot layout changes
// incompatibly.
const stateFormatVersion = 1

type DeviceState struct {
	Format         int                 `cbor:"fmt"`
	SigningPrivate []byte              `cbor:"sk"`
	DHPrivate      []byte              `cbor:"dk"`
	DHPublic       []byte              `cbor:"dp"`
	SignedPreKeys  []SignedPreKeyState `cbor:"spks"`
	ActiveSPK      uint32              `cbor:"active"`
	OneTime        []OneTimeKeyState   `cbor:"otks,omitempty"`
	NextOTKID      uint32              `cbor:"next"`
}

type SignedPreKeyState struct {
	Version   uint32 `cbor:"v"`
	Private   []byte `cbor:"priv"`
	Public    []byte `cbor:"pub"`
	Signature []byte `cbor:"sig"`
	CreatedAt int64  `cbor:"c"`
	ExpiresAt int64  `cbor:"e"`
}

type OneTimeKeyState struct {
	ID      uint32 `cbor:"id"`
	Private []byte `cbor:"priv"`
	Public  []byte `cbor:"pub"`
}

type SessionStateSnapshot struct {
	Format           int                `cbor:"fmt"`
	RootKey          []byte             `cbor:"rk"`
	SendChain        ChainStateSnapshot `cbor:"sc"`
	RecvChain        ChainStateSnapshot `cbor:"rc"`
	RatchetPrivate   []byte             `cbor:"dhs"`
	RatchetPublic    []byte             `cbor:"dhsp"`
	RemoteRatchet    []byte             `cbor:"dhr"`
	RemoteIdentity   []byte             `cbor:"rik"`
	RemoteSigningKey []byte             `cbor:"risk"`
	AssociatedData   []byte             `cbor:"ad"`
	PN               uint32             `cbor:"pn"`
	Role             SessionRole        `cbor:"role"`
	PendingHandshake *HandshakeMessage  `cbor:"hs,omitempty"`
	Skipped          []SkippedKeyState  `cbor:"skipped,omitempty"`
}

type ChainStateSnapshot struct {
	Key   []byte `cbor:"k"`
	Index uint32 `cbor:"n"`
}

type SkippedKeyState struct {
	Ratchet []byte `cbor:"dh"`
	N       uint32 `cbor:"n"`
	Key     []byte `cbor:"k"`
	Created int64  `cbor:"c"`
}

func (d *Device) Export() (*DeviceState, error) {
	if d == nil {
		return nil, errors.New("cryptocore: nil device")
	}
	state := &DeviceState{
		Format:         stateFormatVersion,
		SigningPrivate: append([]byte(nil), d.identity.signingPrivate...),
		DHPrivate:      append([]byte(nil), d.identity.dhPrivate[:]...),
		DHPublic:       append([]byte(nil), d.identity.dhPublic[:]...),
		ActiveSPK:      d.activeSPK,
		NextOTKID:      d.nextOTKID,
	}
	for _, spk := range d.signedPrekeys {
		state.SignedPreKeys = append(state.SignedPreKeys, SignedPreKeyState{
			Version:   spk.version,
			Private:   append([]byte(nil), spk.key.Private[:]...),
			Public:    append([]byte(nil), spk.key.Public[:]...),
			Signature: append([]byte(nil), spk.signature...),
			CreatedAt: spk.createdAt.Unix(),
			ExpiresAt: spk.expiresAt.Unix(),
		})
	}
	for id, kp := range d.oneTime {
		state.OneTime = append(state.OneTime, OneTimeKeyState{
			ID:      id,
			Private: append([]byte(nil), kp.Private[:]...),
			Public:  append([]byte(nil), kp.Public[:]...),
		})
	}
	return state, nil
}

func ImportDevice(state *DeviceState) (*Device, error) {
	if state == nil {
		return nil, errors.New("cryptocore: nil device state")
	}
	if state.Format > stateFormatVersion {
		return nil, fmt.Errorf("cryptocore: unsupported device state format %d", state.Format)
	}
	if len(state.SigningPrivate) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("cryptocore: decode signing private: unexpected length %d", len(state.SigningPrivate))
	}
	dhPriv, err := fixed32(state.DHPrivate, "dh private")
	if err != nil {
		return nil, err
	}
	dhPub, err := fixed32(state.DHPublic, "dh public")
	if err != nil {
		return nil, err
	}
	signingPriv := append(ed25519.PrivateKey(nil), state.SigningPrivate...)
	dev := &Device{
		identity: identityKeyPair{
			signingPublic:  append(ed25519.PublicKey(nil), signingPriv.Public().(ed25519.PublicKey)...),
			signingPrivate: signingPriv,
			dhPrivate:      dhPriv,
			dhPublic:       dhPub,
		},
		signedPrekeys: make(map[uint32]*signedPrekey, len(state.SignedPreKeys)),
		activeSPK:     state.ActiveSPK,
		oneTime:       make(map[uint32]keyPair, len(state.OneTime)),
		nextOTKID:     state.NextOTKID,
	}
	for _, s := range state.SignedPreKeys {
		priv, err := fixed32(s.Private, "signed prekey private")
		if err != nil {
			return nil, err
		}
		pub, err := fixed32(s.Public, "signed prekey public")
		if err != nil {
			return nil, err
		}
		dev.signedPrekeys[s.Version] = &signedPrekey{
			version:   s.Version,
			key:       keyPair{Private: priv, Public: pub},
			signature: append([]byte(nil), s.Signature...),
			createdAt: time.Unix(s.CreatedAt, 0).UTC(),
			expiresAt: time.Unix(s.ExpiresAt, 0).UTC(),
		}
	}
	if _, ok := dev.signedPrekeys[dev.activeSPK]; !ok {
		return nil, fmt.Errorf("cryptocore: active signed prekey %d missing from state", dev.activeSPK)
	}
	for _, k := range state.OneTime {
		priv, err := fixed32(k.Private, "one-time private")
		if err != nil {
			return nil, err
		}
		pub, err := fixed32(k.Public, "one-time public")
		if err != nil {
			return nil, err
		}
		dev.oneTime[k.ID] = keyPair{Private: priv, Public: pub}
	}
	return dev, nil
}

// MarshalDevice encodes the full private device state. Callers are expected
// to seal the result before it leaves memory.
func MarshalDevice(d *Device) ([]byte, error) {
	state, err := d.Export()
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(state)
}

func UnmarshalDevice(data []byte) (*Device, error) {
	var state DeviceState
	if err := cbor.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("cryptocore: decode device state: %w", err)
	}
	return ImportDevice(&state)
}

func ExportSession(state *SessionState) (*SessionStateSnapshot, error) {
	if state == nil {
		return nil, errors.New("cryptocore: nil session")
	}
	snap := &SessionStateSnapshot{
		Format:           stateFormatVersion,
		RootKey:          append([]byte(nil), state.RootKey[:]...),
		SendChain:        exportChain(state.SendChain),
		RecvChain:        exportChain(state.RecvChain),
		RatchetPrivate:   append([]byte(nil), state.RatchetPrivate[:]...),
		RatchetPublic:    append([]byte(nil), state.RatchetPublic[:]...),
		RemoteRatchet:    append([]byte(nil), state.RemoteRatchet[:]...),
		RemoteIdentity:   append([]byte(nil), state.RemoteIdentity[:]...),
		RemoteSigningKey: append([]byte(nil), state.RemoteSigningKey...),
		AssociatedData:   append([]byte(nil), state.AssociatedData...),
		PN:               state.PN,
		Role:             state.Role,
	}
	if state.PendingHandshake != nil {
		hs := *state.PendingHandshake
		snap.PendingHandshake = &hs
	}
	for k, e := range state.skipped {
		snap.Skipped = append(snap.Skipped, SkippedKeyState{
			Ratchet: []byte(k[:32]),
			N:       binary.BigEndian.Uint32([]byte(k[32:])),
			Key:     append([]byte(nil), e.key[:]...),
			Created: e.created,
		})
	}
	return snap, nil
}

func ImportSession(snapshot *SessionStateSnapshot) (*SessionState, error) {
	if snapshot == nil {
		return nil, errors.New("cryptocore: nil session snapshot")
	}
	if snapshot.Format > stateFormatVersion {
		return nil, fmt.Errorf("cryptocore: unsupported session format %d", snapshot.Format)
	}
	sess := &SessionState{
		RemoteSigningKey: append([]byte(nil), snapshot.RemoteSigningKey...),
		AssociatedData:   append([]byte(nil), snapshot.AssociatedData...),
		PN:               snapshot.PN,
		Role:             snapshot.Role,
		skipped:          make(map[string]skippedEntry, len(snapshot.Skipped)),
	}
	var err error
	if sess.RootKey, err = fixed32(snapshot.RootKey, "root key"); err != nil {
		return nil, err
	}
	if sess.SendChain, err = importChain(snapshot.SendChain); err != nil {
		return nil, err
	}
	if sess.RecvChain, err = importChain(snapshot.RecvChain); err != nil {
		return nil, err
	}
	if sess.RatchetPrivate, err = fixed32(snapshot.RatchetPrivate, "ratchet private"); err != nil {
		return nil, err
	}
	if sess.RatchetPublic, err = fixed32(snapshot.RatchetPublic, "ratchet public"); err != nil {
		return nil, err
	}
	if sess.RemoteRatchet, err = fixed32(snapshot.RemoteRatchet, "remote ratchet"); err != nil {
		return nil, err
	}
	if sess.RemoteIdentity, err = fixed32(snapshot.RemoteIdentity, "remote identity"); err != nil {
		return nil, err
	}
	if snapshot.PendingHandshake != nil {
		hs := *snapshot.PendingHandshake
		sess.PendingHandshake = &hs
	}
	for _, s := range snapshot.Skipped {
		pub, err := fixed32(s.Ratchet, "skipped ratchet")
		if err != nil {
			return nil, err
		}
		key, err := fixed32(s.Key, "skipped key")
		if err != nil {
			return nil, err
		}
		sess.skipped[skippedKey(pub, s.N)] = skippedEntry{key: key, created: s.Created}
	}
	return sess, nil
}

func MarshalSession(state *SessionState) ([]byte, error) {
	snap, err := ExportSession(state)
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(snap)
}

func UnmarshalSession(data []byte) (*SessionState, error) {
	var snap SessionStateSnapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("cryptocore: decode session: %w", err)
	}
	return ImportSession(&snap)
}

// MarshalEnvelope produces the transport bytes of an envelope.
func MarshalEnvelope(env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, errors.New("cryptocore: nil envelope")
	}
	return cbor.Marshal(env)
}

func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("cryptocore: decode envelope: %w", err)
	}
	return &env, nil
}

func MarshalGroupMessage(msg *GroupMessage) ([]byte, error) {
	if msg == nil {
		return nil, errors.New("cryptocore: nil group message")
	}
	return cbor.Marshal(msg)
}

func UnmarshalGroupMessage(data []byte) (*GroupMessage, error) {
	var msg GroupMessage
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("cryptocore: decode group message: %w", err)
	}
	return &msg, nil
}

func exportChain(cs chainState) ChainStateSnapshot {
	return ChainStateSnapshot{Key: append([]byte(nil), cs.Key[:]...), Index: cs.Index}
}

func importChain(cs ChainStateSnapshot) (chainState, error) {
	key, err := fixed32(cs.Key, "chain key")
	if err != nil {
		return chainState{}, err
	}
	return chainState{Key: key, Index: cs.Index}, nil
}

func fixed32(in []byte, field string) ([32]byte, error) {
	var out [32]byte
	if len(in) != len(out) {
		return out, fmt.Errorf("cryptocore: decode %s: unexpected length %d, want %d", field, len(in), len(out))
	}
	copy(out[:], in)
	return out, nil
}
