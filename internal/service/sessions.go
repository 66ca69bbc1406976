package service

import (
	"context"
	"errors"
	"fmt"

	"e2ee-messaging/internal/cryptocore"
	"e2ee-messaging/internal/domain"
	"e2ee-messaging/internal/observability/metrics"
	"e2ee-messaging/internal/store"

	"github.com/google/uuid"
)

// SessionHandle names one device's side of a pairwise session.
type SessionHandle struct {
	ConversationID string
	DeviceID       uuid.UUID
	PeerDeviceID   uuid.UUID
}

// EstablishSession runs the initiator half of X3DH against the remote
// device's published bundle and stores the resulting ratchet state. Calling
// it again for an existing session returns the stored handle.
//
// When both devices establish the same conversation before either has heard
// from the other, the device with the greater ID yields: on receiving the
// peer's handshake it replaces its own unanswered session with the responder
// side. Messages it sent on the replaced session cannot be read by the peer.
func (s *Service) EstablishSession(ctx context.Context, conversationID string, localDeviceID, remoteDeviceID uuid.UUID) (SessionHandle, error) {
	if conversationID == "" || localDeviceID == uuid.Nil || remoteDeviceID == uuid.Nil {
		return SessionHandle{}, fmt.Errorf("%w: conversation and both devices are required", ErrInvalidRequest)
	}
	if localDeviceID == remoteDeviceID {
		return SessionHandle{}, fmt.Errorf("%w: cannot open a session with the same device", ErrInvalidRequest)
	}
	h := SessionHandle{ConversationID: conversationID, DeviceID: localDeviceID, PeerDeviceID: remoteDeviceID}

	existing, err := s.store.Sessions().Get(ctx, conversationID, localDeviceID)
	if err == nil {
		h.PeerDeviceID = existing.PeerDeviceID
		return h, nil
	}
	if !errors.Is(err, store.ErrRecordNotFound) {
		return SessionHandle{}, err
	}

	_, local, err := s.loadDevice(ctx, s.store, localDeviceID)
	if err != nil {
		return SessionHandle{}, err
	}
	bundle, err := s.FetchBundle(ctx, remoteDeviceID)
	if err != nil {
		return SessionHandle{}, err
	}
	sess, hs, err := local.InitSession(bundle)
	if err != nil {
		s.log.Warn("session handshake rejected", "conversation_id", conversationID, "device_id", localDeviceID, "peer_device_id", remoteDeviceID, "error", err)
		return SessionHandle{}, err
	}
	blob, err := s.sealSession(h, sess)
	if err != nil {
		return SessionHandle{}, err
	}
	_, err = s.store.Sessions().Save(ctx, domain.SessionRecord{
		ConversationID: conversationID,
		DeviceID:       localDeviceID,
		PeerDeviceID:   remoteDeviceID,
		State:          blob,
	}, 0)
	if errors.Is(err, store.ErrStaleSessionState) {
		s.log.Info("session established concurrently, keeping stored one", "conversation_id", conversationID, "device_id", localDeviceID)
		return h, nil
	}
	if err != nil {
		return SessionHandle{}, err
	}

	metrics.SessionsEstablishedTotal.WithLabelValues("initiator").Inc()
	s.log.Info("session established",
		"conversation_id", conversationID,
		"device_id", localDeviceID,
		"peer_device_id", remoteDeviceID,
		"one_time_prekey", hs.OneTimePreKeyID != nil,
	)
	return h, nil
}

func (s *Service) EncryptMessage(ctx context.Context, h SessionHandle, plaintext []byte) (*cryptocore.Envelope, error) {
	var env *cryptocore.Envelope
	err := s.retry(ctx, "session", func() error {
		rec, err := s.getSession(ctx, h)
		if err != nil {
			return err
		}
		return s.applySession(ctx, h, rec, func(sess *cryptocore.SessionState) error {
			var err error
			env, err = cryptocore.Encrypt(sess, plaintext)
			return err
		})
	})
	if err != nil {
		metrics.RatchetOperationsTotal.WithLabelValues("encrypt", "failure").Inc()
		return nil, err
	}
	metrics.RatchetOperationsTotal.WithLabelValues("encrypt", "success").Inc()
	return env, nil
}

// DecryptMessage opens env with the stored session. When no session exists
// and env carries a handshake, the responder half of X3DH runs first. State
// is only written back when decryption succeeds.
func (s *Service) DecryptMessage(ctx context.Context, h SessionHandle, env *cryptocore.Envelope) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("%w: missing envelope", ErrInvalidRequest)
	}
	var plaintext []byte
	err := s.retry(ctx, "session", func() error {
		rec, err := s.getSession(ctx, h)
		switch {
		case err == nil:
			yield, err := s.yieldsToPeerHandshake(h, rec, env)
			if err != nil {
				return err
			}
			if yield {
				s.log.Info("both sides initiated, accepting peer handshake",
					"conversation_id", h.ConversationID,
					"device_id", h.DeviceID,
					"peer_device_id", rec.PeerDeviceID,
				)
				plaintext, err = s.acceptAndDecrypt(ctx, h, env, rec.Version)
				return err
			}
			return s.applySession(ctx, h, rec, func(sess *cryptocore.SessionState) error {
				var err error
				plaintext, err = cryptocore.Decrypt(sess, env)
				return err
			})
		case errors.Is(err, ErrSessionNotFound) && env.Handshake != nil:
			plaintext, err = s.acceptAndDecrypt(ctx, h, env, 0)
			return err
		default:
			return err
		}
	})
	if err != nil {
		metrics.RatchetOperationsTotal.WithLabelValues("decrypt", "failure").Inc()
		s.log.Warn("decrypt failed", "conversation_id", h.ConversationID, "device_id", h.DeviceID, "error", err)
		return nil, err
	}
	metrics.RatchetOperationsTotal.WithLabelValues("decrypt", "success").Inc()
	return plaintext, nil
}

// yieldsToPeerHandshake reports whether env is the peer's competing handshake
// and this device is the one that gives up its unanswered initiator session.
func (s *Service) yieldsToPeerHandshake(h SessionHandle, rec *domain.SessionRecord, env *cryptocore.Envelope) (bool, error) {
	if env.Handshake == nil || h.DeviceID.String() < rec.PeerDeviceID.String() {
		return false, nil
	}
	sess, err := s.openSession(h, rec.State)
	if err != nil {
		return false, err
	}
	return sess.Role == cryptocore.RoleInitiator && sess.PendingHandshake != nil &&
		sess.PendingHandshake.EphemeralKey != env.Handshake.EphemeralKey, nil
}

// acceptAndDecrypt runs the responder half of X3DH. expectedVersion is zero
// for a new session, or the version of the initiator session being replaced.
func (s *Service) acceptAndDecrypt(ctx context.Context, h SessionHandle, env *cryptocore.Envelope, expectedVersion uint64) ([]byte, error) {
	var plaintext []byte
	err := s.store.WithTx(ctx, func(tx *store.Store) error {
		devRec, dev, err := s.loadDevice(ctx, tx, h.DeviceID)
		if err != nil {
			return err
		}
		sess, err := dev.AcceptSession(env.Handshake)
		if err != nil {
			return err
		}
		if plaintext, err = cryptocore.Decrypt(sess, env); err != nil {
			return err
		}

		devBlob, err := s.sealDevice(h.DeviceID, dev)
		if err != nil {
			return err
		}
		if _, err := tx.Devices().SaveState(ctx, h.DeviceID, devBlob, devRec.StateVersion); err != nil {
			return err
		}

		peer := h.PeerDeviceID
		if ik, err := tx.IdentityKeys().FindByPublicKey(ctx, encodeKey(env.Handshake.IdentityKey[:])); err == nil {
			peer = ik.DeviceID
		}
		blob, err := s.sealSession(h, sess)
		if err != nil {
			return err
		}
		_, err = tx.Sessions().Save(ctx, domain.SessionRecord{
			ConversationID: h.ConversationID,
			DeviceID:       h.DeviceID,
			PeerDeviceID:   peer,
			State:          blob,
		}, expectedVersion)
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.SessionsEstablishedTotal.WithLabelValues("responder").Inc()
	s.log.Info("session accepted", "conversation_id", h.ConversationID, "device_id", h.DeviceID)
	return plaintext, nil
}

func (s *Service) getSession(ctx context.Context, h SessionHandle) (*domain.SessionRecord, error) {
	rec, err := s.store.Sessions().Get(ctx, h.ConversationID, h.DeviceID)
	if errors.Is(err, store.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	return rec, err
}

// applySession runs fn on the opened state and saves it under the version it
// was loaded at. Nothing is written when fn fails.
func (s *Service) applySession(ctx context.Context, h SessionHandle, rec *domain.SessionRecord, fn func(*cryptocore.SessionState) error) error {
	sess, err := s.openSession(h, rec.State)
	if err != nil {
		return err
	}
	if err := fn(sess); err != nil {
		return err
	}
	if pruned := sess.PruneSkipped(s.now().Add(-s.opts.SkippedKeyMaxAge)); pruned > 0 {
		s.log.Debug("pruned skipped message keys", "conversation_id", h.ConversationID, "device_id", h.DeviceID, "pruned", pruned)
	}
	blob, err := s.sealSession(h, sess)
	if err != nil {
		return err
	}
	rec.State = blob
	_, err = s.store.Sessions().Save(ctx, *rec, rec.Version)
	return err
}

func (s *Service) sealSession(h SessionHandle, sess *cryptocore.SessionState) ([]byte, error) {
	raw, err := cryptocore.MarshalSession(sess)
	if err != nil {
		return nil, err
	}
	return s.sealer.Seal(raw, sessionAD(h.ConversationID, h.DeviceID))
}

func (s *Service) openSession(h SessionHandle, blob []byte) (*cryptocore.SessionState, error) {
	raw, err := s.sealer.Open(blob, sessionAD(h.ConversationID, h.DeviceID))
	if err != nil {
		return nil, fmt.Errorf("open session %s/%s: %w", h.ConversationID, h.DeviceID, err)
	}
	return cryptocore.UnmarshalSession(raw)
}
