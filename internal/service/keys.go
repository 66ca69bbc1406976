package service

import (
	"context"
	"errors"
	"fmt"

	"e2ee-messaging/internal/cryptocore"
	"e2ee-messaging/internal/domain"
	"e2ee-messaging/internal/dto"
	"e2ee-messaging/internal/observability/metrics"
	"e2ee-messaging/internal/store"

	"github.com/google/uuid"
)

func (s *Service) RegisterDevice(ctx context.Context, req dto.RegisterDeviceRequest) (dto.RegisterDeviceResponse, error) {
	userID, err := parseOrGenerate(req.UserID)
	if err != nil {
		return dto.RegisterDeviceResponse{}, fmt.Errorf("%w: invalid userId", ErrInvalidRequest)
	}
	deviceID, err := parseOrGenerate(req.DeviceID)
	if err != nil {
		return dto.RegisterDeviceResponse{}, fmt.Errorf("%w: invalid deviceId", ErrInvalidRequest)
	}
	count := req.OneTimePreKeys
	if count < 0 {
		return dto.RegisterDeviceResponse{}, fmt.Errorf("%w: negative one-time prekey count", ErrInvalidRequest)
	}
	if count == 0 {
		count = s.opts.OneTimePreKeyBatch
	}

	dev, err := cryptocore.NewDevice(s.opts.SignedPreKeyTTL)
	if err != nil {
		return dto.RegisterDeviceResponse{}, err
	}
	spk := dev.ActiveSignedPreKey()
	otks, err := dev.GenerateOneTimePreKeys(count)
	if err != nil {
		return dto.RegisterDeviceResponse{}, err
	}
	blob, err := s.sealDevice(deviceID, dev)
	if err != nil {
		return dto.RegisterDeviceResponse{}, err
	}
	dh, signing := dev.IdentityPublic()

	err = s.store.WithTx(ctx, func(tx *store.Store) error {
		if err := tx.Devices().Create(ctx, domain.Device{ID: deviceID, UserID: userID, State: blob}); err != nil {
			if errors.Is(err, store.ErrStaleSessionState) {
				return fmt.Errorf("%w: device %s already registered", ErrInvalidRequest, deviceID)
			}
			return err
		}
		if err := tx.IdentityKeys().Upsert(ctx, domain.IdentityKey{DeviceID: deviceID, PublicKey: encodeKey(dh[:]), SigningKey: encodeKey(signing)}); err != nil {
			return err
		}
		if err := tx.SignedPreKeys().Upsert(ctx, signedPreKeyRow(deviceID, spk)); err != nil {
			return err
		}
		return tx.OneTimePreKeys().AddBatch(ctx, oneTimePreKeyRows(deviceID, otks))
	})
	if err != nil {
		metrics.DeviceRegistrationsTotal.WithLabelValues("failure").Inc()
		return dto.RegisterDeviceResponse{}, err
	}
	metrics.DeviceRegistrationsTotal.WithLabelValues("success").Inc()
	metrics.OneTimePreKeysGeneratedTotal.Add(float64(len(otks)))
	s.log.Info("device registered", "device_id", deviceID, "user_id", userID, "one_time_prekeys", len(otks))

	return dto.RegisterDeviceResponse{
		UserID:              userID.String(),
		DeviceID:            deviceID.String(),
		IdentityKey:         encodeKey(dh[:]),
		IdentitySigningKey:  encodeKey(signing),
		Fingerprint:         cryptocore.Fingerprint(dh, signing),
		SignedPreKeyVersion: spk.Version,
		OneTimePreKeys:      len(otks),
	}, nil
}

// RotateSignedPreKey publishes a new signed prekey and drops superseded ones
// that have expired. The previous key keeps answering handshakes until then.
func (s *Service) RotateSignedPreKey(ctx context.Context, deviceID uuid.UUID) (dto.RotateSignedPreKeyResponse, error) {
	var (
		spk    cryptocore.SignedPreKey
		pruned int
	)
	err := s.updateDevice(ctx, deviceID, func(tx *store.Store, dev *cryptocore.Device) error {
		var err error
		if spk, err = dev.GenerateSignedPreKey(s.opts.SignedPreKeyTTL); err != nil {
			return err
		}
		pruned = dev.PruneSignedPreKeys(s.now())
		if err := tx.SignedPreKeys().Upsert(ctx, signedPreKeyRow(deviceID, spk)); err != nil {
			return err
		}
		_, err = tx.SignedPreKeys().DeleteExpired(ctx, deviceID, spk.Version, s.now())
		return err
	})
	if err != nil {
		return dto.RotateSignedPreKeyResponse{}, err
	}
	metrics.SignedPreKeysRotatedTotal.Inc()
	s.log.Info("rotated signed prekey", "device_id", deviceID, "version", spk.Version, "pruned", pruned)

	return dto.RotateSignedPreKeyResponse{
		DeviceID:     deviceID.String(),
		SignedPreKey: signedPreKeyDTO(spk),
		Pruned:       pruned,
	}, nil
}

// ReplenishOneTimePreKeys tops the pool back up to the batch size once it has
// fallen below the low-water mark.
func (s *Service) ReplenishOneTimePreKeys(ctx context.Context, deviceID uuid.UUID) (dto.ReplenishResponse, error) {
	var added, available int
	err := s.updateDevice(ctx, deviceID, func(tx *store.Store, dev *cryptocore.Device) error {
		n, err := tx.OneTimePreKeys().CountAvailable(ctx, deviceID)
		if err != nil {
			return err
		}
		available = int(n)
		if available >= s.opts.OneTimePreKeyLowWater {
			added = 0
			return nil
		}
		keys, err := dev.GenerateOneTimePreKeys(s.opts.OneTimePreKeyBatch - available)
		if err != nil {
			return err
		}
		added = len(keys)
		available += added
		return tx.OneTimePreKeys().AddBatch(ctx, oneTimePreKeyRows(deviceID, keys))
	})
	if err != nil {
		return dto.ReplenishResponse{}, err
	}
	if added > 0 {
		metrics.OneTimePreKeysGeneratedTotal.Add(float64(added))
		s.log.Info("replenished one-time prekeys", "device_id", deviceID, "added", added, "available", available)
	}
	return dto.ReplenishResponse{DeviceID: deviceID.String(), Added: added, Available: available}, nil
}

// FetchBundle assembles a prekey bundle and claims at most one one-time key
// in the same transaction. An empty pool yields a bundle without one, which
// makes the initiator fall back to three DH outputs.
func (s *Service) FetchBundle(ctx context.Context, deviceID uuid.UUID) (*cryptocore.KeyBundle, error) {
	var (
		identity *domain.IdentityKey
		signed   *domain.SignedPreKey
		otk      *domain.OneTimePreKey
	)
	err := s.store.WithTx(ctx, func(tx *store.Store) error {
		var err error
		identity, err = tx.IdentityKeys().GetByDevice(ctx, deviceID)
		if err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return ErrDeviceNotFound
			}
			return err
		}
		signed, err = tx.SignedPreKeys().Active(ctx, deviceID)
		if err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return ErrDeviceNotFound
			}
			return err
		}
		otk, err = tx.OneTimePreKeys().ConsumeNext(ctx, deviceID)
		return err
	})
	if err != nil {
		return nil, err
	}

	bundle, err := bundleFromRows(identity, signed, otk)
	if err != nil {
		return nil, fmt.Errorf("decode stored bundle for %s: %w", deviceID, err)
	}
	if otk == nil {
		metrics.PreKeyBundlesFetchedTotal.WithLabelValues("false").Inc()
		s.log.Warn("one-time prekeys exhausted, serving bundle without one", "device_id", deviceID)
		if _, err := s.ReplenishOneTimePreKeys(ctx, deviceID); err != nil {
			s.log.Error("refill after exhaustion failed", "device_id", deviceID, "error", err)
		}
	} else {
		metrics.PreKeyBundlesFetchedTotal.WithLabelValues("true").Inc()
	}
	return bundle, nil
}

// OneTimePreKeyStatus reports how many unclaimed one-time keys remain and
// returns ErrKeyExhausted when there are none.
func (s *Service) OneTimePreKeyStatus(ctx context.Context, deviceID uuid.UUID) (int, error) {
	if _, err := s.store.Devices().Get(ctx, deviceID); err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return 0, ErrDeviceNotFound
		}
		return 0, err
	}
	n, err := s.store.OneTimePreKeys().CountAvailable(ctx, deviceID)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, cryptocore.ErrKeyExhausted
	}
	return int(n), nil
}

func bundleFromRows(identity *domain.IdentityKey, signed *domain.SignedPreKey, otk *domain.OneTimePreKey) (*cryptocore.KeyBundle, error) {
	wire := dto.PreKeyBundleResponse{
		DeviceID:           identity.DeviceID.String(),
		IdentityKey:        identity.PublicKey,
		IdentitySigningKey: identity.SigningKey,
		SignedPreKey: dto.SignedPreKey{
			Version:   signed.Version,
			PublicKey: signed.PublicKey,
			Signature: signed.Signature,
			CreatedAt: signed.CreatedAt,
			ExpiresAt: signed.ExpiresAt,
		},
	}
	if otk != nil {
		wire.OneTimePreKey = &dto.OneTimePreKey{ID: otk.KeyID, PublicKey: otk.PublicKey}
	}
	return wire.ToCrypto()
}

func signedPreKeyRow(deviceID uuid.UUID, spk cryptocore.SignedPreKey) domain.SignedPreKey {
	return domain.SignedPreKey{
		DeviceID:  deviceID,
		Version:   spk.Version,
		PublicKey: encodeKey(spk.Public[:]),
		Signature: encodeKey(spk.Signature),
		CreatedAt: spk.CreatedAt,
		ExpiresAt: spk.ExpiresAt,
	}
}

func signedPreKeyDTO(spk cryptocore.SignedPreKey) dto.SignedPreKey {
	return dto.SignedPreKey{
		Version:   spk.Version,
		PublicKey: encodeKey(spk.Public[:]),
		Signature: encodeKey(spk.Signature),
		CreatedAt: spk.CreatedAt,
		ExpiresAt: spk.ExpiresAt,
	}
}

func oneTimePreKeyRows(deviceID uuid.UUID, keys []cryptocore.OneTimePreKey) []domain.OneTimePreKey {
	rows := make([]domain.OneTimePreKey, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, domain.OneTimePreKey{
			ID:        uuid.New(),
			DeviceID:  deviceID,
			KeyID:     k.ID,
			PublicKey: encodeKey(k.Public[:]),
		})
	}
	return rows
}

func parseOrGenerate(id string) (uuid.UUID, error) {
	if id == "" {
		return uuid.New(), nil
	}
	return uuid.Parse(id)
}
