package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"e2ee-messaging/internal/cryptocore"
	"e2ee-messaging/internal/domain"
	"e2ee-messaging/internal/observability/metrics"
	"e2ee-messaging/internal/store"

	"github.com/google/uuid"
)

type Options struct {
	OneTimePreKeyBatch    int
	OneTimePreKeyLowWater int
	SignedPreKeyTTL       time.Duration
	SignedPreKeyRotation  time.Duration
	SkippedKeyMaxAge      time.Duration
	StaleStateRetries     int
}

func (o Options) withDefaults() Options {
	if o.OneTimePreKeyBatch <= 0 {
		o.OneTimePreKeyBatch = 100
	}
	if o.OneTimePreKeyLowWater <= 0 {
		o.OneTimePreKeyLowWater = max(1, o.OneTimePreKeyBatch/5)
	}
	if o.SignedPreKeyTTL <= 0 {
		o.SignedPreKeyTTL = cryptocore.DefaultSignedPreKeyTTL
	}
	if o.SignedPreKeyRotation <= 0 {
		o.SignedPreKeyRotation = o.SignedPreKeyTTL / 2
	}
	if o.SkippedKeyMaxAge <= 0 {
		o.SkippedKeyMaxAge = 30 * 24 * time.Hour
	}
	if o.StaleStateRetries <= 0 {
		o.StaleStateRetries = 3
	}
	return o
}

// Service runs the messaging engine on top of the store. Private key
// material only ever reaches the database sealed.
type Service struct {
	store  *store.Store
	sealer *cryptocore.Sealer
	opts   Options
	log    *slog.Logger
	now    func() time.Time
}

func New(st *store.Store, sealer *cryptocore.Sealer, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  st,
		sealer: sealer,
		opts:   opts.withDefaults(),
		log:    logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// retry runs fn until it stops failing with a stale version, at most
// StaleStateRetries times.
func (s *Service) retry(ctx context.Context, kind string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.opts.StaleStateRetries; attempt++ {
		err = fn()
		if !errors.Is(err, store.ErrStaleSessionState) {
			return err
		}
		metrics.StaleStateRetriesTotal.WithLabelValues(kind).Inc()
		s.log.Debug("stale state, retrying", "kind", kind, "attempt", attempt)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return err
}

func deviceAD(id uuid.UUID) []byte { return []byte("device:" + id.String()) }

func sessionAD(conversationID string, deviceID uuid.UUID) []byte {
	return []byte("session:" + conversationID + ":" + deviceID.String())
}

func groupAD(groupID string, version uint32) []byte {
	return []byte(fmt.Sprintf("group:%s:%d", groupID, version))
}

func (s *Service) sealDevice(id uuid.UUID, dev *cryptocore.Device) ([]byte, error) {
	raw, err := cryptocore.MarshalDevice(dev)
	if err != nil {
		return nil, err
	}
	return s.sealer.Seal(raw, deviceAD(id))
}

func (s *Service) openDevice(rec *domain.Device) (*cryptocore.Device, error) {
	raw, err := s.sealer.Open(rec.State, deviceAD(rec.ID))
	if err != nil {
		return nil, fmt.Errorf("open device %s: %w", rec.ID, err)
	}
	return cryptocore.UnmarshalDevice(raw)
}

func (s *Service) loadDevice(ctx context.Context, st *store.Store, id uuid.UUID) (*domain.Device, *cryptocore.Device, error) {
	rec, err := st.Devices().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, nil, ErrDeviceNotFound
		}
		return nil, nil, err
	}
	dev, err := s.openDevice(rec)
	if err != nil {
		return nil, nil, err
	}
	return rec, dev, nil
}

// updateDevice opens the device state, lets fn mutate it inside a
// transaction, and writes it back with a version check.
func (s *Service) updateDevice(ctx context.Context, id uuid.UUID, fn func(tx *store.Store, dev *cryptocore.Device) error) error {
	return s.retry(ctx, "device", func() error {
		return s.store.WithTx(ctx, func(tx *store.Store) error {
			rec, dev, err := s.loadDevice(ctx, tx, id)
			if err != nil {
				return err
			}
			if err := fn(tx, dev); err != nil {
				return err
			}
			blob, err := s.sealDevice(id, dev)
			if err != nil {
				return err
			}
			_, err = tx.Devices().SaveState(ctx, id, blob, rec.StateVersion)
			return err
		})
	})
}

func encodeKey(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func decodeKey32(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(raw) != len(out) {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
