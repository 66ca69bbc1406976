package store

import (
	"context"
	"time"

	"e2ee-messaging/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SignedPreKeyStore struct{ db *gorm.DB }

func (s *Store) SignedPreKeys() *SignedPreKeyStore { return &SignedPreKeyStore{db: s.DB} }

func (s *SignedPreKeyStore) Upsert(ctx context.Context, key domain.SignedPreKey) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "device_id"}, {Name: "version"}},
			DoUpdates: clause.Assignments(map[string]any{
				"public_key": key.PublicKey,
				"signature":  key.Signature,
				"expires_at": key.ExpiresAt,
			}),
		}).
		Create(&key).Error
}

// Active returns the highest signed prekey version published for a device.
func (s *SignedPreKeyStore) Active(ctx context.Context, deviceID uuid.UUID) (*domain.SignedPreKey, error) {
	var key domain.SignedPreKey
	if err := s.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("version DESC").
		First(&key).Error; err != nil {
		return nil, notFound(err)
	}
	return &key, nil
}

// DeleteExpired removes superseded keys whose expiry is at or before at.
// The key named by keep is never removed.
func (s *SignedPreKeyStore) DeleteExpired(ctx context.Context, deviceID uuid.UUID, keep uint32, at time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("device_id = ? AND version <> ? AND expires_at <= ?", deviceID, keep, at).
		Delete(&domain.SignedPreKey{})
	return res.RowsAffected, res.Error
}
