package store

import (
	"context"
	"time"

	"e2ee-messaging/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OneTimePreKeyStore struct{ db *gorm.DB }

func (s *Store) OneTimePreKeys() *OneTimePreKeyStore { return &OneTimePreKeyStore{db: s.DB} }

func (o *OneTimePreKeyStore) AddBatch(ctx context.Context, keys []domain.OneTimePreKey) error {
	if len(keys) == 0 {
		return nil
	}
	return o.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&keys).Error
}

// ConsumeNext claims the oldest unconsumed key of a device. It returns nil
// when the pool is empty. Concurrent callers never receive the same key.
func (o *OneTimePreKeyStore) ConsumeNext(ctx context.Context, deviceID uuid.UUID) (*domain.OneTimePreKey, error) {
	for attempt := 0; attempt < 3; attempt++ {
		var key domain.OneTimePreKey
		err := o.db.WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("device_id = ? AND consumed_at IS NULL", deviceID).
			Order("key_id ASC").
			First(&key).Error
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil, nil
			}
			return nil, err
		}
		now := time.Now().UTC()
		res := o.db.WithContext(ctx).Model(&domain.OneTimePreKey{}).
			Where("id = ? AND consumed_at IS NULL", key.ID).
			Update("consumed_at", now)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			key.ConsumedAt = &now
			return &key, nil
		}
	}
	return nil, ErrStaleSessionState
}

func (o *OneTimePreKeyStore) CountAvailable(ctx context.Context, deviceID uuid.UUID) (int64, error) {
	var n int64
	err := o.db.WithContext(ctx).Model(&domain.OneTimePreKey{}).
		Where("device_id = ? AND consumed_at IS NULL", deviceID).
		Count(&n).Error
	return n, err
}
