package store

import (
	"context"
	"time"

	"e2ee-messaging/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DeviceStore struct{ db *gorm.DB }

func (s *Store) Devices() *DeviceStore { return &DeviceStore{db: s.DB} }

// Create inserts a new device at state version 1. An existing row with the
// same id is reported as ErrStaleSessionState.
func (d *DeviceStore) Create(ctx context.Context, device domain.Device) error {
	device.StateVersion = 1
	res := d.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&device)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleSessionState
	}
	return nil
}

func (d *DeviceStore) Get(ctx context.Context, id uuid.UUID) (*domain.Device, error) {
	var device domain.Device
	if err := d.db.WithContext(ctx).First(&device, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &device, nil
}

// SaveState replaces the sealed state if the stored version still equals
// expected and returns the new version.
func (d *DeviceStore) SaveState(ctx context.Context, id uuid.UUID, state []byte, expected uint64) (uint64, error) {
	res := d.db.WithContext(ctx).Model(&domain.Device{}).
		Where("id = ? AND state_version = ?", id, expected).
		Updates(map[string]any{
			"state":         state,
			"state_version": expected + 1,
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, ErrStaleSessionState
	}
	return expected + 1, nil
}

func (d *DeviceStore) ListIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := d.db.WithContext(ctx).Model(&domain.Device{}).Order("created_at ASC").Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
