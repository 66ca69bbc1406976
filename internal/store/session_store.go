package store

import (
	"context"
	"time"

	"e2ee-messaging/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SessionStore struct{ db *gorm.DB }

func (s *Store) Sessions() *SessionStore { return &SessionStore{db: s.DB} }

func (s *SessionStore) Get(ctx context.Context, conversationID string, deviceID uuid.UUID) (*domain.SessionRecord, error) {
	var rec domain.SessionRecord
	if err := s.db.WithContext(ctx).
		First(&rec, "conversation_id = ? AND device_id = ?", conversationID, deviceID).Error; err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

// Load returns the sealed state and the version a later Save must quote.
func (s *SessionStore) Load(ctx context.Context, conversationID string, deviceID uuid.UUID) ([]byte, uint64, error) {
	rec, err := s.Get(ctx, conversationID, deviceID)
	if err != nil {
		return nil, 0, err
	}
	return rec.State, rec.Version, nil
}

// Save writes rec.State if the stored version equals expectedVersion and
// returns the new version. Version 0 creates the record. Losing either race
// yields ErrStaleSessionState.
func (s *SessionStore) Save(ctx context.Context, rec domain.SessionRecord, expectedVersion uint64) (uint64, error) {
	now := time.Now().UTC()
	if expectedVersion == 0 {
		rec.Version = 1
		rec.UpdatedAt = now
		res := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&rec)
		if res.Error != nil {
			return 0, res.Error
		}
		if res.RowsAffected == 0 {
			return 0, ErrStaleSessionState
		}
		return 1, nil
	}
	res := s.db.WithContext(ctx).Model(&domain.SessionRecord{}).
		Where("conversation_id = ? AND device_id = ? AND version = ?", rec.ConversationID, rec.DeviceID, expectedVersion).
		Updates(map[string]any{
			"state":      rec.State,
			"version":    expectedVersion + 1,
			"updated_at": now,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, ErrStaleSessionState
	}
	return expectedVersion + 1, nil
}
