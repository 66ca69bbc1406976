package store

import (
	"context"

	"e2ee-messaging/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GroupKeyStore struct{ db *gorm.DB }

func (s *Store) GroupKeys() *GroupKeyStore { return &GroupKeyStore{db: s.DB} }

// Insert adds a new key version. Another writer that already claimed the
// same version makes it fail with ErrStaleSessionState.
func (g *GroupKeyStore) Insert(ctx context.Context, rec domain.GroupKeyRecord) error {
	res := g.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rec)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleSessionState
	}
	return nil
}

func (g *GroupKeyStore) Get(ctx context.Context, groupID string, version uint32) (*domain.GroupKeyRecord, error) {
	var rec domain.GroupKeyRecord
	if err := g.db.WithContext(ctx).
		First(&rec, "group_id = ? AND version = ?", groupID, version).Error; err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

func (g *GroupKeyStore) Latest(ctx context.Context, groupID string) (*domain.GroupKeyRecord, error) {
	var rec domain.GroupKeyRecord
	if err := g.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("version DESC").
		First(&rec).Error; err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

func (g *GroupKeyStore) AddGrants(ctx context.Context, grants []domain.GroupKeyGrant) error {
	if len(grants) == 0 {
		return nil
	}
	return g.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&grants).Error
}

func (g *GroupKeyStore) GrantsForMember(ctx context.Context, groupID string, memberID uuid.UUID) ([]domain.GroupKeyGrant, error) {
	var grants []domain.GroupKeyGrant
	if err := g.db.WithContext(ctx).
		Where("group_id = ? AND member_id = ?", groupID, memberID).
		Order("version ASC").
		Find(&grants).Error; err != nil {
		return nil, err
	}
	return grants, nil
}

func (g *GroupKeyStore) Members(ctx context.Context, groupID string, version uint32) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := g.db.WithContext(ctx).Model(&domain.GroupKeyGrant{}).
		Where("group_id = ? AND version = ?", groupID, version).
		Order("member_id ASC").
		Pluck("member_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
