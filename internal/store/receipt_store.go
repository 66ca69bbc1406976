package store

import (
	"context"
	"time"

	"e2ee-messaging/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ReceiptStore struct{ db *gorm.DB }

func (s *Store) Receipts() *ReceiptStore { return &ReceiptStore{db: s.DB} }

func (r *ReceiptStore) AddSent(ctx context.Context, messageID uuid.UUID, recipients []uuid.UUID, at time.Time) error {
	if len(recipients) == 0 {
		return nil
	}
	rows := make([]domain.DeliveryReceipt, 0, len(recipients))
	for _, id := range recipients {
		rows = append(rows, domain.DeliveryReceipt{
			MessageID:   messageID,
			RecipientID: id,
			Status:      domain.StatusSent,
			SentAt:      at,
		})
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
}

// MarkDelivered only moves a receipt forward from sent. It reports whether
// a row changed.
func (r *ReceiptStore) MarkDelivered(ctx context.Context, messageID, recipientID uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.DeliveryReceipt{}).
		Where("message_id = ? AND recipient_id = ? AND status = ?", messageID, recipientID, domain.StatusSent).
		Updates(map[string]any{
			"status":       domain.StatusDelivered,
			"delivered_at": at,
		})
	return res.RowsAffected > 0, res.Error
}

// MarkRead also fills delivered_at when the delivery receipt was skipped.
func (r *ReceiptStore) MarkRead(ctx context.Context, messageID, recipientID uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.DeliveryReceipt{}).
		Where("message_id = ? AND recipient_id = ? AND status IN ?", messageID, recipientID,
			[]domain.DeliveryStatus{domain.StatusSent, domain.StatusDelivered}).
		Updates(map[string]any{
			"status":       domain.StatusRead,
			"delivered_at": gorm.Expr("COALESCE(delivered_at, ?)", at),
			"read_at":      at,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *ReceiptStore) Get(ctx context.Context, messageID, recipientID uuid.UUID) (*domain.DeliveryReceipt, error) {
	var rec domain.DeliveryReceipt
	if err := r.db.WithContext(ctx).
		First(&rec, "message_id = ? AND recipient_id = ?", messageID, recipientID).Error; err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

func (r *ReceiptStore) ForMessage(ctx context.Context, messageID uuid.UUID) ([]domain.DeliveryReceipt, error) {
	var out []domain.DeliveryReceipt
	if err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("recipient_id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ReceiptStore) PendingForRecipient(ctx context.Context, recipientID uuid.UUID, limit int) ([]domain.DeliveryReceipt, error) {
	var out []domain.DeliveryReceipt
	tx := r.db.WithContext(ctx).
		Where("recipient_id = ? AND status = ?", recipientID, domain.StatusSent).
		Order("sent_at ASC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
