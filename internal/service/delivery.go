package service

import (
	"context"
	"errors"
	"fmt"

	"e2ee-messaging/internal/domain"
	"e2ee-messaging/internal/observability/metrics"
	"e2ee-messaging/internal/store"

	"github.com/google/uuid"
)

func (s *Service) RecordSent(ctx context.Context, messageID uuid.UUID, recipients []uuid.UUID) error {
	if messageID == uuid.Nil || len(recipients) == 0 {
		return fmt.Errorf("%w: message id and recipients are required", ErrInvalidRequest)
	}
	if err := s.store.Receipts().AddSent(ctx, messageID, recipients, s.now()); err != nil {
		return err
	}
	metrics.DeliveryReceiptsTotal.WithLabelValues(string(domain.StatusSent)).Add(float64(len(recipients)))
	return nil
}

// MarkDelivered is a no-op for receipts that are already delivered or read.
func (s *Service) MarkDelivered(ctx context.Context, messageID, recipientID uuid.UUID) (*domain.DeliveryReceipt, error) {
	changed, err := s.store.Receipts().MarkDelivered(ctx, messageID, recipientID, s.now())
	if err != nil {
		return nil, err
	}
	return s.afterTransition(ctx, messageID, recipientID, domain.StatusDelivered, changed)
}

// MarkRead implies delivery.
func (s *Service) MarkRead(ctx context.Context, messageID, recipientID uuid.UUID) (*domain.DeliveryReceipt, error) {
	changed, err := s.store.Receipts().MarkRead(ctx, messageID, recipientID, s.now())
	if err != nil {
		return nil, err
	}
	return s.afterTransition(ctx, messageID, recipientID, domain.StatusRead, changed)
}

func (s *Service) DeliveryStatus(ctx context.Context, messageID uuid.UUID) ([]domain.DeliveryReceipt, error) {
	receipts, err := s.store.Receipts().ForMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if len(receipts) == 0 {
		return nil, ErrReceiptNotFound
	}
	return receipts, nil
}

// Undelivered lists receipts still in the sent state for a recipient, oldest
// first.
func (s *Service) Undelivered(ctx context.Context, recipientID uuid.UUID, limit int) ([]domain.DeliveryReceipt, error) {
	return s.store.Receipts().PendingForRecipient(ctx, recipientID, limit)
}

func (s *Service) afterTransition(ctx context.Context, messageID, recipientID uuid.UUID, status domain.DeliveryStatus, changed bool) (*domain.DeliveryReceipt, error) {
	rec, err := s.store.Receipts().Get(ctx, messageID, recipientID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, ErrReceiptNotFound
		}
		return nil, err
	}
	if changed {
		metrics.DeliveryReceiptsTotal.WithLabelValues(string(status)).Inc()
		s.log.Debug("receipt updated", "message_id", messageID, "recipient_id", recipientID, "status", status)
	}
	return rec, nil
}
