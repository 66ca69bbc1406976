package dto

import "time"

type ReceiptRequest struct {
	Recipients []string `json:"recipients"`
}

type Receipt struct {
	MessageID   string     `json:"messageId"`
	RecipientID string     `json:"recipientId"`
	Status      string     `json:"status"`
	SentAt      time.Time  `json:"sentAt"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
	ReadAt      *time.Time `json:"readAt,omitempty"`
}
