package domain

import (
	"time"

	"github.com/google/uuid"
)

// Device holds the sealed private key material of one device. StateVersion
// guards concurrent writers.
type Device struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID       uuid.UUID `gorm:"type:uuid;not null;index"`
	State        []byte    `gorm:"not null"`
	StateVersion uint64    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"not null;autoUpdateTime"`
}

type IdentityKey struct {
	DeviceID   uuid.UUID `gorm:"type:uuid;primaryKey"`
	PublicKey  string    `gorm:"type:text;not null;index"`
	SigningKey string    `gorm:"type:text;not null"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime"`
}

type SignedPreKey struct {
	DeviceID  uuid.UUID `gorm:"type:uuid;primaryKey"`
	Version   uint32    `gorm:"primaryKey;autoIncrement:false"`
	PublicKey string    `gorm:"type:text;not null"`
	Signature string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

type OneTimePreKey struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey"`
	DeviceID   uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_otk_device_key,priority:1"`
	KeyID      uint32     `gorm:"not null;uniqueIndex:idx_otk_device_key,priority:2"`
	PublicKey  string     `gorm:"type:text;not null"`
	ConsumedAt *time.Time `gorm:"index"`
	CreatedAt  time.Time  `gorm:"not null;autoCreateTime"`
}

// SessionRecord is one side of a pairwise session. State is the sealed
// ratchet snapshot.
type SessionRecord struct {
	ConversationID string    `gorm:"type:text;primaryKey"`
	DeviceID       uuid.UUID `gorm:"type:uuid;primaryKey"`
	PeerDeviceID   uuid.UUID `gorm:"type:uuid;index"`
	Version        uint64    `gorm:"not null"`
	State          []byte    `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"not null"`
}

type GroupKeyRecord struct {
	GroupID   string    `gorm:"type:text;primaryKey"`
	Version   uint32    `gorm:"primaryKey;autoIncrement:false"`
	Key       []byte    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}

type GroupKeyGrant struct {
	GroupID      string    `gorm:"type:text;primaryKey"`
	Version      uint32    `gorm:"primaryKey;autoIncrement:false"`
	MemberID     uuid.UUID `gorm:"type:uuid;primaryKey"`
	EphemeralKey []byte    `gorm:"not null"`
	Nonce        []byte    `gorm:"not null"`
	WrappedKey   []byte    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null;autoCreateTime"`
}

type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
)

type DeliveryReceipt struct {
	MessageID   uuid.UUID      `gorm:"type:uuid;primaryKey"`
	RecipientID uuid.UUID      `gorm:"type:uuid;primaryKey;index:idx_receipts_recipient_status,priority:1"`
	Status      DeliveryStatus `gorm:"type:text;not null;index:idx_receipts_recipient_status,priority:2"`
	SentAt      time.Time      `gorm:"not null"`
	DeliveredAt *time.Time
	ReadAt      *time.Time
}

// All lists every persisted model in migration order.
func All() []any {
	return []any{
		&Device{},
		&IdentityKey{},
		&SignedPreKey{},
		&OneTimePreKey{},
		&SessionRecord{},
		&GroupKeyRecord{},
		&GroupKeyGrant{},
		&DeliveryReceipt{},
	}
}
