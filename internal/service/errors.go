package service

import (
	"errors"

	"e2ee-messaging/internal/store"
)

var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrDeviceNotFound  = errors.New("device not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrGroupNotFound   = errors.New("group not found")
	ErrGroupExists     = errors.New("group already exists")
	ErrNotGroupMember  = errors.New("not a group member")
	ErrReceiptNotFound = errors.New("receipt not found")

	// ErrStaleSessionState surfaces once the bounded retries are spent.
	ErrStaleSessionState = store.ErrStaleSessionState
)
