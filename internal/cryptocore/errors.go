package cryptocore

import "errors"

var (
	ErrInvalidSignature        = errors.New("cryptocore: invalid signed prekey signature")
	ErrAuthenticationFailure   = errors.New("cryptocore: message authentication failed")
	ErrSkippedKeyLimitExceeded = errors.New("cryptocore: skipped message key limit exceeded")
	ErrKeyExhausted            = errors.New("cryptocore: one-time prekeys exhausted")
	ErrMissingOneTimeKey       = errors.New("cryptocore: missing one-time prekey")
	ErrUnknownSignedPreKey     = errors.New("cryptocore: unknown signed prekey version")
	ErrSignedPreKeyExpired     = errors.New("cryptocore: signed prekey expired")
	ErrInvalidRemoteKey        = errors.New("cryptocore: invalid remote ratchet key")
	ErrDuplicateMessage        = errors.New("cryptocore: duplicate message")
	ErrUnknownGroupKeyVersion  = errors.New("cryptocore: unknown group key version")
	ErrWrongPassphrase         = errors.New("cryptocore: wrong passphrase or corrupted blob")
	ErrEntropy                 = errors.New("cryptocore: entropy source failure")
)
