package dto

import "time"

type RegisterDeviceRequest struct {
	UserID         string `json:"userId"`
	DeviceID       string `json:"deviceId"`
	OneTimePreKeys int    `json:"oneTimePreKeys"`
}

type RegisterDeviceResponse struct {
	UserID              string `json:"userId"`
	DeviceID            string `json:"deviceId"`
	IdentityKey         string `json:"identityKey"`
	IdentitySigningKey  string `json:"identitySigningKey"`
	Fingerprint         string `json:"fingerprint"`
	SignedPreKeyVersion uint32 `json:"signedPreKeyVersion"`
	OneTimePreKeys      int    `json:"oneTimePreKeys"`
}

type SignedPreKey struct {
	Version   uint32    `json:"version"`
	PublicKey string    `json:"publicKey"`
	Signature string    `json:"signature"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type OneTimePreKey struct {
	ID        uint32 `json:"id"`
	PublicKey string `json:"publicKey"`
}

type RotateSignedPreKeyResponse struct {
	DeviceID     string       `json:"deviceId"`
	SignedPreKey SignedPreKey `json:"signedPreKey"`
	Pruned       int          `json:"pruned"`
}

type ReplenishResponse struct {
	DeviceID  string `json:"deviceId"`
	Added     int    `json:"added"`
	Available int    `json:"available"`
}
