package dto

type EstablishSessionRequest struct {
	ConversationID string `json:"conversationId"`
	LocalDeviceID  string `json:"localDeviceId"`
	RemoteDeviceID string `json:"remoteDeviceId"`
}

type SessionResponse struct {
	ConversationID string `json:"conversationId"`
	DeviceID       string `json:"deviceId"`
	PeerDeviceID   string `json:"peerDeviceId,omitempty"`
}

type EncryptRequest struct {
	Plaintext []byte `json:"plaintext"`
}

// EncryptResponse carries the CBOR encoded envelope.
type EncryptResponse struct {
	Envelope []byte `json:"envelope"`
	N        uint32 `json:"n"`
}

type DecryptRequest struct {
	Envelope []byte `json:"envelope"`
}

type DecryptResponse struct {
	Plaintext []byte `json:"plaintext"`
}
