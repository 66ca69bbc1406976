package dto

type CreateGroupRequest struct {
	GroupID string   `json:"groupId"`
	Members []string `json:"members"`
}

type GroupMembersRequest struct {
	Members []string `json:"members"`
}

type GroupResponse struct {
	GroupID string   `json:"groupId"`
	Version uint32   `json:"version"`
	Members []string `json:"members"`
}

type GroupEncryptRequest struct {
	Plaintext []byte `json:"plaintext"`
}

type GroupEncryptResponse struct {
	Version uint32 `json:"version"`
	Message []byte `json:"message"`
}

type GroupDecryptRequest struct {
	MemberDeviceID string `json:"memberDeviceId"`
	Message        []byte `json:"message"`
}
