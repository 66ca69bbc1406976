package http

import (
	"net/http"

	"e2ee-messaging/internal/cryptocore"
	"e2ee-messaging/internal/dto"
	"e2ee-messaging/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func (h *Handler) establishSession(w http.ResponseWriter, r *http.Request) {
	var req dto.EstablishSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	local, err := uuid.Parse(req.LocalDeviceID)
	if err != nil {
		http.Error(w, "invalid localDeviceId", http.StatusBadRequest)
		return
	}
	remote, err := uuid.Parse(req.RemoteDeviceID)
	if err != nil {
		http.Error(w, "invalid remoteDeviceId", http.StatusBadRequest)
		return
	}
	if !actingAs(w, r, local) {
		return
	}
	handle, err := h.svc.EstablishSession(r.Context(), req.ConversationID, local, remote)
	if err != nil {
		writeError(w, r, "session establishment failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, dto.SessionResponse{
		ConversationID: handle.ConversationID,
		DeviceID:       handle.DeviceID.String(),
		PeerDeviceID:   handle.PeerDeviceID.String(),
	})
}

func (h *Handler) sessionHandle(w http.ResponseWriter, r *http.Request) (service.SessionHandle, bool) {
	deviceID, ok := uuidParam(w, r, "deviceID")
	if !ok || !actingAs(w, r, deviceID) {
		return service.SessionHandle{}, false
	}
	return service.SessionHandle{ConversationID: chi.URLParam(r, "conversationID"), DeviceID: deviceID}, true
}

func (h *Handler) encrypt(w http.ResponseWriter, r *http.Request) {
	handle, ok := h.sessionHandle(w, r)
	if !ok {
		return
	}
	var req dto.EncryptRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	env, err := h.svc.EncryptMessage(r.Context(), handle, req.Plaintext)
	if err != nil {
		writeError(w, r, "encrypt failed", err)
		return
	}
	raw, err := cryptocore.MarshalEnvelope(env)
	if err != nil {
		writeError(w, r, "encode envelope failed", err)
		return
	}
	writeJSON(w, http.StatusOK, dto.EncryptResponse{Envelope: raw, N: env.Header.N})
}

func (h *Handler) decrypt(w http.ResponseWriter, r *http.Request) {
	handle, ok := h.sessionHandle(w, r)
	if !ok {
		return
	}
	var req dto.DecryptRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	env, err := cryptocore.UnmarshalEnvelope(req.Envelope)
	if err != nil {
		http.Error(w, "invalid envelope", http.StatusBadRequest)
		return
	}
	plaintext, err := h.svc.DecryptMessage(r.Context(), handle, env)
	if err != nil {
		writeError(w, r, "decrypt failed", err)
		return
	}
	writeJSON(w, http.StatusOK, dto.DecryptResponse{Plaintext: plaintext})
}
