package http

import (
	"context"
	"net/http"

	"e2ee-messaging/internal/cryptocore"
	"e2ee-messaging/internal/dto"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func (h *Handler) createGroup(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateGroupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	members, err := parseUUIDs(req.Members)
	if err != nil {
		writeError(w, r, "create group failed", err)
		return
	}
	version, err := h.svc.CreateGroup(r.Context(), req.GroupID, members)
	if err != nil {
		writeError(w, r, "create group failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, dto.GroupResponse{GroupID: req.GroupID, Version: version, Members: uuidStrings(members)})
}

func (h *Handler) groupMembers(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	version, members, err := h.svc.GroupMembers(r.Context(), groupID)
	if err != nil {
		writeError(w, r, "list group members failed", err)
		return
	}
	writeJSON(w, http.StatusOK, dto.GroupResponse{GroupID: groupID, Version: version, Members: uuidStrings(members)})
}

func (h *Handler) rotateGroup(w http.ResponseWriter, r *http.Request) {
	h.changeMembers(w, r, "rotate group key failed", h.svc.RotateGroupKey)
}

func (h *Handler) addGroupMembers(w http.ResponseWriter, r *http.Request) {
	h.changeMembers(w, r, "add group members failed", h.svc.AddGroupMembers)
}

// changeMembers handles both endpoints that take a member list: a rotation
// replaces the membership, an addition extends the current version.
func (h *Handler) changeMembers(w http.ResponseWriter, r *http.Request, failMsg string, apply func(context.Context, string, []uuid.UUID) (uint32, error)) {
	groupID := chi.URLParam(r, "groupID")
	var req dto.GroupMembersRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	members, err := parseUUIDs(req.Members)
	if err != nil {
		writeError(w, r, failMsg, err)
		return
	}
	version, err := apply(r.Context(), groupID, members)
	if err != nil {
		writeError(w, r, failMsg, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.GroupResponse{GroupID: groupID, Version: version, Members: uuidStrings(members)})
}

func (h *Handler) encryptGroup(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	var req dto.GroupEncryptRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	msg, err := h.svc.EncryptGroupMessage(r.Context(), groupID, req.Plaintext)
	if err != nil {
		writeError(w, r, "group encrypt failed", err)
		return
	}
	raw, err := cryptocore.MarshalGroupMessage(msg)
	if err != nil {
		writeError(w, r, "encode group message failed", err)
		return
	}
	writeJSON(w, http.StatusOK, dto.GroupEncryptResponse{Version: msg.Version, Message: raw})
}

func (h *Handler) decryptGroup(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	var req dto.GroupDecryptRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	member, err := uuid.Parse(req.MemberDeviceID)
	if err != nil {
		http.Error(w, "invalid memberDeviceId", http.StatusBadRequest)
		return
	}
	if !actingAs(w, r, member) {
		return
	}
	msg, err := cryptocore.UnmarshalGroupMessage(req.Message)
	if err != nil || msg.GroupID != groupID {
		http.Error(w, "invalid group message", http.StatusBadRequest)
		return
	}
	plaintext, err := h.svc.DecryptGroupMessage(r.Context(), member, msg)
	if err != nil {
		writeError(w, r, "group decrypt failed", err)
		return
	}
	writeJSON(w, http.StatusOK, dto.DecryptResponse{Plaintext: plaintext})
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
