package http

import (
	"errors"
	"log/slog"
	"net/http"

	"e2ee-messaging/internal/auth"
	"e2ee-messaging/internal/cryptocore"
	"e2ee-messaging/internal/dto"
	"e2ee-messaging/internal/observability/middleware"

	"github.com/google/uuid"
)

func (h *Handler) registerDevice(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterDeviceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserID == "" {
		if p, ok := auth.PrincipalFrom(r.Context()); ok {
			if _, err := uuid.Parse(p.Subject); err == nil {
				req.UserID = p.Subject
			}
		}
	}
	res, err := h.svc.RegisterDevice(r.Context(), req)
	if err != nil {
		writeError(w, r, "device registration failed", err)
		return
	}
	slog.Info("device registered", "device_id", res.DeviceID, "user_id", res.UserID,
		"request_id", middleware.RequestIDFromContext(r.Context()), "trace_id", middleware.TraceIDFromContext(r.Context()))
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) fetchBundle(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := uuidParam(w, r, "deviceID")
	if !ok {
		return
	}
	bundle, err := h.svc.FetchBundle(r.Context(), deviceID)
	if err != nil {
		writeError(w, r, "prekey bundle fetch failed", err)
		return
	}
	writeJSON(w, http.StatusOK, dto.BundleFromCrypto(deviceID.String(), bundle))
}

func (h *Handler) rotateSignedPreKey(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := uuidParam(w, r, "deviceID")
	if !ok || !actingAs(w, r, deviceID) {
		return
	}
	res, err := h.svc.RotateSignedPreKey(r.Context(), deviceID)
	if err != nil {
		writeError(w, r, "rotate signed prekey failed", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) replenishOneTimePreKeys(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := uuidParam(w, r, "deviceID")
	if !ok || !actingAs(w, r, deviceID) {
		return
	}
	res, err := h.svc.ReplenishOneTimePreKeys(r.Context(), deviceID)
	if err != nil {
		writeError(w, r, "replenish one-time prekeys failed", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) oneTimePreKeyStatus(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := uuidParam(w, r, "deviceID")
	if !ok {
		return
	}
	n, err := h.svc.OneTimePreKeyStatus(r.Context(), deviceID)
	if err != nil && !errors.Is(err, cryptocore.ErrKeyExhausted) {
		writeError(w, r, "one-time prekey status failed", err)
		return
	}
	writeJSON(w, http.StatusOK, dto.ReplenishResponse{DeviceID: deviceID.String(), Available: n})
}
