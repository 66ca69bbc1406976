package http

import (
	"fmt"
	"net/http"
	"strconv"

	"e2ee-messaging/internal/domain"
	"e2ee-messaging/internal/dto"
	"e2ee-messaging/internal/service"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) recordReceipt(w http.ResponseWriter, r *http.Request) {
	messageID, ok := uuidParam(w, r, "messageID")
	if !ok {
		return
	}
	var req dto.ReceiptRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	recipients, err := parseUUIDs(req.Recipients)
	if err != nil || len(recipients) == 0 {
		http.Error(w, "recipients are required", http.StatusBadRequest)
		return
	}

	status := domain.DeliveryStatus(chi.URLParam(r, "status"))
	switch status {
	case domain.StatusSent:
		if err := h.svc.RecordSent(r.Context(), messageID, recipients); err != nil {
			writeError(w, r, "record sent failed", err)
			return
		}
		receipts, err := h.svc.DeliveryStatus(r.Context(), messageID)
		if err != nil {
			writeError(w, r, "receipt lookup failed", err)
			return
		}
		writeJSON(w, http.StatusCreated, receiptDTOs(receipts))
	case domain.StatusDelivered, domain.StatusRead:
		mark := h.svc.MarkDelivered
		if status == domain.StatusRead {
			mark = h.svc.MarkRead
		}
		out := make([]dto.Receipt, 0, len(recipients))
		for _, recipient := range recipients {
			rec, err := mark(r.Context(), messageID, recipient)
			if err != nil {
				writeError(w, r, fmt.Sprintf("mark %s failed", status), err)
				return
			}
			out = append(out, receiptDTO(*rec))
		}
		writeJSON(w, http.StatusOK, out)
	default:
		writeError(w, r, "unknown receipt status", fmt.Errorf("%w: status %q", service.ErrInvalidRequest, status))
	}
}

func (h *Handler) receiptStatus(w http.ResponseWriter, r *http.Request) {
	messageID, ok := uuidParam(w, r, "messageID")
	if !ok {
		return
	}
	receipts, err := h.svc.DeliveryStatus(r.Context(), messageID)
	if err != nil {
		writeError(w, r, "receipt lookup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, receiptDTOs(receipts))
}

func (h *Handler) pendingReceipts(w http.ResponseWriter, r *http.Request) {
	recipientID, ok := uuidParam(w, r, "recipientID")
	if !ok {
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	receipts, err := h.svc.Undelivered(r.Context(), recipientID, limit)
	if err != nil {
		writeError(w, r, "pending receipts failed", err)
		return
	}
	writeJSON(w, http.StatusOK, receiptDTOs(receipts))
}

func receiptDTO(rec domain.DeliveryReceipt) dto.Receipt {
	return dto.Receipt{
		MessageID:   rec.MessageID.String(),
		RecipientID: rec.RecipientID.String(),
		Status:      string(rec.Status),
		SentAt:      rec.SentAt,
		DeliveredAt: rec.DeliveredAt,
		ReadAt:      rec.ReadAt,
	}
}

func receiptDTOs(recs []domain.DeliveryReceipt) []dto.Receipt {
	out := make([]dto.Receipt, len(recs))
	for i, rec := range recs {
		out[i] = receiptDTO(rec)
	}
	return out
}
