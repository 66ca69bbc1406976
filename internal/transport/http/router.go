package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"e2ee-messaging/internal/auth"
	"e2ee-messaging/internal/cryptocore"
	"e2ee-messaging/internal/observability/middleware"
	"e2ee-messaging/internal/service"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Options struct {
	Auth auth.Validator
	// CORSOrigins lists browser origins allowed to call the API with
	// credentials. Empty means no cross-origin access.
	CORSOrigins []string
	// RateLimit is requests per minute per client IP. Zero disables it.
	RateLimit      int
	RequestTimeout time.Duration
}

type Handler struct {
	svc *service.Service
}

func NewRouter(svc *service.Service, opts Options) http.Handler {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	h := &Handler{svc: svc}
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.WithRequestAndTrace)
	r.Use(middleware.WithAccessLog)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(opts.RequestTimeout))
	if opts.RateLimit > 0 {
		r.Use(httprate.LimitByIP(opts.RateLimit, time.Minute))
	}
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID", "X-Trace-ID"},
			ExposedHeaders:   []string{"X-Request-ID", "X-Trace-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(middleware.WithMetrics)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.Auth != nil {
			r.Use(opts.Auth.Middleware)
		}

		r.Post("/devices", h.registerDevice)
		r.Route("/devices/{deviceID}", func(r chi.Router) {
			r.Get("/bundle", h.fetchBundle)
			r.Post("/signed-prekey", h.rotateSignedPreKey)
			r.Get("/one-time-prekeys", h.oneTimePreKeyStatus)
			r.Post("/one-time-prekeys", h.replenishOneTimePreKeys)
		})

		r.Post("/sessions", h.establishSession)
		r.Post("/sessions/{conversationID}/{deviceID}/encrypt", h.encrypt)
		r.Post("/sessions/{conversationID}/{deviceID}/decrypt", h.decrypt)

		r.Post("/groups", h.createGroup)
		r.Route("/groups/{groupID}", func(r chi.Router) {
			r.Get("/", h.groupMembers)
			r.Post("/rotate", h.rotateGroup)
			r.Post("/members", h.addGroupMembers)
			r.Post("/encrypt", h.encryptGroup)
			r.Post("/decrypt", h.decryptGroup)
		})

		r.Post("/receipts/{messageID}/{status}", h.recordReceipt)
		r.Get("/receipts/{messageID}", h.receiptStatus)
		r.Get("/receipts/pending/{recipientID}", h.pendingReceipts)
	})
	return r
}

// statusFor maps service and crypto errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrDeviceNotFound),
		errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, service.ErrGroupNotFound),
		errors.Is(err, service.ErrReceiptNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrNotGroupMember):
		return http.StatusForbidden
	case errors.Is(err, service.ErrGroupExists),
		errors.Is(err, service.ErrStaleSessionState):
		return http.StatusConflict
	case errors.Is(err, cryptocore.ErrInvalidSignature),
		errors.Is(err, cryptocore.ErrAuthenticationFailure),
		errors.Is(err, cryptocore.ErrSkippedKeyLimitExceeded),
		errors.Is(err, cryptocore.ErrMissingOneTimeKey),
		errors.Is(err, cryptocore.ErrUnknownSignedPreKey),
		errors.Is(err, cryptocore.ErrSignedPreKeyExpired),
		errors.Is(err, cryptocore.ErrInvalidRemoteKey),
		errors.Is(err, cryptocore.ErrDuplicateMessage),
		errors.Is(err, cryptocore.ErrUnknownGroupKeyVersion):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := statusFor(err)
	attrs := []any{
		"error", err,
		"status", status,
		"request_id", middleware.RequestIDFromContext(r.Context()),
		"trace_id", middleware.TraceIDFromContext(r.Context()),
	}
	if status >= http.StatusInternalServerError {
		slog.Error(msg, attrs...)
		http.Error(w, "internal error", status)
		return
	}
	slog.Warn(msg, attrs...)
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		http.Error(w, "invalid "+name, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func parseUUIDs(raw []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, service.ErrInvalidRequest
		}
		out = append(out, id)
	}
	return out, nil
}

// actingAs rejects callers whose token is bound to a different device.
func actingAs(w http.ResponseWriter, r *http.Request, deviceID uuid.UUID) bool {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok || p.DeviceID == "" || p.DeviceID == deviceID.String() {
		return true
	}
	http.Error(w, "token is bound to another device", http.StatusForbidden)
	return false
}
