package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	AuthenticationAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authentication_attempts_total",
			Help: "Bearer token validations by method and result.",
		},
		[]string{"method", "result"},
	)

	DeviceRegistrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "device_registrations_total",
			Help: "Device registrations by result.",
		},
		[]string{"result"},
	)

	PreKeyBundlesFetchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prekey_bundles_fetched_total",
			Help: "Prekey bundle fetches by whether a one-time key was attached.",
		},
		[]string{"one_time"},
	)

	OneTimePreKeysGeneratedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "one_time_prekeys_generated_total",
			Help: "One-time prekeys generated by registration and refill.",
		},
	)

	SignedPreKeysRotatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "signed_prekeys_rotated_total",
			Help: "Signed prekey rotations.",
		},
	)

	SessionsEstablishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessions_established_total",
			Help: "Sessions established by role.",
		},
		[]string{"role"},
	)

	RatchetOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratchet_operations_total",
			Help: "Encrypt and decrypt operations by result.",
		},
		[]string{"op", "result"},
	)

	StaleStateRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stale_state_retries_total",
			Help: "Optimistic concurrency retries by record kind.",
		},
		[]string{"kind"},
	)

	GroupKeyRotationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "group_key_rotations_total",
			Help: "Group key versions created by reason.",
		},
		[]string{"reason"},
	)

	DeliveryReceiptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_receipts_total",
			Help: "Delivery receipt transitions by status.",
		},
		[]string{"status"},
	)
)

// MustRegister registers every collector on the default registry with a
// constant service label.
func MustRegister(serviceName string) {
	reg := prometheus.WrapRegistererWith(prometheus.Labels{"service": serviceName}, prometheus.DefaultRegisterer)
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		AuthenticationAttemptsTotal,
		DeviceRegistrationsTotal,
		PreKeyBundlesFetchedTotal,
		OneTimePreKeysGeneratedTotal,
		SignedPreKeysRotatedTotal,
		SessionsEstablishedTotal,
		RatchetOperationsTotal,
		StaleStateRetriesTotal,
		GroupKeyRotationsTotal,
		DeliveryReceiptsTotal,
	)
}
