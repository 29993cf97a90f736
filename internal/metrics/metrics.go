package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reach_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reach_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	Registrations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reach_registrations_total",
			Help: "Total registration requests accepted",
		},
	)

	Sends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reach_sends_total",
			Help: "Total send requests by outcome",
		},
		[]string{"outcome"}, // "delivered", "queued", "rejected"
	)

	MessagesDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reach_messages_delivered_total",
			Help: "Total messages confirmed delivered over a live session",
		},
	)

	MessagesSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reach_messages_swept_total",
			Help: "Total expired messages removed by the sweeper",
		},
	)

	MessagesEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reach_messages_evicted_total",
			Help: "Total messages evicted by the mailbox depth cap",
		},
	)

	MailboxDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reach_mailbox_depth",
			Help: "Messages currently queued across all mailboxes",
		},
	)

	// Session metrics
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reach_active_sessions",
			Help: "Currently open agent sessions",
		},
	)

	Supersessions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reach_supersessions_total",
			Help: "Total sessions forcibly closed by a newer connection for the same DID",
		},
	)

	HandshakeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reach_handshake_failures_total",
			Help: "Total connection handshakes rejected",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reach_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reach_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	// Infrastructure metrics
	StoreLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reach_store_latency_seconds",
			Help:    "KV store operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)
)
