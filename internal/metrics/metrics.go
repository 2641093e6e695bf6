// Package metrics declares the Prometheus collectors shared by the chat
// subsystems. Collectors register with the default registry on import.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Matching
	MatchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tastechat_match_requests_total",
			Help: "Matching requests by result",
		},
		[]string{"result"}, // "queued", "matched", "already_queued", "already_matched", "cancelled", "timeout"
	)

	MatchesMade = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tastechat_matches_total",
			Help: "Total successful pairings",
		},
	)

	WaitingUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tastechat_waiting_users",
			Help: "Users currently waiting for a match",
		},
	)

	// Rooms
	OpenRooms = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tastechat_open_rooms",
			Help: "Open chat rooms by status",
		},
		[]string{"status"},
	)

	RoomsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tastechat_rooms_closed_total",
			Help: "Closed chat rooms by reason",
		},
		[]string{"reason"},
	)

	// Messages
	MessagesStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tastechat_messages_stored_total",
			Help: "Total chat messages stored",
		},
	)

	MessagesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tastechat_messages_rejected_total",
			Help: "Rejected chat messages by reason",
		},
		[]string{"reason"},
	)

	MessagesPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tastechat_messages_purged_total",
			Help: "Messages removed by retention purge",
		},
	)

	DecryptFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tastechat_decrypt_failures_total",
			Help: "Stored messages that failed to decrypt",
		},
	)

	EncryptionDegraded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tastechat_encryption_degraded",
			Help: "1 when messages are stored without encryption",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tastechat_rate_limit_hits_total",
			Help: "Total rate limit rejections",
		},
		[]string{"window"},
	)

	ComplaintsFiled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tastechat_complaints_total",
			Help: "Complaints filed by room members",
		},
	)

	// Front-ends
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tastechat_websocket_connections",
			Help: "Open WebSocket connections on this instance",
		},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tastechat_http_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"route", "code"},
	)

	TelegramUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tastechat_telegram_updates_total",
			Help: "Telegram updates by kind",
		},
		[]string{"kind"}, // "command", "text", "callback", "unsupported"
	)

	// Scheduler
	SchedulerRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tastechat_scheduler_runs_total",
			Help: "Background job runs by job and result",
		},
		[]string{"job", "result"},
	)

	SchedulerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tastechat_scheduler_duration_seconds",
			Help:    "Background job duration",
			Buckets: []float64{.001, .01, .1, .5, 1, 5, 30, 120},
		},
		[]string{"job"},
	)
)
