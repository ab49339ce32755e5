// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicetutor_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voicetutor_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	LoginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicetutor_logins_total",
			Help: "Login attempts by outcome",
		},
		[]string{"outcome"},
	)

	VoiceSessionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "voicetutor_voice_sessions_started_total",
			Help: "Voice sessions opened",
		},
	)

	VoiceSessionsStopped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "voicetutor_voice_sessions_stopped_total",
			Help: "Voice sessions closed",
		},
	)

	OpenVoiceSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "voicetutor_voice_sessions_open",
			Help: "Voice sessions started and not yet stopped by this process",
		},
	)

	ConversationMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicetutor_conversation_messages_total",
			Help: "Conversation lines appended by role",
		},
		[]string{"role"},
	)

	UpstreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicetutor_upstream_errors_total",
			Help: "Realtime API failures by operation",
		},
		[]string{"op"},
	)

	LogQueueDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicetutor_log_queue_dropped_total",
			Help: "Log entries dropped because the retry queue was full",
		},
		[]string{"queue"},
	)

	LogQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "voicetutor_log_queue_depth",
			Help: "Entries waiting in the retry queue",
		},
		[]string{"queue"},
	)
)
