// Package metrics exposes the relay's prometheus collectors.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Turn outcomes.
const (
	OutcomeReplied      = "replied"
	OutcomeEmpty        = "empty"
	OutcomeFailed       = "failed"
	OutcomeUnattributed = "unattributed"
)

// Notification delivery statuses.
const (
	StatusQueued     = "queued"
	StatusDropped    = "dropped"
	StatusNoChannel  = "no_channel"
	StatusEncodeFail = "encode_failed"
)

var (
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "voice_relay_active_sessions",
			Help: "Number of sessions tracked by the registry",
		},
	)

	openChannels = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "voice_relay_open_chat_channels",
			Help: "Number of registered live-chat channels",
		},
	)

	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_relay_turns_total",
			Help: "Total number of audio turns by outcome",
		},
		[]string{"outcome"},
	)

	turnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voice_relay_turn_duration_seconds",
			Help:    "Audio turn duration in seconds, from transcription to last audio chunk",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		},
		[]string{"outcome"},
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_relay_notifications_total",
			Help: "Total number of live-chat notifications by message type and delivery status",
		},
		[]string{"type", "status"},
	)

	evictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "voice_relay_evicted_sessions_total",
			Help: "Total number of sessions evicted for inactivity",
		},
	)

	initOnce sync.Once
)

// Init registers the collectors with the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			activeSessions,
			openChannels,
			turnsTotal,
			turnDuration,
			notificationsTotal,
			evictionsTotal,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}

func SetOpenChannels(n int) {
	openChannels.Set(float64(n))
}

func RecordTurn(outcome string, d time.Duration) {
	turnsTotal.WithLabelValues(outcome).Inc()
	turnDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func RecordNotification(msgType, status string) {
	notificationsTotal.WithLabelValues(msgType, status).Inc()
}

func RecordEvictions(n int) {
	evictionsTotal.Add(float64(n))
}
