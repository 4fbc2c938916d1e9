package system

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/peppy/osu-server-spectator/internal/utils"
)

// MetricsService provides application metrics collection functionality.
type MetricsService struct {
	logger *utils.Logger

	// WebSocket metrics
	wsConnectionsTotal   prometheus.Counter
	wsConnectionsActive  prometheus.Gauge
	wsMessagesTotal      *prometheus.CounterVec
	wsConnectionDuration prometheus.Histogram

	// Multiplayer metrics
	roomsActive       prometheus.Gauge
	roomUsersActive   prometheus.Gauge
	matchesStarted    prometheus.Counter
	countdownsStarted *prometheus.CounterVec

	// Spectator metrics
	playSessionsActive prometheus.Gauge
	framesRelayedTotal prometheus.Counter

	// Score upload metrics
	scoreUploadsTotal   *prometheus.CounterVec
	scoreUploadDuration prometheus.Histogram

	// System metrics
	systemGoroutines prometheus.Gauge
	systemMemoryUsed prometheus.Gauge
}

// NewMetricsService creates a new metrics service.
func NewMetricsService(logger *utils.Logger) *MetricsService {
	m := &MetricsService{
		logger: logger.Named("metrics_service"),
	}

	m.wsConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spectator_ws_connections_total",
		Help: "Total number of websocket connections accepted",
	})
	m.wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spectator_ws_connections_active",
		Help: "Number of currently open websocket connections",
	})
	m.wsMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spectator_ws_messages_total",
		Help: "Total number of websocket messages by direction",
	}, []string{"direction"})
	m.wsConnectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "spectator_ws_connection_duration_seconds",
		Help:    "Duration of websocket connections in seconds",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	})

	m.roomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spectator_rooms_active",
		Help: "Number of multiplayer rooms currently live on this server",
	})
	m.roomUsersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spectator_room_users_active",
		Help: "Number of users currently in multiplayer rooms",
	})
	m.matchesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spectator_matches_started_total",
		Help: "Total number of multiplayer matches started",
	})
	m.countdownsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spectator_countdowns_started_total",
		Help: "Total number of countdowns started by type",
	}, []string{"type"})

	m.playSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spectator_play_sessions_active",
		Help: "Number of play sessions currently being tracked",
	})
	m.framesRelayedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spectator_frames_relayed_total",
		Help: "Total number of frame bundles relayed to watchers",
	})

	m.scoreUploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spectator_score_uploads_total",
		Help: "Total number of score uploads by outcome",
	}, []string{"outcome"})
	m.scoreUploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "spectator_score_upload_duration_seconds",
		Help:    "Time from enqueue to upload completion in seconds",
		Buckets: prometheus.DefBuckets,
	})

	m.systemGoroutines = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spectator_goroutines",
		Help: "Number of running goroutines",
	})
	m.systemMemoryUsed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spectator_memory_alloc_bytes",
		Help: "Bytes of allocated heap objects",
	})

	return m
}

// Handler returns an HTTP handler for exposing metrics.
func (m *MetricsService) Handler() http.Handler {
	return promhttp.Handler()
}

// StartRuntimeCollection samples runtime stats until the context stops it.
func (m *MetricsService) StartRuntimeCollection(stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				var stats runtime.MemStats
				runtime.ReadMemStats(&stats)
				m.systemGoroutines.Set(float64(runtime.NumGoroutine()))
				m.systemMemoryUsed.Set(float64(stats.Alloc))
			}
		}
	}()
}

// ConnectionOpened records a new websocket connection.
func (m *MetricsService) ConnectionOpened() {
	m.wsConnectionsTotal.Inc()
	m.wsConnectionsActive.Inc()
}

// ConnectionClosed records a websocket connection ending.
func (m *MetricsService) ConnectionClosed(duration time.Duration) {
	m.wsConnectionsActive.Dec()
	m.wsConnectionDuration.Observe(duration.Seconds())
}

// MessageReceived records an inbound websocket message.
func (m *MetricsService) MessageReceived() {
	m.wsMessagesTotal.WithLabelValues("in").Inc()
}

// MessageSent records an outbound websocket message.
func (m *MetricsService) MessageSent() {
	m.wsMessagesTotal.WithLabelValues("out").Inc()
}

// SetActiveRooms updates the live room gauge.
func (m *MetricsService) SetActiveRooms(count int) {
	m.roomsActive.Set(float64(count))
}

// SetActiveRoomUsers updates the room membership gauge.
func (m *MetricsService) SetActiveRoomUsers(count int) {
	m.roomUsersActive.Set(float64(count))
}

// MatchStarted records a match entering gameplay.
func (m *MetricsService) MatchStarted() {
	m.matchesStarted.Inc()
}

// CountdownStarted records a countdown starting.
func (m *MetricsService) CountdownStarted(countdownType string) {
	m.countdownsStarted.WithLabelValues(countdownType).Inc()
}

// SetActivePlaySessions updates the play session gauge.
func (m *MetricsService) SetActivePlaySessions(count int) {
	m.playSessionsActive.Set(float64(count))
}

// FramesRelayed records a frame bundle fan-out.
func (m *MetricsService) FramesRelayed() {
	m.framesRelayedTotal.Inc()
}

// ScoreUploaded records a score upload outcome: "uploaded", "timed_out" or
// "failed".
func (m *MetricsService) ScoreUploaded(outcome string, duration time.Duration) {
	m.scoreUploadsTotal.WithLabelValues(outcome).Inc()
	if outcome == "uploaded" {
		m.scoreUploadDuration.Observe(duration.Seconds())
	}
}
