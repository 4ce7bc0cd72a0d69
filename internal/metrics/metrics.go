package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortexlearn_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	SensingEmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortexlearn_sensing_emissions_total",
			Help: "Sensing snapshots emitted, by source (window or voice)",
		},
		[]string{"source"},
	)

	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortexlearn_lesson_transitions_total",
			Help: "Lesson state transitions by event and resulting state",
		},
		[]string{"event", "to"},
	)

	SynthesisCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortexlearn_synthesis_calls_total",
			Help: "External synthesis calls by outcome",
		},
		[]string{"provider", "outcome"},
	)

	SynthesisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cortexlearn_synthesis_latency_seconds",
			Help:    "External synthesis latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)

	AudioCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cortexlearn_audio_cache_hits_total",
			Help: "Audio requests served from the session cache",
		},
	)

	Prefetches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cortexlearn_prefetches_total",
			Help: "Background synthesis requests issued for the next segment",
		},
	)

	Fallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cortexlearn_playback_fallbacks_total",
			Help: "Segments revealed on the fixed-cadence timer without audio",
		},
	)

	StaleResults = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cortexlearn_stale_results_total",
			Help: "Async results discarded because they were superseded",
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cortexlearn_active_sessions",
			Help: "Number of active lesson sessions",
		},
	)

	SenseConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cortexlearn_sense_connections",
			Help: "Open sensor WebSocket connections",
		},
	)
)
