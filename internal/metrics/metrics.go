package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "advisor_sessions_active",
		Help: "Currently connected browser sessions",
	})

	SessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "advisor_sessions_total",
		Help: "Total browser sessions accepted",
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "advisor_stage_duration_seconds",
		Help:    "Upstream call latency per stage",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
	}, []string{"stage"})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "advisor_errors_total",
		Help: "Error counts by stage",
	}, []string{"stage", "error_type"})

	PlaybackRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playback_runs_total",
		Help: "Playback runs by outcome",
	}, []string{"outcome"})

	PlaybackSegments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playback_segments_total",
		Help: "Segments played, by persona and how playback completed",
	}, []string{"persona", "completion"})

	PlaybackRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "playback_run_duration_seconds",
		Help:    "Wall time from run start to cleanup",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
	})

	MediaHandles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "media_handles_live",
		Help: "Media handles currently held in the store",
	})

	MediaHandlesExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "media_handles_expired_total",
		Help: "Media handles removed by the sweeper instead of an explicit release",
	})

	VideoCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "video_cache_hits_total",
		Help: "Talking-head videos served from cache",
	})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_rate_limited_total",
		Help: "Chat requests rejected by the rate limiter",
	})

	AnalyticsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "analytics_records_dropped_total",
		Help: "Analytics records dropped because the writer queue was full",
	})
)
