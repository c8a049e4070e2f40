// Package metrics holds the Prometheus collectors for the API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Moderation metrics
	ClassificationsTotal *prometheus.CounterVec
	GateBlocksTotal      prometheus.Counter
	FlagReadFailures     prometheus.Counter
	FeedPostsHidden      prometheus.Counter
	ModerationActions    *prometheus.CounterVec

	// Social metrics
	PostsCreated *prometheus.CounterVec
	LikesTotal   prometheus.Counter
	FollowsTotal prometheus.Counter

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Event publishing
	EventsPublished *prometheus.CounterVec
}

// New creates and registers all metrics on reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sunder_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sunder_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),

		ClassificationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sunder_classifications_total",
				Help: "Content classifications by field and outcome",
			},
			[]string{"field", "outcome"},
		),
		GateBlocksTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "sunder_post_gate_blocks_total",
				Help: "Post attempts blocked because the author is suspended",
			},
		),
		FlagReadFailures: f.NewCounter(
			prometheus.CounterOpts{
				Name: "sunder_moderation_flag_read_failures_total",
				Help: "Moderation flag reads that failed and fell back to defaults",
			},
		),
		FeedPostsHidden: f.NewCounter(
			prometheus.CounterOpts{
				Name: "sunder_feed_posts_hidden_total",
				Help: "Posts removed from feeds by the shadowban filter",
			},
		),
		ModerationActions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sunder_moderation_actions_total",
				Help: "Admin moderation actions by kind",
			},
			[]string{"action"},
		),

		PostsCreated: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sunder_posts_created_total",
				Help: "Posts and replies created",
			},
			[]string{"kind"},
		),
		LikesTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "sunder_likes_total",
				Help: "Total number of likes",
			},
		),
		FollowsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "sunder_follows_total",
				Help: "Total number of follows",
			},
		),

		CacheHitsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sunder_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_name"},
		),
		CacheMissesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sunder_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_name"},
		),

		EventsPublished: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sunder_events_published_total",
				Help: "Events published to the broker by type and outcome",
			},
			[]string{"type", "outcome"},
		),
	}
}

// ObserveClassification records a classifier decision.
func (m *Metrics) ObserveClassification(field string, valid bool) {
	if m == nil {
		return
	}
	outcome := "accepted"
	if !valid {
		outcome = "rejected"
	}
	m.ClassificationsTotal.WithLabelValues(field, outcome).Inc()
}

// GateBlocked records a post blocked by suspension.
func (m *Metrics) GateBlocked() {
	if m == nil {
		return
	}
	m.GateBlocksTotal.Inc()
}

// FlagReadFailed records a flag read that fell back to defaults.
func (m *Metrics) FlagReadFailed() {
	if m == nil {
		return
	}
	m.FlagReadFailures.Inc()
}

// PostsHidden records posts dropped by the feed filter.
func (m *Metrics) PostsHidden(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FeedPostsHidden.Add(float64(n))
}

// ModerationAction records an admin action.
func (m *Metrics) ModerationAction(action string) {
	if m == nil {
		return
	}
	m.ModerationActions.WithLabelValues(action).Inc()
}

// PostCreated records a new post or reply.
func (m *Metrics) PostCreated(reply bool) {
	if m == nil {
		return
	}
	kind := "post"
	if reply {
		kind = "reply"
	}
	m.PostsCreated.WithLabelValues(kind).Inc()
}

// Liked records a new like.
func (m *Metrics) Liked() {
	if m == nil {
		return
	}
	m.LikesTotal.Inc()
}

// Followed records a new follow.
func (m *Metrics) Followed() {
	if m == nil {
		return
	}
	m.FollowsTotal.Inc()
}

// CacheHit records a cache hit.
func (m *Metrics) CacheHit(name string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(name).Inc()
}

// CacheMiss records a cache miss.
func (m *Metrics) CacheMiss(name string) {
	if m == nil {
		return
	}
	m.CacheMissesTotal.WithLabelValues(name).Inc()
}

// EventPublished records a publish attempt.
func (m *Metrics) EventPublished(eventType string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.EventsPublished.WithLabelValues(eventType, outcome).Inc()
}
