package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/garyjia/overturn/internal/application/lifecycle"
	"github.com/garyjia/overturn/internal/domain/event"
)

// Metrics records lifecycle, live channel, dispatcher and HTTP measurements
// on a private registry
type Metrics struct {
	registry *prometheus.Registry

	transitions        *prometheus.CounterVec
	transitionDuration *prometheus.HistogramVec
	pending            prometheus.Gauge
	transcripts        *prometheus.CounterVec
	reconnects         prometheus.Counter
	liveMessages       *prometheus.CounterVec
	handlerRuns        *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

// New registers all collectors under namespace
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Status transitions by resolution.",
		}, []string{"resolution"}),
		transitionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transition_write_seconds",
			Help:      "Time from optimistic apply to write resolution.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"resolution"}),
		pending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_transitions",
			Help:      "Claims with an unresolved status write.",
		}),
		transcripts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_entries_total",
			Help:      "Transcript entries received, by result.",
		}, []string{"result"}),
		reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_reconnects_total",
			Help:      "Live channel reconnect attempts.",
		}),
		liveMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_messages_total",
			Help:      "Live channel messages by channel and result.",
		}, []string{"channel", "result"}),
		handlerRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_handler_runs_total",
			Help:      "Dispatcher handler runs by event type, handler and result.",
		}, []string{"event_type", "handler", "result"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Registry returns the registry holding every collector
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveTransition implements lifecycle.Metrics
func (m *Metrics) ObserveTransition(res lifecycle.Resolution, d time.Duration) {
	m.transitions.WithLabelValues(string(res)).Inc()
	m.transitionDuration.WithLabelValues(string(res)).Observe(d.Seconds())
}

// SetPending implements lifecycle.Metrics
func (m *Metrics) SetPending(n int) {
	m.pending.Set(float64(n))
}

// TranscriptAppended implements lifecycle.Metrics
func (m *Metrics) TranscriptAppended(duplicate bool) {
	result := "appended"
	if duplicate {
		result = "duplicate"
	}
	m.transcripts.WithLabelValues(result).Inc()
}

// Reconnected implements lifecycle.MergerMetrics
func (m *Metrics) Reconnected() {
	m.reconnects.Inc()
}

// MessageReceived implements lifecycle.MergerMetrics
func (m *Metrics) MessageReceived(channel string, err error) {
	m.liveMessages.WithLabelValues(channel, result(err)).Inc()
}

// ObserveHandler has the dispatcher.Observer signature
func (m *Metrics) ObserveHandler(eventType event.Type, handler string, err error) {
	m.handlerRuns.WithLabelValues(eventType.String(), handler, result(err)).Inc()
}

// GinMiddleware counts requests by matched route
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

var (
	_ lifecycle.Metrics       = (*Metrics)(nil)
	_ lifecycle.MergerMetrics = (*Metrics)(nil)
)
