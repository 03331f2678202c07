package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/muurk/tinyhttps/internal/server"
	"github.com/muurk/tinyhttps/internal/websocket"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "tinyhttps"

// Collector records server events as Prometheus metrics. It implements
// server.Observer.
//
// Metrics:
//   - tinyhttps_connections_opened_total{transport}
//   - tinyhttps_connections_rejected_total{reason}
//   - tinyhttps_connection_lifetime_seconds
//   - tinyhttps_requests_per_connection
//   - tinyhttps_requests_total{method,route,code}
//   - tinyhttps_request_duration_seconds{method,route}
//   - tinyhttps_response_size_bytes
//   - tinyhttps_websocket_messages_total{type}
//   - tinyhttps_websocket_message_size_bytes
//   - tinyhttps_protocol_errors_total{kind}
//   - tinyhttps_slots, tinyhttps_slots_active, tinyhttps_queue_length,
//     tinyhttps_slots_by_phase{phase} (after ObserveStats)
type Collector struct {
	namespace string
	registry  *prometheus.Registry

	connectionsOpened   *prometheus.CounterVec
	connectionsRejected *prometheus.CounterVec
	connectionLifetime  prometheus.Histogram
	requestsPerConn     prometheus.Histogram

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	responseSize    prometheus.Histogram

	wsMessages    *prometheus.CounterVec
	wsMessageSize prometheus.Histogram

	protocolErrors *prometheus.CounterVec

	statsOnce sync.Once
}

var _ server.Observer = (*Collector)(nil)

// NewCollector creates and registers the server metrics. A nil registry
// gets a fresh one.
func NewCollector(namespace string, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}

	c := &Collector{
		namespace: namespace,
		registry:  registry,

		connectionsOpened: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_opened_total",
				Help:      "Connections assigned to a slot",
			},
			[]string{"transport"},
		),
		connectionsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_rejected_total",
				Help:      "Connections refused before reaching a slot",
			},
			[]string{"reason"},
		),
		connectionLifetime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "connection_lifetime_seconds",
				Help:      "Time a connection held its slot",
				Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 30, 120, 600},
			},
		),
		requestsPerConn: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "requests_per_connection",
				Help:      "Requests served on one connection",
				Buckets:   []float64{0, 1, 2, 5, 10, 50, 100},
			},
		),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "HTTP requests answered",
			},
			[]string{"method", "route", "code"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Time from complete request head to finished response",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "route"},
		),
		responseSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "response_size_bytes",
				Help:      "Response body bytes written",
				Buckets:   prometheus.ExponentialBuckets(64, 4, 8), // 64B to 1MB
			},
		),
		wsMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_messages_total",
				Help:      "WebSocket messages received",
			},
			[]string{"type"},
		),
		wsMessageSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "websocket_message_size_bytes",
				Help:      "Size of received WebSocket messages",
				Buckets:   prometheus.ExponentialBuckets(16, 4, 7), // 16B to 64KB
			},
		),
		protocolErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "protocol_errors_total",
				Help:      "Malformed requests and WebSocket violations",
			},
			[]string{"kind"},
		),
	}

	registry.MustRegister(
		c.connectionsOpened,
		c.connectionsRejected,
		c.connectionLifetime,
		c.requestsPerConn,
		c.requestsTotal,
		c.requestDuration,
		c.responseSize,
		c.wsMessages,
		c.wsMessageSize,
		c.protocolErrors,
	)
	return c
}

// Registry returns the registry the metrics live in.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveStats registers gauges that read the server's slot snapshot on
// every scrape. Only the first call has an effect.
func (c *Collector) ObserveStats(stats func() server.Stats) {
	c.statsOnce.Do(func() {
		c.registry.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: c.namespace,
				Name:      "slots",
				Help:      "Connection slots in the arena",
			}, func() float64 { return float64(stats().Capacity) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: c.namespace,
				Name:      "slots_active",
				Help:      "Slots holding a connection",
			}, func() float64 { return float64(stats().Active) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: c.namespace,
				Name:      "queue_length",
				Help:      "Accepted connections waiting for a slot",
			}, func() float64 { return float64(stats().Queued) }),
			newPhaseCollector(c.namespace, stats),
		)
	})
}

func (c *Collector) ConnectionOpened(secure bool) {
	transport := "plain"
	if secure {
		transport = "tls"
	}
	c.connectionsOpened.WithLabelValues(transport).Inc()
}

func (c *Collector) ConnectionClosed(lifetime time.Duration, requests int) {
	c.connectionLifetime.Observe(lifetime.Seconds())
	c.requestsPerConn.Observe(float64(requests))
}

func (c *Collector) ConnectionRejected(reason string) {
	c.connectionsRejected.WithLabelValues(reason).Inc()
}

func (c *Collector) RequestServed(method, pattern string, status int, bytes int64, elapsed time.Duration) {
	if method == "" {
		method = "unknown"
	}
	// Unmatched paths share one label to bound cardinality.
	if pattern == "" {
		pattern = "unmatched"
	}
	c.requestsTotal.WithLabelValues(method, pattern, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(method, pattern).Observe(elapsed.Seconds())
	c.responseSize.Observe(float64(bytes))
}

func (c *Collector) WebSocketMessage(op websocket.Opcode, size int) {
	kind := "binary"
	if op == websocket.OpText {
		kind = "text"
	}
	c.wsMessages.WithLabelValues(kind).Inc()
	c.wsMessageSize.Observe(float64(size))
}

func (c *Collector) ProtocolError(kind string) {
	c.protocolErrors.WithLabelValues(kind).Inc()
}

// phaseCollector reports busy slots per phase from one snapshot per scrape.
type phaseCollector struct {
	desc  *prometheus.Desc
	stats func() server.Stats
}

func newPhaseCollector(namespace string, stats func() server.Stats) *phaseCollector {
	return &phaseCollector{
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "slots_by_phase"),
			"Busy slots by connection phase",
			[]string{"phase"}, nil,
		),
		stats: stats,
	}
}

func (p *phaseCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- p.desc
}

func (p *phaseCollector) Collect(ch chan<- prometheus.Metric) {
	counts := p.stats().PhaseCounts()
	for ph := server.PhaseReadingHead; ph <= server.PhaseClosing; ph++ {
		ch <- prometheus.MustNewConstMetric(p.desc, prometheus.GaugeValue, float64(counts[ph]), ph.String())
	}
}
