// Package metrics exposes the service's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the service exports. A single instance is
// created at startup and handed to the subsystems that record into it.
type Metrics struct {
	registry *prometheus.Registry

	// WSConnections tracks currently open websocket connections.
	WSConnections prometheus.Gauge

	// AuthRequests counts auth endpoint outcomes, labeled by operation
	// (login, refresh, logout) and result (ok, rejected, error).
	AuthRequests *prometheus.CounterVec

	// RefreshReuse counts refresh-token reuse detections.
	RefreshReuse prometheus.Counter

	// SweepEvictions counts sessions reclaimed by the presence sweeper.
	SweepEvictions prometheus.Counter

	// MessagesAccepted counts non-duplicate messages appended to a room.
	MessagesAccepted prometheus.Counter

	// HTTPRequests counts HTTP requests by route and status class.
	HTTPRequests *prometheus.CounterVec
}

// New constructs a Metrics instance on a private registry, pre-registered
// with the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "relay",
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Currently open websocket connections.",
		}),
		AuthRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "auth",
			Name:      "requests_total",
			Help:      "Auth operations by outcome.",
		}, []string{"op", "result"}),
		RefreshReuse: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "auth",
			Name:      "refresh_reuse_total",
			Help:      "Refresh-token reuse detections.",
		}),
		SweepEvictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "presence",
			Name:      "sweep_evictions_total",
			Help:      "Sessions reclaimed by the liveness sweeper.",
		}),
		MessagesAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "realtime",
			Name:      "messages_accepted_total",
			Help:      "Non-duplicate messages appended.",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status class.",
		}, []string{"route", "status"}),
	}
}

// RegisterParticipants exposes live per-room participant counts via counts,
// read at scrape time.
func (m *Metrics) RegisterParticipants(counts func() map[string]int) {
	if m == nil || counts == nil {
		return
	}
	m.registry.MustRegister(newParticipantsCollector(counts))
}

// Handler returns the /metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// participantsCollector reads live presence counts at scrape time instead of
// mirroring every mutation into a gauge.
type participantsCollector struct {
	desc   *prometheus.Desc
	counts func() map[string]int
}

func newParticipantsCollector(counts func() map[string]int) *participantsCollector {
	return &participantsCollector{
		desc: prometheus.NewDesc(
			"relay_presence_participants",
			"Live participants per room.",
			[]string{"room"}, nil,
		),
		counts: counts,
	}
}

func (c *participantsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *participantsCollector) Collect(ch chan<- prometheus.Metric) {
	for room, n := range c.counts() {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(n), room)
	}
}
