package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector exposes gateway metrics to Prometheus.
type Collector struct {
	// Gauges
	controlClients prometheus.Gauge
	overlayClients prometheus.Gauge
	streamClients  prometheus.Gauge

	// Counters
	framesSentTotal prometheus.Counter
	txBytesTotal    prometheus.Counter
	rxBytesTotal    prometheus.Counter

	evictionsTotal       *prometheus.CounterVec
	capacityRejectsTotal *prometheus.CounterVec
	degradedSendsTotal   *prometheus.CounterVec
}

// NewCollector registers the gateway metrics with reg. A nil reg falls back
// to the default registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		controlClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "roverlink_control_clients",
			Help: "Live peers on the TCP control channel",
		}),

		overlayClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "roverlink_overlay_clients",
			Help: "Live peers on the WebSocket overlay channel",
		}),

		streamClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "roverlink_stream_clients",
			Help: "Active MJPEG stream sessions",
		}),

		framesSentTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "roverlink_frames_sent_total",
			Help: "Total video frames delivered across all stream sessions",
		}),

		txBytesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "roverlink_tx_bytes_total",
			Help: "Total application bytes transmitted",
		}),

		rxBytesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "roverlink_rx_bytes_total",
			Help: "Total application bytes received",
		}),

		evictionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roverlink_peer_evictions_total",
			Help: "Peers evicted after liveness or send failure",
		}, []string{"channel"}),

		capacityRejectsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roverlink_capacity_rejects_total",
			Help: "Connections rejected because a channel's slot table was full",
		}, []string{"channel"}),

		degradedSendsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roverlink_degraded_sends_total",
			Help: "Broadcast sends that were only partially accepted",
		}, []string{"channel"}),
	}
}

func (c *Collector) SetControlClients(n int) {
	c.controlClients.Set(float64(n))
}

func (c *Collector) SetOverlayClients(n int) {
	c.overlayClients.Set(float64(n))
}

func (c *Collector) StreamClientConnected() {
	c.streamClients.Inc()
}

func (c *Collector) StreamClientDisconnected() {
	c.streamClients.Dec()
}

func (c *Collector) AddFramesSent(n int) {
	if n > 0 {
		c.framesSentTotal.Add(float64(n))
	}
}

func (c *Collector) AddTxBytes(n int) {
	c.txBytesTotal.Add(float64(n))
}

func (c *Collector) AddRxBytes(n int) {
	c.rxBytesTotal.Add(float64(n))
}

func (c *Collector) RecordEviction(channel string) {
	c.evictionsTotal.WithLabelValues(channel).Inc()
}

func (c *Collector) RecordCapacityReject(channel string) {
	c.capacityRejectsTotal.WithLabelValues(channel).Inc()
}

func (c *Collector) RecordDegradedSend(channel string) {
	c.degradedSendsTotal.WithLabelValues(channel).Inc()
}
