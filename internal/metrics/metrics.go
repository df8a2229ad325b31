// Package metrics exports receiver counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xiaogaogaoxiao/anyscatter/internal/correlator"
	"github.com/xiaogaogaoxiao/anyscatter/internal/frame"
)

const namespace = "anyscatter"

// Metrics implements the demodulator's Observer interface on top of
// Prometheus counters. Channel labels use the correlator's "x(i,j)"/"a(i)"
// names.
type Metrics struct {
	numAntennas int
	names       []string

	ticks         prometheus.Counter     // decimated ticks demodulated
	preambles     *prometheus.CounterVec // preamble hits by channel and polarity
	crcRejects    *prometheus.CounterVec // preamble hits that failed the CRC
	frames        *prometheus.CounterVec // accepted frames
	publishErrors *prometheus.CounterVec // sink failures
	clients       prometheus.GaugeFunc   // optional websocket client count
}

// New registers the receiver counters on reg.
func New(reg prometheus.Registerer, numAntennas int) *Metrics {
	factory := promauto.With(reg)

	width := numAntennas * (numAntennas + 1) / 2
	names := make([]string, width)
	for i := range names {
		names[i] = correlator.ChannelName(i, numAntennas)
	}

	return &Metrics{
		numAntennas: numAntennas,
		names:       names,
		ticks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Decimated ticks processed by the demodulator.",
		}),
		preambles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preambles_total",
			Help:      "Preamble detections per channel and polarity.",
		}, []string{"channel", "polarity"}),
		crcRejects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crc_rejects_total",
			Help:      "Candidate frames discarded by the CRC check.",
		}, []string{"channel"}),
		frames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Frames accepted and handed to the sink.",
		}, []string{"channel"}),
		publishErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Frames the sink failed to publish.",
		}, []string{"channel"}),
	}
}

// TrackClients exports fn as the websocket client gauge.
func (m *Metrics) TrackClients(reg prometheus.Registerer, fn func() int) {
	m.clients = promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "websocket_clients",
		Help:      "Connected websocket subscribers.",
	}, func() float64 { return float64(fn()) })
}

func (m *Metrics) name(ch int) string {
	if ch >= 0 && ch < len(m.names) {
		return m.names[ch]
	}
	return correlator.ChannelName(ch, m.numAntennas)
}

// PreambleDetected counts a preamble hit.
func (m *Metrics) PreambleDetected(channel int, flipped bool) {
	polarity := "normal"
	if flipped {
		polarity = "inverted"
	}
	m.preambles.WithLabelValues(m.name(channel), polarity).Inc()
}

// FrameRejected counts a CRC failure.
func (m *Metrics) FrameRejected(channel int) {
	m.crcRejects.WithLabelValues(m.name(channel)).Inc()
}

// FrameAccepted counts an accepted frame.
func (m *Metrics) FrameAccepted(rec frame.Record) {
	m.frames.WithLabelValues(m.name(int(rec.Channel))).Inc()
}

// PublishFailed counts a sink failure.
func (m *Metrics) PublishFailed(channel int, _ error) {
	m.publishErrors.WithLabelValues(m.name(channel)).Inc()
}

// TicksProcessed adds n to the tick counter.
func (m *Metrics) TicksProcessed(n int) {
	m.ticks.Add(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
