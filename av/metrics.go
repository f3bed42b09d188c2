package av

import (
	"strconv"

	"github.com/pion/rtcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons recorded by the packet handler.
const (
	dropShort      = "short"
	dropMalformed  = "malformed"
	dropUnknown    = "unknown_ssrc"
	dropDecrypt    = "decrypt"
	dropSilence    = "silence"
	dropBufferFull = "buffer_full"
	dropClosed     = "closed"
)

// Metrics holds the Prometheus collectors for one media connection. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// Outbound
	PacketsSent      *prometheus.CounterVec
	BytesSent        *prometheus.CounterVec
	SendErrors       *prometheus.CounterVec
	KeyframeRequests *prometheus.CounterVec
	KeyframeResends  prometheus.Counter
	ActiveStreams    prometheus.Gauge

	// Inbound
	PacketsReceived prometheus.Counter
	PacketsDropped  *prometheus.CounterVec
	PacketsLost     prometheus.Counter
	SpeakingSources prometheus.Gauge

	// Feedback
	ReportedFractionLost *prometheus.GaugeVec
	ReportedJitter       *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg. A nil
// registerer creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PacketsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mediagate_packets_sent_total",
			Help: "Total number of RTP datagrams handed to the transport",
		}, []string{"codec"}),
		BytesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mediagate_bytes_sent_total",
			Help: "Total number of encrypted bytes handed to the transport",
		}, []string{"codec"}),
		SendErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mediagate_send_errors_total",
			Help: "Total number of datagrams the transport failed to send",
		}, []string{"codec"}),
		KeyframeRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mediagate_keyframe_requests_total",
			Help: "Total number of keyframe requests received from the peer",
		}, []string{"type"}), // type: pli or fir
		KeyframeResends: factory.NewCounter(prometheus.CounterOpts{
			Name: "mediagate_keyframe_resends_total",
			Help: "Total number of cached keyframes resent after a picture loss indication",
		}),
		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mediagate_active_streams",
			Help: "Number of open participant streams",
		}),
		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "mediagate_packets_received_total",
			Help: "Total number of inbound RTP datagrams attributed to a participant",
		}),
		PacketsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mediagate_packets_dropped_total",
			Help: "Total number of inbound datagrams dropped",
		}, []string{"reason"}),
		PacketsLost: factory.NewCounter(prometheus.CounterOpts{
			Name: "mediagate_packets_lost_total",
			Help: "Total number of inbound packets missing from sequence gaps",
		}),
		SpeakingSources: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mediagate_speaking_sources",
			Help: "Number of SSRCs currently speaking",
		}),
		ReportedFractionLost: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mediagate_reported_fraction_lost",
			Help: "Fraction of packets lost as reported by the peer, 0 to 1",
		}, []string{"ssrc"}),
		ReportedJitter: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mediagate_reported_jitter",
			Help: "Interarrival jitter reported by the peer, in timestamp units",
		}, []string{"ssrc"}),
	}
}

func (m *Metrics) packetSent(codec string, size int) {
	if m == nil {
		return
	}
	m.PacketsSent.WithLabelValues(codec).Inc()
	m.BytesSent.WithLabelValues(codec).Add(float64(size))
}

func (m *Metrics) sendFailed(codec string) {
	if m == nil {
		return
	}
	m.SendErrors.WithLabelValues(codec).Inc()
}

func (m *Metrics) keyframeRequested(kind string) {
	if m == nil {
		return
	}
	m.KeyframeRequests.WithLabelValues(kind).Inc()
}

func (m *Metrics) keyframeResent() {
	if m == nil {
		return
	}
	m.KeyframeResends.Inc()
}

func (m *Metrics) received() {
	if m == nil {
		return
	}
	m.PacketsReceived.Inc()
}

func (m *Metrics) dropped(reason string) {
	if m == nil {
		return
	}
	m.PacketsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) lost(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PacketsLost.Add(float64(n))
}

func (m *Metrics) streamOpened() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
}

func (m *Metrics) streamClosed() {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
}

func (m *Metrics) speakingChanged(speaking bool) {
	if m == nil {
		return
	}
	if speaking {
		m.SpeakingSources.Inc()
	} else {
		m.SpeakingSources.Dec()
	}
}

func (m *Metrics) observeReports(reports []rtcp.ReceptionReport) {
	if m == nil {
		return
	}
	for _, r := range reports {
		label := strconv.FormatUint(uint64(r.SSRC), 10)
		m.ReportedFractionLost.WithLabelValues(label).Set(float64(r.FractionLost) / 256)
		m.ReportedJitter.WithLabelValues(label).Set(float64(r.Jitter))
	}
}
