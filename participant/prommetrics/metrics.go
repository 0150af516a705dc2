// Package prommetrics implements participant.Metrics on top of
// github.com/prometheus/client_golang, the same metrics library portal's
// corev2 stack registers its connection and lease gauges with.
package prommetrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gosuda/participant/participant"
)

// Metrics registers one family of counters/gauges per Participant instance
// under the given prometheus.Registerer. Pass prometheus.DefaultRegisterer
// to use the global registry.
type Metrics struct {
	streamsOpen   prometheus.Gauge
	streamsTotal  *prometheus.CounterVec
	messagesTotal *prometheus.CounterVec
	bytesTotal    *prometheus.CounterVec
	channelsOpen  prometheus.Gauge
	channelsTotal *prometheus.CounterVec
}

// New registers the metric family with reg under the "participant_" prefix
// and returns a Metrics ready to hand to participant.Config.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		streamsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "participant",
			Name:      "streams_open",
			Help:      "Number of currently open streams.",
		}),
		streamsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "participant",
			Name:      "streams_opened_total",
			Help:      "Total streams opened, labeled by who initiated.",
		}, []string{"initiator"}),
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "participant",
			Name:      "messages_total",
			Help:      "Total messages, labeled by direction.",
		}, []string{"direction"}),
		bytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "participant",
			Name:      "bytes_total",
			Help:      "Total message payload bytes, labeled by direction.",
		}, []string{"direction"}),
		channelsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "participant",
			Name:      "channels_open",
			Help:      "Number of currently attached channels.",
		}),
		channelsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "participant",
			Name:      "channels_closed_total",
			Help:      "Total channels closed, labeled by whether it was a failure.",
		}, []string{"failed"}),
	}
	reg.MustRegister(m.streamsOpen, m.streamsTotal, m.messagesTotal, m.bytesTotal, m.channelsOpen, m.channelsTotal)
	return m
}

var _ participant.Metrics = (*Metrics)(nil)

func (m *Metrics) StreamOpened(local bool) {
	m.streamsOpen.Inc()
	initiator := "remote"
	if local {
		initiator = "local"
	}
	m.streamsTotal.WithLabelValues(initiator).Inc()
}

func (m *Metrics) StreamClosed() {
	m.streamsOpen.Dec()
}

func (m *Metrics) MessageSent(bytes int) {
	m.messagesTotal.WithLabelValues("sent").Inc()
	m.bytesTotal.WithLabelValues("sent").Add(float64(bytes))
}

func (m *Metrics) MessageReceived(bytes int) {
	m.messagesTotal.WithLabelValues("received").Inc()
	m.bytesTotal.WithLabelValues("received").Add(float64(bytes))
}

func (m *Metrics) ChannelAttached() {
	m.channelsOpen.Inc()
}

func (m *Metrics) ChannelClosed(failed bool) {
	m.channelsOpen.Dec()
	label := "false"
	if failed {
		label = "true"
	}
	m.channelsTotal.WithLabelValues(label).Inc()
}
