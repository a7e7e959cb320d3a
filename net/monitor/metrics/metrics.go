// Package metrics provides Prometheus instrumentation for a CoAP endpoint.
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const defaultNamespace = "coap"

// Metrics holds the Prometheus collectors of one endpoint.
type Metrics struct {
	MessagesSent     *prometheus.CounterVec
	MessagesReceived *prometheus.CounterVec
	Retransmissions  prometheus.Counter
	Duplicates       prometheus.Counter
	Timeouts         prometheus.Counter
	Rejections       prometheus.Counter
	Malformed        prometheus.Counter
	Unsolicited      prometheus.Counter
	ActiveExchanges  prometheus.Gauge
	BlockTransfers   *prometheus.CounterVec
}

// New registers the collectors in reg. A nil reg uses the default registerer.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		MessagesSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_sent_total",
				Help:      "Total number of CoAP messages handed to the transport",
			},
			[]string{"type"},
		),
		MessagesReceived: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_received_total",
				Help:      "Total number of decoded CoAP messages",
			},
			[]string{"type"},
		),
		Retransmissions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retransmissions_total",
			Help:      "Total number of retransmitted confirmable messages",
		}),
		Duplicates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_total",
			Help:      "Total number of suppressed duplicate messages",
		}),
		Timeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timeouts_total",
			Help:      "Total number of exchanges failed after the retransmission budget",
		}),
		Rejections: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Total number of messages rejected by the peer with RST",
		}),
		Malformed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_total",
			Help:      "Total number of dropped undecodable datagrams",
		}),
		Unsolicited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unsolicited_total",
			Help:      "Total number of dropped responses without exchange",
		}),
		ActiveExchanges: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_exchanges",
			Help:      "Number of exchanges tracked by the matcher",
		}),
		BlockTransfers: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "block_transfers_total",
				Help:      "Total number of finished block-wise transfers",
			},
			[]string{"option", "status"},
		),
	}
}

func (m *Metrics) MessageSent(typ string) {
	if m == nil {
		return
	}
	m.MessagesSent.WithLabelValues(typ).Inc()
}

func (m *Metrics) MessageReceived(typ string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(typ).Inc()
}

func (m *Metrics) Retransmission() {
	if m == nil {
		return
	}
	m.Retransmissions.Inc()
}

func (m *Metrics) Duplicate() {
	if m == nil {
		return
	}
	m.Duplicates.Inc()
}

func (m *Metrics) Timeout() {
	if m == nil {
		return
	}
	m.Timeouts.Inc()
}

func (m *Metrics) Rejection() {
	if m == nil {
		return
	}
	m.Rejections.Inc()
}

func (m *Metrics) MalformedMessage() {
	if m == nil {
		return
	}
	m.Malformed.Inc()
}

func (m *Metrics) UnsolicitedResponse() {
	if m == nil {
		return
	}
	m.Unsolicited.Inc()
}

func (m *Metrics) SetActiveExchanges(n int) {
	if m == nil {
		return
	}
	m.ActiveExchanges.Set(float64(n))
}

// BlockTransfer counts a finished transfer; option is "block1" or "block2".
func (m *Metrics) BlockTransfer(option string, ok bool) {
	if m == nil {
		return
	}
	status := "success"
	if !ok {
		status = "error"
	}
	m.BlockTransfers.WithLabelValues(option, status).Inc()
}
