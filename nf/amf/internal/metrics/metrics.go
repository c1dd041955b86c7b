// Package metrics exposes the AMF Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the AMF collectors on a private registry so tests can run
// isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	UERegistrations   prometheus.Counter
	UEDeregistrations prometheus.Counter
	PDUSessionsTotal  prometheus.Counter
	SBIRequests       *prometheus.CounterVec
	N1Messages        *prometheus.CounterVec
	N2Messages        *prometheus.CounterVec

	UEContexts     prometheus.Gauge
	ConnectedUEs   prometheus.Gauge
	ActiveSessions prometheus.Gauge
	RegisteredNFs  prometheus.Gauge
	HealthyNFs     prometheus.Gauge
	SystemLoad     prometheus.Gauge
}

// New creates the AMF metrics set.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.UERegistrations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "amf_ue_registrations_total",
		Help: "Total successful UE registrations.",
	})
	m.UEDeregistrations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "amf_ue_deregistrations_total",
		Help: "Total UE deregistrations.",
	})
	m.PDUSessionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "amf_pdu_sessions_total",
		Help: "Total PDU sessions established.",
	})
	m.SBIRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "amf_sbi_requests_total",
		Help: "SBI requests by service and status.",
	}, []string{"service", "status"})
	m.N1Messages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "amf_n1_messages_total",
		Help: "N1 messages by direction.",
	}, []string{"direction"})
	m.N2Messages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "amf_n2_messages_total",
		Help: "N2 messages by direction.",
	}, []string{"direction"})

	m.UEContexts = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "amf_ue_contexts",
		Help: "Current number of UE contexts.",
	})
	m.ConnectedUEs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "amf_connected_ues",
		Help: "Current number of connected UEs.",
	})
	m.ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "amf_active_pdu_sessions",
		Help: "Current number of active PDU sessions.",
	})
	m.RegisteredNFs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "amf_registered_nf_instances",
		Help: "NF instances currently registered.",
	})
	m.HealthyNFs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "amf_healthy_nf_instances",
		Help: "NF instances currently healthy.",
	})
	m.SystemLoad = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "amf_system_load_percent",
		Help: "Connected UEs as a percentage of maxUeConnections.",
	})

	m.registry.MustRegister(
		m.UERegistrations, m.UEDeregistrations, m.PDUSessionsTotal,
		m.SBIRequests, m.N1Messages, m.N2Messages,
		m.UEContexts, m.ConnectedUEs, m.ActiveSessions,
		m.RegisteredNFs, m.HealthyNFs, m.SystemLoad,
	)
	return m
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
