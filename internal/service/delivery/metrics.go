package delivery

import (
	"errors"

	"secure_drop/internal/protocol/envelope"
	"secure_drop/internal/repository/keystore"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "securedrop"

type (
	// Metrics counts delivery outcomes. A nil *Metrics records nothing.
	Metrics struct {
		sends    *prometheus.CounterVec
		receives *prometheus.CounterVec
	}
)

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sends_total",
			Help:      "Send attempts by outcome.",
		}, []string{"outcome"}),
		receives: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "receives_total",
			Help:      "Receive attempts by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.sends, m.receives)
	}
	return m
}

func (m *Metrics) send(outcome string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(outcome).Inc()
}

func (m *Metrics) receive(outcome string) {
	if m == nil {
		return
	}
	m.receives.WithLabelValues(outcome).Inc()
}

func errorOutcome(err error) string {
	switch {
	case errors.Is(err, envelope.ErrIntegrity):
		return "integrity_error"
	case errors.Is(err, envelope.ErrAuthTag):
		return "auth_tag_error"
	case errors.Is(err, envelope.ErrKeyUnwrap):
		return "key_unwrap_error"
	case errors.Is(err, envelope.ErrSeal):
		return "seal_error"
	case errors.Is(err, keystore.ErrKeyLoad):
		return "key_load_error"
	default:
		return "error"
	}
}
