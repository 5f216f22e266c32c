package surveillance

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts alert flow through the scan pipeline.
type Metrics struct {
	Detected   *prometheus.CounterVec
	Suppressed *prometheus.CounterVec
	Deduped    *prometheus.CounterVec
	Surfaced   *prometheus.CounterVec
}

// NewMetrics registers the pipeline counters.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Detected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surveillance_alerts_detected_total",
			Help: "Alerts emitted by scenario detectors.",
		}, []string{"scenario"}),
		Suppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surveillance_alerts_suppressed_total",
			Help: "Alerts dropped by suppression rules.",
		}, []string{"scenario"}),
		Deduped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surveillance_alerts_deduped_total",
			Help: "Repeat alerts dropped by the deduper.",
		}, []string{"scenario"}),
		Surfaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surveillance_alerts_surfaced_total",
			Help: "Alerts surfaced after suppression and dedup.",
		}, []string{"scenario"}),
	}
	if reg != nil {
		reg.MustRegister(m.Detected, m.Suppressed, m.Deduped, m.Surfaced)
	}
	return m
}
