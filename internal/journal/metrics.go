package journal

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// instrumented wraps a journal and counts appends by event kind.
type instrumented struct {
	Journal
	appends *prometheus.CounterVec
}

// WithMetrics decorates a journal with a Prometheus append counter
// registered on reg.
func WithMetrics(j Journal, reg prometheus.Registerer) Journal {
	appends := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "worm_journal_appends_total",
		Help: "Events appended to the WORM journal by kind.",
	}, []string{"kind"})
	reg.MustRegister(appends)
	return &instrumented{Journal: j, appends: appends}
}

func (i *instrumented) Append(ctx context.Context, kind string, payload any) (*Event, error) {
	ev, err := i.Journal.Append(ctx, kind, payload)
	if err == nil {
		i.appends.WithLabelValues(kind).Inc()
	}
	return ev, err
}
