package surveillance

import (
	"context"

	"go.uber.org/zap"

	"github.com/halcyonmarkets/tradeos/internal/journal"
)

// ScanResult summarizes one pipeline run.
type ScanResult struct {
	Detected   int     `json:"detected"`
	Suppressed int     `json:"suppressed"`
	Deduped    int     `json:"deduped"`
	Surfaced   []Alert `json:"surfaced"`
}

// Service is the scan pipeline: detect, suppress, dedup, record, case,
// publish.
type Service struct {
	engine      *ScenarioEngine
	suppression *SuppressionService
	deduper     *AlertDeduper
	cases       *CaseService
	publisher   AlertPublisher
	metrics     *Metrics
	journal     journal.Journal
	logger      *zap.Logger
}

// ServiceOptions wires the pipeline stages. Nil Publisher and Metrics
// disable those stages.
type ServiceOptions struct {
	Engine      *ScenarioEngine
	Suppression *SuppressionService
	Deduper     *AlertDeduper
	Cases       *CaseService
	Publisher   AlertPublisher
	Metrics     *Metrics
	Journal     journal.Journal
}

// NewService assembles the pipeline.
func NewService(opts ServiceOptions, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		engine:      opts.Engine,
		suppression: opts.Suppression,
		deduper:     opts.Deduper,
		cases:       opts.Cases,
		publisher:   opts.Publisher,
		metrics:     opts.Metrics,
		journal:     opts.Journal,
		logger:      logger,
	}
}

// Suppression exposes the rule set for the ops API.
func (s *Service) Suppression() *SuppressionService { return s.suppression }

// Cases exposes the case registry for the ops API.
func (s *Service) Cases() *CaseService { return s.cases }

// Scan runs the detectors over a snapshot, filters the findings and
// surfaces what remains. Suppression runs before dedup so silenced
// incidents never consume dedup state.
func (s *Service) Scan(ctx context.Context, snapshot Snapshot) (*ScanResult, error) {
	detected, err := s.engine.Run(ctx, snapshot)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		for _, alert := range detected {
			s.metrics.Detected.WithLabelValues(alert.Scenario).Inc()
		}
	}

	passed := make([]Alert, 0, len(detected))
	suppressed := 0
	for _, alert := range detected {
		if s.suppression != nil && s.suppression.ShouldSuppress(alert) {
			suppressed++
			if s.metrics != nil {
				s.metrics.Suppressed.WithLabelValues(alert.Scenario).Inc()
			}
			continue
		}
		passed = append(passed, alert)
	}

	surfaced := passed
	if s.deduper != nil {
		surfaced, err = s.deduper.Filter(ctx, passed)
		if err != nil {
			return nil, err
		}
	}
	deduped := len(passed) - len(surfaced)
	if s.metrics != nil {
		for _, alert := range surfaced {
			s.metrics.Surfaced.WithLabelValues(alert.Scenario).Inc()
		}
		if deduped > 0 && len(passed) > 0 {
			for _, alert := range diffAlerts(passed, surfaced) {
				s.metrics.Deduped.WithLabelValues(alert.Scenario).Inc()
			}
		}
	}

	if _, err := s.journal.Append(ctx, "surveillance.scan", map[string]any{
		"detected":   len(detected),
		"suppressed": suppressed,
		"deduped":    deduped,
		"surfaced":   len(surfaced),
	}); err != nil {
		return nil, err
	}

	if s.cases != nil {
		for _, alert := range surfaced {
			if _, err := s.cases.IngestAlert(ctx, alert); err != nil {
				return nil, err
			}
		}
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, surfaced); err != nil {
			return nil, err
		}
	}

	s.logger.Info("scan complete",
		zap.Int("detected", len(detected)),
		zap.Int("suppressed", suppressed),
		zap.Int("deduped", deduped),
		zap.Int("surfaced", len(surfaced)))
	return &ScanResult{
		Detected:   len(detected),
		Suppressed: suppressed,
		Deduped:    deduped,
		Surfaced:   surfaced,
	}, nil
}

// diffAlerts returns the members of all that did not survive into
// kept, matched by alert ID.
func diffAlerts(all, kept []Alert) []Alert {
	surviving := make(map[string]struct{}, len(kept))
	for _, alert := range kept {
		surviving[alert.ID] = struct{}{}
	}
	var dropped []Alert
	for _, alert := range all {
		if _, ok := surviving[alert.ID]; !ok {
			dropped = append(dropped, alert)
		}
	}
	return dropped
}
