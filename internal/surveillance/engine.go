package surveillance

import (
	"context"
	"time"

	"github.com/tidwall/btree"
	"go.uber.org/zap"
)

// Scenario pairs a detector with its name for logging and metrics.
type Scenario struct {
	Name   string
	Detect Detector
}

// DefaultScenarios is the stock detector battery.
func DefaultScenarios() []Scenario {
	return []Scenario{
		{Name: ScenarioWashTrade, Detect: DetectWashTrades},
		{Name: ScenarioFrontRun, Detect: DetectFrontRunning},
		{Name: ScenarioMixerProximity, Detect: DetectMixerProximity},
	}
}

// ScenarioEngine runs the detector battery over snapshots. Ingested
// trades accumulate in a time-ordered index so callers can scan the
// rolling window without re-sorting on every run.
type ScenarioEngine struct {
	scenarios []Scenario
	cfg       Config
	logger    *zap.Logger

	index *btree.BTreeG[Trade]
}

func tradeLess(a, b Trade) bool {
	if a.ExecutedAt.Equal(b.ExecutedAt) {
		return a.ID < b.ID
	}
	return a.ExecutedAt.Before(b.ExecutedAt)
}

// NewScenarioEngine returns an engine running the given scenarios, or
// the default battery when none are supplied.
func NewScenarioEngine(scenarios []Scenario, cfg Config, logger *zap.Logger) *ScenarioEngine {
	if len(scenarios) == 0 {
		scenarios = DefaultScenarios()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScenarioEngine{
		scenarios: scenarios,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		index:     btree.NewBTreeG(tradeLess),
	}
}

// Ingest adds trades to the rolling index.
func (e *ScenarioEngine) Ingest(trades ...Trade) {
	for _, trade := range trades {
		e.index.Set(trade)
	}
}

// IndexedTrades returns the rolling index in execution-time order.
func (e *ScenarioEngine) IndexedTrades() []Trade {
	trades := make([]Trade, 0, e.index.Len())
	e.index.Scan(func(trade Trade) bool {
		trades = append(trades, trade)
		return true
	})
	return trades
}

// Prune drops indexed trades executed before the cutoff.
func (e *ScenarioEngine) Prune(cutoff time.Time) int {
	var stale []Trade
	e.index.Scan(func(trade Trade) bool {
		if !trade.ExecutedAt.Before(cutoff) {
			return false
		}
		stale = append(stale, trade)
		return true
	})
	for _, trade := range stale {
		e.index.Delete(trade)
	}
	return len(stale)
}

// Run executes every scenario over the snapshot plus the rolling index
// and returns the combined alert list.
func (e *ScenarioEngine) Run(ctx context.Context, snapshot Snapshot) ([]Alert, error) {
	e.Ingest(snapshot.Trades...)
	combined := Snapshot{
		Trades:          e.IndexedTrades(),
		WalletTransfers: snapshot.WalletTransfers,
	}

	now := time.Now().UTC()
	var alerts []Alert
	for _, scenario := range e.scenarios {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		found := scenario.Detect(combined, e.cfg, now)
		if len(found) > 0 {
			e.logger.Debug("scenario matched",
				zap.String("scenario", scenario.Name),
				zap.Int("alerts", len(found)))
		}
		alerts = append(alerts, found...)
	}
	return alerts, nil
}
