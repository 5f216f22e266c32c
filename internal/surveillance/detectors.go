package surveillance

import (
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Config tunes the detector battery. Zero values fall back to the
// defaults below.
type Config struct {
	WashLookback        time.Duration
	WashMinQuantity     decimal.Decimal
	FrontRunWindow      time.Duration
	FrontRunMinNotional decimal.Decimal
	MixerMaxHops        int
	MixerSeverityBase   int
}

const (
	defaultWashLookback      = 5 * time.Minute
	defaultFrontRunWindow    = 30 * time.Minute
	defaultMixerMaxHops      = 2
	defaultMixerSeverityBase = 90

	washSeverity     = 70
	frontRunSeverity = 85
)

func (c Config) withDefaults() Config {
	if c.WashLookback <= 0 {
		c.WashLookback = defaultWashLookback
	}
	if c.WashMinQuantity.IsZero() {
		c.WashMinQuantity = decimal.NewFromInt(100)
	}
	if c.FrontRunWindow <= 0 {
		c.FrontRunWindow = defaultFrontRunWindow
	}
	if c.FrontRunMinNotional.IsZero() {
		c.FrontRunMinNotional = decimal.NewFromInt(5000)
	}
	if c.MixerMaxHops <= 0 {
		c.MixerMaxHops = defaultMixerMaxHops
	}
	if c.MixerSeverityBase <= 0 {
		c.MixerSeverityBase = defaultMixerSeverityBase
	}
	return c
}

// Detector is a stateless analyzer over one snapshot.
type Detector func(snapshot Snapshot, cfg Config, now time.Time) []Alert

// pairKey reduces two trade IDs to one deterministic incident key.
func pairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, "|")
}

func newAlert(kind AlertKind, scenario string, severity int, key string, signal map[string]any, now time.Time) Alert {
	return Alert{
		ID:        uuid.NewString(),
		Kind:      kind,
		Scenario:  scenario,
		Severity:  severity,
		Status:    AlertOpen,
		Key:       key,
		Signal:    signal,
		CreatedAt: now,
	}
}

// DetectWashTrades finds opposite-side trade pairs on the same symbol
// for the same account or household inside the lookback window. The
// scan is forward-only over time-sorted trades and breaks at the first
// trade past the window; each seed trade reports at most one pair.
func DetectWashTrades(snapshot Snapshot, cfg Config, now time.Time) []Alert {
	cfg = cfg.withDefaults()
	trades := sortedTrades(snapshot.Trades)

	var alerts []Alert
	for i, seed := range trades {
		for _, candidate := range trades[i+1:] {
			if candidate.ExecutedAt.Sub(seed.ExecutedAt) > cfg.WashLookback {
				break
			}
			if candidate.Symbol != seed.Symbol {
				continue
			}
			sameParty := candidate.AccountID == seed.AccountID ||
				(seed.HouseholdID != "" && candidate.HouseholdID == seed.HouseholdID)
			if !sameParty {
				continue
			}
			if candidate.Side == seed.Side {
				continue
			}
			if decimal.Min(seed.Quantity, candidate.Quantity).LessThan(cfg.WashMinQuantity) {
				continue
			}
			alerts = append(alerts, newAlert(AlertKindTrade, ScenarioWashTrade, washSeverity,
				pairKey(seed.ID, candidate.ID), map[string]any{
					"symbol":       seed.Symbol,
					"account_id":   seed.AccountID,
					"household_id": seed.HouseholdID,
					"trade_ids":    []string{seed.ID, candidate.ID},
					"quantity":     decimal.Min(seed.Quantity, candidate.Quantity).String(),
					"window_secs":  int(candidate.ExecutedAt.Sub(seed.ExecutedAt).Seconds()),
				}, now))
			break
		}
	}
	return alerts
}

// DetectFrontRunning finds employee trades followed, within the window,
// by a client trade on the same rep and symbol. The employee trade must
// clear the notional floor; the first qualifying client trade closes
// the seed.
func DetectFrontRunning(snapshot Snapshot, cfg Config, now time.Time) []Alert {
	cfg = cfg.withDefaults()

	groups := make(map[string][]Trade)
	for _, trade := range snapshot.Trades {
		groups[trade.RepID+"|"+trade.Symbol] = append(groups[trade.RepID+"|"+trade.Symbol], trade)
	}

	var alerts []Alert
	for _, group := range groups {
		trades := sortedTrades(group)
		for i, seed := range trades {
			if !seed.IsEmployeeAccount {
				continue
			}
			if seed.Notional().LessThan(cfg.FrontRunMinNotional) {
				continue
			}
			for _, candidate := range trades[i+1:] {
				if candidate.ExecutedAt.Sub(seed.ExecutedAt) > cfg.FrontRunWindow {
					break
				}
				if candidate.IsEmployeeAccount {
					continue
				}
				alerts = append(alerts, newAlert(AlertKindTrade, ScenarioFrontRun, frontRunSeverity,
					pairKey(seed.ID, candidate.ID), map[string]any{
						"rep_id":            seed.RepID,
						"symbol":            seed.Symbol,
						"employee_trade_id": seed.ID,
						"client_trade_id":   candidate.ID,
						"employee_notional": seed.Notional().String(),
					}, now))
				break
			}
		}
	}
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].Key < alerts[j].Key })
	return alerts
}

// DetectMixerProximity flags transfers whose screening path puts the
// wallet within MixerMaxHops of a mixer or sanctioned address. Severity
// grows as the distance shrinks, floored at 80.
func DetectMixerProximity(snapshot Snapshot, cfg Config, now time.Time) []Alert {
	cfg = cfg.withDefaults()

	var alerts []Alert
	for _, transfer := range snapshot.WalletTransfers {
		closest, ok := closestRiskHop(transfer.ScreeningPath)
		if !ok || closest.Distance > cfg.MixerMaxHops {
			continue
		}
		severity := max(80, cfg.MixerSeverityBase-closest.Distance*5)
		alerts = append(alerts, newAlert(AlertKindCrypto, ScenarioMixerProximity, severity,
			"wallet|"+transfer.Wallet, map[string]any{
				"wallet":     transfer.Wallet,
				"evm_wallet": common.IsHexAddress(transfer.Wallet),
				"asset":      transfer.Asset,
				"tx_hash":    transfer.TxHash,
				"closest": map[string]any{
					"address":    closest.Address,
					"tag":        closest.Tag,
					"risk_level": closest.RiskLevel,
					"distance":   closest.Distance,
				},
			}, now))
	}
	return alerts
}

// closestRiskHop returns the minimum-distance mixer or sanction hop.
func closestRiskHop(path []ScreeningHop) (ScreeningHop, bool) {
	var closest ScreeningHop
	found := false
	for _, hop := range path {
		tag := strings.ToLower(hop.Tag)
		if !strings.Contains(tag, "mixer") && !strings.Contains(tag, "sanction") {
			continue
		}
		if !found || hop.Distance < closest.Distance {
			closest = hop
			found = true
		}
	}
	return closest, found
}

func sortedTrades(trades []Trade) []Trade {
	sorted := make([]Trade, len(trades))
	copy(sorted, trades)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].ExecutedAt.Equal(sorted[j].ExecutedAt) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].ExecutedAt.Before(sorted[j].ExecutedAt)
	})
	return sorted
}
