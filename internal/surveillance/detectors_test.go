package surveillance

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var detectorBase = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

func trade(id, account, rep, symbol string, side TradeSide, qty, price string, at time.Time) Trade {
	return Trade{
		ID:         id,
		AccountID:  account,
		RepID:      rep,
		Symbol:     symbol,
		AssetType:  "EQUITY",
		Side:       side,
		Quantity:   decimal.RequireFromString(qty),
		Price:      decimal.RequireFromString(price),
		ExecutedAt: at,
	}
}

func TestWashTradeSameAccount(t *testing.T) {
	snapshot := Snapshot{Trades: []Trade{
		trade("t1", "A1", "R1", "BRF", TradeBuy, "500", "10", detectorBase),
		trade("t2", "A1", "R1", "BRF", TradeSell, "500", "10.1", detectorBase.Add(2*time.Minute)),
	}}

	alerts := DetectWashTrades(snapshot, Config{}, detectorBase)
	require.Len(t, alerts, 1)
	assert.Equal(t, ScenarioWashTrade, alerts[0].Scenario)
	assert.Equal(t, "BRF", alerts[0].Signal["symbol"])
	assert.Equal(t, "t1|t2", alerts[0].Key)
}

func TestWashTradeWindowBoundary(t *testing.T) {
	atWindow := Snapshot{Trades: []Trade{
		trade("t1", "A1", "R1", "BRF", TradeBuy, "500", "10", detectorBase),
		trade("t2", "A1", "R1", "BRF", TradeSell, "500", "10", detectorBase.Add(5*time.Minute)),
	}}
	assert.Len(t, DetectWashTrades(atWindow, Config{}, detectorBase), 1)

	pastWindow := Snapshot{Trades: []Trade{
		trade("t1", "A1", "R1", "BRF", TradeBuy, "500", "10", detectorBase),
		trade("t2", "A1", "R1", "BRF", TradeSell, "500", "10", detectorBase.Add(6*time.Minute)),
	}}
	assert.Empty(t, DetectWashTrades(pastWindow, Config{}, detectorBase))
}

func TestWashTradeHousehold(t *testing.T) {
	buy := trade("t1", "A1", "R1", "BRF", TradeBuy, "500", "10", detectorBase)
	buy.HouseholdID = "H1"
	sell := trade("t2", "A2", "R2", "BRF", TradeSell, "500", "10", detectorBase.Add(time.Minute))
	sell.HouseholdID = "H1"

	alerts := DetectWashTrades(Snapshot{Trades: []Trade{buy, sell}}, Config{}, detectorBase)
	require.Len(t, alerts, 1)
	assert.Equal(t, "H1", alerts[0].Signal["household_id"])
}

func TestWashTradeQuantityFloor(t *testing.T) {
	snapshot := Snapshot{Trades: []Trade{
		trade("t1", "A1", "R1", "BRF", TradeBuy, "500", "10", detectorBase),
		trade("t2", "A1", "R1", "BRF", TradeSell, "50", "10", detectorBase.Add(time.Minute)),
	}}
	assert.Empty(t, DetectWashTrades(snapshot, Config{}, detectorBase))
}

func TestWashTradeFirstMatchWins(t *testing.T) {
	snapshot := Snapshot{Trades: []Trade{
		trade("t1", "A1", "R1", "BRF", TradeBuy, "500", "10", detectorBase),
		trade("t2", "A1", "R1", "BRF", TradeSell, "500", "10", detectorBase.Add(time.Minute)),
		trade("t3", "A1", "R1", "BRF", TradeSell, "500", "10", detectorBase.Add(2*time.Minute)),
	}}
	alerts := DetectWashTrades(snapshot, Config{}, detectorBase)

	// t1 pairs with t2 only; t2 then seeds its own pair with t3.
	keys := make([]string, 0, len(alerts))
	for _, alert := range alerts {
		keys = append(keys, alert.Key)
	}
	assert.Contains(t, keys, "t1|t2")
	assert.NotContains(t, keys, "t1|t3")
}

func TestFrontRunningRepBeforeClient(t *testing.T) {
	employee := trade("p1", "EMP123", "R1", "ALP", TradeBuy, "200", "30", detectorBase)
	employee.IsEmployeeAccount = true
	client := trade("c1", "CLIENT1", "R1", "ALP", TradeBuy, "500", "31", detectorBase.Add(2*time.Minute))

	alerts := DetectFrontRunning(Snapshot{Trades: []Trade{employee, client}}, Config{}, detectorBase)
	require.Len(t, alerts, 1)
	assert.Equal(t, ScenarioFrontRun, alerts[0].Scenario)
	assert.Equal(t, "R1", alerts[0].Signal["rep_id"])
	assert.Equal(t, "c1|p1", alerts[0].Key)
}

func TestFrontRunningNotionalFloor(t *testing.T) {
	employee := trade("p1", "EMP123", "R1", "ALP", TradeBuy, "10", "30", detectorBase)
	employee.IsEmployeeAccount = true
	client := trade("c1", "CLIENT1", "R1", "ALP", TradeBuy, "500", "31", detectorBase.Add(time.Minute))

	assert.Empty(t, DetectFrontRunning(Snapshot{Trades: []Trade{employee, client}}, Config{}, detectorBase))
}

func TestFrontRunningWindowAndRepScope(t *testing.T) {
	employee := trade("p1", "EMP123", "R1", "ALP", TradeBuy, "200", "30", detectorBase)
	employee.IsEmployeeAccount = true

	lateClient := trade("c1", "CLIENT1", "R1", "ALP", TradeBuy, "500", "31", detectorBase.Add(31*time.Minute))
	assert.Empty(t, DetectFrontRunning(Snapshot{Trades: []Trade{employee, lateClient}}, Config{}, detectorBase))

	otherRep := trade("c2", "CLIENT1", "R2", "ALP", TradeBuy, "500", "31", detectorBase.Add(time.Minute))
	assert.Empty(t, DetectFrontRunning(Snapshot{Trades: []Trade{employee, otherRep}}, Config{}, detectorBase))
}

func TestMixerProximityWithinHops(t *testing.T) {
	snapshot := Snapshot{WalletTransfers: []WalletTransfer{{
		ID:        "w1",
		Wallet:    "0x0000000000000000000000000000000000000abc",
		Asset:     "USDC",
		Direction: "IN",
		Amount:    decimal.RequireFromString("12000"),
		TxHash:    "0x123",
		Timestamp: detectorBase,
		ScreeningPath: []ScreeningHop{
			{Address: "0xmix", Tag: "Mixer Hub", RiskLevel: "SEVERE", Distance: 2},
			{Address: "0xofac", Tag: "Sanctioned", RiskLevel: "SEVERE", Distance: 3},
		},
	}}}

	alerts := DetectMixerProximity(snapshot, Config{}, detectorBase)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertKindCrypto, alerts[0].Kind)
	assert.Equal(t, 80, alerts[0].Severity)
	assert.Equal(t, "wallet|0x0000000000000000000000000000000000000abc", alerts[0].Key)
	assert.Equal(t, true, alerts[0].Signal["evm_wallet"])

	closest, ok := alerts[0].Signal["closest"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 2, closest["distance"])
}

func TestMixerProximitySeverityScalesWithDistance(t *testing.T) {
	transfer := func(distance int) Snapshot {
		return Snapshot{WalletTransfers: []WalletTransfer{{
			ID:     "w1",
			Wallet: "0xabc",
			ScreeningPath: []ScreeningHop{
				{Address: "0xmix", Tag: "mixer", RiskLevel: "SEVERE", Distance: distance},
			},
		}}}
	}

	one := DetectMixerProximity(transfer(1), Config{}, detectorBase)
	require.Len(t, one, 1)
	assert.Equal(t, 85, one[0].Severity)

	three := DetectMixerProximity(transfer(3), Config{}, detectorBase)
	assert.Empty(t, three)
}

func TestMixerProximityIgnoresBenignPath(t *testing.T) {
	snapshot := Snapshot{WalletTransfers: []WalletTransfer{{
		ID:     "w1",
		Wallet: "0xabc",
		ScreeningPath: []ScreeningHop{
			{Address: "0xcex", Tag: "Exchange", RiskLevel: "LOW", Distance: 1},
		},
	}}}
	assert.Empty(t, DetectMixerProximity(snapshot, Config{}, detectorBase))
}
