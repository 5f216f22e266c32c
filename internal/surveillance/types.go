// Package surveillance scans trade and wallet-transfer snapshots for
// manipulative patterns and manages the resulting alert stream:
// suppression, deduplication, case assignment and publication.
package surveillance

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeSide is the direction of a surveilled trade.
type TradeSide string

const (
	TradeBuy  TradeSide = "BUY"
	TradeSell TradeSide = "SELL"
)

// Trade is the surveillance view of an executed trade. It is a
// snapshot record, never mutated by detectors.
type Trade struct {
	ID                string          `json:"id"`
	AccountID         string          `json:"account_id"`
	HouseholdID       string          `json:"household_id,omitempty"`
	RepID             string          `json:"rep_id"`
	Symbol            string          `json:"symbol"`
	AssetType         string          `json:"asset_type"`
	Side              TradeSide       `json:"side"`
	Quantity          decimal.Decimal `json:"quantity"`
	Price             decimal.Decimal `json:"price"`
	ExecutedAt        time.Time       `json:"executed_at"`
	IsEmployeeAccount bool            `json:"is_employee_account,omitempty"`
}

// Notional is quantity times price.
func (t Trade) Notional() decimal.Decimal {
	return t.Quantity.Mul(t.Price)
}

// ScreeningHop is one step in a wallet screening path.
type ScreeningHop struct {
	Address   string `json:"address"`
	Tag       string `json:"tag"`
	RiskLevel string `json:"risk_level"`
	Distance  int    `json:"distance"`
}

// WalletTransfer is a crypto transfer with its pre-resolved screening
// path.
type WalletTransfer struct {
	ID            string          `json:"id"`
	Wallet        string          `json:"wallet"`
	Asset         string          `json:"asset"`
	Direction     string          `json:"direction"`
	Amount        decimal.Decimal `json:"amount"`
	TxHash        string          `json:"tx_hash"`
	Timestamp     time.Time       `json:"timestamp"`
	ScreeningPath []ScreeningHop  `json:"screening_path,omitempty"`
}

// AlertKind separates trade-surveillance from crypto-surveillance
// alerts.
type AlertKind string

const (
	AlertKindTrade  AlertKind = "TRADE"
	AlertKindCrypto AlertKind = "CRYPTO"
)

// AlertStatus lifecycle values. Alerts are immutable; a status change
// is a new record.
type AlertStatus string

const (
	AlertOpen       AlertStatus = "Open"
	AlertSuppressed AlertStatus = "Suppressed"
	AlertClosed     AlertStatus = "Closed"
)

// Scenario names. Alert keys are deterministic per scenario so the
// same incident reduces to the same key across runs.
const (
	ScenarioWashTrade      = "WASH_TRADE"
	ScenarioFrontRun       = "FRONT_RUN"
	ScenarioMixerProximity = "MIXER_PROXIMITY"
)

// Alert is a detector finding. Key is the dedup/suppression identity;
// Signal is the structured evidence.
type Alert struct {
	ID        string         `json:"id"`
	Kind      AlertKind      `json:"kind"`
	Scenario  string         `json:"scenario"`
	Severity  int            `json:"severity"`
	Status    AlertStatus    `json:"status"`
	Key       string         `json:"key"`
	Signal    map[string]any `json:"signal"`
	CreatedAt time.Time      `json:"created_at"`
}

// Snapshot is the input to one detector run.
type Snapshot struct {
	Trades          []Trade          `json:"trades"`
	WalletTransfers []WalletTransfer `json:"wallet_transfers"`
}
