// Package gateway declares the boundary interfaces for the external
// collaborators this core consumes. Implementations live with the
// systems that own them; the engines only see these contracts.
package gateway

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// AccountGates is the per-account eligibility snapshot used by
// pre-trade checks.
type AccountGates struct {
	AccountID      string
	KYCCleared     bool
	AMLCleared     bool
	Suitability    bool
	OptionsLevel   int
	MarginApproved bool
	CryptoEnabled  bool
	Wallets        map[string]WalletStatus
}

// WalletStatus records whitelist state for a client wallet address.
type WalletStatus struct {
	Whitelisted bool
	Label       string
}

// ClientOS exposes account gating and wallet verification.
type ClientOS interface {
	GetAccountGates(ctx context.Context, accountID string) (*AccountGates, error)
	VerifyWallet(ctx context.Context, accountID, address string) (bool, error)
}

// CoolingOffWindow marks an IPO cooling-off period for an instrument.
type CoolingOffWindow struct {
	EffectiveDate time.Time
	TombstoneOnly bool
}

// ComplianceSnapshot is the per-(account, instrument) compliance view.
type ComplianceSnapshot struct {
	RestrictedSymbols   map[string]struct{}
	IPOCoolingOff       map[string]CoolingOffWindow
	MarketingHold       bool
	AMLFlag             bool
	RequiresU4Amendment bool
}

// Restricted reports whether the snapshot restricts an instrument for
// the account.
func (s *ComplianceSnapshot) Restricted(instrumentID string) bool {
	_, ok := s.RestrictedSymbols[instrumentID]
	return ok
}

// ComplianceOS provides compliance snapshots and restriction lookups.
type ComplianceOS interface {
	GetSnapshot(ctx context.Context, accountID, instrumentID string) (*ComplianceSnapshot, error)
	IsSymbolRestricted(ctx context.Context, symbol string, asOf time.Time) (restricted bool, reason string, err error)
}

// PositionUpdate is a signed quantity and cash delta applied to custody.
// The custody layer must be idempotent-safe under retry.
type PositionUpdate struct {
	AccountID    string
	InstrumentID string
	Quantity     decimal.Decimal
	AvgPrice     decimal.Decimal
	CashDelta    decimal.Decimal
}

// CustodySnapshot reports current cash, positions and tax lots.
type CustodySnapshot struct {
	Cash      decimal.Decimal
	Positions map[string]decimal.Decimal
	Lots      map[string][]decimal.Decimal
}

// CustodySync applies position/cash deltas and serves position reads.
type CustodySync interface {
	GetSnapshot(ctx context.Context, accountID, instrumentID string) (*CustodySnapshot, error)
	UpdatePosition(ctx context.Context, update PositionUpdate) error
}

// SurveillanceHub answers insider-list membership for pre-trade gating.
type SurveillanceHub interface {
	IsInsider(ctx context.Context, accountID, instrumentID string) (bool, error)
}

// MutualFundRules carries fund-specific trading constraints.
type MutualFundRules struct {
	POPOnly            bool
	BreakpointEligible bool
}

// FeeForge serves mutual fund rule lookups.
type FeeForge interface {
	GetMutualFundRules(ctx context.Context, symbol string) (*MutualFundRules, error)
}

// ConfirmNotice is the regulatory-desk view of a generated confirm.
type ConfirmNotice struct {
	ConfirmID string
	OrderID   string
	AccountID string
	Path      string
	SHA256    string
	TS        time.Time
}

// RegDesk receives confirmation artifacts for regulatory distribution.
type RegDesk interface {
	DeliverConfirm(ctx context.Context, notice ConfirmNotice) error
}
