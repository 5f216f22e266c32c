package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Static gateway implementations for standalone runs: accounts are
// fully cleared, custody is an in-memory ledger, and confirms are
// logged instead of delivered. Production deployments substitute the
// real system clients behind the same interfaces.

// StaticClientOS clears every account for trading.
type StaticClientOS struct {
	OptionsLevel int
}

func (c StaticClientOS) GetAccountGates(_ context.Context, accountID string) (*AccountGates, error) {
	level := c.OptionsLevel
	if level == 0 {
		level = 2
	}
	return &AccountGates{
		AccountID:      accountID,
		KYCCleared:     true,
		AMLCleared:     true,
		Suitability:    true,
		OptionsLevel:   level,
		MarginApproved: true,
		CryptoEnabled:  true,
	}, nil
}

func (StaticClientOS) VerifyWallet(_ context.Context, _, _ string) (bool, error) {
	return true, nil
}

// StaticComplianceOS reports a clean compliance slate.
type StaticComplianceOS struct{}

func (StaticComplianceOS) GetSnapshot(_ context.Context, _, _ string) (*ComplianceSnapshot, error) {
	return &ComplianceSnapshot{}, nil
}

func (StaticComplianceOS) IsSymbolRestricted(_ context.Context, _ string, _ time.Time) (bool, string, error) {
	return false, "", nil
}

// StaticSurveillanceHub has an empty insider list.
type StaticSurveillanceHub struct{}

func (StaticSurveillanceHub) IsInsider(_ context.Context, _, _ string) (bool, error) {
	return false, nil
}

// StaticFeeForge allows breakpoints and does not force POP pricing.
type StaticFeeForge struct{}

func (StaticFeeForge) GetMutualFundRules(_ context.Context, _ string) (*MutualFundRules, error) {
	return &MutualFundRules{BreakpointEligible: true}, nil
}

// LogRegDesk logs confirm notices instead of delivering them.
type LogRegDesk struct {
	Logger *zap.Logger
}

func (d LogRegDesk) DeliverConfirm(_ context.Context, notice ConfirmNotice) error {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("confirm delivered",
		zap.String("confirm_id", notice.ConfirmID),
		zap.String("order_id", notice.OrderID),
		zap.String("sha256", notice.SHA256))
	return nil
}

// MemoryCustody is an in-memory cash and position ledger. Accounts are
// seeded with the opening cash balance on first touch.
type MemoryCustody struct {
	mu          sync.Mutex
	openingCash decimal.Decimal
	cash        map[string]decimal.Decimal
	positions   map[string]map[string]decimal.Decimal
}

// NewMemoryCustody returns a ledger seeding each account with
// openingCash.
func NewMemoryCustody(openingCash decimal.Decimal) *MemoryCustody {
	return &MemoryCustody{
		openingCash: openingCash,
		cash:        make(map[string]decimal.Decimal),
		positions:   make(map[string]map[string]decimal.Decimal),
	}
}

func (m *MemoryCustody) GetSnapshot(_ context.Context, accountID, _ string) (*CustodySnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touch(accountID)
	positions := make(map[string]decimal.Decimal, len(m.positions[accountID]))
	for instrument, qty := range m.positions[accountID] {
		positions[instrument] = qty
	}
	return &CustodySnapshot{
		Cash:      m.cash[accountID],
		Positions: positions,
		Lots:      map[string][]decimal.Decimal{},
	}, nil
}

func (m *MemoryCustody) UpdatePosition(_ context.Context, update PositionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touch(update.AccountID)
	book := m.positions[update.AccountID]
	book[update.InstrumentID] = book[update.InstrumentID].Add(update.Quantity)
	m.cash[update.AccountID] = m.cash[update.AccountID].Add(update.CashDelta)
	return nil
}

func (m *MemoryCustody) touch(accountID string) {
	if _, ok := m.cash[accountID]; !ok {
		m.cash[accountID] = m.openingCash
	}
	if _, ok := m.positions[accountID]; !ok {
		m.positions[accountID] = make(map[string]decimal.Decimal)
	}
}
