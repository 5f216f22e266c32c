package pretrade

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/halcyonmarkets/tradeos/internal/journal"
	"github.com/halcyonmarkets/tradeos/internal/tradeos/gateway"
	"github.com/halcyonmarkets/tradeos/internal/tradeos/model"
)

type stubClientOS struct {
	gates   gateway.AccountGates
	wallets map[string]bool
}

func (s *stubClientOS) GetAccountGates(_ context.Context, accountID string) (*gateway.AccountGates, error) {
	gates := s.gates
	gates.AccountID = accountID
	return &gates, nil
}

func (s *stubClientOS) VerifyWallet(_ context.Context, _, address string) (bool, error) {
	return s.wallets[address], nil
}

type stubComplianceOS struct {
	snapshot   gateway.ComplianceSnapshot
	restricted map[string]string
}

func (s *stubComplianceOS) GetSnapshot(_ context.Context, _, _ string) (*gateway.ComplianceSnapshot, error) {
	snap := s.snapshot
	return &snap, nil
}

func (s *stubComplianceOS) IsSymbolRestricted(_ context.Context, symbol string, _ time.Time) (bool, string, error) {
	reason, ok := s.restricted[symbol]
	return ok, reason, nil
}

type stubCustody struct {
	snapshot gateway.CustodySnapshot
}

func (s *stubCustody) GetSnapshot(_ context.Context, _, _ string) (*gateway.CustodySnapshot, error) {
	snap := s.snapshot
	return &snap, nil
}

func (s *stubCustody) UpdatePosition(_ context.Context, _ gateway.PositionUpdate) error {
	return nil
}

type stubSurveillance struct {
	insiders map[string]bool
}

func (s *stubSurveillance) IsInsider(_ context.Context, _, instrumentID string) (bool, error) {
	return s.insiders[instrumentID], nil
}

type stubFeeForge struct {
	rules gateway.MutualFundRules
}

func (s *stubFeeForge) GetMutualFundRules(_ context.Context, _ string) (*gateway.MutualFundRules, error) {
	rules := s.rules
	return &rules, nil
}

type fixture struct {
	clientOS     *stubClientOS
	complianceOS *stubComplianceOS
	custody      *stubCustody
	surveillance *stubSurveillance
	feeForge     *stubFeeForge
	journal      journal.Journal
	svc          *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	j, err := journal.NewFileJournal(filepath.Join(t.TempDir(), "worm.jsonl"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	f := &fixture{
		clientOS: &stubClientOS{
			gates: gateway.AccountGates{
				KYCCleared:     true,
				AMLCleared:     true,
				Suitability:    true,
				OptionsLevel:   3,
				MarginApproved: true,
			},
			wallets: map[string]bool{},
		},
		complianceOS: &stubComplianceOS{restricted: map[string]string{}},
		custody: &stubCustody{snapshot: gateway.CustodySnapshot{
			Cash:      decimal.RequireFromString("1000000"),
			Positions: map[string]decimal.Decimal{},
			Lots:      map[string][]decimal.Decimal{},
		}},
		surveillance: &stubSurveillance{insiders: map[string]bool{}},
		feeForge:     &stubFeeForge{rules: gateway.MutualFundRules{BreakpointEligible: true}},
		journal:      j,
	}
	f.svc = NewService(Deps{
		ClientOS:     f.clientOS,
		ComplianceOS: f.complianceOS,
		CustodySync:  f.custody,
		Surveillance: f.surveillance,
		FeeForge:     f.feeForge,
		Journal:      j,
	}, zaptest.NewLogger(t))
	return f
}

func ticket() model.OrderInput {
	limit := decimal.RequireFromString("100")
	return model.OrderInput{
		ClientID:     "cli-1",
		AccountID:    "ACC-1",
		TraderID:     "trd-1",
		Side:         model.SideBuy,
		InstrumentID: "AAPL",
		AssetClass:   model.AssetClassEquity,
		Qty:          decimal.RequireFromString("10"),
		PriceType:    model.PriceTypeLimit,
		LimitPrice:   &limit,
		TimeInForce:  model.TIFDay,
	}
}

func (f *fixture) order(t *testing.T, input model.OrderInput) *model.Order {
	t.Helper()
	order, err := f.svc.Hydrate(input, "ord-1", time.Now().UTC())
	require.NoError(t, err)
	return order
}

func TestEvaluateCleanOrderPasses(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Evaluate(context.Background(), f.order(t, ticket()))
	require.NoError(t, err)

	assert.True(t, res.Passed)
	assert.False(t, res.Gated)
	assert.Empty(t, res.Reasons)

	head, err := f.journal.Latest(context.Background())
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, "pretrade.check", head.Kind)
}

func TestEvaluateCollectsAllReasons(t *testing.T) {
	f := newFixture(t)
	f.clientOS.gates.KYCCleared = false
	f.clientOS.gates.Suitability = false
	f.complianceOS.snapshot.MarketingHold = true
	f.custody.snapshot.Cash = decimal.Zero

	res, err := f.svc.Evaluate(context.Background(), f.order(t, ticket()))
	require.NoError(t, err)

	assert.True(t, res.Gated)
	assert.ElementsMatch(t, []string{
		"KYC not cleared",
		"Suitability check failed",
		"Account on marketing hold",
		"Insufficient cash",
	}, res.Reasons)
}

func TestEvaluateOptionsLevel(t *testing.T) {
	f := newFixture(t)
	f.clientOS.gates.OptionsLevel = 1

	input := ticket()
	input.AssetClass = model.AssetClassOption
	res, err := f.svc.Evaluate(context.Background(), f.order(t, input))
	require.NoError(t, err)
	assert.Contains(t, res.Reasons, "Options level insufficient")

	input.Meta = map[string]any{"requiredOptionsLevel": 1}
	res, err = f.svc.Evaluate(context.Background(), f.order(t, input))
	require.NoError(t, err)
	assert.NotContains(t, res.Reasons, "Options level insufficient")
}

func TestEvaluateSellRequiresPosition(t *testing.T) {
	f := newFixture(t)
	input := ticket()
	input.Side = model.SideSell

	res, err := f.svc.Evaluate(context.Background(), f.order(t, input))
	require.NoError(t, err)
	assert.Contains(t, res.Reasons, "Insufficient position")

	f.custody.snapshot.Positions["AAPL"] = decimal.RequireFromString("10")
	res, err = f.svc.Evaluate(context.Background(), f.order(t, input))
	require.NoError(t, err)
	assert.NotContains(t, res.Reasons, "Insufficient position")
}

func TestEvaluateMarginWarningOnSell(t *testing.T) {
	f := newFixture(t)
	f.clientOS.gates.MarginApproved = false
	f.custody.snapshot.Positions["AAPL"] = decimal.RequireFromString("10")

	input := ticket()
	input.Side = model.SideSell
	res, err := f.svc.Evaluate(context.Background(), f.order(t, input))
	require.NoError(t, err)

	assert.True(t, res.Passed)
	assert.Contains(t, res.Warnings, "Margin not approved; order may fail locate")
}

func TestEvaluateRestrictedSymbol(t *testing.T) {
	f := newFixture(t)
	f.complianceOS.restricted["AAPL"] = "watch list"

	res, err := f.svc.Evaluate(context.Background(), f.order(t, ticket()))
	require.NoError(t, err)
	assert.Contains(t, res.Reasons, "Restricted symbol: watch list")
}

func TestEvaluateInsiderFlag(t *testing.T) {
	f := newFixture(t)
	f.surveillance.insiders["AAPL"] = true

	res, err := f.svc.Evaluate(context.Background(), f.order(t, ticket()))
	require.NoError(t, err)
	assert.Contains(t, res.Reasons, "Surveillance flagged insider")
}

func TestEvaluateSpecIDLots(t *testing.T) {
	f := newFixture(t)
	f.custody.snapshot.Positions["AAPL"] = decimal.RequireFromString("100")
	f.custody.snapshot.Lots["AAPL"] = []decimal.Decimal{decimal.RequireFromString("40")}

	input := ticket()
	input.Side = model.SideSell
	input.Meta = map[string]any{"lotMethod": "SPEC_ID", "lots": []string{"lot-1", "lot-2"}}
	res, err := f.svc.Evaluate(context.Background(), f.order(t, input))
	require.NoError(t, err)
	assert.Contains(t, res.Reasons, "Specified lots unavailable")

	input.Meta["lots"] = []string{"lot-1"}
	res, err = f.svc.Evaluate(context.Background(), f.order(t, input))
	require.NoError(t, err)
	assert.NotContains(t, res.Reasons, "Specified lots unavailable")
}

func TestEvaluateMutualFundPOP(t *testing.T) {
	f := newFixture(t)
	f.feeForge.rules.POPOnly = true

	input := ticket()
	input.AssetClass = model.AssetClassMutualFund
	res, err := f.svc.Evaluate(context.Background(), f.order(t, input))
	require.NoError(t, err)
	assert.Contains(t, res.Reasons, "Mutual fund must trade at POP")

	input.PriceType = model.PriceTypeMarket
	input.LimitPrice = nil
	input.Meta = map[string]any{"estimatedPrice": "100"}
	res, err = f.svc.Evaluate(context.Background(), f.order(t, input))
	require.NoError(t, err)
	assert.NotContains(t, res.Reasons, "Mutual fund must trade at POP")
}

func TestEvaluateCryptoWallet(t *testing.T) {
	f := newFixture(t)
	f.clientOS.wallets["0xabc"] = true

	input := ticket()
	input.AssetClass = model.AssetClassCrypto
	res, err := f.svc.Evaluate(context.Background(), f.order(t, input))
	require.NoError(t, err)
	assert.Contains(t, res.Reasons, "Crypto wallet missing")

	input.Meta = map[string]any{"walletAddress": "0xdead"}
	res, err = f.svc.Evaluate(context.Background(), f.order(t, input))
	require.NoError(t, err)
	assert.Contains(t, res.Reasons, "Wallet not whitelisted")

	input.Meta = map[string]any{"walletAddress": "0xabc"}
	res, err = f.svc.Evaluate(context.Background(), f.order(t, input))
	require.NoError(t, err)
	assert.True(t, res.Passed)
}

func TestHydrateRejectsBadTickets(t *testing.T) {
	f := newFixture(t)

	input := ticket()
	input.Side = "INVALID"
	_, err := f.svc.Hydrate(input, "ord-x", time.Now())
	assert.Error(t, err)

	input = ticket()
	input.Qty = decimal.Zero
	_, err = f.svc.Hydrate(input, "ord-x", time.Now())
	assert.Error(t, err)

	input = ticket()
	input.AssetClass = "FX"
	_, err = f.svc.Hydrate(input, "ord-x", time.Now())
	assert.Error(t, err)
}
