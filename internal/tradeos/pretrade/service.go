// Package pretrade runs the gate battery every order passes before it
// can be staged into a block. Hard failures hold the order; warnings
// travel with it.
package pretrade

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/halcyonmarkets/tradeos/internal/journal"
	"github.com/halcyonmarkets/tradeos/internal/tradeos/gateway"
	"github.com/halcyonmarkets/tradeos/internal/tradeos/model"
)

// Result is the outcome of a full gate evaluation. Reasons block the
// order; warnings are advisory only.
type Result struct {
	Passed   bool     `json:"passed"`
	Gated    bool     `json:"gated"`
	Reasons  []string `json:"reasons"`
	Warnings []string `json:"warnings"`
}

// Deps are the external systems the gate battery consults.
type Deps struct {
	ClientOS     gateway.ClientOS
	ComplianceOS gateway.ComplianceOS
	CustodySync  gateway.CustodySync
	Surveillance gateway.SurveillanceHub
	FeeForge     gateway.FeeForge
	Journal      journal.Journal
}

// Service validates and gates orders.
type Service struct {
	deps     Deps
	validate *validator.Validate
	logger   *zap.Logger
}

// NewService returns a pre-trade gate service.
func NewService(deps Deps, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{deps: deps, validate: validator.New(), logger: logger}
}

// hydrateInput is the shape the validator enforces on raw tickets.
type hydrateInput struct {
	ClientID     string `validate:"required"`
	AccountID    string `validate:"required"`
	TraderID     string `validate:"required"`
	Side         string `validate:"required,oneof=BUY SELL SELL_SHORT BUY_TO_OPEN SELL_TO_CLOSE"`
	InstrumentID string `validate:"required"`
	PriceType    string `validate:"required,oneof=MKT LMT STOP STOP_LIMIT"`
	TimeInForce  string `validate:"required,oneof=DAY GTC IOC FOK"`
}

// Hydrate validates a raw ticket and produces a NEW order.
func (s *Service) Hydrate(input model.OrderInput, id string, createdAt time.Time) (*model.Order, error) {
	shape := hydrateInput{
		ClientID:     input.ClientID,
		AccountID:    input.AccountID,
		TraderID:     input.TraderID,
		Side:         string(input.Side),
		InstrumentID: input.InstrumentID,
		PriceType:    string(input.PriceType),
		TimeInForce:  string(input.TimeInForce),
	}
	if err := s.validate.Struct(shape); err != nil {
		return nil, fmt.Errorf("pretrade: invalid order input: %w", err)
	}
	if _, err := model.ParseAssetClass(string(input.AssetClass)); err != nil {
		return nil, fmt.Errorf("pretrade: %w", err)
	}
	if !input.Qty.IsPositive() {
		return nil, fmt.Errorf("pretrade: quantity must be positive, got %s", input.Qty)
	}
	return &model.Order{
		OrderInput: input,
		ID:         id,
		Status:     model.OrderStatusNew,
		Executions: []model.Execution{},
		CreatedAt:  createdAt,
	}, nil
}

// Evaluate runs every gate, journals the outcome and returns it. All
// gates run even after the first failure so the hold reasons are
// complete.
func (s *Service) Evaluate(ctx context.Context, order *model.Order) (*Result, error) {
	var reasons, warnings []string

	gates, err := s.deps.ClientOS.GetAccountGates(ctx, order.AccountID)
	if err != nil {
		return nil, fmt.Errorf("pretrade: account gates: %w", err)
	}
	if !gates.KYCCleared {
		reasons = append(reasons, "KYC not cleared")
	}
	if !gates.AMLCleared {
		reasons = append(reasons, "AML not cleared")
	}
	if !gates.Suitability {
		reasons = append(reasons, "Suitability check failed")
	}
	if order.AssetClass == model.AssetClassOption && gates.OptionsLevel < requiredOptionsLevel(order) {
		reasons = append(reasons, "Options level insufficient")
	}
	if (order.Side == model.SideSellShort || order.Side == model.SideSell) && !gates.MarginApproved {
		warnings = append(warnings, "Margin not approved; order may fail locate")
	}

	compliance, err := s.deps.ComplianceOS.GetSnapshot(ctx, order.AccountID, order.InstrumentID)
	if err != nil {
		return nil, fmt.Errorf("pretrade: compliance snapshot: %w", err)
	}
	if compliance.MarketingHold {
		reasons = append(reasons, "Account on marketing hold")
	}
	if compliance.AMLFlag {
		reasons = append(reasons, "Account AML flagged")
	}
	if compliance.RequiresU4Amendment {
		warnings = append(warnings, "Rep pending U4 amendment")
	}

	restricted, reason, err := s.deps.ComplianceOS.IsSymbolRestricted(ctx, order.InstrumentID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("pretrade: restriction lookup: %w", err)
	}
	if restricted {
		if reason == "" {
			reason = "policy"
		}
		reasons = append(reasons, "Restricted symbol: "+reason)
	}

	insider, err := s.deps.Surveillance.IsInsider(ctx, order.AccountID, order.InstrumentID)
	if err != nil {
		return nil, fmt.Errorf("pretrade: insider lookup: %w", err)
	}
	if insider {
		reasons = append(reasons, "Surveillance flagged insider")
	}

	custody, err := s.deps.CustodySync.GetSnapshot(ctx, order.AccountID, order.InstrumentID)
	if err != nil {
		return nil, fmt.Errorf("pretrade: custody snapshot: %w", err)
	}
	if order.Side.IsSell() {
		position := custody.Positions[order.InstrumentID]
		if position.LessThan(order.Qty) {
			reasons = append(reasons, "Insufficient position")
		}
	} else {
		if custody.Cash.LessThan(s.estimateNotional(order)) {
			reasons = append(reasons, "Insufficient cash")
		}
	}

	if lotMethod, _ := order.Meta["lotMethod"].(string); lotMethod == "SPEC_ID" {
		requested := specifiedLots(order.Meta["lots"])
		available := len(custody.Lots[order.InstrumentID])
		if requested == 0 || available < requested {
			reasons = append(reasons, "Specified lots unavailable")
		}
	}

	if washSale, _ := order.Meta["washSaleCandidate"].(bool); washSale && order.Side.IsSell() {
		warnings = append(warnings, "Potential wash sale")
	}

	if order.AssetClass == model.AssetClassMutualFund {
		rules, err := s.deps.FeeForge.GetMutualFundRules(ctx, order.InstrumentID)
		if err != nil {
			return nil, fmt.Errorf("pretrade: mutual fund rules: %w", err)
		}
		if rules.POPOnly && order.PriceType != model.PriceTypeMarket {
			reasons = append(reasons, "Mutual fund must trade at POP")
		}
		if breakpoint, _ := order.Meta["breakpointRequest"].(bool); breakpoint && !rules.BreakpointEligible {
			warnings = append(warnings, "Breakpoint requested but ineligible")
		}
	}

	if order.AssetClass == model.AssetClassCrypto {
		wallet, _ := order.Meta["walletAddress"].(string)
		if strings.TrimSpace(wallet) == "" {
			reasons = append(reasons, "Crypto wallet missing")
		} else {
			verified, err := s.deps.ClientOS.VerifyWallet(ctx, order.AccountID, wallet)
			if err != nil {
				return nil, fmt.Errorf("pretrade: wallet verify: %w", err)
			}
			if !verified {
				reasons = append(reasons, "Wallet not whitelisted")
			}
		}
	}

	if _, err := s.deps.Journal.Append(ctx, "pretrade.check", map[string]any{
		"order_id":   order.ID,
		"account_id": order.AccountID,
		"reasons":    reasons,
		"warnings":   warnings,
	}); err != nil {
		return nil, err
	}

	if len(reasons) > 0 {
		s.logger.Info("order gated",
			zap.String("order_id", order.ID),
			zap.Strings("reasons", reasons))
	}
	return &Result{
		Passed:   len(reasons) == 0,
		Gated:    len(reasons) > 0,
		Reasons:  reasons,
		Warnings: warnings,
	}, nil
}

func requiredOptionsLevel(order *model.Order) int {
	if raw, ok := order.Meta["requiredOptionsLevel"]; ok {
		switch v := raw.(type) {
		case int:
			return v
		case float64:
			return int(v)
		}
	}
	return 2
}

func specifiedLots(raw any) int {
	switch lots := raw.(type) {
	case []string:
		return len(lots)
	case []any:
		return len(lots)
	}
	return 0
}

// estimateNotional approximates the cash a buy would consume. Market
// orders use the price hint from the ticket when present.
func (s *Service) estimateNotional(order *model.Order) decimal.Decimal {
	if order.PriceType == model.PriceTypeMarket {
		if hint, ok := metaDecimal(order.Meta["estimatedPrice"]); ok {
			return hint.Mul(order.Qty)
		}
	}
	if order.LimitPrice != nil {
		return order.LimitPrice.Mul(order.Qty)
	}
	if hint, ok := metaDecimal(order.Meta["notionalHint"]); ok {
		return hint.Mul(order.Qty)
	}
	return decimal.Zero
}

func metaDecimal(raw any) (decimal.Decimal, bool) {
	switch v := raw.(type) {
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case float64:
		return decimal.NewFromFloat(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case decimal.Decimal:
		return v, true
	}
	return decimal.Zero, false
}
