// Package routing dispatches a staged block to its asset-class execution
// adapter after batch compliance gating, and journals every execution.
package routing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/halcyonmarkets/tradeos/internal/journal"
	"github.com/halcyonmarkets/tradeos/internal/tradeos/gateway"
	"github.com/halcyonmarkets/tradeos/internal/tradeos/model"
)

var (
	// ErrIPOCoolingOff blocks primary-market symbols inside the
	// cooling-off window unless the order runs in IOI/tombstone mode.
	ErrIPOCoolingOff = errors.New("IPO_COOLING_OFF")
	// ErrRestrictedInstrument blocks account-restricted symbols.
	ErrRestrictedInstrument = errors.New("RESTRICTED_INSTRUMENT")
	// ErrUnsupportedAssetClass marks a classification failure.
	ErrUnsupportedAssetClass = errors.New("UNSUPPORTED_ASSET_CLASS")
	// ErrUnknownVenueProtocol marks an unparseable crypto venue.
	ErrUnknownVenueProtocol = errors.New("UNKNOWN_VENUE_PROTOCOL")
)

// Adapter executes a block on a single-venue asset class desk.
type Adapter interface {
	Execute(ctx context.Context, block *model.Block) ([]model.Execution, error)
}

// AdapterFunc adapts a function to the Adapter interface.
type AdapterFunc func(ctx context.Context, block *model.Block) ([]model.Execution, error)

// Execute implements Adapter.
func (f AdapterFunc) Execute(ctx context.Context, block *model.Block) ([]model.Execution, error) {
	return f(ctx, block)
}

// RFQResult is the outcome of a crypto request-for-quote sweep.
type RFQResult struct {
	Execution model.Execution
	Quotes    []RFQQuote
}

// RFQQuote is a single dealer response.
type RFQQuote struct {
	Venue string          `json:"venue"`
	Price decimal.Decimal `json:"price"`
}

// DEXResult is the outcome of an on-chain swap.
type DEXResult struct {
	Execution model.Execution
	Route     string
}

// CryptoAdapters executes crypto blocks over RFQ or DEX with a
// caller-supplied slippage bound.
type CryptoAdapters interface {
	RFQ(ctx context.Context, block *model.Block, maxSlippageBps int) (*RFQResult, error)
	DEX(ctx context.Context, block *model.Block, maxSlippageBps int) (*DEXResult, error)
}

// Adapters binds every asset class to its execution desk.
type Adapters struct {
	Equity     Adapter
	ETF        Adapter
	MutualFund Adapter
	Option     Adapter
	Bond       Adapter
	Crypto     CryptoAdapters
}

// Decision is the routing outcome for a block.
type Decision struct {
	Venue      string
	Executions []model.Execution
}

// Engine routes blocks. It is idempotent per block: a block with
// executions already recorded is never re-dispatched.
type Engine struct {
	adapters   Adapters
	compliance gateway.ComplianceOS
	journal    journal.Journal
	logger     *zap.Logger

	// DefaultMaxSlippageBps bounds crypto executions when the caller
	// does not supply one.
	DefaultMaxSlippageBps int
}

// NewEngine returns a routing engine.
func NewEngine(adapters Adapters, compliance gateway.ComplianceOS, j journal.Journal, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		adapters:              adapters,
		compliance:            compliance,
		journal:               j,
		logger:                logger,
		DefaultMaxSlippageBps: 50,
	}
}

// Route gates every order in the batch, dispatches the block to its
// asset-class adapter and journals the executions. Gating runs for all
// orders before any execution is attempted, so a block that should be
// blocked is never partially routed. maxSlippageBps bounds crypto
// executions; zero falls back to the engine default.
func (e *Engine) Route(ctx context.Context, block *model.Block, orders []*model.Order, venue string, maxSlippageBps int) (*Decision, error) {
	if len(block.Executions) > 0 {
		return &Decision{Venue: venue, Executions: block.Executions}, nil
	}

	if err := e.gateOrders(ctx, orders); err != nil {
		return nil, err
	}

	if maxSlippageBps <= 0 {
		maxSlippageBps = e.DefaultMaxSlippageBps
	}
	executions, err := e.dispatch(ctx, block, venue, maxSlippageBps)
	if err != nil {
		return nil, err
	}

	for _, exec := range executions {
		if _, err := e.journal.Append(ctx, "order.execution", map[string]any{
			"block_id": block.ID,
			"exec_id":  exec.ExecID,
			"venue":    exec.Venue,
			"qty":      exec.Qty.String(),
			"price":    exec.Price.String(),
		}); err != nil {
			return nil, err
		}
	}
	if _, err := e.journal.Append(ctx, "block.routed", map[string]any{
		"block_id":   block.ID,
		"venue":      venue,
		"executions": len(executions),
	}); err != nil {
		return nil, err
	}

	e.logger.Info("block routed",
		zap.String("block_id", block.ID),
		zap.String("venue", venue),
		zap.Int("executions", len(executions)))
	return &Decision{Venue: venue, Executions: executions}, nil
}

// gateOrders consults the compliance snapshot for every order in the
// batch. Any violation fails the whole block.
func (e *Engine) gateOrders(ctx context.Context, orders []*model.Order) error {
	now := time.Now()
	for _, order := range orders {
		snapshot, err := e.compliance.GetSnapshot(ctx, order.AccountID, order.InstrumentID)
		if err != nil {
			return fmt.Errorf("compliance snapshot for %s: %w", order.AccountID, err)
		}
		if window, ok := snapshot.IPOCoolingOff[order.InstrumentID]; ok && now.Before(window.EffectiveDate) {
			if !indicationOfInterest(order) {
				return fmt.Errorf("%w: order %s instrument %s", ErrIPOCoolingOff, order.ID, order.InstrumentID)
			}
		}
		if snapshot.Restricted(order.InstrumentID) {
			return fmt.Errorf("%w: order %s instrument %s", ErrRestrictedInstrument, order.ID, order.InstrumentID)
		}
	}
	return nil
}

// indicationOfInterest reports whether the order's declared primary
// market mode exempts it from the cooling-off gate.
func indicationOfInterest(order *model.Order) bool {
	mode, _ := order.Meta["primaryMarketMode"].(string)
	switch strings.ToUpper(mode) {
	case "IOI", "TOMBSTONE":
		return true
	}
	return false
}

// dispatch is a pure switch over the closed asset-class enum.
func (e *Engine) dispatch(ctx context.Context, block *model.Block, venue string, maxSlippageBps int) ([]model.Execution, error) {
	switch block.AssetClass {
	case model.AssetClassEquity:
		return e.adapters.Equity.Execute(ctx, block)
	case model.AssetClassETF:
		return e.adapters.ETF.Execute(ctx, block)
	case model.AssetClassMutualFund:
		return e.adapters.MutualFund.Execute(ctx, block)
	case model.AssetClassOption:
		return e.adapters.Option.Execute(ctx, block)
	case model.AssetClassBond:
		return e.adapters.Bond.Execute(ctx, block)
	case model.AssetClassCrypto:
		return e.dispatchCrypto(ctx, block, venue, maxSlippageBps)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedAssetClass, block.AssetClass)
}

func (e *Engine) dispatchCrypto(ctx context.Context, block *model.Block, venue string, maxSlippageBps int) ([]model.Execution, error) {
	cv, err := model.ParseCryptoVenue(venue)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownVenueProtocol, err)
	}
	switch cv.Protocol {
	case model.VenueProtocolRFQ:
		result, err := e.adapters.Crypto.RFQ(ctx, block, maxSlippageBps)
		if err != nil {
			return nil, err
		}
		return []model.Execution{result.Execution}, nil
	case model.VenueProtocolDEX:
		result, err := e.adapters.Crypto.DEX(ctx, block, maxSlippageBps)
		if err != nil {
			return nil, err
		}
		return []model.Execution{result.Execution}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownVenueProtocol, cv.Protocol)
}
