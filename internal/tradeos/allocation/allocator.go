// Package allocation splits a filled block's quantity across its client
// orders with exact conservation: the last order receives the running
// remainder, so rounding can never leak quantity.
package allocation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/halcyonmarkets/tradeos/internal/journal"
	"github.com/halcyonmarkets/tradeos/internal/tradeos/gateway"
	"github.com/halcyonmarkets/tradeos/internal/tradeos/model"
)

const proRataScale = 4

var (
	// ErrNoExecutions rejects allocation of an unfilled block.
	ErrNoExecutions = errors.New("NO_EXECUTIONS")
	// ErrZeroOrderQty rejects a batch with no quantity to allocate.
	ErrZeroOrderQty = errors.New("ZERO_ORDER_QTY")
	// ErrUnsupportedMethod marks an unknown allocation method.
	ErrUnsupportedMethod = errors.New("UNSUPPORTED_ALLOCATION_METHOD")
)

// PartialError reports a custody-sync failure after some allocations
// were already applied. There is no rollback: recovery is replaying the
// remaining orders against the same block, relying on custody-layer
// idempotency.
type PartialError struct {
	BlockID string
	Applied int
	Err     error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("allocation of block %s failed after %d orders applied: %v", e.BlockID, e.Applied, e.Err)
}

func (e *PartialError) Unwrap() error {
	return e.Err
}

// Result carries the allocations produced for one block.
type Result struct {
	Allocations []model.Allocation
	AvgPrice    decimal.Decimal
}

// Engine performs block disaggregation.
type Engine struct {
	custody gateway.CustodySync
	journal journal.Journal
	logger  *zap.Logger

	// LotSize is the ROUND_LOT unit. Defaults to 1 (whole units).
	LotSize decimal.Decimal
}

// NewEngine returns an allocation engine.
func NewEngine(custody gateway.CustodySync, j journal.Journal, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{custody: custody, journal: j, logger: logger, LotSize: decimal.NewFromInt(1)}
}

// Allocate computes each order's share of the block at a single
// execution-weighted average price and pushes the signed position and
// cash deltas to custody, sequentially and in input order. The custody
// loop is deliberately not transactional; a mid-loop failure surfaces as
// *PartialError and is journaled.
func (e *Engine) Allocate(ctx context.Context, block *model.Block, orders []*model.Order, method model.AllocationMethod) (*Result, error) {
	if len(block.Executions) == 0 {
		return nil, fmt.Errorf("%w: block %s", ErrNoExecutions, block.ID)
	}
	switch method {
	case model.AllocProRata, model.AllocRoundLot:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}

	totalOrderQty := decimal.Zero
	for _, order := range orders {
		totalOrderQty = totalOrderQty.Add(order.Qty)
	}
	if totalOrderQty.IsZero() {
		return nil, fmt.Errorf("%w: block %s", ErrZeroOrderQty, block.ID)
	}

	totalExecQty, avgPrice := weightedAverage(block.Executions)

	allocations := make([]model.Allocation, 0, len(orders))
	remainder := totalExecQty
	for i, order := range orders {
		var share decimal.Decimal
		if i == len(orders)-1 {
			// Exact conservation: the last order absorbs all rounding.
			share = remainder
		} else {
			share = e.share(totalExecQty, order.Qty, totalOrderQty, method)
		}
		remainder = remainder.Sub(share)

		signedQty := share
		if order.Side.IsSell() {
			signedQty = signedQty.Neg()
		}
		cashDelta := avgPrice.Mul(signedQty).Neg()

		if err := e.custody.UpdatePosition(ctx, gateway.PositionUpdate{
			AccountID:    order.AccountID,
			InstrumentID: order.InstrumentID,
			Quantity:     signedQty,
			AvgPrice:     avgPrice,
			CashDelta:    cashDelta,
		}); err != nil {
			partial := &PartialError{BlockID: block.ID, Applied: i, Err: err}
			if _, jerr := e.journal.Append(ctx, "block.allocation_failed", map[string]any{
				"block_id": block.ID,
				"method":   string(method),
				"applied":  i,
				"reason":   err.Error(),
			}); jerr != nil {
				e.logger.Error("failed to journal partial allocation", zap.Error(jerr))
			}
			return nil, partial
		}

		allocations = append(allocations, model.Allocation{
			ID:        "ALC-" + uuid.NewString(),
			BlockID:   block.ID,
			AccountID: order.AccountID,
			OrderID:   order.ID,
			Qty:       share,
			AvgPrice:  avgPrice,
			Method:    method,
			Status:    model.AllocationPosted,
		})
	}

	if _, err := e.journal.Append(ctx, "block.allocated", map[string]any{
		"block_id":    block.ID,
		"method":      string(method),
		"allocations": len(allocations),
		"avg_price":   avgPrice.String(),
	}); err != nil {
		return nil, err
	}

	e.logger.Info("block allocated",
		zap.String("block_id", block.ID),
		zap.String("method", string(method)),
		zap.Int("allocations", len(allocations)))
	return &Result{Allocations: allocations, AvgPrice: avgPrice}, nil
}

// share computes an order's raw pro-rata portion of the executed
// quantity, rounded per method. PRO_RATA uses banker's rounding at four
// decimal places; ROUND_LOT floors to whole lots.
func (e *Engine) share(totalExecQty, orderQty, totalOrderQty decimal.Decimal, method model.AllocationMethod) decimal.Decimal {
	raw := totalExecQty.Mul(orderQty).Div(totalOrderQty)
	if method == model.AllocRoundLot {
		return raw.Div(e.LotSize).Floor().Mul(e.LotSize)
	}
	return raw.RoundBank(proRataScale)
}

// weightedAverage returns the total executed quantity and the single
// quantity-weighted average price used for every allocation in the
// block.
func weightedAverage(executions []model.Execution) (decimal.Decimal, decimal.Decimal) {
	totalQty := decimal.Zero
	notional := decimal.Zero
	for _, ex := range executions {
		totalQty = totalQty.Add(ex.Qty)
		notional = notional.Add(ex.Qty.Mul(ex.Price))
	}
	if totalQty.IsZero() {
		return totalQty, decimal.Zero
	}
	return totalQty, notional.Div(totalQty)
}
