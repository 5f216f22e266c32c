// Package tradeos composes the order-management engines: pre-trade
// gating, block building, best-execution venue selection, routing,
// allocation, trade errors, confirms and the blotter. Every state
// transition lands in the WORM journal.
package tradeos

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/halcyonmarkets/tradeos/internal/journal"
	"github.com/halcyonmarkets/tradeos/internal/tradeos/allocation"
	"github.com/halcyonmarkets/tradeos/internal/tradeos/bestex"
	"github.com/halcyonmarkets/tradeos/internal/tradeos/blotter"
	"github.com/halcyonmarkets/tradeos/internal/tradeos/confirms"
	"github.com/halcyonmarkets/tradeos/internal/tradeos/gateway"
	"github.com/halcyonmarkets/tradeos/internal/tradeos/model"
	"github.com/halcyonmarkets/tradeos/internal/tradeos/pretrade"
	"github.com/halcyonmarkets/tradeos/internal/tradeos/routing"
	"github.com/halcyonmarkets/tradeos/internal/tradeos/tradeerror"
)

// ErrNoEligibleOrders means no NEW orders matched the block criteria.
var ErrNoEligibleOrders = errors.New("tradeos: no eligible orders for block build")

// Deps wires the external systems and the journal into the engine set.
type Deps struct {
	ClientOS     gateway.ClientOS
	ComplianceOS gateway.ComplianceOS
	CustodySync  gateway.CustodySync
	Surveillance gateway.SurveillanceHub
	FeeForge     gateway.FeeForge
	RegDesk      gateway.RegDesk
	Adapters     routing.Adapters
	Journal      journal.Journal

	// ConfirmDir is where confirm artifacts are written.
	ConfirmDir string
}

// BlockCriteria selects NEW orders for a block build. AssetClass is
// mandatory; the rest narrow the candidate set.
type BlockCriteria struct {
	AssetClass   model.AssetClass `json:"asset_class"`
	InstrumentID string           `json:"instrument_id,omitempty"`
	Side         model.OrderSide  `json:"side,omitempty"`
}

// RouteOptions carries the venue candidates and routing bounds for one
// block.
type RouteOptions struct {
	Venues         []model.VenueQuote
	Override       *bestex.Override
	MaxSlippageBps int
}

// TradeOS is the order-management facade. Orders and blocks live in
// memory; the journal is the system of record.
type TradeOS struct {
	preTrade    *pretrade.Service
	bestEx      *bestex.Engine
	router      *routing.Engine
	allocator   *allocation.Engine
	tradeErrors *tradeerror.Service
	confirms    *confirms.Service
	blotter     *blotter.Service

	journal journal.Journal
	logger  *zap.Logger

	mu     sync.Mutex
	orders map[string]*model.Order
	blocks map[string]*model.Block
}

// New assembles the engine set. It replays the journal to restore the
// trade-error registry.
func New(ctx context.Context, deps Deps, logger *zap.Logger) (*TradeOS, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	tradeErrors, err := tradeerror.NewService(ctx, deps.Journal, logger)
	if err != nil {
		return nil, err
	}
	return &TradeOS{
		preTrade: pretrade.NewService(pretrade.Deps{
			ClientOS:     deps.ClientOS,
			ComplianceOS: deps.ComplianceOS,
			CustodySync:  deps.CustodySync,
			Surveillance: deps.Surveillance,
			FeeForge:     deps.FeeForge,
			Journal:      deps.Journal,
		}, logger),
		bestEx:      bestex.NewEngine(deps.Journal, logger),
		router:      routing.NewEngine(deps.Adapters, deps.ComplianceOS, deps.Journal, logger),
		allocator:   allocation.NewEngine(deps.CustodySync, deps.Journal, logger),
		tradeErrors: tradeErrors,
		confirms:    confirms.NewService(deps.Journal, deps.RegDesk, deps.ConfirmDir, logger),
		blotter:     blotter.NewService(deps.Journal, logger),
		journal:     deps.Journal,
		logger:      logger,
		orders:      make(map[string]*model.Order),
		blocks:      make(map[string]*model.Block),
	}, nil
}

// CreateOrder hydrates and gates a ticket. Orders failing pre-trade
// come back HELD with their reasons attached; both outcomes are
// journaled.
func (t *TradeOS) CreateOrder(ctx context.Context, input model.OrderInput) (*model.Order, error) {
	order, err := t.preTrade.Hydrate(input, "ORD-"+uuid.NewString(), time.Now().UTC())
	if err != nil {
		return nil, err
	}

	if _, err := t.journal.Append(ctx, "order.created", map[string]any{
		"order_id":    order.ID,
		"account_id":  order.AccountID,
		"asset_class": order.AssetClass,
		"qty":         order.Qty.String(),
	}); err != nil {
		return nil, err
	}

	result, err := t.preTrade.Evaluate(ctx, order)
	if err != nil {
		return nil, err
	}
	if !result.Passed {
		order.Status = model.OrderStatusHeld
		order.HeldReasons = result.Reasons
		if _, err := t.journal.Append(ctx, "order.held", map[string]any{
			"order_id": order.ID,
			"reasons":  result.Reasons,
		}); err != nil {
			return nil, err
		}
	}

	t.mu.Lock()
	t.orders[order.ID] = order
	t.mu.Unlock()
	return order, nil
}

// CancelOrder marks an order cancelled and journals the transition.
func (t *TradeOS) CancelOrder(ctx context.Context, orderID string) (*model.Order, error) {
	t.mu.Lock()
	order, ok := t.orders[orderID]
	t.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("tradeos: order %s not found", orderID)
	}
	order.Status = model.OrderStatusCancelled
	if _, err := t.journal.Append(ctx, "order.cancelled", map[string]any{
		"order_id": orderID,
	}); err != nil {
		return nil, err
	}
	return order, nil
}

// ListOrders returns the working set in entry order. The blotter hashes
// its export, so the order must be stable.
func (t *TradeOS) ListOrders() []*model.Order {
	t.mu.Lock()
	defer t.mu.Unlock()
	orders := make([]*model.Order, 0, len(t.orders))
	for _, order := range t.orders {
		orders = append(orders, order)
	}
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID < orders[j].ID
		}
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
	return orders
}

// GetOrder looks up one order.
func (t *TradeOS) GetOrder(orderID string) (*model.Order, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	order, ok := t.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("tradeos: order %s not found", orderID)
	}
	return order, nil
}

// BuildBlock stages all matching NEW orders into one block and marks
// them ROUTED.
func (t *TradeOS) BuildBlock(ctx context.Context, criteria BlockCriteria) (*model.Block, error) {
	t.mu.Lock()
	var candidates []*model.Order
	for _, order := range t.orders {
		if order.Status != model.OrderStatusNew {
			continue
		}
		if criteria.AssetClass != "" && order.AssetClass != criteria.AssetClass {
			continue
		}
		if criteria.InstrumentID != "" && order.InstrumentID != criteria.InstrumentID {
			continue
		}
		if criteria.Side != "" && order.Side != criteria.Side {
			continue
		}
		candidates = append(candidates, order)
	}
	if len(candidates) == 0 {
		t.mu.Unlock()
		return nil, ErrNoEligibleOrders
	}
	// Entry order decides fill-back priority, so the block must not
	// inherit map iteration order.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].ID < candidates[j].ID
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	totalQty := decimal.Zero
	orderIDs := make([]string, 0, len(candidates))
	for _, order := range candidates {
		totalQty = totalQty.Add(order.Qty)
		orderIDs = append(orderIDs, order.ID)
	}

	block := &model.Block{
		ID:           "BLK-" + uuid.NewString(),
		AssetClass:   candidates[0].AssetClass,
		InstrumentID: candidates[0].InstrumentID,
		Side:         candidates[0].Side,
		TotalQty:     totalQty,
		Status:       model.BlockStatusStaged,
		OrderIDs:     orderIDs,
		CreatedAt:    time.Now().UTC(),
		Executions:   []model.Execution{},
	}
	for _, order := range candidates {
		order.BlockID = block.ID
		order.Status = model.OrderStatusRouted
	}
	t.blocks[block.ID] = block
	t.mu.Unlock()

	if _, err := t.journal.Append(ctx, "block.built", map[string]any{
		"block_id":  block.ID,
		"orders":    block.OrderIDs,
		"total_qty": block.TotalQty.String(),
	}); err != nil {
		return nil, err
	}
	return block, nil
}

// GetBlock looks up one block.
func (t *TradeOS) GetBlock(blockID string) (*model.Block, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	block, ok := t.blocks[blockID]
	if !ok {
		return nil, fmt.Errorf("tradeos: block %s not found", blockID)
	}
	return block, nil
}

// RouteBlock selects a venue, routes the block and fills executions
// back onto the member orders FIFO. A block with executions already
// recorded is returned unchanged.
func (t *TradeOS) RouteBlock(ctx context.Context, blockID string, options RouteOptions) (*model.Block, error) {
	block, err := t.GetBlock(blockID)
	if err != nil {
		return nil, err
	}
	if len(block.Executions) > 0 {
		return block, nil
	}
	orders, err := t.blockOrders(block)
	if err != nil {
		return nil, err
	}

	record, err := t.bestEx.SelectVenue(ctx, bestex.Request{
		Block:    block,
		Venues:   options.Venues,
		Override: options.Override,
	})
	if err != nil {
		return nil, err
	}
	block.BestEx = record

	decision, err := t.router.Route(ctx, block, orders, record.Chosen, options.MaxSlippageBps)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	block.Executions = decision.Executions
	t.recordExecutions(block, orders, decision.Executions)
	block.Status = deriveBlockStatus(block, decision.Executions)
	t.mu.Unlock()

	return block, nil
}

// AllocateBlock disaggregates a routed block to its member orders.
func (t *TradeOS) AllocateBlock(ctx context.Context, blockID string, method model.AllocationMethod) (*allocation.Result, error) {
	block, err := t.GetBlock(blockID)
	if err != nil {
		return nil, err
	}
	orders, err := t.blockOrders(block)
	if err != nil {
		return nil, err
	}
	if method == "" {
		method = model.AllocProRata
	}
	result, err := t.allocator.Allocate(ctx, block, orders, method)
	if err != nil {
		return nil, err
	}
	block.Status = model.BlockStatusAllocated
	return result, nil
}

// OpenTradeError segregates a mis-executed trade.
func (t *TradeOS) OpenTradeError(ctx context.Context, in tradeerror.OpenInput) (*model.TradeErrorItem, error) {
	return t.tradeErrors.Open(ctx, in)
}

// CloseTradeError applies a four-eyes closure.
func (t *TradeOS) CloseTradeError(ctx context.Context, id string, in tradeerror.CloseInput) (*model.TradeErrorItem, error) {
	return t.tradeErrors.Close(ctx, id, in)
}

// TradeErrors lists open and closed items.
func (t *TradeOS) TradeErrors() []*model.TradeErrorItem {
	return t.tradeErrors.List()
}

// GenerateConfirm builds the confirmation artifact for a filled order.
func (t *TradeOS) GenerateConfirm(ctx context.Context, orderID string) (*model.Confirm, error) {
	order, err := t.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	return t.confirms.Generate(ctx, order)
}

// ExportBlotter writes the filtered blotter artifact.
func (t *TradeOS) ExportBlotter(ctx context.Context, filter blotter.Filter, path string) (*blotter.Result, error) {
	return t.blotter.Export(ctx, t.ListOrders(), filter, path)
}

func (t *TradeOS) blockOrders(block *model.Block) ([]*model.Order, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	orders := make([]*model.Order, 0, len(block.OrderIDs))
	for _, id := range block.OrderIDs {
		order, ok := t.orders[id]
		if !ok {
			return nil, fmt.Errorf("tradeos: order %s not found", id)
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// recordExecutions distributes block executions onto member orders in
// block order, first-come first-filled, and advances order statuses.
func (t *TradeOS) recordExecutions(block *model.Block, orders []*model.Order, executions []model.Execution) {
	for _, exec := range executions {
		remaining := exec.Qty
		for _, order := range orders {
			if remaining.IsZero() {
				break
			}
			orderRemaining := order.Qty.Sub(order.FilledQty())
			if orderRemaining.IsZero() {
				continue
			}
			fillQty := decimal.Min(orderRemaining, remaining)
			remaining = remaining.Sub(fillQty)

			fill := exec
			fill.OrderID = order.ID
			fill.Qty = fillQty
			order.Executions = append(order.Executions, fill)

			postFill := order.FilledQty()
			if postFill.Equal(order.Qty) {
				order.Status = model.OrderStatusFilled
			} else if postFill.IsPositive() {
				order.Status = model.OrderStatusPartial
			}
		}
	}
}

func deriveBlockStatus(block *model.Block, executions []model.Execution) model.BlockStatus {
	if len(executions) == 0 {
		return block.Status
	}
	totalExecQty := decimal.Zero
	for _, exec := range executions {
		totalExecQty = totalExecQty.Add(exec.Qty)
	}
	if totalExecQty.GreaterThanOrEqual(block.TotalQty) {
		return model.BlockStatusFilled
	}
	return model.BlockStatusRouted
}
