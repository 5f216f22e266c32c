// Package model defines the domain types shared across the trade
// operations engines: orders, blocks, executions, allocations,
// best-execution records and trade errors.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AssetClass is a closed enumeration; routing dispatch is exhaustive
// over these values and anything else is a classification error.
type AssetClass string

const (
	AssetClassEquity     AssetClass = "EQUITY"
	AssetClassETF        AssetClass = "ETF"
	AssetClassMutualFund AssetClass = "MUTUAL_FUND"
	AssetClassOption     AssetClass = "OPTION"
	AssetClassBond       AssetClass = "BOND"
	AssetClassCrypto     AssetClass = "CRYPTO"
)

// ParseAssetClass validates a raw asset class string at the edge.
func ParseAssetClass(raw string) (AssetClass, error) {
	ac := AssetClass(strings.ToUpper(raw))
	switch ac {
	case AssetClassEquity, AssetClassETF, AssetClassMutualFund,
		AssetClassOption, AssetClassBond, AssetClassCrypto:
		return ac, nil
	}
	return "", fmt.Errorf("unsupported asset class %q", raw)
}

// OrderSide covers client order directions.
type OrderSide string

const (
	SideBuy         OrderSide = "BUY"
	SideSell        OrderSide = "SELL"
	SideSellShort   OrderSide = "SELL_SHORT"
	SideBuyToOpen   OrderSide = "BUY_TO_OPEN"
	SideSellToClose OrderSide = "SELL_TO_CLOSE"
)

// IsSell reports whether the side reduces a position. Allocation signs
// quantities and trade-error PnL direction off this.
func (s OrderSide) IsSell() bool {
	return s == SideSell || s == SideSellShort || s == SideSellToClose
}

// PriceType mirrors the order ticket price instruction.
type PriceType string

const (
	PriceTypeMarket    PriceType = "MKT"
	PriceTypeLimit     PriceType = "LMT"
	PriceTypeStop      PriceType = "STOP"
	PriceTypeStopLimit PriceType = "STOP_LIMIT"
)

// TimeInForce options.
type TimeInForce string

const (
	TIFDay TimeInForce = "DAY"
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
	TIFFOK TimeInForce = "FOK"
)

// OrderStatus lifecycle values.
type OrderStatus string

const (
	OrderStatusNew       OrderStatus = "NEW"
	OrderStatusHeld      OrderStatus = "HELD"
	OrderStatusRouted    OrderStatus = "ROUTED"
	OrderStatusPartial   OrderStatus = "PARTIAL"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
)

// OrderInput is the client-facing unit before hydration.
type OrderInput struct {
	ClientID     string           `json:"client_id"`
	AccountID    string           `json:"account_id"`
	TraderID     string           `json:"trader_id"`
	Side         OrderSide        `json:"side"`
	InstrumentID string           `json:"instrument_id"`
	AssetClass   AssetClass       `json:"asset_class"`
	Qty          decimal.Decimal  `json:"qty"`
	PriceType    PriceType        `json:"price_type"`
	LimitPrice   *decimal.Decimal `json:"limit_price,omitempty"`
	TimeInForce  TimeInForce      `json:"time_in_force"`
	RoutePref    string           `json:"route_pref,omitempty"`
	Meta         map[string]any   `json:"meta,omitempty"`
}

// Order is a hydrated client order. Many orders map onto one block.
type Order struct {
	OrderInput
	ID          string      `json:"id"`
	Status      OrderStatus `json:"status"`
	HeldReasons []string    `json:"held_reasons,omitempty"`
	Executions  []Execution `json:"executions"`
	BlockID     string      `json:"block_id,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// FilledQty is the sum of execution quantities booked to the order.
func (o *Order) FilledQty() decimal.Decimal {
	total := decimal.Zero
	for _, ex := range o.Executions {
		total = total.Add(ex.Qty)
	}
	return total
}

// Execution is a single immutable fill.
type Execution struct {
	ID      string           `json:"id"`
	OrderID string           `json:"order_id,omitempty"`
	Venue   string           `json:"venue"`
	ExecID  string           `json:"exec_id"`
	Qty     decimal.Decimal  `json:"qty"`
	Price   decimal.Decimal  `json:"price"`
	TS      time.Time        `json:"ts"`
	Fees    *decimal.Decimal `json:"fees,omitempty"`
	Meta    map[string]any   `json:"meta,omitempty"`
}

// BlockStatus lifecycle values.
type BlockStatus string

const (
	BlockStatusStaged    BlockStatus = "STAGED"
	BlockStatusRouted    BlockStatus = "ROUTED"
	BlockStatusFilled    BlockStatus = "FILLED"
	BlockStatusAllocated BlockStatus = "ALLOCATED"
	BlockStatusClosed    BlockStatus = "CLOSED"
)

// Block aggregates client orders into one execution unit. It is mutated
// once, when routing populates Executions, and immutable afterward.
type Block struct {
	ID           string          `json:"id"`
	AssetClass   AssetClass      `json:"asset_class"`
	InstrumentID string          `json:"instrument_id"`
	Side         OrderSide       `json:"side"`
	TotalQty     decimal.Decimal `json:"total_qty"`
	Status       BlockStatus     `json:"status"`
	OrderIDs     []string        `json:"order_ids"`
	CreatedAt    time.Time       `json:"created_at"`
	Executions   []Execution     `json:"executions"`
	BestEx       *BestExRecord   `json:"bestex_record,omitempty"`
}

// ExecutedQty is the sum of the block's execution quantities.
func (b *Block) ExecutedQty() decimal.Decimal {
	total := decimal.Zero
	for _, ex := range b.Executions {
		total = total.Add(ex.Qty)
	}
	return total
}

// AllocationMethod selects the disaggregation arithmetic.
type AllocationMethod string

const (
	AllocProRata  AllocationMethod = "PRO_RATA"
	AllocRoundLot AllocationMethod = "ROUND_LOT"
)

// AllocationStatus lifecycle values.
type AllocationStatus string

const (
	AllocationPending AllocationStatus = "PENDING"
	AllocationPosted  AllocationStatus = "POSTED"
)

// Allocation is one client order's share of a filled block.
type Allocation struct {
	ID        string           `json:"id"`
	BlockID   string           `json:"block_id"`
	AccountID string           `json:"account_id"`
	OrderID   string           `json:"order_id"`
	Qty       decimal.Decimal  `json:"qty"`
	AvgPrice  decimal.Decimal  `json:"avg_price"`
	Method    AllocationMethod `json:"method"`
	Status    AllocationStatus `json:"status"`
	Meta      map[string]any   `json:"meta,omitempty"`
}

// VenueQuote is an ephemeral per-evaluation venue snapshot. It is not
// persisted beyond the resulting best-ex record.
type VenueQuote struct {
	Venue          string  `json:"venue"`
	Price          float64 `json:"price"`
	Size           float64 `json:"size"`
	Liquidity      float64 `json:"liquidity"`
	Speed          float64 `json:"speed"`
	HistoricalFill float64 `json:"historical_fill"`
	Fees           float64 `json:"fees"`
	Rebate         float64 `json:"rebate"`
	Slippage       float64 `json:"slippage,omitempty"`
	Reliability    float64 `json:"reliability,omitempty"`
}

// BestExRecord documents a venue selection, automatic or overridden.
type BestExRecord struct {
	ID         string             `json:"id"`
	BlockID    string             `json:"block_id"`
	Considered []string           `json:"considered"`
	Chosen     string             `json:"chosen"`
	Score      map[string]float64 `json:"score"`
	Reason     string             `json:"reason"`
	Overridden bool               `json:"overridden"`
	ApproverID string             `json:"approver_id,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}

// TradeErrorType classifies mis-executions.
type TradeErrorType string

const (
	TradeErrorWrongAccount     TradeErrorType = "WRONG_ACCT"
	TradeErrorWrongQty         TradeErrorType = "WRONG_QTY"
	TradeErrorWrongSymbol      TradeErrorType = "WRONG_SYMBOL"
	TradeErrorLateAllocation   TradeErrorType = "LATE_ALLOC"
	TradeErrorMismatch         TradeErrorType = "MISMATCH"
	TradeErrorCryptoSettlement TradeErrorType = "CRYPTO_SETTLEMENT"
)

// TradeErrorStatus lifecycle values. Closing statuses require four-eyes
// approval.
type TradeErrorStatus string

const (
	TradeErrorSegregated        TradeErrorStatus = "Segregated"
	TradeErrorCorrected         TradeErrorStatus = "Corrected"
	TradeErrorClientCompensated TradeErrorStatus = "ClientCompensated"
	TradeErrorClosed            TradeErrorStatus = "Closed"
)

// IsTerminal reports whether a status closes the item.
func (s TradeErrorStatus) IsTerminal() bool {
	switch s {
	case TradeErrorCorrected, TradeErrorClientCompensated, TradeErrorClosed:
		return true
	}
	return false
}

// TradeErrorItem tracks a mis-executed trade from segregation to closure.
type TradeErrorItem struct {
	ID                   string           `json:"id"`
	OrderID              string           `json:"order_id,omitempty"`
	ExecutionID          string           `json:"execution_id,omitempty"`
	Type                 TradeErrorType   `json:"type"`
	Status               TradeErrorStatus `json:"status"`
	SegregationAccountID string           `json:"segregation_account_id"`
	PnL                  *decimal.Decimal `json:"pnl,omitempty"`
	Notes                string           `json:"notes,omitempty"`
	Approvals            []string         `json:"approvals"`
	CreatedAt            time.Time        `json:"created_at"`
	ClosedAt             *time.Time       `json:"closed_at,omitempty"`
}

// Confirm is a generated client confirmation artifact.
type Confirm struct {
	ID           string          `json:"id"`
	OrderID      string          `json:"order_id"`
	AccountID    string          `json:"account_id"`
	InstrumentID string          `json:"instrument_id"`
	Side         OrderSide       `json:"side"`
	Qty          decimal.Decimal `json:"qty"`
	AvgPrice     decimal.Decimal `json:"avg_price"`
	Fees         decimal.Decimal `json:"fees"`
	TS           time.Time       `json:"ts"`
	Path         string          `json:"path"`
	SHA256       string          `json:"sha256"`
}
