package routing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/halcyonmarkets/tradeos/internal/tradeos/model"
)

// SimDesk fills an entire block in one print. It backs standalone and
// paper-trading runs where no live venue connectivity is wired.
type SimDesk struct {
	Venue string

	// Mark prices the fill. The default is a flat mark, used when no
	// market data feed is present.
	Mark func(block *model.Block) decimal.Decimal
}

// NewSimDesk returns a desk that fills at a flat mark.
func NewSimDesk(venue string) *SimDesk {
	return &SimDesk{
		Venue: venue,
		Mark: func(_ *model.Block) decimal.Decimal {
			return decimal.NewFromInt(100)
		},
	}
}

// Execute implements Adapter.
func (d *SimDesk) Execute(_ context.Context, block *model.Block) ([]model.Execution, error) {
	return []model.Execution{{
		ID:     "ex-" + uuid.NewString(),
		Venue:  d.Venue,
		ExecID: "sim-" + block.ID,
		Qty:    block.TotalQty,
		Price:  d.Mark(block),
		TS:     time.Now().UTC(),
	}}, nil
}

// SimCryptoDesk answers RFQ sweeps and DEX swaps with simulated fills.
type SimCryptoDesk struct {
	Dealer string
	Mark   func(block *model.Block) decimal.Decimal
}

// NewSimCryptoDesk returns a crypto desk quoting at a flat mark.
func NewSimCryptoDesk(dealer string) *SimCryptoDesk {
	return &SimCryptoDesk{
		Dealer: dealer,
		Mark: func(_ *model.Block) decimal.Decimal {
			return decimal.NewFromInt(100)
		},
	}
}

// RFQ implements CryptoAdapters.
func (d *SimCryptoDesk) RFQ(_ context.Context, block *model.Block, _ int) (*RFQResult, error) {
	price := d.Mark(block)
	return &RFQResult{
		Execution: model.Execution{
			ID:     "ex-" + uuid.NewString(),
			Venue:  d.Dealer,
			ExecID: "rfq-" + block.ID,
			Qty:    block.TotalQty,
			Price:  price,
			TS:     time.Now().UTC(),
		},
		Quotes: []RFQQuote{{Venue: d.Dealer, Price: price}},
	}, nil
}

// DEX implements CryptoAdapters.
func (d *SimCryptoDesk) DEX(_ context.Context, block *model.Block, _ int) (*DEXResult, error) {
	return &DEXResult{
		Execution: model.Execution{
			ID:     "ex-" + uuid.NewString(),
			Venue:  d.Dealer,
			ExecID: "dex-" + block.ID,
			Qty:    block.TotalQty,
			Price:  d.Mark(block),
			TS:     time.Now().UTC(),
		},
		Route: "direct",
	}, nil
}

// SimAdapters binds every asset class to simulated desks.
func SimAdapters() Adapters {
	return Adapters{
		Equity:     NewSimDesk("SIM-EQ"),
		ETF:        NewSimDesk("SIM-ETF"),
		MutualFund: NewSimDesk("SIM-MF"),
		Option:     NewSimDesk("SIM-OPT"),
		Bond:       NewSimDesk("SIM-BOND"),
		Crypto:     NewSimCryptoDesk("SIM-OTC"),
	}
}
