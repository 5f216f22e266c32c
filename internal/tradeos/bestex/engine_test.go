package bestex

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/halcyonmarkets/tradeos/internal/journal"
	"github.com/halcyonmarkets/tradeos/internal/tradeos/model"
)

func newEngine(t *testing.T) (*Engine, journal.Journal) {
	t.Helper()
	j, err := journal.NewFileJournal(filepath.Join(t.TempDir(), "worm.journal"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return NewEngine(j, zaptest.NewLogger(t)), j
}

func testBlock(side model.OrderSide) *model.Block {
	return &model.Block{
		ID:           "BLK-1",
		AssetClass:   model.AssetClassEquity,
		InstrumentID: "AAPL",
		Side:         side,
		TotalQty:     decimal.NewFromInt(200),
		Status:       model.BlockStatusStaged,
	}
}

func testVenues() []model.VenueQuote {
	return []model.VenueQuote{
		{Venue: "NYSE", Price: 100, Size: 1000, Liquidity: 0.9, Fees: 0.002, Rebate: 0.001, Speed: 0.8, HistoricalFill: 0.9},
		{Venue: "ARCA", Price: 101, Size: 500, Liquidity: 0.8, Fees: 0.001, Rebate: 0, Speed: 0.7, HistoricalFill: 0.7},
	}
}

func TestSelectVenueChoosesHighestScore(t *testing.T) {
	engine, j := newEngine(t)

	record, err := engine.SelectVenue(context.Background(), Request{
		Block:  testBlock(model.SideBuy),
		Venues: testVenues(),
	})
	require.NoError(t, err)

	assert.Equal(t, "NYSE", record.Chosen)
	assert.False(t, record.Overridden)
	assert.ElementsMatch(t, []string{"NYSE", "ARCA"}, record.Considered)
	assert.Greater(t, record.Score["NYSE"], record.Score["ARCA"])

	head, err := j.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bestex.recorded", head.Kind)
}

func TestSelectVenuePriceDirectionForSells(t *testing.T) {
	engine, _ := newEngine(t)

	// For a sell block the richer print should win on the price factor.
	venues := []model.VenueQuote{
		{Venue: "LOW", Price: 100, Size: 500, Liquidity: 0.8, Speed: 0.8, HistoricalFill: 0.8},
		{Venue: "HIGH", Price: 102, Size: 500, Liquidity: 0.8, Speed: 0.8, HistoricalFill: 0.8},
	}
	record, err := engine.SelectVenue(context.Background(), Request{
		Block:  testBlock(model.SideSell),
		Venues: venues,
	})
	require.NoError(t, err)
	assert.Equal(t, "HIGH", record.Chosen)
}

func TestSelectVenueOverrideRequiresApprover(t *testing.T) {
	engine, j := newEngine(t)

	_, err := engine.SelectVenue(context.Background(), Request{
		Block:    testBlock(model.SideBuy),
		Venues:   testVenues(),
		Override: &Override{Venue: "ARCA", Reason: "manual preference"},
	})
	require.ErrorIs(t, err, ErrOverrideRequiresApprover)

	// Nothing may reach the ledger on a rejected override.
	head, err := j.Latest(context.Background())
	require.NoError(t, err)
	assert.Nil(t, head)

	record, err := engine.SelectVenue(context.Background(), Request{
		Block:    testBlock(model.SideBuy),
		Venues:   testVenues(),
		Override: &Override{Venue: "ARCA", Reason: "manual preference", ApproverID: "SUP-1"},
	})
	require.NoError(t, err)
	assert.True(t, record.Overridden)
	assert.Equal(t, "ARCA", record.Chosen)
	assert.Equal(t, "SUP-1", record.ApproverID)
	assert.ElementsMatch(t, []string{"NYSE", "ARCA"}, record.Considered)
}

func TestSelectVenueEmptyCandidates(t *testing.T) {
	engine, j := newEngine(t)

	_, err := engine.SelectVenue(context.Background(), Request{Block: testBlock(model.SideBuy)})
	require.ErrorIs(t, err, ErrEmptyVenueList)

	head, err := j.Latest(context.Background())
	require.NoError(t, err)
	assert.Nil(t, head)
}

func TestSlippagePenaltyAndReliabilityBonus(t *testing.T) {
	engine, _ := newEngine(t)

	venues := []model.VenueQuote{
		{Venue: "A", Price: 100, Size: 500, Liquidity: 0.8, Speed: 0.8, HistoricalFill: 0.8, Slippage: 0.5},
		{Venue: "B", Price: 100, Size: 500, Liquidity: 0.8, Speed: 0.8, HistoricalFill: 0.8, Reliability: 0.2},
	}
	record, err := engine.SelectVenue(context.Background(), Request{
		Block:  testBlock(model.SideBuy),
		Venues: venues,
	})
	require.NoError(t, err)
	assert.Equal(t, "B", record.Chosen)
}
