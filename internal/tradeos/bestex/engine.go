// Package bestex scores candidate venues and records the selection, or a
// four-eyes override, to the WORM journal.
package bestex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/halcyonmarkets/tradeos/internal/journal"
	"github.com/halcyonmarkets/tradeos/internal/tradeos/model"
)

// Composite score weights. Slippage subtracts and reliability adds on
// top of the weighted factors.
const (
	weightPrice     = 0.40
	weightSize      = 0.15
	weightLiquidity = 0.15
	weightSpeed     = 0.10
	weightFillRate  = 0.10
	weightNetFees   = 0.05
)

var (
	// ErrEmptyVenueList is returned when no candidate venues are supplied.
	ErrEmptyVenueList = errors.New("EMPTY_VENUE_LIST")
	// ErrOverrideRequiresApprover enforces four-eyes on overrides.
	ErrOverrideRequiresApprover = errors.New("OVERRIDE_REQUIRES_APPROVER")
)

// Override requests a manual venue selection. ApproverID must identify a
// second person; it is checked before any ledger write.
type Override struct {
	Venue      string `json:"venue"`
	Reason     string `json:"reason"`
	ApproverID string `json:"approver_id"`
}

// Request carries the block, the candidate quotes and an optional
// override.
type Request struct {
	Block    *model.Block
	Venues   []model.VenueQuote
	Override *Override
}

// Engine computes composite venue scores and journals selections.
type Engine struct {
	journal journal.Journal
	logger  *zap.Logger
}

// NewEngine returns a best-execution engine writing to the given journal.
func NewEngine(j journal.Journal, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{journal: j, logger: logger}
}

// SelectVenue scores every candidate and returns the record for the
// machine-optimal venue, or for the override when one is supplied. An
// override without an approver fails before anything is journaled.
func (e *Engine) SelectVenue(ctx context.Context, req Request) (*model.BestExRecord, error) {
	if len(req.Venues) == 0 {
		return nil, fmt.Errorf("%w: block %s", ErrEmptyVenueList, req.Block.ID)
	}
	if req.Override != nil && req.Override.ApproverID == "" {
		return nil, fmt.Errorf("%w: override of block %s needs approverId", ErrOverrideRequiresApprover, req.Block.ID)
	}

	scores := e.score(req.Block.Side, req.Venues)

	considered := make([]string, 0, len(req.Venues))
	bestVenue := req.Venues[0].Venue
	for _, quote := range req.Venues {
		considered = append(considered, quote.Venue)
		if scores[quote.Venue] > scores[bestVenue] {
			bestVenue = quote.Venue
		}
	}

	record := &model.BestExRecord{
		ID:         "BX-" + uuid.NewString(),
		BlockID:    req.Block.ID,
		Considered: considered,
		Score:      scores,
		CreatedAt:  time.Now().UTC(),
	}

	if req.Override != nil {
		record.Overridden = true
		record.Chosen = req.Override.Venue
		record.Reason = req.Override.Reason
		record.ApproverID = req.Override.ApproverID
	} else {
		record.Chosen = bestVenue
		record.Reason = "highest composite score"
	}

	if _, err := e.journal.Append(ctx, "bestex.recorded", record); err != nil {
		return nil, err
	}

	e.logger.Info("venue selected",
		zap.String("block_id", req.Block.ID),
		zap.String("chosen", record.Chosen),
		zap.Bool("overridden", record.Overridden))
	return record, nil
}

// score computes the composite score per venue. Factors are normalized
// against the best observation in the candidate set; price proximity is
// direction-aware (cheapest for buys, richest for sells).
func (e *Engine) score(side model.OrderSide, venues []model.VenueQuote) map[string]float64 {
	bestPrice := venues[0].Price
	var maxSize, maxLiquidity, maxSpeed, maxFill float64
	for _, v := range venues {
		if side.IsSell() {
			if v.Price > bestPrice {
				bestPrice = v.Price
			}
		} else if v.Price < bestPrice {
			bestPrice = v.Price
		}
		maxSize = max(maxSize, v.Size)
		maxLiquidity = max(maxLiquidity, v.Liquidity)
		maxSpeed = max(maxSpeed, v.Speed)
		maxFill = max(maxFill, v.HistoricalFill)
	}

	scores := make(map[string]float64, len(venues))
	for _, v := range venues {
		var priceScore float64
		switch {
		case bestPrice == 0 && v.Price == 0:
			priceScore = 1
		case side.IsSell() && bestPrice > 0:
			priceScore = v.Price / bestPrice
		case v.Price > 0:
			priceScore = bestPrice / v.Price
		}

		score := weightPrice*priceScore +
			weightSize*ratio(v.Size, maxSize) +
			weightLiquidity*ratio(v.Liquidity, maxLiquidity) +
			weightSpeed*ratio(v.Speed, maxSpeed) +
			weightFillRate*ratio(v.HistoricalFill, maxFill) +
			weightNetFees*(v.Rebate-v.Fees)
		score -= v.Slippage
		score += v.Reliability
		scores[v.Venue] = score
	}
	return scores
}

func ratio(val, max float64) float64 {
	if max == 0 {
		return 0
	}
	return val / max
}
