// Package confirms generates client confirmation artifacts for filled
// orders and hands them to the regulatory desk.
package confirms

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/halcyonmarkets/tradeos/internal/journal"
	"github.com/halcyonmarkets/tradeos/internal/tradeos/gateway"
	"github.com/halcyonmarkets/tradeos/internal/tradeos/model"
)

// ErrNoExecutions rejects confirm generation for an unfilled order.
var ErrNoExecutions = errors.New("confirms: order has no executions")

// Service writes confirm artifacts under Dir and journals their digests.
// RegDesk is optional; delivery failures do not invalidate the artifact.
type Service struct {
	journal journal.Journal
	regDesk gateway.RegDesk
	logger  *zap.Logger

	// Dir is the artifact output directory.
	Dir string
}

// NewService returns a confirm generator writing under dir.
func NewService(j journal.Journal, regDesk gateway.RegDesk, dir string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{journal: j, regDesk: regDesk, logger: logger, Dir: dir}
}

// Generate builds the confirm for an order's executions, persists the
// artifact, journals its digest and notifies the regulatory desk.
func (s *Service) Generate(ctx context.Context, order *model.Order) (*model.Confirm, error) {
	if len(order.Executions) == 0 {
		return nil, ErrNoExecutions
	}

	filled := decimal.Zero
	notional := decimal.Zero
	fees := decimal.Zero
	for _, ex := range order.Executions {
		filled = filled.Add(ex.Qty)
		notional = notional.Add(ex.Qty.Mul(ex.Price))
		if ex.Fees != nil {
			fees = fees.Add(*ex.Fees)
		}
	}
	if filled.IsZero() {
		return nil, ErrNoExecutions
	}

	confirm := &model.Confirm{
		ID:           uuid.NewString(),
		OrderID:      order.ID,
		AccountID:    order.AccountID,
		InstrumentID: order.InstrumentID,
		Side:         order.Side,
		Qty:          filled,
		AvgPrice:     notional.Div(filled),
		Fees:         fees,
		TS:           time.Now().UTC(),
	}

	payload, err := json.MarshalIndent(artifact(confirm), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("confirms: serialize: %w", err)
	}
	digest := sha256.Sum256(payload)
	confirm.SHA256 = hex.EncodeToString(digest[:])
	confirm.Path = filepath.Join(s.Dir, confirm.ID+".json")

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("confirms: create dir: %w", err)
	}
	if err := os.WriteFile(confirm.Path, payload, 0o644); err != nil {
		return nil, fmt.Errorf("confirms: write %s: %w", confirm.Path, err)
	}

	if _, err := s.journal.Append(ctx, "confirm.generated", confirm); err != nil {
		return nil, err
	}

	if s.regDesk != nil {
		notice := gateway.ConfirmNotice{
			ConfirmID: confirm.ID,
			OrderID:   confirm.OrderID,
			AccountID: confirm.AccountID,
			Path:      confirm.Path,
			SHA256:    confirm.SHA256,
			TS:        confirm.TS,
		}
		if err := s.regDesk.DeliverConfirm(ctx, notice); err != nil {
			s.logger.Warn("confirm delivery failed",
				zap.String("confirm_id", confirm.ID),
				zap.Error(err))
		}
	}

	s.logger.Info("confirm generated",
		zap.String("confirm_id", confirm.ID),
		zap.String("order_id", confirm.OrderID),
		zap.String("sha256", confirm.SHA256))
	return confirm, nil
}

// artifact is the serialized confirm body. The digest covers these
// fields only; path and sha256 are derived afterward.
func artifact(c *model.Confirm) map[string]any {
	return map[string]any{
		"confirm_id":    c.ID,
		"order_id":      c.OrderID,
		"account_id":    c.AccountID,
		"instrument_id": c.InstrumentID,
		"side":          c.Side,
		"qty":           c.Qty.String(),
		"avg_price":     c.AvgPrice.String(),
		"fees":          c.Fees.String(),
		"ts":            c.TS.Format(time.RFC3339Nano),
	}
}
