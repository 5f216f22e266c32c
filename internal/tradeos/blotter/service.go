// Package blotter exports order/execution history as a serialized row
// set whose SHA-256 digest is the tamper-evidence artifact.
package blotter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/halcyonmarkets/tradeos/internal/journal"
	"github.com/halcyonmarkets/tradeos/internal/tradeos/model"
)

// Filter narrows the export by account and creation-time range. Nil
// bounds are open.
type Filter struct {
	AccountID string
	From      *time.Time
	To        *time.Time
}

// Row is one serialized blotter line. Decimals and timestamps are
// canonical strings so the digest is stable across runs.
type Row struct {
	OrderID      string `json:"order_id"`
	AccountID    string `json:"account_id"`
	InstrumentID string `json:"instrument_id"`
	Side         string `json:"side"`
	Qty          string `json:"qty"`
	AvgPrice     string `json:"avg_price"`
	Status       string `json:"status"`
	TS           string `json:"ts"`
}

// Result is the export outcome. The digest is the interface contract,
// not the file.
type Result struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Rows   []Row  `json:"rows"`
}

// Service produces blotter exports. It is read-only over its inputs.
type Service struct {
	journal journal.Journal
	logger  *zap.Logger
}

// NewService returns a blotter service.
func NewService(j journal.Journal, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{journal: j, logger: logger}
}

// Export filters the orders, serializes the rows, writes the artifact
// and journals its digest.
func (s *Service) Export(ctx context.Context, orders []*model.Order, filter Filter, path string) (*Result, error) {
	rows := make([]Row, 0, len(orders))
	for _, order := range orders {
		if !matches(order, filter) {
			continue
		}
		rows = append(rows, buildRow(order))
	}

	payload, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("blotter: serialize: %w", err)
	}
	digest := sha256.Sum256(payload)
	sum := hex.EncodeToString(digest[:])

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("blotter: create dir: %w", err)
		}
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return nil, fmt.Errorf("blotter: write %s: %w", path, err)
	}

	if _, err := s.journal.Append(ctx, "blotter.export", map[string]any{
		"path":      path,
		"sha256":    sum,
		"row_count": len(rows),
	}); err != nil {
		return nil, err
	}

	s.logger.Info("blotter exported",
		zap.String("path", path),
		zap.String("sha256", sum),
		zap.Int("rows", len(rows)))
	return &Result{Path: path, SHA256: sum, Rows: rows}, nil
}

func matches(order *model.Order, filter Filter) bool {
	if filter.AccountID != "" && order.AccountID != filter.AccountID {
		return false
	}
	if filter.From != nil && order.CreatedAt.Before(*filter.From) {
		return false
	}
	if filter.To != nil && order.CreatedAt.After(*filter.To) {
		return false
	}
	return true
}

// buildRow computes the row's filled quantity and volume-weighted
// average price, falling back to the declared quantity and limit price
// for unfilled orders.
func buildRow(order *model.Order) Row {
	qty := order.Qty
	avgPrice := decimal.Zero
	if order.LimitPrice != nil {
		avgPrice = *order.LimitPrice
	}
	if len(order.Executions) > 0 {
		filled := decimal.Zero
		notional := decimal.Zero
		for _, ex := range order.Executions {
			filled = filled.Add(ex.Qty)
			notional = notional.Add(ex.Qty.Mul(ex.Price))
		}
		qty = filled
		if !filled.IsZero() {
			avgPrice = notional.Div(filled)
		}
	}
	return Row{
		OrderID:      order.ID,
		AccountID:    order.AccountID,
		InstrumentID: order.InstrumentID,
		Side:         string(order.Side),
		Qty:          qty.String(),
		AvgPrice:     avgPrice.String(),
		Status:       string(order.Status),
		TS:           order.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}
