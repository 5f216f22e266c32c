// Package tradeerror manages the lifecycle of mis-executed trades:
// segregation on open, four-eyes approval on close. Current state is
// reconstructible by replaying trade_error.* journal events.
package tradeerror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/halcyonmarkets/tradeos/internal/journal"
	"github.com/halcyonmarkets/tradeos/internal/tradeos/model"
)

var (
	// ErrInsufficientApprovals enforces two distinct approvers on close.
	ErrInsufficientApprovals = errors.New("INSUFFICIENT_APPROVALS")
	// ErrNotFound is returned for unknown item ids.
	ErrNotFound = errors.New("TRADE_ERROR_NOT_FOUND")
	// ErrAlreadyClosed rejects closing a terminal item again.
	ErrAlreadyClosed = errors.New("TRADE_ERROR_ALREADY_CLOSED")
	// ErrNonTerminalStatus rejects a close to a non-terminal status.
	ErrNonTerminalStatus = errors.New("NON_TERMINAL_STATUS")
)

// OpenInput describes a newly reported trade error.
type OpenInput struct {
	Order          *model.Order
	Execution      *model.Execution
	Type           model.TradeErrorType
	CorrectedPrice *decimal.Decimal
	Notes          string
}

// CloseInput carries the approvals and terminal status for a closure.
type CloseInput struct {
	ApproverIDs []string
	Status      model.TradeErrorStatus
	Notes       string
}

// Service is the trade-error registry. The in-memory map is the working
// set; the journal is the system of record.
type Service struct {
	mu      sync.RWMutex
	items   map[string]*model.TradeErrorItem
	journal journal.Journal
	logger  *zap.Logger
}

// NewService builds a registry, rebuilding state from any trade_error.*
// events already in the journal.
func NewService(ctx context.Context, j journal.Journal, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{items: make(map[string]*model.TradeErrorItem), journal: j, logger: logger}
	if err := s.replay(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) replay(ctx context.Context) error {
	var restored int
	err := s.journal.Replay(ctx, func(ev *journal.Event) error {
		switch ev.Kind {
		case "trade_error.opened", "trade_error.closed":
			var item model.TradeErrorItem
			if err := json.Unmarshal(ev.Payload, &item); err != nil {
				return fmt.Errorf("trade error replay at idx %d: %w", ev.Idx, err)
			}
			s.items[item.ID] = &item
			restored++
		}
		return nil
	})
	if err != nil {
		return err
	}
	if restored > 0 {
		s.logger.Info("trade errors restored from journal", zap.Int("events", restored), zap.Int("items", len(s.items)))
	}
	return nil
}

// Open creates an item in Segregated status, derives its segregation
// account and, when a corrected price is supplied alongside an
// execution, computes the signed PnL delta.
func (s *Service) Open(ctx context.Context, in OpenInput) (*model.TradeErrorItem, error) {
	item := &model.TradeErrorItem{
		ID:        "TE-" + uuid.NewString(),
		Type:      in.Type,
		Status:    model.TradeErrorSegregated,
		Notes:     in.Notes,
		Approvals: []string{},
		CreatedAt: time.Now().UTC(),
	}
	if in.Order != nil {
		item.OrderID = in.Order.ID
		item.SegregationAccountID = "SEG-" + in.Order.AccountID
	} else {
		item.SegregationAccountID = "SEG-HOUSE"
	}
	if in.Execution != nil {
		item.ExecutionID = in.Execution.ID
		if in.CorrectedPrice != nil && in.Order != nil {
			pnl := computePnL(in.Execution, *in.CorrectedPrice, in.Order.Side)
			item.PnL = &pnl
		}
	}

	if _, err := s.journal.Append(ctx, "trade_error.opened", item); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.items[item.ID] = item
	s.mu.Unlock()

	s.logger.Info("trade error opened",
		zap.String("id", item.ID),
		zap.String("type", string(item.Type)),
		zap.String("segregation_account", item.SegregationAccountID))
	return item, nil
}

// Close transitions an item to a terminal status. It requires at least
// two distinct approver ids; otherwise nothing is written.
func (s *Service) Close(ctx context.Context, id string, in CloseInput) (*model.TradeErrorItem, error) {
	approvers := distinct(in.ApproverIDs)
	if len(approvers) < 2 {
		return nil, fmt.Errorf("%w: need two distinct approvers, got %d", ErrInsufficientApprovals, len(approvers))
	}

	status := in.Status
	if status == "" {
		status = model.TradeErrorClosed
	}
	if !status.IsTerminal() {
		return nil, fmt.Errorf("%w: %q", ErrNonTerminalStatus, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if item.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s in %s", ErrAlreadyClosed, id, item.Status)
	}

	closed := *item
	closed.Status = status
	closed.Approvals = approvers
	if in.Notes != "" {
		closed.Notes = in.Notes
	}
	now := time.Now().UTC()
	closed.ClosedAt = &now

	if _, err := s.journal.Append(ctx, "trade_error.closed", &closed); err != nil {
		return nil, err
	}
	s.items[id] = &closed

	s.logger.Info("trade error closed",
		zap.String("id", id),
		zap.String("status", string(status)),
		zap.Strings("approvals", approvers))
	return &closed, nil
}

// Get returns a single item by id.
func (s *Service) Get(id string) (*model.TradeErrorItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return item, nil
}

// List returns all known items ordered by creation time.
func (s *Service) List() []*model.TradeErrorItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]*model.TradeErrorItem, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items
}

// computePnL is (executionPrice − correctedPrice) × qty, signed by trade
// direction.
func computePnL(exec *model.Execution, corrected decimal.Decimal, side model.OrderSide) decimal.Decimal {
	pnl := exec.Price.Sub(corrected).Mul(exec.Qty)
	if side.IsSell() {
		return pnl.Neg()
	}
	return pnl
}

func distinct(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
