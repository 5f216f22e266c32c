package confirms

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/halcyonmarkets/tradeos/internal/journal"
	"github.com/halcyonmarkets/tradeos/internal/tradeos/gateway"
	"github.com/halcyonmarkets/tradeos/internal/tradeos/model"
)

type memRegDesk struct {
	notices []gateway.ConfirmNotice
	fail    bool
}

func (m *memRegDesk) DeliverConfirm(_ context.Context, notice gateway.ConfirmNotice) error {
	if m.fail {
		return errors.New("reg desk unavailable")
	}
	m.notices = append(m.notices, notice)
	return nil
}

func filledOrder() *model.Order {
	fee := decimal.RequireFromString("1.25")
	return &model.Order{
		OrderInput: model.OrderInput{
			AccountID:    "ACC-1",
			InstrumentID: "MSFT",
			Side:         model.SideBuy,
			Qty:          decimal.RequireFromString("100"),
		},
		ID:        "ord-confirm",
		Status:    model.OrderStatusFilled,
		CreatedAt: time.Now().UTC(),
		Executions: []model.Execution{
			{ID: "ex-1", Qty: decimal.RequireFromString("60"), Price: decimal.RequireFromString("100"), Fees: &fee},
			{ID: "ex-2", Qty: decimal.RequireFromString("40"), Price: decimal.RequireFromString("110")},
		},
	}
}

func newService(t *testing.T, desk gateway.RegDesk) (*Service, journal.Journal) {
	t.Helper()
	j, err := journal.NewFileJournal(filepath.Join(t.TempDir(), "worm.jsonl"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return NewService(j, desk, t.TempDir(), zaptest.NewLogger(t)), j
}

func TestGenerateComputesVWAPAndFees(t *testing.T) {
	desk := &memRegDesk{}
	svc, j := newService(t, desk)

	confirm, err := svc.Generate(context.Background(), filledOrder())
	require.NoError(t, err)

	assert.True(t, confirm.Qty.Equal(decimal.RequireFromString("100")))
	assert.True(t, confirm.AvgPrice.Equal(decimal.RequireFromString("104")))
	assert.True(t, confirm.Fees.Equal(decimal.RequireFromString("1.25")))
	assert.NotEmpty(t, confirm.SHA256)

	data, err := os.ReadFile(confirm.Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"avg_price": "104"`)

	head, err := j.Latest(context.Background())
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, "confirm.generated", head.Kind)

	require.Len(t, desk.notices, 1)
	assert.Equal(t, confirm.SHA256, desk.notices[0].SHA256)
}

func TestGenerateRejectsUnfilledOrder(t *testing.T) {
	svc, j := newService(t, nil)

	order := filledOrder()
	order.Executions = nil
	_, err := svc.Generate(context.Background(), order)
	assert.ErrorIs(t, err, ErrNoExecutions)

	head, err := j.Latest(context.Background())
	require.NoError(t, err)
	assert.Nil(t, head)
}

func TestGenerateSurvivesDeskFailure(t *testing.T) {
	svc, j := newService(t, &memRegDesk{fail: true})

	confirm, err := svc.Generate(context.Background(), filledOrder())
	require.NoError(t, err)
	assert.FileExists(t, confirm.Path)

	head, err := j.Latest(context.Background())
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, "confirm.generated", head.Kind)
}
