package surveillance

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/halcyonmarkets/tradeos/internal/journal"
)

func newTestJournal(t *testing.T) journal.Journal {
	t.Helper()
	j, err := journal.NewFileJournal(filepath.Join(t.TempDir(), "worm.jsonl"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func mixerAlert(id, wallet string) Alert {
	return Alert{
		ID:       id,
		Kind:     AlertKindCrypto,
		Scenario: ScenarioMixerProximity,
		Severity: 80,
		Status:   AlertOpen,
		Key:      "wallet|" + wallet,
		Signal:   map[string]any{"wallet": wallet},
	}
}

func TestSuppressionMatchesScenarioAndKey(t *testing.T) {
	svc := NewSuppressionService(newTestJournal(t), zaptest.NewLogger(t))
	expires := time.Now().Add(time.Hour)

	_, err := svc.AddRule(context.Background(), RuleInput{
		Scenario:   ScenarioMixerProximity,
		KeyPattern: `wallet\|0xabc`,
		Reason:     "Known mixer investigation",
		CreatedBy:  "ops-1",
		ExpiresAt:  &expires,
	})
	require.NoError(t, err)

	assert.True(t, svc.ShouldSuppress(mixerAlert("a1", "0xabc")))
	assert.False(t, svc.ShouldSuppress(mixerAlert("a2", "0xdef")))

	other := mixerAlert("a3", "0xabc")
	other.Scenario = ScenarioWashTrade
	assert.False(t, svc.ShouldSuppress(other))
}

func TestSuppressionExpiredRuleDoesNotMatch(t *testing.T) {
	svc := NewSuppressionService(newTestJournal(t), zaptest.NewLogger(t))
	expired := time.Now().Add(-time.Minute)

	_, err := svc.AddRule(context.Background(), RuleInput{
		Scenario:   ScenarioMixerProximity,
		KeyPattern: ".*",
		Reason:     "old",
		CreatedBy:  "ops-1",
		ExpiresAt:  &expired,
	})
	require.NoError(t, err)

	assert.False(t, svc.ShouldSuppress(mixerAlert("a1", "0xabc")))
}

func TestSuppressionRejectsInvalidPattern(t *testing.T) {
	svc := NewSuppressionService(newTestJournal(t), zaptest.NewLogger(t))
	_, err := svc.AddRule(context.Background(), RuleInput{
		Scenario:   ScenarioWashTrade,
		KeyPattern: "([",
		Reason:     "broken",
		CreatedBy:  "ops-1",
	})
	assert.Error(t, err)
	assert.Empty(t, svc.Rules())
}

func TestSuppressionJournalsRuleAdds(t *testing.T) {
	j := newTestJournal(t)
	svc := NewSuppressionService(j, zaptest.NewLogger(t))

	_, err := svc.AddRule(context.Background(), RuleInput{
		Scenario:   ScenarioWashTrade,
		KeyPattern: ".*",
		Reason:     "blanket",
		CreatedBy:  "ops-1",
	})
	require.NoError(t, err)

	head, err := j.Latest(context.Background())
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, "suppression.rule_added", head.Kind)
}

func TestDeduperDropsIdenticalRepeats(t *testing.T) {
	deduper := NewAlertDeduper(nil)
	alert := mixerAlert("a1", "0xabc")

	kept, err := deduper.Filter(context.Background(), []Alert{alert, alert})
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}

func TestDeduperKeepsNewSignalForSameKey(t *testing.T) {
	deduper := NewAlertDeduper(nil)
	first := mixerAlert("a1", "0xabc")
	second := mixerAlert("a2", "0xabc")
	second.Signal = map[string]any{"wallet": "0xabc", "tx_hash": "0xnew"}

	kept, err := deduper.Filter(context.Background(), []Alert{first})
	require.NoError(t, err)
	require.Len(t, kept, 1)

	kept, err = deduper.Filter(context.Background(), []Alert{second})
	require.NoError(t, err)
	assert.Len(t, kept, 1, "different signal hash must survive dedup")
}

func TestDeduperWindowExpiry(t *testing.T) {
	store := NewMemoryDedupStore(time.Hour)
	current := time.Now()
	store.now = func() time.Time { return current }
	deduper := NewAlertDeduper(store)
	alert := mixerAlert("a1", "0xabc")

	kept, err := deduper.Filter(context.Background(), []Alert{alert})
	require.NoError(t, err)
	require.Len(t, kept, 1)

	current = current.Add(2 * time.Hour)
	kept, err = deduper.Filter(context.Background(), []Alert{alert})
	require.NoError(t, err)
	assert.Len(t, kept, 1, "entry outside the window is not a repeat")
}

func TestDedupStateIsScenarioScoped(t *testing.T) {
	deduper := NewAlertDeduper(nil)
	mixer := mixerAlert("a1", "0xabc")
	wash := mixerAlert("a2", "0xabc")
	wash.Scenario = ScenarioWashTrade

	kept, err := deduper.Filter(context.Background(), []Alert{mixer, wash})
	require.NoError(t, err)
	assert.Len(t, kept, 2)
}
