package surveillance

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/halcyonmarkets/tradeos/internal/journal"
)

// SuppressionRule silences alerts whose scenario matches and whose key
// matches the compiled pattern. A rule past ExpiresAt no longer
// matches.
type SuppressionRule struct {
	ID         string     `json:"id"`
	Scenario   string     `json:"scenario"`
	KeyPattern string     `json:"key_pattern"`
	Reason     string     `json:"reason"`
	CreatedBy  string     `json:"created_by"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`

	pattern *regexp.Regexp
}

// RuleInput creates a suppression rule.
type RuleInput struct {
	Scenario   string     `json:"scenario" binding:"required"`
	KeyPattern string     `json:"key_pattern" binding:"required"`
	Reason     string     `json:"reason" binding:"required"`
	CreatedBy  string     `json:"created_by" binding:"required"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// SuppressionService holds the active rule set. Rule additions are
// journaled; expired rules stay listed until removed.
type SuppressionService struct {
	mu      sync.RWMutex
	rules   []*SuppressionRule
	journal journal.Journal
	logger  *zap.Logger
}

// NewSuppressionService returns an empty rule set.
func NewSuppressionService(j journal.Journal, logger *zap.Logger) *SuppressionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SuppressionService{journal: j, logger: logger}
}

// AddRule compiles, journals and activates a rule.
func (s *SuppressionService) AddRule(ctx context.Context, in RuleInput) (*SuppressionRule, error) {
	pattern, err := regexp.Compile(in.KeyPattern)
	if err != nil {
		return nil, fmt.Errorf("suppression: invalid key pattern %q: %w", in.KeyPattern, err)
	}
	rule := &SuppressionRule{
		ID:         uuid.NewString(),
		Scenario:   in.Scenario,
		KeyPattern: in.KeyPattern,
		Reason:     in.Reason,
		CreatedBy:  in.CreatedBy,
		CreatedAt:  time.Now().UTC(),
		ExpiresAt:  in.ExpiresAt,
		pattern:    pattern,
	}
	if _, err := s.journal.Append(ctx, "suppression.rule_added", rule); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.rules = append(s.rules, rule)
	s.mu.Unlock()

	s.logger.Info("suppression rule added",
		zap.String("rule_id", rule.ID),
		zap.String("scenario", rule.Scenario),
		zap.String("key_pattern", rule.KeyPattern))
	return rule, nil
}

// ShouldSuppress reports whether any live rule matches the alert.
func (s *SuppressionService) ShouldSuppress(alert Alert) bool {
	now := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rule := range s.rules {
		if rule.Scenario != alert.Scenario {
			continue
		}
		if rule.ExpiresAt != nil && now.After(*rule.ExpiresAt) {
			continue
		}
		if rule.pattern.MatchString(alert.Key) {
			return true
		}
	}
	return false
}

// Rules returns a copy of the rule set.
func (s *SuppressionService) Rules() []*SuppressionRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rules := make([]*SuppressionRule, len(s.rules))
	copy(rules, s.rules)
	return rules
}
