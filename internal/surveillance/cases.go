package surveillance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/halcyonmarkets/tradeos/internal/journal"
)

// CaseStatus lifecycle values.
type CaseStatus string

const (
	CaseOpen              CaseStatus = "Open"
	CaseClosedNoIssue     CaseStatus = "Closed_NoIssue"
	CaseClosedRemediation CaseStatus = "Closed_Remediation"
	CaseClosedEscalated   CaseStatus = "Closed_Escalated"
)

// CaseItemType enumerates case attachments.
type CaseItemType string

const (
	CaseItemAlert    CaseItemType = "Alert"
	CaseItemNote     CaseItemType = "Note"
	CaseItemDocument CaseItemType = "Document"
	CaseItemTask     CaseItemType = "Task"
)

// CaseItem is one attachment on a case.
type CaseItem struct {
	ID     string         `json:"id"`
	CaseID string         `json:"case_id"`
	Type   CaseItemType   `json:"type"`
	RefID  string         `json:"ref_id"`
	Meta   map[string]any `json:"meta,omitempty"`
}

// Case groups related alerts under one investigation.
type Case struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Status    CaseStatus `json:"status"`
	OwnerID   string     `json:"owner_id,omitempty"`
	Summary   string     `json:"summary,omitempty"`
	Alerts    []Alert    `json:"alerts"`
	CreatedAt time.Time  `json:"created_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// CreateCaseInput opens an investigation.
type CreateCaseInput struct {
	Title   string
	Summary string
	OwnerID string
	Alerts  []Alert
}

// CloseCaseInput records the disposition of a finished investigation.
type CloseCaseInput struct {
	Status      CaseStatus
	Summary     string
	Disposition string
	ClosedBy    string
}

const triageTitle = "Triage Queue"

// severeThreshold is the severity at which an alert earns a dedicated
// case instead of the triage queue.
const severeThreshold = 80

// CaseService routes alerts into investigations. An alert joins the
// case already tracking its incident key, then the case tracking its
// scenario, then a new dedicated case when severe, and otherwise the
// shared triage queue.
type CaseService struct {
	mu            sync.Mutex
	cases         map[string]*Case
	items         map[string][]CaseItem
	alertKeyIndex map[string]string
	scenarioIndex map[string]string

	journal journal.Journal
	logger  *zap.Logger
}

// NewCaseService returns an empty case registry.
func NewCaseService(j journal.Journal, logger *zap.Logger) *CaseService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CaseService{
		cases:         make(map[string]*Case),
		items:         make(map[string][]CaseItem),
		alertKeyIndex: make(map[string]string),
		scenarioIndex: make(map[string]string),
		journal:       j,
		logger:        logger,
	}
}

// IngestAlert assigns an alert to a case and returns it.
func (s *CaseService) IngestAlert(ctx context.Context, alert Alert) (*Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if caseID, ok := s.alertKeyIndex[alertIndexKey(alert)]; ok {
		record := s.cases[caseID]
		if err := s.linkAlert(ctx, record, alert); err != nil {
			return nil, err
		}
		return record, nil
	}
	if caseID, ok := s.scenarioIndex[alert.Scenario]; ok {
		record := s.cases[caseID]
		if err := s.linkAlert(ctx, record, alert); err != nil {
			return nil, err
		}
		return record, nil
	}
	if alert.Severity >= severeThreshold {
		return s.createCase(ctx, CreateCaseInput{
			Title:   alert.Scenario + " investigation",
			Summary: "Auto-created for alert " + alert.ID,
			Alerts:  []Alert{alert},
		})
	}

	triage, err := s.triageCase(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.linkAlert(ctx, triage, alert); err != nil {
		return nil, err
	}
	return triage, nil
}

// CreateCase opens an investigation explicitly.
func (s *CaseService) CreateCase(ctx context.Context, in CreateCaseInput) (*Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createCase(ctx, in)
}

func (s *CaseService) createCase(ctx context.Context, in CreateCaseInput) (*Case, error) {
	record := &Case{
		ID:        uuid.NewString(),
		Title:     in.Title,
		Status:    CaseOpen,
		OwnerID:   in.OwnerID,
		Summary:   in.Summary,
		Alerts:    []Alert{},
		CreatedAt: time.Now().UTC(),
	}
	s.cases[record.ID] = record
	s.items[record.ID] = []CaseItem{}

	if _, err := s.journal.Append(ctx, "case.created", record); err != nil {
		return nil, err
	}
	for _, alert := range in.Alerts {
		if err := s.linkAlert(ctx, record, alert); err != nil {
			return nil, err
		}
		if alert.Severity >= severeThreshold {
			s.scenarioIndex[alert.Scenario] = record.ID
		}
	}
	return record, nil
}

// AddNote attaches an investigator note.
func (s *CaseService) AddNote(ctx context.Context, caseID, authorID, body string) (*CaseItem, error) {
	return s.attach(ctx, caseID, "case.note_added", CaseItem{
		Type:  CaseItemNote,
		RefID: authorID,
		Meta:  map[string]any{"body": body},
	})
}

// AttachDocument links an evidence document.
func (s *CaseService) AttachDocument(ctx context.Context, caseID, docID string, meta map[string]any) (*CaseItem, error) {
	return s.attach(ctx, caseID, "case.document_attached", CaseItem{
		Type:  CaseItemDocument,
		RefID: docID,
		Meta:  meta,
	})
}

// CreateTask adds a follow-up task.
func (s *CaseService) CreateTask(ctx context.Context, caseID, description, assigneeID string, dueAt *time.Time) (*CaseItem, error) {
	meta := map[string]any{"description": description}
	if assigneeID != "" {
		meta["assignee_id"] = assigneeID
	}
	if dueAt != nil {
		meta["due_at"] = dueAt.Format(time.RFC3339)
	}
	return s.attach(ctx, caseID, "case.task_created", CaseItem{
		Type:  CaseItemTask,
		RefID: uuid.NewString(),
		Meta:  meta,
	})
}

func (s *CaseService) attach(ctx context.Context, caseID, kind string, item CaseItem) (*CaseItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cases[caseID]; !ok {
		return nil, fmt.Errorf("surveillance: unknown case %s", caseID)
	}
	item.ID = uuid.NewString()
	item.CaseID = caseID
	s.items[caseID] = append(s.items[caseID], item)
	if _, err := s.journal.Append(ctx, kind, item); err != nil {
		return nil, err
	}
	return &item, nil
}

// CloseCase records the disposition and closes the investigation.
func (s *CaseService) CloseCase(ctx context.Context, caseID string, in CloseCaseInput) (*Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.cases[caseID]
	if !ok {
		return nil, fmt.Errorf("surveillance: unknown case %s", caseID)
	}
	now := time.Now().UTC()
	record.Status = in.Status
	record.ClosedAt = &now
	if in.Summary != "" {
		record.Summary = in.Summary
	}
	if _, err := s.journal.Append(ctx, "case.closed", map[string]any{
		"case_id":     record.ID,
		"status":      record.Status,
		"disposition": in.Disposition,
		"closed_by":   in.ClosedBy,
		"closed_at":   now.Format(time.RFC3339Nano),
	}); err != nil {
		return nil, err
	}
	return record, nil
}

// GetCase looks up one case.
func (s *CaseService) GetCase(caseID string) (*Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.cases[caseID]
	if !ok {
		return nil, fmt.Errorf("surveillance: unknown case %s", caseID)
	}
	return record, nil
}

// ListCases returns all cases ordered by creation time.
func (s *CaseService) ListCases() []*Case {
	s.mu.Lock()
	defer s.mu.Unlock()
	cases := make([]*Case, 0, len(s.cases))
	for _, record := range s.cases {
		cases = append(cases, record)
	}
	sort.Slice(cases, func(i, j int) bool {
		if cases[i].CreatedAt.Equal(cases[j].CreatedAt) {
			return cases[i].ID < cases[j].ID
		}
		return cases[i].CreatedAt.Before(cases[j].CreatedAt)
	})
	return cases
}

// Items returns the attachments for a case.
func (s *CaseService) Items(caseID string) []CaseItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]CaseItem, len(s.items[caseID]))
	copy(items, s.items[caseID])
	return items
}

func (s *CaseService) triageCase(ctx context.Context) (*Case, error) {
	for _, record := range s.cases {
		if record.Title == triageTitle && record.Status == CaseOpen {
			return record, nil
		}
	}
	return s.createCase(ctx, CreateCaseInput{Title: triageTitle, Summary: "Pending alerts"})
}

func (s *CaseService) linkAlert(ctx context.Context, record *Case, alert Alert) error {
	for _, existing := range record.Alerts {
		if existing.ID == alert.ID {
			return nil
		}
	}
	record.Alerts = append(record.Alerts, alert)
	item := CaseItem{
		ID:     uuid.NewString(),
		CaseID: record.ID,
		Type:   CaseItemAlert,
		RefID:  alert.ID,
		Meta:   alert.Signal,
	}
	s.items[record.ID] = append(s.items[record.ID], item)
	s.alertKeyIndex[alertIndexKey(alert)] = record.ID
	if _, err := s.journal.Append(ctx, "case.alert_linked", map[string]any{
		"case_id":  record.ID,
		"alert_id": alert.ID,
	}); err != nil {
		return err
	}
	return nil
}

func alertIndexKey(alert Alert) string {
	return alert.Scenario + "|" + alert.Key
}
