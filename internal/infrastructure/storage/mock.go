package storage

import (
	"sort"
	"strings"
	"time"

	"github.com/reckonlabs/reckon/internal/domain/merchant"
	"github.com/reckonlabs/reckon/internal/domain/rules"
)

// MockRepository is an in-memory implementation of Repository for testing.
// It stores all data in maps and slices, making tests fast and isolated.
type MockRepository struct {
	entities    map[string]*merchant.Entity
	ruleset     map[string]*rules.Rule
	records     map[string]*Record
	entries     []*ChangeLogEntry
	runs        map[int64]*Run
	nextEntry   int64
	nextRun     int64
	nextRulePos int

	// Hooks for test assertions
	SaveEntityCalled     bool
	TouchEntityCalled    bool
	SaveRecordCalled     bool
	LastSavedRecord      *Record
	AppendEntryCalled    bool
	LastAppended         *ChangeLogEntry
	MarkUndoneCalled     bool
	SaveSnapshotCalled   bool
	DeleteSnapshotCalled bool
	StartRunCalled       bool
	CompleteRunCalled    bool

	// Error injection for testing error paths
	SaveEntityErr     error
	TouchEntityErr    error
	SaveRecordErr     error
	GetRecordErr      error
	AppendEntryErr    error
	MarkUndoneErr     error
	SaveSnapshotErr   error
	DeleteSnapshotErr error
	StartRunErr       error
}

// NewMockRepository creates a new mock repository for testing
func NewMockRepository() *MockRepository {
	return &MockRepository{
		entities: make(map[string]*merchant.Entity),
		ruleset:  make(map[string]*rules.Rule),
		records:  make(map[string]*Record),
		runs:     make(map[int64]*Run),
	}
}

// Compile-time check that MockRepository implements Repository
var _ Repository = (*MockRepository)(nil)

// Close does nothing for mock
func (m *MockRepository) Close() error {
	return nil
}

// --- EntityRepository ---

func (m *MockRepository) SaveEntity(e *merchant.Entity) error {
	m.SaveEntityCalled = true
	if m.SaveEntityErr != nil {
		return m.SaveEntityErr
	}
	// Deep copy to avoid test mutations
	copied := *e
	copied.Aliases = append([]string(nil), e.Aliases...)
	m.entities[e.ID] = &copied
	return nil
}

func (m *MockRepository) GetEntity(id string) (*merchant.Entity, error) {
	e, ok := m.entities[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *e
	return &copied, nil
}

func (m *MockRepository) ListEntities() ([]merchant.Entity, error) {
	out := make([]merchant.Entity, 0, len(m.entities))
	for _, e := range m.entities {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MockRepository) DeleteEntity(id string) error {
	if _, ok := m.entities[id]; !ok {
		return ErrNotFound
	}
	delete(m.entities, id)
	return nil
}

func (m *MockRepository) TouchEntity(id string, usedAt time.Time) error {
	m.TouchEntityCalled = true
	if m.TouchEntityErr != nil {
		return m.TouchEntityErr
	}
	e, ok := m.entities[id]
	if !ok {
		return ErrNotFound
	}
	e.UsageCount++
	e.LastUsedAt = usedAt
	return nil
}

// --- RuleRepository ---

func (m *MockRepository) SaveRule(r *rules.Rule) error {
	if r.Position == 0 {
		m.nextRulePos++
		r.Position = m.nextRulePos
	} else if r.Position > m.nextRulePos {
		m.nextRulePos = r.Position
	}
	copied := *r
	m.ruleset[r.ID] = &copied
	return nil
}

func (m *MockRepository) ListRules() ([]rules.Rule, error) {
	out := make([]rules.Rule, 0, len(m.ruleset))
	for _, r := range m.ruleset {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *MockRepository) DeleteRule(id string) error {
	if _, ok := m.ruleset[id]; !ok {
		return ErrNotFound
	}
	delete(m.ruleset, id)
	return nil
}

// --- RecordRepository ---

func (m *MockRepository) SaveRecord(rec *Record) error {
	m.SaveRecordCalled = true
	m.LastSavedRecord = rec
	if m.SaveRecordErr != nil {
		return m.SaveRecordErr
	}
	if rec.Status == "" {
		rec.Status = StatusUnreviewed
	}
	copied := *rec
	m.records[rec.ID] = &copied
	return nil
}

func (m *MockRepository) GetRecord(id string) (*Record, error) {
	if m.GetRecordErr != nil {
		return nil, m.GetRecordErr
	}
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *rec
	return &copied, nil
}

func (m *MockRepository) DeleteRecord(id string) error {
	if _, ok := m.records[id]; !ok {
		return ErrNotFound
	}
	delete(m.records, id)
	return nil
}

func (m *MockRepository) ListRecords(f RecordFilters) ([]Record, error) {
	var out []Record
	for _, rec := range m.records {
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		if f.NormalizedLabel != "" && merchant.Normalize(rec.Label) != f.NormalizedLabel {
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MockRepository) GetStats() (*Stats, error) {
	stats := &Stats{TierCounts: make(map[string]int)}
	for _, rec := range m.records {
		stats.TotalRecords++
		switch rec.Status {
		case StatusUnreviewed:
			stats.Unreviewed++
		case StatusClassified:
			stats.Classified++
		case StatusConfirmed:
			stats.Confirmed++
		}
		if rec.Status != StatusUnreviewed {
			switch {
			case rec.Confidence >= 70:
				stats.TierCounts["high"]++
			case rec.Confidence >= 40:
				stats.TierCounts["medium"]++
			case rec.Confidence >= 10:
				stats.TierCounts["low"]++
			default:
				stats.TierCounts["none"]++
			}
		}
	}
	for _, e := range m.entries {
		if e.State == StateActive {
			stats.ChangeLogActive++
		}
	}
	stats.EntityCount = len(m.entities)
	stats.RuleCount = len(m.ruleset)
	return stats, nil
}

// --- ChangeLogRepository ---

func (m *MockRepository) AppendEntry(e *ChangeLogEntry) (int64, error) {
	m.AppendEntryCalled = true
	m.LastAppended = e
	if m.AppendEntryErr != nil {
		return 0, m.AppendEntryErr
	}
	m.nextEntry++
	copied := *e
	copied.ID = m.nextEntry
	if copied.Timestamp.IsZero() {
		copied.Timestamp = time.Now().UTC()
	}
	if copied.State == "" {
		copied.State = StateActive
	}
	m.entries = append(m.entries, &copied)
	e.ID = copied.ID

	if len(m.entries) > ChangeLogRetention {
		m.entries = m.entries[len(m.entries)-ChangeLogRetention:]
	}
	return copied.ID, nil
}

func (m *MockRepository) GetEntry(id int64) (*ChangeLogEntry, error) {
	for _, e := range m.entries {
		if e.ID == id {
			copied := *e
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MockRepository) LatestActive() (*ChangeLogEntry, error) {
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].State == StateActive {
			copied := *m.entries[i]
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MockRepository) MarkUndone(id int64) error {
	m.MarkUndoneCalled = true
	if m.MarkUndoneErr != nil {
		return m.MarkUndoneErr
	}
	for _, e := range m.entries {
		if e.ID == id {
			e.State = StateUndone
			return nil
		}
	}
	return ErrNotFound
}

func (m *MockRepository) QueryEntries(f ChangeLogFilters) (*ChangeLogPage, error) {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = 20
	}

	var matched []*ChangeLogEntry
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if f.EntityType != "" && e.EntityType != f.EntityType {
			continue
		}
		if f.Kind != "" && string(e.Kind) != f.Kind {
			continue
		}
		if !f.From.IsZero() && e.Timestamp.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && e.Timestamp.After(f.To) {
			continue
		}
		if f.Search != "" && !strings.Contains(e.Summary, f.Search) {
			continue
		}
		copied := *e
		matched = append(matched, &copied)
	}

	page := &ChangeLogPage{TotalCount: len(matched), Page: f.Page, PageSize: f.PageSize}
	start := (f.Page - 1) * f.PageSize
	if start < len(matched) {
		end := start + f.PageSize
		if end > len(matched) {
			end = len(matched)
		}
		page.Entries = matched[start:end]
	}
	return page, nil
}

// --- RunRepository ---

func (m *MockRepository) StartRun(kind string) (int64, error) {
	m.StartRunCalled = true
	if m.StartRunErr != nil {
		return 0, m.StartRunErr
	}
	m.nextRun++
	m.runs[m.nextRun] = &Run{
		ID:        m.nextRun,
		Kind:      kind,
		StartedAt: time.Now().UTC(),
		Status:    "running",
	}
	return m.nextRun, nil
}

func (m *MockRepository) CompleteRun(runID int64, processed, skipped, failed int) error {
	m.CompleteRunCalled = true
	run, ok := m.runs[runID]
	if !ok {
		return ErrNotFound
	}
	run.CompletedAt = time.Now().UTC()
	run.Processed = processed
	run.Skipped = skipped
	run.Failed = failed
	if failed > 0 {
		run.Status = "completed_with_errors"
	} else {
		run.Status = "completed"
	}
	return nil
}

func (m *MockRepository) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	out := make([]Run, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- SnapshotStore ---

func (m *MockRepository) GetSnapshot(entityType, id string) (map[string]any, error) {
	v, err := m.lookup(entityType, id)
	if err != nil {
		return nil, err
	}
	return toSnapshot(v)
}

func (m *MockRepository) SaveSnapshot(entityType, id string, fields map[string]any) error {
	m.SaveSnapshotCalled = true
	if m.SaveSnapshotErr != nil {
		return m.SaveSnapshotErr
	}
	current, err := m.GetSnapshot(entityType, id)
	if err == ErrNotFound {
		current = map[string]any{}
	} else if err != nil {
		return err
	}
	merged := mergeSnapshot(current, fields, id)

	switch entityType {
	case EntityTypeRecord:
		var rec Record
		if err := fromSnapshot(merged, &rec); err != nil {
			return err
		}
		copied := rec
		m.records[id] = &copied
	case EntityTypeEntity:
		var e merchant.Entity
		if err := fromSnapshot(merged, &e); err != nil {
			return err
		}
		copied := e
		m.entities[id] = &copied
	case EntityTypeRule:
		var r rules.Rule
		if err := fromSnapshot(merged, &r); err != nil {
			return err
		}
		copied := r
		m.ruleset[id] = &copied
	default:
		return ErrNotFound
	}
	return nil
}

func (m *MockRepository) DeleteSnapshot(entityType, id string) error {
	m.DeleteSnapshotCalled = true
	if m.DeleteSnapshotErr != nil {
		return m.DeleteSnapshotErr
	}
	switch entityType {
	case EntityTypeRecord:
		return m.DeleteRecord(id)
	case EntityTypeEntity:
		return m.DeleteEntity(id)
	case EntityTypeRule:
		return m.DeleteRule(id)
	default:
		return ErrNotFound
	}
}

func (m *MockRepository) lookup(entityType, id string) (any, error) {
	switch entityType {
	case EntityTypeRecord:
		rec, ok := m.records[id]
		if !ok {
			return nil, ErrNotFound
		}
		return rec, nil
	case EntityTypeEntity:
		e, ok := m.entities[id]
		if !ok {
			return nil, ErrNotFound
		}
		return e, nil
	case EntityTypeRule:
		r, ok := m.ruleset[id]
		if !ok {
			return nil, ErrNotFound
		}
		return r, nil
	default:
		return nil, ErrNotFound
	}
}
