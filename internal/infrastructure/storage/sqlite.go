package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/reckonlabs/reckon/internal/domain/merchant"
	"github.com/reckonlabs/reckon/internal/domain/rules"
)

// Storage provides SQLite-backed persistence for the engine.
type Storage struct {
	db *sql.DB
}

// NewStorage creates a new storage instance with SQLite database
func NewStorage(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable foreign key constraints (SQLite-specific)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Storage{db: db}

	if err := s.runMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

// Compile-time check that Storage implements Repository
var _ Repository = (*Storage)(nil)

// --- EntityRepository ---

// SaveEntity inserts or updates a catalog entity
func (s *Storage) SaveEntity(e *merchant.Entity) error {
	aliasesJSON, err := json.Marshal(e.Aliases)
	if err != nil {
		return err
	}

	query := `
	INSERT OR REPLACE INTO entities
	(id, name, aliases_json, default_category, default_kind, personal,
	 industry, confidence_boost, usage_count, last_used_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var lastUsed any
	if !e.LastUsedAt.IsZero() {
		lastUsed = e.LastUsedAt
	}

	_, err = s.db.Exec(query,
		e.ID,
		e.Name,
		string(aliasesJSON),
		e.DefaultCategory,
		e.DefaultKind,
		e.Personal,
		e.Industry,
		e.ConfidenceBoost,
		e.UsageCount,
		lastUsed,
	)
	return err
}

// GetEntity retrieves an entity by id
func (s *Storage) GetEntity(id string) (*merchant.Entity, error) {
	row := s.db.QueryRow(`
	SELECT id, name, aliases_json, default_category, default_kind, personal,
	       industry, confidence_boost, usage_count, last_used_at
	FROM entities WHERE id = ?
	`, id)

	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// ListEntities returns the full catalog, ordered by name for determinism
func (s *Storage) ListEntities() ([]merchant.Entity, error) {
	rows, err := s.db.Query(`
	SELECT id, name, aliases_json, default_category, default_kind, personal,
	       industry, confidence_boost, usage_count, last_used_at
	FROM entities ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entities []merchant.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, *e)
	}
	return entities, rows.Err()
}

// DeleteEntity removes an entity from matching eligibility
func (s *Storage) DeleteEntity(id string) error {
	res, err := s.db.Exec(`DELETE FROM entities WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// TouchEntity increments usage count and stamps last use
func (s *Storage) TouchEntity(id string, usedAt time.Time) error {
	res, err := s.db.Exec(`
	UPDATE entities SET usage_count = usage_count + 1, last_used_at = ?
	WHERE id = ?
	`, usedAt, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*merchant.Entity, error) {
	var e merchant.Entity
	var aliasesJSON string
	var lastUsed sql.NullTime
	err := row.Scan(
		&e.ID,
		&e.Name,
		&aliasesJSON,
		&e.DefaultCategory,
		&e.DefaultKind,
		&e.Personal,
		&e.Industry,
		&e.ConfidenceBoost,
		&e.UsageCount,
		&lastUsed,
	)
	if err != nil {
		return nil, err
	}
	if aliasesJSON != "" {
		_ = json.Unmarshal([]byte(aliasesJSON), &e.Aliases)
	}
	if lastUsed.Valid {
		e.LastUsedAt = lastUsed.Time
	}
	return &e, nil
}

// --- RuleRepository ---

// SaveRule inserts or updates a rule; a zero Position gets the next index
func (s *Storage) SaveRule(r *rules.Rule) error {
	if r.Position == 0 {
		if err := s.db.QueryRow(`SELECT COALESCE(MAX(position), 0) + 1 FROM rules`).Scan(&r.Position); err != nil {
			return err
		}
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(`
	INSERT OR REPLACE INTO rules
	(id, pattern, mode, priority, kind, category, position, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID,
		r.Pattern,
		string(r.Mode),
		r.Priority,
		r.Verdict.Kind,
		r.Verdict.Category,
		r.Position,
		r.CreatedAt,
	)
	return err
}

// ListRules returns all rules in insertion order
func (s *Storage) ListRules() ([]rules.Rule, error) {
	rows, err := s.db.Query(`
	SELECT id, pattern, mode, priority, kind, category, position, created_at
	FROM rules ORDER BY position
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ruleset []rules.Rule
	for rows.Next() {
		var r rules.Rule
		var mode string
		if err := rows.Scan(&r.ID, &r.Pattern, &mode, &r.Priority,
			&r.Verdict.Kind, &r.Verdict.Category, &r.Position, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Mode = rules.MatchMode(mode)
		ruleset = append(ruleset, r)
	}
	return ruleset, rows.Err()
}

// DeleteRule removes a rule by id
func (s *Storage) DeleteRule(id string) error {
	res, err := s.db.Exec(`DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Storage) getRule(id string) (*rules.Rule, error) {
	row := s.db.QueryRow(`
	SELECT id, pattern, mode, priority, kind, category, position, created_at
	FROM rules WHERE id = ?
	`, id)

	var r rules.Rule
	var mode string
	err := row.Scan(&r.ID, &r.Pattern, &mode, &r.Priority,
		&r.Verdict.Kind, &r.Verdict.Category, &r.Position, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Mode = rules.MatchMode(mode)
	return &r, nil
}

// --- RecordRepository ---

// SaveRecord inserts or updates a record
func (s *Storage) SaveRecord(rec *Record) error {
	if rec.Status == "" {
		rec.Status = StatusUnreviewed
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(`
	INSERT OR REPLACE INTO records
	(id, label, label_normalized, amount, date, kind, category, status,
	 confidence, classified_by, receipt_id, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.Label,
		merchant.Normalize(rec.Label),
		rec.Amount,
		rec.Date,
		rec.Kind,
		rec.Category,
		rec.Status,
		rec.Confidence,
		rec.ClassifiedBy,
		rec.ReceiptID,
		rec.CreatedAt,
	)
	return err
}

// GetRecord retrieves a record by id
func (s *Storage) GetRecord(id string) (*Record, error) {
	row := s.db.QueryRow(`
	SELECT id, label, amount, date, kind, category, status, confidence,
	       classified_by, receipt_id, created_at
	FROM records WHERE id = ?
	`, id)

	var rec Record
	err := row.Scan(
		&rec.ID,
		&rec.Label,
		&rec.Amount,
		&rec.Date,
		&rec.Kind,
		&rec.Category,
		&rec.Status,
		&rec.Confidence,
		&rec.ClassifiedBy,
		&rec.ReceiptID,
		&rec.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// DeleteRecord removes a record by id
func (s *Storage) DeleteRecord(id string) error {
	res, err := s.db.Exec(`DELETE FROM records WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// ListRecords returns records matching the filters, newest first
func (s *Storage) ListRecords(f RecordFilters) ([]Record, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}

	var where []string
	var args []any
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.NormalizedLabel != "" {
		where = append(where, "label_normalized = ?")
		args = append(args, f.NormalizedLabel)
	}

	query := `
	SELECT id, label, amount, date, kind, category, status, confidence,
	       classified_by, receipt_id, created_at
	FROM records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date DESC, id LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.ID, &rec.Label, &rec.Amount, &rec.Date, &rec.Kind,
			&rec.Category, &rec.Status, &rec.Confidence,
			&rec.ClassifiedBy, &rec.ReceiptID, &rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetStats returns aggregate statistics
func (s *Storage) GetStats() (*Stats, error) {
	stats := &Stats{TierCounts: make(map[string]int)}

	err := s.db.QueryRow(`
	SELECT
		COUNT(*),
		COUNT(CASE WHEN status = 'unreviewed' THEN 1 END),
		COUNT(CASE WHEN status = 'classified' THEN 1 END),
		COUNT(CASE WHEN status = 'confirmed' THEN 1 END)
	FROM records
	`).Scan(&stats.TotalRecords, &stats.Unreviewed, &stats.Classified, &stats.Confirmed)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
	SELECT
		CASE
			WHEN confidence >= 70 THEN 'high'
			WHEN confidence >= 40 THEN 'medium'
			WHEN confidence >= 10 THEN 'low'
			ELSE 'none'
		END AS tier,
		COUNT(*)
	FROM records
	WHERE status != 'unreviewed'
	GROUP BY tier
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var tier string
		var count int
		if err := rows.Scan(&tier, &count); err != nil {
			return nil, err
		}
		stats.TierCounts[tier] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM change_log WHERE state = 'active'`).Scan(&stats.ChangeLogActive); err != nil {
		return nil, err
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM entities`).Scan(&stats.EntityCount); err != nil {
		return nil, err
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM rules`).Scan(&stats.RuleCount); err != nil {
		return nil, err
	}

	return stats, nil
}

// --- ChangeLogRepository ---

// AppendEntry persists an entry and evicts the oldest beyond retention
func (s *Storage) AppendEntry(e *ChangeLogEntry) (int64, error) {
	priorJSON, newJSON, err := marshalSnapshots(e)
	if err != nil {
		return 0, err
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.State == "" {
		e.State = StateActive
	}

	res, err := s.db.Exec(`
	INSERT INTO change_log
	(timestamp, kind, entity_type, entity_id, prior_json, new_json, summary, state)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.Timestamp,
		string(e.Kind),
		e.EntityType,
		e.EntityID,
		priorJSON,
		newJSON,
		e.Summary,
		string(e.State),
	)
	if err != nil {
		return 0, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	e.ID = id

	// Retention: oldest entries lose undo reach, applied state is untouched
	_, err = s.db.Exec(`
	DELETE FROM change_log
	WHERE id NOT IN (SELECT id FROM change_log ORDER BY id DESC LIMIT ?)
	`, ChangeLogRetention)
	if err != nil {
		return 0, err
	}

	return id, nil
}

// GetEntry retrieves an entry by id
func (s *Storage) GetEntry(id int64) (*ChangeLogEntry, error) {
	row := s.db.QueryRow(`
	SELECT id, timestamp, kind, entity_type, entity_id, prior_json, new_json, summary, state
	FROM change_log WHERE id = ?
	`, id)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// LatestActive returns the most recent active entry
func (s *Storage) LatestActive() (*ChangeLogEntry, error) {
	row := s.db.QueryRow(`
	SELECT id, timestamp, kind, entity_type, entity_id, prior_json, new_json, summary, state
	FROM change_log WHERE state = 'active' ORDER BY id DESC LIMIT 1
	`)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// MarkUndone flips an entry's state to undone
func (s *Storage) MarkUndone(id int64) error {
	res, err := s.db.Exec(`UPDATE change_log SET state = 'undone' WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// QueryEntries returns a filtered, paginated view of the log, newest first
func (s *Storage) QueryEntries(f ChangeLogFilters) (*ChangeLogPage, error) {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = 20
	}

	var where []string
	var args []any
	if f.EntityType != "" {
		where = append(where, "entity_type = ?")
		args = append(args, f.EntityType)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, f.Kind)
	}
	if !f.From.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		where = append(where, "timestamp <= ?")
		args = append(args, f.To)
	}
	if f.Search != "" {
		where = append(where, "summary LIKE ?")
		args = append(args, "%"+f.Search+"%")
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	page := &ChangeLogPage{Page: f.Page, PageSize: f.PageSize}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM change_log`+clause, args...).Scan(&page.TotalCount); err != nil {
		return nil, err
	}

	query := `
	SELECT id, timestamp, kind, entity_type, entity_id, prior_json, new_json, summary, state
	FROM change_log` + clause + ` ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, f.PageSize, (f.Page-1)*f.PageSize)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		page.Entries = append(page.Entries, e)
	}
	return page, rows.Err()
}

func marshalSnapshots(e *ChangeLogEntry) (string, string, error) {
	var priorJSON, newJSON string
	if e.Prior != nil {
		data, err := json.Marshal(e.Prior)
		if err != nil {
			return "", "", err
		}
		priorJSON = string(data)
	}
	if e.New != nil {
		data, err := json.Marshal(e.New)
		if err != nil {
			return "", "", err
		}
		newJSON = string(data)
	}
	return priorJSON, newJSON, nil
}

func scanEntry(row rowScanner) (*ChangeLogEntry, error) {
	var e ChangeLogEntry
	var kind, state, priorJSON, newJSON string
	err := row.Scan(
		&e.ID,
		&e.Timestamp,
		&kind,
		&e.EntityType,
		&e.EntityID,
		&priorJSON,
		&newJSON,
		&e.Summary,
		&state,
	)
	if err != nil {
		return nil, err
	}
	e.Kind = ActionKind(kind)
	e.State = EntryState(state)
	if priorJSON != "" {
		_ = json.Unmarshal([]byte(priorJSON), &e.Prior)
	}
	if newJSON != "" {
		_ = json.Unmarshal([]byte(newJSON), &e.New)
	}
	return &e, nil
}

// --- RunRepository ---

// StartRun records the start of a batch run
func (s *Storage) StartRun(kind string) (int64, error) {
	res, err := s.db.Exec(`
	INSERT INTO runs (kind, status) VALUES (?, 'running')
	`, kind)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// CompleteRun records the completion of a batch run
func (s *Storage) CompleteRun(runID int64, processed, skipped, failed int) error {
	_, err := s.db.Exec(`
	UPDATE runs
	SET completed_at = CURRENT_TIMESTAMP,
	    processed = ?,
	    skipped = ?,
	    failed = ?,
	    status = CASE WHEN ? > 0 THEN 'completed_with_errors' ELSE 'completed' END
	WHERE id = ?
	`, processed, skipped, failed, failed, runID)
	return err
}

// ListRuns returns recent runs, newest first
func (s *Storage) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(`
	SELECT id, kind, started_at, completed_at, processed, skipped, failed, status
	FROM runs ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		var r Run
		var completed sql.NullTime
		if err := rows.Scan(&r.ID, &r.Kind, &r.StartedAt, &completed,
			&r.Processed, &r.Skipped, &r.Failed, &r.Status); err != nil {
			return nil, err
		}
		if completed.Valid {
			r.CompletedAt = completed.Time
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// --- SnapshotStore ---

// GetSnapshot returns the current field values of an entity
func (s *Storage) GetSnapshot(entityType, id string) (map[string]any, error) {
	switch entityType {
	case EntityTypeRecord:
		rec, err := s.GetRecord(id)
		if err != nil {
			return nil, err
		}
		return toSnapshot(rec)
	case EntityTypeEntity:
		e, err := s.GetEntity(id)
		if err != nil {
			return nil, err
		}
		return toSnapshot(e)
	case EntityTypeRule:
		r, err := s.getRule(id)
		if err != nil {
			return nil, err
		}
		return toSnapshot(r)
	default:
		return nil, fmt.Errorf("unknown entity type %q", entityType)
	}
}

// SaveSnapshot writes field values onto an entity, creating it if missing
func (s *Storage) SaveSnapshot(entityType, id string, fields map[string]any) error {
	current, err := s.GetSnapshot(entityType, id)
	if errors.Is(err, ErrNotFound) {
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
		return s.SaveRecord(&rec)
	case EntityTypeEntity:
		var e merchant.Entity
		if err := fromSnapshot(merged, &e); err != nil {
			return err
		}
		return s.SaveEntity(&e)
	case EntityTypeRule:
		var r rules.Rule
		if err := fromSnapshot(merged, &r); err != nil {
			return err
		}
		return s.SaveRule(&r)
	default:
		return fmt.Errorf("unknown entity type %q", entityType)
	}
}

// DeleteSnapshot removes an entity
func (s *Storage) DeleteSnapshot(entityType, id string) error {
	switch entityType {
	case EntityTypeRecord:
		return s.DeleteRecord(id)
	case EntityTypeEntity:
		return s.DeleteEntity(id)
	case EntityTypeRule:
		return s.DeleteRule(id)
	default:
		return fmt.Errorf("unknown entity type %q", entityType)
	}
}

// requireAffected maps zero-row mutations to ErrNotFound
func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
