package storage

import (
	"database/sql"
	"fmt"
	"log"
)

// Migration represents a database schema migration
type Migration struct {
	Version int
	Name    string
	Up      func(*sql.Tx) error
}

// allMigrations defines all migrations in order
var allMigrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up:      migration001InitialSchema,
	},
	{
		Version: 2,
		Name:    "add_runs_table",
		Up:      migration002AddRunsTable,
	},
	{
		Version: 3,
		Name:    "seed_catalog",
		Up:      migration003SeedCatalog,
	},
}

// runMigrations executes all pending migrations
func (s *Storage) runMigrations() error {
	// Ensure migrations table exists
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	// Get applied migrations
	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	// Run pending migrations
	for _, migration := range allMigrations {
		if applied[migration.Version] {
			continue // Already applied
		}

		log.Printf("Running migration %d: %s", migration.Version, migration.Name)

		// Run migration in transaction
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", migration.Version, err)
		}

		// Execute migration
		if err := migration.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", migration.Version, migration.Name, err)
		}

		// Record migration
		_, err = tx.Exec(`
			INSERT INTO schema_migrations (version, name) VALUES (?, ?)
		`, migration.Version, migration.Name)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		// Commit
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// ensureMigrationsTable creates the schema_migrations table
func (s *Storage) ensureMigrationsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	_, err := s.db.Exec(query)
	return err
}

// getAppliedMigrations returns a set of applied migration versions
func (s *Storage) getAppliedMigrations() (map[int]bool, error) {
	applied := make(map[int]bool)

	rows, err := s.db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}

	return applied, rows.Err()
}

// ================================================================
// MIGRATION FUNCTIONS
// ================================================================

// migration001InitialSchema creates the catalog, rules, records and
// change-log tables
func migration001InitialSchema(db *sql.Tx) error {
	queries := []string{
		// Known-entity catalog used by the name matcher
		`CREATE TABLE IF NOT EXISTS entities (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			aliases_json TEXT DEFAULT '[]',
			default_category TEXT DEFAULT '',
			default_kind TEXT DEFAULT '',
			personal BOOLEAN DEFAULT 0,
			industry TEXT DEFAULT '',
			confidence_boost INTEGER DEFAULT 0,
			usage_count INTEGER DEFAULT 0,
			last_used_at TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_entities_name
		 ON entities(name)`,

		// User-defined classification rules
		`CREATE TABLE IF NOT EXISTS rules (
			id TEXT PRIMARY KEY,
			pattern TEXT NOT NULL,
			mode TEXT NOT NULL DEFAULT 'contains',
			priority INTEGER NOT NULL DEFAULT 100,
			kind TEXT DEFAULT '',
			category TEXT DEFAULT '',
			position INTEGER NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_rules_priority
		 ON rules(priority, position)`,

		// Records under classification
		`CREATE TABLE IF NOT EXISTS records (
			id TEXT PRIMARY KEY,
			label TEXT NOT NULL,
			label_normalized TEXT NOT NULL DEFAULT '',
			amount REAL NOT NULL DEFAULT 0,
			date TIMESTAMP,
			kind TEXT DEFAULT '',
			category TEXT DEFAULT '',
			status TEXT NOT NULL DEFAULT 'unreviewed',
			confidence INTEGER DEFAULT 0,
			classified_by TEXT DEFAULT '',
			receipt_id TEXT DEFAULT '',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_records_status
		 ON records(status)`,

		`CREATE INDEX IF NOT EXISTS idx_records_label_normalized
		 ON records(label_normalized)`,

		`CREATE INDEX IF NOT EXISTS idx_records_date
		 ON records(date DESC)`,

		// Reversible change log
		`CREATE TABLE IF NOT EXISTS change_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TIMESTAMP NOT NULL,
			kind TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			prior_json TEXT DEFAULT '',
			new_json TEXT DEFAULT '',
			summary TEXT DEFAULT '',
			state TEXT NOT NULL DEFAULT 'active'
		)`,

		`CREATE INDEX IF NOT EXISTS idx_change_log_state
		 ON change_log(state)`,

		`CREATE INDEX IF NOT EXISTS idx_change_log_entity
		 ON change_log(entity_type, entity_id)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}

	return nil
}

// migration002AddRunsTable creates the runs table for batch tracking
func migration002AddRunsTable(db *sql.Tx) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			started_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			completed_at TIMESTAMP,
			processed INTEGER DEFAULT 0,
			skipped INTEGER DEFAULT 0,
			failed INTEGER DEFAULT 0,
			status TEXT DEFAULT 'running'
		)`,

		`CREATE INDEX IF NOT EXISTS idx_runs_started
		 ON runs(started_at DESC)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

// migration003SeedCatalog seeds a handful of common merchants so a fresh
// database produces useful matches before anyone curates the catalog.
func migration003SeedCatalog(db *sql.Tx) error {
	seeds := []struct {
		id, name, aliases, category, kind string
		boost                             int
	}{
		{"seed-amazon", "Amazon", `["AMZN","AMZN MKTP","AMAZON.COM"]`, "Shopping", "expense", 5},
		{"seed-starbucks", "Starbucks", `["SBUX","STARBUCKS COFFEE"]`, "Coffee Shops", "expense", 5},
		{"seed-uber", "Uber", `["UBER TRIP","UBER *TRIP"]`, "Transport", "expense", 0},
		{"seed-netflix", "Netflix", `["NETFLIX.COM"]`, "Subscriptions", "expense", 10},
		{"seed-shell", "Shell", `["SHELL OIL","SHELL SERVICE"]`, "Gas", "expense", 0},
	}

	for _, seed := range seeds {
		_, err := db.Exec(`
		INSERT OR IGNORE INTO entities
		(id, name, aliases_json, default_category, default_kind, confidence_boost)
		VALUES (?, ?, ?, ?, ?, ?)
		`, seed.id, seed.name, seed.aliases, seed.category, seed.kind, seed.boost)
		if err != nil {
			return fmt.Errorf("failed to seed catalog: %w", err)
		}
	}

	return nil
}
