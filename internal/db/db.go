package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	*sql.DB
}

// New opens the SQLite database. WAL allows status reads while an
// admission transaction holds the write lock; _txlock=immediate makes
// every write transaction take the lock up front so concurrent
// admissions serialize instead of failing on lock upgrade.
func New(path string, busyTimeout time.Duration) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on&_txlock=immediate",
		path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &DB{db}, nil
}

func (db *DB) Migrate() error {
	migrations := []string{
		migrationQuotas,
		migrationQuotaBuckets,
		migrationRespondents,
		migrationAPIKeys,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

const migrationQuotas = `
CREATE TABLE IF NOT EXISTS quotas (
    id TEXT PRIMARY KEY,
    survey_id TEXT UNIQUE NOT NULL,
    total_target INTEGER NOT NULL DEFAULT 0,
    current_count INTEGER NOT NULL DEFAULT 0,
    qualified_count INTEGER NOT NULL DEFAULT 0,
    terminated_count INTEGER NOT NULL DEFAULT 0,
    quota_full_count INTEGER NOT NULL DEFAULT 0,
    is_active BOOLEAN NOT NULL DEFAULT 1,
    vendor_managed BOOLEAN NOT NULL DEFAULT 0,
    completed_url TEXT,
    terminated_url TEXT,
    quota_full_url TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_quotas_survey_id ON quotas(survey_id);
`

const migrationQuotaBuckets = `
CREATE TABLE IF NOT EXISTS quota_buckets (
    id TEXT PRIMARY KEY,
    quota_id TEXT NOT NULL REFERENCES quotas(id) ON DELETE CASCADE,
    dimension_key TEXT NOT NULL,
    label TEXT,
    rule JSON NOT NULL,
    target_count INTEGER,
    target_percentage REAL,
    current_count INTEGER NOT NULL DEFAULT 0,
    is_active BOOLEAN NOT NULL DEFAULT 1,
    position INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_quota_buckets_quota ON quota_buckets(quota_id);
CREATE INDEX IF NOT EXISTS idx_quota_buckets_dimension ON quota_buckets(quota_id, dimension_key);
`

const migrationRespondents = `
CREATE TABLE IF NOT EXISTS respondents (
    id TEXT PRIMARY KEY,
    quota_id TEXT NOT NULL REFERENCES quotas(id) ON DELETE CASCADE,
    survey_id TEXT NOT NULL,
    vendor_respondent_id TEXT,
    status TEXT NOT NULL,
    answers JSON,
    response_id TEXT,
    redirect_url_called TEXT,
    redirect_called_at TIMESTAMP,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_respondents_quota ON respondents(quota_id);
CREATE INDEX IF NOT EXISTS idx_respondents_survey ON respondents(survey_id);
CREATE INDEX IF NOT EXISTS idx_respondents_status ON respondents(status);
CREATE INDEX IF NOT EXISTS idx_respondents_vendor ON respondents(vendor_respondent_id);
`

const migrationAPIKeys = `
CREATE TABLE IF NOT EXISTS api_keys (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    key_hash TEXT UNIQUE NOT NULL,
    key_prefix TEXT NOT NULL,
    active BOOLEAN NOT NULL DEFAULT 1,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    last_used_at TIMESTAMP
);
`
