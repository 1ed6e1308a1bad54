// Package database provides identity-store schema creation
package database

import (
	"database/sql"
	"fmt"
)

// TableCreator handles the creation of the identity-store schema.
type TableCreator struct{}

// NewTableCreator creates a new TableCreator.
func NewTableCreator() *TableCreator {
	return &TableCreator{}
}

// CreateSchema executes all necessary queries to build the identity-store
// tables and indexes. Every statement is idempotent.
func (tc *TableCreator) CreateSchema(db *sql.DB) error {
	for _, tableSQL := range tables {
		if _, err := db.Exec(tableSQL); err != nil {
			return fmt.Errorf("failed to create table for query [%s]: %w", tableSQL, err)
		}
	}

	for _, indexSQL := range indexes {
		if _, err := db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index for query [%s]: %w", indexSQL, err)
		}
	}
	return nil
}

var tables = []string{
	`CREATE TABLE IF NOT EXISTS visitor_sessions (
		id TEXT PRIMARY KEY,
		anonymous_id TEXT NOT NULL,
		session_hint TEXT,
		utm_source TEXT,
		utm_medium TEXT,
		utm_campaign TEXT,
		utm_term TEXT,
		utm_content TEXT,
		gclid TEXT,
		fbclid TEXT,
		referrer TEXT,
		landing_page TEXT NOT NULL,
		user_agent TEXT,
		region TEXT,
		fp_screen TEXT,
		fp_timezone TEXT,
		fp_language TEXT,
		fp_fragment TEXT,
		matched INTEGER NOT NULL DEFAULT 0,
		matched_lead_id TEXT,
		matched_at TEXT,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS crm_leads (
		id TEXT PRIMARY KEY,
		source_lead_id TEXT NOT NULL UNIQUE,
		session_hint TEXT,
		email TEXT,
		phone TEXT,
		name TEXT,
		vehicle_interest TEXT,
		estimated_value REAL NOT NULL DEFAULT 0,
		submitted_at TEXT NOT NULL,
		matched INTEGER NOT NULL DEFAULT 0,
		matched_session_id TEXT,
		match_method TEXT,
		matched_at TEXT,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS identity_matches (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES visitor_sessions(id),
		lead_id TEXT NOT NULL REFERENCES crm_leads(id),
		method TEXT NOT NULL,
		confidence REAL NOT NULL,
		raw_score REAL,
		utm_source TEXT,
		utm_medium TEXT,
		utm_campaign TEXT,
		utm_term TEXT,
		utm_content TEXT,
		gclid TEXT,
		fbclid TEXT,
		landing_page TEXT,
		referrer TEXT,
		converted INTEGER NOT NULL DEFAULT 0,
		conversion_value REAL,
		converted_at TEXT,
		created_at TEXT NOT NULL,
		UNIQUE(session_id, lead_id)
	)`,
	`CREATE TABLE IF NOT EXISTS analytics_buckets (
		bucket_date TEXT NOT NULL,
		bucket_hour INTEGER NOT NULL,
		total_sessions INTEGER NOT NULL DEFAULT 0,
		total_leads INTEGER NOT NULL DEFAULT 0,
		total_matches INTEGER NOT NULL DEFAULT 0,
		match_rate REAL NOT NULL DEFAULT 0,
		method_breakdown TEXT NOT NULL DEFAULT '{}',
		attributed_revenue REAL NOT NULL DEFAULT 0,
		computed_at TEXT NOT NULL,
		PRIMARY KEY (bucket_date, bucket_hour)
	)`,
}

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_sessions_hint ON visitor_sessions(session_hint)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_created ON visitor_sessions(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_matched_created ON visitor_sessions(matched, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_leads_submitted ON crm_leads(submitted_at)`,
	`CREATE INDEX IF NOT EXISTS idx_matches_created ON identity_matches(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_matches_lead ON identity_matches(lead_id)`,
}
