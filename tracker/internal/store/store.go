// Package store provides the data access layer for the price tracker.
//
// The store owns the idempotency contract of the history table: appending
// a fact whose (item, colorway, scraped_at) key already exists is a no-op,
// so orchestrator retries that partially succeeded never double-count.
package store

import "database/sql"

// Store wraps the tracker database.
type Store struct {
	DB *sql.DB
}

// NewStore creates a Store from an already-opened database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}

// ApplySchema applies the full tracker schema. Idempotent.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
