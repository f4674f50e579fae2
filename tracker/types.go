package tracker

import (
	"github.com/hazyhaar/prix/tracker/internal/store"
)

// Re-export store types for the public API.
type (
	// TrackedItem is one product page under watch.
	TrackedItem = store.Item
	// PriceFact is one price observation of one colorway. Colorway is
	// empty for single-variant items.
	PriceFact = store.Fact
	// ScrapeLogEntry is one terminal run outcome in the audit trail.
	ScrapeLogEntry = store.LogEntry
)

// Outcome is the terminal result of one item run.
type Outcome struct {
	ItemID           string `json:"item_id"`
	Success          bool   `json:"success"`
	FactsWritten     int    `json:"facts_written"`
	SkippedColorways int    `json:"skipped_colorways"`
	Attempts         int    `json:"attempts"`
	Err              error  `json:"-"`
}

// BatchReport summarises one RunBatch sweep.
type BatchReport struct {
	Items            int        `json:"items"`
	Succeeded        int        `json:"succeeded"`
	Failed           int        `json:"failed"`
	FactsWritten     int        `json:"facts_written"`
	SkippedColorways int        `json:"skipped_colorways"`
	Outcomes         []*Outcome `json:"outcomes"`
}

// CompactionSummary aggregates CompactAll across every series.
type CompactionSummary struct {
	Series   int `json:"series"`
	Examined int `json:"examined"`
	Deleted  int `json:"deleted"`
	Kept     int `json:"kept"`
}
