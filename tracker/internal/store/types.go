package store

// Item is one tracked product page. One row per distinct URL.
type Item struct {
	ID              string `json:"id"`
	URL             string `json:"url"`
	Name            string `json:"name"`
	Brand           string `json:"brand"`
	Category        string `json:"category"`
	ScrapeFrequency string `json:"scrape_frequency"`
	CreatedAt       int64  `json:"created_at"` // ms since epoch
}

// Fact is one price observation. Append-only; never mutated after creation.
// (ItemID, Colorway, ScrapedAt) is the idempotency key.
type Fact struct {
	ID          string   `json:"id"`
	ItemID      string   `json:"item_id"`
	ScrapedAt   int64    `json:"scraped_at"` // ms since epoch, shared by all colorways of one run
	Colorway    string   `json:"colorway"`
	ListedPrice *float64 `json:"listed_price,omitempty"`
	SalePrice   *float64 `json:"sale_price,omitempty"`
	Sizes       []string `json:"sizes"`
}

// InStock reports whether the observation had any size available.
// Out-of-stock is derived, never stored.
func (f *Fact) InStock() bool {
	return len(f.Sizes) > 0
}

// LogEntry is one terminal scrape outcome. Immutable audit trail.
type LogEntry struct {
	ID           string `json:"id"`
	ItemID       string `json:"item_id"` // empty if the item was deleted
	ScrapedAt    int64  `json:"scraped_at"`
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
}
