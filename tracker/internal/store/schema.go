package store

// Schema is the complete tracker schema.
//
// colorway is TEXT NOT NULL DEFAULT '' rather than nullable: SQLite treats
// NULLs as distinct in unique indexes, which would break the idempotency
// key. An empty string means "single-variant item".
//
// There is deliberately no stock column on price_facts: out-of-stock is
// derived from sizes_json = '[]'.
const Schema = `
-- Tracked items (registry-owned, read-mostly)
CREATE TABLE IF NOT EXISTS items (
    id               TEXT PRIMARY KEY,
    url              TEXT NOT NULL UNIQUE,
    name             TEXT NOT NULL DEFAULT '',
    brand            TEXT NOT NULL DEFAULT '',
    category         TEXT NOT NULL DEFAULT '',
    scrape_frequency TEXT NOT NULL DEFAULT 'daily',
    created_at       INTEGER NOT NULL
);

-- Price observations: append-only time series per (item, colorway)
CREATE TABLE IF NOT EXISTS price_facts (
    id            TEXT PRIMARY KEY,
    item_id       TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
    scraped_at    INTEGER NOT NULL,
    colorway      TEXT NOT NULL DEFAULT '',
    listed_price  REAL,
    sale_price    REAL,
    sizes_json    TEXT NOT NULL DEFAULT '[]'
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_facts_idempotency
    ON price_facts(item_id, colorway, scraped_at);
CREATE INDEX IF NOT EXISTS idx_facts_series
    ON price_facts(item_id, colorway, scraped_at DESC);

-- Scrape attempt audit trail: one row per terminal item-run outcome
CREATE TABLE IF NOT EXISTS scrape_log (
    id            TEXT PRIMARY KEY,
    item_id       TEXT REFERENCES items(id) ON DELETE SET NULL,
    scraped_at    INTEGER NOT NULL,
    success       INTEGER NOT NULL,
    error_message TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_scrape_log_item ON scrape_log(item_id, scraped_at DESC);
`
