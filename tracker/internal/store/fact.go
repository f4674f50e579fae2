package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hazyhaar/prix/dbopen"
)

// AppendFact inserts a price observation. A duplicate idempotency key
// (item_id, colorway, scraped_at) is a no-op, not an error. Returns
// whether a row was actually written.
func (s *Store) AppendFact(ctx context.Context, f *Fact) (bool, error) {
	sizes := f.Sizes
	if sizes == nil {
		sizes = []string{}
	}
	sizesJSON, err := json.Marshal(sizes)
	if err != nil {
		return false, fmt.Errorf("store: marshal sizes: %w", err)
	}

	res, err := dbopen.Exec(ctx, s.DB,
		`INSERT INTO price_facts (id, item_id, scraped_at, colorway, listed_price, sale_price, sizes_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_id, colorway, scraped_at) DO NOTHING`,
		f.ID, f.ItemID, f.ScrapedAt, f.Colorway, f.ListedPrice, f.SalePrice, string(sizesJSON),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// QueryHistory returns the facts of one series with scraped_at in
// [from, to), oldest first. Zero bounds mean unbounded.
func (s *Store) QueryHistory(ctx context.Context, itemID, colorway string, from, to int64) ([]*Fact, error) {
	q := `SELECT id, item_id, scraped_at, colorway, listed_price, sale_price, sizes_json
		FROM price_facts WHERE item_id = ? AND colorway = ?`
	args := []any{itemID, colorway}
	if from > 0 {
		q += ` AND scraped_at >= ?`
		args = append(args, from)
	}
	if to > 0 {
		q += ` AND scraped_at < ?`
		args = append(args, to)
	}
	q += ` ORDER BY scraped_at ASC, id ASC`

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var facts []*Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// LatestFact returns the most recent observation of a series, or nil.
func (s *Store) LatestFact(ctx context.Context, itemID, colorway string) (*Fact, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, item_id, scraped_at, colorway, listed_price, sale_price, sizes_json
		FROM price_facts WHERE item_id = ? AND colorway = ?
		ORDER BY scraped_at DESC LIMIT 1`, itemID, colorway)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanFact(rows)
}

// ListSeries returns all distinct (item_id, colorway) pairs with history.
func (s *Store) ListSeries(ctx context.Context) ([][2]string, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT DISTINCT item_id, colorway FROM price_facts ORDER BY item_id, colorway`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var series [][2]string
	for rows.Next() {
		var itemID, colorway string
		if err := rows.Scan(&itemID, &colorway); err != nil {
			return nil, err
		}
		series = append(series, [2]string{itemID, colorway})
	}
	return series, rows.Err()
}

// DeleteFacts removes observations by ID. Used only by the downsampler to
// drop rows superseded by a bucket representative.
func (s *Store) DeleteFacts(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := dbopen.Exec(ctx, s.DB,
		`DELETE FROM price_facts WHERE id IN (`+placeholders+`)`, args...)
	return err
}

func scanFact(rows *sql.Rows) (*Fact, error) {
	var f Fact
	var listed, sale sql.NullFloat64
	var sizesJSON string
	if err := rows.Scan(&f.ID, &f.ItemID, &f.ScrapedAt, &f.Colorway,
		&listed, &sale, &sizesJSON); err != nil {
		return nil, err
	}
	if listed.Valid {
		f.ListedPrice = &listed.Float64
	}
	if sale.Valid {
		f.SalePrice = &sale.Float64
	}
	if err := json.Unmarshal([]byte(sizesJSON), &f.Sizes); err != nil {
		return nil, fmt.Errorf("store: sizes_json for fact %s: %w", f.ID, err)
	}
	return &f, nil
}
