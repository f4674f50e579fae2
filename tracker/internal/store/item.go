package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// EnsureItem inserts the item if its URL is not yet tracked, otherwise
// returns the existing row's ID. Duplicate registration collapses to one
// record; it is never an error.
func (s *Store) EnsureItem(ctx context.Context, it *Item) (string, bool, error) {
	existing, err := s.GetItemByURL(ctx, it.URL)
	if err != nil {
		return "", false, err
	}
	if existing != nil {
		return existing.ID, false, nil
	}

	if it.CreatedAt == 0 {
		it.CreatedAt = time.Now().UnixMilli()
	}
	if it.ScrapeFrequency == "" {
		it.ScrapeFrequency = "daily"
	}

	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO items (id, url, name, brand, category, scrape_frequency, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO NOTHING`,
		it.ID, it.URL, it.Name, it.Brand, it.Category, it.ScrapeFrequency, it.CreatedAt,
	)
	if err != nil {
		return "", false, err
	}

	// A concurrent writer may have won the conflict; re-read to get the
	// canonical row either way.
	row, err := s.GetItemByURL(ctx, it.URL)
	if err != nil {
		return "", false, err
	}
	if row == nil {
		return "", false, errors.New("store: item vanished after insert")
	}
	return row.ID, row.ID == it.ID, nil
}

// GetItem retrieves an item by ID.
func (s *Store) GetItem(ctx context.Context, id string) (*Item, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, url, name, brand, category, scrape_frequency, created_at
		FROM items WHERE id = ?`, id)
	return scanItem(row)
}

// GetItemByURL retrieves an item by URL, or nil if not tracked.
func (s *Store) GetItemByURL(ctx context.Context, url string) (*Item, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, url, name, brand, category, scrape_frequency, created_at
		FROM items WHERE url = ?`, url)
	return scanItem(row)
}

// ListItems returns all tracked items, newest first.
func (s *Store) ListItems(ctx context.Context) ([]*Item, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, url, name, brand, category, scrape_frequency, created_at
		FROM items ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.URL, &it.Name, &it.Brand, &it.Category,
			&it.ScrapeFrequency, &it.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &it)
	}
	return items, rows.Err()
}

func scanItem(row *sql.Row) (*Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.URL, &it.Name, &it.Brand, &it.Category,
		&it.ScrapeFrequency, &it.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &it, nil
}
