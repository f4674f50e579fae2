package store

import (
	"context"
	"database/sql"

	"github.com/hazyhaar/prix/dbopen"
)

// AppendLog records one terminal scrape outcome.
func (s *Store) AppendLog(ctx context.Context, e *LogEntry) error {
	var itemID any
	if e.ItemID != "" {
		itemID = e.ItemID
	}
	_, err := dbopen.Exec(ctx, s.DB,
		`INSERT INTO scrape_log (id, item_id, scraped_at, success, error_message)
		VALUES (?, ?, ?, ?, ?)`,
		e.ID, itemID, e.ScrapedAt, boolToInt(e.Success), e.ErrorMessage,
	)
	return err
}

// ListLog returns recent log entries, newest first. Empty itemID = all items.
func (s *Store) ListLog(ctx context.Context, itemID string, limit int) ([]*LogEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows *sql.Rows
	var err error
	if itemID != "" {
		rows, err = s.DB.QueryContext(ctx,
			`SELECT id, item_id, scraped_at, success, error_message
			FROM scrape_log WHERE item_id = ?
			ORDER BY scraped_at DESC LIMIT ?`, itemID, limit)
	} else {
		rows, err = s.DB.QueryContext(ctx,
			`SELECT id, item_id, scraped_at, success, error_message
			FROM scrape_log ORDER BY scraped_at DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*LogEntry
	for rows.Next() {
		var e LogEntry
		var item sql.NullString
		var success int
		if err := rows.Scan(&e.ID, &item, &e.ScrapedAt, &success, &e.ErrorMessage); err != nil {
			return nil, err
		}
		e.ItemID = item.String
		e.Success = success == 1
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// SuccessRate returns the fraction of successful attempts since the given
// timestamp, in [0, 1]. No attempts yields 0.
func (s *Store) SuccessRate(ctx context.Context, itemID string, since int64) (float64, error) {
	q := `SELECT SUM(success), COUNT(*) FROM scrape_log WHERE scraped_at >= ?`
	args := []any{since}
	if itemID != "" {
		q += ` AND item_id = ?`
		args = append(args, itemID)
	}

	var successes sql.NullInt64
	var total int64
	if err := s.DB.QueryRowContext(ctx, q, args...).Scan(&successes, &total); err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	return float64(successes.Int64) / float64(total), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
