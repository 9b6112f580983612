package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"twarchive/pkg/dates"
)

// ErrInvalidItem is returned for items with the unset id sentinel.
var ErrInvalidItem = errors.New("item id is required")

// InsertItem stores it unless an item with the same TwitterID already
// exists. inserted is false for a duplicate, which is not an error.
func (s *Store) InsertItem(ctx context.Context, it *Item) (inserted bool, err error) {
	if it.TwitterID == 0 {
		return false, ErrInvalidItem
	}
	it.CreatedAt = s.timestamp()

	res, err := s.exec(ctx, `
		INSERT INTO items (account_id, twitter_id, published_at, text, raw, location, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (twitter_id) DO NOTHING`,
		it.AccountID, it.TwitterID, it.PublishedAt.UTC(), it.Text, string(it.Raw), it.Location, it.Source, it.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert item %d: %w", it.TwitterID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// LatestItemID returns the highest stored item id for an account, or 0.
func (s *Store) LatestItemID(ctx context.Context, accountID int64) (int64, error) {
	var id sql.NullInt64
	if err := s.queryRow(ctx, "SELECT MAX(twitter_id) FROM items WHERE account_id = ?", accountID).Scan(&id); err != nil {
		return 0, fmt.Errorf("latest item id: %w", err)
	}
	return id.Int64, nil
}

// GetItem fetches an item by its stable id.
func (s *Store) GetItem(ctx context.Context, twitterID int64) (*Item, error) {
	it, err := scanItem(s.queryRow(ctx, itemSelect+" WHERE i.twitter_id = ?", twitterID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return it, err
}

// CountItems returns the number of stored items for an account.
func (s *Store) CountItems(ctx context.Context, accountID int64) (int, error) {
	var n int
	err := s.queryRow(ctx, "SELECT COUNT(*) FROM items WHERE account_id = ?", accountID).Scan(&n)
	return n, err
}

const itemSelect = `
	SELECT i.id, i.account_id, i.twitter_id, i.published_at, i.text, i.raw, i.location, i.source, i.created_at, a.handle
	FROM items i
	JOIN accounts a ON a.id = i.account_id`

func scanItem(row rowScanner) (*Item, error) {
	var (
		it  Item
		raw string
	)
	if err := row.Scan(&it.ID, &it.AccountID, &it.TwitterID, &it.PublishedAt, &it.Text, &raw,
		&it.Location, &it.Source, &it.CreatedAt, &it.Handle); err != nil {
		return nil, err
	}
	it.Raw = []byte(raw)
	it.PublishedAt = it.PublishedAt.UTC()
	it.CreatedAt = it.CreatedAt.UTC()
	return &it, nil
}

// EachItem calls fn for every stored item, oldest first. accountID 0 walks
// all accounts. Iteration stops at the first error fn returns.
func (s *Store) EachItem(ctx context.Context, accountID int64, fn func(*Item) error) error {
	q := itemSelect
	var args []interface{}
	if accountID != 0 {
		q += " WHERE i.account_id = ?"
		args = append(args, accountID)
	}
	q += " ORDER BY i.twitter_id"

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return err
		}
		if err := fn(it); err != nil {
			return err
		}
	}
	return rows.Err()
}

// DailyCounts returns the number of items an account published on each UTC
// day from start to end inclusive. Days without items are present with a
// zero count.
func (s *Store) DailyCounts(ctx context.Context, accountID int64, start, end time.Time) ([]DailyCount, error) {
	days := dates.Range(start, end)
	if len(days) == 0 {
		return nil, nil
	}

	rows, err := s.query(ctx,
		"SELECT published_at FROM items WHERE account_id = ? AND published_at >= ? AND published_at < ?",
		accountID, days[0], days[len(days)-1].AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("daily counts: %w", err)
	}
	defer rows.Close()

	byDay := make(map[time.Time]int, len(days))
	for rows.Next() {
		var published time.Time
		if err := rows.Scan(&published); err != nil {
			return nil, err
		}
		byDay[dates.Day(published)]++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]DailyCount, len(days))
	for i, d := range days {
		out[i] = DailyCount{Day: d, Count: byDay[d]}
	}
	return out, nil
}
