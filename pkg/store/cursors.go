package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// HarvestCursor returns the paging state of an account. Accounts harvested
// before cursors were kept get a horizon at their newest stored item.
func (s *Store) HarvestCursor(ctx context.Context, accountID int64) (*HarvestCursor, error) {
	c := &HarvestCursor{AccountID: accountID}
	err := s.queryRow(ctx,
		"SELECT horizon, backfill_max_id, backfill_top, updated_at FROM harvest_cursors WHERE account_id = ?",
		accountID,
	).Scan(&c.Horizon, &c.BackfillMaxID, &c.BackfillTop, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		latest, err := s.LatestItemID(ctx, accountID)
		if err != nil {
			return nil, err
		}
		c.Horizon = latest
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("harvest cursor: %w", err)
	}
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

// SaveHarvestCursor inserts or replaces the paging state of c.AccountID.
func (s *Store) SaveHarvestCursor(ctx context.Context, c *HarvestCursor) error {
	c.UpdatedAt = s.timestamp()
	_, err := s.exec(ctx, `
		INSERT INTO harvest_cursors (account_id, horizon, backfill_max_id, backfill_top, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (account_id) DO UPDATE SET
			horizon = excluded.horizon,
			backfill_max_id = excluded.backfill_max_id,
			backfill_top = excluded.backfill_top,
			updated_at = excluded.updated_at`,
		c.AccountID, c.Horizon, c.BackfillMaxID, c.BackfillTop, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save harvest cursor: %w", err)
	}
	return nil
}
