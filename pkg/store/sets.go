package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateSet inserts a named account set.
func (s *Store) CreateSet(ctx context.Context, name, notes string) (*AccountSet, error) {
	set := &AccountSet{Name: name, Notes: notes, CreatedAt: s.timestamp()}
	err := s.queryRow(ctx,
		"INSERT INTO account_sets (name, notes, created_at) VALUES (?, ?, ?) RETURNING id",
		name, notes, set.CreatedAt,
	).Scan(&set.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: set %q", ErrDuplicate, name)
		}
		return nil, fmt.Errorf("insert set: %w", err)
	}
	return set, nil
}

func (s *Store) setID(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.queryRow(ctx, "SELECT id FROM account_sets WHERE name = ?", name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: set %q", ErrNotFound, name)
	}
	return id, err
}

// AddToSet adds accounts to the named set. Existing members are left alone.
func (s *Store) AddToSet(ctx context.Context, name string, accountIDs ...int64) error {
	id, err := s.setID(ctx, name)
	if err != nil {
		return err
	}
	for _, accountID := range accountIDs {
		if _, err := s.exec(ctx,
			"INSERT INTO account_set_members (set_id, account_id) VALUES (?, ?) ON CONFLICT DO NOTHING",
			id, accountID,
		); err != nil {
			return fmt.Errorf("add account %d to set %q: %w", accountID, name, err)
		}
	}
	return nil
}

// ListSets returns all sets with their member counts.
func (s *Store) ListSets(ctx context.Context) ([]*AccountSet, error) {
	rows, err := s.query(ctx, `
		SELECT s.id, s.name, s.notes, s.created_at, COUNT(m.account_id)
		FROM account_sets s
		LEFT JOIN account_set_members m ON m.set_id = s.id
		GROUP BY s.id, s.name, s.notes, s.created_at
		ORDER BY s.name`)
	if err != nil {
		return nil, fmt.Errorf("list sets: %w", err)
	}
	defer rows.Close()

	var out []*AccountSet
	for rows.Next() {
		var set AccountSet
		if err := rows.Scan(&set.ID, &set.Name, &set.Notes, &set.CreatedAt, &set.MemberCount); err != nil {
			return nil, err
		}
		out = append(out, &set)
	}
	return out, rows.Err()
}

// SetMembers returns the accounts in the named set, ordered by handle.
func (s *Store) SetMembers(ctx context.Context, name string) ([]*Account, error) {
	id, err := s.setID(ctx, name)
	if err != nil {
		return nil, err
	}

	rows, err := s.query(ctx, `
		SELECT a.id, a.handle, a.uid, a.former_handles, a.active, a.last_checked, a.created_at
		FROM accounts a
		JOIN account_set_members m ON m.account_id = a.id
		WHERE m.set_id = ?
		ORDER BY lower(a.handle)`, id)
	if err != nil {
		return nil, fmt.Errorf("list set members: %w", err)
	}
	defer rows.Close()

	var out []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
