package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const filterColumns = "id, name, owner, active, words, people, locations, created_at"

func scanFilter(row rowScanner) (*Filter, error) {
	var f Filter
	if err := row.Scan(&f.ID, &f.Name, &f.Owner, &f.Active, &f.Words, &f.People, &f.Locations, &f.CreatedAt); err != nil {
		return nil, err
	}
	f.CreatedAt = f.CreatedAt.UTC()
	return &f, nil
}

// CreateFilter inserts f. Names are unique.
func (s *Store) CreateFilter(ctx context.Context, f *Filter) error {
	f.CreatedAt = s.timestamp()
	err := s.queryRow(ctx, `
		INSERT INTO filters (name, owner, active, words, people, locations, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		f.Name, f.Owner, f.Active, f.Words, f.People, f.Locations, f.CreatedAt,
	).Scan(&f.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: filter %q", ErrDuplicate, f.Name)
		}
		return fmt.Errorf("insert filter: %w", err)
	}
	return nil
}

// GetFilter fetches a filter by name.
func (s *Store) GetFilter(ctx context.Context, name string) (*Filter, error) {
	f, err := scanFilter(s.queryRow(ctx, "SELECT "+filterColumns+" FROM filters WHERE name = ?", name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return f, err
}

// ListFilters returns all filters ordered by name.
func (s *Store) ListFilters(ctx context.Context) ([]*Filter, error) {
	rows, err := s.query(ctx, "SELECT "+filterColumns+" FROM filters ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list filters: %w", err)
	}
	defer rows.Close()

	var out []*Filter
	for rows.Next() {
		f, err := scanFilter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// SetFilterActive toggles the named filter.
func (s *Store) SetFilterActive(ctx context.Context, name string, active bool) error {
	res, err := s.exec(ctx, "UPDATE filters SET active = ? WHERE name = ?", active, name)
	if err != nil {
		return fmt.Errorf("update filter: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
