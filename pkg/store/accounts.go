package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

const accountColumns = "id, handle, uid, former_handles, active, last_checked, created_at"

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var (
		a           Account
		uid         sql.NullInt64
		former      string
		lastChecked sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.Handle, &uid, &former, &a.Active, &lastChecked, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.UID = uid.Int64
	a.LastChecked = timePtr(lastChecked)
	a.CreatedAt = a.CreatedAt.UTC()
	if former != "" {
		if err := json.Unmarshal([]byte(former), &a.FormerHandles); err != nil {
			return nil, fmt.Errorf("decode former handles of %s: %w", a.Handle, err)
		}
	}
	return &a, nil
}

func encodeFormerHandles(h []FormerHandle) (string, error) {
	if h == nil {
		h = []FormerHandle{}
	}
	b, err := json.Marshal(h)
	return string(b), err
}

// CreateAccount inserts a and sets its ID. A handle that differs only in case
// from an existing one yields ErrDuplicate.
func (s *Store) CreateAccount(ctx context.Context, a *Account) error {
	former, err := encodeFormerHandles(a.FormerHandles)
	if err != nil {
		return fmt.Errorf("encode former handles: %w", err)
	}
	a.CreatedAt = s.timestamp()

	err = s.queryRow(ctx, `
		INSERT INTO accounts (handle, uid, former_handles, active, last_checked, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`,
		a.Handle, nullInt(a.UID), former, a.Active, nullTime(a.LastChecked), a.CreatedAt,
	).Scan(&a.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: account %q", ErrDuplicate, a.Handle)
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// UpdateAccount writes every mutable field of a.
func (s *Store) UpdateAccount(ctx context.Context, a *Account) error {
	former, err := encodeFormerHandles(a.FormerHandles)
	if err != nil {
		return fmt.Errorf("encode former handles: %w", err)
	}

	res, err := s.exec(ctx, `
		UPDATE accounts SET handle = ?, uid = ?, former_handles = ?, active = ?, last_checked = ?
		WHERE id = ?`,
		a.Handle, nullInt(a.UID), former, a.Active, nullTime(a.LastChecked), a.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: account %q", ErrDuplicate, a.Handle)
		}
		return fmt.Errorf("update account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetAccount fetches an account by primary key.
func (s *Store) GetAccount(ctx context.Context, id int64) (*Account, error) {
	a, err := scanAccount(s.queryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// GetAccountByHandle fetches an account by handle, ignoring case.
func (s *Store) GetAccountByHandle(ctx context.Context, handle string) (*Account, error) {
	a, err := scanAccount(s.queryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE lower(handle) = lower(?)", handle))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// HandleTaken reports whether another account than excludeID uses handle.
func (s *Store) HandleTaken(ctx context.Context, handle string, excludeID int64) (bool, error) {
	var n int
	err := s.queryRow(ctx, "SELECT COUNT(*) FROM accounts WHERE lower(handle) = lower(?) AND id <> ?", handle, excludeID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check handle: %w", err)
	}
	return n > 0, nil
}

// ListAccounts returns accounts ordered by handle.
func (s *Store) ListAccounts(ctx context.Context, activeOnly bool) ([]*Account, error) {
	q := "SELECT " + accountColumns + " FROM accounts"
	var args []interface{}
	if activeOnly {
		q += " WHERE active = ?"
		args = append(args, true)
	}
	q += " ORDER BY lower(handle)"

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
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
