package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

func (s *SQLiteStore) AddChannel(ctx context.Context, in NewChannel) (*Channel, bool, error) {
	if in.Handle == "" {
		return nil, false, errors.New("add channel: empty handle")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("add channel %s: begin: %w", in.Handle, err)
	}
	defer tx.Rollback()

	now := s.now()
	if in.Category != "" {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO categories (name, created_at) VALUES (?, ?)",
			in.Category, now); err != nil {
			return nil, false, fmt.Errorf("add channel %s: category: %w", in.Handle, err)
		}
	}

	var existing struct {
		ID       int64 `db:"id"`
		IsActive bool  `db:"is_active"`
	}
	err = tx.GetContext(ctx, &existing, "SELECT id, is_active FROM channels WHERE handle = ?", in.Handle)
	reactivated := false
	var id int64

	switch {
	case err == nil && existing.IsActive:
		return nil, false, fmt.Errorf("add channel %s: %w", in.Handle, ErrChannelExists)
	case err == nil:
		_, err = tx.ExecContext(ctx, `
			UPDATE channels SET
				is_active = 1,
				title = COALESCE(?, title),
				invite_token = COALESCE(?, invite_token),
				category = COALESCE(?, category),
				added_by = COALESCE(?, added_by)
			WHERE id = ?
		`, nullString(in.Title), nullString(in.InviteToken), nullString(in.Category), nullInt64(in.AddedBy), existing.ID)
		if err != nil {
			return nil, false, fmt.Errorf("reactivate channel %s: %w", in.Handle, err)
		}
		id = existing.ID
		reactivated = true
	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.ExecContext(ctx, `
			INSERT INTO channels (handle, title, invite_token, category, added_by, added_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, in.Handle, in.Title, nullString(in.InviteToken), nullString(in.Category), nullInt64(in.AddedBy), now)
		if err != nil {
			return nil, false, fmt.Errorf("insert channel %s: %w", in.Handle, err)
		}
		id, _ = res.LastInsertId()
	default:
		return nil, false, fmt.Errorf("add channel %s: lookup: %w", in.Handle, err)
	}

	var ch Channel
	if err := tx.GetContext(ctx, &ch, "SELECT * FROM channels WHERE id = ?", id); err != nil {
		return nil, false, fmt.Errorf("add channel %s: reload: %w", in.Handle, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("add channel %s: commit: %w", in.Handle, err)
	}
	return &ch, reactivated, nil
}

// RemoveChannel soft-deletes a channel. IsMember is left alone so the worker
// can still leave it.
func (s *SQLiteStore) RemoveChannel(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "UPDATE channels SET is_active = 0 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("remove channel %d: %w", id, err)
	}
	return affected(res, "remove channel", id)
}

func (s *SQLiteStore) GetChannel(ctx context.Context, id int64) (*Channel, error) {
	var ch Channel
	err := s.db.GetContext(ctx, &ch, "SELECT * FROM channels WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get channel %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get channel %d: %w", id, err)
	}
	return &ch, nil
}

func (s *SQLiteStore) GetChannelByHandle(ctx context.Context, handle string) (*Channel, error) {
	var ch Channel
	err := s.db.GetContext(ctx, &ch, "SELECT * FROM channels WHERE handle = ?", handle)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get channel %s: %w", handle, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get channel %s: %w", handle, err)
	}
	return &ch, nil
}

func (s *SQLiteStore) ListChannels(ctx context.Context, opts ChannelListOpts) ([]Channel, error) {
	query := "SELECT * FROM channels WHERE 1=1"
	var args []any

	if opts.Active != nil {
		query += " AND is_active = ?"
		args = append(args, *opts.Active)
	}
	if opts.Member != nil {
		query += " AND is_member = ?"
		args = append(args, *opts.Member)
	}
	if opts.Category != "" {
		query += " AND category = ?"
		args = append(args, opts.Category)
	}

	query += " ORDER BY added_at DESC, id DESC"

	var channels []Channel
	if err := s.db.SelectContext(ctx, &channels, query, args...); err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	return channels, nil
}

// JoinCandidates returns channels the operator wants but the worker has not joined.
func (s *SQLiteStore) JoinCandidates(ctx context.Context) ([]Channel, error) {
	return s.ListChannels(ctx, ChannelListOpts{Active: boolPtr(true), Member: boolPtr(false)})
}

// LeaveCandidates returns removed channels the worker is still in.
func (s *SQLiteStore) LeaveCandidates(ctx context.Context) ([]Channel, error) {
	return s.ListChannels(ctx, ChannelListOpts{Active: boolPtr(false), Member: boolPtr(true)})
}

// SampleTargets returns active channels the worker has joined.
func (s *SQLiteStore) SampleTargets(ctx context.Context) ([]Channel, error) {
	return s.ListChannels(ctx, ChannelListOpts{Active: boolPtr(true), Member: boolPtr(true)})
}

func (s *SQLiteStore) SetMember(ctx context.Context, id int64, member bool) error {
	res, err := s.db.ExecContext(ctx, "UPDATE channels SET is_member = ? WHERE id = ?", member, id)
	if err != nil {
		return fmt.Errorf("set member %d: %w", id, err)
	}
	return affected(res, "set member", id)
}

// MarkJoined records a successful join. A zero platformID or empty title
// leaves the stored value untouched.
func (s *SQLiteStore) MarkJoined(ctx context.Context, id, platformID int64, title string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mark joined %d: begin: %w", id, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE channels SET is_member = 1, title = COALESCE(?, title) WHERE id = ?",
		nullString(title), id)
	if err != nil {
		return fmt.Errorf("mark joined %d: %w", id, err)
	}
	if err := affected(res, "mark joined", id); err != nil {
		return err
	}
	if platformID != 0 {
		if _, err := tx.ExecContext(ctx, updatePlatformIDQuery, platformID, platformID, id); err != nil {
			return fmt.Errorf("mark joined %d: platform id: %w", id, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) UpdateTitle(ctx context.Context, id int64, title string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE channels SET title = ? WHERE id = ?", title, id)
	if err != nil {
		return fmt.Errorf("update title %d: %w", id, err)
	}
	return affected(res, "update title", id)
}

// The old platform_id moves to previous_platform_id only when it changes.
const updatePlatformIDQuery = `
	UPDATE channels SET
		previous_platform_id = CASE
			WHEN platform_id IS NOT NULL AND platform_id != ? THEN platform_id
			ELSE previous_platform_id
		END,
		platform_id = ?
	WHERE id = ?
`

func (s *SQLiteStore) UpdatePlatformID(ctx context.Context, id, platformID int64) error {
	res, err := s.db.ExecContext(ctx, updatePlatformIDQuery, platformID, platformID, id)
	if err != nil {
		return fmt.Errorf("update platform id %d: %w", id, err)
	}
	return affected(res, "update platform id", id)
}

// SetCategory assigns a category; "" clears it.
func (s *SQLiteStore) SetCategory(ctx context.Context, id int64, category string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("set category %d: begin: %w", id, err)
	}
	defer tx.Rollback()

	if category != "" {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO categories (name, created_at) VALUES (?, ?)",
			category, s.now()); err != nil {
			return fmt.Errorf("set category %d: %w", id, err)
		}
	}
	res, err := tx.ExecContext(ctx, "UPDATE channels SET category = ? WHERE id = ?", nullString(category), id)
	if err != nil {
		return fmt.Errorf("set category %d: %w", id, err)
	}
	if err := affected(res, "set category", id); err != nil {
		return err
	}
	return tx.Commit()
}

func affected(res sql.Result, op string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %d: %w", op, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", op, id, ErrNotFound)
	}
	return nil
}

func boolPtr(b bool) *bool { return &b }
