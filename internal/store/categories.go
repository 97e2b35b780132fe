package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// AddCategory creates a category. It reports false if the name already existed.
func (s *SQLiteStore) AddCategory(ctx context.Context, name string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, fmt.Errorf("add category: empty name")
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO categories (name, created_at) VALUES (?, ?)", name, s.now())
	if err != nil {
		return false, fmt.Errorf("add category %s: %w", name, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeleteCategory uncategorizes every channel in the category and drops it.
func (s *SQLiteStore) DeleteCategory(ctx context.Context, name string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete category %s: begin: %w", name, err)
	}
	defer tx.Rollback()

	cleared, err := tx.ExecContext(ctx, "UPDATE channels SET category = NULL WHERE category = ?", name)
	if err != nil {
		return fmt.Errorf("delete category %s: clear channels: %w", name, err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM categories WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("delete category %s: %w", name, err)
	}

	c, _ := cleared.RowsAffected()
	n, _ := res.RowsAffected()
	if c == 0 && n == 0 {
		return fmt.Errorf("delete category %s: %w", name, ErrNotFound)
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListCategories(ctx context.Context) ([]string, error) {
	var names []string
	if err := s.db.SelectContext(ctx, &names, "SELECT name FROM categories ORDER BY name"); err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return names, nil
}

func (s *SQLiteStore) CategoriesWithActiveChannels(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.SelectContext(ctx, &names, `
		SELECT DISTINCT category FROM channels
		WHERE is_active = 1 AND category IS NOT NULL AND category != ''
		ORDER BY category
	`)
	if err != nil {
		return nil, fmt.Errorf("categories with active channels: %w", err)
	}
	return names, nil
}

func (s *SQLiteStore) CountChannelsInCategory(ctx context.Context, name string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM channels WHERE category = ? AND is_active = 1", name)
	if err != nil {
		return 0, fmt.Errorf("count category %s: %w", name, err)
	}
	return n, nil
}

// SyncCategories adds categories referenced by channels but missing from the
// categories table. It returns how many were added.
func (s *SQLiteStore) SyncCategories(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO categories (name, created_at)
		SELECT DISTINCT category, ? FROM channels
		WHERE category IS NOT NULL AND category != ''
	`, s.now())
	if err != nil {
		return 0, fmt.Errorf("sync categories: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CleanupCategories drops categories with no active channel.
func (s *SQLiteStore) CleanupCategories(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM categories
		WHERE name NOT IN (
			SELECT DISTINCT category FROM channels
			WHERE is_active = 1 AND category IS NOT NULL
		)
	`)
	if err != nil {
		return 0, fmt.Errorf("cleanup categories: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// AddAdmin registers an operator. It reports false if the user already was one.
func (s *SQLiteStore) AddAdmin(ctx context.Context, userID int64, username string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO admins (user_id, username, added_at) VALUES (?, ?, ?)",
		userID, username, s.now())
	if err != nil {
		return false, fmt.Errorf("add admin %d: %w", userID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM admins WHERE user_id = ?", userID); err != nil {
		return false, fmt.Errorf("is admin %d: %w", userID, err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) ListAdmins(ctx context.Context) ([]Admin, error) {
	var admins []Admin
	if err := s.db.SelectContext(ctx, &admins, "SELECT * FROM admins ORDER BY added_at, id"); err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	return admins, nil
}

// sortChannelStats orders by category (uncategorized first) and then by the
// latest sample time, falling back to when the channel was added.
func sortChannelStats(stats []ChannelStat) {
	activity := func(cs ChannelStat) int64 {
		if cs.Latest != nil {
			return cs.Latest.RecordedAt.UnixNano()
		}
		return cs.Channel.AddedAt.UnixNano()
	}
	sort.SliceStable(stats, func(i, j int) bool {
		ci, cj := stats[i].Channel.CategoryName(), stats[j].Channel.CategoryName()
		if ci != cj {
			return ci < cj
		}
		return activity(stats[i]) > activity(stats[j])
	})
}
