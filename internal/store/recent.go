package store

import (
	"context"
	"database/sql"
	"fmt"
)

// MaxRecentFiles 最近文件保留条数
const MaxRecentFiles = 20

// AddRecent 记录最近打开的文件，超出上限时淘汰最旧的
func (s *Store) AddRecent(ctx context.Context, path string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO recent_files (path, opened_at) VALUES (?, ?)
			ON CONFLICT(path) DO UPDATE SET opened_at = excluded.opened_at
		`, path, s.timestamp())
		if err != nil {
			return fmt.Errorf("failed to add recent file: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			DELETE FROM recent_files WHERE path NOT IN (
				SELECT path FROM recent_files ORDER BY opened_at DESC, rowid DESC LIMIT ?
			)
		`, MaxRecentFiles)
		if err != nil {
			return fmt.Errorf("failed to trim recent files: %w", err)
		}
		return nil
	})
}

// ListRecent 最近文件，新的在前
func (s *Store) ListRecent(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM recent_files ORDER BY opened_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent files: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan recent file: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recent files: %w", err)
	}
	return out, nil
}

// ClearRecent 清空最近文件
func (s *Store) ClearRecent(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM recent_files`); err != nil {
		return fmt.Errorf("failed to clear recent files: %w", err)
	}
	return nil
}
