package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"flowmerge/internal/model"
)

// CreateBatch 创建批次日志
func (s *Store) CreateBatch(ctx context.Context, id, templateName string, totalFiles int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO import_batches (id, template_name, status, total_files, created_at)
		VALUES (?, ?, 'processing', ?, ?)
	`, id, templateName, totalFiles, s.timestamp())
	if err != nil {
		return fmt.Errorf("failed to create batch: %w", err)
	}
	return nil
}

// FinishBatch 写入批次结果
func (s *Store) FinishBatch(ctx context.Context, res *model.BatchResult) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE import_batches SET
			status = ?,
			failed_files = ?,
			total_processed = ?,
			total_accepted = ?,
			total_rejected = ?,
			error_message = ?,
			completed_at = ?
		WHERE id = ?
	`, string(res.Status), res.FailedFiles, res.TotalProcessed, res.TotalAccepted, res.TotalRejected,
		res.Error, s.timestamp(), res.BatchID)
	if err != nil {
		return fmt.Errorf("failed to finish batch: %w", err)
	}
	return nil
}

// MarkBatchReviewed 人工修正流程结束
func (s *Store) MarkBatchReviewed(ctx context.Context, id string, excluded int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE import_batches SET status = 'reviewed', excluded = excluded + ? WHERE id = ?
	`, excluded, id)
	if err != nil {
		return fmt.Errorf("failed to mark batch reviewed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", model.ErrBatchNotFound, id)
	}
	return nil
}

const batchColumns = `id, template_name, status, total_files, failed_files, total_processed,
	total_accepted, total_rejected, excluded, error_message, created_at, completed_at`

func scanBatch(sc rowScanner) (model.Batch, error) {
	var (
		b                 model.Batch
		status, createdAt string
		completedAt       sql.NullString
	)
	err := sc.Scan(&b.ID, &b.TemplateName, &status, &b.TotalFiles, &b.FailedFiles, &b.TotalProcessed,
		&b.TotalAccepted, &b.TotalRejected, &b.Excluded, &b.ErrorMessage, &createdAt, &completedAt)
	if err != nil {
		return b, err
	}
	b.Status = model.BatchStatus(status)
	b.CreatedAt = parseTime(createdAt)
	b.CompletedAt = parseNullTime(completedAt)
	return b, nil
}

// GetBatch 获取批次
func (s *Store) GetBatch(ctx context.Context, id string) (*model.Batch, error) {
	b, err := scanBatch(s.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM import_batches WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", model.ErrBatchNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query batch: %w", err)
	}
	return &b, nil
}

// ListBatches 最近的批次
func (s *Store) ListBatches(ctx context.Context, limit int) ([]model.Batch, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+batchColumns+` FROM import_batches ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	out := []model.Batch{}
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate batches: %w", err)
	}
	return out, nil
}
