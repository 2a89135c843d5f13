package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"flowmerge/internal/model"
)

// RejectedUpdate 修正后仍未通过时更新的字段
type RejectedUpdate struct {
	ColumnName    string
	TargetField   string
	OriginalValue string
	Reason        string
	RawData       map[string]string
}

func (s *Store) insertRejected(ctx context.Context, tx *sql.Tx, records []model.RejectedRecord) error {
	if len(records) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO rejected_records (
			batch_id, template_name, source_file, row_no, column_name, target_field,
			original_value, reason, raw_data, raw_columns, mapping_json, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := s.timestamp()
	for _, r := range records {
		raw, cols, mapping, err := encodeRejected(r)
		if err != nil {
			return err
		}
		_, err = stmt.ExecContext(ctx,
			r.BatchID, r.TemplateName, r.SourceFile, r.RowNumber, r.ColumnName, r.TargetField,
			r.OriginalValue, r.Reason, raw, cols, mapping, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert rejected record: %w", err)
		}
	}
	return nil
}

func encodeRejected(r model.RejectedRecord) (raw, cols, mapping string, err error) {
	rawData := r.RawData
	if rawData == nil {
		rawData = map[string]string{}
	}
	rawColumns := r.RawColumns
	if rawColumns == nil {
		rawColumns = []string{}
	}
	m := r.Mapping
	if m == nil {
		m = model.ColumnMapping{}
	}
	b1, err := json.Marshal(rawData)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to encode raw data: %w", err)
	}
	b2, err := json.Marshal(rawColumns)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to encode raw columns: %w", err)
	}
	b3, err := json.Marshal(m)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to encode mapping: %w", err)
	}
	return string(b1), string(b2), string(b3), nil
}

// InsertRejected 写入单条待修正记录
func (s *Store) InsertRejected(ctx context.Context, rec model.RejectedRecord) error {
	return s.InsertBatch(ctx, nil, []model.RejectedRecord{rec})
}

const rejectedColumns = `id, batch_id, template_name, source_file, row_no, column_name, target_field,
	original_value, reason, raw_data, raw_columns, mapping_json, status, created_at, resolved_at`

func scanRejected(sc rowScanner) (model.RejectedRecord, error) {
	var (
		r                  model.RejectedRecord
		raw, cols, mapping string
		status, createdAt  string
		resolvedAt         sql.NullString
	)
	err := sc.Scan(&r.ID, &r.BatchID, &r.TemplateName, &r.SourceFile, &r.RowNumber, &r.ColumnName, &r.TargetField,
		&r.OriginalValue, &r.Reason, &raw, &cols, &mapping, &status, &createdAt, &resolvedAt)
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal([]byte(raw), &r.RawData); err != nil {
		return r, fmt.Errorf("failed to decode raw data: %w", err)
	}
	if err := json.Unmarshal([]byte(cols), &r.RawColumns); err != nil {
		return r, fmt.Errorf("failed to decode raw columns: %w", err)
	}
	if err := json.Unmarshal([]byte(mapping), &r.Mapping); err != nil {
		return r, fmt.Errorf("failed to decode mapping: %w", err)
	}
	r.Status = model.RejectedStatus(status)
	r.CreatedAt = parseTime(createdAt)
	r.ResolvedAt = parseNullTime(resolvedAt)
	return r, nil
}

func getRejected(ctx context.Context, q queryer, id int64) (*model.RejectedRecord, error) {
	r, err := scanRejected(q.QueryRowContext(ctx, `SELECT `+rejectedColumns+` FROM rejected_records WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", model.ErrRejectedNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query rejected record: %w", err)
	}
	return &r, nil
}

// GetRejected 获取待修正记录
func (s *Store) GetRejected(ctx context.Context, id int64) (*model.RejectedRecord, error) {
	return getRejected(ctx, s.db, id)
}

// QueryRejected 分页查询待修正记录，按 id 升序保证分页稳定
func (s *Store) QueryRejected(ctx context.Context, q model.RejectedQuery) (*model.Page[model.RejectedRecord], error) {
	status := q.Status
	if status == "" {
		status = model.RejectedPending
	}
	where := ` WHERE status = ?`
	args := []any{string(status)}
	if q.BatchID != "" {
		where += ` AND batch_id = ?`
		args = append(args, q.BatchID)
	}

	page := &model.Page[model.RejectedRecord]{Items: []model.RejectedRecord{}, Page: q.Page, PageSize: q.PageSize}
	if page.Page < 1 {
		page.Page = 1
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rejected_records`+where, args...).Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("failed to count rejected records: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+rejectedColumns+` FROM rejected_records`+where+` ORDER BY id`+buildLimit(q.Page, q.PageSize), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rejected records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRejected(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rejected record: %w", err)
		}
		page.Items = append(page.Items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rejected records: %w", err)
	}
	return page, nil
}

// UpdateRejected 更新仍未通过的待修正记录
func (s *Store) UpdateRejected(ctx context.Context, id int64, upd RejectedUpdate) error {
	raw, err := json.Marshal(upd.RawData)
	if err != nil {
		return fmt.Errorf("failed to encode raw data: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE rejected_records SET
			column_name = ?, target_field = ?, original_value = ?, reason = ?, raw_data = ?
		WHERE id = ? AND status = 'pending'
	`, upd.ColumnName, upd.TargetField, upd.OriginalValue, upd.Reason, string(raw), id)
	if err != nil {
		return fmt.Errorf("failed to update rejected record: %w", err)
	}
	return requireAffected(res, id)
}

// DeleteRejected 丢弃待修正记录
func (s *Store) DeleteRejected(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rejected_records WHERE id = ? AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rejected record: %w", err)
	}
	return requireAffected(res, id)
}

// ResolveRejected 修正成功：写入入库记录并把待修正记录标记为已解决
func (s *Store) ResolveRejected(ctx context.Context, id int64, rec model.AcceptedRecord) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE rejected_records SET status = 'resolved', resolved_at = ?
			WHERE id = ? AND status = 'pending'
		`, s.timestamp(), id)
		if err != nil {
			return fmt.Errorf("failed to resolve rejected record: %w", err)
		}
		if err := requireAffected(res, id); err != nil {
			return err
		}
		return s.insertAccepted(ctx, tx, []model.AcceptedRecord{rec})
	})
}

// CountPendingRejected 未解决的待修正记录数；batchID 为空时统计全部
func (s *Store) CountPendingRejected(ctx context.Context, batchID string) (int, error) {
	query := `SELECT COUNT(*) FROM rejected_records WHERE status = 'pending'`
	var args []any
	if batchID != "" {
		query += ` AND batch_id = ?`
		args = append(args, batchID)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pending rejected records: %w", err)
	}
	return n, nil
}

// ExcludePending 把未解决记录标记为已排除，返回数量
func (s *Store) ExcludePending(ctx context.Context, batchID string) (int, error) {
	query := `UPDATE rejected_records SET status = 'excluded', resolved_at = ? WHERE status = 'pending'`
	args := []any{s.timestamp()}
	if batchID != "" {
		query += ` AND batch_id = ?`
		args = append(args, batchID)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to exclude pending records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return int(n), nil
}

func requireAffected(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", model.ErrRejectedNotFound, id)
	}
	return nil
}
