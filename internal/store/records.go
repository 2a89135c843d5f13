package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"flowmerge/internal/model"
)

// InsertBatch 在一个事务中写入一批入库与待修正记录，失败时整体回滚，可安全重试
func (s *Store) InsertBatch(ctx context.Context, accepted []model.AcceptedRecord, rejected []model.RejectedRecord) error {
	if len(accepted) == 0 && len(rejected) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.insertAccepted(ctx, tx, accepted); err != nil {
			return err
		}
		return s.insertRejected(ctx, tx, rejected)
	})
}

// InsertAccepted 写入单条入库记录
func (s *Store) InsertAccepted(ctx context.Context, rec model.AcceptedRecord) error {
	return s.InsertBatch(ctx, []model.AcceptedRecord{rec}, nil)
}

func (s *Store) insertAccepted(ctx context.Context, tx *sql.Tx, records []model.AcceptedRecord) error {
	if len(records) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO accepted_records (batch_id, template_name, source_file, row_no, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := s.timestamp()
	for _, r := range records {
		data, err := json.Marshal(r.Data)
		if err != nil {
			return fmt.Errorf("failed to encode record data: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, r.BatchID, r.TemplateName, r.SourceFile, r.RowNumber, string(data), now); err != nil {
			return fmt.Errorf("failed to insert accepted record: %w", err)
		}
	}
	return nil
}

const acceptedColumns = `id, batch_id, template_name, source_file, row_no, data, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccepted(sc rowScanner) (model.AcceptedRecord, error) {
	var (
		r         model.AcceptedRecord
		data      string
		createdAt string
	)
	if err := sc.Scan(&r.ID, &r.BatchID, &r.TemplateName, &r.SourceFile, &r.RowNumber, &data, &createdAt); err != nil {
		return r, fmt.Errorf("failed to scan accepted record: %w", err)
	}
	values, err := decodeData(data)
	if err != nil {
		return r, err
	}
	r.Data = values
	r.CreatedAt = parseTime(createdAt)
	return r, nil
}

// decodeData 数值还原为 int64 或 float64
func decodeData(raw string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var values map[string]any
	if err := dec.Decode(&values); err != nil {
		return nil, fmt.Errorf("failed to decode record data: %w", err)
	}
	for k, v := range values {
		n, ok := v.(json.Number)
		if !ok {
			continue
		}
		if i, err := n.Int64(); err == nil {
			values[k] = i
		} else if f, err := n.Float64(); err == nil {
			values[k] = f
		}
	}
	return values, nil
}

// CountAccepted 满足条件的入库记录数
func (s *Store) CountAccepted(ctx context.Context, q model.RecordQuery) (int, error) {
	where, args, err := buildWhere(q)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accepted_records`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count accepted records: %w", err)
	}
	return n, nil
}

// QueryAccepted 按过滤、排序、分页查询入库记录
func (s *Store) QueryAccepted(ctx context.Context, q model.RecordQuery) (*model.Page[model.AcceptedRecord], error) {
	total, err := s.CountAccepted(ctx, q)
	if err != nil {
		return nil, err
	}
	page := &model.Page[model.AcceptedRecord]{Items: []model.AcceptedRecord{}, Total: total, Page: q.Page, PageSize: q.PageSize}
	if page.Page < 1 {
		page.Page = 1
	}
	err = s.IterateAccepted(ctx, q, func(r model.AcceptedRecord) error {
		page.Items = append(page.Items, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// IterateAccepted 流式遍历入库记录；fn 内不得再访问 Store（单连接）
func (s *Store) IterateAccepted(ctx context.Context, q model.RecordQuery, fn func(model.AcceptedRecord) error) error {
	where, args, err := buildWhere(q)
	if err != nil {
		return err
	}
	order, orderArgs, err := buildOrder(q)
	if err != nil {
		return err
	}
	query := `SELECT ` + acceptedColumns + ` FROM accepted_records` + where + order + buildLimit(q.Page, q.PageSize)

	rows, err := s.db.QueryContext(ctx, query, append(args, orderArgs...)...)
	if err != nil {
		return fmt.Errorf("failed to query accepted records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanAccepted(rows)
		if err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate accepted records: %w", err)
	}
	return nil
}
