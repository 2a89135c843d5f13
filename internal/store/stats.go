package store

import (
	"context"
	"database/sql"
	"fmt"

	"flowmerge/internal/model"
)

// TopGroupLimit 分组统计返回的条数
const TopGroupLimit = 5

// Stats 数据库统计：总记录数、待修正数、来源文件数、日期范围、分组 Top N
// dateField / groupField 为空时跳过对应统计
func (s *Store) Stats(ctx context.Context, templateName, dateField, groupField string) (*model.Stats, error) {
	q := model.RecordQuery{TemplateName: templateName}
	where, args, err := buildWhere(q)
	if err != nil {
		return nil, err
	}

	st := &model.Stats{DateField: dateField, GroupField: groupField, TopGroups: []model.GroupCount{}}
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*), COUNT(DISTINCT source_file) FROM accepted_records`+where, args...).
		Scan(&st.TotalRecords, &st.SourceFiles)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}

	pendingQuery := `SELECT COUNT(*) FROM rejected_records WHERE status = 'pending'`
	var pendingArgs []any
	if templateName != "" {
		pendingQuery += ` AND template_name = ?`
		pendingArgs = append(pendingArgs, templateName)
	}
	if err := s.db.QueryRowContext(ctx, pendingQuery, pendingArgs...).Scan(&st.PendingRejected); err != nil {
		return nil, fmt.Errorf("failed to count rejected records: %w", err)
	}

	if dateField != "" {
		expr, exprArgs, err := fieldExpr(dateField)
		if err != nil {
			return nil, err
		}
		var minDate, maxDate sql.NullString
		query := fmt.Sprintf(`SELECT MIN(%s), MAX(%s) FROM accepted_records`, expr, expr)
		all := append(append(append([]any{}, exprArgs...), exprArgs...), args...)
		if err := s.db.QueryRowContext(ctx, query+where, all...).Scan(&minDate, &maxDate); err != nil {
			return nil, fmt.Errorf("failed to query date range: %w", err)
		}
		st.MinDate, st.MaxDate = minDate.String, maxDate.String
	}

	if groupField != "" {
		expr, exprArgs, err := fieldExpr(groupField)
		if err != nil {
			return nil, err
		}
		cond := expr + " IS NOT NULL"
		if where == "" {
			cond = " WHERE " + cond
		} else {
			cond = where + " AND " + cond
		}
		query := fmt.Sprintf(`SELECT CAST(%s AS TEXT) AS g, COUNT(*) AS n FROM accepted_records%s GROUP BY g ORDER BY n DESC, g LIMIT %d`,
			expr, cond, TopGroupLimit)
		all := append(append(append([]any{}, exprArgs...), args...), exprArgs...)
		rows, err := s.db.QueryContext(ctx, query, all...)
		if err != nil {
			return nil, fmt.Errorf("failed to query top groups: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var g model.GroupCount
			if err := rows.Scan(&g.Value, &g.Count); err != nil {
				return nil, fmt.Errorf("failed to scan group: %w", err)
			}
			st.TopGroups = append(st.TopGroups, g)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to iterate groups: %w", err)
		}
	}
	return st, nil
}
