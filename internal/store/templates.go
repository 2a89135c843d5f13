package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"flowmerge/internal/model"
)

type templateRow struct {
	name      string
	fields    string
	isDefault bool
	createdAt string
	updatedAt string
}

func (r templateRow) toModel() (*model.Template, error) {
	tpl := &model.Template{
		Name:      r.name,
		IsDefault: r.isDefault,
		CreatedAt: parseTime(r.createdAt),
		UpdatedAt: parseTime(r.updatedAt),
	}
	if err := json.Unmarshal([]byte(r.fields), &tpl.Fields); err != nil {
		return nil, fmt.Errorf("failed to decode template %s: %w", r.name, err)
	}
	return tpl, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getTemplate(ctx context.Context, q queryer, name string) (*model.Template, error) {
	var r templateRow
	err := q.QueryRowContext(ctx, `
		SELECT name, fields_json, is_default, created_at, updated_at
		FROM templates WHERE name = ?
	`, name).Scan(&r.name, &r.fields, &r.isDefault, &r.createdAt, &r.updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", model.ErrTemplateNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query template: %w", err)
	}
	return r.toModel()
}

func templateLocked(ctx context.Context, q queryer, name string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM accepted_records WHERE template_name = ?)
		    OR EXISTS(SELECT 1 FROM rejected_records WHERE template_name = ? AND status = 'pending')
	`, name, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check template usage: %w", err)
	}
	return n != 0, nil
}

// GetTemplate 获取模板
func (s *Store) GetTemplate(ctx context.Context, name string) (*model.Template, error) {
	tpl, err := getTemplate(ctx, s.db, name)
	if err != nil {
		return nil, err
	}
	if tpl.Locked, err = templateLocked(ctx, s.db, name); err != nil {
		return nil, err
	}
	return tpl, nil
}

// ListTemplates 全部模板，名称 -> 模板
func (s *Store) ListTemplates(ctx context.Context) (map[string]*model.Template, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, fields_json, is_default, created_at, updated_at FROM templates`)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*model.Template)
	for rows.Next() {
		var r templateRow
		if err := rows.Scan(&r.name, &r.fields, &r.isDefault, &r.createdAt, &r.updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		tpl, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out[tpl.Name] = tpl
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate templates: %w", err)
	}
	rows.Close()

	for name, tpl := range out {
		if tpl.Locked, err = templateLocked(ctx, s.db, name); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// GetDefaultTemplate 默认模板名称
func (s *Store) GetDefaultTemplate(ctx context.Context) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `SELECT name FROM templates WHERE is_default = 1 LIMIT 1`).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: no default template", model.ErrTemplateNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to query default template: %w", err)
	}
	return name, nil
}

// SaveTemplate 新建或更新模板
// 已有入库数据的模板只允许修改同义词；isDefault 为 true 时成为唯一默认模板，首个模板自动成为默认
func (s *Store) SaveTemplate(ctx context.Context, tpl *model.Template, isDefault bool) error {
	tpl = tpl.Clone()
	tpl.Fields = cleanFields(tpl.Fields)
	if err := tpl.Validate(); err != nil {
		return err
	}
	fields, err := json.Marshal(tpl.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode template fields: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.timestamp()
		existing, err := getTemplate(ctx, tx, tpl.Name)
		switch {
		case errors.Is(err, model.ErrTemplateNotFound):
			existing = nil
		case err != nil:
			return err
		}

		if existing != nil && !existing.SameShape(tpl) {
			locked, err := templateLocked(ctx, tx, tpl.Name)
			if err != nil {
				return err
			}
			if locked {
				return fmt.Errorf("%w: %s", model.ErrTemplateLocked, tpl.Name)
			}
		}

		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM templates WHERE is_default = 1 AND name <> ?`, tpl.Name).Scan(&count); err != nil {
			return fmt.Errorf("failed to count default templates: %w", err)
		}
		makeDefault := isDefault || count == 0
		if makeDefault {
			if _, err := tx.ExecContext(ctx, `UPDATE templates SET is_default = 0 WHERE name <> ?`, tpl.Name); err != nil {
				return fmt.Errorf("failed to clear default template: %w", err)
			}
		} else if existing != nil && existing.IsDefault {
			// 未显式取消时保留原默认状态
			makeDefault = true
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO templates (name, fields_json, is_default, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				fields_json = excluded.fields_json,
				is_default = excluded.is_default,
				updated_at = excluded.updated_at
		`, tpl.Name, string(fields), makeDefault, now, now)
		if err != nil {
			return fmt.Errorf("failed to save template: %w", err)
		}
		return nil
	})
}

// DeleteTemplate 删除模板；被引用的模板和最后一个模板不可删除，删除默认模板时按名称提升下一个
func (s *Store) DeleteTemplate(ctx context.Context, name string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := getTemplate(ctx, tx, name)
		if err != nil {
			return err
		}
		locked, err := templateLocked(ctx, tx, name)
		if err != nil {
			return err
		}
		if locked {
			return fmt.Errorf("%w: %s", model.ErrTemplateLocked, name)
		}

		var total int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM templates`).Scan(&total); err != nil {
			return fmt.Errorf("failed to count templates: %w", err)
		}
		if total <= 1 {
			return model.ErrLastTemplate
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM templates WHERE name = ?`, name); err != nil {
			return fmt.Errorf("failed to delete template: %w", err)
		}
		if existing.IsDefault {
			_, err := tx.ExecContext(ctx, `
				UPDATE templates SET is_default = 1
				WHERE name = (SELECT name FROM templates ORDER BY name LIMIT 1)
			`)
			if err != nil {
				return fmt.Errorf("failed to promote default template: %w", err)
			}
		}
		return nil
	})
}

// UpdateSynonyms 替换字段的同义词列表，已锁定的模板同样允许
func (s *Store) UpdateSynonyms(ctx context.Context, templateName, field string, synonyms []string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		tpl, err := getTemplate(ctx, tx, templateName)
		if err != nil {
			return err
		}
		found := false
		for i := range tpl.Fields {
			if tpl.Fields[i].Name == field {
				tpl.Fields[i].Synonyms = synonyms
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: %s.%s", model.ErrFieldNotFound, templateName, field)
		}

		fields, err := json.Marshal(cleanFields(tpl.Fields))
		if err != nil {
			return fmt.Errorf("failed to encode template fields: %w", err)
		}
		_, err = tx.ExecContext(ctx, `UPDATE templates SET fields_json = ?, updated_at = ? WHERE name = ?`,
			string(fields), s.timestamp(), templateName)
		if err != nil {
			return fmt.Errorf("failed to update synonyms: %w", err)
		}
		return nil
	})
}

// EnsureDefaultTemplate 空库时写入内置模板
func (s *Store) EnsureDefaultTemplate(ctx context.Context) error {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM templates`).Scan(&n); err != nil {
		return fmt.Errorf("failed to count templates: %w", err)
	}
	if n > 0 {
		return nil
	}
	return s.SaveTemplate(ctx, model.DefaultTemplate(), true)
}

// TemplateNames 排序后的模板名称
func TemplateNames(templates map[string]*model.Template) []string {
	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// cleanFields 去除同义词中的空白与重复项
func cleanFields(fields []model.TemplateField) []model.TemplateField {
	out := make([]model.TemplateField, len(fields))
	for i, f := range fields {
		f.Name = strings.TrimSpace(f.Name)
		seen := make(map[string]struct{}, len(f.Synonyms))
		syns := make([]string, 0, len(f.Synonyms))
		for _, s := range f.Synonyms {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			syns = append(syns, s)
		}
		f.Synonyms = syns
		out[i] = f
	}
	return out
}
