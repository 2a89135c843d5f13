package memory

import (
	"errors"
	"os"
	"sort"
	"sync"

	"github.com/rotisserie/eris"

	"flowmerge/internal/model"
)

// Memory 模板记忆：{模板名: {签名: {源列: 目标字段}}}，持久化为 JSON 文件
type Memory struct {
	mu   sync.Mutex
	path string
	data map[string]map[string]model.ColumnMapping
}

// Entry 一条记忆
type Entry struct {
	Signature string              `json:"signature"`
	Mapping   model.ColumnMapping `json:"mapping"`
}

// Open 加载记忆文件，不存在时为空
func Open(path string) (*Memory, error) {
	m := &Memory{
		path: path,
		data: make(map[string]map[string]model.ColumnMapping),
	}
	if err := readJSON(path, &m.data); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return m, nil
		}
		return nil, eris.Wrapf(err, "加载模板记忆失败: %s", path)
	}
	if m.data == nil {
		m.data = make(map[string]map[string]model.ColumnMapping)
	}
	return m, nil
}

// Lookup 查找已确认的映射
func (m *Memory) Lookup(template, signature string) (model.ColumnMapping, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mapping, ok := m.data[template][signature]
	if !ok {
		return nil, false
	}
	return mapping.Clone(), true
}

// Store 保存映射，同一签名后写覆盖
func (m *Memory) Store(template, signature string, mapping model.ColumnMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bySig, ok := m.data[template]
	if !ok {
		bySig = make(map[string]model.ColumnMapping)
		m.data[template] = bySig
	}
	prev, existed := bySig[signature]
	bySig[signature] = mapping.Clone()
	if err := m.saveLocked(); err != nil {
		if existed {
			bySig[signature] = prev
		} else {
			delete(bySig, signature)
		}
		return err
	}
	return nil
}

// Delete 删除单条记忆
func (m *Memory) Delete(template, signature string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bySig := m.data[template]
	prev, ok := bySig[signature]
	if !ok {
		return eris.Wrapf(model.ErrMemoryNotFound, "模板 %s 无签名 %s 的记忆", template, signature)
	}
	delete(bySig, signature)
	if len(bySig) == 0 {
		delete(m.data, template)
	}
	if err := m.saveLocked(); err != nil {
		if m.data[template] == nil {
			m.data[template] = bySig
		}
		bySig[signature] = prev
		return err
	}
	return nil
}

// DeleteTemplate 删除模板的全部记忆
func (m *Memory) DeleteTemplate(template string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, ok := m.data[template]
	if !ok {
		return nil
	}
	delete(m.data, template)
	if err := m.saveLocked(); err != nil {
		m.data[template] = prev
		return err
	}
	return nil
}

// List 模板的全部记忆，按签名排序
func (m *Memory) List(template string) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	bySig := m.data[template]
	out := make([]Entry, 0, len(bySig))
	for sig, mapping := range bySig {
		out = append(out, Entry{Signature: sig, Mapping: mapping.Clone()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Signature < out[j].Signature })
	return out
}

func (m *Memory) saveLocked() error {
	if err := writeJSONAtomic(m.path, m.data); err != nil {
		return eris.Wrapf(err, "保存模板记忆失败: %s", m.path)
	}
	return nil
}
