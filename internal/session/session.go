package session

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"flowmerge/internal/importer"
	"flowmerge/internal/mapping"
	"flowmerge/internal/model"
)

// DefaultTTL 会话空闲过期时间
const DefaultTTL = 2 * time.Hour

// Store 会话依赖的模板存储与最近文件
type Store interface {
	GetTemplate(ctx context.Context, name string) (*model.Template, error)
	GetDefaultTemplate(ctx context.Context) (string, error)
	AddRecent(ctx context.Context, path string) error
}

// Session 一次交互式导入的全部状态：所选模板、文件、每个文件的分析与映射
type Session struct {
	ID        string                         `json:"id"`
	Template  string                         `json:"template"`
	Files     []string                       `json:"files"`
	Analyses  map[string]*model.FileAnalysis `json:"analyses"`
	Mappings  map[string]model.ColumnMapping `json:"mappings"`
	Offers    map[string]*model.MemoryOffer  `json:"offers"`
	BatchID   string                         `json:"batch_id,omitempty"`
	CreatedAt time.Time                      `json:"created_at"`
	expiresAt time.Time
}

// clone 深拷贝，调用方拿到的快照不受后续修改影响
func (s *Session) clone() *Session {
	out := *s
	out.Files = append([]string(nil), s.Files...)
	out.Analyses = make(map[string]*model.FileAnalysis, len(s.Analyses))
	for k, a := range s.Analyses {
		cp := *a
		cp.Proposals = append([]model.ColumnProposal(nil), a.Proposals...)
		out.Analyses[k] = &cp
	}
	out.Mappings = make(map[string]model.ColumnMapping, len(s.Mappings))
	for k, m := range s.Mappings {
		out.Mappings[k] = m.Clone()
	}
	out.Offers = make(map[string]*model.MemoryOffer, len(s.Offers))
	for k, o := range s.Offers {
		cp := *o
		cp.Mapping = o.Mapping.Clone()
		out.Offers[k] = &cp
	}
	return &out
}

// Ready 可进入行处理的文件（分析成功的文件，按选择顺序）
func (s *Session) Ready() []string {
	var out []string
	for _, p := range s.Files {
		if a := s.Analyses[p]; a != nil && !a.Failed() {
			out = append(out, p)
		}
	}
	return out
}

// Conflicts 每个文件当前映射中的冲突；无冲突的文件不出现
func (s *Session) Conflicts() map[string]map[string][]string {
	out := make(map[string]map[string][]string)
	for _, p := range s.Ready() {
		if c := mapping.DetectConflicts(s.Mappings[p]); len(c) > 0 {
			out[p] = c
		}
	}
	return out
}

// Manager 会话注册表，过期会话在访问时清理
type Manager struct {
	mu        sync.Mutex
	items     map[string]*Session
	ttl       time.Duration
	store     Store
	pipeline  *mapping.Pipeline
	processor *importer.Processor
	logger    *slog.Logger
	now       func() time.Time
}

// NewManager 创建会话管理器
func NewManager(store Store, pipeline *mapping.Pipeline, processor *importer.Processor, ttl time.Duration, logger *slog.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		items:     make(map[string]*Session),
		ttl:       ttl,
		store:     store,
		pipeline:  pipeline,
		processor: processor,
		logger:    logger,
		now:       time.Now,
	}
}

// Create 新建会话并依次分析所选文件；templateName 为空时使用默认模板
func (m *Manager) Create(ctx context.Context, templateName string, files []string) (*Session, error) {
	if len(files) == 0 {
		return nil, eris.Wrap(model.ErrNoFiles, "未选择任何文件")
	}
	tpl, err := m.resolveTemplate(ctx, templateName)
	if err != nil {
		return nil, err
	}

	now := m.now()
	s := &Session{
		ID:        uuid.NewString(),
		Template:  tpl.Name,
		Analyses:  make(map[string]*model.FileAnalysis),
		Mappings:  make(map[string]model.ColumnMapping),
		Offers:    make(map[string]*model.MemoryOffer),
		CreatedAt: now,
	}
	m.analyzeInto(ctx, s, tpl, dedupe(files))

	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeExpiredLocked(now)
	s.expiresAt = now.Add(m.ttl)
	m.items[s.ID] = s
	m.logger.Info("session created", "session_id", s.ID, "template", s.Template, "files", len(s.Files))
	return s.clone(), nil
}

// AddFiles 追加文件并分析；已在会话中的文件忽略
func (m *Manager) AddFiles(ctx context.Context, id string, files []string) (*Session, error) {
	snap, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	tpl, err := m.store.GetTemplate(ctx, snap.Template)
	if err != nil {
		return nil, err
	}
	var fresh []string
	for _, p := range dedupe(files) {
		if _, ok := snap.Analyses[p]; !ok {
			fresh = append(fresh, p)
		}
	}
	tmp := &Session{
		Analyses: make(map[string]*model.FileAnalysis),
		Mappings: make(map[string]model.ColumnMapping),
		Offers:   make(map[string]*model.MemoryOffer),
	}
	m.analyzeInto(ctx, tmp, tpl, fresh)

	return m.update(id, func(s *Session) error {
		for _, p := range tmp.Files {
			if _, ok := s.Analyses[p]; ok {
				continue
			}
			s.Files = append(s.Files, p)
			s.Analyses[p] = tmp.Analyses[p]
			if mm, ok := tmp.Mappings[p]; ok {
				s.Mappings[p] = mm
			}
			if o, ok := tmp.Offers[p]; ok {
				s.Offers[p] = o
			}
		}
		return nil
	})
}

// RemoveFile 从会话中移除文件
func (m *Manager) RemoveFile(id, path string) (*Session, error) {
	return m.update(id, func(s *Session) error {
		if _, ok := s.Analyses[path]; !ok {
			return eris.Wrapf(model.ErrNoFiles, "会话中没有文件 %s", filepath.Base(path))
		}
		delete(s.Analyses, path)
		delete(s.Mappings, path)
		delete(s.Offers, path)
		files := s.Files[:0]
		for _, p := range s.Files {
			if p != path {
				files = append(files, p)
			}
		}
		s.Files = files
		return nil
	})
}

// SetTemplate 切换模板并重新分析全部文件，之前的手工映射丢弃
func (m *Manager) SetTemplate(ctx context.Context, id, templateName string) (*Session, error) {
	snap, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	tpl, err := m.resolveTemplate(ctx, templateName)
	if err != nil {
		return nil, err
	}
	tmp := &Session{
		Analyses: make(map[string]*model.FileAnalysis),
		Mappings: make(map[string]model.ColumnMapping),
		Offers:   make(map[string]*model.MemoryOffer),
	}
	m.analyzeInto(ctx, tmp, tpl, snap.Files)

	return m.update(id, func(s *Session) error {
		s.Template = tpl.Name
		s.Files = tmp.Files
		s.Analyses = tmp.Analyses
		s.Mappings = tmp.Mappings
		s.Offers = tmp.Offers
		s.BatchID = ""
		return nil
	})
}

// Get 获取会话快照并续期
func (m *Manager) Get(id string) (*Session, error) {
	return m.update(id, func(*Session) error { return nil })
}

// Delete 结束会话
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
}

// SetMapping 修改单列映射；target 为空表示取消映射
func (m *Manager) SetMapping(ctx context.Context, id, path, source, target string) (*Session, error) {
	snap, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	tpl, err := m.store.GetTemplate(ctx, snap.Template)
	if err != nil {
		return nil, err
	}
	if target != "" {
		if _, ok := tpl.Field(target); !ok {
			return nil, eris.Wrapf(model.ErrFieldNotFound, "模板「%s」没有字段「%s」", tpl.Name, target)
		}
	}
	return m.update(id, func(s *Session) error {
		mm, err := s.mappingFor(path)
		if err != nil {
			return err
		}
		if _, ok := mm[source]; !ok {
			return eris.Wrapf(model.ErrFieldNotFound, "文件 %s 没有列「%s」", filepath.Base(path), source)
		}
		mm[source] = target
		return nil
	})
}

// Conflicts 当前会话的映射冲突
func (m *Manager) Conflicts(id string) (map[string]map[string][]string, error) {
	snap, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return snap.Conflicts(), nil
}

// AcceptMemory 采用模板记忆中的映射，完全替换该文件的自动映射
func (m *Manager) AcceptMemory(id, path string) (*Session, error) {
	return m.update(id, func(s *Session) error {
		offer, ok := s.Offers[path]
		if !ok {
			return eris.Wrapf(model.ErrMemoryNotFound, "文件 %s 没有可用的历史映射", filepath.Base(path))
		}
		a := s.Analyses[path]
		a.Proposals = mapping.ApplyMemory(a.Proposals, offer.Mapping)
		s.Mappings[path] = model.MappingFromProposals(a.Proposals)
		delete(s.Offers, path)
		return nil
	})
}

// DeclineMemory 拒绝历史映射，保留自动映射
func (m *Manager) DeclineMemory(id, path string) (*Session, error) {
	return m.update(id, func(s *Session) error {
		if _, ok := s.Offers[path]; !ok {
			return eris.Wrapf(model.ErrMemoryNotFound, "文件 %s 没有可用的历史映射", filepath.Base(path))
		}
		delete(s.Offers, path)
		return nil
	})
}

// Proceed 进入行处理前的校验，存在未解决的冲突时拒绝；返回处理请求
func (m *Manager) Proceed(id string) (importer.Request, error) {
	snap, err := m.Get(id)
	if err != nil {
		return importer.Request{}, err
	}
	ready := snap.Ready()
	if len(ready) == 0 {
		return importer.Request{}, eris.Wrap(model.ErrNoFiles, "没有可处理的文件")
	}
	if conflicts := snap.Conflicts(); len(conflicts) > 0 {
		paths := make([]string, 0, len(conflicts))
		for p := range conflicts {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		first := paths[0]
		return importer.Request{}, eris.Wrapf(model.ErrMappingConflict, "文件 %s 存在映射冲突: %s",
			filepath.Base(first), mapping.ConflictMessage(conflicts[first]))
	}
	req := importer.Request{
		BatchID:      uuid.NewString(),
		TemplateName: snap.Template,
		Files:        ready,
		Mappings:     make(map[string]model.ColumnMapping, len(ready)),
	}
	for _, p := range ready {
		req.Mappings[p] = snap.Mappings[p]
	}
	return req, nil
}

// Process 同步处理会话中的文件
func (m *Manager) Process(ctx context.Context, id string, progress importer.ProgressFunc) (*model.BatchResult, error) {
	req, err := m.Proceed(id)
	if err != nil {
		return nil, err
	}
	m.setBatch(id, req.BatchID)
	return m.processor.Process(ctx, req, progress)
}

// Run 后台处理，返回进度通道
func (m *Manager) Run(ctx context.Context, id string) (<-chan importer.ProgressEvent, error) {
	req, err := m.Proceed(id)
	if err != nil {
		return nil, err
	}
	m.setBatch(id, req.BatchID)
	return m.processor.Run(ctx, req), nil
}

func (m *Manager) setBatch(id, batchID string) {
	_, _ = m.update(id, func(s *Session) error {
		s.BatchID = batchID
		return nil
	})
}

func (m *Manager) update(id string, fn func(s *Session) error) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.purgeExpiredLocked(now)
	s, ok := m.items[id]
	if !ok {
		return nil, eris.Wrapf(model.ErrSessionNotFound, "会话 %s 不存在或已过期", id)
	}
	if err := fn(s); err != nil {
		return nil, err
	}
	s.expiresAt = now.Add(m.ttl)
	return s.clone(), nil
}

func (m *Manager) purgeExpiredLocked(now time.Time) {
	for k, v := range m.items {
		if now.After(v.expiresAt) {
			delete(m.items, k)
		}
	}
}

func (m *Manager) resolveTemplate(ctx context.Context, name string) (*model.Template, error) {
	if name == "" {
		def, err := m.store.GetDefaultTemplate(ctx)
		if err != nil {
			return nil, err
		}
		name = def
	}
	tpl, err := m.store.GetTemplate(ctx, name)
	if err != nil {
		return nil, eris.Wrapf(err, "模板「%s」不可用", name)
	}
	return tpl, nil
}

// analyzeInto 按顺序分析文件，单个文件失败仅记录在其分析结果中
func (m *Manager) analyzeInto(ctx context.Context, s *Session, tpl *model.Template, files []string) {
	for _, p := range files {
		if ctx.Err() != nil {
			return
		}
		a := m.pipeline.Run(p, tpl)
		s.Files = append(s.Files, p)
		s.Analyses[p] = a
		if a.Failed() {
			m.logger.Warn("file analysis failed", "file", a.FileName, "error", a.Error)
			continue
		}
		s.Mappings[p] = model.MappingFromProposals(a.Proposals)
		if a.MemoryOffer != nil {
			s.Offers[p] = a.MemoryOffer
		}
		if err := m.store.AddRecent(ctx, p); err != nil {
			m.logger.Warn("failed to record recent file", "file", a.FileName, "error", err)
		}
	}
}

func (s *Session) mappingFor(path string) (model.ColumnMapping, error) {
	a, ok := s.Analyses[path]
	if !ok {
		return nil, eris.Wrapf(model.ErrNoFiles, "会话中没有文件 %s", filepath.Base(path))
	}
	if a.Failed() {
		return nil, eris.Wrapf(model.ErrUnsupportedFormat, "文件 %s 无法读取: %s", a.FileName, a.Error)
	}
	return s.Mappings[path], nil
}

func dedupe(files []string) []string {
	seen := make(map[string]bool, len(files))
	out := make([]string, 0, len(files))
	for _, f := range files {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
