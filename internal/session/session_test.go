package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowmerge/internal/importer"
	"flowmerge/internal/mapping"
	"flowmerge/internal/memory"
	"flowmerge/internal/model"
	"flowmerge/internal/store"
	"flowmerge/internal/testutil"
)

type fixture struct {
	mgr   *Manager
	store *store.Store
	dir   string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	s, err := store.New(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.EnsureDefaultTemplate(context.Background()))

	mem, err := memory.Open(filepath.Join(dir, "memory.json"))
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pipeline := mapping.NewPipeline(mapping.NewAnalyzer(mapping.DefaultAnalyzerOptions()), mem)
	proc := importer.NewProcessor(s, mem, importer.Options{MaxFiles: 10, BatchSize: 10, RetryAttempts: 1, RetryInitial: time.Millisecond}, logger)
	return fixture{mgr: NewManager(s, pipeline, proc, time.Hour, logger), store: s, dir: dir}
}

func (f fixture) flow(t *testing.T, name string, headers ...string) string {
	t.Helper()
	row := map[string]any{"序号": 1, "交易日期": "20210305", "金额": "10.5"}
	values := make([]any, 0, len(headers))
	for _, h := range headers {
		values = append(values, row[h])
	}
	return testutil.WriteWorkbook(t, f.dir, name, [][]any{testutil.Headers(headers...), values})
}

func TestCreate_AnalyzesInOrderAndRecordsRecent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	good := f.flow(t, "good.xlsx", "序号", "交易日期", "金额")
	bad := testutil.WriteCorrupt(t, f.dir, "bad.xlsx")

	s, err := f.mgr.Create(ctx, "", []string{good, bad, good})
	require.NoError(t, err)
	assert.Equal(t, model.DefaultTemplateName, s.Template)
	assert.Equal(t, []string{good, bad}, s.Files)
	assert.Equal(t, []string{good}, s.Ready())
	assert.True(t, s.Analyses[bad].Failed())
	assert.Equal(t, model.ColumnMapping{"序号": "ID", "交易日期": "记账日期", "金额": "交易金额"}, s.Mappings[good])

	recent, err := f.store.ListRecent(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{good}, recent)

	_, err = f.mgr.Create(ctx, "", nil)
	assert.True(t, errors.Is(err, model.ErrNoFiles))
	_, err = f.mgr.Create(ctx, "不存在", []string{good})
	assert.True(t, errors.Is(err, model.ErrTemplateNotFound))
}

func TestProceed_RefusesOpenConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := f.flow(t, "a.xlsx", "序号", "交易日期", "金额")
	s, err := f.mgr.Create(ctx, "", []string{path})
	require.NoError(t, err)

	s, err = f.mgr.SetMapping(ctx, s.ID, path, "序号", "交易金额")
	require.NoError(t, err)
	conflicts, err := f.mgr.Conflicts(s.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]map[string][]string{path: {"交易金额": {"序号", "金额"}}}, conflicts)

	_, err = f.mgr.Proceed(s.ID)
	assert.True(t, errors.Is(err, model.ErrMappingConflict))
	_, err = f.mgr.Process(ctx, s.ID, nil)
	assert.True(t, errors.Is(err, model.ErrMappingConflict))

	_, err = f.mgr.SetMapping(ctx, s.ID, path, "序号", "")
	require.NoError(t, err)
	req, err := f.mgr.Proceed(s.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{path}, req.Files)
	assert.Equal(t, "", req.Mappings[path]["序号"])
	assert.NotEmpty(t, req.BatchID)

	_, err = f.mgr.SetMapping(ctx, s.ID, path, "序号", "不存在")
	assert.True(t, errors.Is(err, model.ErrFieldNotFound))
	_, err = f.mgr.SetMapping(ctx, s.ID, path, "没有这列", "ID")
	assert.True(t, errors.Is(err, model.ErrFieldNotFound))
}

func TestMemoryOffer_AcceptReplacesMapping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.flow(t, "first.xlsx", "序号", "交易日期", "金额")
	s, err := f.mgr.Create(ctx, "", []string{first})
	require.NoError(t, err)
	assert.Empty(t, s.Offers)

	// 手工调整后处理，成功后映射写入模板记忆
	_, err = f.mgr.SetMapping(ctx, s.ID, first, "序号", "")
	require.NoError(t, err)
	res, err := f.mgr.Process(ctx, s.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalAccepted)
	got, err := f.mgr.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, res.BatchID, got.BatchID)

	second := f.flow(t, "second.xlsx", "金额", "序号", "交易日期")
	s2, err := f.mgr.Create(ctx, "", []string{second})
	require.NoError(t, err)
	require.Contains(t, s2.Offers, second)
	// 提供但不自动应用
	assert.Equal(t, "ID", s2.Mappings[second]["序号"])

	s2, err = f.mgr.AcceptMemory(s2.ID, second)
	require.NoError(t, err)
	assert.Equal(t, model.ColumnMapping{"金额": "交易金额", "序号": "", "交易日期": "记账日期"}, s2.Mappings[second])
	assert.Empty(t, s2.Offers)

	_, err = f.mgr.DeclineMemory(s2.ID, second)
	assert.True(t, errors.Is(err, model.ErrMemoryNotFound))
}

func TestDeclineMemory_KeepsAutomaticMapping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.flow(t, "first.xlsx", "序号", "金额")
	s, err := f.mgr.Create(ctx, "", []string{first})
	require.NoError(t, err)
	_, err = f.mgr.Process(ctx, s.ID, nil)
	require.NoError(t, err)

	second := f.flow(t, "second.xlsx", "金额", "序号")
	s2, err := f.mgr.Create(ctx, "", []string{second})
	require.NoError(t, err)
	require.Contains(t, s2.Offers, second)

	s2, err = f.mgr.DeclineMemory(s2.ID, second)
	require.NoError(t, err)
	assert.Empty(t, s2.Offers)
	assert.Equal(t, model.ColumnMapping{"金额": "交易金额", "序号": "ID"}, s2.Mappings[second])
}

func TestSessions_ExpireAndAreIndependent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := f.flow(t, "a.xlsx", "序号", "金额")

	a, err := f.mgr.Create(ctx, "", []string{path})
	require.NoError(t, err)
	b, err := f.mgr.Create(ctx, "", []string{path})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)

	_, err = f.mgr.SetMapping(ctx, a.ID, path, "金额", "")
	require.NoError(t, err)
	gotB, err := f.mgr.Get(b.ID)
	require.NoError(t, err)
	assert.Equal(t, "交易金额", gotB.Mappings[path]["金额"])

	// 快照不受修改影响
	gotB.Mappings[path]["金额"] = "余额"
	again, err := f.mgr.Get(b.ID)
	require.NoError(t, err)
	assert.Equal(t, "交易金额", again.Mappings[path]["金额"])

	base := time.Now()
	f.mgr.now = func() time.Time { return base.Add(2 * time.Hour) }
	_, err = f.mgr.Get(a.ID)
	assert.True(t, errors.Is(err, model.ErrSessionNotFound))

	f.mgr.Delete(b.ID)
	_, err = f.mgr.Get(b.ID)
	assert.True(t, errors.Is(err, model.ErrSessionNotFound))
}

func TestAddRemoveFilesAndSwitchTemplate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	one := f.flow(t, "one.xlsx", "序号", "金额")
	two := f.flow(t, "two.xlsx", "交易日期", "金额")

	s, err := f.mgr.Create(ctx, "", []string{one})
	require.NoError(t, err)
	s, err = f.mgr.AddFiles(ctx, s.ID, []string{one, two})
	require.NoError(t, err)
	assert.Equal(t, []string{one, two}, s.Files)

	s, err = f.mgr.RemoveFile(s.ID, one)
	require.NoError(t, err)
	assert.Equal(t, []string{two}, s.Files)
	assert.NotContains(t, s.Mappings, one)

	simple := &model.Template{Name: "简易模板", Fields: []model.TemplateField{
		{Name: "日期", Type: model.FieldDate, Synonyms: []string{"交易日期"}},
	}}
	require.NoError(t, f.store.SaveTemplate(ctx, simple, false))
	s, err = f.mgr.SetTemplate(ctx, s.ID, "简易模板")
	require.NoError(t, err)
	assert.Equal(t, "简易模板", s.Template)
	assert.Equal(t, "日期", s.Mappings[two]["交易日期"])
	assert.Equal(t, "", s.Mappings[two]["金额"])
}
