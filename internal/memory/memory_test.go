package memory

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowmerge/internal/model"
)

func TestSignature_OrderCaseAndWhitespaceIndependent(t *testing.T) {
	a := Signature([]string{"A", "B", "C"})
	assert.Equal(t, a, Signature([]string{"C", "A", "B"}))
	assert.Equal(t, a, Signature([]string{" a", "b ", "\tC"}))
	assert.Equal(t, "a|b|c", a)
	assert.NotEqual(t, a, Signature([]string{"A", "B"}))
}

func TestSignature_SeparatorInsideColumnName(t *testing.T) {
	assert.NotEqual(t, Signature([]string{"a|b"}), Signature([]string{"a", "b"}))
	assert.NotEqual(t, Signature([]string{`a\`, "b"}), Signature([]string{`a\|b`}))
	assert.Equal(t, `a\|b`, Signature([]string{"a|b"}))
}

func TestMemory_StoreLookupPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	m, err := Open(path)
	require.NoError(t, err)

	sig := Signature([]string{"A", "B", "C"})
	_, ok := m.Lookup("默认模板", sig)
	assert.False(t, ok)

	require.NoError(t, m.Store("默认模板", sig, model.ColumnMapping{"A": "账号", "B": "", "C": "交易金额"}))

	reopened, err := Open(path)
	require.NoError(t, err)
	got, ok := reopened.Lookup("默认模板", Signature([]string{"C", "A", "B"}))
	require.True(t, ok)
	assert.Equal(t, "账号", got["A"])
	assert.Equal(t, "交易金额", got["C"])

	got["A"] = "mutated"
	again, _ := reopened.Lookup("默认模板", sig)
	assert.Equal(t, "账号", again["A"])

	_, ok = reopened.Lookup("其他模板", sig)
	assert.False(t, ok)
}

func TestMemory_LastWriterWins(t *testing.T) {
	m, err := Open(filepath.Join(t.TempDir(), "memory.json"))
	require.NoError(t, err)

	require.NoError(t, m.Store("t", "a|b", model.ColumnMapping{"a": "x"}))
	require.NoError(t, m.Store("t", "a|b", model.ColumnMapping{"a": "y"}))
	got, _ := m.Lookup("t", "a|b")
	assert.Equal(t, "y", got["a"])
	assert.Len(t, m.List("t"), 1)
}

func TestMemory_Delete(t *testing.T) {
	m, err := Open(filepath.Join(t.TempDir(), "memory.json"))
	require.NoError(t, err)

	require.NoError(t, m.Store("t", "a|b", model.ColumnMapping{"a": "x"}))
	require.NoError(t, m.Store("t", "c", model.ColumnMapping{"c": "y"}))

	require.NoError(t, m.Delete("t", "a|b"))
	_, ok := m.Lookup("t", "a|b")
	assert.False(t, ok)
	assert.True(t, errors.Is(m.Delete("t", "a|b"), model.ErrMemoryNotFound))

	require.NoError(t, m.DeleteTemplate("t"))
	assert.Empty(t, m.List("t"))
}
