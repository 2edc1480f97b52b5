package layout

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLayoutFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "layouts.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeLayoutFile(t, `
layouts:
  - tag: 0x1000
    name: EXPR
    fields:
      - name: head
        offset: 8
        kind: string
      - name: args
        offset: 16
        kind: array
        count: 2
        elem: value
  - tag: 0x2000
    name: INT64
    bare: true
    fields:
      - name: value
        offset: 8
        kind: int
`)

	registry, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, registry.Len())

	expr, ok := registry.Lookup(TypeTag(0x1000))
	require.True(t, ok)
	assert.Equal(t, "EXPR", expr.Name)
	assert.False(t, expr.Bare)
	require.Len(t, expr.Fields, 2)
	assert.Equal(t, KindString, expr.Fields[0].Kind)
	assert.Equal(t, uint64(8), expr.Fields[0].Offset)
	assert.Equal(t, KindArray, expr.Fields[1].Kind)
	assert.Equal(t, 2, expr.Fields[1].Count)
	assert.Equal(t, KindValue, expr.Fields[1].Elem)

	i64, ok := registry.Lookup(TypeTag(0x2000))
	require.True(t, ok)
	assert.True(t, i64.Bare)
}

func TestLoad_UnknownKind(t *testing.T) {
	path := writeLayoutFile(t, `
layouts:
  - tag: 0x1000
    name: EXPR
    fields:
      - offset: 8
        kind: tensor
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown field kind")
}

func TestLoad_DuplicateTag(t *testing.T) {
	path := writeLayoutFile(t, `
layouts:
  - tag: 0x1000
    name: EXPR
    fields:
      - offset: 8
        kind: int
  - tag: 0x1000
    name: OTHER
    fields:
      - offset: 8
        kind: int
`)

	_, err := Load(path)
	require.Error(t, err)

	var dup *DuplicateTagError
	assert.ErrorAs(t, err, &dup)
}

func TestLoad_ArrayWithoutElem(t *testing.T) {
	path := writeLayoutFile(t, `
layouts:
  - tag: 0x1000
    name: TUPLE
    fields:
      - offset: 8
        kind: array
        count: 4
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "elem")
}

func TestLoad_EmptyFile(t *testing.T) {
	path := writeLayoutFile(t, "layouts: []\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no layouts")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}
