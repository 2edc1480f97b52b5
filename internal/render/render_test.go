package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valscope/valscope/internal/layout"
	"github.com/valscope/valscope/internal/memory"
)

const (
	tagExpr   = layout.TypeTag(0x1000)
	tagInt    = layout.TypeTag(0x2000)
	tagPair   = layout.TypeTag(0x3000)
	tagSymbol = layout.TypeTag(0x4000)
)

// testRegistry registers a small layout set: an expression node, a bare
// integer leaf, a two-pointer pair, and a symbol.
func testRegistry(t *testing.T) *layout.Registry {
	t.Helper()
	registry := layout.NewRegistry()

	require.NoError(t, registry.Register(tagExpr, &layout.LayoutRule{
		Name: "EXPR",
		Fields: []layout.FieldDescriptor{
			{Name: "head", Offset: 8, Kind: layout.KindString},
			{Name: "args", Offset: 16, Kind: layout.KindArray, Count: 2, Elem: layout.KindValue},
		},
	}))

	require.NoError(t, registry.Register(tagInt, &layout.LayoutRule{
		Name: "INT64",
		Bare: true,
		Fields: []layout.FieldDescriptor{
			{Name: "value", Offset: 8, Kind: layout.KindInt},
		},
	}))

	require.NoError(t, registry.Register(tagPair, &layout.LayoutRule{
		Name: "PAIR",
		Fields: []layout.FieldDescriptor{
			{Name: "first", Offset: 8, Kind: layout.KindValue},
			{Name: "second", Offset: 16, Kind: layout.KindValue},
		},
	}))

	require.NoError(t, registry.Register(tagSymbol, &layout.LayoutRule{
		Name: "SYMBOL",
		Fields: []layout.FieldDescriptor{
			{Name: "name", Offset: 8, Kind: layout.KindString},
		},
	}))

	return registry
}

// putInt maps a bare integer value at addr.
func putInt(src *memory.MapSource, addr uint64, v uint64) {
	src.PutWord(addr, uint64(tagInt))
	src.PutWord(addr+8, v)
}

// putExpr maps an expression value at addr: a head string at strAddr and two
// argument pointers.
func putExpr(src *memory.MapSource, addr, strAddr uint64, head string, args [2]uint64) {
	src.PutWord(addr, uint64(tagExpr))
	src.PutWord(addr+8, strAddr)
	if strAddr != 0 {
		src.PutCString(strAddr, head)
	}
	src.PutWord(addr+16, args[0])
	src.PutWord(addr+24, args[1])
}

// putPair maps a pair value at addr pointing at first and second.
func putPair(src *memory.MapSource, addr, first, second uint64) {
	src.PutWord(addr, uint64(tagPair))
	src.PutWord(addr+8, first)
	src.PutWord(addr+16, second)
}

func TestRender_ExprExample(t *testing.T) {
	src := memory.NewMapSource()
	putInt(src, 0x300, 1)
	putInt(src, 0x400, 2)
	putExpr(src, 0x100, 0x200, "call", [2]uint64{0x300, 0x400})

	r := New(testRegistry(t), src, Options{})

	out, err := r.Render(0x100, DefaultDepthBudget)
	require.NoError(t, err)
	assert.Equal(t, `EXPR("call", [1, 2])`, out)
}

func TestRender_ContainsDisplayName(t *testing.T) {
	src := memory.NewMapSource()
	src.PutWord(0x100, uint64(tagSymbol))
	src.PutWord(0x108, 0x200)
	src.PutCString(0x200, "pi")

	r := New(testRegistry(t), src, Options{})

	out, err := r.Render(0x100, DefaultDepthBudget)
	require.NoError(t, err)
	assert.Contains(t, out, "SYMBOL")
	assert.Equal(t, `SYMBOL("pi")`, out)
}

func TestRender_UnregisteredTag(t *testing.T) {
	src := memory.NewMapSource()
	src.PutWord(0x500, 0xbeef) // tag nobody registered
	src.PutWord(0x508, 7)

	r := New(testRegistry(t), src, Options{})

	out, err := r.Render(0x500, DefaultDepthBudget)
	require.NoError(t, err)
	assert.Equal(t, "<raw@0x500>", out)
}

func TestRender_SelfCycle(t *testing.T) {
	src := memory.NewMapSource()
	putPair(src, 0x100, 0x100, 0)

	r := New(testRegistry(t), src, Options{})

	out, err := r.Render(0x100, DefaultDepthBudget)
	require.NoError(t, err)
	assert.Equal(t, "PAIR(<cycle>, 0x0)", out)
}

func TestRender_MutualCycle(t *testing.T) {
	src := memory.NewMapSource()
	putPair(src, 0x100, 0x200, 0)
	putPair(src, 0x200, 0x100, 0)

	r := New(testRegistry(t), src, Options{})

	out, err := r.Render(0x100, DefaultDepthBudget)
	require.NoError(t, err)
	assert.Equal(t, "PAIR(PAIR(<cycle>, 0x0), 0x0)", out)
}

func TestRender_SharedValueIsNotACycle(t *testing.T) {
	// The same value referenced twice from sibling fields is a DAG, not a
	// cycle; both references must expand.
	src := memory.NewMapSource()
	putInt(src, 0x300, 5)
	putPair(src, 0x100, 0x300, 0x300)

	r := New(testRegistry(t), src, Options{})

	out, err := r.Render(0x100, DefaultDepthBudget)
	require.NoError(t, err)
	assert.Equal(t, "PAIR(5, 5)", out)
}

func TestRender_DepthBudgetTruncation(t *testing.T) {
	src := memory.NewMapSource()
	putPair(src, 0x100, 0x200, 0)
	putPair(src, 0x200, 0x300, 0)
	putPair(src, 0x300, 0x400, 0)
	putInt(src, 0x400, 9)

	r := New(testRegistry(t), src, Options{})

	// Budget 2: levels one and two render, the third truncates.
	out, err := r.Render(0x100, 2)
	require.NoError(t, err)
	assert.Equal(t, "PAIR(PAIR(…, 0x0), 0x0)", out)

	// Budget 4 reaches the leaf.
	out, err = r.Render(0x100, 4)
	require.NoError(t, err)
	assert.Equal(t, "PAIR(PAIR(PAIR(9, 0x0), 0x0), 0x0)", out)
}

func TestRender_UnreadableFieldContained(t *testing.T) {
	src := memory.NewMapSource()
	putInt(src, 0x300, 1)
	putInt(src, 0x400, 2)
	putExpr(src, 0x100, 0x200, "call", [2]uint64{0x300, 0x400})
	// Repoint the head string at memory that was never mapped.
	src.PutWord(0x108, 0x900)

	r := New(testRegistry(t), src, Options{})

	out, err := r.Render(0x100, DefaultDepthBudget)
	require.NoError(t, err)
	assert.Equal(t, "EXPR(<unreadable@0x900>, [1, 2])", out)
}

func TestRender_UnreadableNestedValueContained(t *testing.T) {
	src := memory.NewMapSource()
	putInt(src, 0x300, 1)
	putExpr(src, 0x100, 0x200, "call", [2]uint64{0x300, 0x900})

	r := New(testRegistry(t), src, Options{})

	out, err := r.Render(0x100, DefaultDepthBudget)
	require.NoError(t, err)
	assert.Equal(t, `EXPR("call", [1, <unreadable@0x900>])`, out)
}

func TestRender_NullNestedPointer(t *testing.T) {
	src := memory.NewMapSource()
	putPair(src, 0x100, 0, 0)

	r := New(testRegistry(t), src, Options{})

	out, err := r.Render(0x100, DefaultDepthBudget)
	require.NoError(t, err)
	assert.Equal(t, "PAIR(0x0, 0x0)", out)
}

func TestRender_BareLeaf(t *testing.T) {
	src := memory.NewMapSource()
	putInt(src, 0x300, 42)

	r := New(testRegistry(t), src, Options{})

	out, err := r.Render(0x300, DefaultDepthBudget)
	require.NoError(t, err)
	assert.Equal(t, "42", out)
}

func TestRender_UnreadableRootIsError(t *testing.T) {
	r := New(testRegistry(t), memory.NewMapSource(), Options{})

	_, err := r.Render(0x100, DefaultDepthBudget)
	require.Error(t, err)
	assert.True(t, memory.IsUnreadable(err))
}

func TestRender_NullAddressIsError(t *testing.T) {
	r := New(testRegistry(t), memory.NewMapSource(), Options{})

	_, err := r.Render(0, DefaultDepthBudget)
	assert.Error(t, err)
}

func TestRenderAs_MatchesRenderForCorrectTag(t *testing.T) {
	src := memory.NewMapSource()
	putInt(src, 0x300, 1)
	putInt(src, 0x400, 2)
	putExpr(src, 0x100, 0x200, "call", [2]uint64{0x300, 0x400})

	r := New(testRegistry(t), src, Options{})

	generic, err := r.Render(0x100, DefaultDepthBudget)
	require.NoError(t, err)

	cast, err := r.RenderAs(0x100, tagExpr, DefaultDepthBudget)
	require.NoError(t, err)

	assert.Equal(t, generic, cast)
}

func TestRenderAs_IgnoresHeaderTag(t *testing.T) {
	src := memory.NewMapSource()
	// Header says INT64, but we force the SYMBOL view.
	src.PutWord(0x100, uint64(tagInt))
	src.PutWord(0x108, 0x200)
	src.PutCString(0x200, "mislabeled")

	r := New(testRegistry(t), src, Options{})

	out, err := r.RenderAs(0x100, tagSymbol, DefaultDepthBudget)
	require.NoError(t, err)
	assert.Equal(t, `SYMBOL("mislabeled")`, out)
}

func TestRenderAs_UnknownTagIsError(t *testing.T) {
	src := memory.NewMapSource()
	putInt(src, 0x300, 1)

	r := New(testRegistry(t), src, Options{})

	_, err := r.RenderAs(0x300, layout.TypeTag(0xbeef), DefaultDepthBudget)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no layout registered")
}

func TestRender_StringEndingAtUnmappedPage(t *testing.T) {
	// A terminator flush against the end of mapped memory must still decode,
	// even though a whole-chunk read past it fails.
	src := memory.NewMapSource()
	src.PutWord(0x100, uint64(tagSymbol))
	src.PutWord(0x108, 0x200)
	src.PutCString(0x200, "x") // maps exactly 0x200..0x201

	r := New(testRegistry(t), src, Options{})

	out, err := r.Render(0x100, DefaultDepthBudget)
	require.NoError(t, err)
	assert.Equal(t, `SYMBOL("x")`, out)
}

func TestRender_UnterminatedStringIsContained(t *testing.T) {
	src := memory.NewMapSource()
	src.PutWord(0x100, uint64(tagSymbol))
	src.PutWord(0x108, 0x200)
	src.PutBytes(0x200, []byte("abc")) // no terminator before unmapped memory

	r := New(testRegistry(t), src, Options{})

	out, err := r.Render(0x100, DefaultDepthBudget)
	require.NoError(t, err)
	assert.Equal(t, "SYMBOL(<unreadable@0x200>)", out)
}

func TestRender_ArrayOfInts(t *testing.T) {
	registry := layout.NewRegistry()
	require.NoError(t, registry.Register(layout.TypeTag(0x5000), &layout.LayoutRule{
		Name: "VEC",
		Fields: []layout.FieldDescriptor{
			{Name: "items", Offset: 8, Kind: layout.KindArray, Count: 3, Elem: layout.KindInt},
		},
	}))

	src := memory.NewMapSource()
	src.PutWord(0x100, 0x5000)
	src.PutWord(0x108, 10)
	src.PutWord(0x110, 20)
	src.PutWord(0x118, 30)

	r := New(registry, src, Options{})

	out, err := r.Render(0x100, DefaultDepthBudget)
	require.NoError(t, err)
	assert.Equal(t, "VEC([10, 20, 30])", out)
}

func TestRender_NegativeInt(t *testing.T) {
	src := memory.NewMapSource()
	putInt(src, 0x300, ^uint64(0)) // -1 two's complement

	r := New(testRegistry(t), src, Options{})

	out, err := r.Render(0x300, DefaultDepthBudget)
	require.NoError(t, err)
	assert.Equal(t, "-1", out)
}

func TestRender_DefaultBudgetApplied(t *testing.T) {
	// A zero budget request falls back to the framework default rather than
	// truncating everything.
	src := memory.NewMapSource()
	putInt(src, 0x300, 7)
	putPair(src, 0x100, 0x300, 0)

	r := New(testRegistry(t), src, Options{})

	out, err := r.Render(0x100, 0)
	require.NoError(t, err)
	assert.Equal(t, "PAIR(7, 0x0)", out)
}

func TestFormat_DeterministicFieldOrder(t *testing.T) {
	// Fields render in declaration order even when memory order differs.
	registry := layout.NewRegistry()
	require.NoError(t, registry.Register(layout.TypeTag(0x6000), &layout.LayoutRule{
		Name: "SWAPPED",
		Fields: []layout.FieldDescriptor{
			{Name: "second_in_memory", Offset: 16, Kind: layout.KindInt},
			{Name: "first_in_memory", Offset: 8, Kind: layout.KindInt},
		},
	}))

	src := memory.NewMapSource()
	src.PutWord(0x100, 0x6000)
	src.PutWord(0x108, 111)
	src.PutWord(0x110, 222)

	r := New(registry, src, Options{})

	out, err := r.Render(0x100, DefaultDepthBudget)
	require.NoError(t, err)
	assert.Equal(t, "SWAPPED(222, 111)", out)
}

func TestRender_DeepChainWithinBudget(t *testing.T) {
	registry := testRegistry(t)
	src := memory.NewMapSource()

	// Chain of 31 pairs ending in an int: inside the default budget of 32.
	base := uint64(0x1_0000)
	for i := 0; i < 31; i++ {
		putPair(src, base+uint64(i)*0x100, base+uint64(i+1)*0x100, 0)
	}
	putInt(src, base+31*0x100, 3)

	r := New(registry, src, Options{})

	out, err := r.Render(base, DefaultDepthBudget)
	require.NoError(t, err)
	assert.Contains(t, out, "3")
	assert.NotContains(t, out, Truncated)
}
