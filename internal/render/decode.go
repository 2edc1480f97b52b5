// Package render decodes tagged values out of a debuggee's memory and formats
// them for display. Decoding is a pure read: it never mutates target memory,
// and every decode failure below the root degrades to an inline token instead
// of aborting the rendering.
package render

import (
	"fmt"

	"github.com/valscope/valscope/internal/layout"
	"github.com/valscope/valscope/internal/memory"
)

// DefaultDepthBudget bounds recursion when the caller does not supply a limit.
const DefaultDepthBudget = 32

// maxStringLen caps how many bytes a string field dereference will read before
// giving up on finding a terminator.
const maxStringLen = 4096

// stringChunk is the read granularity for terminator scans; target reads may
// be RPC round-trips, so single-byte reads are a last resort.
const stringChunk = 64

// NodeKind discriminates decoded tree nodes.
type NodeKind int

const (
	// NodeValue is a tagged value decoded through a registered layout.
	NodeValue NodeKind = iota
	// NodeInt is a raw integer field.
	NodeInt
	// NodeString is a dereferenced string field.
	NodeString
	// NodeArray is an inline array field.
	NodeArray
	// NodeRaw is a value whose tag has no registered layout.
	NodeRaw
	// NodeNull is a null nested pointer.
	NodeNull
	// NodeCycle marks a nested pointer back to an ancestor on the current
	// decode path.
	NodeCycle
	// NodeTruncated marks a value cut off by the depth budget.
	NodeTruncated
	// NodeErr marks a field or sub-value whose memory could not be read.
	NodeErr
)

// Node is one node of a DecodedValue tree. The tree is transient: it is built
// fresh per render request, formatted, and discarded.
type Node struct {
	Kind NodeKind

	// Addr is the target address this node was decoded from (or, for NodeErr
	// and NodeRaw, the address that failed or had no layout).
	Addr uint64

	// Tag and Name are set for NodeValue; Name is the layout's display name.
	Tag  layout.TypeTag
	Name string

	// Bare carries the layout's bare flag through to formatting.
	Bare bool

	Int int64  // NodeInt
	Str string // NodeString

	// Fields holds child nodes for NodeValue and NodeArray.
	Fields []*Node
}

// Options configures a Renderer. The zero value is usable.
type Options struct {
	// Colorize enables ANSI color in formatted output.
	Colorize bool
}

// Renderer decodes values from a memory source using a layout registry.
type Renderer struct {
	registry *layout.Registry
	source   memory.Source
	opts     Options
}

// New creates a renderer over the given registry and memory source.
func New(registry *layout.Registry, source memory.Source, opts Options) *Renderer {
	return &Renderer{
		registry: registry,
		source:   source,
		opts:     opts,
	}
}

// Decode reads the tagged value at addr into a transient Node tree. Only an
// unreadable root header is an error; failures below the root are embedded as
// NodeErr nodes.
func (r *Renderer) Decode(addr uint64, depthBudget int) (*Node, error) {
	if addr == 0 {
		return nil, fmt.Errorf("cannot decode null address")
	}
	if depthBudget <= 0 {
		depthBudget = DefaultDepthBudget
	}

	tag, err := memory.ReadWord(r.source, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to read value header: %w", err)
	}

	path := map[uint64]bool{addr: true}
	return r.decodeTagged(addr, layout.TypeTag(tag), depthBudget, path), nil
}

// DecodeAs decodes the value at addr through a specific layout, ignoring the
// tag stored in its header. This is the explicit-cast view used for mis-tagged
// or partially initialized memory.
func (r *Renderer) DecodeAs(addr uint64, tag layout.TypeTag, depthBudget int) (*Node, error) {
	if addr == 0 {
		return nil, fmt.Errorf("cannot decode null address")
	}
	if depthBudget <= 0 {
		depthBudget = DefaultDepthBudget
	}

	rule, ok := r.registry.Lookup(tag)
	if !ok {
		return nil, fmt.Errorf("no layout registered for tag %s", tag)
	}

	path := map[uint64]bool{addr: true}
	return r.decodeFields(addr, tag, rule, depthBudget, path), nil
}

// decodeTagged resolves a tag and decodes the value at addr. Unknown tags
// degrade to NodeRaw so types the registry was never taught still display.
func (r *Renderer) decodeTagged(addr uint64, tag layout.TypeTag, depth int, path map[uint64]bool) *Node {
	rule, ok := r.registry.Lookup(tag)
	if !ok {
		return &Node{Kind: NodeRaw, Addr: addr, Tag: tag}
	}
	return r.decodeFields(addr, tag, rule, depth, path)
}

// decodeFields decodes every field of a rule in declaration order. A field
// failure is contained to that field's node; siblings still decode.
func (r *Renderer) decodeFields(addr uint64, tag layout.TypeTag, rule *layout.LayoutRule, depth int, path map[uint64]bool) *Node {
	node := &Node{
		Kind:   NodeValue,
		Addr:   addr,
		Tag:    tag,
		Name:   rule.Name,
		Bare:   rule.Bare,
		Fields: make([]*Node, 0, len(rule.Fields)),
	}

	for _, fd := range rule.Fields {
		node.Fields = append(node.Fields, r.decodeField(addr, fd, depth, path))
	}

	return node
}

func (r *Renderer) decodeField(base uint64, fd layout.FieldDescriptor, depth int, path map[uint64]bool) *Node {
	fieldAddr := base + fd.Offset

	if fd.Kind == layout.KindArray {
		elems := make([]*Node, 0, fd.Count)
		for i := 0; i < fd.Count; i++ {
			elemAddr := fieldAddr + uint64(i)*memory.WordSize
			elems = append(elems, r.decodeScalar(elemAddr, fd.Elem, depth, path))
		}
		return &Node{Kind: NodeArray, Addr: fieldAddr, Fields: elems}
	}

	return r.decodeScalar(fieldAddr, fd.Kind, depth, path)
}

// decodeScalar decodes a single non-array slot at addr.
func (r *Renderer) decodeScalar(addr uint64, kind layout.FieldKind, depth int, path map[uint64]bool) *Node {
	switch kind {
	case layout.KindInt:
		word, err := memory.ReadWord(r.source, addr)
		if err != nil {
			return &Node{Kind: NodeErr, Addr: addr}
		}
		return &Node{Kind: NodeInt, Addr: addr, Int: int64(word)}

	case layout.KindString:
		ptr, err := memory.ReadWord(r.source, addr)
		if err != nil {
			return &Node{Kind: NodeErr, Addr: addr}
		}
		if ptr == 0 {
			return &Node{Kind: NodeNull, Addr: addr}
		}
		s, err := readCString(r.source, ptr)
		if err != nil {
			return &Node{Kind: NodeErr, Addr: ptr}
		}
		return &Node{Kind: NodeString, Addr: ptr, Str: s}

	case layout.KindValue:
		ptr, err := memory.ReadWord(r.source, addr)
		if err != nil {
			return &Node{Kind: NodeErr, Addr: addr}
		}
		if ptr == 0 {
			return &Node{Kind: NodeNull, Addr: addr}
		}
		if path[ptr] {
			return &Node{Kind: NodeCycle, Addr: ptr}
		}
		if depth-1 <= 0 {
			return &Node{Kind: NodeTruncated, Addr: ptr}
		}

		tag, err := memory.ReadWord(r.source, ptr)
		if err != nil {
			return &Node{Kind: NodeErr, Addr: ptr}
		}

		path[ptr] = true
		child := r.decodeTagged(ptr, layout.TypeTag(tag), depth-1, path)
		delete(path, ptr)
		return child

	default:
		return &Node{Kind: NodeErr, Addr: addr}
	}
}

// readCString reads a NUL-terminated byte sequence starting at addr. It scans
// in chunks and falls back to byte-wise reads when a chunk straddles the end
// of a mapped region, so a string ending flush against an unmapped page still
// decodes.
func readCString(src memory.Source, addr uint64) (string, error) {
	out := make([]byte, 0, stringChunk)

	for len(out) < maxStringLen {
		n := stringChunk
		if rem := maxStringLen - len(out); rem < n {
			n = rem
		}

		chunk, err := src.ReadAt(addr+uint64(len(out)), n)
		if err != nil {
			chunk, err = readBytewise(src, addr+uint64(len(out)), n)
			if err != nil && len(chunk) == 0 {
				if len(out) == 0 {
					return "", err
				}
				// Ran off the end of mapped memory without a terminator.
				return "", &memory.UnreadableError{Addr: addr + uint64(len(out)), Len: 1}
			}
		}

		for i, c := range chunk {
			if c == 0 {
				return string(append(out, chunk[:i]...)), nil
			}
		}
		out = append(out, chunk...)

		if len(chunk) < n {
			return "", &memory.UnreadableError{Addr: addr + uint64(len(out)), Len: 1}
		}
	}

	return "", fmt.Errorf("string at 0x%x exceeds %d bytes without terminator", addr, maxStringLen)
}

// readBytewise reads up to n bytes one at a time, returning what it got
// before the first failure.
func readBytewise(src memory.Source, addr uint64, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for i := 0; i < n; i++ {
		b, err := src.ReadAt(addr+uint64(i), 1)
		if err != nil {
			return out, err
		}
		out = append(out, b[0])
	}
	return out, nil
}
